package models

import (
	"encoding/json"
	"time"
)

// Entity is one synced ERP record (customer, vendor, ...).
// RemoteID is NetSuite's internal id and the join key between worlds;
// RawPayload keeps the full remote representation for fields we don't model.
type Entity struct {
	LocalID          int64           `json:"local_id"`
	RemoteID         string          `json:"remote_id"`
	DisplayName      string          `json:"display_name"`
	Email            string          `json:"email"`
	Phone            string          `json:"phone"`
	RawPayload       json.RawMessage `json:"raw_payload,omitempty"`
	RemoteModifiedAt *time.Time      `json:"remote_modified_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	IsDeleted        bool            `json:"is_deleted"`
}

// NewerThan reports whether the incoming record carries a strictly newer
// remote timestamp than the stored one. A missing stored timestamp is
// treated as "always older", a missing incoming one as "not newer".
func (e *Entity) NewerThan(stored *Entity) bool {
	if e.RemoteModifiedAt == nil {
		return false
	}
	if stored.RemoteModifiedAt == nil {
		return true
	}
	return e.RemoteModifiedAt.After(*stored.RemoteModifiedAt)
}

// EntityFilter narrows a paged entity listing.
type EntityFilter struct {
	RemoteID      string     `json:"remote_id,omitempty"`
	ModifiedSince *time.Time `json:"modified_since,omitempty"`
}

// Pagination describes one page of a listing result.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	PageCount  int `json:"page_count"`
}

// EntityPage is the result of a paged entity read.
type EntityPage struct {
	Items      []Entity   `json:"items"`
	Pagination Pagination `json:"pagination"`
}
