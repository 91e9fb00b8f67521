package models

import "time"

// SyncTracker keeps per-module bookkeeping: when we last tried, how far we
// got, and how it went. One row per module, created on the first attempt,
// never deleted.
type SyncTracker struct {
	ID                 int64      `json:"id"`
	Module             string     `json:"module"`
	LastSyncAt         *time.Time `json:"last_sync_at"`
	LastSyncedBatchMax *time.Time `json:"last_synced_batch_max"`
	Status             string     `json:"status"`
	Remark             string     `json:"remark"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SyncJob is the persistent audit record of one enqueued unit of work.
// The ID is generated at publish time and correlates queue messages,
// tracker updates and failed-job records.
type SyncJob struct {
	ID          string     `json:"id"`
	Module      string     `json:"module"`
	Type        string     `json:"type"`
	Params      string     `json:"params"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// FailedJob is written when a job exhausts its retries. It carries the full
// message payload plus error and stack so an operator can inspect and retry.
type FailedJob struct {
	ID        int64      `json:"id"`
	JobID     string     `json:"job_id"`
	Module    string     `json:"module"`
	Payload   string     `json:"payload"`
	Error     string     `json:"error"`
	Stack     string     `json:"stack"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
	RetriedAt *time.Time `json:"retried_at"`
	Resolved  bool       `json:"resolved"`
}

// SyncParams is the opaque params blob carried inside a job message.
type SyncParams struct {
	Since    *time.Time `json:"since,omitempty"`
	Page     int        `json:"page,omitempty"`
	PageSize int        `json:"page_size,omitempty"`
	RemoteID string     `json:"remote_id,omitempty"`
}

// JobMessage is the queue wire format. Attempts counts completed failures;
// the broker-side copy is authoritative, the sync_jobs row mirrors it.
type JobMessage struct {
	JobID     string     `json:"job_id"`
	Module    string     `json:"module"`
	Type      string     `json:"type"`
	Params    SyncParams `json:"params"`
	Attempts  int        `json:"attempts"`
	Timestamp time.Time  `json:"timestamp"`
	RetriedAt *time.Time `json:"retried_at,omitempty"`
	FailedAt  *time.Time `json:"failed_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}
