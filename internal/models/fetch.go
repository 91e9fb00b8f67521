package models

// FetchResult is one page from the remote fetcher, already normalized into
// Entity records with comparable timestamps.
type FetchResult struct {
	Items        []Entity `json:"items"`
	HasMore      bool     `json:"has_more"`
	TotalResults int      `json:"total_results"`
}
