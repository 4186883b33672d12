package api

import "fmt"

// maxLimitPerRun caps manual sync triggers so an admin call cannot start an
// unbounded batch.
const maxLimitPerRun = 10000

// SyncRequest is the body of POST /api/v1/sync.
// An empty AccountID means all active accounts.
type SyncRequest struct {
	AccountID string `json:"accountId"`
	Limit     int    `json:"limit"`
}

// Validate checks the request and applies the default limit.
func (r *SyncRequest) Validate() error {
	if r.Limit == 0 {
		r.Limit = 500
	}
	if r.Limit < 0 {
		return fmt.Errorf("limit must be positive")
	}
	if r.Limit > maxLimitPerRun {
		return fmt.Errorf("limit must not exceed %d", maxLimitPerRun)
	}
	return nil
}
