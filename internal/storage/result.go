package storage

import (
	"time"

	"miszen/internal/zen"
)

// StoredResult is a command result as persisted by the result repositories.
type StoredResult struct {
	EventID       string        `json:"event_id"`
	Command       string        `json:"command"`
	Success       bool          `json:"success"`
	Result        string        `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	ExecutedAt    time.Time     `json:"executed_at"`
}

// NewStoredResult converts a command result produced while handling eventID.
func NewStoredResult(eventID string, res zen.CommandResult) *StoredResult {
	at := res.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	return &StoredResult{
		EventID:       eventID,
		Command:       res.Command,
		Success:       res.Success,
		Result:        string(res.Result),
		Error:         res.Error,
		ExecutionTime: res.ExecutionTime,
		ExecutedAt:    at,
	}
}
