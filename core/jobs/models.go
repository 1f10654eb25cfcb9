package jobs

import (
	"encoding/json"
	"time"
)

// Status is a job's lifecycle state. Jobs start QUEUED, the owning poller
// moves them through RUNNING to exactly one terminal state.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition may leave the state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Progress counts processed work units against a known total.
type Progress struct {
	Processed int64 `json:"processed"`
	Total     int64 `json:"total"`
}

// Job is a durable unit of background work. The row is the source of
// truth; the broker entry is only a work signal. Detail carries
// kind-specific result fields under one place so every kind shares the
// same envelope.
type Job struct {
	JobID        string          `json:"jobId"`
	TeamID       string          `json:"teamId"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       Status          `json:"status"`
	QueuedAt     time.Time       `json:"queuedAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	Progress     Progress        `json:"progress"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Detail       map[string]any  `json:"detail,omitempty"`
}

// Task is the broker wire envelope. Unknown extra fields are ignored on
// decode so older consumers stay forward-compatible.
type Task struct {
	JobID   string          `json:"jobId"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
