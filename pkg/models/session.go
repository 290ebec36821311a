package models

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionRunning   SessionStatus = "RUNNING"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionFailed    SessionStatus = "FAILED"
)

// IsTerminal reports whether status is one of the terminal states.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// Session is a single agent run: identity, task, and lifecycle state.
//
// Context and Plan are opaque serialized blobs owned exclusively by the
// Context Store and the loop's planner respectively; the session row
// never interprets their contents. Writers must reload by ID and check
// Version before saving (optimistic concurrency) — see internal/sessions.
type Session struct {
	ID              string        `json:"id"`
	Owner           *string       `json:"owner,omitempty"`
	TaskDescription string        `json:"task_description"`
	Status          SessionStatus `json:"status"`
	IterationCount  int           `json:"iteration_count"`
	Context         string        `json:"context,omitempty"`
	Plan            string        `json:"plan,omitempty"`
	Result          string        `json:"result,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	Version         int64         `json:"version"`
	CreateTime      time.Time     `json:"create_time"`
	UpdateTime      time.Time     `json:"update_time"`
}

// OwnerID returns the owner user id, or "" if the session is unowned.
func (s *Session) OwnerID() string {
	if s == nil || s.Owner == nil {
		return ""
	}
	return *s.Owner
}
