package entity

import "time"

// Session statuses
const (
	SessionStatusOpen   = "OPEN"
	SessionStatusClosed = "CLOSED"
)

// Session is the persisted record of one interview session
type Session struct {
	ID           string     `json:"id"`
	CandidateRef string     `json:"candidate_ref,omitempty"`
	State        string     `json:"state"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// TransitionRecord is one persisted state change of a session
type TransitionRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Seq        uint64    `json:"seq"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	Forced     bool      `json:"forced"`
	Source     string    `json:"source,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Metadata   string    `json:"metadata,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}
