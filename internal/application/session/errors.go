package session

import "errors"

var (
	// ErrSessionNotFound is returned for an unknown session ID
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when operating on a closed session
	ErrSessionClosed = errors.New("session is closed")
	// ErrTooManySessions is returned when the manager is at capacity
	ErrTooManySessions = errors.New("too many open sessions")
	// ErrCorruptRecord is returned when a persisted transition cannot be decoded
	ErrCorruptRecord = errors.New("corrupt transition record")
)
