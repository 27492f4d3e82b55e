package conversation

import "errors"

var (
	// ErrInvalidState is returned (or panicked with) when a value is not a conversation state
	ErrInvalidState = errors.New("invalid conversation state")

	// ErrInvalidPolicy is returned when a policy builder produces an inconsistent table
	ErrInvalidPolicy = errors.New("invalid transition policy")
)
