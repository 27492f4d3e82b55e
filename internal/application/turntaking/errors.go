package turntaking

import "errors"

var (
	// ErrUnsupportedEvent is returned for event types the controller does not map
	ErrUnsupportedEvent = errors.New("unsupported event type")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("controller is closed")
	// ErrNilEvent is returned when HandleEvent receives nil
	ErrNilEvent = errors.New("event cannot be nil")
)
