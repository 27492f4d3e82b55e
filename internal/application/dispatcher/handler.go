package dispatcher

import (
	"context"
	"errors"

	"github.com/garyjia/ai-interview/internal/domain/event"
)

var (
	// ErrClosed is returned when dispatching on a closed dispatcher
	ErrClosed = errors.New("dispatcher is closed")
	// ErrAlreadyClosed is returned by a second Close
	ErrAlreadyClosed = errors.New("dispatcher already closed")
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
}
