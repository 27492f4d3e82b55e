package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/ai-interview/internal/domain/entity"
)

// ErrNotFound is returned by repositories when a row does not exist
var ErrNotFound = errors.New("record not found")

// SessionRepository defines persistence operations for Session
type SessionRepository interface {
	Create(ctx context.Context, session *entity.Session) error
	GetByID(ctx context.Context, id string) (*entity.Session, error)
	List(ctx context.Context, limit, offset int) ([]*entity.Session, error)
	UpdateState(ctx context.Context, id, state string) error
	MarkEnded(ctx context.Context, id string, endedAt time.Time) error
}

// TransitionRepository defines persistence operations for TransitionRecord
type TransitionRepository interface {
	Create(ctx context.Context, record *entity.TransitionRecord) error
	ListBySession(ctx context.Context, sessionID string) ([]*entity.TransitionRecord, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type sessionKey struct{}

// WithSessionID tags ctx with the interview session a unit of work belongs to
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionIDFromContext returns the session tagged by WithSessionID, or ""
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
