package session

import (
	"context"
	"sync"
	"time"

	"github.com/garyjia/ai-interview/internal/application/port"
	"github.com/garyjia/ai-interview/internal/domain/entity"
)

type mockSessionRepo struct {
	mu             sync.Mutex
	createFunc     func(ctx context.Context, session *entity.Session) error
	updateStates   []string
	ended          map[string]time.Time
	updateStateErr error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *entity.Session) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) GetByID(ctx context.Context, id string) (*entity.Session, error) {
	return &entity.Session{ID: id}, nil
}

func (m *mockSessionRepo) List(ctx context.Context, limit, offset int) ([]*entity.Session, error) {
	return nil, nil
}

func (m *mockSessionRepo) UpdateState(ctx context.Context, id, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateStateErr != nil {
		return m.updateStateErr
	}
	m.updateStates = append(m.updateStates, state)
	return nil
}

func (m *mockSessionRepo) MarkEnded(ctx context.Context, id string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended == nil {
		m.ended = make(map[string]time.Time)
	}
	m.ended[id] = endedAt
	return nil
}

func (m *mockSessionRepo) states() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.updateStates...)
}

type mockTransitionRepo struct {
	mu      sync.Mutex
	records []*entity.TransitionRecord
}

func (m *mockTransitionRepo) Create(ctx context.Context, record *entity.TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.ID = int64(len(m.records) + 1)
	m.records = append(m.records, record)
	return nil
}

func (m *mockTransitionRepo) ListBySession(ctx context.Context, sessionID string) ([]*entity.TransitionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.TransitionRecord
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockTxManager struct {
	calls      int
	sessionIDs []string
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	m.sessionIDs = append(m.sessionIDs, port.SessionIDFromContext(ctx))
	return fn(ctx)
}

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}
