package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/ai-interview/internal/application/dispatcher"
	"github.com/garyjia/ai-interview/internal/application/port"
	"github.com/garyjia/ai-interview/internal/application/turntaking"
	"github.com/garyjia/ai-interview/internal/domain/conversation"
	"github.com/garyjia/ai-interview/internal/domain/entity"
	"github.com/garyjia/ai-interview/internal/domain/event"
	"github.com/google/uuid"
)

// Config controls how sessions are built
type Config struct {
	InitialState    conversation.State
	HistoryCapacity int
	MaxSessions     int
	TurnTaking      turntaking.Config
}

// DefaultConfig returns the manager defaults
func DefaultConfig() Config {
	return Config{
		InitialState:    conversation.StateIdle,
		HistoryCapacity: conversation.DefaultHistoryCapacity,
		TurnTaking:      turntaking.DefaultConfig(),
	}
}

// CreateRequest carries optional attributes of a new session
type CreateRequest struct {
	CandidateRef string `json:"candidate_ref"`
}

// Manager owns the live sessions of the process
type Manager struct {
	cfg        Config
	policy     *conversation.Policy
	repo       port.SessionRepository
	dispatcher dispatcher.Dispatcher
	scheduler  turntaking.Scheduler
	logger     Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	// reserved counts creates that passed the limit check but are not yet live
	reserved int
}

// ManagerOption configures the Manager
type ManagerOption func(*Manager)

// WithRepository persists session rows
func WithRepository(repo port.SessionRepository) ManagerOption {
	return func(m *Manager) {
		m.repo = repo
	}
}

// WithDispatcher publishes state changes as domain events
func WithDispatcher(d dispatcher.Dispatcher) ManagerOption {
	return func(m *Manager) {
		m.dispatcher = d
	}
}

// WithScheduler sets the timer source for every controller
func WithScheduler(s turntaking.Scheduler) ManagerOption {
	return func(m *Manager) {
		m.scheduler = s
	}
}

// WithPolicy replaces the default transition policy
func WithPolicy(p *conversation.Policy) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.policy = p
		}
	}
}

// WithLogger sets the manager logger
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a session manager
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	if !cfg.InitialState.IsValid() {
		cfg.InitialState = conversation.StateIdle
	}

	m := &Manager{
		cfg:       cfg,
		policy:    conversation.DefaultPolicy(),
		scheduler: turntaking.SystemScheduler(),
		sessions:  make(map[string]*Session),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Create opens a new session with its own machine and controller
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if err := m.reserve(); err != nil {
		return nil, err
	}
	inserted := false
	defer func() {
		if !inserted {
			m.release()
		}
	}()

	id := uuid.NewString()

	if m.repo != nil {
		if err := m.repo.Create(ctx, &entity.Session{
			ID:           id,
			CandidateRef: req.CandidateRef,
			State:        m.cfg.InitialState.String(),
			Status:       entity.SessionStatusOpen,
		}); err != nil {
			return nil, fmt.Errorf("failed to persist session: %w", err)
		}
	}

	machineOpts := []conversation.Option{
		conversation.WithPolicy(m.policy),
		conversation.WithHistoryCapacity(m.cfg.HistoryCapacity),
		conversation.WithID(id),
	}
	if m.logger != nil {
		machineOpts = append(machineOpts, conversation.WithLogger(m.logger))
	}
	machine := conversation.NewMachine(m.cfg.InitialState, machineOpts...)

	controllerOpts := []turntaking.Option{
		turntaking.WithScheduler(m.scheduler),
		turntaking.WithSessionID(id),
	}
	if m.logger != nil {
		controllerOpts = append(controllerOpts, turntaking.WithLogger(m.logger))
	}
	controller := turntaking.NewController(machine, m.cfg.TurnTaking, controllerOpts...)

	s := newSession(id, req.CandidateRef, machine, controller, m.logger)
	if m.dispatcher != nil {
		s.detach = append(s.detach, machine.Subscribe(m.publisher(id)))
	}

	m.mu.Lock()
	m.reserved--
	m.sessions[id] = s
	m.mu.Unlock()
	inserted = true

	if m.logger != nil {
		m.logger.Info("Session created",
			"session_id", id,
			"candidate_ref", req.CandidateRef,
			"state", machine.State(),
		)
	}
	return s, nil
}

// reserve claims a slot under MaxSessions for a create in progress
func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxSessions > 0 && len(m.sessions)+m.reserved >= m.cfg.MaxSessions {
		return fmt.Errorf("%w: limit %d", ErrTooManySessions, m.cfg.MaxSessions)
	}
	m.reserved++
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.reserved--
	m.mu.Unlock()
}

// publisher turns transitions into conversation.state_changed events
func (m *Manager) publisher(sessionID string) conversation.Listener {
	return func(t conversation.Transition) {
		m.dispatcher.DispatchAsync(context.Background(), StateChangedEvent(sessionID, t))
	}
}

// StateChangedEvent builds the domain event describing t
func StateChangedEvent(sessionID string, t conversation.Transition) *event.Event {
	return event.NewEvent(event.TypeStateChanged, sessionID, map[string]interface{}{
		event.PayloadSeq:       t.Seq,
		event.PayloadFrom:      t.From.String(),
		event.PayloadTo:        t.To.String(),
		event.PayloadForced:    t.Forced(),
		event.PayloadTimestamp: t.Timestamp,
		event.PayloadMetadata:  map[string]interface{}(t.Metadata()),
	})
}

// Get returns a live session
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns live sessions, oldest first
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// Policy returns the transition policy every session is built with
func (m *Manager) Policy() *conversation.Policy {
	return m.policy
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close tears a session down and forgets it
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if !s.close() {
		return nil
	}

	final := s.machine.State()
	if m.dispatcher != nil {
		m.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeSessionClosed, id, map[string]interface{}{
			event.PayloadTo:        final.String(),
			event.PayloadTimestamp: time.Now().UTC(),
		}))
	}

	if m.logger != nil {
		m.logger.Info("Session closed",
			"session_id", id,
			"final_state", final,
		)
	}
	return nil
}

// CloseAll closes every live session
func (m *Manager) CloseAll(ctx context.Context) {
	for _, s := range m.List() {
		if err := m.Close(ctx, s.ID()); err != nil && m.logger != nil {
			m.logger.Error("Failed to close session", "session_id", s.ID(), "error", err)
		}
	}
}
