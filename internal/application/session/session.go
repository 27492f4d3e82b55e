package session

import (
	"context"
	"sync"
	"time"

	"github.com/garyjia/ai-interview/internal/application/turntaking"
	"github.com/garyjia/ai-interview/internal/domain/conversation"
	"github.com/garyjia/ai-interview/internal/domain/event"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Change is delivered to watchers after every applied transition
type Change struct {
	Transition conversation.Transition `json:"transition"`
	View       conversation.View       `json:"view"`
}

// Session binds one conversation machine and its controller to an interview
type Session struct {
	id           string
	candidateRef string
	createdAt    time.Time

	machine    *conversation.Machine
	controller *turntaking.Controller
	logger     Logger

	mu          sync.Mutex
	watchers    map[uint64]chan Change
	nextWatcher uint64
	closed      bool
	detach      []func()
}

func newSession(id, candidateRef string, machine *conversation.Machine, controller *turntaking.Controller, logger Logger) *Session {
	s := &Session{
		id:           id,
		candidateRef: candidateRef,
		createdAt:    time.Now().UTC(),
		machine:      machine,
		controller:   controller,
		logger:       logger,
		watchers:     make(map[uint64]chan Change),
	}
	s.detach = append(s.detach, machine.Subscribe(s.broadcast))
	return s
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// CandidateRef returns the caller-supplied candidate reference
func (s *Session) CandidateRef() string { return s.candidateRef }

// CreatedAt returns when the session was opened
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current conversation state
func (s *Session) State() conversation.State {
	return s.machine.State()
}

// States returns every conversation state in canonical order
func (s *Session) States() []conversation.State {
	return conversation.States()
}

// Policy returns the transition policy of the session's machine
func (s *Session) Policy() *conversation.Policy {
	return s.machine.Policy()
}

// Transition requests a policy-checked state change. When applied it returns
// the transition this call committed.
func (s *Session) Transition(target conversation.State, md conversation.Metadata) (conversation.Transition, bool, error) {
	if s.isClosed() {
		return conversation.Transition{}, false, ErrSessionClosed
	}
	t, applied := s.machine.Apply(target, md)
	return t, applied, nil
}

// ForceState sets the state without consulting the policy
func (s *Session) ForceState(target conversation.State, md conversation.Metadata) (conversation.Transition, error) {
	if s.isClosed() {
		return conversation.Transition{}, ErrSessionClosed
	}
	return s.machine.ForceState(target, md), nil
}

// Reset returns the conversation to IDLE
func (s *Session) Reset() (conversation.Transition, error) {
	if s.isClosed() {
		return conversation.Transition{}, ErrSessionClosed
	}
	return s.machine.Reset(), nil
}

// HandleEvent passes a collaborator signal to the turn-taking controller
func (s *Session) HandleEvent(ctx context.Context, evt *event.Event) (turntaking.Outcome, error) {
	if s.isClosed() {
		return turntaking.Outcome{}, ErrSessionClosed
	}
	return s.controller.HandleEvent(ctx, evt)
}

// CanTransitionTo reports whether target is reachable from the current state
func (s *Session) CanTransitionTo(target conversation.State) bool {
	return s.machine.CanTransitionTo(target)
}

// ValidNextStates lists the states reachable from the current state
func (s *Session) ValidNextStates() []conversation.State {
	return s.machine.ValidNextStates()
}

// History returns up to limit recent transitions, most recent last
func (s *Session) History(limit int) []conversation.Transition {
	return s.machine.History(limit)
}

// HistoryCapacity returns how many transitions the session retains
func (s *Session) HistoryCapacity() int {
	return s.machine.HistoryCapacity()
}

func (s *Session) IsMicrophoneActive() bool { return s.machine.IsMicrophoneActive() }
func (s *Session) IsInterruptible() bool    { return s.machine.IsInterruptible() }
func (s *Session) IsActive() bool           { return s.machine.IsActive() }

// Snapshot returns the state and derived flags in one read
func (s *Session) Snapshot() conversation.View {
	return s.machine.Snapshot()
}

// Subscribe registers a synchronous listener on the underlying machine
func (s *Session) Subscribe(listener conversation.Listener) func() {
	return s.machine.Subscribe(listener)
}

// Watch returns a channel receiving every change and a cancel function.
// Delivery never blocks the machine: when the buffer is full the change is
// dropped for that watcher. The channel is closed on cancel or session close.
func (s *Session) Watch(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.nextWatcher++
	id := s.nextWatcher
	s.watchers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(c)
			}
		})
	}
}

// WatcherCount returns the number of live watchers
func (s *Session) WatcherCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

func (s *Session) broadcast(t conversation.Transition) {
	change := Change{Transition: t, View: s.machine.Snapshot()}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.watchers {
		select {
		case ch <- change:
		default:
			if s.logger != nil {
				s.logger.Error("Watcher too slow, change dropped",
					"session_id", s.id,
					"watcher_id", id,
					"seq", t.Seq,
				)
			}
		}
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Closed reports whether Close has run
func (s *Session) Closed() bool {
	return s.isClosed()
}

// close stops the controller, detaches listeners and closes watchers
func (s *Session) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	s.controller.Close()
	for _, fn := range detach {
		fn()
	}

	s.mu.Lock()
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
	s.mu.Unlock()
	return true
}
