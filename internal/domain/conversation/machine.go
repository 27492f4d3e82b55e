package conversation

import (
	"fmt"
	"sync"
	"time"
)

// StateMachine is the turn-taking controller of a single conversation
type StateMachine interface {
	// State returns the current state
	State() State

	// Policy returns the transition policy in force
	Policy() *Policy

	// Transition moves to target if the policy allows it. It returns false and
	// changes nothing otherwise.
	Transition(target State, md Metadata) bool

	// Apply is Transition returning the committed transition
	Apply(target State, md Metadata) (Transition, bool)

	// TransitionIfSeq is Transition applied only if seq is still the last
	// applied sequence number
	TransitionIfSeq(seq uint64, target State, md Metadata) bool

	// ForceState moves to target unconditionally and marks the transition as forced
	ForceState(target State, md Metadata) Transition

	// ForceStateIfSeq is ForceState applied only if seq is still current
	ForceStateIfSeq(seq uint64, target State, md Metadata) (Transition, bool)

	// Reset forces the machine back to IDLE
	Reset() Transition

	// CanTransitionTo reports whether target is reachable from the current state
	CanTransitionTo(target State) bool

	// ValidNextStates returns the policy-allowed targets of the current state
	ValidNextStates() []State

	// Subscribe registers a listener and returns its unsubscribe function
	Subscribe(listener Listener) func()

	// History returns up to limit of the most recent transitions, most recent last
	History(limit int) []Transition

	IsMicrophoneActive() bool
	IsInterruptible() bool
	IsActive() bool

	// Snapshot returns the state and derived flags read atomically
	Snapshot() View
}

// Listener observes applied transitions
type Listener func(t Transition)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// View is a consistent snapshot of a machine
type View struct {
	State            State   `json:"state"`
	MicrophoneActive bool    `json:"microphone_active"`
	Interruptible    bool    `json:"interruptible"`
	Active           bool    `json:"active"`
	ValidNextStates  []State `json:"valid_next_states"`
	Seq              uint64  `json:"seq"`
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Machine implements StateMachine. It is safe for concurrent use: an
// operation lock makes commit plus notification a single critical section,
// so transitions are applied and announced strictly in call order.
//
// Listeners run while that lock is held. They may query the machine and
// (un)subscribe, but must not call Transition, ForceState or Reset from the
// same goroutine.
type Machine struct {
	id     string
	policy *Policy
	clock  func() time.Time
	logger Logger

	opMu sync.Mutex

	mu        sync.RWMutex
	current   State
	history   *ring
	seq       uint64
	listeners []listenerEntry
	nextID    uint64
}

// Option configures a Machine
type Option func(*Machine)

// WithPolicy replaces the default transition policy
func WithPolicy(p *Policy) Option {
	return func(m *Machine) {
		if p != nil {
			m.policy = p
		}
	}
}

// WithHistoryCapacity bounds the history buffer (minimum 1)
func WithHistoryCapacity(capacity int) Option {
	return func(m *Machine) {
		m.history = newRing(capacity)
	}
}

// WithLogger sets a logger for rejected transitions and listener failures
func WithLogger(logger Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithClock overrides the timestamp source
func WithClock(clock func() time.Time) Option {
	return func(m *Machine) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithID labels the machine in log output
func WithID(id string) Option {
	return func(m *Machine) {
		m.id = id
	}
}

// NewMachine creates a machine in the given initial state.
// It panics if initial is not a valid state.
func NewMachine(initial State, opts ...Option) *Machine {
	mustBeValid(initial, "initial state")

	m := &Machine{
		policy:  DefaultPolicy(),
		clock:   time.Now,
		current: initial,
		history: newRing(DefaultHistoryCapacity),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Policy returns the policy the machine enforces
func (m *Machine) Policy() *Policy {
	return m.policy
}

// Transition attempts a policy-checked move to target. On rejection nothing
// is recorded and no listener runs. It panics if target is not a valid state.
// A caller-supplied forced key is dropped; only ForceState records one.
func (m *Machine) Transition(target State, md Metadata) bool {
	_, ok := m.transition(nil, target, md)
	return ok
}

// Apply is Transition that also returns the committed transition
func (m *Machine) Apply(target State, md Metadata) (Transition, bool) {
	return m.transition(nil, target, md)
}

// TransitionIfSeq is Transition guarded by the sequence number of the last
// applied transition. The check and the commit run in one critical section,
// so the move is skipped if anything else was applied since seq was read.
func (m *Machine) TransitionIfSeq(seq uint64, target State, md Metadata) bool {
	_, ok := m.transition(&seq, target, md)
	return ok
}

func (m *Machine) transition(guard *uint64, target State, md Metadata) (Transition, bool) {
	mustBeValid(target, "transition")

	md = md.Clone()
	delete(md, MetaForced)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	from := m.current
	if guard != nil && *guard != m.seq {
		m.mu.Unlock()
		return Transition{}, false
	}
	if !m.policy.Allows(from, target) {
		m.mu.Unlock()
		if m.logger != nil {
			m.logger.Info("Transition rejected",
				"machine_id", m.id,
				"from", from,
				"to", target,
				"valid", m.policy.Targets(from),
			)
		}
		return Transition{}, false
	}
	t, listeners := m.commitLocked(from, target, md)
	m.mu.Unlock()

	m.notify(listeners, t)
	return t, true
}

// ForceState sets the state to target without consulting the policy. The
// recorded metadata carries forced=true. It panics if target is not valid.
func (m *Machine) ForceState(target State, md Metadata) Transition {
	t, _ := m.forceState(nil, target, md)
	return t
}

// ForceStateIfSeq forces target only while seq is still the last applied
// sequence number. It reports whether the transition was recorded.
func (m *Machine) ForceStateIfSeq(seq uint64, target State, md Metadata) (Transition, bool) {
	return m.forceState(&seq, target, md)
}

func (m *Machine) forceState(guard *uint64, target State, md Metadata) (Transition, bool) {
	mustBeValid(target, "force state")

	forced := md.Clone()
	if forced == nil {
		forced = make(Metadata, 1)
	}
	forced[MetaForced] = true

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if guard != nil && *guard != m.seq {
		m.mu.Unlock()
		return Transition{}, false
	}
	t, listeners := m.commitLocked(m.current, target, forced)
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("State forced",
			"machine_id", m.id,
			"from", t.From,
			"to", t.To,
			"reason", t.Reason(),
		)
	}

	m.notify(listeners, t)
	return t, true
}

// Reset forces the machine back to IDLE
func (m *Machine) Reset() Transition {
	return m.ForceState(StateIdle, Metadata{MetaReason: "reset"})
}

// commitLocked applies the change and returns the listener snapshot to notify.
// Caller must hold mu.
func (m *Machine) commitLocked(from, to State, md Metadata) (Transition, []listenerEntry) {
	m.seq++
	t := Transition{
		Seq:       m.seq,
		From:      from,
		To:        to,
		Timestamp: m.clock(),
		metadata:  md,
	}
	m.current = to
	m.history.append(t)

	listeners := make([]listenerEntry, len(m.listeners))
	copy(listeners, m.listeners)
	return t, listeners
}

// notify calls every listener in registration order, isolating panics
func (m *Machine) notify(listeners []listenerEntry, t Transition) {
	for _, l := range listeners {
		m.safeNotify(l, t)
	}
}

func (m *Machine) safeNotify(l listenerEntry, t Transition) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.Error("Listener panic recovered",
				"machine_id", m.id,
				"listener_id", l.id,
				"seq", t.Seq,
				"from", t.From,
				"to", t.To,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	l.fn(t)
}

// CanTransitionTo reports whether target is policy-reachable from the current state
func (m *Machine) CanTransitionTo(target State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy.Allows(m.current, target)
}

// ValidNextStates returns the policy-allowed targets of the current state
func (m *Machine) ValidNextStates() []State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy.Targets(m.current)
}

// Subscribe registers a listener invoked after every applied transition.
// Calling the returned function more than once is a no-op.
func (m *Machine) Subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: listener})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.unsubscribe(id)
		})
	}
}

func (m *Machine) unsubscribe(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := make([]listenerEntry, 0, len(m.listeners))
	for _, l := range m.listeners {
		if l.id != id {
			filtered = append(filtered, l)
		}
	}
	m.listeners = filtered
}

// ListenerCount returns the number of registered listeners
func (m *Machine) ListenerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

// History returns up to limit of the most recent transitions, most recent
// last. A non-positive limit means DefaultHistoryLimit.
func (m *Machine) History(limit int) []Transition {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.recent(limit)
}

// HistoryLen returns the number of retained transitions
func (m *Machine) HistoryLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.len()
}

// HistoryCapacity returns the maximum number of retained transitions
func (m *Machine) HistoryCapacity() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.capacity()
}

// IsMicrophoneActive reports whether the candidate should be captured now
func (m *Machine) IsMicrophoneActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy.MicrophoneActive(m.current)
}

// IsInterruptible reports whether the AI is speaking and may be cut off
func (m *Machine) IsInterruptible() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy.Interruptible(m.current)
}

// IsActive reports whether the session is underway (not IDLE, ERROR or ENDED)
func (m *Machine) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy.Active(m.current)
}

// Snapshot returns the current state and derived flags read atomically
func (m *Machine) Snapshot() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return View{
		State:            m.current,
		MicrophoneActive: m.policy.MicrophoneActive(m.current),
		Interruptible:    m.policy.Interruptible(m.current),
		Active:           m.policy.Active(m.current),
		ValidNextStates:  m.policy.Targets(m.current),
		Seq:              m.seq,
	}
}

// Verify interface compliance
var _ StateMachine = (*Machine)(nil)
