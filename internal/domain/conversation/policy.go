package conversation

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// stateSet is a set of states with O(1) membership checks
type stateSet map[State]struct{}

func (s stateSet) has(state State) bool {
	_, ok := s[state]
	return ok
}

func (s stateSet) add(kind string, states ...State) {
	for _, state := range states {
		mustBeValid(state, kind)
		s[state] = struct{}{}
	}
}

func (s stateSet) clone() stateSet {
	out := make(stateSet, len(s))
	for state := range s {
		out[state] = struct{}{}
	}
	return out
}

// sorted returns the members in canonical enumeration order
func (s stateSet) sorted() []State {
	out := make([]State, 0, len(s))
	for state := range s {
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].index() < out[j].index()
	})
	return out
}

// Policy is the static adjacency table of legal transitions together with
// the state subsets that drive the derived predicates. A Policy is immutable
// and safe to share between machines.
type Policy struct {
	edges           map[State]stateSet
	microphone      stateSet
	interruptible   stateSet
	inactive        stateSet
	interruptTarget State
}

// Allows reports whether from -> to is a legal edge
func (p *Policy) Allows(from, to State) bool {
	return p.edges[from].has(to)
}

// Targets returns the legal targets of from in canonical order
func (p *Policy) Targets(from State) []State {
	return p.edges[from].sorted()
}

// Edges returns a copy of the whole adjacency table
func (p *Policy) Edges() map[State][]State {
	out := make(map[State][]State, len(p.edges))
	for from, targets := range p.edges {
		out[from] = targets.sorted()
	}
	return out
}

// MicrophoneActive reports whether the candidate should be captured in state
func (p *Policy) MicrophoneActive(state State) bool {
	return p.microphone.has(state)
}

// Interruptible reports whether state is AI output that the policy lets a
// listener cut off via the interrupt target
func (p *Policy) Interruptible(state State) bool {
	return p.interruptible.has(state) && p.Allows(state, p.interruptTarget)
}

// Active reports whether the session is meaningfully underway in state
func (p *Policy) Active(state State) bool {
	return state.IsValid() && !p.inactive.has(state)
}

// InterruptTarget returns the state a listener-initiated interrupt moves to
func (p *Policy) InterruptTarget() State {
	return p.interruptTarget
}

// MicrophoneStates returns the designated microphone-active subset
func (p *Policy) MicrophoneStates() []State {
	return p.microphone.sorted()
}

// InterruptibleStates returns the designated interruptible subset
func (p *Policy) InterruptibleStates() []State {
	return p.interruptible.sorted()
}

// String renders the table, one source state per line
func (p *Policy) String() string {
	var sb strings.Builder
	for _, from := range allStates {
		fmt.Fprintf(&sb, "%s -> %v\n", from, p.Targets(from))
	}
	return sb.String()
}

// DefaultPolicy returns the interview turn-taking policy.
//
// The candidate's microphone is hot in LISTENING and in INTERRUPTED, so an
// utterance spoken over the tail of AI playback is captured. Only SPEAKING
// can be interrupted. ERROR and ENDED have no outgoing edges and are left
// through ForceState or Reset.
func DefaultPolicy() *Policy {
	return defaultPolicy()
}

// Built on first use; package-level state tables must be initialised first
var defaultPolicy = sync.OnceValue(buildDefaultPolicy)

func buildDefaultPolicy() *Policy {
	b := NewPolicyBuilder()

	b.Configure(StateIdle).
		Permit(StateListening, StateError, StateEnded)

	b.Configure(StateListening).
		Permit(StateProcessing, StateSpeaking, StateError, StateEnded)

	// PROCESSING -> LISTENING covers an empty transcript or a dropped response
	b.Configure(StateProcessing).
		Permit(StateSpeaking, StateListening, StateError, StateEnded)

	b.Configure(StateSpeaking).
		Permit(StateListening, StateInterrupted, StateError, StateEnded)

	b.Configure(StateInterrupted).
		Permit(StateListening, StateProcessing, StateError, StateEnded)

	// ERROR and ENDED intentionally have no outgoing edges
	b.Configure(StateError)
	b.Configure(StateEnded)

	return b.
		MicrophoneActiveIn(StateListening, StateInterrupted).
		InterruptibleIn(StateSpeaking).
		InterruptTo(StateInterrupted).
		InactiveIn(StateIdle, StateError, StateEnded).
		Build()
}
