package conversation

import (
	"fmt"
	"strings"
)

// State represents whose turn it is in an interview conversation
type State string

const (
	StateIdle        State = "IDLE"
	StateListening   State = "LISTENING"
	StateProcessing  State = "PROCESSING"
	StateSpeaking    State = "SPEAKING"
	StateInterrupted State = "INTERRUPTED"
	StateError       State = "ERROR"
	StateEnded       State = "ENDED"
)

// allStates is the closed enumeration in canonical order
var allStates = []State{
	StateIdle,
	StateListening,
	StateProcessing,
	StateSpeaking,
	StateInterrupted,
	StateError,
	StateEnded,
}

var validStates = map[State]bool{
	StateIdle:        true,
	StateListening:   true,
	StateProcessing:  true,
	StateSpeaking:    true,
	StateInterrupted: true,
	StateError:       true,
	StateEnded:       true,
}

var terminalStates = map[State]bool{
	StateEnded: true,
}

// States returns every conversation state in canonical order.
// The returned slice is a copy and may be modified by the caller.
func States() []State {
	return append([]State(nil), allStates...)
}

// ParseState converts a string (case-insensitive) into a State
func ParseState(s string) (State, error) {
	state := State(strings.ToUpper(strings.TrimSpace(s)))
	if !state.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
	return state, nil
}

// IsTerminal returns true if the state ends the conversation (no outgoing edges)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a member of the enumeration
func (s State) IsValid() bool {
	return validStates[s]
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, string(s))
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown states
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// index returns the canonical position of the state, used for stable ordering
func (s State) index() int {
	for i, st := range allStates {
		if st == s {
			return i
		}
	}
	return len(allStates)
}
