package event

import "strings"

// Type identifies the type of domain event
type Type string

// Collaborator signals consumed by the turn-taking controller
const (
	TypeSessionCreated     Type = "session.created"
	TypeSpeechInterim      Type = "speech.interim"
	TypeSpeechFinal        Type = "speech.final"
	TypeSpeechError        Type = "speech.error"
	TypePlaybackStarted    Type = "playback.started"
	TypePlaybackEnded      Type = "playback.ended"
	TypePlaybackFailed     Type = "playback.failed"
	TypeCandidateInterrupt Type = "candidate.interrupt"
	TypeTransportConnected Type = "transport.connected"
	TypeTransportClosed    Type = "transport.closed"
	TypeTransportLost      Type = "transport.lost"
	TypeInterviewEnded     Type = "interview.ended"
	TypeResponseComplete   Type = "response.complete"
)

// Events published by the session layer
const (
	TypeStateChanged  Type = "conversation.state_changed"
	TypeSessionClosed Type = "session.closed"
)

var signalTypes = []Type{
	TypeSessionCreated,
	TypeSpeechInterim,
	TypeSpeechFinal,
	TypeSpeechError,
	TypePlaybackStarted,
	TypePlaybackEnded,
	TypePlaybackFailed,
	TypeCandidateInterrupt,
	TypeTransportConnected,
	TypeTransportClosed,
	TypeTransportLost,
	TypeInterviewEnded,
	TypeResponseComplete,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	return t.IsSignal() || t == TypeStateChanged || t == TypeSessionClosed
}

// IsSignal reports whether collaborators may send this type to a session
func (t Type) IsSignal() bool {
	for _, s := range signalTypes {
		if s == t {
			return true
		}
	}
	return false
}

// SignalTypes lists the collaborator signal types
func SignalTypes() []Type {
	out := make([]Type, len(signalTypes))
	copy(out, signalTypes)
	return out
}

// ParseType normalises a wire type ("playback_started" or "playback.started")
func ParseType(s string) (Type, bool) {
	t := Type(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "."))
	if t.IsValid() {
		return t, true
	}
	// state_changed keeps its underscore
	t = Type(strings.ToLower(strings.TrimSpace(s)))
	return t, t.IsValid()
}
