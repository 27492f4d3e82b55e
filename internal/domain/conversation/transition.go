package conversation

import (
	"encoding/json"
	"time"
)

// Well-known metadata keys
const (
	MetaForced     = "forced"
	MetaReason     = "reason"
	MetaSource     = "source"
	MetaTranscript = "transcript"
)

// Metadata carries caller-supplied context for a transition
type Metadata map[string]interface{}

// Clone returns a copy of the metadata (nil stays nil). JSON-shaped values
// (nested maps and slices) are copied recursively; any other reference type
// is shared with the original.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Metadata:
		return val.Clone()
	case map[string]interface{}:
		return map[string]interface{}(Metadata(val).Clone())
	case []interface{}:
		if val == nil {
			return val
		}
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// Transition is an applied state change. It is immutable once recorded:
// the metadata map is private and every accessor returns a copy.
type Transition struct {
	// Seq is the 1-based position of the transition in its machine's lifetime
	Seq       uint64
	From      State
	To        State
	Timestamp time.Time

	metadata Metadata
}

// NewTransition rebuilds a Transition, e.g. from a persisted record
func NewTransition(seq uint64, from, to State, ts time.Time, md Metadata) Transition {
	return Transition{
		Seq:       seq,
		From:      from,
		To:        to,
		Timestamp: ts,
		metadata:  md.Clone(),
	}
}

// Metadata returns a copy of the transition metadata
func (t Transition) Metadata() Metadata {
	if t.metadata == nil {
		return Metadata{}
	}
	return t.metadata.Clone()
}

// Value returns a single metadata value
func (t Transition) Value(key string) (interface{}, bool) {
	v, ok := t.metadata[key]
	return v, ok
}

// Forced reports whether the transition bypassed the policy table
func (t Transition) Forced() bool {
	forced, _ := t.metadata[MetaForced].(bool)
	return forced
}

// Source returns the "source" metadata value, if it is a string
func (t Transition) Source() string {
	source, _ := t.metadata[MetaSource].(string)
	return source
}

// Reason returns the "reason" metadata value, if it is a string
func (t Transition) Reason() string {
	reason, _ := t.metadata[MetaReason].(string)
	return reason
}

type transitionJSON struct {
	Seq       uint64    `json:"seq"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Forced    bool      `json:"forced"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (t Transition) MarshalJSON() ([]byte, error) {
	return json.Marshal(transitionJSON{
		Seq:       t.Seq,
		From:      t.From,
		To:        t.To,
		Timestamp: t.Timestamp,
		Forced:    t.Forced(),
		Metadata:  t.metadata,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Transition) UnmarshalJSON(data []byte) error {
	var raw transitionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = NewTransition(raw.Seq, raw.From, raw.To, raw.Timestamp, raw.Metadata)
	return nil
}
