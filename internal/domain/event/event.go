package event

import (
	"time"

	"github.com/google/uuid"
)

// Well-known payload keys
const (
	PayloadTranscript = "transcript"
	PayloadFatal      = "fatal"
	PayloadReason     = "reason"
	PayloadFrom       = "from"
	PayloadTo         = "to"
	PayloadSeq        = "seq"
	PayloadForced     = "forced"
	PayloadMetadata   = "metadata"
	PayloadTimestamp  = "timestamp"
)

// Event represents a domain event scoped to one interview session
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	SessionID     string                 `json:"session_id"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID and timestamp
func NewEvent(eventType Type, sessionID string, payload map[string]interface{}) *Event {
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		SessionID:     sessionID,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: id,
	}
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, sessionID string, payload map[string]interface{}, correlationID string) *Event {
	e := NewEvent(eventType, sessionID, payload)
	e.CorrelationID = correlationID
	return e
}

// WithPayload returns a new Event with an added payload key-value pair (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	cp := *e
	cp.Payload = newPayload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case uint64:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// GetPayloadBool retrieves a bool value from the payload
func (e *Event) GetPayloadBool(key string) bool {
	if val, ok := e.Payload[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}

// GetPayloadMap retrieves a nested object from the payload
func (e *Event) GetPayloadMap(key string) map[string]interface{} {
	if val, ok := e.Payload[key]; ok {
		if m, ok := val.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}
