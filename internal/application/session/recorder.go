package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/ai-interview/internal/application/dispatcher"
	"github.com/garyjia/ai-interview/internal/application/port"
	"github.com/garyjia/ai-interview/internal/domain/conversation"
	"github.com/garyjia/ai-interview/internal/domain/entity"
	"github.com/garyjia/ai-interview/internal/domain/event"
)

// Recorder persists state changes published by sessions
type Recorder struct {
	sessions    port.SessionRepository
	transitions port.TransitionRepository
	txManager   port.TransactionManager
	logger      Logger
}

// NewRecorder creates a recorder
func NewRecorder(
	sessions port.SessionRepository,
	transitions port.TransitionRepository,
	txManager port.TransactionManager,
	logger Logger,
) *Recorder {
	return &Recorder{
		sessions:    sessions,
		transitions: transitions,
		txManager:   txManager,
		logger:      logger,
	}
}

// Register subscribes the recorder's handlers on d
func (r *Recorder) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeStateChanged, "transition-recorder", r.HandleStateChanged)
	d.SubscribeNamed(event.TypeSessionClosed, "session-closer", r.HandleSessionClosed)
}

// HandleStateChanged writes the transition and the session's new state in one transaction
func (r *Recorder) HandleStateChanged(ctx context.Context, evt *event.Event) error {
	record, err := RecordFromEvent(evt)
	if err != nil {
		return err
	}

	err = r.txManager.WithTransaction(port.WithSessionID(ctx, record.SessionID), func(txCtx context.Context) error {
		if err := r.transitions.Create(txCtx, record); err != nil {
			return err
		}
		return r.sessions.UpdateState(txCtx, record.SessionID, record.ToState)
	})
	if err != nil {
		if r.logger != nil {
			r.logger.Error("Failed to record transition",
				"session_id", record.SessionID,
				"seq", record.Seq,
				"error", err,
			)
		}
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

// HandleSessionClosed marks the persisted session ended
func (r *Recorder) HandleSessionClosed(ctx context.Context, evt *event.Event) error {
	endedAt, ok := evt.Payload[event.PayloadTimestamp].(time.Time)
	if !ok {
		endedAt = evt.Timestamp
	}
	if err := r.sessions.MarkEnded(ctx, evt.SessionID, endedAt); err != nil {
		return fmt.Errorf("failed to mark session ended: %w", err)
	}
	return nil
}

// RecordFromEvent converts a conversation.state_changed event to a TransitionRecord
func RecordFromEvent(evt *event.Event) (*entity.TransitionRecord, error) {
	if evt == nil || evt.Type != event.TypeStateChanged {
		return nil, fmt.Errorf("not a state change event")
	}

	occurredAt, ok := evt.Payload[event.PayloadTimestamp].(time.Time)
	if !ok {
		occurredAt = evt.Timestamp
	}

	md := evt.GetPayloadMap(event.PayloadMetadata)
	encoded := []byte("{}")
	if len(md) > 0 {
		var err error
		if encoded, err = json.Marshal(md); err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	source, _ := md[conversation.MetaSource].(string)
	reason, _ := md[conversation.MetaReason].(string)

	return &entity.TransitionRecord{
		SessionID:  evt.SessionID,
		Seq:        uint64(evt.GetPayloadInt(event.PayloadSeq)),
		FromState:  evt.GetPayloadString(event.PayloadFrom),
		ToState:    evt.GetPayloadString(event.PayloadTo),
		Forced:     evt.GetPayloadBool(event.PayloadForced),
		Source:     source,
		Reason:     reason,
		Metadata:   string(encoded),
		OccurredAt: occurredAt,
	}, nil
}

// TransitionFromRecord rebuilds a domain transition from its persisted form.
// When the metadata column cannot be decoded the transition is still returned,
// rebuilt from the source and reason columns, together with ErrCorruptRecord.
func TransitionFromRecord(rec *entity.TransitionRecord) (conversation.Transition, error) {
	var md conversation.Metadata
	var decodeErr error
	if rec.Metadata != "" {
		if err := json.Unmarshal([]byte(rec.Metadata), &md); err != nil {
			decodeErr = fmt.Errorf("%w: session %s seq %d: %v", ErrCorruptRecord, rec.SessionID, rec.Seq, err)
			md = conversation.Metadata{}
			if rec.Source != "" {
				md[conversation.MetaSource] = rec.Source
			}
			if rec.Reason != "" {
				md[conversation.MetaReason] = rec.Reason
			}
		}
	}
	if rec.Forced {
		if md == nil {
			md = conversation.Metadata{}
		}
		md[conversation.MetaForced] = true
	}
	return conversation.NewTransition(
		rec.Seq,
		conversation.State(rec.FromState),
		conversation.State(rec.ToState),
		rec.OccurredAt,
		md,
	), decodeErr
}
