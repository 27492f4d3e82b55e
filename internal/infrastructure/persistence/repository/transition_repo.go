package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/ai-interview/internal/application/port"
	"github.com/garyjia/ai-interview/internal/domain/entity"
	"go.uber.org/zap"
)

// TransitionRepository implements port.TransitionRepository
type TransitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTransitionRepository creates a new transition repository
func NewTransitionRepository(db *sql.DB, logger *zap.Logger) port.TransitionRepository {
	return &TransitionRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a transition to the session log
func (r *TransitionRepository) Create(ctx context.Context, record *entity.TransitionRecord) error {
	if record.Metadata == "" {
		record.Metadata = "{}"
	}

	query := `
		INSERT INTO session_transitions (
			session_id, seq, from_state, to_state, forced,
			source, reason, metadata, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		record.SessionID,
		int64(record.Seq),
		record.FromState,
		record.ToState,
		record.Forced,
		record.Source,
		record.Reason,
		record.Metadata,
		record.OccurredAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create transition record",
			zap.String("session_id", record.SessionID),
			zap.Uint64("seq", record.Seq),
			zap.Error(err))
		return fmt.Errorf("failed to create transition record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.ID = id
	return nil
}

// ListBySession returns a session's transitions in sequence order
func (r *TransitionRepository) ListBySession(ctx context.Context, sessionID string) ([]*entity.TransitionRecord, error) {
	query := `
		SELECT id, session_id, seq, from_state, to_state, forced,
			source, reason, metadata, occurred_at, created_at
		FROM session_transitions
		WHERE session_id = ?
		ORDER BY seq
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var records []*entity.TransitionRecord
	for rows.Next() {
		var rec entity.TransitionRecord
		var seq int64
		if err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&seq,
			&rec.FromState,
			&rec.ToState,
			&rec.Forced,
			&rec.Source,
			&rec.Reason,
			&rec.Metadata,
			&rec.OccurredAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		rec.Seq = uint64(seq)
		records = append(records, &rec)
	}
	return records, rows.Err()
}
