package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/ai-interview/internal/application/port"
	"github.com/garyjia/ai-interview/internal/domain/entity"
	"go.uber.org/zap"
)

// SessionRepository implements port.SessionRepository
type SessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sql.DB, logger *zap.Logger) port.SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new session row
func (r *SessionRepository) Create(ctx context.Context, session *entity.Session) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = entity.SessionStatusOpen
	}

	query := `
		INSERT INTO sessions (id, candidate_ref, state, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		session.ID,
		session.CandidateRef,
		session.State,
		session.Status,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create session", zap.String("session_id", session.ID), zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entity.Session, error) {
	query := `
		SELECT id, candidate_ref, state, status, created_at, updated_at, ended_at
		FROM sessions
		WHERE id = ?
	`

	session, err := scanSession(getExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, port.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// List returns sessions, newest first
func (r *SessionRepository) List(ctx context.Context, limit, offset int) ([]*entity.Session, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, candidate_ref, state, status, created_at, updated_at, ended_at
		FROM sessions
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*entity.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// UpdateState records the session's current conversation state
func (r *SessionRepository) UpdateState(ctx context.Context, id, state string) error {
	query := `UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, state, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to update session state",
			zap.String("session_id", id),
			zap.String("state", state),
			zap.Error(err))
		return fmt.Errorf("failed to update session state: %w", err)
	}
	return requireAffected(result, id)
}

// MarkEnded closes the session
func (r *SessionRepository) MarkEnded(ctx context.Context, id string, endedAt time.Time) error {
	query := `UPDATE sessions SET status = ?, ended_at = ?, updated_at = ? WHERE id = ?`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		entity.SessionStatusClosed, endedAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark session ended: %w", err)
	}
	return requireAffected(result, id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*entity.Session, error) {
	var s entity.Session
	var endedAt sql.NullTime

	if err := row.Scan(
		&s.ID,
		&s.CandidateRef,
		&s.State,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
		&endedAt,
	); err != nil {
		return nil, err
	}

	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	return &s, nil
}

func requireAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, port.ErrNotFound)
	}
	return nil
}
