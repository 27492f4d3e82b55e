package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/ai-interview/internal/application/port"
)

type txKey struct{}

// DefaultBusyRetries is how many extra attempts a unit of work gets when
// SQLite reports the database busy or locked
const DefaultBusyRetries = 3

// DB wraps sql.DB and implements port.TransactionManager for the recorder's
// per-session writes
type DB struct {
	*sql.DB
	logger  *zap.Logger
	retries int
	backoff time.Duration
}

// NewDB creates a new transaction manager over sqlDB
func NewDB(sqlDB *sql.DB, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{
		DB:      sqlDB,
		logger:  logger,
		retries: DefaultBusyRetries,
		backoff: 20 * time.Millisecond,
	}
}

// WithTransaction runs fn inside a transaction carried by the context.
// Nested calls join the outer transaction. A top-level unit that fails with
// SQLITE_BUSY or SQLITE_LOCKED is rolled back and run again.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := TxFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	log := db.logger
	if id := port.SessionIDFromContext(ctx); id != "" {
		log = log.With(zap.String("session_id", id))
	}

	var err error
	for attempt := 0; attempt <= db.retries; attempt++ {
		if attempt > 0 {
			log.Info("Retrying busy transaction", zap.Int("attempt", attempt), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * db.backoff):
			}
		}

		err = db.runOnce(ctx, log, fn)
		if !IsBusy(err) {
			return err
		}
	}
	return err
}

func (db *DB) runOnce(ctx context.Context, log *zap.Logger, fn func(ctx context.Context) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			log.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("Failed to rollback transaction", zap.Error(rbErr))
		} else {
			log.Info("Transaction rolled back", zap.Error(err))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsBusy reports whether err is SQLite lock contention worth retrying
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// TxFromContext returns the transaction started by WithTransaction, if any
func TxFromContext(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

var _ port.TransactionManager = (*DB)(nil)
