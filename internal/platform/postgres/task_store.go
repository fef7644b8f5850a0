package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/platform/logger"
	"github.com/phrazzld/pomo-api/internal/store"
)

// PostgresTaskStore implements store.TaskCounter. Each credit is recorded
// in task_interval_credits so a session credits its task at most once.
type PostgresTaskStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresTaskStore creates a task store on db.
func NewPostgresTaskStore(db *sql.DB, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

var _ store.TaskCounter = (*PostgresTaskStore)(nil)

// creditTxOptions pins the isolation the credit insert and counter bump rely on.
var creditTxOptions = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

// IsCredited reports whether sessionID has a row in task_interval_credits.
func (s *PostgresTaskStore) IsCredited(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	var credited bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM task_interval_credits WHERE session_id = $1)
	`, sessionID).Scan(&credited)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to look up interval credit",
			slog.String("session_id", sessionID.String()),
			slog.String("error", err.Error()))
		return false, storeError("task", "look up credit", err)
	}
	return credited, nil
}

// IncrementCompletedIntervals credits one interval to the task unless this
// session already did.
func (s *PostgresTaskStore) IncrementCompletedIntervals(ctx context.Context, taskID, sessionID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	return store.RunInTransactionWithOptions(ctx, s.db, creditTxOptions, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()

		result, err := tx.ExecContext(ctx, `
			INSERT INTO task_interval_credits (session_id, task_id, credited_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (session_id) DO NOTHING
		`, sessionID, taskID, now)
		if err != nil {
			if IsForeignKeyViolation(err) {
				return fmt.Errorf("%w: %s", store.ErrTaskNotFound, taskID)
			}
			log.Error("failed to record interval credit",
				slog.String("task_id", taskID.String()),
				slog.String("session_id", sessionID.String()),
				slog.String("error", err.Error()))
			return storeError("task", "credit interval", err)
		}

		inserted, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: rows affected: %v", store.ErrUpdateFailed, err)
		}
		if inserted == 0 {
			log.Debug("interval already credited",
				slog.String("task_id", taskID.String()),
				slog.String("session_id", sessionID.String()))
			return nil
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE tasks
			SET completed_intervals = completed_intervals + 1, updated_at = $1
			WHERE id = $2
		`, now, taskID)
		if err != nil {
			log.Error("failed to increment completed intervals",
				slog.String("task_id", taskID.String()),
				slog.String("error", err.Error()))
			return storeError("task", "increment intervals", err)
		}
		if err := CheckRowsAffected(result, fmt.Errorf("%w: %s", store.ErrTaskNotFound, taskID)); err != nil {
			return err
		}

		log.Info("credited completed interval",
			slog.String("task_id", taskID.String()),
			slog.String("session_id", sessionID.String()))
		return nil
	})
}
