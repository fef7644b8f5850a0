package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/domain"
	"github.com/phrazzld/pomo-api/internal/platform/logger"
	"github.com/phrazzld/pomo-api/internal/store"
)

// activeSessionIndex is the partial unique index allowing one running or
// paused session per task.
const activeSessionIndex = "sessions_one_active_per_task"

const sessionColumns = `id, user_id, task_id, start_time, duration_ms, status,
	accumulated_active_ms, completed, end_time, interruptions, created_at, updated_at`

// PostgresSessionStore implements store.SessionStore.
type PostgresSessionStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSessionStore creates a session store on db, which may be a
// connection pool or a transaction.
func NewPostgresSessionStore(db store.DBTX, logger *slog.Logger) *PostgresSessionStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSessionStore{
		db:     db,
		logger: logger.With(slog.String("component", "session_store")),
	}
}

var _ store.SessionStore = (*PostgresSessionStore)(nil)

// Create inserts a new session.
func (s *PostgresSessionStore) Create(ctx context.Context, session *domain.Session) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := session.Validate(); err != nil {
		log.Warn("session validation failed during create",
			slog.String("session_id", session.ID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	interruptions, err := marshalInterruptions(session.Interruptions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.TaskID,
		session.StartTime,
		session.DurationMs,
		session.Status,
		session.AccumulatedActiveMs,
		session.Completed,
		session.EndTime,
		interruptions,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		switch {
		case IsUniqueViolation(err) && constraintName(err) == activeSessionIndex:
			log.Warn("task already has an active session",
				slog.String("session_id", session.ID.String()),
				slog.String("task_id", session.TaskID.String()))
			return fmt.Errorf("%w: task %s", store.ErrActiveSessionExists, session.TaskID)
		case IsForeignKeyViolation(err):
			log.Warn("session references a missing task",
				slog.String("session_id", session.ID.String()),
				slog.String("task_id", session.TaskID.String()))
			return fmt.Errorf("%w: %s", store.ErrTaskNotFound, session.TaskID)
		}

		log.Error("failed to create session",
			slog.String("session_id", session.ID.String()),
			slog.String("error", err.Error()))
		return storeError("session", "create", err)
	}

	log.Debug("session created",
		slog.String("session_id", session.ID.String()),
		slog.String("status", string(session.Status)))
	return nil
}

// Get retrieves a session by ID.
func (s *PostgresSessionStore) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	session, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("session not found", slog.String("session_id", id.String()))
			return nil, store.ErrSessionNotFound
		}
		log.Error("failed to get session",
			slog.String("session_id", id.String()),
			slog.String("error", err.Error()))
		return nil, storeError("session", "get", err)
	}
	return session, nil
}

// Update overwrites the mutable fields of a session. Applying the same
// update twice leaves the same row.
func (s *PostgresSessionStore) Update(ctx context.Context, session *domain.Session) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := session.Validate(); err != nil {
		log.Warn("session validation failed during update",
			slog.String("session_id", session.ID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	interruptions, err := marshalInterruptions(session.Interruptions)
	if err != nil {
		return err
	}

	query := `
		UPDATE sessions
		SET status = $1,
			accumulated_active_ms = $2,
			completed = $3,
			end_time = $4,
			interruptions = $5,
			updated_at = $6
		WHERE id = $7
	`
	result, err := s.db.ExecContext(ctx, query,
		session.Status,
		session.AccumulatedActiveMs,
		session.Completed,
		session.EndTime,
		interruptions,
		session.UpdatedAt,
		session.ID,
	)
	if err != nil {
		log.Error("failed to update session",
			slog.String("session_id", session.ID.String()),
			slog.String("error", err.Error()))
		return storeError("session", "update", err)
	}

	if err := CheckRowsAffected(result, store.ErrSessionNotFound); err != nil {
		if store.IsNotFoundError(err) {
			log.Warn("session to update not found", slog.String("session_id", session.ID.String()))
		}
		return err
	}

	log.Debug("session updated",
		slog.String("session_id", session.ID.String()),
		slog.String("status", string(session.Status)),
		slog.Int64("accumulated_ms", session.AccumulatedActiveMs))
	return nil
}

// FindActiveByTask returns the running or paused session for a user's task.
func (s *PostgresSessionStore) FindActiveByTask(
	ctx context.Context,
	userID, taskID uuid.UUID,
) (*domain.Session, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND task_id = $2 AND status IN ('running', 'paused')
		LIMIT 1
	`
	session, err := scanSession(s.db.QueryRowContext(ctx, query, userID, taskID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSessionNotFound
		}
		log.Error("failed to find active session",
			slog.String("task_id", taskID.String()),
			slog.String("error", err.Error()))
		return nil, storeError("session", "find active", err)
	}
	return session, nil
}

// ListByStatus returns every session in status, oldest first.
func (s *PostgresSessionStore) ListByStatus(
	ctx context.Context,
	status domain.SessionStatus,
) ([]*domain.Session, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE status = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		log.Error("failed to list sessions",
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
		return nil, storeError("session", "list", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, storeError("session", "list", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("session", "list", err)
	}
	return sessions, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		session       domain.Session
		status        string
		endTime       sql.NullTime
		interruptions []byte
	)
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TaskID,
		&session.StartTime,
		&session.DurationMs,
		&status,
		&session.AccumulatedActiveMs,
		&session.Completed,
		&endTime,
		&interruptions,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.Status = domain.SessionStatus(status)
	if endTime.Valid {
		t := endTime.Time
		session.EndTime = &t
	}
	session.Interruptions = []domain.Interruption{}
	if len(interruptions) > 0 {
		if err := json.Unmarshal(interruptions, &session.Interruptions); err != nil {
			return nil, fmt.Errorf("decode interruptions of session %s: %w", session.ID, err)
		}
	}
	return &session, nil
}

func marshalInterruptions(interruptions []domain.Interruption) ([]byte, error) {
	if interruptions == nil {
		interruptions = []domain.Interruption{}
	}
	data, err := json.Marshal(interruptions)
	if err != nil {
		return nil, fmt.Errorf("%w: encode interruptions: %w", store.ErrInvalidEntity, err)
	}
	return data, nil
}
