package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/pomo-api/internal/domain"
	"github.com/phrazzld/pomo-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columnNames = []string{
	"id", "user_id", "task_id", "start_time", "duration_ms", "status",
	"accumulated_active_ms", "completed", "end_time", "interruptions", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresSessionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresSessionStore(db, nil), mock
}

func runningSession() *domain.Session {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &domain.Session{
		ID:                  uuid.New(),
		UserID:              uuid.New(),
		TaskID:              uuid.New(),
		StartTime:           start,
		DurationMs:          25 * 60 * 1000,
		Status:              domain.SessionStatusRunning,
		AccumulatedActiveMs: 0,
		Interruptions:       []domain.Interruption{},
		CreatedAt:           start,
		UpdatedAt:           start,
	}
}

func sessionRow(s *domain.Session, interruptions string) *sqlmock.Rows {
	var end any
	if s.EndTime != nil {
		end = *s.EndTime
	}
	return sqlmock.NewRows(columnNames).AddRow(
		s.ID.String(), s.UserID.String(), s.TaskID.String(), s.StartTime, s.DurationMs,
		string(s.Status), s.AccumulatedActiveMs, s.Completed, end, []byte(interruptions),
		s.CreatedAt, s.UpdatedAt,
	)
}

func TestNewPostgresSessionStore_NilDB(t *testing.T) {
	assert.Panics(t, func() { NewPostgresSessionStore(nil, nil) })
}

func TestPostgresSessionStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts a valid session", func(t *testing.T) {
		s, mock := newMockStore(t)
		session := runningSession()

		mock.ExpectExec("INSERT INTO sessions").
			WithArgs(session.ID, session.UserID, session.TaskID, session.StartTime, session.DurationMs,
				"running", int64(0), false, sqlmock.AnyArg(), []byte("[]"), session.CreatedAt, session.UpdatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Create(ctx, session))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects an invalid session without querying", func(t *testing.T) {
		s, mock := newMockStore(t)
		session := runningSession()
		session.DurationMs = 0

		err := s.Create(ctx, session)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		assert.ErrorIs(t, err, domain.ErrInvalidDuration)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps the active session index to ErrActiveSessionExists", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO sessions").WillReturnError(&pgconn.PgError{
			Code:           uniqueViolationCode,
			ConstraintName: activeSessionIndex,
		})

		err := s.Create(ctx, runningSession())
		assert.ErrorIs(t, err, store.ErrActiveSessionExists)
		assert.True(t, store.IsDuplicateError(err))
	})

	t.Run("maps a primary key clash to ErrDuplicate", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO sessions").WillReturnError(&pgconn.PgError{
			Code:           uniqueViolationCode,
			ConstraintName: "sessions_pkey",
		})

		err := s.Create(ctx, runningSession())
		assert.ErrorIs(t, err, store.ErrDuplicate)
		assert.NotErrorIs(t, err, store.ErrActiveSessionExists)
	})

	t.Run("maps a missing task to ErrTaskNotFound", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO sessions").WillReturnError(&pgconn.PgError{
			Code:           foreignKeyViolationCode,
			ConstraintName: "sessions_task_id_fkey",
		})

		err := s.Create(ctx, runningSession())
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
		assert.True(t, store.IsNotFoundError(err))
	})
}

func TestPostgresSessionStore_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes a paused session with interruptions", func(t *testing.T) {
		s, mock := newMockStore(t)
		session := runningSession()
		session.Status = domain.SessionStatusPaused
		session.AccumulatedActiveMs = 60000

		mock.ExpectQuery("FROM sessions WHERE id").
			WithArgs(session.ID).
			WillReturnRows(sessionRow(session,
				`[{"type":"urgent","duration_ms":30000,"logged_at":"2026-03-02T09:01:00Z","notes":"call"}]`))

		got, err := s.Get(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)
		assert.Equal(t, domain.SessionStatusPaused, got.Status)
		assert.Equal(t, int64(60000), got.AccumulatedActiveMs)
		assert.Nil(t, got.EndTime)
		require.Len(t, got.Interruptions, 1)
		assert.Equal(t, domain.InterruptionUrgent, got.Interruptions[0].Type)
		assert.Equal(t, "call", got.Interruptions[0].Notes)
	})

	t.Run("decodes a terminal session end time", func(t *testing.T) {
		s, mock := newMockStore(t)
		session := runningSession()
		end := session.StartTime.Add(25 * time.Minute)
		session.Status = domain.SessionStatusCompleted
		session.Completed = true
		session.EndTime = &end

		mock.ExpectQuery("FROM sessions WHERE id").WillReturnRows(sessionRow(session, `[]`))

		got, err := s.Get(ctx, session.ID)
		require.NoError(t, err)
		require.NotNil(t, got.EndTime)
		assert.True(t, end.Equal(*got.EndTime))
		assert.True(t, got.Completed)
		assert.Empty(t, got.Interruptions)
	})

	t.Run("returns ErrSessionNotFound for a missing row", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("FROM sessions WHERE id").WillReturnError(sql.ErrNoRows)

		_, err := s.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrSessionNotFound)
	})
}

func TestPostgresSessionStore_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("writes the mutable fields", func(t *testing.T) {
		s, mock := newMockStore(t)
		session := runningSession()
		session.Status = domain.SessionStatusPaused
		session.AccumulatedActiveMs = 1000

		mock.ExpectExec("UPDATE sessions").
			WithArgs("paused", int64(1000), false, sqlmock.AnyArg(), []byte("[]"), session.UpdatedAt, session.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Update(ctx, session))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns ErrSessionNotFound when no row matches", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec("UPDATE sessions").WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.Update(ctx, runningSession())
		assert.ErrorIs(t, err, store.ErrSessionNotFound)
	})

	t.Run("rejects a completed flag that disagrees with status", func(t *testing.T) {
		s, _ := newMockStore(t)
		session := runningSession()
		session.Completed = true

		err := s.Update(ctx, session)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})
}

func TestPostgresSessionStore_FindActiveByTask(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the active session", func(t *testing.T) {
		s, mock := newMockStore(t)
		session := runningSession()
		mock.ExpectQuery("status IN \\('running', 'paused'\\)").
			WithArgs(session.UserID, session.TaskID).
			WillReturnRows(sessionRow(session, `[]`))

		got, err := s.FindActiveByTask(ctx, session.UserID, session.TaskID)
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)
	})

	t.Run("returns ErrSessionNotFound when the task is idle", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("FROM sessions").WillReturnRows(sqlmock.NewRows(columnNames))

		_, err := s.FindActiveByTask(ctx, uuid.New(), uuid.New())
		assert.ErrorIs(t, err, store.ErrSessionNotFound)
	})
}

func TestPostgresSessionStore_ListByStatus(t *testing.T) {
	s, mock := newMockStore(t)
	a, b := runningSession(), runningSession()

	rows := sessionRow(a, `[]`)
	rows.AddRow(b.ID.String(), b.UserID.String(), b.TaskID.String(), b.StartTime, b.DurationMs,
		"running", int64(0), false, nil, []byte(`[]`), b.CreatedAt, b.UpdatedAt)
	mock.ExpectQuery("WHERE status = \\$1").WithArgs("running").WillReturnRows(rows)

	got, err := s.ListByStatus(context.Background(), domain.SessionStatusRunning)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, b.ID, got[1].ID)
}
