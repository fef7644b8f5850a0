package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/domain"
)

// SessionStore persists session records. The session engine is the only
// writer; implementations must be safe for concurrent use by many sessions.
type SessionStore interface {
	// Create inserts a new session record.
	// Returns ErrActiveSessionExists if the task already has a running or
	// paused session, ErrTaskNotFound if the task does not exist, and
	// ErrInvalidEntity if the session fails validation.
	Create(ctx context.Context, s *domain.Session) error

	// Get retrieves a session by ID.
	// Returns ErrSessionNotFound if the session does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Session, error)

	// Update overwrites the mutable fields of an existing session
	// (status, accumulated time, completion flag, end time, interruptions).
	// Writes are idempotent: repeating the same update leaves the same record.
	// Returns ErrSessionNotFound if the session does not exist.
	Update(ctx context.Context, s *domain.Session) error

	// FindActiveByTask returns the running or paused session for a task.
	// Returns ErrSessionNotFound if there is none.
	FindActiveByTask(ctx context.Context, userID, taskID uuid.UUID) (*domain.Session, error)

	// ListByStatus returns every session currently in the given status.
	ListByStatus(ctx context.Context, status domain.SessionStatus) ([]*domain.Session, error)
}

// TaskCounter maintains the per-task completed-interval counter.
type TaskCounter interface {
	// IncrementCompletedIntervals credits one completed interval to the task
	// on behalf of the given session. Crediting is idempotent per session:
	// repeated calls for the same session increment the counter once.
	// Returns ErrTaskNotFound if the task does not exist.
	IncrementCompletedIntervals(ctx context.Context, taskID, sessionID uuid.UUID) error

	// IsCredited reports whether the session has already credited its task.
	IsCredited(ctx context.Context, sessionID uuid.UUID) (bool, error)
}
