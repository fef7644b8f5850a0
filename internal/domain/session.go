package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of a focus session.
type SessionStatus string

// Possible session status values
const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusPaused    SessionStatus = "paused"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAborted   SessionStatus = "aborted"
)

// IsTerminal reports whether no further transitions are permitted from s.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAborted
}

// IsValid reports whether s is one of the known statuses.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusRunning, SessionStatusPaused, SessionStatusCompleted, SessionStatusAborted:
		return true
	default:
		return false
	}
}

// Session is the durable record of one timed focus interval. It is the
// persisted projection of the in-memory state owned by a session runtime.
type Session struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	TaskID uuid.UUID `json:"task_id"`

	// StartTime is the wall-clock instant of the first start.
	StartTime time.Time `json:"start_time"`

	// DurationMs is the planned length of the interval, fixed at start.
	DurationMs int64 `json:"duration_ms"`

	Status SessionStatus `json:"status"`

	// AccumulatedActiveMs counts non-paused elapsed time. It never decreases.
	AccumulatedActiveMs int64 `json:"accumulated_active_ms"`

	// Completed is true if and only if Status is SessionStatusCompleted.
	Completed bool `json:"completed"`

	// EndTime is set only once the session reaches a terminal status.
	EndTime *time.Time `json:"end_time,omitempty"`

	Interruptions []Interruption `json:"interruptions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the Session has valid data.
func (s *Session) Validate() error {
	if s.ID == uuid.Nil || s.UserID == uuid.Nil || s.TaskID == uuid.Nil {
		return fmt.Errorf("%w: session, user and task IDs are required", ErrInvalidID)
	}

	if s.DurationMs <= 0 {
		return fmt.Errorf("%w: planned duration must be positive", ErrInvalidDuration)
	}

	if !s.Status.IsValid() {
		return ErrInvalidSessionStatus
	}

	if s.AccumulatedActiveMs < 0 || s.AccumulatedActiveMs > s.DurationMs {
		return fmt.Errorf("%w: accumulated time %d outside [0, %d]",
			ErrInvalidDuration, s.AccumulatedActiveMs, s.DurationMs)
	}

	if s.Completed != (s.Status == SessionStatusCompleted) {
		return fmt.Errorf("%w: completed flag disagrees with status %q", ErrValidation, s.Status)
	}

	if s.Status.IsTerminal() && s.EndTime == nil {
		return fmt.Errorf("%w: terminal session requires an end time", ErrValidation)
	}

	for i := range s.Interruptions {
		if err := s.Interruptions[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}
