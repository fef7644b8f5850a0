package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/domain"
)

// State is the in-memory state of one session. It is owned by a single
// Runtime; everything else sees copies.
type State struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	TaskID    uuid.UUID

	// Planned is fixed at start.
	Planned time.Duration

	// Status is empty until the session has been started.
	Status domain.SessionStatus

	StartedAt time.Time

	// Accumulated is active time banked before the current running segment.
	// While Running, the live active time is Accumulated + (now - ResumedAt).
	Accumulated time.Duration
	ResumedAt   time.Time

	// PausedAt is set only while Paused.
	PausedAt *time.Time
	// EndedAt is set only once terminal.
	EndedAt *time.Time

	Interruptions []domain.Interruption

	// LastPersistedAt is the UpdatedAt of the last record the store accepted.
	LastPersistedAt time.Time
	UpdatedAt       time.Time
}

// ActiveAt returns the active time at now, capped at Planned.
func (s State) ActiveAt(now time.Time) time.Duration {
	active := s.Accumulated
	if s.Status == domain.SessionStatusRunning {
		if elapsed := now.Sub(s.ResumedAt); elapsed > 0 {
			active += elapsed
		}
	}
	if active > s.Planned {
		active = s.Planned
	}
	return active
}

// RemainingAt returns the time left on the countdown at now.
func (s State) RemainingAt(now time.Time) time.Duration {
	return s.Planned - s.ActiveAt(now)
}

// Snapshot derives the client-facing view at now.
func (s State) Snapshot(now time.Time) domain.SessionSnapshot {
	snap := domain.SessionSnapshot{
		SessionID:     s.SessionID,
		UserID:        s.UserID,
		TaskID:        s.TaskID,
		Status:        s.Status,
		PlannedMs:     s.Planned.Milliseconds(),
		AccumulatedMs: s.ActiveAt(now).Milliseconds(),
		RemainingMs:   s.RemainingAt(now).Milliseconds(),
		StartedAt:     s.StartedAt,
		PausedAt:      copyTime(s.PausedAt),
		EndedAt:       copyTime(s.EndedAt),
		Interruptions: append([]domain.Interruption{}, s.Interruptions...),
		ServerTime:    now,
	}
	return snap
}

// Record projects the state onto the persisted session shape.
func (s State) Record() *domain.Session {
	return &domain.Session{
		ID:                  s.SessionID,
		UserID:              s.UserID,
		TaskID:              s.TaskID,
		StartTime:           s.StartedAt,
		DurationMs:          s.Planned.Milliseconds(),
		Status:              s.Status,
		AccumulatedActiveMs: s.Accumulated.Milliseconds(),
		Completed:           s.Status == domain.SessionStatusCompleted,
		EndTime:             copyTime(s.EndedAt),
		Interruptions:       append([]domain.Interruption{}, s.Interruptions...),
		CreatedAt:           s.StartedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

// StateFromRecord rebuilds state from a persisted record. A record stored as
// running has no live timer behind it, so it comes back paused with the
// banked active time.
func StateFromRecord(rec *domain.Session) State {
	s := State{
		SessionID:       rec.ID,
		UserID:          rec.UserID,
		TaskID:          rec.TaskID,
		Planned:         time.Duration(rec.DurationMs) * time.Millisecond,
		Status:          rec.Status,
		StartedAt:       rec.StartTime,
		Accumulated:     time.Duration(rec.AccumulatedActiveMs) * time.Millisecond,
		EndedAt:         copyTime(rec.EndTime),
		Interruptions:   append([]domain.Interruption{}, rec.Interruptions...),
		LastPersistedAt: rec.UpdatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	if s.Status == domain.SessionStatusRunning || s.Status == domain.SessionStatusPaused {
		s.Status = domain.SessionStatusPaused
		pausedAt := rec.UpdatedAt
		s.PausedAt = &pausedAt
	}
	return s
}

func (s State) clone() State {
	c := s
	c.Interruptions = append([]domain.Interruption(nil), s.Interruptions...)
	c.PausedAt = copyTime(s.PausedAt)
	c.EndedAt = copyTime(s.EndedAt)
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
