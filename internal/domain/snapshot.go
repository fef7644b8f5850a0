package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionSnapshot is the client-facing view of a session at a single instant,
// with remaining time derived from the server clock.
type SessionSnapshot struct {
	SessionID     uuid.UUID      `json:"session_id"`
	UserID        uuid.UUID      `json:"user_id"`
	TaskID        uuid.UUID      `json:"task_id"`
	Status        SessionStatus  `json:"status"`
	PlannedMs     int64          `json:"planned_ms"`
	AccumulatedMs int64          `json:"accumulated_ms"`
	RemainingMs   int64          `json:"remaining_ms"`
	StartedAt     time.Time      `json:"started_at"`
	PausedAt      *time.Time     `json:"paused_at,omitempty"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
	Interruptions []Interruption `json:"interruptions"`
	ServerTime    time.Time      `json:"server_time"`
}

// SnapshotFromSession builds a snapshot from a persisted record. Records have
// no live countdown, so remaining time is planned minus accumulated.
func SnapshotFromSession(s *Session, now time.Time) SessionSnapshot {
	remaining := s.DurationMs - s.AccumulatedActiveMs
	if remaining < 0 {
		remaining = 0
	}

	snap := SessionSnapshot{
		SessionID:     s.ID,
		UserID:        s.UserID,
		TaskID:        s.TaskID,
		Status:        s.Status,
		PlannedMs:     s.DurationMs,
		AccumulatedMs: s.AccumulatedActiveMs,
		RemainingMs:   remaining,
		StartedAt:     s.StartTime,
		EndedAt:       s.EndTime,
		Interruptions: append([]Interruption{}, s.Interruptions...),
		ServerTime:    now,
	}
	if s.Status == SessionStatusPaused {
		pausedAt := s.UpdatedAt
		snap.PausedAt = &pausedAt
	}
	return snap
}
