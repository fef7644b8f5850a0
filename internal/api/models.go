package api

import (
	"time"

	"github.com/phrazzld/pomo-api/internal/domain"
)

// StartSessionRequest is the body of POST /api/sessions.
type StartSessionRequest struct {
	// SessionID lets clients retry a start without creating a second session.
	SessionID  string `json:"session_id,omitempty"  validate:"omitempty,uuid"`
	TaskID     string `json:"task_id"               validate:"required,uuid"`
	DurationMs int64  `json:"duration_ms,omitempty" validate:"omitempty,gt=0"`
}

// LogInterruptionRequest is the body of POST /api/sessions/{id}/interruptions.
type LogInterruptionRequest struct {
	Type       string `json:"type"            validate:"required,oneof=urgent break"`
	DurationMs int64  `json:"duration_ms"     validate:"gte=0"`
	Notes      string `json:"notes,omitempty" validate:"max=500"`
}

// InterruptionResponse is one entry of a session's interruption log.
type InterruptionResponse struct {
	Type       string    `json:"type"`
	DurationMs int64     `json:"duration_ms"`
	LoggedAt   time.Time `json:"logged_at"`
	Notes      string    `json:"notes,omitempty"`
}

// SessionResponse is the client view of a session.
type SessionResponse struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"user_id"`
	TaskID        string                 `json:"task_id"`
	Status        string                 `json:"status"`
	Completed     bool                   `json:"completed"`
	PlannedMs     int64                  `json:"planned_ms"`
	AccumulatedMs int64                  `json:"accumulated_ms"`
	RemainingMs   int64                  `json:"remaining_ms"`
	StartedAt     time.Time              `json:"started_at"`
	PausedAt      *time.Time             `json:"paused_at,omitempty"`
	EndedAt       *time.Time             `json:"ended_at,omitempty"`
	Interruptions []InterruptionResponse `json:"interruptions"`
	ServerTime    time.Time              `json:"server_time"`
}

func sessionToResponse(snap domain.SessionSnapshot) SessionResponse {
	interruptions := make([]InterruptionResponse, 0, len(snap.Interruptions))
	for _, i := range snap.Interruptions {
		interruptions = append(interruptions, InterruptionResponse{
			Type:       string(i.Type),
			DurationMs: i.DurationMs,
			LoggedAt:   i.LoggedAt,
			Notes:      i.Notes,
		})
	}

	return SessionResponse{
		ID:            snap.SessionID.String(),
		UserID:        snap.UserID.String(),
		TaskID:        snap.TaskID.String(),
		Status:        string(snap.Status),
		Completed:     snap.Status == domain.SessionStatusCompleted,
		PlannedMs:     snap.PlannedMs,
		AccumulatedMs: snap.AccumulatedMs,
		RemainingMs:   snap.RemainingMs,
		StartedAt:     snap.StartedAt,
		PausedAt:      snap.PausedAt,
		EndedAt:       snap.EndedAt,
		Interruptions: interruptions,
		ServerTime:    snap.ServerTime,
	}
}
