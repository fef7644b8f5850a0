package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/domain"
)

// Reason describes why a session event was emitted.
type Reason string

// Possible event reasons
const (
	ReasonStarted            Reason = "started"
	ReasonPaused             Reason = "paused"
	ReasonResumed            Reason = "resumed"
	ReasonCompleted          Reason = "completed"
	ReasonAborted            Reason = "aborted"
	ReasonInterruptionLogged Reason = "interruption_logged"
	ReasonHeartbeat          Reason = "heartbeat"
	ReasonFlushed            Reason = "flushed"
)

// SessionEvent carries the state of one session at the moment it was emitted.
type SessionEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Reason Reason `json:"reason"`

	Snapshot domain.SessionSnapshot `json:"snapshot"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewSessionEvent creates a SessionEvent for the given snapshot.
func NewSessionEvent(reason Reason, snap domain.SessionSnapshot) *SessionEvent {
	return &SessionEvent{
		ID:        uuid.New(),
		Reason:    reason,
		Snapshot:  snap,
		CreatedAt: snap.ServerTime,
	}
}

// IsTerminal reports whether the event ends the session.
func (e *SessionEvent) IsTerminal() bool {
	return e.Reason == ReasonCompleted || e.Reason == ReasonAborted
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *SessionEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the session engine to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *SessionEvent) error
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc func(ctx context.Context, event *SessionEvent) error

// HandleEvent calls f(ctx, event).
func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *SessionEvent) error {
	return f(ctx, event)
}
