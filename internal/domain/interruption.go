package domain

import (
	"fmt"
	"time"
)

// InterruptionType classifies an interruption logged during a session.
type InterruptionType string

// Possible interruption types
const (
	InterruptionUrgent InterruptionType = "urgent"
	InterruptionBreak  InterruptionType = "break"
)

// Interruption is one entry of a session's append-only interruption log.
// Its duration is informational and never subtracted from active time.
type Interruption struct {
	Type       InterruptionType `json:"type"`
	DurationMs int64            `json:"duration_ms"`
	LoggedAt   time.Time        `json:"logged_at"`
	Notes      string           `json:"notes,omitempty"`
}

// Validate checks if the Interruption has valid data.
func (i *Interruption) Validate() error {
	switch i.Type {
	case InterruptionUrgent, InterruptionBreak:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidInterruption, i.Type)
	}

	if i.DurationMs < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidInterruption)
	}

	return nil
}

// TotalInterruptionMs sums the logged durations of the given interruptions.
func TotalInterruptionMs(interruptions []Interruption) int64 {
	var total int64
	for _, i := range interruptions {
		total += i.DurationMs
	}
	return total
}
