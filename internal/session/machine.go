package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/domain"
)

// EventKind identifies a state machine input.
type EventKind int

// State machine events.
const (
	EventStart EventKind = iota + 1
	EventPause
	EventResume
	EventTickExpired
	EventComplete
	EventAbort
	EventLogInterruption
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	case EventTickExpired:
		return "tick_expired"
	case EventComplete:
		return "complete"
	case EventAbort:
		return "abort"
	case EventLogInterruption:
		return "log_interruption"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one input to Transition. At is stamped by the runtime when the
// event is taken off the inbox.
type Event struct {
	Kind EventKind
	At   time.Time

	// Start only.
	SessionID uuid.UUID
	UserID    uuid.UUID
	TaskID    uuid.UUID
	Planned   time.Duration

	// LogInterruption only.
	Interruption domain.Interruption
}

// EffectKind identifies a side effect requested by a transition.
type EffectKind int

// Effects, in the order a runtime applies them.
const (
	EffectCancelTick EffectKind = iota + 1
	EffectIncrementCounter
	EffectPersist
	EffectArmTick
	EffectBroadcast
	EffectStop
)

// Effect is a side effect for the runtime to perform after a transition.
type Effect struct {
	Kind EffectKind
	// After is the tick delay for EffectArmTick.
	After time.Duration
}

func (e Effect) String() string {
	switch e.Kind {
	case EffectCancelTick:
		return "cancel_tick"
	case EffectIncrementCounter:
		return "increment_counter"
	case EffectPersist:
		return "persist"
	case EffectArmTick:
		return fmt.Sprintf("arm_tick(%s)", e.After)
	case EffectBroadcast:
		return "broadcast"
	case EffectStop:
		return "stop"
	default:
		return fmt.Sprintf("effect(%d)", int(e.Kind))
	}
}

// Effects is the ordered result of a transition.
type Effects []Effect

// Has reports whether the list contains an effect of kind k.
func (fx Effects) Has(k EffectKind) bool {
	for _, e := range fx {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// Transition computes the next state for ev. It performs no I/O. On error
// the returned state is s unchanged and there are no effects. Idempotent
// commands (Pause while Paused, Resume while Running) return s with no effects.
func Transition(s State, ev Event) (State, Effects, error) {
	if ev.Kind == EventStart {
		if s.Status != "" {
			return s, nil, ErrAlreadyRunning
		}
		return start(s, ev)
	}

	if s.Status == "" {
		return s, nil, fmt.Errorf("%w: %s on absent session", ErrInvalidTransition, ev.Kind)
	}
	if s.Status.IsTerminal() {
		return s, nil, fmt.Errorf("%w: %s on %s session", ErrInvalidTransition, ev.Kind, s.Status)
	}

	switch s.Status {
	case domain.SessionStatusRunning:
		return fromRunning(s, ev)
	case domain.SessionStatusPaused:
		return fromPaused(s, ev)
	default:
		return s, nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, s.Status)
	}
}

func start(s State, ev Event) (State, Effects, error) {
	if ev.SessionID == uuid.Nil || ev.UserID == uuid.Nil || ev.TaskID == uuid.Nil {
		return s, nil, fmt.Errorf("%w: session, user and task IDs are required", domain.ErrInvalidID)
	}
	if ev.Planned <= 0 {
		return s, nil, fmt.Errorf("%w: planned duration must be positive", domain.ErrInvalidDuration)
	}

	next := State{
		SessionID:     ev.SessionID,
		UserID:        ev.UserID,
		TaskID:        ev.TaskID,
		Planned:       ev.Planned,
		Status:        domain.SessionStatusRunning,
		StartedAt:     ev.At,
		ResumedAt:     ev.At,
		Interruptions: []domain.Interruption{},
		UpdatedAt:     ev.At,
	}
	return next, Effects{
		{Kind: EffectPersist},
		{Kind: EffectArmTick, After: ev.Planned},
		{Kind: EffectBroadcast},
	}, nil
}

func fromRunning(s State, ev Event) (State, Effects, error) {
	switch ev.Kind {
	case EventPause:
		next := s.clone()
		next.Accumulated = s.ActiveAt(ev.At)
		next.Status = domain.SessionStatusPaused
		pausedAt := ev.At
		next.PausedAt = &pausedAt
		next.UpdatedAt = ev.At
		return next, Effects{
			{Kind: EffectCancelTick},
			{Kind: EffectPersist},
			{Kind: EffectBroadcast},
		}, nil

	case EventResume:
		return s, nil, nil

	case EventTickExpired:
		next := s.clone()
		next.Accumulated = s.Planned
		return finish(next, domain.SessionStatusCompleted, ev.At), completedEffects(), nil

	case EventComplete:
		next := s.clone()
		next.Accumulated = s.ActiveAt(ev.At)
		return finish(next, domain.SessionStatusCompleted, ev.At), completedEffects(), nil

	case EventAbort:
		next := s.clone()
		next.Accumulated = s.ActiveAt(ev.At)
		return finish(next, domain.SessionStatusAborted, ev.At), abortedEffects(), nil

	case EventLogInterruption:
		return logInterruption(s, ev)
	}
	return s, nil, fmt.Errorf("%w: %s on running session", ErrInvalidTransition, ev.Kind)
}

func fromPaused(s State, ev Event) (State, Effects, error) {
	switch ev.Kind {
	case EventPause:
		return s, nil, nil

	case EventResume:
		next := s.clone()
		next.Status = domain.SessionStatusRunning
		next.ResumedAt = ev.At
		next.PausedAt = nil
		next.UpdatedAt = ev.At
		return next, Effects{
			{Kind: EffectPersist},
			{Kind: EffectArmTick, After: s.Planned - s.Accumulated},
			{Kind: EffectBroadcast},
		}, nil

	case EventAbort:
		next := s.clone()
		return finish(next, domain.SessionStatusAborted, ev.At), abortedEffects(), nil

	case EventLogInterruption:
		return logInterruption(s, ev)
	}
	return s, nil, fmt.Errorf("%w: %s on paused session", ErrInvalidTransition, ev.Kind)
}

// finish moves s into a terminal status. Accumulated must already be banked.
func finish(s State, status domain.SessionStatus, at time.Time) State {
	s.Status = status
	s.PausedAt = nil
	endedAt := at
	s.EndedAt = &endedAt
	s.UpdatedAt = at
	return s
}

func logInterruption(s State, ev Event) (State, Effects, error) {
	entry := ev.Interruption
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = ev.At
	}
	if err := entry.Validate(); err != nil {
		return s, nil, err
	}

	next := s.clone()
	if s.Status == domain.SessionStatusRunning {
		// Bank the segment so the persisted active time is current. The
		// deadline is unchanged.
		next.Accumulated = s.ActiveAt(ev.At)
		next.ResumedAt = ev.At
	}
	next.Interruptions = append(next.Interruptions, entry)
	next.UpdatedAt = ev.At
	return next, Effects{
		{Kind: EffectPersist},
		{Kind: EffectBroadcast},
	}, nil
}

func completedEffects() Effects {
	return Effects{
		{Kind: EffectCancelTick},
		{Kind: EffectIncrementCounter},
		{Kind: EffectPersist},
		{Kind: EffectBroadcast},
		{Kind: EffectStop},
	}
}

func abortedEffects() Effects {
	return Effects{
		{Kind: EffectCancelTick},
		{Kind: EffectPersist},
		{Kind: EffectBroadcast},
		{Kind: EffectStop},
	}
}
