package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/clock"
	"github.com/phrazzld/pomo-api/internal/config"
	"github.com/phrazzld/pomo-api/internal/domain"
	"github.com/phrazzld/pomo-api/internal/events"
	"github.com/phrazzld/pomo-api/internal/store"
)

// Config tunes the engine.
type Config struct {
	DefaultDuration time.Duration
	MaxDuration     time.Duration

	PersistAttempts  int
	PersistBackoff   time.Duration
	PersistTimeout   time.Duration
	TerminalAttempts int

	InboxSize int
}

// DefaultConfig returns the engine defaults: 25 minute sessions.
func DefaultConfig() Config {
	return Config{
		DefaultDuration:  25 * time.Minute,
		MaxDuration:      4 * time.Hour,
		PersistAttempts:  3,
		PersistBackoff:   50 * time.Millisecond,
		PersistTimeout:   2 * time.Second,
		TerminalAttempts: 8,
		InboxSize:        16,
	}
}

// NewConfig converts the loaded session settings.
func NewConfig(c config.SessionConfig) Config {
	return Config{
		DefaultDuration:  time.Duration(c.DefaultDurationMs) * time.Millisecond,
		MaxDuration:      time.Duration(c.MaxDurationMs) * time.Millisecond,
		PersistAttempts:  c.PersistMaxAttempts,
		PersistBackoff:   time.Duration(c.PersistBackoffMs) * time.Millisecond,
		PersistTimeout:   time.Duration(c.PersistTimeoutMs) * time.Millisecond,
		TerminalAttempts: c.TerminalMaxAttempts,
		InboxSize:        c.InboxSize,
	}
}

// SnapshotReader reads the last published snapshot of a session that is not
// live in this process.
type SnapshotReader interface {
	Get(ctx context.Context, sessionID uuid.UUID) (domain.SessionSnapshot, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.deps.clock = c }
}

// WithMetrics sets the collectors the engine reports to.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.deps.metrics = m }
}

// WithSnapshotReader lets Snapshot consult a shared cache before the store.
func WithSnapshotReader(r SnapshotReader) Option {
	return func(e *Engine) { e.cache = r }
}

// StartRequest describes a new session. A zero SessionID mints a new id and
// a zero Duration uses the configured default.
type StartRequest struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
	TaskID    uuid.UUID
	Duration  time.Duration
}

// Engine is the entry point for session commands. It resolves session ids
// through the Registry and hands each command to the owning Runtime.
type Engine struct {
	cfg      Config
	registry *Registry
	deps     *deps
	cache    SnapshotReader
	logger   *slog.Logger
	closed   atomic.Bool
}

// NewEngine creates an Engine backed by the given store and task counter.
// emitter may be nil when nothing consumes session events.
func NewEngine(
	cfg Config,
	sessions store.SessionStore,
	counter store.TaskCounter,
	emitter events.EventEmitter,
	logger *slog.Logger,
	opts ...Option,
) (*Engine, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store cannot be nil")
	}
	if counter == nil {
		return nil, fmt.Errorf("task counter cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.DefaultDuration <= 0 || cfg.MaxDuration < cfg.DefaultDuration {
		return nil, fmt.Errorf("%w: default %s, max %s", domain.ErrInvalidDuration, cfg.DefaultDuration, cfg.MaxDuration)
	}
	if cfg.InboxSize < 1 {
		cfg.InboxSize = 1
	}

	e := &Engine{
		cfg:      cfg,
		registry: NewRegistry(),
		logger:   logger.With("component", "session_engine"),
	}
	e.deps = &deps{
		sessions: sessions,
		counter:  counter,
		emitter:  emitter,
		clock:    clock.System,
		logger:   logger.With("component", "session_runtime"),
		persist: retryPolicy{
			attempts: cfg.PersistAttempts,
			backoff:  cfg.PersistBackoff,
			timeout:  cfg.PersistTimeout,
		},
		terminal: retryPolicy{
			attempts: cfg.TerminalAttempts,
			backoff:  cfg.PersistBackoff,
			timeout:  cfg.PersistTimeout,
		},
		inboxSize: cfg.InboxSize,
		release:   e.release,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.deps.metrics == nil {
		e.deps.metrics = NewMetrics(nil)
	}
	return e, nil
}

// Registry exposes the live runtimes.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Start creates and starts a session. It fails with ErrAlreadyRunning when
// the session id is already live or the task already has an active session.
func (e *Engine) Start(ctx context.Context, req StartRequest) (domain.SessionSnapshot, error) {
	if e.closed.Load() {
		return domain.SessionSnapshot{}, ErrEngineClosed
	}

	planned := req.Duration
	if planned == 0 {
		planned = e.cfg.DefaultDuration
	}
	if planned < 0 || planned > e.cfg.MaxDuration {
		return domain.SessionSnapshot{}, fmt.Errorf("%w: %s is outside (0, %s]",
			domain.ErrInvalidDuration, planned, e.cfg.MaxDuration)
	}

	id := req.SessionID
	if id == uuid.Nil {
		id = uuid.New()
	}

	active, err := e.deps.sessions.FindActiveByTask(ctx, req.UserID, req.TaskID)
	switch {
	case err == nil && active != nil:
		return domain.SessionSnapshot{}, fmt.Errorf("%w: task %s has active session %s",
			ErrAlreadyRunning, req.TaskID, active.ID)
	case err != nil && !store.IsNotFoundError(err):
		return domain.SessionSnapshot{}, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}

	rt, created, err := e.registry.GetOrCreate(id, func() (*Runtime, error) {
		return newRuntime(id, req.UserID, State{}, e.deps), nil
	})
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	if !created {
		return domain.SessionSnapshot{}, fmt.Errorf("%w: session %s", ErrAlreadyRunning, id)
	}

	st, err := rt.submit(ctx, Event{
		Kind:      EventStart,
		SessionID: id,
		UserID:    req.UserID,
		TaskID:    req.TaskID,
		Planned:   planned,
	})
	if err != nil {
		return e.snapshotOf(st), err
	}

	e.logger.Info("session started",
		"session_id", id,
		"user_id", req.UserID,
		"task_id", req.TaskID,
		"planned_ms", planned.Milliseconds())
	return e.snapshotOf(st), nil
}

// Pause stops the countdown, banking the active time so far.
func (e *Engine) Pause(ctx context.Context, userID, sessionID uuid.UUID) (domain.SessionSnapshot, error) {
	return e.command(ctx, userID, sessionID, Event{Kind: EventPause})
}

// Resume restarts the countdown for the remaining time.
func (e *Engine) Resume(ctx context.Context, userID, sessionID uuid.UUID) (domain.SessionSnapshot, error) {
	return e.command(ctx, userID, sessionID, Event{Kind: EventResume})
}

// Complete finishes a running session early and credits the task.
func (e *Engine) Complete(ctx context.Context, userID, sessionID uuid.UUID) (domain.SessionSnapshot, error) {
	return e.command(ctx, userID, sessionID, Event{Kind: EventComplete})
}

// Abort ends a session without crediting the task.
func (e *Engine) Abort(ctx context.Context, userID, sessionID uuid.UUID) (domain.SessionSnapshot, error) {
	return e.command(ctx, userID, sessionID, Event{Kind: EventAbort})
}

// LogInterruption appends an interruption to the session log. It does not
// pause the countdown.
func (e *Engine) LogInterruption(
	ctx context.Context,
	userID, sessionID uuid.UUID,
	kind domain.InterruptionType,
	duration time.Duration,
	notes string,
) (domain.SessionSnapshot, error) {
	return e.command(ctx, userID, sessionID, Event{
		Kind: EventLogInterruption,
		Interruption: domain.Interruption{
			Type:       kind,
			DurationMs: duration.Milliseconds(),
			Notes:      notes,
		},
	})
}

// Snapshot returns the current view of a session. Live sessions are read
// from their runtime; others come from the cache or the store.
func (e *Engine) Snapshot(ctx context.Context, userID, sessionID uuid.UUID) (domain.SessionSnapshot, error) {
	now := e.deps.clock.Now()

	if rt, err := e.registry.Get(sessionID); err == nil {
		if rt.Owner() != userID {
			return domain.SessionSnapshot{}, ErrNotFound
		}
		return rt.View().Snapshot(now), nil
	}

	if e.cache != nil {
		snap, err := e.cache.Get(ctx, sessionID)
		if err == nil {
			if snap.UserID != userID {
				return domain.SessionSnapshot{}, ErrNotFound
			}
			return advance(snap, now), nil
		}
		if !store.IsNotFoundError(err) {
			e.logger.Warn("snapshot cache read failed", "session_id", sessionID, "error", err)
		}
	}

	rec, err := e.deps.sessions.Get(ctx, sessionID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return domain.SessionSnapshot{}, ErrNotFound
		}
		return domain.SessionSnapshot{}, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	if rec.UserID != userID {
		return domain.SessionSnapshot{}, ErrNotFound
	}
	return domain.SnapshotFromSession(rec, now), nil
}

// Heartbeat asks every running session to publish its countdown.
func (e *Engine) Heartbeat() {
	for _, rt := range e.registry.All() {
		rt.Heartbeat()
	}
}

func (e *Engine) command(ctx context.Context, userID, sessionID uuid.UUID, ev Event) (domain.SessionSnapshot, error) {
	if e.closed.Load() {
		return domain.SessionSnapshot{}, ErrEngineClosed
	}

	rt, err := e.lookup(ctx, userID, sessionID)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}

	st, err := rt.submit(ctx, ev)
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrEngineClosed) {
		return domain.SessionSnapshot{}, err
	}
	return e.snapshotOf(st), err
}

// lookup returns the live runtime for a session, rehydrating a paused
// session from the store if this process has no runtime for it.
func (e *Engine) lookup(ctx context.Context, userID, sessionID uuid.UUID) (*Runtime, error) {
	if rt, err := e.registry.Get(sessionID); err == nil {
		if rt.Owner() != userID {
			return nil, ErrNotFound
		}
		return rt, nil
	}

	rec, err := e.deps.sessions.Get(ctx, sessionID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	if rec.UserID != userID {
		return nil, ErrNotFound
	}
	if rec.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidTransition, rec.Status)
	}
	settled, err := e.settleCredited(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	if settled {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidTransition, rec.Status)
	}

	state := StateFromRecord(rec)
	rt, created, err := e.registry.GetOrCreate(sessionID, func() (*Runtime, error) {
		return newRuntime(sessionID, rec.UserID, state, e.deps), nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		e.logger.Info("rehydrated session from store",
			"session_id", sessionID,
			"stored_status", rec.Status,
			"accumulated_ms", rec.AccumulatedActiveMs)
	}
	if rt.Owner() != userID {
		return nil, ErrNotFound
	}
	return rt, nil
}

// settleCredited finishes a stored session that already credited its task
// but whose terminal write was lost. Such a session is never revived.
// rec is updated in place when settled is true.
func (e *Engine) settleCredited(ctx context.Context, rec *domain.Session) (settled bool, err error) {
	credited, err := e.deps.counter.IsCredited(ctx, rec.ID)
	if err != nil || !credited {
		return false, err
	}

	now := e.deps.clock.Now()
	done := *rec
	done.Status = domain.SessionStatusCompleted
	done.Completed = true
	done.EndTime = &now
	done.UpdatedAt = now
	if err := e.deps.sessions.Update(ctx, &done); err != nil {
		return false, err
	}
	*rec = done

	e.logger.Warn("settled credited session left unfinished in store",
		"session_id", rec.ID,
		"task_id", rec.TaskID,
		"accumulated_ms", rec.AccumulatedActiveMs)
	return true, nil
}

func (e *Engine) release(rt *Runtime) {
	if !e.registry.Remove(rt.ID(), rt) {
		e.logger.Warn("session runtime already deregistered",
			"session_id", rt.ID(),
			"error", ErrInternalRace)
	}
}

func (e *Engine) snapshotOf(st State) domain.SessionSnapshot {
	if st.Status == "" {
		return domain.SessionSnapshot{}
	}
	return st.Snapshot(e.deps.clock.Now())
}

// advance moves a snapshot taken elsewhere forward to now.
func advance(snap domain.SessionSnapshot, now time.Time) domain.SessionSnapshot {
	if snap.Status != domain.SessionStatusRunning || !now.After(snap.ServerTime) {
		return snap
	}
	elapsed := now.Sub(snap.ServerTime).Milliseconds()
	snap.AccumulatedMs += elapsed
	if snap.AccumulatedMs > snap.PlannedMs {
		snap.AccumulatedMs = snap.PlannedMs
	}
	snap.RemainingMs = snap.PlannedMs - snap.AccumulatedMs
	snap.ServerTime = now
	return snap
}
