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
	"github.com/phrazzld/pomo-api/internal/domain"
	"github.com/phrazzld/pomo-api/internal/events"
	"github.com/phrazzld/pomo-api/internal/store"
	"github.com/sethvargo/go-retry"
)

// retryPolicy bounds the attempts for one store write.
type retryPolicy struct {
	attempts int
	backoff  time.Duration
	timeout  time.Duration
}

// deps are shared by every runtime of one engine.
type deps struct {
	sessions store.SessionStore
	counter  store.TaskCounter
	emitter  events.EventEmitter
	clock    clock.Clock
	metrics  *Metrics
	logger   *slog.Logger

	persist   retryPolicy
	terminal  retryPolicy
	inboxSize int

	// release deregisters a runtime that reached a terminal state.
	release func(rt *Runtime)
}

type envelopeKind int

const (
	envCommand envelopeKind = iota
	envTick
	envHeartbeat
	envFlush
)

type envelope struct {
	kind  envelopeKind
	event Event
	gen   uint64
	ctx   context.Context
	reply chan result
}

type result struct {
	state State
	err   error
}

// Runtime owns one session. A single goroutine consumes the inbox, so
// commands and ticks for the session are applied strictly in arrival order.
type Runtime struct {
	id    uuid.UUID
	owner uuid.UUID
	deps  *deps
	log   *slog.Logger

	inbox chan envelope
	done  chan struct{}
	view  atomic.Pointer[State]

	// stopErr is returned to commands that arrive after the loop exited.
	// Written before done is closed.
	stopErr error

	// Owned by the loop goroutine.
	state State
	timer clock.Timer
	gen   uint64
}

func newRuntime(id, owner uuid.UUID, initial State, d *deps) *Runtime {
	rt := &Runtime{
		id:    id,
		owner: owner,
		deps:  d,
		log:   d.logger.With("session_id", id, "user_id", owner),
		inbox: make(chan envelope, d.inboxSize),
		done:  make(chan struct{}),
		state: initial,
	}
	view := initial.clone()
	rt.view.Store(&view)

	go rt.loop()
	return rt
}

// ID returns the session id.
func (r *Runtime) ID() uuid.UUID {
	return r.id
}

// Owner returns the id of the user the session belongs to.
func (r *Runtime) Owner() uuid.UUID {
	return r.owner
}

// View returns the most recently published state.
func (r *Runtime) View() State {
	return r.view.Load().clone()
}

// Done is closed when the runtime has stopped.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}

func (r *Runtime) loop() {
	r.deps.metrics.ActiveSessions.Inc()
	defer r.deps.metrics.ActiveSessions.Dec()
	defer close(r.done)

	for env := range r.inbox {
		if r.handle(env) {
			return
		}
	}
}

// submit delivers ev and waits for its result. If the runtime stops before
// handling it, the caller gets the final state and the stop error.
func (r *Runtime) submit(ctx context.Context, ev Event) (State, error) {
	env := envelope{
		kind:  envCommand,
		event: ev,
		ctx:   context.WithoutCancel(ctx),
		reply: make(chan result, 1),
	}
	return r.send(ctx, env)
}

// Flush persists a pause-equivalent state and stops the runtime without
// crediting the task counter.
func (r *Runtime) Flush(ctx context.Context) (State, error) {
	env := envelope{
		kind:  envFlush,
		ctx:   context.WithoutCancel(ctx),
		reply: make(chan result, 1),
	}
	return r.send(ctx, env)
}

// Heartbeat asks a running session to publish its countdown. It never blocks;
// a busy runtime skips the beat.
func (r *Runtime) Heartbeat() {
	select {
	case <-r.done:
	case r.inbox <- envelope{kind: envHeartbeat}:
	default:
	}
}

func (r *Runtime) send(ctx context.Context, env envelope) (State, error) {
	select {
	case r.inbox <- env:
	case <-r.done:
		return r.View(), r.stopErr
	case <-ctx.Done():
		return State{}, ctx.Err()
	}

	select {
	case res := <-env.reply:
		return res.state, res.err
	case <-r.done:
		select {
		case res := <-env.reply:
			return res.state, res.err
		default:
		}
		return r.View(), r.stopErr
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// handle processes one envelope and reports whether the loop must exit.
func (r *Runtime) handle(env envelope) bool {
	switch env.kind {
	case envCommand:
		return r.apply(env.ctx, env.event, env.reply)

	case envTick:
		if env.gen != r.gen || r.state.Status != domain.SessionStatusRunning {
			r.deps.metrics.StaleTicks.Inc()
			r.log.Warn("ignoring stale deadline tick",
				"error", ErrInternalRace,
				"tick_generation", env.gen,
				"current_generation", r.gen,
				"status", r.state.Status)
			return false
		}
		r.timer = nil
		return r.apply(context.Background(), Event{Kind: EventTickExpired}, nil)

	case envHeartbeat:
		if r.state.Status == domain.SessionStatusRunning {
			r.publish(context.Background(), events.ReasonHeartbeat)
		}
		return false

	case envFlush:
		r.flush(env.ctx, env.reply)
		return true
	}
	return false
}

func (r *Runtime) apply(ctx context.Context, ev Event, reply chan result) bool {
	ev.At = r.deps.clock.Now()
	prev := r.state

	next, fx, err := Transition(prev, ev)
	r.deps.metrics.observe(ev.Kind, err)
	if err != nil {
		r.log.Debug("rejected session command", "event", ev.Kind.String(), "error", err)
		respond(reply, prev, err)
		return false
	}
	if len(fx) == 0 {
		respond(reply, prev, nil)
		return false
	}

	if fx.Has(EffectCancelTick) {
		r.cancelTick()
	}

	if fx.Has(EffectStop) {
		r.terminate(ctx, prev, next, fx, ev, reply)
		return true
	}

	next, err = r.persist(ctx, prev, next, r.deps.persist)
	if err != nil && prev.Status == "" {
		// The session never became durable, so it does not exist.
		r.log.Error("failed to create session record", "error", err)
		r.deps.release(r)
		r.stopErr = ErrNotFound
		respond(reply, State{}, err)
		return true
	}
	if err != nil {
		r.log.Error("session transition not persisted",
			"event", ev.Kind.String(),
			"status", next.Status,
			"error", err)
	}

	r.setState(next)
	for _, e := range fx {
		if e.Kind == EffectArmTick {
			r.armTick(e.After)
		}
	}
	r.publish(ctx, reasonFor(ev.Kind))
	respond(reply, next, err)
	return false
}

// terminate applies a Completed or Aborted transition. The runtime stays
// registered until the terminal write succeeds or its retry budget runs out.
func (r *Runtime) terminate(ctx context.Context, prev, next State, fx Effects, ev Event, reply chan result) {
	if fx.Has(EffectIncrementCounter) {
		err := r.withRetry(ctx, r.deps.terminal, "increment counter", func(ctx context.Context) error {
			return r.deps.counter.IncrementCompletedIntervals(ctx, next.TaskID, next.SessionID)
		})
		if err != nil {
			r.deps.metrics.PersistenceFailures.WithLabelValues("counter").Inc()
			r.log.Error("failed to credit completed interval to task",
				"task_id", next.TaskID,
				"error", err)
		}
		r.deps.metrics.Completions.Inc()
	}

	next, err := r.persist(ctx, prev, next, r.deps.terminal)
	if err != nil {
		r.log.Error("terminal session write lost, force-removing session",
			"status", next.Status,
			"accumulated_ms", next.Accumulated.Milliseconds(),
			"error", err)
	}

	r.deps.release(r)
	r.setState(next)
	r.publish(ctx, reasonFor(ev.Kind))
	r.stopErr = fmt.Errorf("%w: session is %s", ErrInvalidTransition, next.Status)
	respond(reply, next, err)

	r.log.Info("session finished",
		"status", next.Status,
		"accumulated_ms", next.Accumulated.Milliseconds(),
		"interruptions", len(next.Interruptions))
}

func (r *Runtime) flush(ctx context.Context, reply chan result) {
	r.cancelTick()
	r.stopErr = ErrEngineClosed

	prev := r.state
	if prev.Status != domain.SessionStatusRunning && prev.Status != domain.SessionStatusPaused {
		respond(reply, prev, nil)
		return
	}
	if prev.Status == domain.SessionStatusPaused && prev.LastPersistedAt.Equal(prev.UpdatedAt) {
		respond(reply, prev, nil)
		return
	}

	now := r.deps.clock.Now()
	next := prev.clone()
	if prev.Status == domain.SessionStatusRunning {
		next.Accumulated = prev.ActiveAt(now)
		next.Status = domain.SessionStatusPaused
		next.PausedAt = &now
		next.UpdatedAt = now
	}

	next, err := r.persist(ctx, prev, next, r.deps.persist)
	if err != nil {
		r.log.Error("failed to flush session on shutdown", "error", err)
	}
	r.setState(next)
	r.publish(ctx, events.ReasonFlushed)
	respond(reply, next, err)
}

// persist writes next through the store. A session that has never been
// stored is created, anything else is updated.
func (r *Runtime) persist(ctx context.Context, prev, next State, policy retryPolicy) (State, error) {
	rec := next.Record()
	write := r.deps.sessions.Update
	op := "update session"
	if prev.Status == "" {
		write = r.deps.sessions.Create
		op = "create session"
	}

	err := r.withRetry(ctx, policy, op, func(ctx context.Context) error {
		return write(ctx, rec)
	})
	if err != nil {
		r.deps.metrics.PersistenceFailures.WithLabelValues("session").Inc()
		switch {
		case store.IsDuplicateError(err):
			return next, fmt.Errorf("%w: %w", ErrAlreadyRunning, err)
		case errors.Is(err, store.ErrTaskNotFound):
			return next, fmt.Errorf("%w: %w", ErrNotFound, err)
		default:
			return next, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
		}
	}

	next.LastPersistedAt = next.UpdatedAt
	return next, nil
}

// withRetry runs op with exponential backoff until it succeeds, fails
// permanently, or the policy's attempts are used up.
func (r *Runtime) withRetry(ctx context.Context, p retryPolicy, op string, fn func(context.Context) error) error {
	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}
	b := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(p.backoff))

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil || store.IsPermanentError(err) {
			return err
		}
		r.log.Warn("store write failed",
			"operation", op,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err)
		return retry.RetryableError(err)
	})
}

func (r *Runtime) armTick(d time.Duration) {
	r.cancelTick()
	gen := r.gen
	r.timer = r.deps.clock.AfterFunc(d, func() {
		select {
		case r.inbox <- envelope{kind: envTick, gen: gen}:
		case <-r.done:
		}
	})
}

// cancelTick stops the pending timer and invalidates any tick already in
// flight by moving to a new generation.
func (r *Runtime) cancelTick() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
}

func (r *Runtime) setState(s State) {
	r.state = s
	view := s.clone()
	r.view.Store(&view)
}

func (r *Runtime) publish(ctx context.Context, reason events.Reason) {
	if r.deps.emitter == nil {
		return
	}
	ev := events.NewSessionEvent(reason, r.state.Snapshot(r.deps.clock.Now()))
	if err := r.deps.emitter.EmitEvent(ctx, ev); err != nil {
		r.log.Warn("failed to publish session event", "reason", reason, "error", err)
	}
}

func respond(reply chan result, s State, err error) {
	if reply != nil {
		reply <- result{state: s, err: err}
	}
}

func reasonFor(kind EventKind) events.Reason {
	switch kind {
	case EventStart:
		return events.ReasonStarted
	case EventPause:
		return events.ReasonPaused
	case EventResume:
		return events.ReasonResumed
	case EventTickExpired, EventComplete:
		return events.ReasonCompleted
	case EventAbort:
		return events.ReasonAborted
	case EventLogInterruption:
		return events.ReasonInterruptionLogged
	default:
		return events.Reason(kind.String())
	}
}
