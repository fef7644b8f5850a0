package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/pomo-api/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Coordinator runs the process-wide parts of the session lifecycle: startup
// recovery, the cosmetic heartbeat, and graceful shutdown.
type Coordinator struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
}

// NewCoordinator creates a Coordinator. A zero interval disables the heartbeat.
func NewCoordinator(engine *Engine, interval time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		engine:   engine,
		interval: interval,
		logger:   logger.With("component", "session_coordinator"),
	}
}

// Recover marks sessions left running by a process that exited without
// flushing as paused, keeping their last persisted active time. Sessions
// that already credited their task are settled as completed. It returns
// the number of sessions recovered.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	orphans, err := c.engine.deps.sessions.ListByStatus(ctx, domain.SessionStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list running sessions: %w", err)
	}

	now := c.engine.deps.clock.Now()
	recovered := 0
	for _, rec := range orphans {
		if _, err := c.engine.registry.Get(rec.ID); err == nil {
			continue
		}

		settled, err := c.engine.settleCredited(ctx, rec)
		if err != nil {
			c.logger.Error("failed to check interval credit for orphaned session",
				"session_id", rec.ID,
				"error", err)
			continue
		}
		if settled {
			recovered++
			continue
		}

		rec.Status = domain.SessionStatusPaused
		rec.UpdatedAt = now
		if err := c.engine.deps.sessions.Update(ctx, rec); err != nil {
			c.logger.Error("failed to recover orphaned session",
				"session_id", rec.ID,
				"error", err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		c.logger.Info("recovered orphaned running sessions", "count", recovered)
	}
	return recovered, nil
}

// RunHeartbeat publishes the countdown of every running session each
// interval until ctx is done. The heartbeat never decides completion.
func (c *Coordinator) RunHeartbeat(ctx context.Context) {
	if c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.engine.Heartbeat()
		}
	}
}

// Shutdown stops accepting commands, flushes every live session as paused
// without crediting any task, stops all deadline timers and clears the
// registry. It returns the first flush error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.engine.closed.Store(true)

	live := c.engine.registry.All()
	c.logger.Info("flushing live sessions", "count", len(live))

	var g errgroup.Group
	for _, rt := range live {
		rt := rt
		g.Go(func() error {
			_, err := rt.Flush(ctx)
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
				// Finished on its own before the flush arrived.
				return nil
			}
			if err != nil {
				return fmt.Errorf("flush session %s: %w", rt.ID(), err)
			}
			return nil
		})
	}
	err := g.Wait()

	c.engine.registry.Clear()
	if err != nil {
		c.logger.Error("session flush incomplete", "error", err)
		return err
	}
	c.logger.Info("all sessions flushed")
	return nil
}
