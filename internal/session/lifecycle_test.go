package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/domain"
	"github.com/phrazzld/pomo-api/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCoordinator_ShutdownFlushesAsPaused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	running := h.start(t)
	paused, err := h.engine.Start(ctx, StartRequest{UserID: h.userID, TaskID: uuid.New()})
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	_, err = h.engine.Pause(ctx, h.userID, paused.SessionID)
	require.NoError(t, err)
	h.clock.Advance(3 * time.Minute)

	coord := NewCoordinator(h.engine, 0, discardLogger())
	require.NoError(t, coord.Shutdown(ctx))

	assert.Equal(t, 0, h.engine.Registry().Len())
	assert.Equal(t, 0, h.clock.PendingTimers(), "shutdown stops every deadline timer")
	assert.Equal(t, 0, h.counter.Calls(), "unfinished sessions must not credit tasks")

	runningRec := h.store.Record(t, running.SessionID)
	assert.Equal(t, domain.SessionStatusPaused, runningRec.Status)
	assert.False(t, runningRec.Completed)
	assert.Nil(t, runningRec.EndTime)
	assert.Equal(t, (5 * time.Minute).Milliseconds(), runningRec.AccumulatedActiveMs)

	pausedRec := h.store.Record(t, paused.SessionID)
	assert.Equal(t, domain.SessionStatusPaused, pausedRec.Status)
	assert.Equal(t, (2 * time.Minute).Milliseconds(), pausedRec.AccumulatedActiveMs)

	assert.Contains(t, h.emitter.Reasons(running.SessionID), events.ReasonFlushed)

	_, err = h.engine.Resume(ctx, h.userID, paused.SessionID)
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = h.engine.Start(ctx, StartRequest{UserID: h.userID, TaskID: uuid.New()})
	assert.ErrorIs(t, err, ErrEngineClosed)

	// The deadline that would have fired never completes the session.
	h.clock.Advance(time.Hour)
	assert.Equal(t, 0, h.counter.Calls())
}

func TestCoordinator_ShutdownSkipsRedundantWrites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	snap := h.start(t)
	_, err := h.engine.Pause(ctx, h.userID, snap.SessionID)
	require.NoError(t, err)
	_, updatesBefore := h.store.Calls()

	require.NoError(t, NewCoordinator(h.engine, 0, discardLogger()).Shutdown(ctx))

	_, updatesAfter := h.store.Calls()
	assert.Equal(t, updatesBefore, updatesAfter, "already persisted paused sessions need no flush")
}

func TestCoordinator_ShutdownReportsFlushFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.start(t)
	h.store.UpdateFn = func(ctx context.Context, s *domain.Session) error { return errTransient }

	err := NewCoordinator(h.engine, 0, discardLogger()).Shutdown(ctx)
	assert.ErrorIs(t, err, ErrPersistenceFailure)
	assert.Equal(t, 0, h.engine.Registry().Len(), "registry is cleared even when a flush fails")
	assert.Equal(t, 0, h.counter.Calls())
}

func TestCoordinator_Recover(t *testing.T) {
	h := newHarness(t)
	orphan := uuid.New()
	h.store.Put(domain.Session{
		ID:                  orphan,
		UserID:              h.userID,
		TaskID:              h.taskID,
		StartTime:           testStart.Add(-time.Hour),
		DurationMs:          testPlanned.Milliseconds(),
		Status:              domain.SessionStatusRunning,
		AccumulatedActiveMs: 60000,
		UpdatedAt:           testStart.Add(-time.Hour),
	})
	finished := uuid.New()
	end := testStart
	h.store.Put(domain.Session{
		ID: finished, UserID: h.userID, TaskID: uuid.New(), StartTime: testStart.Add(-time.Hour),
		DurationMs: 1000, Status: domain.SessionStatusAborted, EndTime: &end,
	})

	coord := NewCoordinator(h.engine, 0, discardLogger())
	n, err := coord.Recover(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rec := h.store.Record(t, orphan)
	assert.Equal(t, domain.SessionStatusPaused, rec.Status)
	assert.Equal(t, int64(60000), rec.AccumulatedActiveMs)
	assert.Equal(t, testStart, rec.UpdatedAt)
	assert.Equal(t, domain.SessionStatusAborted, h.store.Record(t, finished).Status)
	assert.Equal(t, 0, h.counter.Calls())
}

func TestCoordinator_RecoverSettlesCreditedSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orphan := uuid.New()
	h.store.Put(domain.Session{
		ID:                  orphan,
		UserID:              h.userID,
		TaskID:              h.taskID,
		StartTime:           testStart.Add(-time.Hour),
		DurationMs:          testPlanned.Milliseconds(),
		Status:              domain.SessionStatusRunning,
		AccumulatedActiveMs: testPlanned.Milliseconds(),
		UpdatedAt:           testStart.Add(-time.Hour),
	})
	require.NoError(t, h.counter.IncrementCompletedIntervals(ctx, h.taskID, orphan))

	n, err := NewCoordinator(h.engine, 0, discardLogger()).Recover(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rec := h.store.Record(t, orphan)
	assert.Equal(t, domain.SessionStatusCompleted, rec.Status)
	assert.True(t, rec.Completed)
	require.NotNil(t, rec.EndTime)
	assert.Equal(t, testStart, *rec.EndTime)
	assert.Equal(t, 1, h.counter.Credits(h.taskID))
}

func TestCoordinator_RunHeartbeat(t *testing.T) {
	h := newHarness(t)
	snap := h.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewCoordinator(h.engine, 5*time.Millisecond, discardLogger()).RunHeartbeat(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		for _, r := range h.emitter.Reasons(snap.SessionID) {
			if r == events.ReasonHeartbeat {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat loop did not stop after cancellation")
	}
}

func TestCoordinator_RunHeartbeatDisabled(t *testing.T) {
	h := newHarness(t)
	done := make(chan struct{})
	go func() {
		NewCoordinator(h.engine, 0, discardLogger()).RunHeartbeat(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled heartbeat should return immediately")
	}
}
