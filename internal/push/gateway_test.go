package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/domain"
	"github.com/phrazzld/pomo-api/internal/events"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnknownSession = errors.New("unknown session")

// fakeSource serves snapshots keyed by session id, enforcing ownership.
type fakeSource struct {
	mu    sync.Mutex
	snaps map[uuid.UUID]domain.SessionSnapshot

	// afterRead runs once, after the first snapshot has been read.
	afterRead func()
}

func newFakeSource() *fakeSource {
	return &fakeSource{snaps: make(map[uuid.UUID]domain.SessionSnapshot)}
}

func (f *fakeSource) put(s domain.SessionSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[s.SessionID] = s
}

func (f *fakeSource) Snapshot(ctx context.Context, userID, sessionID uuid.UUID) (domain.SessionSnapshot, error) {
	f.mu.Lock()
	s, ok := f.snaps[sessionID]
	hook := f.afterRead
	f.afterRead = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok || s.UserID != userID {
		return domain.SessionSnapshot{}, errUnknownSession
	}
	return s, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runningSnapshot(userID uuid.UUID, remaining int64) domain.SessionSnapshot {
	return domain.SessionSnapshot{
		SessionID:     uuid.New(),
		UserID:        userID,
		TaskID:        uuid.New(),
		Status:        domain.SessionStatusRunning,
		PlannedMs:     1500000,
		AccumulatedMs: 1500000 - remaining,
		RemainingMs:   remaining,
		ServerTime:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func readState(t *testing.T, c *Client) (Frame, StatePayload) {
	t.Helper()
	select {
	case f := <-c.Outbound():
		require.Equal(t, FrameState, f.Type)
		var p StatePayload
		require.NoError(t, json.Unmarshal(f.Payload, &p))
		return f, p
	case <-time.After(time.Second):
		t.Fatal("expected a frame")
	}
	return Frame{}, StatePayload{}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case f := <-c.Outbound():
		t.Fatalf("unexpected frame %s", f.Type)
	default:
	}
}

func TestGateway_SubscribeResyncsImmediately(t *testing.T) {
	source := newFakeSource()
	g := NewGateway(source, nil, testLogger())
	userID := uuid.New()
	snap := runningSnapshot(userID, 600000)
	source.put(snap)

	c := NewClient(userID, 4)
	g.Connect(c)
	require.NoError(t, g.Subscribe(context.Background(), c, snap.SessionID, "req-1"))

	f, p := readState(t, c)
	assert.Equal(t, "req-1", f.RequestID)
	assert.Equal(t, snap.SessionID, p.SessionID)
	assert.Equal(t, int64(600000), p.RemainingMs)
	assert.NotNil(t, p.Interruptions)
	assert.Equal(t, 1, g.Subscribers(snap.SessionID))
}

func TestGateway_SubscribeRejectsForeignSession(t *testing.T) {
	source := newFakeSource()
	g := NewGateway(source, nil, testLogger())
	snap := runningSnapshot(uuid.New(), 1000)
	source.put(snap)

	intruder := NewClient(uuid.New(), 4)
	g.Connect(intruder)
	err := g.Subscribe(context.Background(), intruder, snap.SessionID, "")

	assert.ErrorIs(t, err, errUnknownSession)
	assert.Equal(t, 0, g.Subscribers(snap.SessionID))
	assertNoFrame(t, intruder)
}

func TestGateway_SubscribeSeesTransitionDuringResync(t *testing.T) {
	source := newFakeSource()
	g := NewGateway(source, nil, testLogger())
	userID := uuid.New()
	running := runningSnapshot(userID, 600000)
	source.put(running)

	paused := running
	paused.Status = domain.SessionStatusPaused
	paused.ServerTime = running.ServerTime.Add(time.Second)
	source.afterRead = func() {
		source.put(paused)
		g.Broadcast(events.ReasonPaused, paused)
	}

	c := NewClient(userID, 4)
	g.Connect(c)
	require.NoError(t, g.Subscribe(context.Background(), c, running.SessionID, "req-1"))

	f, p := readState(t, c)
	assert.Equal(t, events.ReasonPaused, p.Reason)
	assert.Equal(t, domain.SessionStatusPaused, p.Status)

	f, p = readState(t, c)
	assert.Equal(t, "req-1", f.RequestID)
	assert.Equal(t, domain.SessionStatusPaused, p.Status, "resync must not be older than a frame already sent")
	assertNoFrame(t, c)
}

func TestGateway_ForeignSubscriberGetsNothingWhileRejected(t *testing.T) {
	source := newFakeSource()
	g := NewGateway(source, nil, testLogger())
	snap := runningSnapshot(uuid.New(), 1000)
	source.put(snap)

	intruder := NewClient(uuid.New(), 4)
	g.Connect(intruder)
	source.afterRead = func() { g.Broadcast(events.ReasonPaused, snap) }

	err := g.Subscribe(context.Background(), intruder, snap.SessionID, "")

	assert.ErrorIs(t, err, errUnknownSession)
	assert.Equal(t, 0, g.Subscribers(snap.SessionID))
	assertNoFrame(t, intruder)
}

func TestGateway_BroadcastFansOut(t *testing.T) {
	source := newFakeSource()
	g := NewGateway(source, nil, testLogger())
	userID := uuid.New()
	snap := runningSnapshot(userID, 1000)
	source.put(snap)

	bySession := NewClient(userID, 4)
	byUser := NewClient(userID, 4)
	both := NewClient(userID, 4)
	otherUser := NewClient(uuid.New(), 4)
	for _, c := range []*Client{bySession, byUser, both, otherUser} {
		g.Connect(c)
	}
	require.NoError(t, g.Subscribe(context.Background(), bySession, snap.SessionID, ""))
	require.NoError(t, g.Subscribe(context.Background(), both, snap.SessionID, ""))
	require.NoError(t, g.SubscribeUser(byUser))
	require.NoError(t, g.SubscribeUser(both))
	require.NoError(t, g.SubscribeUser(otherUser))
	readState(t, bySession)
	readState(t, both)

	delivered := g.Broadcast(events.ReasonPaused, snap)

	assert.Equal(t, 3, delivered)
	for _, c := range []*Client{bySession, byUser, both} {
		_, p := readState(t, c)
		assert.Equal(t, events.ReasonPaused, p.Reason)
		assertNoFrame(t, c)
	}
	assertNoFrame(t, otherUser)
}

func TestGateway_DropsSlowClient(t *testing.T) {
	source := newFakeSource()
	metrics := NewMetrics(nil)
	g := NewGateway(source, metrics, testLogger())
	userID := uuid.New()
	snap := runningSnapshot(userID, 1000)
	source.put(snap)

	slow := NewClient(userID, 1)
	fast := NewClient(userID, 8)
	g.Connect(slow)
	g.Connect(fast)
	require.NoError(t, g.Subscribe(context.Background(), slow, snap.SessionID, ""))
	require.NoError(t, g.Subscribe(context.Background(), fast, snap.SessionID, ""))

	// slow never drains its single-slot buffer.
	delivered := g.Broadcast(events.ReasonHeartbeat, snap)

	assert.Equal(t, 1, delivered)
	select {
	case <-slow.Closed():
	default:
		t.Fatal("slow client should have been closed")
	}
	assert.Equal(t, 1, g.Subscribers(snap.SessionID))
	assert.Equal(t, 1, g.Clients())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.DroppedClients))

	assert.Equal(t, 1, g.Broadcast(events.ReasonHeartbeat, snap), "dropped clients are not retried")
}

func TestGateway_ResyncUsesCurrentTruth(t *testing.T) {
	source := newFakeSource()
	g := NewGateway(source, nil, testLogger())
	userID := uuid.New()
	snap := runningSnapshot(userID, 900000)
	source.put(snap)

	c := NewClient(userID, 4)
	g.Connect(c)
	require.NoError(t, g.Subscribe(context.Background(), c, snap.SessionID, ""))
	readState(t, c)

	later := snap
	later.RemainingMs = 300000
	later.AccumulatedMs = 1200000
	source.put(later)

	require.NoError(t, g.Resync(context.Background(), c, snap.SessionID, "again"))
	f, p := readState(t, c)
	assert.Equal(t, "again", f.RequestID)
	assert.Equal(t, int64(300000), p.RemainingMs)
}

func TestGateway_TerminalEventEndsSessionSubscriptions(t *testing.T) {
	source := newFakeSource()
	g := NewGateway(source, nil, testLogger())
	userID := uuid.New()
	snap := runningSnapshot(userID, 0)
	source.put(snap)

	c := NewClient(userID, 4)
	g.Connect(c)
	require.NoError(t, g.Subscribe(context.Background(), c, snap.SessionID, ""))
	readState(t, c)

	done := snap
	done.Status = domain.SessionStatusCompleted
	require.NoError(t, g.HandleEvent(context.Background(), events.NewSessionEvent(events.ReasonCompleted, done)))

	_, p := readState(t, c)
	assert.Equal(t, domain.SessionStatusCompleted, p.Status)
	assert.Equal(t, 0, g.Subscribers(snap.SessionID))
	assert.Equal(t, 1, g.Clients(), "the connection itself stays open")
}

func TestGateway_DisconnectRemovesEverything(t *testing.T) {
	source := newFakeSource()
	g := NewGateway(source, nil, testLogger())
	userID := uuid.New()
	snap := runningSnapshot(userID, 1000)
	source.put(snap)

	c := NewClient(userID, 4)
	g.Connect(c)
	require.NoError(t, g.Subscribe(context.Background(), c, snap.SessionID, ""))
	require.NoError(t, g.SubscribeUser(c))

	g.Disconnect(c)
	g.Disconnect(c)

	assert.Equal(t, 0, g.Subscribers(snap.SessionID))
	assert.Equal(t, 0, g.Clients())
	assert.Equal(t, 0, g.Broadcast(events.ReasonHeartbeat, snap))
	assert.ErrorIs(t, g.SubscribeUser(c), ErrClientClosed)
	assert.ErrorIs(t, g.Subscribe(context.Background(), c, snap.SessionID, ""), ErrClientClosed)
}

func TestGateway_UnsubscribeStopsDelivery(t *testing.T) {
	source := newFakeSource()
	g := NewGateway(source, nil, testLogger())
	userID := uuid.New()
	snap := runningSnapshot(userID, 1000)
	source.put(snap)

	c := NewClient(userID, 4)
	g.Connect(c)
	require.NoError(t, g.Subscribe(context.Background(), c, snap.SessionID, ""))
	readState(t, c)

	g.Unsubscribe(c, snap.SessionID)
	assert.Equal(t, 0, g.Broadcast(events.ReasonHeartbeat, snap))
	assertNoFrame(t, c)
}
