package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/clock"
	"github.com/phrazzld/pomo-api/internal/domain"
	"github.com/phrazzld/pomo-api/internal/events"
	"github.com/phrazzld/pomo-api/internal/store"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection reset by peer")

// MockSessionStore keeps records in memory. The Fn fields, when set, run
// before the in-memory behavior and can fail the call.
type MockSessionStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]domain.Session

	CreateFn           func(ctx context.Context, s *domain.Session) error
	UpdateFn           func(ctx context.Context, s *domain.Session) error
	FindActiveByTaskFn func(ctx context.Context, userID, taskID uuid.UUID) (*domain.Session, error)

	CreateCalls int
	UpdateCalls int
}

func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{records: make(map[uuid.UUID]domain.Session)}
}

func (m *MockSessionStore) Create(ctx context.Context, s *domain.Session) error {
	m.mu.Lock()
	m.CreateCalls++
	fn := m.CreateFn
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, s); err != nil {
			return err
		}
	}
	if err := s.Validate(); err != nil {
		return errors.Join(store.ErrInvalidEntity, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[s.ID]; ok {
		return store.ErrDuplicate
	}
	m.records[s.ID] = copySession(s)
	return nil
}

func (m *MockSessionStore) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	c := copySession(&rec)
	return &c, nil
}

func (m *MockSessionStore) Update(ctx context.Context, s *domain.Session) error {
	m.mu.Lock()
	m.UpdateCalls++
	fn := m.UpdateFn
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, s); err != nil {
			return err
		}
	}
	if err := s.Validate(); err != nil {
		return errors.Join(store.ErrInvalidEntity, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[s.ID]; !ok {
		return store.ErrSessionNotFound
	}
	m.records[s.ID] = copySession(s)
	return nil
}

func (m *MockSessionStore) FindActiveByTask(ctx context.Context, userID, taskID uuid.UUID) (*domain.Session, error) {
	if m.FindActiveByTaskFn != nil {
		return m.FindActiveByTaskFn(ctx, userID, taskID)
	}
	return nil, store.ErrSessionNotFound
}

func (m *MockSessionStore) ListByStatus(ctx context.Context, status domain.SessionStatus) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for _, rec := range m.records {
		if rec.Status == status {
			c := copySession(&rec)
			out = append(out, &c)
		}
	}
	return out, nil
}

// Put seeds a record directly.
func (m *MockSessionStore) Put(s domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[s.ID] = copySession(&s)
}

// Record returns a stored record or fails the test.
func (m *MockSessionStore) Record(t *testing.T, id uuid.UUID) domain.Session {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	require.True(t, ok, "no stored record for session %s", id)
	return copySession(&rec)
}

func (m *MockSessionStore) Calls() (creates, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CreateCalls, m.UpdateCalls
}

func copySession(s *domain.Session) domain.Session {
	c := *s
	c.Interruptions = append([]domain.Interruption{}, s.Interruptions...)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return c
}

// MockTaskCounter records credits per session.
type MockTaskCounter struct {
	mu      sync.Mutex
	calls   int
	credits map[uuid.UUID]int
	byID    map[uuid.UUID]bool

	IncrementFn  func(ctx context.Context, taskID, sessionID uuid.UUID) error
	IsCreditedFn func(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

func NewMockTaskCounter() *MockTaskCounter {
	return &MockTaskCounter{
		credits: make(map[uuid.UUID]int),
		byID:    make(map[uuid.UUID]bool),
	}
}

func (m *MockTaskCounter) IncrementCompletedIntervals(ctx context.Context, taskID, sessionID uuid.UUID) error {
	m.mu.Lock()
	m.calls++
	fn := m.IncrementFn
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, taskID, sessionID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits[taskID]++
	m.byID[sessionID] = true
	return nil
}

func (m *MockTaskCounter) IsCredited(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	m.mu.Lock()
	fn := m.IsCreditedFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, sessionID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[sessionID], nil
}

func (m *MockTaskCounter) Credits(taskID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credits[taskID]
}

func (m *MockTaskCounter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// recordingEmitter keeps every emitted event.
type recordingEmitter struct {
	mu     sync.Mutex
	events []*events.SessionEvent
}

func (r *recordingEmitter) EmitEvent(ctx context.Context, ev *events.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEmitter) Reasons(sessionID uuid.UUID) []events.Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Reason
	for _, ev := range r.events {
		if ev.Snapshot.SessionID == sessionID {
			out = append(out, ev.Reason)
		}
	}
	return out
}

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const testPlanned = 1500000 * time.Millisecond

type harness struct {
	engine  *Engine
	store   *MockSessionStore
	counter *MockTaskCounter
	clock   *clock.Manual
	emitter *recordingEmitter
	metrics *Metrics
	userID  uuid.UUID
	taskID  uuid.UUID
}

func testConfig() Config {
	return Config{
		DefaultDuration:  testPlanned,
		MaxDuration:      4 * time.Hour,
		PersistAttempts:  3,
		PersistBackoff:   time.Millisecond,
		PersistTimeout:   time.Second,
		TerminalAttempts: 4,
		InboxSize:        16,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:   NewMockSessionStore(),
		counter: NewMockTaskCounter(),
		clock:   clock.NewManual(testStart),
		emitter: &recordingEmitter{},
		metrics: NewMetrics(nil),
		userID:  uuid.New(),
		taskID:  uuid.New(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine, err := NewEngine(testConfig(), h.store, h.counter, h.emitter, logger,
		WithClock(h.clock),
		WithMetrics(h.metrics))
	require.NoError(t, err)
	h.engine = engine

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = NewCoordinator(engine, 0, logger).Shutdown(ctx)
	})
	return h
}

func (h *harness) start(t *testing.T) domain.SessionSnapshot {
	t.Helper()
	snap, err := h.engine.Start(context.Background(), StartRequest{
		UserID:   h.userID,
		TaskID:   h.taskID,
		Duration: testPlanned,
	})
	require.NoError(t, err)
	return snap
}

// waitFinished blocks until the session's runtime has been deregistered.
func (h *harness) waitFinished(t *testing.T, id uuid.UUID) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := h.engine.Registry().Get(id)
		return errors.Is(err, ErrNotFound)
	}, 2*time.Second, 5*time.Millisecond)
}
