package testutils

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/pomo-api/internal/domain"
	"github.com/phrazzld/pomo-api/internal/store"
)

// MemorySessionStore is an in-memory store.SessionStore. Like the postgres
// store it validates records and allows one running or paused session per task.
type MemorySessionStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]domain.Session
	tasks   map[uuid.UUID]bool
}

var _ store.SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an empty store. Until AddTask is called any
// task id is accepted.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{records: make(map[uuid.UUID]domain.Session)}
}

// AddTask registers a task; once any task is registered, sessions for
// unknown tasks fail with store.ErrTaskNotFound.
func (m *MemorySessionStore) AddTask(taskID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasks == nil {
		m.tasks = make(map[uuid.UUID]bool)
	}
	m.tasks[taskID] = true
}

func (m *MemorySessionStore) Create(ctx context.Context, s *domain.Session) error {
	if err := s.Validate(); err != nil {
		return errors.Join(store.ErrInvalidEntity, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasks != nil && !m.tasks[s.TaskID] {
		return store.ErrTaskNotFound
	}
	if _, ok := m.records[s.ID]; ok {
		return store.ErrDuplicate
	}
	if m.activeForTaskLocked(s.TaskID) != nil {
		return store.ErrActiveSessionExists
	}
	m.records[s.ID] = copySession(s)
	return nil
}

func (m *MemorySessionStore) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	c := copySession(&rec)
	return &c, nil
}

func (m *MemorySessionStore) Update(ctx context.Context, s *domain.Session) error {
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

func (m *MemorySessionStore) FindActiveByTask(ctx context.Context, userID, taskID uuid.UUID) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.activeForTaskLocked(taskID)
	if rec == nil || rec.UserID != userID {
		return nil, store.ErrSessionNotFound
	}
	c := copySession(rec)
	return &c, nil
}

func (m *MemorySessionStore) ListByStatus(ctx context.Context, status domain.SessionStatus) ([]*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Session
	for _, rec := range m.records {
		if rec.Status == status {
			c := copySession(&rec)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Put seeds a record without validation.
func (m *MemorySessionStore) Put(s domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[s.ID] = copySession(&s)
}

// Len returns the number of stored sessions.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemorySessionStore) activeForTaskLocked(taskID uuid.UUID) *domain.Session {
	for id, rec := range m.records {
		if rec.TaskID == taskID && !rec.Status.IsTerminal() {
			r := m.records[id]
			return &r
		}
	}
	return nil
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

// MemoryTaskCounter is an in-memory store.TaskCounter that credits each
// session at most once.
type MemoryTaskCounter struct {
	mu       sync.Mutex
	counts   map[uuid.UUID]int
	credited map[uuid.UUID]bool
}

var _ store.TaskCounter = (*MemoryTaskCounter)(nil)

// NewMemoryTaskCounter creates a counter with every task at zero.
func NewMemoryTaskCounter() *MemoryTaskCounter {
	return &MemoryTaskCounter{
		counts:   make(map[uuid.UUID]int),
		credited: make(map[uuid.UUID]bool),
	}
}

func (m *MemoryTaskCounter) IncrementCompletedIntervals(ctx context.Context, taskID, sessionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credited[sessionID] {
		return nil
	}
	m.credited[sessionID] = true
	m.counts[taskID]++
	return nil
}

func (m *MemoryTaskCounter) IsCredited(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credited[sessionID], nil
}

// CompletedIntervals returns the counter for a task.
func (m *MemoryTaskCounter) CompletedIntervals(taskID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[taskID]
}
