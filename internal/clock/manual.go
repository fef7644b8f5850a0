package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Clock whose time only moves when Advance or Set is called.
// Timer callbacks run synchronously on the goroutine that moves the clock,
// in deadline order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers map[uint64]*manualTimer
}

type manualTimer struct {
	clock    *Manual
	id       uint64
	deadline time.Time
	f        func()
}

// NewManual returns a Manual clock starting at the given instant.
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:    start,
		timers: make(map[uint64]*manualTimer),
	}
}

// Now returns the clock's current instant.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules f to run once the clock has advanced by d.
// A non-positive d fires on the next Advance, including Advance(0).
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{
		clock:    m,
		id:       m.seq,
		deadline: m.now.Add(d),
		f:        f,
	}
	m.timers[t.id] = t
	return t
}

// Advance moves the clock forward by d and fires every timer whose deadline
// has been reached.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	m.Set(target)
}

// Set moves the clock to t and fires due timers. Moving backwards is ignored.
func (m *Manual) Set(t time.Time) {
	for {
		m.mu.Lock()
		if t.After(m.now) {
			m.now = t
		}
		due := m.dueLocked()
		m.mu.Unlock()

		if len(due) == 0 {
			return
		}
		for _, timer := range due {
			timer.f()
		}
	}
}

// PendingTimers reports how many timers are scheduled and not yet fired or stopped.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manual) dueLocked() []*manualTimer {
	var due []*manualTimer
	for id, timer := range m.timers {
		if !timer.deadline.After(m.now) {
			due = append(due, timer)
			delete(m.timers, id)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.timers[t.id]; !ok {
		return false
	}
	delete(t.clock.timers, t.id)
	return true
}
