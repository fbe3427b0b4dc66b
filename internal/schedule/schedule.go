// Package schedule provides cancelable delayed callbacks with an injectable clock.
package schedule

import (
	"sort"
	"sync"
	"time"
)

// Task is a pending callback.
type Task interface {
	// Cancel stops the callback. It reports whether the call prevented it from running.
	Cancel() bool
}

// Scheduler runs callbacks after a delay and tells the time.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Task
}

// System schedules on the runtime timer.
type System struct{}

func (System) Now() time.Time {
	return time.Now()
}

func (System) AfterFunc(d time.Duration, fn func()) Task {
	return systemTask{time.AfterFunc(d, fn)}
}

type systemTask struct {
	t *time.Timer
}

func (s systemTask) Cancel() bool {
	return s.t.Stop()
}

// Manual is a Scheduler driven by Advance, for deterministic tests.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks []*manualTask
}

// NewManual creates a manual scheduler starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

type manualTask struct {
	m        *Manual
	at       time.Time
	seq      int
	fn       func()
	canceled bool
	fired    bool
}

func (t *manualTask) Cancel() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	if t.fired || t.canceled {
		return false
	}
	t.canceled = true
	return true
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTask{m: m, at: m.now.Add(d), seq: m.seq, fn: fn}
	m.tasks = append(m.tasks, t)
	return t
}

// Advance moves the clock forward and runs every task that came due, in order.
// Callbacks run on the caller's goroutine without the scheduler lock held.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = next.at
		next.fired = true
		m.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of tasks neither fired nor canceled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.tasks {
		if !t.fired && !t.canceled {
			n++
		}
	}
	return n
}

func (m *Manual) nextDueLocked(target time.Time) *manualTask {
	live := m.tasks[:0]
	for _, t := range m.tasks {
		if !t.fired && !t.canceled {
			live = append(live, t)
		}
	}
	m.tasks = live

	sort.SliceStable(m.tasks, func(i, j int) bool {
		if m.tasks[i].at.Equal(m.tasks[j].at) {
			return m.tasks[i].seq < m.tasks[j].seq
		}
		return m.tasks[i].at.Before(m.tasks[j].at)
	})

	if len(m.tasks) == 0 || m.tasks[0].at.After(target) {
		return nil
	}
	return m.tasks[0]
}
