package call_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alkime/companion/internal/call"
)

// mockAdapter implements call.Adapter for testing.
type mockAdapter struct {
	mu       sync.Mutex
	handlers map[int]func(call.Event)
	nextID   int

	starts       []call.StartRequest
	stops        int
	unsubscribes int
	muted        bool

	startErr         error
	stopErr          error
	setMutedErr      error
	unsubscribePanic bool
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{handlers: make(map[int]func(call.Event))}
}

func (m *mockAdapter) Start(_ context.Context, req call.StartRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts = append(m.starts, req)
	return m.startErr
}

func (m *mockAdapter) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return m.stopErr
}

func (m *mockAdapter) IsMuted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *mockAdapter) SetMuted(muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setMutedErr != nil {
		return m.setMutedErr
	}
	m.muted = muted
	return nil
}

func (m *mockAdapter) Subscribe(handler func(call.Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler

	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.unsubscribes++
		shouldPanic := m.unsubscribePanic
		m.mu.Unlock()
		if shouldPanic {
			panic("unsubscribe exploded")
		}
	}
}

// emit delivers ev to every subscribed handler, in subscription order.
func (m *mockAdapter) emit(ev call.Event) {
	m.mu.Lock()
	handlers := make([]func(call.Event), 0, len(m.handlers))
	for id := 0; id < m.nextID; id++ {
		if h, ok := m.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (m *mockAdapter) startCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.starts)
}

func (m *mockAdapter) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *mockAdapter) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

func (m *mockAdapter) isMuted() bool {
	return m.IsMuted()
}

// mockClock implements call.Clock; timers only fire when the test says so.
type mockClock struct {
	mu     sync.Mutex
	timers []*mockTimer
}

type mockTimer struct {
	clock   *mockClock
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (c *mockClock) AfterFunc(d time.Duration, f func()) call.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTimer{clock: c, delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *mockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

// pending returns the timers that were neither stopped nor fired.
func (c *mockClock) pending() []*mockTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*mockTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fireAll runs every pending timer.
func (c *mockClock) fireAll() {
	timers := c.pending()
	c.mu.Lock()
	for _, t := range timers {
		t.fired = true
	}
	c.mu.Unlock()

	for _, t := range timers {
		t.fn()
	}
}

// fireStale runs every timer, including stopped ones, the way a timer that
// lost the race against Stop would.
func (c *mockClock) fireStale() {
	c.mu.Lock()
	timers := append([]*mockTimer(nil), c.timers...)
	c.mu.Unlock()

	for _, t := range timers {
		t.fn()
	}
}

// mockHistory implements call.HistoryRecorder for testing.
type mockHistory struct {
	mu       sync.Mutex
	recorded []string
	err      error
}

func (m *mockHistory) Record(_ context.Context, companionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, companionID)
	return m.err
}

func (m *mockHistory) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.recorded...)
}

// statusRecorder collects every status published by a session.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []call.Status
}

func (r *statusRecorder) observe(snap call.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.statuses); n > 0 && r.statuses[n-1] == snap.Status && snap.Status != call.StatusConnecting {
		return
	}
	r.statuses = append(r.statuses, snap.Status)
}

func (r *statusRecorder) all() []call.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call.Status(nil), r.statuses...)
}

var errBoom = errors.New("boom")
