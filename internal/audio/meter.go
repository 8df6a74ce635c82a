package audio

import (
	"encoding/binary"
	"sync"
)

// Meter keeps the most recent captured samples for level display.
// It implements uictl.Levels[int16].
type Meter struct {
	mu      sync.RWMutex
	samples []int16
	head    int // next write position
	count   int
}

// NewMeter creates a meter holding up to capacity samples.
func NewMeter(capacity int) *Meter {
	return &Meter{samples: make([]int16, max(capacity, 1))}
}

// WritePCM appends S16LE samples, overwriting the oldest when full.
func (m *Meter) WritePCM(data []byte) {
	n := len(data) / 2
	if n == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	capacity := len(m.samples)
	for i := 0; i < n; i++ {
		m.samples[m.head] = int16(binary.LittleEndian.Uint16(data[i*2:]))
		m.head = (m.head + 1) % capacity
		if m.count < capacity {
			m.count++
		}
	}
}

// Read returns the held samples in chronological order.
func (m *Meter) Read() []int16 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.count == 0 {
		return nil
	}

	capacity := len(m.samples)
	start := (m.head - m.count + capacity) % capacity
	out := make([]int16, m.count)
	for i := range out {
		out[i] = m.samples[(start+i)%capacity]
	}

	return out
}

// Reset drops all held samples.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head = 0
	m.count = 0
}
