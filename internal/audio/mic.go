package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alkime/companion/pkg/channels"
	"github.com/alkime/companion/pkg/uictl"
)

const (
	micBuffer = 64
	// meterWindow is about a tenth of a second of mono audio at 16kHz.
	meterWindow = 1600
)

var _ uictl.Knob = (*Mic)(nil)

// Mic streams captured audio for a call. While muted, packets are
// discarded before they leave the process and the meter shows silence.
// The knob reads On when the microphone is live.
type Mic struct {
	device Device
	meter  *Meter
	muted  atomic.Bool

	mu     sync.Mutex
	out    chan DataPacket
	done   chan struct{}
	cancel context.CancelFunc
}

// NewMic wraps device.
func NewMic(device Device) *Mic {
	return &Mic{
		device: device,
		meter:  NewMeter(meterWindow),
	}
}

// Open starts capture. Packets are delivered on the returned channel until
// Close; slow readers lose packets rather than stalling capture.
func (m *Mic) Open(ctx context.Context) (<-chan DataPacket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.out != nil {
		return nil, fmt.Errorf("microphone already open")
	}

	raw := make(chan DataPacket, micBuffer)
	if err := m.device.CaptureInto(ctx, raw); err != nil {
		return nil, fmt.Errorf("failed to allocate capture device: %w", err)
	}
	if err := m.device.Start(ctx); err != nil {
		m.device.Dealloc(ctx)
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	m.out = make(chan DataPacket, micBuffer)
	m.done = make(chan struct{})
	m.cancel = cancel

	go m.pump(pumpCtx, raw, m.out, m.done)

	return m.out, nil
}

func (m *Mic) pump(ctx context.Context, raw <-chan DataPacket, out chan<- DataPacket, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case packet := <-raw:
			if m.muted.Load() {
				continue
			}
			m.meter.WritePCM(packet)
			if err := channels.SendNonBlock(out, packet); err != nil {
				slog.Debug("Dropping microphone packet", "error", err)
			}
		}
	}
}

// Close stops capture and releases the device.
func (m *Mic) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.out == nil {
		return nil
	}

	err := m.device.Stop(ctx)
	m.device.Dealloc(ctx)
	m.cancel()
	<-m.done
	m.out, m.done, m.cancel = nil, nil, nil
	m.meter.Reset()

	if err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}

	return nil
}

// Meter exposes recent samples for level display.
func (m *Mic) Meter() uictl.Levels[int16] {
	return m.meter
}

// Read reports whether the microphone is live.
func (m *Mic) Read() bool {
	return !m.muted.Load()
}

// On unmutes the microphone.
func (m *Mic) On() {
	m.muted.Store(false)
}

// Off mutes the microphone.
func (m *Mic) Off() {
	m.muted.Store(true)
	m.meter.Reset()
}

// Toggle flips the mute state.
func (m *Mic) Toggle() {
	if m.Read() {
		m.Off()
		return
	}
	m.On()
}
