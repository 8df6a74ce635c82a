// Package voice connects call sessions to the remote voice agent over a
// websocket. Text frames carry JSON control messages and events; binary
// frames carry microphone audio.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alkime/companion/internal/audio"
	"github.com/alkime/companion/internal/call"
	"github.com/alkime/companion/pkg/uictl"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
)

const (
	defaultConnectTimeout = 15 * time.Second
	writeWait             = 5 * time.Second
	closeWait             = 2 * time.Second
)

var _ call.Adapter = (*Client)(nil)

// ErrClosed is returned once the client has been closed.
var ErrClosed = errors.New("voice client is closed")

// Microphone is the audio source streamed during a call. Its knob reads
// On while the microphone is live.
type Microphone interface {
	uictl.Knob
	Open(ctx context.Context) (<-chan audio.DataPacket, error)
	Close(ctx context.Context) error
}

// Config configures a Client.
type Config struct {
	URL         string
	APIKey      string
	AssistantID string

	// Mic is optional; without one no audio is sent and mute is tracked locally.
	Mic            Microphone
	Dialer         *websocket.Dialer
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Client implements call.Adapter. At most one call is live at a time;
// starting a new call abandons the previous connection without events.
type Client struct {
	url         string
	header      http.Header
	assistantID string
	mic         Microphone
	mute        uictl.Knob
	dialer      *websocket.Dialer
	timeout     time.Duration
	logger      *slog.Logger

	subMu    sync.Mutex
	handlers map[uint64]func(call.Event)
	nextSub  uint64

	mu     sync.Mutex
	live   *liveCall
	closed bool
}

// New creates a Client. No connection is made until Start.
func New(cfg Config) *Client {
	header := make(http.Header)
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var mute uictl.Knob = uictl.NewSwitch(true)
	if cfg.Mic != nil {
		mute = cfg.Mic
	}

	return &Client{
		url:         cfg.URL,
		header:      header,
		assistantID: cfg.AssistantID,
		mic:         cfg.Mic,
		mute:        mute,
		dialer:      dialer,
		timeout:     timeout,
		logger:      logger.With("component", "voice"),
		handlers:    make(map[uint64]func(call.Event)),
	}
}

// Start begins connecting a call and returns once the attempt is under way.
// Connection failures are reported as call.Failure events.
func (c *Client) Start(ctx context.Context, req call.StartRequest) error {
	if c.url == "" {
		return fmt.Errorf("voice service URL is not configured")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	previous := c.live
	lc := newLiveCall(c)
	c.live = lc
	c.mu.Unlock()

	if previous != nil {
		c.logger.Debug("Abandoning previous call connection")
		previous.abandon()
	}

	frame := startFrame{
		Type:        frameStart,
		AssistantID: c.assistantID,
		Assistant:   req.Assistant,
		Overrides:   req.Overrides,
	}

	go lc.run(ctx, frame)

	return nil
}

// Stop ends the live call, if any. It is safe to call from an event handler.
func (c *Client) Stop(_ context.Context) error {
	c.mu.Lock()
	lc := c.live
	c.live = nil
	c.mu.Unlock()

	if lc == nil {
		return nil
	}

	return lc.stop()
}

// IsMuted reports whether the microphone is muted.
func (c *Client) IsMuted() bool {
	return !c.mute.Read()
}

// SetMuted mutes or unmutes the microphone and tells the service. The mute
// state is rolled back when the service cannot be told.
func (c *Client) SetMuted(muted bool) error {
	wasMuted := c.IsMuted()
	apply := func(m bool) {
		if m {
			c.mute.Off()
		} else {
			c.mute.On()
		}
	}
	apply(muted)

	c.mu.Lock()
	lc := c.live
	c.mu.Unlock()

	if lc == nil {
		return nil
	}

	if err := lc.send(muteFrame{Type: frameMute, Muted: muted}); err != nil {
		apply(wasMuted)
		return fmt.Errorf("failed to send mute state: %w", err)
	}

	return nil
}

// Subscribe registers handler for call events.
func (c *Client) Subscribe(handler func(call.Event)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.handlers[id] = handler
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.handlers, id)
			c.subMu.Unlock()
		})
	}
}

// Close stops any live call, waits for its connection to shut down and
// rejects further starts.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	lc := c.live
	c.live = nil
	c.mu.Unlock()

	if lc == nil {
		return nil
	}

	return multierr.Append(lc.stop(), lc.wait(ctx))
}

func (c *Client) emit(ev call.Event) {
	c.subMu.Lock()
	handlers := make([]func(call.Event), 0, len(c.handlers))
	for id := uint64(0); id < c.nextSub; id++ {
		if h, ok := c.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	c.subMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
