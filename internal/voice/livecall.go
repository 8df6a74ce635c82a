package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alkime/companion/internal/audio"
	"github.com/alkime/companion/internal/call"
	"github.com/gorilla/websocket"
)

// liveCall owns one websocket connection from dial to close.
type liveCall struct {
	client *Client

	connMu sync.Mutex
	conn   *websocket.Conn
	ready  chan struct{} // closed once the dial finished, either way

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}

	stopping  atomic.Bool // the user ended the call
	abandoned atomic.Bool // superseded by a newer call; emits nothing
	started   atomic.Bool // call-start received
	rejected  atomic.Bool // a failure was reported before call-start
	ended     atomic.Bool // call-end delivered
}

func newLiveCall(c *Client) *liveCall {
	return &liveCall{
		client: c,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (lc *liveCall) run(ctx context.Context, frame startFrame) {
	defer close(lc.done)

	conn, err := lc.dial(ctx)
	lc.connMu.Lock()
	lc.conn = conn
	lc.connMu.Unlock()
	close(lc.ready)

	if err != nil {
		if !lc.stopping.Load() {
			lc.fail(err)
		}
		return
	}
	if lc.stopping.Load() || lc.abandoned.Load() {
		lc.closeConn()
		return
	}

	if err := lc.send(frame); err != nil {
		lc.closeConn()
		lc.fail(fmt.Errorf("failed to send start request: %w", err))
		return
	}

	lc.readLoop()
}

func (lc *liveCall) dial(ctx context.Context) (*websocket.Conn, error) {
	c := lc.client

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, resp, err := c.dialer.DialContext(dialCtx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to voice service (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to voice service: %w", err)
	}

	return conn, nil
}

func (lc *liveCall) readLoop() {
	defer lc.closeConn()

	var uplinkStop context.CancelFunc
	defer func() {
		if uplinkStop != nil {
			uplinkStop()
		}
	}()

	for {
		messageType, data, err := lc.conn.ReadMessage()
		if err != nil {
			lc.finish(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		ev, err := decodeFrame(data)
		if err != nil {
			lc.client.logger.Warn("Dropping malformed frame", "error", err)
			continue
		}
		if ev == nil {
			lc.client.logger.Debug("Ignoring unknown frame", "frame", string(data))
			continue
		}

		switch ev.(type) {
		case call.CallStarted:
			lc.started.Store(true)
			if uplinkStop == nil {
				uplinkStop = lc.startUplink()
			}
		case call.CallEnded:
			if !lc.ended.CompareAndSwap(false, true) {
				continue
			}
		case call.Failure:
			// one failure per connection attempt
			if !lc.started.Load() && !lc.rejected.CompareAndSwap(false, true) {
				continue
			}
		}

		lc.emit(ev)
	}
}

// finish reports how the connection ended. A call that started always gets
// a call-end; anything else unexpected is a failure.
func (lc *liveCall) finish(readErr error) {
	if lc.started.Load() {
		if lc.ended.CompareAndSwap(false, true) {
			lc.emit(call.CallEnded{})
		}
		return
	}
	if lc.stopping.Load() {
		return
	}

	if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		lc.fail(errors.New("voice service closed the connection before the call started"))
		return
	}
	lc.fail(fmt.Errorf("lost connection to voice service: %w", readErr))
}

// startUplink streams microphone packets as binary frames until the
// returned function is called.
func (lc *liveCall) startUplink() context.CancelFunc {
	mic := lc.client.mic
	if mic == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	packets, err := mic.Open(ctx)
	if err != nil {
		lc.client.logger.Error("Failed to open microphone", "error", err)
		return cancel
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		for packet := range packets {
			if err := lc.writeBinary(packet); err != nil {
				lc.client.logger.Debug("Stopping audio uplink", "error", err)
				return
			}
		}
	})

	return func() {
		if err := mic.Close(context.Background()); err != nil {
			lc.client.logger.Warn("Failed to close microphone", "error", err)
		}
		cancel()
		wg.Wait()
	}
}

func (lc *liveCall) send(v any) error {
	lc.writeMu.Lock()
	defer lc.writeMu.Unlock()

	conn := lc.currentConn()
	if conn == nil {
		return fmt.Errorf("call is not connected")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

	return conn.WriteJSON(v)
}

func (lc *liveCall) writeBinary(packet audio.DataPacket) error {
	lc.writeMu.Lock()
	defer lc.writeMu.Unlock()

	conn := lc.currentConn()
	if conn == nil {
		return fmt.Errorf("call is not connected")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

	return conn.WriteMessage(websocket.BinaryMessage, packet)
}

func (lc *liveCall) currentConn() *websocket.Conn {
	select {
	case <-lc.ready:
	default:
		return nil
	}
	lc.connMu.Lock()
	defer lc.connMu.Unlock()
	return lc.conn
}

// stop asks the service to end the call and closes the connection. It does
// not wait for the read loop, which may be the caller.
func (lc *liveCall) stop() error {
	lc.stopping.Store(true)

	var sendErr error
	if lc.currentConn() != nil {
		sendErr = lc.send(stopFrame{Type: frameStop})
	}
	lc.closeConn()

	if sendErr != nil {
		return fmt.Errorf("failed to send stop request: %w", sendErr)
	}

	return nil
}

// wait blocks until the connection is fully shut down.
func (lc *liveCall) wait(ctx context.Context) error {
	select {
	case <-lc.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for call to close: %w", ctx.Err())
	}
}

// abandon closes the connection without reporting anything.
func (lc *liveCall) abandon() {
	lc.abandoned.Store(true)
	lc.stopping.Store(true)
	lc.closeConn()
}

func (lc *liveCall) closeConn() {
	conn := lc.currentConn()
	if conn == nil {
		return
	}

	lc.closeOnce.Do(func() {
		lc.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait))
		lc.writeMu.Unlock()
		_ = conn.Close()
	})
}

// fail reports a failed connection attempt unless one was already reported.
func (lc *liveCall) fail(err error) {
	if !lc.rejected.CompareAndSwap(false, true) {
		lc.client.logger.Debug("Connection attempt already failed", "error", err)
		return
	}
	lc.client.logger.Warn("Voice call failed", "error", err)
	lc.emit(call.Failure{Err: err})
}

func (lc *liveCall) emit(ev call.Event) {
	if lc.abandoned.Load() {
		return
	}
	lc.client.emit(ev)
}
