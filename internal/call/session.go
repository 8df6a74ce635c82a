package call

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
)

const historyTimeout = 10 * time.Second

// Config wires a Session to its collaborators. Zero values select defaults.
type Config struct {
	Persona Persona
	Retry   RetryPolicy
	History HistoryRecorder
	// Clock must never run a scheduled function synchronously.
	Clock  Clock
	Logger *slog.Logger
}

// Snapshot is a copy of a session's observable state. Seq increases with
// every change so observers can drop snapshots that arrive out of order.
type Snapshot struct {
	Seq          uint64
	Status       Status
	Error        ErrorState
	RetryCount   int
	RetryPending bool
	Muted        bool
	Speaking     bool
	// Transcript holds final turns, most recent first.
	Transcript []Entry
}

// Session is the call session state machine. It turns user intents and
// voice service events into status, error and transcript changes.
//
// All methods are safe for concurrent use. Intents never return failures:
// they are recorded in the session's ErrorState instead.
type Session struct {
	adapter Adapter
	history HistoryRecorder
	clock   Clock
	persona Persona
	logger  *slog.Logger

	mu         sync.Mutex
	seq        uint64
	status     Status
	failure    ErrorState
	retry      retrier
	muted      bool
	speaking   bool
	live       bool // a remote call started and its end is not yet recorded
	transcript *Transcript
	observers  []func(Snapshot)

	mounted     bool
	mountGen    uint64
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// NewSession creates an Inactive session driving adapter.
func NewSession(adapter Adapter, cfg Config) *Session {
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Session{
		adapter:    adapter,
		history:    cfg.History,
		clock:      cfg.Clock,
		persona:    cfg.Persona,
		logger:     cfg.Logger.With("companion_id", cfg.Persona.CompanionID),
		status:     StatusInactive,
		retry:      retrier{policy: cfg.Retry},
		transcript: NewTranscript(),
		ctx:        context.Background(),
	}
}

// Persona returns the companion this session talks to.
func (s *Session) Persona() Persona {
	return s.persona
}

// Transcript returns the session's transcript store.
func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// OnChange registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that caused the change and must not block.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Status returns the current call status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Mount subscribes the session to the adapter's events for the lifetime of
// the view showing it. The subscription is made once; handlers always read
// the session's current state. Every Mount must be paired with Unmount.
func (s *Session) Mount(ctx context.Context) {
	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return
	}
	s.mounted = true
	s.mountGen++
	gen := s.mountGen
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.retry.reset()
	s.mu.Unlock()

	unsubscribe := s.adapter.Subscribe(func(ev Event) { s.handle(gen, ev) })

	s.mu.Lock()
	if !s.currentLocked(gen) {
		// unmounted while subscribing
		s.mu.Unlock()
		unsubscribe()
		return
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	s.logger.Debug("Call session mounted")
}

// Unmount releases everything the mounted session holds: the pending retry
// timer, the live call when Active, and the event subscription. Every step
// runs even when an earlier one fails; failures are returned together.
func (s *Session) Unmount(ctx context.Context) error {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return nil
	}
	s.mounted = false
	timer := s.retry.disarm()
	active := s.status == StatusActive
	if active {
		s.setStatusLocked(StatusFinished)
		s.live = false
		s.speaking = false
		s.seq++
	}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	cancel := s.cancel
	s.mu.Unlock()

	var errs error
	errs = multierr.Append(errs, protect(func() error {
		if timer != nil {
			timer.Stop()
		}
		return nil
	}))
	if active {
		errs = multierr.Append(errs, protect(func() error {
			if err := s.adapter.Stop(ctx); err != nil {
				return fmt.Errorf("failed to stop call: %w", err)
			}
			return nil
		}))
	}
	errs = multierr.Append(errs, protect(func() error {
		if unsubscribe != nil {
			unsubscribe()
		}
		return nil
	}))

	if cancel != nil {
		cancel()
	}

	if errs != nil {
		s.logger.Warn("Call session teardown incomplete", "error", errs)
		return errs
	}

	s.logger.Debug("Call session unmounted", "stopped_call", active)
	return nil
}

// HandleCall starts a call unless one is already connecting.
func (s *Session) HandleCall(ctx context.Context) {
	s.startCall(ctx, false)
}

// StartCall requests a new call from the voice service. A rejected request
// leaves the session Inactive with the failure recorded.
func (s *Session) StartCall(ctx context.Context) {
	s.startCall(ctx, true)
}

func (s *Session) startCall(ctx context.Context, reentry bool) {
	var started bool
	s.update(func() bool {
		if !s.mounted {
			s.failure = errorState(ErrNotMounted.Error())
			return true
		}
		if s.status == StatusConnecting && !reentry {
			s.logger.Debug("Ignoring start request while connecting")
			return false
		}
		if !s.setStatusLocked(StatusConnecting) {
			return false
		}
		s.failure = ErrorState{}
		started = true
		return true
	})
	if !started {
		return
	}

	err := protect(func() error {
		return s.adapter.Start(ctx, s.persona.StartRequest())
	})
	if err == nil {
		return
	}

	s.logger.Error("Failed to start call", "error", err)
	s.update(func() bool {
		s.failure = errorState(err.Error())
		return s.setStatusLocked(StatusError)
	})
	s.update(func() bool {
		return s.setStatusLocked(StatusInactive)
	})
}

// HandleDisconnect ends an Active call. The session is Finished even when the
// voice service fails to stop; that failure is recorded.
func (s *Session) HandleDisconnect(ctx context.Context) {
	var finished bool
	s.update(func() bool {
		if s.status != StatusActive {
			return false
		}
		finished = s.setStatusLocked(StatusFinished)
		s.speaking = false
		return finished
	})
	if !finished {
		return
	}

	if err := protect(func() error { return s.adapter.Stop(ctx) }); err != nil {
		s.logger.Warn("Failed to stop call", "error", err)
		s.update(func() bool {
			s.failure = errorState(err.Error())
			return true
		})
	}
}

// ToggleMicrophone flips the adapter's mute state during an Active call.
func (s *Session) ToggleMicrophone() {
	if s.Status() != StatusActive {
		return
	}

	var muted bool
	err := protect(func() error {
		muted = !s.adapter.IsMuted()
		return s.adapter.SetMuted(muted)
	})
	if err != nil {
		s.logger.Warn("Failed to toggle microphone", "error", err)
	}

	s.update(func() bool {
		if err != nil {
			s.failure = errorState(fmt.Sprintf("failed to toggle microphone: %v", err))
			return true
		}
		s.muted = muted
		return true
	})
}

// Acknowledge dismisses a failed call and returns the session to Inactive.
func (s *Session) Acknowledge() {
	s.update(func() bool {
		if s.status != StatusError {
			return false
		}
		s.failure = ErrorState{}
		return s.setStatusLocked(StatusInactive)
	})
}

func (s *Session) handle(gen uint64, ev Event) {
	switch ev := ev.(type) {
	case CallStarted:
		s.onCallStarted(gen)
	case CallEnded:
		s.onCallEnded(gen)
	case Message:
		s.onMessage(gen, ev)
	case SpeechStarted:
		s.setSpeaking(gen, true)
	case SpeechEnded:
		s.setSpeaking(gen, false)
	case Failure:
		s.onFailure(gen, ev)
	default:
		s.logger.Debug("Ignoring unknown call event", "event", fmt.Sprintf("%T", ev))
	}
}

func (s *Session) onCallStarted(gen uint64) {
	muted := false
	if err := protect(func() error { muted = s.adapter.IsMuted(); return nil }); err != nil {
		s.logger.Warn("Failed to read mute state", "error", err)
	}

	var stray bool
	s.update(func() bool {
		if !s.currentLocked(gen) {
			return false
		}
		if s.status != StatusConnecting {
			stray = s.status != StatusActive
			return false
		}
		s.setStatusLocked(StatusActive)
		s.retry.reset()
		s.failure = ErrorState{}
		s.muted = muted
		s.live = true
		return true
	})

	if stray {
		// the user gave up on this call before it connected
		s.logger.Warn("Stopping call that started outside a connection attempt")
		if err := protect(func() error { return s.adapter.Stop(s.context()) }); err != nil {
			s.logger.Warn("Failed to stop stray call", "error", err)
		}
	}
}

func (s *Session) onCallEnded(gen uint64) {
	var record bool
	s.update(func() bool {
		if !s.currentLocked(gen) {
			return false
		}
		record = s.live
		s.live = false
		s.speaking = false
		if s.status == StatusActive {
			s.setStatusLocked(StatusFinished)
		}
		return true
	})

	if record {
		go s.recordHistory()
	}
}

func (s *Session) onMessage(gen uint64, msg Message) {
	if !msg.IsFinalTranscript() {
		return
	}

	s.update(func() bool {
		if !s.currentLocked(gen) {
			return false
		}
		s.transcript.Add(Entry{Role: msg.Role, Content: msg.Transcript})
		return true
	})
}

func (s *Session) setSpeaking(gen uint64, speaking bool) {
	s.update(func() bool {
		if !s.currentLocked(gen) || s.speaking == speaking {
			return false
		}
		s.speaking = speaking
		return true
	})
}

func (s *Session) onFailure(gen uint64, f Failure) {
	s.logger.Warn("Voice service error", "error", f.Err)

	var escalated bool
	s.update(func() bool {
		if !s.currentLocked(gen) {
			return false
		}
		if s.status == StatusError && s.failure.Message == ErrMaxRetries.Error() {
			// late failures from the last attempt keep the exhaustion message
			return false
		}
		s.failure = errorState(f.Message())
		switch s.status {
		case StatusConnecting:
			s.retryLocked()
		case StatusActive:
			// established calls are not retried
			escalated = s.setStatusLocked(StatusError)
			s.speaking = false
		}
		return true
	})

	if escalated {
		if err := protect(func() error { return s.adapter.Stop(s.context()) }); err != nil {
			s.logger.Warn("Failed to stop failed call", "error", err)
		}
	}
}

// retryLocked schedules the next connection attempt or gives up.
func (s *Session) retryLocked() {
	if !s.retry.fail() {
		s.logger.Error("Giving up on call", "attempts", s.retry.count)
		s.failure = errorState(ErrMaxRetries.Error())
		s.setStatusLocked(StatusError)
		return
	}

	s.logger.Info("Scheduling call retry",
		"attempt", s.retry.count,
		"max_retries", s.retry.policy.MaxRetries,
		"delay", s.retry.delay,
	)
	s.retry.schedule(s.clock, s.retryFired)
}

func (s *Session) retryFired(gen uint64) {
	s.mu.Lock()
	ok := s.retry.claim(gen) && s.mounted && s.status == StatusConnecting
	ctx := s.ctx
	s.mu.Unlock()

	if !ok {
		return
	}

	s.StartCall(ctx)
}

func (s *Session) recordHistory() {
	if s.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	err := protect(func() error { return s.history.Record(ctx, s.persona.CompanionID) })
	if err != nil {
		s.logger.Warn("Failed to record session history", "error", err)
	}
}

// update applies mutate under the lock and, when it reports a change,
// publishes a snapshot to observers outside the lock.
func (s *Session) update(mutate func() bool) {
	s.mu.Lock()
	if !mutate() {
		s.mu.Unlock()
		return
	}
	s.seq++
	snap := s.snapshotLocked()
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, notify := range observers {
		notify(snap)
	}
}

// setStatusLocked moves to next if the transition is allowed. Leaving
// Connecting for any other status cancels a pending retry.
func (s *Session) setStatusLocked(next Status) bool {
	if !s.status.CanTransition(next) {
		if s.status != next {
			s.logger.Warn("Ignoring call status change", "from", s.status.String(), "to", next.String())
		}
		return false
	}

	if next != StatusConnecting {
		if timer := s.retry.disarm(); timer != nil {
			timer.Stop()
		}
	}

	s.logger.Debug("Call status changed", "from", s.status.String(), "to", next.String())
	s.status = next

	return true
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Seq:          s.seq,
		Status:       s.status,
		Error:        s.failure,
		RetryCount:   s.retry.count,
		RetryPending: s.retry.pending(),
		Muted:        s.muted,
		Speaking:     s.speaking,
		Transcript:   s.transcript.Entries(),
	}
}

func (s *Session) currentLocked(gen uint64) bool {
	return s.mounted && s.mountGen == gen
}

func (s *Session) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// protect runs fn, turning a panic into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn()
}
