package call

import (
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	// DefaultMaxRetries bounds reconnection attempts per call.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the pause before a reconnection attempt.
	DefaultRetryDelay = 2 * time.Second
)

// RetryPolicy bounds automatic reconnection of a call that fails while
// connecting. Failures after the call is established are never retried.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryPolicy returns the fixed-delay policy used by new sessions.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		Delay:      DefaultRetryDelay,
	}
}

// backoff returns the delay schedule for one call. It stops after
// MaxRetries-1 delays so that the MaxRetries-th failure is terminal.
func (p RetryPolicy) backoff() retry.Backoff {
	delay := p.Delay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	attempts := uint64(max(p.MaxRetries-1, 0))

	return retry.WithMaxRetries(attempts, retry.NewConstant(delay))
}

// retrier counts failed connection attempts and owns the single pending
// retry timer. Callers serialize access.
type retrier struct {
	policy  RetryPolicy
	backoff retry.Backoff
	delay   time.Duration
	count   int
	gen     uint64
	timer   Timer
}

// fail records a failed attempt and reports whether another one is allowed.
// The count never exceeds MaxRetries.
func (r *retrier) fail() bool {
	if r.backoff == nil {
		r.backoff = r.policy.backoff()
	}

	r.count = min(r.count+1, max(r.policy.MaxRetries, 0))
	delay, stop := r.backoff.Next()
	if stop {
		return false
	}
	r.delay = delay

	return true
}

func (r *retrier) reset() {
	r.count = 0
	r.backoff = nil
}

// schedule arms a timer calling fire with the timer's generation. A previous
// timer is superseded.
func (r *retrier) schedule(clock Clock, fire func(gen uint64)) {
	if stale := r.disarm(); stale != nil {
		stale.Stop()
	}

	gen := r.gen
	r.timer = clock.AfterFunc(r.delay, func() { fire(gen) })
}

// disarm invalidates the pending timer, if any, and hands it back so the
// caller can stop it outside its critical section. A timer that fires after
// disarm is ignored by claim.
func (r *retrier) disarm() Timer {
	r.gen++
	timer := r.timer
	r.timer = nil

	return timer
}

// claim consumes the pending timer if gen still identifies it.
func (r *retrier) claim(gen uint64) bool {
	if r.timer == nil || r.gen != gen {
		return false
	}
	r.timer = nil

	return true
}

func (r *retrier) pending() bool {
	return r.timer != nil
}
