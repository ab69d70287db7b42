package client

import "time"

// retryState counts consecutive failed attempts and doubles the delay
// between them, up to max.
type retryState struct {
	attempts    int
	delay       time.Duration
	initial     time.Duration
	max         time.Duration
	maxAttempts int
}

func newRetryState(initial, max time.Duration, maxAttempts int) retryState {
	return retryState{
		delay:       initial,
		initial:     initial,
		max:         max,
		maxAttempts: maxAttempts,
	}
}

func (r *retryState) reset() {
	r.attempts = 0
	r.delay = r.initial
}

// next returns the delay before the next attempt, or false once the
// attempts are used up.
func (r *retryState) next() (time.Duration, bool) {
	if r.attempts >= r.maxAttempts {
		return 0, false
	}
	r.attempts++
	d := r.delay
	r.delay = min(r.delay*2, r.max)
	return d, true
}

type stopper interface {
	Stop() bool
}

type scheduler interface {
	AfterFunc(d time.Duration, f func()) stopper
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}
