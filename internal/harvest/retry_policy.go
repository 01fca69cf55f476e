package harvest

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// ErrRetriesExhausted marks a detail task that hit RetryPolicy.MaxAttempts.
var ErrRetriesExhausted = errors.New("detail retries exhausted")

// RetryPolicy drives the detail task state machine. MaxAttempts of zero means
// a failing fetch is retried until it succeeds or the run context ends.
type RetryPolicy struct {
	JitterMin           time.Duration
	JitterMax           time.Duration
	BackoffMin          time.Duration
	BackoffMax          time.Duration
	Cooldown            time.Duration
	CongestionThreshold int64
	MaxAttempts         int
}

// DefaultRetryPolicy returns the timings the remote registry tolerates.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		JitterMin:           30 * time.Millisecond,
		JitterMax:           430 * time.Millisecond,
		BackoffMin:          7300 * time.Millisecond,
		BackoffMax:          11480 * time.Millisecond,
		Cooldown:            5 * time.Second,
		CongestionThreshold: 10,
		MaxAttempts:         0,
	}
}

// Validate rejects inverted or negative intervals.
func (p RetryPolicy) Validate() error {
	if p.JitterMin < 0 || p.JitterMax < p.JitterMin {
		return fmt.Errorf("jitter interval [%s, %s] is invalid", p.JitterMin, p.JitterMax)
	}
	if p.BackoffMin < 0 || p.BackoffMax < p.BackoffMin {
		return fmt.Errorf("backoff interval [%s, %s] is invalid", p.BackoffMin, p.BackoffMax)
	}
	if p.Cooldown < 0 {
		return fmt.Errorf("cooldown must be >= 0")
	}
	if p.CongestionThreshold < 0 {
		return fmt.Errorf("congestion threshold must be >= 0")
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be >= 0")
	}
	return nil
}

// Jitter returns the initial desynchronising delay for a freshly dispatched task.
func (p RetryPolicy) Jitter() time.Duration {
	return uniform(p.JitterMin, p.JitterMax)
}

// Backoff returns the pause taken by a worker after a failed attempt.
func (p RetryPolicy) Backoff() time.Duration {
	return uniform(p.BackoffMin, p.BackoffMax)
}

// Congested reports whether enough workers are backing off that every worker
// should slow down before its next attempt.
func (p RetryPolicy) Congested(paused int64) bool {
	return paused > p.CongestionThreshold
}

// Exhausted reports whether attempt (1-based) was the last one allowed.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

func uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo)+1))
	if err != nil {
		return lo + (hi-lo)/2
	}
	return lo + time.Duration(n.Int64())
}
