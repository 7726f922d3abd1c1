package github

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultMaxBackoff  = 5 * time.Second
	baseBackoff        = 500 * time.Millisecond
	maxJitter          = 100 * time.Millisecond
)

type retryPolicy struct {
	maxAttempts int
	maxBackoff  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	jitter      func() time.Duration
}

func newRetryPolicy(maxAttempts int, maxBackoff time.Duration, sleep func(context.Context, time.Duration) error) retryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return retryPolicy{
		maxAttempts: maxAttempts,
		maxBackoff:  maxBackoff,
		sleep:       sleep,
		jitter:      func() time.Duration { return rand.N(maxJitter) },
	}
}

// next decides whether attempt (1-based) should be followed by another
// and how long to wait first.
func (p retryPolicy) next(ctx context.Context, attempt int, resp *Response, err error) (time.Duration, bool) {
	if attempt >= p.maxAttempts || ctx.Err() != nil || !retryable(err) {
		return 0, false
	}
	if resp != nil {
		if d := retryAfter(resp.Header); d > 0 {
			return min(d, p.maxBackoff), true
		}
	}
	return p.backoff(attempt), true
}

// backoff is min(maxBackoff, 0.5s * 2^(attempt-1)) plus jitter.
func (p retryPolicy) backoff(attempt int) time.Duration {
	d := p.maxBackoff
	if attempt <= 8 {
		d = min(p.maxBackoff, baseBackoff<<(attempt-1))
	}
	return d + p.jitter()
}

// retryable covers rate limits, server errors and network timeouts.
// 401, 403, 404 and 422 are never retried.
func retryable(err error) bool {
	return IsRateLimited(err) || IsServerError(err) || IsTimeout(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
