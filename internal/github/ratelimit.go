package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ppiankov/repogate/internal/clock"
)

// pacer spaces outbound requests with a token bucket and, once GitHub
// reports the primary rate limit as exhausted, holds requests until
// the reset time.
type pacer struct {
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	clock   clock.Clock

	mu        sync.Mutex
	remaining int
	reset     time.Time
	known     bool
}

func newPacer(rps float64, burst int, clk clock.Clock, sleep func(context.Context, time.Duration) error) *pacer {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &pacer{limiter: rate.NewLimiter(limit, burst), sleep: sleep, clock: clk}
}

func (p *pacer) wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		// Wait fails early when the deadline is too close to admit
		// the request; report that as the deadline it is.
		if ctx.Err() == nil {
			if _, ok := ctx.Deadline(); ok {
				return fmt.Errorf("github: pacing: %w", context.DeadlineExceeded)
			}
		}
		return fmt.Errorf("github: pacing: %w", err)
	}

	p.mu.Lock()
	if !p.known || p.remaining > 0 {
		p.mu.Unlock()
		return nil
	}
	d := p.reset.Sub(p.clock.Now())
	p.mu.Unlock()
	if d <= 0 {
		return nil
	}
	if err := p.sleep(ctx, d); err != nil {
		return fmt.Errorf("github: waiting for rate limit reset: %w", err)
	}
	return nil
}

// update records X-RateLimit-* state from every response.
func (p *pacer) update(header http.Header) {
	remainingStr := header.Get("X-RateLimit-Remaining")
	resetStr := header.Get("X-RateLimit-Reset")
	if remainingStr == "" || resetStr == "" {
		return
	}
	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return
	}
	resetUnix, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.remaining = remaining
	p.reset = time.Unix(resetUnix, 0)
	p.known = true
}

// retryAfter parses Retry-After as seconds or an HTTP date.
func retryAfter(header http.Header) time.Duration {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
