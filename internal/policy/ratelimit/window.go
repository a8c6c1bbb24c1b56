// Package ratelimit throttles how often heavy actions may start.
//
// Window enforces a global sliding one-second window shared by every
// action. HostLimiter adds an optional per-host token bucket so a single
// origin is not hammered by a batch.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/grail/internal/metrics"
)

const windowSpan = time.Second

// Window admits at most rps actions within any trailing one-second span.
type Window struct {
	mu     sync.Mutex
	rps    int
	stamps []time.Time

	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	admitted func(time.Time)
}

// NewWindow creates a sliding-window limiter. A non-positive rps disables
// limiting entirely.
func NewWindow(rps int) *Window {
	return &Window{
		rps:   rps,
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Limit returns the configured requests per second.
func (w *Window) Limit() int {
	return w.rps
}

// Wait blocks until the caller may start an action. Each successful return
// records one timestamp in the window.
func (w *Window) Wait(ctx context.Context) error {
	if w.rps <= 0 {
		return nil
	}
	start := w.now()
	for {
		w.mu.Lock()
		now := w.now()
		w.pruneLocked(now)
		if len(w.stamps) < w.rps {
			w.stamps = append(w.stamps, now)
			hook := w.admitted
			w.mu.Unlock()
			if hook != nil {
				hook(now)
			}
			if delay := now.Sub(start); delay > 0 {
				metrics.ObserveRateLimitDelay("global", delay)
			}
			return nil
		}
		pause := w.stamps[0].Add(windowSpan).Sub(now)
		w.mu.Unlock()

		// The window is re-checked after sleeping because another caller
		// may have claimed the freed slot first.
		if err := w.sleep(ctx, pause); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
}

func (w *Window) pruneLocked(now time.Time) {
	keep := 0
	for keep < len(w.stamps) && now.Sub(w.stamps[keep]) >= windowSpan {
		keep++
	}
	if keep > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[keep:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
