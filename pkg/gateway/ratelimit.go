// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/helixbio/triage/pkg/errors"
)

// windowLimiter admits at most max calls within any sliding window. It keeps
// a timestamp log per admission, so the invariant holds exactly under
// concurrent callers; the small per-provider call volume keeps the log cheap.
type windowLimiter struct {
	mu     sync.Mutex
	log    []time.Time
	max    int
	window time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func newWindowLimiter(max int, window time.Duration) *windowLimiter {
	return &windowLimiter{
		max:    max,
		window: window,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// acquire blocks until a slot frees, bounded by maxWait. It returns the time
// spent waiting or a RATE_LIMIT_EXCEEDED error. Calls beyond the limit are
// queued, never dropped.
func (l *windowLimiter) acquire(ctx context.Context, maxWait time.Duration) (time.Duration, error) {
	if l == nil || l.max <= 0 {
		return 0, nil
	}
	start := l.now()
	deadline := start.Add(maxWait)

	for {
		l.mu.Lock()
		now := l.now()

		// Drop admissions that left the window.
		cutoff := now.Add(-l.window)
		kept := l.log[:0]
		for _, t := range l.log {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		l.log = kept

		if len(l.log) < l.max {
			l.log = append(l.log, now)
			l.mu.Unlock()
			return now.Sub(start), nil
		}

		wait := l.log[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if maxWait >= 0 && now.Add(wait).After(deadline) {
			return 0, errors.New(errors.CodeRateLimitExceeded, "rate-limit admission not obtained within max wait", nil).
				WithContext("max_wait", maxWait.String()).
				WithRecoverable(true)
		}
		if err := l.sleep(ctx, wait); err != nil {
			return l.now().Sub(start), errors.New(errors.CodeTimeout, "canceled while waiting for rate-limit admission", err)
		}
		// Re-check under lock; a concurrent caller may have taken the slot.
	}
}

// limiterSet holds one windowLimiter per provider.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*windowLimiter
}

// Limit configures one provider's admission budget.
type Limit struct {
	Calls  int
	Window time.Duration
}

func newLimiterSet(limits map[string]Limit) *limiterSet {
	s := &limiterSet{limiters: make(map[string]*windowLimiter)}
	for provider, lim := range limits {
		if lim.Calls > 0 && lim.Window > 0 {
			s.limiters[provider] = newWindowLimiter(lim.Calls, lim.Window)
		}
	}
	return s
}

// forProvider returns the limiter for a provider, or nil when unlimited.
func (s *limiterSet) forProvider(name string) *windowLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limiters[name]
}

// setLimit replaces a provider's budget; used by config hot-reload. Existing
// waiters finish against the old limiter.
func (s *limiterSet) setLimit(provider string, lim Limit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lim.Calls > 0 && lim.Window > 0 {
		s.limiters[provider] = newWindowLimiter(lim.Calls, lim.Window)
	} else {
		delete(s.limiters, provider)
	}
}
