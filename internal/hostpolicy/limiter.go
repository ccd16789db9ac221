// Package hostpolicy holds the per-host politeness state shared by all firms
// in a run. Firms on distinct hosts never contend; firms that share a host
// serialize through the same entry.
package hostpolicy

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateSettings configures an optional token bucket applied per host on top of
// the per-firm minimum delay.
type RateSettings struct {
	Requests int
	Window   time.Duration
}

// Limiter enforces a minimum delay between requests to the same host, plus an
// optional token-bucket rate. State is local to one run.
type Limiter struct {
	settings    RateSettings
	rateEnabled bool

	mu       sync.Mutex
	next     map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewLimiter creates a limiter. rateCfg may be zero to disable the bucket.
func NewLimiter(rateCfg RateSettings) *Limiter {
	l := &Limiter{
		next: make(map[string]time.Time),
	}
	if rateCfg.Requests > 0 && rateCfg.Window > 0 {
		l.rateEnabled = true
		l.settings = rateCfg
		l.limiters = make(map[string]*rate.Limiter)
	}
	return l
}

// Wait blocks until at least delay has elapsed since the previous request to
// host, then until the host's token bucket admits the request. A zero delay
// with no bucket returns immediately. Wait never fails except on context
// cancellation.
//
// Each caller reserves its admission instant under the lock, so concurrent
// waiters on one host are spaced delay apart rather than all sleeping against
// the same observation.
func (l *Limiter) Wait(ctx context.Context, host string, delay time.Duration) error {
	if l == nil || host == "" {
		return nil
	}
	host = strings.ToLower(host)

	var limiter *rate.Limiter
	now := time.Now()

	l.mu.Lock()
	slot := now
	if delay > 0 {
		if at, ok := l.next[host]; ok && at.After(now) {
			slot = at
		}
		l.next[host] = slot.Add(delay)
	}
	if l.rateEnabled {
		limiter = l.ensureLimiterLocked(host)
	}
	l.mu.Unlock()

	if sleep := time.Until(slot); sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (l *Limiter) ensureLimiterLocked(host string) *rate.Limiter {
	limiter, ok := l.limiters[host]
	if ok {
		return limiter
	}
	interval := l.settings.Window / time.Duration(l.settings.Requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	burst := l.settings.Requests
	if burst <= 0 {
		burst = 1
	}
	limiter = rate.NewLimiter(rate.Every(interval), burst)
	l.limiters[host] = limiter
	return limiter
}
