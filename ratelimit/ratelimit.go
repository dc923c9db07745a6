// Package ratelimit enforces per-key fixed-window quotas on the write and
// build paths, with a process-wide token bucket as a safety valve.
package ratelimit

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/common"
	"mnemo.evalgo.org/db/repository"
)

// Default per-minute quotas.
const (
	DefaultEventsPerMinute = 100
	DefaultACBPerMinute    = 60
)

// window is the fixed counting window.
const window = time.Minute

// Limiter combines per-key fixed-window counters (shared across replicas
// when backed by redis) with one process-local token bucket sized at the
// sum of the quotas.
type Limiter struct {
	counters  repository.CounterRepository
	eventsMax int
	acbMax    int
	global    *rate.Limiter
}

// NewLimiter creates a limiter over the given counter store. Non-positive
// quotas fall back to the defaults.
func NewLimiter(counters repository.CounterRepository, eventsPerMinute, acbPerMinute int) *Limiter {
	if eventsPerMinute <= 0 {
		eventsPerMinute = DefaultEventsPerMinute
	}
	if acbPerMinute <= 0 {
		acbPerMinute = DefaultACBPerMinute
	}
	perSecond := rate.Limit(float64(eventsPerMinute+acbPerMinute) / 60.0)
	return &Limiter{
		counters:  counters,
		eventsMax: eventsPerMinute,
		acbMax:    acbPerMinute,
		global:    rate.NewLimiter(perSecond, eventsPerMinute+acbPerMinute),
	}
}

// AllowEvent checks the event-write quota for key.
func (l *Limiter) AllowEvent(ctx context.Context, key string) error {
	return l.allow(ctx, "events:"+key, l.eventsMax)
}

// AllowACB checks the bundle-build quota for key.
func (l *Limiter) AllowACB(ctx context.Context, key string) error {
	return l.allow(ctx, "acb:"+key, l.acbMax)
}

func (l *Limiter) allow(ctx context.Context, key string, limit int) error {
	if !l.global.Allow() {
		return &apperr.RateLimitError{RetryAfterSeconds: 1}
	}

	count, remaining, err := l.counters.Incr(ctx, key, window)
	if err != nil {
		// A broken counter store must not take the API down with it;
		// the global bucket still bounds throughput.
		common.Logger.WithError(err).Warn("rate limit counter unavailable, allowing request")
		return nil
	}
	if count > int64(limit) {
		retry := int(math.Ceil(remaining.Seconds()))
		if retry < 1 {
			retry = 1
		}
		return &apperr.RateLimitError{RetryAfterSeconds: retry}
	}
	return nil
}
