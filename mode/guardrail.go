package mode

import (
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// FallbackConfidenceFloor is the confidence below which detection falls
// back to GENERAL.
const FallbackConfidenceFloor = 0.70

// errorRateWindow is the sliding window over which per-mode error rates
// are computed. Five minutes of minute-granularity buckets keeps the
// tracker cheap while still reacting within a few requests.
const errorRateWindow = 5 * time.Minute

// ErrorRateTracker maintains per-mode request and error counters over a
// sliding window. Counters live in an expiring cache so stale buckets
// vanish without a reaper goroutine of our own.
type ErrorRateTracker struct {
	mu      sync.Mutex
	buckets *gocache.Cache
	now     func() time.Time
}

// NewErrorRateTracker creates a tracker with the default window.
func NewErrorRateTracker() *ErrorRateTracker {
	return &ErrorRateTracker{
		buckets: gocache.New(errorRateWindow+time.Minute, 2*time.Minute),
		now:     time.Now,
	}
}

type rateBucket struct {
	requests int
	errors   int
}

func (t *ErrorRateTracker) bucketKey(m Mode, minute int64) string {
	return fmt.Sprintf("%s:%d", m, minute)
}

// Record notes one request for mode m, flagged as an error or not.
func (t *ErrorRateTracker) Record(m Mode, isError bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := t.bucketKey(m, t.now().Unix()/60)
	b := &rateBucket{}
	if v, ok := t.buckets.Get(key); ok {
		b = v.(*rateBucket)
	}
	b.requests++
	if isError {
		b.errors++
	}
	t.buckets.Set(key, b, gocache.DefaultExpiration)
}

// Rate returns the error rate for mode m over the window, 0 when no
// requests were seen.
func (t *ErrorRateTracker) Rate(m Mode) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	minute := t.now().Unix() / 60
	var requests, errors int
	for i := int64(0); i < int64(errorRateWindow/time.Minute); i++ {
		if v, ok := t.buckets.Get(t.bucketKey(m, minute-i)); ok {
			b := v.(*rateBucket)
			requests += b.requests
			errors += b.errors
		}
	}
	if requests == 0 {
		return 0
	}
	return float64(errors) / float64(requests)
}

// BaselineRate returns the error rate across all modes, serving as the
// comparison baseline for the guardrail.
func (t *ErrorRateTracker) BaselineRate() float64 {
	var sum float64
	var n int
	for m := range modeBudgets {
		if r := t.Rate(m); r > 0 {
			sum += r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// DriftCheck is an optional external signal that mode detection has
// drifted; a nil check never triggers.
type DriftCheck func(m Mode) bool

// Guardrail decides whether a detection result is trustworthy enough to
// drive budget allocation.
type Guardrail struct {
	Tracker *ErrorRateTracker
	Drift   DriftCheck
}

// Apply forces the mode to GENERAL when confidence is below the floor,
// the drift check fires, or the mode's error rate exceeds twice the
// baseline. It returns the effective mode and a non-empty fallback reason
// when a fallback occurred.
func (g *Guardrail) Apply(detected Mode, confidence float64) (Mode, string) {
	if confidence < FallbackConfidenceFloor {
		return ModeGeneral, fmt.Sprintf("low_confidence: %.2f < %.2f", confidence, FallbackConfidenceFloor)
	}
	if g == nil {
		return detected, ""
	}
	if g.Drift != nil && g.Drift(detected) {
		return ModeGeneral, "drift_detected"
	}
	if g.Tracker != nil {
		baseline := g.Tracker.BaselineRate()
		rate := g.Tracker.Rate(detected)
		if baseline > 0 && rate > 2*baseline {
			return ModeGeneral, fmt.Sprintf("error_rate: %.3f > 2x baseline %.3f", rate, baseline)
		}
	}
	return detected, ""
}
