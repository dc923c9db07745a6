package telemetry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mnemo.evalgo.org/common"
	"mnemo.evalgo.org/mode"
)

// Sender delivers a batch of events to a remote collector. Send must be
// idempotent: the sink retries failed batches and a collector may see the
// same batch twice.
type Sender interface {
	Send(ctx context.Context, events []Event) error
}

// Config configures a Sink.
type Config struct {
	// BufferSize triggers a flush when the buffer reaches it (default 100)
	BufferSize int

	// FlushInterval triggers periodic flushes (default 30s)
	FlushInterval time.Duration

	// SampleRate is the fraction of mode_detected events kept, 0-1.
	// Fallback and breach events are never sampled out.
	SampleRate float64

	// Sender delivers flushed batches; nil means log-only operation
	Sender Sender
}

// Sink buffers telemetry events in memory and drains them on a periodic
// flush or when the buffer fills. On send failure the batch is requeued at
// the head of the buffer for the next attempt.
type Sink struct {
	mu     sync.Mutex
	buf    []Event
	cfg    Config
	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
	rnd    *rand.Rand
}

// NewSink creates and starts a sink. Call Close to drain and stop it.
func NewSink(cfg Config) *Sink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate > 1 {
		cfg.SampleRate = 1.0
	}

	s := &Sink{
		cfg:  cfg,
		buf:  make([]Event, 0, cfg.BufferSize),
		done: make(chan struct{}),
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	s.ticker = time.NewTicker(cfg.FlushInterval)
	s.wg.Add(1)
	go s.flushLoop()
	return s
}

// Record buffers one event, flushing if the buffer is full. mode_detected
// events are subject to sampling.
func (s *Sink) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	if ev.Type == EventModeDetected && s.cfg.SampleRate < 1.0 {
		if s.rnd.Float64() >= s.cfg.SampleRate {
			s.mu.Unlock()
			return
		}
	}
	s.buf = append(s.buf, ev)
	full := len(s.buf) >= s.cfg.BufferSize
	s.mu.Unlock()

	if full {
		s.Flush(context.Background())
	}
}

// RecordModeDetected records a mode classification result.
func (s *Sink) RecordModeDetected(tenantID, sessionID, requestID string, m mode.Mode, confidence float64, invariants []mode.Invariant) {
	names := make([]string, 0, len(invariants))
	for _, inv := range invariants {
		names = append(names, string(inv.Type))
	}
	s.Record(Event{
		Type:      EventModeDetected,
		TenantID:  tenantID,
		SessionID: sessionID,
		RequestID: requestID,
		Payload: map[string]interface{}{
			"mode":       string(m),
			"confidence": confidence,
			"invariants": names,
		},
	})
}

// RecordFallback records a guardrail fallback to GENERAL.
func (s *Sink) RecordFallback(tenantID, sessionID, requestID string, from mode.Mode, reason string) {
	s.Record(Event{
		Type:      EventFallbackTriggered,
		TenantID:  tenantID,
		SessionID: sessionID,
		RequestID: requestID,
		Payload: map[string]interface{}{
			"from_mode": string(from),
			"reason":    reason,
		},
	})
}

// RecordBreach records a missing-invariant breach and logs it at the
// severity derived from the missing invariant.
func (s *Sink) RecordBreach(tenantID, sessionID, requestID string, breach mode.Breach) {
	severity := BreachSeverity(breach.Missing)
	common.Logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"session_id": sessionID,
		"request_id": requestID,
		"missing":    string(breach.Missing),
		"priority":   breach.Priority,
		"severity":   severity,
	}).Log(breachLogLevel(severity), "invariant breach detected")

	s.Record(Event{
		Type:      EventInvariantBreach,
		TenantID:  tenantID,
		SessionID: sessionID,
		RequestID: requestID,
		Payload: map[string]interface{}{
			"missing":  string(breach.Missing),
			"priority": breach.Priority,
			"severity": severity,
		},
	})
}

// Flush drains the buffer through the sender. On failure the batch goes
// back to the head of the buffer so ordering is preserved for the retry.
func (s *Sink) Flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buf
	s.buf = make([]Event, 0, s.cfg.BufferSize)
	s.mu.Unlock()

	if s.cfg.Sender == nil {
		common.Logger.WithField("events", len(batch)).Debug("telemetry flush (no sender configured)")
		return
	}

	if err := s.cfg.Sender.Send(ctx, batch); err != nil {
		common.Logger.WithError(err).WithField("events", len(batch)).Error("telemetry send failed, requeueing")
		s.mu.Lock()
		s.buf = append(batch, s.buf...)
		s.mu.Unlock()
	}
}

// Len returns the number of buffered events.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *Sink) flushLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.Flush(context.Background())
		case <-s.done:
			return
		}
	}
}

// Close stops the flush loop and performs a final drain bounded by a
// five-second deadline.
func (s *Sink) Close() {
	s.ticker.Stop()
	close(s.done)
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Flush(ctx)
}
