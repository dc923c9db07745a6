// Package telemetry provides a buffered sink for mode, fallback and
// invariant-breach signals. The sink is injected, never global; shutdown
// drains the buffer within a bounded period.
package telemetry

import (
	"time"

	"github.com/sirupsen/logrus"

	"mnemo.evalgo.org/mode"
)

// EventType is one of the three accepted telemetry event families.
type EventType string

const (
	EventModeDetected      EventType = "mode_detected"
	EventFallbackTriggered EventType = "fallback_triggered"
	EventInvariantBreach   EventType = "invariant_breach"
)

// Event is one telemetry record. Payload is type-specific and kept as a
// flat map so senders can serialize without knowing the family.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// BreachSeverity maps a missing invariant type to a log severity:
// SAFETY → critical, USER_CORRECTION and HARD_CONSTRAINT → high,
// everything else → medium.
func BreachSeverity(missing mode.InvariantType) string {
	switch missing {
	case mode.InvariantSafety:
		return "critical"
	case mode.InvariantUserCorrection, mode.InvariantHardConstraint:
		return "high"
	default:
		return "medium"
	}
}

// breachLogLevel picks the logrus level corresponding to a severity.
func breachLogLevel(severity string) logrus.Level {
	switch severity {
	case "critical":
		return logrus.ErrorLevel
	case "high":
		return logrus.WarnLevel
	default:
		return logrus.InfoLevel
	}
}
