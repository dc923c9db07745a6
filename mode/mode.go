// Package mode classifies request intent into an interaction mode,
// extracts sticky invariants from query text, and allocates per-section
// token budgets for context assembly.
//
// Classification is table-driven and pure; the only stateful piece is the
// error-rate tracker feeding the guardrail fallback.
package mode

import "strings"

// Mode is the interaction mode driving budget allocation.
type Mode string

const (
	ModeTask        Mode = "TASK"
	ModeExploration Mode = "EXPLORATION"
	ModeDebugging   Mode = "DEBUGGING"
	ModeLearning    Mode = "LEARNING"
	ModeGeneral     Mode = "GENERAL"
)

// coreWords map exactly to a mode with high confidence.
var coreWords = map[string]Mode{
	"task":    ModeTask,
	"debug":   ModeDebugging,
	"explore": ModeExploration,
	"learn":   ModeLearning,
	"general": ModeGeneral,
}

// variations are recognized synonyms with slightly lower confidence.
var variations = map[string]Mode{
	"implement":   ModeTask,
	"fix":         ModeDebugging,
	"error":       ModeDebugging,
	"investigate": ModeExploration,
	"explain":     ModeLearning,
	"teach":       ModeLearning,
	"default":     ModeGeneral,
	"unknown":     ModeGeneral,
}

// Detect maps an intent string to a mode (case-insensitive exact match,
// trimmed). Unknown intents fall back to GENERAL.
func Detect(intent string) Mode {
	key := strings.ToLower(strings.TrimSpace(intent))
	if m, ok := coreWords[key]; ok {
		return m
	}
	if m, ok := variations[key]; ok {
		return m
	}
	return ModeGeneral
}

// Confidence estimates how certain the (intent, mode) pairing is:
//
//	empty intent                  → 0.5
//	exact core word               → 0.95
//	exact variation               → 0.85
//	unknown mapped to GENERAL     → 0.6
//	anything else                 → 0.5
func Confidence(intent string, detected Mode) float64 {
	key := strings.ToLower(strings.TrimSpace(intent))
	if key == "" {
		return 0.5
	}
	if m, ok := coreWords[key]; ok && m == detected {
		return 0.95
	}
	if m, ok := variations[key]; ok && m == detected {
		return 0.85
	}
	if detected == ModeGeneral {
		return 0.6
	}
	return 0.5
}

// Budgets is the per-section token allocation for one mode, in assembly
// order.
type Budgets struct {
	Rules             int `json:"rules"`
	TaskState         int `json:"task_state"`
	RecentWindow      int `json:"recent_window"`
	Capsules          int `json:"capsules"`
	RetrievedEvidence int `json:"retrieved_evidence"`
	RelevantDecisions int `json:"relevant_decisions"`
}

// modeBudgets are the fixed allocations per mode.
var modeBudgets = map[Mode]Budgets{
	ModeTask:        {Rules: 10000, TaskState: 5000, RecentWindow: 2000, Capsules: 4000, RetrievedEvidence: 28000, RelevantDecisions: 4000},
	ModeExploration: {Rules: 3000, TaskState: 1000, RecentWindow: 15000, Capsules: 2000, RetrievedEvidence: 35000, RelevantDecisions: 6000},
	ModeDebugging:   {Rules: 5000, TaskState: 4000, RecentWindow: 12000, Capsules: 0, RetrievedEvidence: 25000, RelevantDecisions: 3000},
	ModeLearning:    {Rules: 8000, TaskState: 0, RecentWindow: 2000, Capsules: 2000, RetrievedEvidence: 40000, RelevantDecisions: 8000},
	ModeGeneral:     {Rules: 6000, TaskState: 3000, RecentWindow: 8000, Capsules: 4000, RetrievedEvidence: 28000, RelevantDecisions: 4000},
}

// BudgetsFor returns the token allocations for m, defaulting to GENERAL
// for unrecognized modes.
func BudgetsFor(m Mode) Budgets {
	if b, ok := modeBudgets[m]; ok {
		return b
	}
	return modeBudgets[ModeGeneral]
}
