package acb

import (
	"mnemo.evalgo.org/memory"
	"mnemo.evalgo.org/mode"
)

// DefaultBudget is the token budget applied when a request omits
// max_tokens.
const DefaultBudget = 65000

// Scoring coefficients recorded in provenance. Contract constants,
// reserved for future ranking work.
const (
	ScoringAlpha = 0.6
	ScoringBeta  = 0.3
	ScoringGamma = 0.1
)

// Request describes one context-bundle build.
type Request struct {
	TenantID  string         `json:"tenant"`
	SessionID string         `json:"session"`
	AgentID   string         `json:"agent"`
	Channel   memory.Channel `json:"channel"`
	Intent    string         `json:"intent"`
	QueryText string         `json:"query_text"`

	// MaxTokens overrides the default budget; zero is honored literally
	// and yields an empty bundle.
	MaxTokens *int `json:"max_tokens,omitempty"`

	SubjectType *string `json:"subject_type,omitempty"`
	SubjectID   *string `json:"subject_id,omitempty"`
	ProjectID   *string `json:"project_id,omitempty"`

	// IncludeCapsules defaults to true; nil means true.
	IncludeCapsules    *bool `json:"include_capsules,omitempty"`
	IncludeQuarantined bool  `json:"include_quarantined,omitempty"`

	// RequestID threads through telemetry; generated when absent.
	RequestID string `json:"request_id,omitempty"`
}

// Item is one packed entry inside a section.
type Item struct {
	Ref      string `json:"ref"`
	Text     string `json:"text"`
	TokenEst int    `json:"token_est"`
}

// Section is one assembled bundle section. Sections always appear in
// assembly order, empty or not.
type Section struct {
	Name     string `json:"name"`
	Budget   int    `json:"budget"`
	TokenEst int    `json:"token_est"`
	Items    []Item `json:"items"`
}

// Omission records a candidate that did not fit its section budget.
type Omission struct {
	Section string `json:"section"`
	Ref     string `json:"ref"`
	Reason  string `json:"reason"`
}

// Provenance explains where the bundle came from.
type Provenance struct {
	Intent            string   `json:"intent"`
	QueryTerms        []string `json:"query_terms"`
	CandidatePoolSize int      `json:"candidate_pool_size"`
	Filters           struct {
		SensitivityAllowed []memory.Sensitivity `json:"sensitivity_allowed"`
	} `json:"filters"`
	Scoring struct {
		Alpha float64 `json:"alpha"`
		Beta  float64 `json:"beta"`
		Gamma float64 `json:"gamma"`
	} `json:"scoring"`
}

// ModeTelemetry summarizes the detection outcome embedded in a response.
type ModeTelemetry struct {
	DetectedMode  mode.Mode `json:"detected_mode"`
	EffectiveMode mode.Mode `json:"effective_mode"`
	Confidence    float64   `json:"confidence"`
	Breaches      int       `json:"breaches"`
}

// Response is the assembled active context bundle.
type Response struct {
	ACBID          string           `json:"acb_id"`
	BudgetTokens   int              `json:"budget_tokens"`
	TokenUsedEst   int              `json:"token_used_est"`
	Sections       []Section        `json:"sections"`
	Omissions      []Omission       `json:"omissions"`
	Provenance     Provenance       `json:"provenance"`
	Capsules       []string         `json:"capsules"`
	EditsApplied   int              `json:"edits_applied"`
	Mode           mode.Mode        `json:"mode"`
	ModeConfidence float64          `json:"mode_confidence"`
	ModeInvariants []mode.Invariant `json:"mode_invariants"`
	ModeTelemetry  ModeTelemetry    `json:"mode_telemetry"`
	FallbackReason string           `json:"fallback_reason,omitempty"`
}
