package mode

import "strings"

// InvariantType is a sticky signal extracted from query text that must be
// preserved in the assembled context.
type InvariantType string

const (
	InvariantSafety         InvariantType = "SAFETY_REQUIREMENT"
	InvariantUserCorrection InvariantType = "USER_CORRECTION"
	InvariantHardConstraint InvariantType = "HARD_CONSTRAINT"
	InvariantBlockingError  InvariantType = "BLOCKING_ERROR"
)

// Priority returns the fixed priority of an invariant type. Higher values
// are more important.
func (t InvariantType) Priority() int {
	switch t {
	case InvariantSafety:
		return 1000
	case InvariantUserCorrection:
		return 900
	case InvariantHardConstraint:
		return 800
	case InvariantBlockingError:
		return 700
	}
	return 0
}

// Invariant is one extracted sticky signal.
type Invariant struct {
	Type     InvariantType `json:"type"`
	Priority int           `json:"priority"`
}

// substring markers per invariant type; matching is case-insensitive.
// Leading/trailing spaces in markers are meaningful: they anchor on word
// boundaries inside the lowered query text.
var (
	safetyMarkers = []string{
		"safety", "security", "must be secure", "must validate", "authentication",
	}
	correctionMarkers = []string{
		" actually ", " wait ", " no, ", " correction", " instead",
	}
	constraintMarkers = []string{
		" must ", " must not ", " required ", " mandatory ", " critical ",
	}
	errorMarkers = []string{
		" error ", " fail", " bug ", " broken ", " crash", " exception",
	}
)

func matchesAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// ExtractInvariants scans query text for sticky invariants. Each type
// appears at most once; results are ordered by descending priority.
func ExtractInvariants(queryText string) []Invariant {
	// Pad so word-boundary markers can match at the edges of the text.
	lowered := " " + strings.ToLower(queryText) + " "

	var out []Invariant
	add := func(t InvariantType) {
		out = append(out, Invariant{Type: t, Priority: t.Priority()})
	}

	if matchesAny(lowered, safetyMarkers) {
		add(InvariantSafety)
	}
	if matchesAny(lowered, correctionMarkers) ||
		(strings.Contains(lowered, " not ") && strings.Contains(lowered, " but ")) {
		add(InvariantUserCorrection)
	}
	if matchesAny(lowered, constraintMarkers) {
		add(InvariantHardConstraint)
	}
	if matchesAny(lowered, errorMarkers) {
		add(InvariantBlockingError)
	}
	return out
}

// DefaultBreachPriority is the minimum priority an invariant must reach
// before its absence counts as a breach.
const DefaultBreachPriority = 800

// Breach describes a required invariant missing from an assembled
// context. The current policy is log-only: breaches surface through
// telemetry but never abort assembly.
type Breach struct {
	Missing  InvariantType `json:"missing"`
	Priority int           `json:"priority"`
}

// DetectBreaches compares the invariants required by the request against
// those present in the assembled context and reports every required
// invariant at or above minPriority that is missing. A minPriority of 0
// applies the default of 800.
func DetectBreaches(required []Invariant, present map[InvariantType]bool, minPriority int) []Breach {
	if minPriority <= 0 {
		minPriority = DefaultBreachPriority
	}
	var breaches []Breach
	for _, inv := range required {
		if inv.Priority < minPriority {
			continue
		}
		if !present[inv.Type] {
			breaches = append(breaches, Breach{Missing: inv.Type, Priority: inv.Priority})
		}
	}
	return breaches
}
