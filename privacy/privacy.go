// Package privacy implements the channel/sensitivity admissibility rules
// and secret detection used on every write and read path.
//
// All functions are pure: no I/O, no shared mutable state, safe for
// unsynchronized concurrent use.
package privacy

import (
	"regexp"

	"mnemo.evalgo.org/memory"
)

// RedactedSentinel replaces every matched secret substring.
const RedactedSentinel = "[SECRET_REDACTED]"

// secretPatterns is the fixed set of secret shapes scanned for in event
// content. The list is deliberately conservative: high-signal token
// formats and explicit password assignments only.
var secretPatterns = []*regexp.Regexp{
	// OpenAI-style API keys
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	// Bearer tokens in auth headers or prose
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{16,}=*`),
	// AWS access key ids
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	// GitHub personal access tokens
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`),
	// Slack tokens
	regexp.MustCompile(`xox[baprs]-[A-Za-z0-9\-]{10,}`),
	// password: ... / password = ... assignments
	regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`),
}

// AllowedSensitivity returns the set of sensitivities admissible on the
// given channel:
//
//	public        → {none, low}
//	private, team → {none, low, high}
//	agent         → {none, low}
//	anything else → {none}
//
// Secret-sensitivity records are never admissible on any channel.
func AllowedSensitivity(channel memory.Channel) []memory.Sensitivity {
	switch channel {
	case memory.ChannelPublic, memory.ChannelAgent:
		return []memory.Sensitivity{memory.SensitivityNone, memory.SensitivityLow}
	case memory.ChannelPrivate, memory.ChannelTeam:
		return []memory.Sensitivity{memory.SensitivityNone, memory.SensitivityLow, memory.SensitivityHigh}
	default:
		return []memory.Sensitivity{memory.SensitivityNone}
	}
}

// SensitivityAllowed reports whether s is admissible on channel.
func SensitivityAllowed(channel memory.Channel, s memory.Sensitivity) bool {
	for _, allowed := range AllowedSensitivity(channel) {
		if allowed == s {
			return true
		}
	}
	return false
}

// ContainsSecrets reports whether text matches any of the fixed secret
// patterns.
func ContainsSecrets(text string) bool {
	for _, p := range secretPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// RedactSecrets replaces every secret match in text with the sentinel.
func RedactSecrets(text string) string {
	for _, p := range secretPatterns {
		text = p.ReplaceAllString(text, RedactedSentinel)
	}
	return text
}
