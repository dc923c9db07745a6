// Package chunker extracts searchable chunks from typed events. The
// current contract is one chunk per event with extractable text, zero for
// events whose text is empty or whitespace-only.
package chunker

import (
	"strings"

	"mnemo.evalgo.org/ident"
	"mnemo.evalgo.org/memory"
)

// importantPaths are tool-result paths that signal project-defining files;
// results touching them rank above ordinary tool output.
var importantPaths = []string{
	"README",
	"package.json",
	"pyproject.toml",
	"Cargo.toml",
	"go.mod",
}

// pinnedTag marks events the author wants kept prominent.
const pinnedTag = "pinned"

// ExtractText selects the searchable text for an event by kind:
// message→text, tool_result→excerpt_text, decision→decision joined with
// rationale lines, task_update→details (falling back to title). Tool
// calls and unknown kinds yield no text.
func ExtractText(kind memory.EventKind, content memory.Content) string {
	switch kind {
	case memory.KindMessage:
		return content.Text
	case memory.KindToolResult:
		return content.ExcerptText
	case memory.KindDecision:
		parts := append([]string{content.Decision}, content.Rationale...)
		return strings.Join(parts, "\n")
	case memory.KindTaskUpdate:
		if strings.TrimSpace(content.Details) != "" {
			return content.Details
		}
		return content.Title
	default:
		return ""
	}
}

// Importance computes the retrieval weight of an event's chunk:
// decisions 1.0, task updates 0.8, pinned events 0.9, tool results over
// project-defining paths 0.7, everything else 0.0.
func Importance(event *memory.Event) float64 {
	if event.Kind == memory.KindDecision {
		return 1.0
	}
	if event.Kind == memory.KindTaskUpdate {
		return 0.8
	}
	for _, tag := range event.Tags {
		if tag == pinnedTag {
			return 0.9
		}
	}
	if event.Kind == memory.KindToolResult {
		for _, p := range importantPaths {
			if strings.Contains(event.Content.Path, p) {
				return 0.7
			}
		}
	}
	return 0.0
}

// Chunks derives the chunk set for an event. Scope, subject and project
// labels propagate verbatim from the event; the token estimate comes from
// the shared estimator so identical text always costs the same.
func Chunks(event *memory.Event) []memory.Chunk {
	text := ExtractText(event.Kind, event.Content)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	return []memory.Chunk{{
		ChunkID:     ident.New(ident.KindChunk),
		TenantID:    event.TenantID,
		EventID:     event.EventID,
		TS:          event.TS,
		Kind:        event.Kind,
		Channel:     event.Channel,
		Sensitivity: event.Sensitivity,
		Tags:        event.Tags,
		TokenEst:    ident.EstimateTokens(text),
		Importance:  Importance(event),
		Text:        text,
		Scope:       event.Scope,
		SubjectType: event.SubjectType,
		SubjectID:   event.SubjectID,
		ProjectID:   event.ProjectID,
	}}
}
