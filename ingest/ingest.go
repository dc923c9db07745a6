// Package ingest implements the event recording pipeline: validation,
// privacy coercion, oversize payload offloading, chunk extraction and the
// single transactional persist.
package ingest

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/chunker"
	"mnemo.evalgo.org/common"
	"mnemo.evalgo.org/db/repository"
	"mnemo.evalgo.org/ident"
	"mnemo.evalgo.org/memory"
	"mnemo.evalgo.org/privacy"
)

// ArtifactThreshold is the UTF-8 byte length above which a tool-result
// excerpt moves to the artifact store. Exactly this size stays inline.
const ArtifactThreshold = 64 * 1024

// Result carries the ids generated by a successful record call.
type Result struct {
	EventID    string   `json:"event_id"`
	ChunkIDs   []string `json:"chunk_ids"`
	ArtifactID *string  `json:"artifact_id,omitempty"`
}

// Engine runs the ingestion pipeline. Stateless apart from its
// collaborators; safe for concurrent use.
type Engine struct {
	events     repository.EventRepository
	now        func() time.Time
	skipSecret bool
}

// NewEngine creates an ingestion engine with secret scanning enabled.
func NewEngine(events repository.EventRepository) *Engine {
	return &Engine{events: events, now: time.Now}
}

// DisableSecretScan turns off secret detection during ingestion. Callers
// then keep whatever sensitivity they declared. Not safe to call after
// the engine is in use.
func (e *Engine) DisableSecretScan() {
	e.skipSecret = true
}

// RecordEvent validates, coerces, chunks and persists one event. The
// input event arrives without ids; ids are generated here and returned
// after commit.
func (e *Engine) RecordEvent(ctx context.Context, event *memory.Event) (*Result, error) {
	if verr := validate(event); verr != nil {
		return nil, verr
	}

	event.EventID = ident.New(ident.KindEvent)
	if event.TS.IsZero() {
		event.TS = e.now().UTC()
	}

	coerced := false
	if !e.skipSecret {
		coerced = coercePrivacy(event)
	}

	artifact := e.offloadOversize(event)

	chunks := chunker.Chunks(event)
	chunkIDs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		chunkIDs = append(chunkIDs, c.ChunkID)
	}

	if err := e.events.RecordEvent(ctx, event, artifact, chunks); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"event_id": event.EventID,
		"tenant":   event.TenantID,
		"kind":     event.Kind,
		"chunks":   len(chunks),
	}
	if coerced {
		fields["coerced"] = "secret"
	}
	if artifact != nil {
		fields["artifact"] = artifact.ArtifactID
		fields["artifact_size"] = humanize.Bytes(uint64(artifact.Size))
	}
	common.Logger.WithFields(fields).Info("event recorded")

	result := &Result{EventID: event.EventID, ChunkIDs: chunkIDs}
	if artifact != nil {
		result.ArtifactID = &artifact.ArtifactID
	}
	return result, nil
}

// validate checks required fields and enum values, collecting every
// failure rather than stopping at the first.
func validate(event *memory.Event) error {
	var fields []apperr.FieldError
	add := func(field, msg string) {
		fields = append(fields, apperr.FieldError{Field: field, Message: msg})
	}

	if event.TenantID == "" {
		add("tenant_id", "required")
	}
	if event.SessionID == "" {
		add("session_id", "required")
	}
	if !event.Channel.Valid() {
		add("channel", "must be one of private, public, team, agent")
	}
	if !event.Actor.Type.Valid() {
		add("actor.type", "must be one of human, agent, tool")
	}
	if event.Actor.ID == "" {
		add("actor.id", "required")
	}
	if !event.Kind.Valid() {
		add("kind", "unknown event kind")
	}
	if !event.Sensitivity.Valid() {
		add("sensitivity", "must be one of none, low, high, secret")
	}
	if event.Scope != nil && !event.Scope.Valid() {
		add("scope", "unknown scope")
	}

	if len(fields) > 0 {
		return apperr.NewValidation(fields...)
	}
	return nil
}

// coercePrivacy scans the serialized content for secret patterns; on a
// match the sensitivity becomes secret and every string field is redacted
// in place before anything touches storage. Reports whether coercion
// happened.
func coercePrivacy(event *memory.Event) bool {
	serialized, err := json.Marshal(event.Content)
	if err != nil || !privacy.ContainsSecrets(string(serialized)) {
		return false
	}
	event.Sensitivity = memory.SensitivitySecret
	event.Content.RedactStrings(privacy.RedactSecrets)
	return true
}

// offloadOversize moves a tool-result excerpt above the threshold into an
// artifact, leaving a truncated excerpt plus the artifact id behind.
// Exactly threshold-sized excerpts stay inline.
func (e *Engine) offloadOversize(event *memory.Event) *memory.Artifact {
	if event.Kind != memory.KindToolResult {
		return nil
	}
	full := event.Content.ExcerptText
	if len(full) <= ArtifactThreshold {
		return nil
	}

	artifact := &memory.Artifact{
		ArtifactID: ident.New(ident.KindArtifact),
		TenantID:   event.TenantID,
		Kind:       "tool_result",
		Bytes:      []byte(full),
		Size:       int64(len(full)),
		Meta: map[string]string{
			"event_id": event.EventID,
			"path":     event.Content.Path,
		},
		Refs:      []string{event.EventID},
		CreatedAt: e.now().UTC(),
	}

	event.Content.ExcerptText = truncateUTF8(full, ArtifactThreshold)
	event.Content.Truncated = true
	event.Content.ArtifactID = artifact.ArtifactID
	return artifact
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
