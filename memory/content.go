package memory

import (
	"encoding/json"
)

// Content is the kind-dependent payload of an event, modeled as a tagged
// variant: only the fields the chunker and the ingestion pipeline read are
// typed, everything else is preserved opaquely in Extra and round-trips
// through storage untouched.
//
// Field usage by kind:
//
//	message     → Text
//	tool_call   → Name, Args
//	tool_result → ExcerptText, Path, Truncated, ArtifactID
//	decision    → Decision, Rationale
//	task_update → Title, Details, Status
//	artifact    → ArtifactID
type Content struct {
	Text        string          `json:"-"`
	Name        string          `json:"-"`
	Args        json.RawMessage `json:"-"`
	ExcerptText string          `json:"-"`
	Path        string          `json:"-"`
	Truncated   bool            `json:"-"`
	ArtifactID  string          `json:"-"`
	Decision    string          `json:"-"`
	Rationale   []string        `json:"-"`
	Title       string          `json:"-"`
	Details     string          `json:"-"`
	Status      string          `json:"-"`

	// Extra holds unknown fields verbatim so foreign payloads survive a
	// store round-trip.
	Extra map[string]json.RawMessage `json:"-"`
}

// knownContentKeys are the typed fields lifted out of the raw object.
var knownContentKeys = map[string]bool{
	"text": true, "name": true, "args": true,
	"excerpt_text": true, "path": true, "truncated": true, "artifact_id": true,
	"decision": true, "rationale": true,
	"title": true, "details": true, "status": true,
}

// UnmarshalJSON lifts known fields into the typed struct and keeps the
// rest in Extra.
func (c *Content) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	take := func(key string, dst interface{}) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		return json.Unmarshal(v, dst)
	}

	if err := take("text", &c.Text); err != nil {
		return err
	}
	if err := take("name", &c.Name); err != nil {
		return err
	}
	if v, ok := raw["args"]; ok {
		c.Args = v
	}
	if err := take("excerpt_text", &c.ExcerptText); err != nil {
		return err
	}
	if err := take("path", &c.Path); err != nil {
		return err
	}
	if err := take("truncated", &c.Truncated); err != nil {
		return err
	}
	if err := take("artifact_id", &c.ArtifactID); err != nil {
		return err
	}
	if err := take("decision", &c.Decision); err != nil {
		return err
	}
	if err := take("rationale", &c.Rationale); err != nil {
		return err
	}
	if err := take("title", &c.Title); err != nil {
		return err
	}
	if err := take("details", &c.Details); err != nil {
		return err
	}
	if err := take("status", &c.Status); err != nil {
		return err
	}

	for key, v := range raw {
		if knownContentKeys[key] {
			continue
		}
		if c.Extra == nil {
			c.Extra = map[string]json.RawMessage{}
		}
		c.Extra[key] = v
	}
	return nil
}

// MarshalJSON merges typed fields and Extra back into one object. Zero
// typed fields are omitted so payloads stay as sparse as they arrived.
func (c Content) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}
	for key, v := range c.Extra {
		out[key] = v
	}
	if c.Text != "" {
		out["text"] = c.Text
	}
	if c.Name != "" {
		out["name"] = c.Name
	}
	if len(c.Args) > 0 {
		out["args"] = c.Args
	}
	if c.ExcerptText != "" {
		out["excerpt_text"] = c.ExcerptText
	}
	if c.Path != "" {
		out["path"] = c.Path
	}
	if c.Truncated {
		out["truncated"] = c.Truncated
	}
	if c.ArtifactID != "" {
		out["artifact_id"] = c.ArtifactID
	}
	if c.Decision != "" {
		out["decision"] = c.Decision
	}
	if len(c.Rationale) > 0 {
		out["rationale"] = c.Rationale
	}
	if c.Title != "" {
		out["title"] = c.Title
	}
	if c.Details != "" {
		out["details"] = c.Details
	}
	if c.Status != "" {
		out["status"] = c.Status
	}
	return json.Marshal(out)
}

// RedactStrings applies fn to every string field of the content, including
// string values inside Extra and the rationale lines. Used by ingestion to
// scrub secrets in-place before any write.
func (c *Content) RedactStrings(fn func(string) string) {
	c.Text = fn(c.Text)
	c.Name = fn(c.Name)
	c.ExcerptText = fn(c.ExcerptText)
	c.Path = fn(c.Path)
	c.Decision = fn(c.Decision)
	c.Title = fn(c.Title)
	c.Details = fn(c.Details)
	c.Status = fn(c.Status)
	for i, line := range c.Rationale {
		c.Rationale[i] = fn(line)
	}
	for key, v := range c.Extra {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			continue
		}
		redacted, err := json.Marshal(fn(s))
		if err != nil {
			continue
		}
		c.Extra[key] = redacted
	}
}
