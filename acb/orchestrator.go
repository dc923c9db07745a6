// Package acb assembles Active Context Bundles: token-budgeted, mode-aware
// selections of rules, task state, recent events, capsules, retrieved
// evidence and decisions, with privacy filtering and invariant telemetry.
package acb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/chunker"
	"mnemo.evalgo.org/common"
	"mnemo.evalgo.org/db/repository"
	"mnemo.evalgo.org/ident"
	"mnemo.evalgo.org/memory"
	"mnemo.evalgo.org/mode"
	"mnemo.evalgo.org/privacy"
	"mnemo.evalgo.org/search"
	"mnemo.evalgo.org/telemetry"
)

// Section names in assembly order. The order is part of the contract:
// rules anchor everything, evidence and decisions depend on the query.
const (
	SectionRules             = "rules"
	SectionTaskState         = "task_state"
	SectionRecentWindow      = "recent_window"
	SectionCapsules          = "capsules"
	SectionRetrievedEvidence = "retrieved_evidence"
	SectionRelevantDecisions = "relevant_decisions"
)

// recentWindowSize caps how many session events feed the recent window.
const recentWindowSize = 20

// capsuleSummaryTokens is the flat token cost of one capsule summary.
const capsuleSummaryTokens = 50

// evidencePool caps the retrieval candidate set before packing.
const evidencePool = 200

// Orchestrator builds context bundles from the effective views. Stateless
// apart from its collaborators; safe for concurrent use.
type Orchestrator struct {
	rules     repository.RuleRepository
	tasks     repository.TaskRepository
	events    repository.EventRepository
	capsules  repository.CapsuleRepository
	overlay   repository.OverlayRepository
	decisions repository.DecisionRepository
	guardrail *mode.Guardrail
	sink      *telemetry.Sink
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator. The guardrail and sink may be
// nil; detection then runs without fallback tracking or telemetry.
func NewOrchestrator(
	rules repository.RuleRepository,
	tasks repository.TaskRepository,
	events repository.EventRepository,
	capsules repository.CapsuleRepository,
	overlay repository.OverlayRepository,
	decisions repository.DecisionRepository,
	guardrail *mode.Guardrail,
	sink *telemetry.Sink,
) *Orchestrator {
	return &Orchestrator{
		rules:     rules,
		tasks:     tasks,
		events:    events,
		capsules:  capsules,
		overlay:   overlay,
		decisions: decisions,
		guardrail: guardrail,
		sink:      sink,
		now:       time.Now,
	}
}

// packer runs the greedy packing rule for one section: an item is
// included iff the section's running total plus its estimate stays within
// the local budget. Skipped items become omissions but later, smaller
// items may still fit.
type packer struct {
	section   Section
	used      *int
	omissions *[]Omission
}

func (p *packer) add(ref, text string, tokenEst int) {
	if p.section.TokenEst+tokenEst <= p.section.Budget {
		p.section.Items = append(p.section.Items, Item{Ref: ref, Text: text, TokenEst: tokenEst})
		p.section.TokenEst += tokenEst
		return
	}
	*p.omissions = append(*p.omissions, Omission{
		Section: p.section.Name,
		Ref:     ref,
		Reason:  "over_budget",
	})
}

func (p *packer) finish() Section {
	*p.used += p.section.TokenEst
	return p.section
}

// Build assembles one bundle. Every error before telemetry emission is a
// request failure; storage failures inside a section abort the build.
func (o *Orchestrator) Build(ctx context.Context, req Request) (*Response, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = ident.New(ident.KindACB)
	}

	budget := DefaultBudget
	if req.MaxTokens != nil {
		budget = *req.MaxTokens
	}

	detected := mode.Detect(req.Intent)
	confidence := mode.Confidence(req.Intent, detected)
	invariants := mode.ExtractInvariants(req.QueryText)
	effective, fallbackReason := o.guardrail.Apply(detected, confidence)
	budgets := mode.BudgetsFor(effective)

	includeCapsules := req.IncludeCapsules == nil || *req.IncludeCapsules
	if !includeCapsules {
		budgets.Capsules = 0
	}

	resp := &Response{
		ACBID:          ident.New(ident.KindACB),
		BudgetTokens:   budget,
		Capsules:       []string{},
		Omissions:      []Omission{},
		Mode:           effective,
		ModeConfidence: confidence,
		ModeInvariants: invariants,
		FallbackReason: fallbackReason,
	}

	used := 0
	local := func(sub int) int {
		remaining := budget - used
		if remaining < 0 {
			remaining = 0
		}
		if sub < remaining {
			return sub
		}
		return remaining
	}
	newPacker := func(name string, sub int) *packer {
		return &packer{
			section:   Section{Name: name, Budget: local(sub), Items: []Item{}},
			used:      &used,
			omissions: &resp.Omissions,
		}
	}

	// rules
	p := newPacker(SectionRules, budgets.Rules)
	if p.section.Budget > 0 {
		rules, err := o.rules.ForChannel(ctx, req.TenantID, req.Channel)
		if err != nil {
			return nil, err
		}
		for _, r := range rules {
			p.add(r.RuleID, r.Content, r.TokenEst)
		}
	}
	resp.Sections = append(resp.Sections, p.finish())

	// task_state
	p = newPacker(SectionTaskState, budgets.TaskState)
	if p.section.Budget > 0 {
		var tasks []*memory.Task
		var err error
		if req.ProjectID != nil && *req.ProjectID != "" {
			tasks, err = o.tasks.ProjectTasks(ctx, req.TenantID, *req.ProjectID)
		} else {
			tasks, err = o.tasks.OpenTasks(ctx, req.TenantID)
		}
		if err != nil {
			return nil, err
		}
		if summary := taskSummary(tasks); summary != "" {
			p.add("tasks", summary, ident.EstimateTokens(summary))
		}
	}
	resp.Sections = append(resp.Sections, p.finish())

	// recent_window
	p = newPacker(SectionRecentWindow, budgets.RecentWindow)
	if p.section.Budget > 0 {
		allowed := privacy.AllowedSensitivity(req.Channel)
		events, err := o.events.RecentEvents(ctx, req.TenantID, req.SessionID, allowed, recentWindowSize)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			text := renderEvent(ev)
			if text == "" {
				continue
			}
			p.add(ev.EventID, text, ident.EstimateTokens(text))
		}
	}
	resp.Sections = append(resp.Sections, p.finish())

	// capsules
	p = newPacker(SectionCapsules, budgets.Capsules)
	if p.section.Budget > 0 && includeCapsules {
		caps, err := o.capsules.Available(ctx, req.TenantID, req.AgentID, req.SubjectType, req.SubjectID, o.now())
		if err != nil {
			return nil, err
		}
		for _, c := range caps {
			before := len(p.section.Items)
			p.add(c.CapsuleID, capsuleSummary(c), capsuleSummaryTokens)
			if len(p.section.Items) > before {
				resp.Capsules = append(resp.Capsules, c.CapsuleID)
			}
		}
	}
	resp.Sections = append(resp.Sections, p.finish())

	// retrieved_evidence
	candidatePool := 0
	p = newPacker(SectionRetrievedEvidence, budgets.RetrievedEvidence)
	if p.section.Budget > 0 {
		channel := req.Channel
		chunks, err := o.overlay.SearchChunks(ctx, req.TenantID, req.QueryText, repository.SearchOptions{
			SubjectType:        req.SubjectType,
			SubjectID:          req.SubjectID,
			ProjectID:          req.ProjectID,
			Channel:            &channel,
			IncludeQuarantined: req.IncludeQuarantined,
			Limit:              evidencePool,
		})
		if err != nil {
			return nil, err
		}
		candidatePool = len(chunks)
		for _, c := range chunks {
			p.add(c.ChunkID, c.EffectiveText, c.TokenEst)
			resp.EditsApplied += c.EditsApplied
		}
	}
	resp.Sections = append(resp.Sections, p.finish())

	// relevant_decisions
	p = newPacker(SectionRelevantDecisions, budgets.RelevantDecisions)
	if p.section.Budget > 0 {
		decisions, err := o.decisions.SearchActive(ctx, req.TenantID, req.QueryText, evidencePool)
		if err != nil {
			return nil, err
		}
		for _, d := range decisions {
			text := renderDecision(d)
			p.add(d.DecisionID, text, ident.EstimateTokens(text))
		}
	}
	resp.Sections = append(resp.Sections, p.finish())

	resp.TokenUsedEst = used
	resp.Provenance = buildProvenance(req, candidatePool)

	breaches := o.emitTelemetry(req, detected, effective, confidence, invariants, fallbackReason, resp)
	resp.ModeTelemetry = ModeTelemetry{
		DetectedMode:  detected,
		EffectiveMode: effective,
		Confidence:    confidence,
		Breaches:      breaches,
	}

	common.Logger.WithFields(logrus.Fields{
		"acb_id":     resp.ACBID,
		"tenant":     req.TenantID,
		"mode":       effective,
		"budget":     budget,
		"token_used": used,
		"omissions":  len(resp.Omissions),
	}).Info("context bundle assembled")
	return resp, nil
}

func validate(req *Request) error {
	var fields []apperr.FieldError
	if req.TenantID == "" {
		fields = append(fields, apperr.FieldError{Field: "tenant", Message: "required"})
	}
	if req.SessionID == "" {
		fields = append(fields, apperr.FieldError{Field: "session", Message: "required"})
	}
	if req.AgentID == "" {
		fields = append(fields, apperr.FieldError{Field: "agent", Message: "required"})
	}
	if !req.Channel.Valid() {
		fields = append(fields, apperr.FieldError{Field: "channel", Message: "must be one of private, public, team, agent"})
	}
	if req.MaxTokens != nil && *req.MaxTokens < 0 {
		fields = append(fields, apperr.FieldError{Field: "max_tokens", Message: "must not be negative"})
	}
	if len(fields) > 0 {
		return apperr.NewValidation(fields...)
	}
	return nil
}

// taskSummary renders open work as one bulleted block.
func taskSummary(tasks []*memory.Task) string {
	if len(tasks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Open tasks:\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [%s] %s\n", t.Status, t.Title)
	}
	return b.String()
}

// renderEvent turns a recent event into its window line. Decisions render
// as decisions regardless of actor; other kinds render by speaker.
func renderEvent(ev *memory.Event) string {
	text := chunker.ExtractText(ev.Kind, ev.Content)
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if ev.Kind == memory.KindDecision {
		return "Decision: " + text
	}
	switch ev.Actor.Type {
	case memory.ActorHuman:
		return "User: " + text
	case memory.ActorAgent:
		return "Agent: " + text
	default:
		return "Tool: " + text
	}
}

// capsuleSummary renders one capsule reference line with item counts and
// risks.
func capsuleSummary(c *memory.Capsule) string {
	s := fmt.Sprintf("Capsule %s from %s: %d chunks, %d decisions, %d artifacts",
		c.CapsuleID, c.AuthorAgentID,
		len(c.Items.Chunks), len(c.Items.Decisions), len(c.Items.Artifacts))
	if len(c.Risks) > 0 {
		s += "; risks: " + strings.Join(c.Risks, ", ")
	}
	return s
}

func renderDecision(d *memory.Decision) string {
	text := "Decision: " + d.Decision
	if len(d.Rationale) > 0 {
		text += "\nRationale: " + strings.Join(d.Rationale, "; ")
	}
	return text
}

func buildProvenance(req Request, candidatePool int) Provenance {
	p := Provenance{
		Intent:            req.Intent,
		QueryTerms:        search.Terms(req.QueryText),
		CandidatePoolSize: candidatePool,
	}
	p.Filters.SensitivityAllowed = privacy.AllowedSensitivity(req.Channel)
	p.Scoring.Alpha = ScoringAlpha
	p.Scoring.Beta = ScoringBeta
	p.Scoring.Gamma = ScoringGamma
	return p
}

// emitTelemetry records the detection outcome, any fallback, and every
// breach. Breach presence is judged against the invariants recoverable
// from the assembled text: a required invariant whose signal no longer
// appears anywhere in the bundle was lost to packing.
func (o *Orchestrator) emitTelemetry(req Request, detected, effective mode.Mode, confidence float64, invariants []mode.Invariant, fallbackReason string, resp *Response) int {
	var assembled strings.Builder
	for _, s := range resp.Sections {
		for _, item := range s.Items {
			assembled.WriteString(item.Text)
			assembled.WriteString("\n")
		}
	}
	present := map[mode.InvariantType]bool{}
	for _, inv := range mode.ExtractInvariants(assembled.String()) {
		present[inv.Type] = true
	}
	breaches := mode.DetectBreaches(invariants, present, 0)

	if o.sink != nil {
		o.sink.RecordModeDetected(req.TenantID, req.SessionID, req.RequestID, effective, confidence, invariants)
		if fallbackReason != "" {
			o.sink.RecordFallback(req.TenantID, req.SessionID, req.RequestID, detected, fallbackReason)
		}
		for _, b := range breaches {
			o.sink.RecordBreach(req.TenantID, req.SessionID, req.RequestID, b)
		}
	}
	return len(breaches)
}
