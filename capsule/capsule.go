// Package capsule implements the lifecycle of shared memory capsules:
// creation with same-tenant item validation, audience- and TTL-filtered
// reads, revocation and the expiry sweep.
package capsule

import (
	"context"
	"fmt"
	"time"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/common"
	"mnemo.evalgo.org/db/repository"
	"mnemo.evalgo.org/ident"
	"mnemo.evalgo.org/memory"
)

// MinTTLDays is the smallest accepted capsule lifetime.
const MinTTLDays = 1

// CreateInput carries the caller-supplied capsule fields.
type CreateInput struct {
	TenantID      string
	Scope         memory.Scope
	SubjectType   *string
	SubjectID     *string
	AuthorAgentID string
	Audience      []string
	Items         memory.CapsuleItems
	Risks         []string
	TTLDays       int
}

// Engine runs capsule operations. Safe for concurrent use.
type Engine struct {
	capsules repository.CapsuleRepository
	now      func() time.Time
}

// NewEngine creates a capsule engine.
func NewEngine(capsules repository.CapsuleRepository) *Engine {
	return &Engine{capsules: capsules, now: time.Now}
}

// Create validates and persists a capsule. Every referenced item must
// already exist under the same tenant; expiry is fixed at creation.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*memory.Capsule, error) {
	var fields []apperr.FieldError
	if in.TenantID == "" {
		fields = append(fields, apperr.FieldError{Field: "tenant_id", Message: "required"})
	}
	if in.AuthorAgentID == "" {
		fields = append(fields, apperr.FieldError{Field: "author_agent_id", Message: "required"})
	}
	if !in.Scope.Valid() {
		fields = append(fields, apperr.FieldError{Field: "scope", Message: "unknown scope"})
	}
	if in.TTLDays < MinTTLDays {
		fields = append(fields, apperr.FieldError{Field: "ttl_days", Message: fmt.Sprintf("must be at least %d", MinTTLDays)})
	}
	if in.Items.Count() == 0 {
		fields = append(fields, apperr.FieldError{Field: "items", Message: "at least one item required"})
	}
	if len(fields) > 0 {
		return nil, apperr.NewValidation(fields...)
	}

	missing, err := e.capsules.MissingItems(ctx, in.TenantID, in.Items)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, apperr.NewValidation(apperr.FieldError{
			Field:   "items",
			Message: fmt.Sprintf("unknown items: %v", missing),
		})
	}

	now := e.now().UTC()
	c := &memory.Capsule{
		CapsuleID:        ident.New(ident.KindCapsule),
		TenantID:         in.TenantID,
		Scope:            in.Scope,
		SubjectType:      in.SubjectType,
		SubjectID:        in.SubjectID,
		AuthorAgentID:    in.AuthorAgentID,
		AudienceAgentIDs: in.Audience,
		Items:            in.Items,
		Risks:            in.Risks,
		TTLDays:          in.TTLDays,
		Status:           memory.CapsuleActive,
		CreatedAt:        now,
		ExpiresAt:        now.Add(time.Duration(in.TTLDays) * 24 * time.Hour),
	}
	if err := e.capsules.Insert(ctx, c); err != nil {
		return nil, err
	}

	common.Logger.WithFields(map[string]interface{}{
		"capsule_id": c.CapsuleID,
		"tenant":     c.TenantID,
		"author":     c.AuthorAgentID,
		"audience":   len(c.AudienceAgentIDs),
		"items":      c.Items.Count(),
		"expires_at": c.ExpiresAt,
	}).Info("capsule created")
	return c, nil
}

// Get returns the capsule when the requester may read it. Missing,
// revoked, expired and out-of-audience capsules are all indistinguishable
// not-found so existence never leaks.
func (e *Engine) Get(ctx context.Context, tenantID, capsuleID, requesterAgentID string) (*memory.Capsule, error) {
	c, err := e.capsules.Get(ctx, tenantID, capsuleID)
	if err != nil {
		return nil, err
	}
	if !c.Available(e.now()) || !c.InAudience(requesterAgentID) {
		return nil, &apperr.NotFoundError{Resource: "capsule", ID: capsuleID}
	}
	return c, nil
}

// List returns capsules currently readable by the agent.
func (e *Engine) List(ctx context.Context, tenantID, agentID string, subjectType, subjectID *string) ([]*memory.Capsule, error) {
	return e.capsules.Available(ctx, tenantID, agentID, subjectType, subjectID, e.now())
}

// Revoke transitions an active capsule to revoked. Revoking an already
// terminal capsule succeeds without change.
func (e *Engine) Revoke(ctx context.Context, tenantID, capsuleID string) error {
	changed, err := e.capsules.Revoke(ctx, tenantID, capsuleID)
	if err != nil {
		return err
	}
	if changed {
		common.Logger.WithFields(map[string]interface{}{
			"capsule_id": capsuleID,
			"tenant":     tenantID,
		}).Info("capsule revoked")
	}
	return nil
}

// Sweep expires capsules past their TTL. Idempotent; readers already
// treat overdue capsules as unavailable, the sweep only settles the
// stored status.
func (e *Engine) Sweep(ctx context.Context) (int64, error) {
	n, err := e.capsules.ExpireDue(ctx, e.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		common.Logger.WithField("expired", n).Info("capsule sweep")
	}
	return n, nil
}
