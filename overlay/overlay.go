// Package overlay is the memory-surgery surface: proposing and resolving
// non-destructive edits, and the effective read primitives that fold
// approved edits over stored chunks.
package overlay

import (
	"context"
	"time"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/common"
	"mnemo.evalgo.org/db/repository"
	"mnemo.evalgo.org/ident"
	"mnemo.evalgo.org/memory"
)

// ProposeInput carries the caller-supplied fields of a new edit.
type ProposeInput struct {
	TenantID   string
	TargetType memory.EditTargetType
	TargetID   string
	Op         memory.EditOp
	Patch      memory.EditPatch
	Reason     string
	ProposedBy string

	// AutoApprove records the edit as approved immediately, for callers
	// with surgery rights; everyone else goes through the approval step.
	AutoApprove bool
}

// Engine runs edit and effective-view operations. Safe for concurrent
// use.
type Engine struct {
	edits   repository.EditRepository
	overlay repository.OverlayRepository
	now     func() time.Time
}

// NewEngine creates an overlay engine.
func NewEngine(edits repository.EditRepository, ov repository.OverlayRepository) *Engine {
	return &Engine{edits: edits, overlay: ov, now: time.Now}
}

// Propose validates and records an edit. The target must exist under the
// tenant and the patch must carry the fields its op consumes.
func (e *Engine) Propose(ctx context.Context, in ProposeInput) (*memory.MemoryEdit, error) {
	if verr := validatePropose(&in); verr != nil {
		return nil, verr
	}

	exists, err := e.edits.TargetExists(ctx, in.TenantID, in.TargetType, in.TargetID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &apperr.NotFoundError{Resource: string(in.TargetType), ID: in.TargetID}
	}

	now := e.now().UTC()
	edit := &memory.MemoryEdit{
		EditID:     ident.New(ident.KindEdit),
		TenantID:   in.TenantID,
		TargetType: in.TargetType,
		TargetID:   in.TargetID,
		Op:         in.Op,
		Patch:      in.Patch,
		Reason:     in.Reason,
		ProposedBy: in.ProposedBy,
		Status:     memory.EditProposed,
		CreatedAt:  now,
	}
	if in.AutoApprove {
		edit.Status = memory.EditApproved
		edit.AppliedAt = &now
	}

	if err := e.edits.Insert(ctx, edit); err != nil {
		return nil, err
	}

	common.Logger.WithFields(map[string]interface{}{
		"edit_id": edit.EditID,
		"tenant":  edit.TenantID,
		"target":  edit.TargetID,
		"op":      edit.Op,
		"status":  edit.Status,
	}).Info("memory edit recorded")
	return edit, nil
}

func validatePropose(in *ProposeInput) error {
	var fields []apperr.FieldError
	add := func(field, msg string) {
		fields = append(fields, apperr.FieldError{Field: field, Message: msg})
	}

	if in.TenantID == "" {
		add("tenant_id", "required")
	}
	if !in.TargetType.Valid() {
		add("target_type", "must be chunk or decision")
	}
	if in.TargetID == "" {
		add("target_id", "required")
	}
	if !in.Op.Valid() {
		add("op", "unknown edit op")
	}

	switch in.Op {
	case memory.EditAmend:
		if in.Patch.Text == nil && in.Patch.Importance == nil {
			add("patch", "amend requires text and/or importance")
		}
	case memory.EditAttenuate:
		if in.Patch.ImportanceDelta == nil && in.Patch.Importance == nil {
			add("patch", "attenuate requires importance_delta or importance")
		}
	case memory.EditBlock:
		if in.Patch.Channel == nil || !in.Patch.Channel.Valid() {
			add("patch.channel", "block requires a valid channel")
		}
	}
	if in.Patch.Importance != nil && (*in.Patch.Importance < 0 || *in.Patch.Importance > 1) {
		add("patch.importance", "must be within [0, 1]")
	}

	if len(fields) > 0 {
		return apperr.NewValidation(fields...)
	}
	return nil
}

// Approve transitions a proposed edit to approved; the next effective
// read folds it in.
func (e *Engine) Approve(ctx context.Context, tenantID, editID string) (*memory.MemoryEdit, error) {
	return e.resolve(ctx, tenantID, editID, memory.EditApproved)
}

// Reject transitions a proposed edit to rejected.
func (e *Engine) Reject(ctx context.Context, tenantID, editID string) (*memory.MemoryEdit, error) {
	return e.resolve(ctx, tenantID, editID, memory.EditRejected)
}

func (e *Engine) resolve(ctx context.Context, tenantID, editID string, status memory.EditStatus) (*memory.MemoryEdit, error) {
	if err := e.edits.SetStatus(ctx, tenantID, editID, status); err != nil {
		return nil, err
	}
	common.Logger.WithFields(map[string]interface{}{
		"edit_id": editID,
		"tenant":  tenantID,
		"status":  status,
	}).Info("memory edit resolved")
	return e.edits.Get(ctx, tenantID, editID)
}

// GetEdit returns one edit.
func (e *Engine) GetEdit(ctx context.Context, tenantID, editID string) (*memory.MemoryEdit, error) {
	return e.edits.Get(ctx, tenantID, editID)
}

// EffectiveChunk returns a chunk as the approved edits leave it.
func (e *Engine) EffectiveChunk(ctx context.Context, tenantID, chunkID string) (*memory.EffectiveChunk, error) {
	return e.overlay.GetEffectiveChunk(ctx, tenantID, chunkID)
}

// Search runs the scoped full-text search over effective chunks.
func (e *Engine) Search(ctx context.Context, tenantID, queryText string, opts repository.SearchOptions) ([]*memory.EffectiveChunk, error) {
	return e.overlay.SearchChunks(ctx, tenantID, queryText, opts)
}

// Timeline returns effective chunks around a center chunk.
func (e *Engine) Timeline(ctx context.Context, tenantID, centerChunkID string, window time.Duration) ([]*memory.TimelineChunk, error) {
	return e.overlay.Timeline(ctx, tenantID, centerChunkID, window)
}
