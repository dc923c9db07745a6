package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/db"
	"mnemo.evalgo.org/memory"
)

// PostgresEditRepository implements EditRepository on postgres.
type PostgresEditRepository struct {
	db *db.PostgresDB
}

// NewPostgresEditRepository creates an edit repository.
func NewPostgresEditRepository(pg *db.PostgresDB) *PostgresEditRepository {
	return &PostgresEditRepository{db: pg}
}

// Insert persists an edit.
func (r *PostgresEditRepository) Insert(ctx context.Context, e *memory.MemoryEdit) error {
	patch, err := json.Marshal(e.Patch)
	if err != nil {
		return fmt.Errorf("failed to marshal edit patch: %w", err)
	}
	err = r.db.Exec(ctx, `
INSERT INTO memory_edits (edit_id, tenant_id, target_type, target_id, op, patch,
                          reason, proposed_by, status, created_at, applied_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.EditID, e.TenantID, string(e.TargetType), e.TargetID,
		string(e.Op), patch, e.Reason, e.ProposedBy, string(e.Status),
		e.CreatedAt, e.AppliedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &apperr.ConflictError{Attribute: "edit_id", Message: "edit already exists"}
		}
		return apperr.Storage("insert edit", err)
	}
	return nil
}

const editColumns = `edit_id, tenant_id, target_type, target_id, op, patch,
       reason, proposed_by, status, created_at, applied_at`

func scanEdit(row pgx.Row) (*memory.MemoryEdit, error) {
	var e memory.MemoryEdit
	var targetType, op, status string
	var patch []byte
	err := row.Scan(&e.EditID, &e.TenantID, &targetType, &e.TargetID,
		&op, &patch, &e.Reason, &e.ProposedBy, &status, &e.CreatedAt,
		&e.AppliedAt)
	if err != nil {
		return nil, err
	}
	e.TargetType = memory.EditTargetType(targetType)
	e.Op = memory.EditOp(op)
	e.Status = memory.EditStatus(status)
	if err := json.Unmarshal(patch, &e.Patch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edit patch: %w", err)
	}
	return &e, nil
}

// Get returns one edit after tenant filtering.
func (r *PostgresEditRepository) Get(ctx context.Context, tenantID, editID string) (*memory.MemoryEdit, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+editColumns+` FROM memory_edits WHERE tenant_id = $1 AND edit_id = $2`,
		tenantID, editID)
	e, err := scanEdit(row)
	if err != nil {
		if isNoRows(err) {
			return nil, &apperr.NotFoundError{Resource: "edit", ID: editID}
		}
		return nil, apperr.Storage("get edit", err)
	}
	return e, nil
}

// SetStatus transitions a proposed edit to approved or rejected. The
// guard on the current status makes double approval a conflict rather
// than a silent overwrite.
func (r *PostgresEditRepository) SetStatus(ctx context.Context, tenantID, editID string, status memory.EditStatus) error {
	var sql string
	if status == memory.EditApproved {
		sql = `UPDATE memory_edits SET status = $3, applied_at = now()
		       WHERE tenant_id = $1 AND edit_id = $2 AND status = 'proposed'`
	} else {
		sql = `UPDATE memory_edits SET status = $3
		       WHERE tenant_id = $1 AND edit_id = $2 AND status = 'proposed'`
	}

	tag, err := r.db.Pool().Exec(ctx, sql, tenantID, editID, string(status))
	if err != nil {
		return apperr.Storage("set edit status", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing edit from one already resolved.
		var exists bool
		err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM memory_edits WHERE tenant_id = $1 AND edit_id = $2)`,
			tenantID, editID).Scan(&exists)
		if err != nil {
			return apperr.Storage("set edit status", err)
		}
		if !exists {
			return &apperr.NotFoundError{Resource: "edit", ID: editID}
		}
		return &apperr.ConflictError{Attribute: "status", Message: "edit is not in proposed state"}
	}
	return nil
}

// TargetExists reports whether the edit target exists for the tenant.
func (r *PostgresEditRepository) TargetExists(ctx context.Context, tenantID string, targetType memory.EditTargetType, targetID string) (bool, error) {
	var sql string
	switch targetType {
	case memory.EditTargetChunk:
		sql = `SELECT EXISTS (SELECT 1 FROM chunks WHERE tenant_id = $1 AND chunk_id = $2)`
	case memory.EditTargetDecision:
		sql = `SELECT EXISTS (SELECT 1 FROM decisions WHERE tenant_id = $1 AND decision_id = $2)`
	default:
		return false, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, sql, tenantID, targetID).Scan(&exists); err != nil {
		return false, apperr.Storage("check edit target", err)
	}
	return exists, nil
}
