package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/db"
	"mnemo.evalgo.org/memory"
)

// PostgresCapsuleRepository implements CapsuleRepository on postgres.
type PostgresCapsuleRepository struct {
	db *db.PostgresDB
}

// NewPostgresCapsuleRepository creates a capsule repository.
func NewPostgresCapsuleRepository(pg *db.PostgresDB) *PostgresCapsuleRepository {
	return &PostgresCapsuleRepository{db: pg}
}

// Insert persists a capsule.
func (r *PostgresCapsuleRepository) Insert(ctx context.Context, c *memory.Capsule) error {
	err := r.db.Exec(ctx, `
INSERT INTO capsules (capsule_id, tenant_id, scope, subject_type, subject_id,
                      author_agent_id, audience_agent_ids,
                      item_chunks, item_decisions, item_artifacts,
                      risks, ttl_days, status, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.CapsuleID, c.TenantID, string(c.Scope), c.SubjectType, c.SubjectID,
		c.AuthorAgentID, c.AudienceAgentIDs,
		c.Items.Chunks, c.Items.Decisions, c.Items.Artifacts,
		c.Risks, c.TTLDays, string(c.Status), c.CreatedAt, c.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &apperr.ConflictError{Attribute: "capsule_id", Message: "capsule already exists"}
		}
		return apperr.Storage("insert capsule", err)
	}
	return nil
}

const capsuleColumns = `capsule_id, tenant_id, scope, subject_type, subject_id,
       author_agent_id, audience_agent_ids,
       item_chunks, item_decisions, item_artifacts,
       risks, ttl_days, status, created_at, expires_at`

func scanCapsule(row pgx.Row) (*memory.Capsule, error) {
	var c memory.Capsule
	var scope, status string
	err := row.Scan(&c.CapsuleID, &c.TenantID, &scope, &c.SubjectType,
		&c.SubjectID, &c.AuthorAgentID, &c.AudienceAgentIDs,
		&c.Items.Chunks, &c.Items.Decisions, &c.Items.Artifacts,
		&c.Risks, &c.TTLDays, &status, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		return nil, err
	}
	c.Scope = memory.Scope(scope)
	c.Status = memory.CapsuleStatus(status)
	return &c, nil
}

// Get returns one capsule after tenant filtering.
func (r *PostgresCapsuleRepository) Get(ctx context.Context, tenantID, capsuleID string) (*memory.Capsule, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+capsuleColumns+` FROM capsules WHERE tenant_id = $1 AND capsule_id = $2`,
		tenantID, capsuleID)
	c, err := scanCapsule(row)
	if err != nil {
		if isNoRows(err) {
			return nil, &apperr.NotFoundError{Resource: "capsule", ID: capsuleID}
		}
		return nil, apperr.Storage("get capsule", err)
	}
	return c, nil
}

// Available returns capsules the agent may read right now. Expiry is
// checked against the wall clock, not the stored status, so a capsule
// the sweeper has not visited yet is still invisible past its expiry.
func (r *PostgresCapsuleRepository) Available(ctx context.Context, tenantID, agentID string, subjectType, subjectID *string, now time.Time) ([]*memory.Capsule, error) {
	sql := `
SELECT ` + capsuleColumns + `
FROM capsules
WHERE tenant_id = $1
  AND status = 'active'
  AND expires_at > $2
  AND (author_agent_id = $3 OR $3 = ANY(audience_agent_ids))`
	args := []interface{}{tenantID, now, agentID}

	if subjectType != nil {
		args = append(args, *subjectType)
		sql += ` AND subject_type = $4`
	}
	if subjectID != nil {
		args = append(args, *subjectID)
		if subjectType != nil {
			sql += ` AND subject_id = $5`
		} else {
			sql += ` AND subject_id = $4`
		}
	}
	sql += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Storage("available capsules", err)
	}
	defer rows.Close()

	var out []*memory.Capsule
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, apperr.Storage("scan capsule", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("available capsules", err)
	}
	return out, nil
}

// Revoke sets status=revoked on an active capsule. Revoking an already
// revoked or expired capsule changes nothing and reports false.
func (r *PostgresCapsuleRepository) Revoke(ctx context.Context, tenantID, capsuleID string) (bool, error) {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE capsules SET status = 'revoked'
		 WHERE tenant_id = $1 AND capsule_id = $2 AND status = 'active'`,
		tenantID, capsuleID)
	if err != nil {
		return false, apperr.Storage("revoke capsule", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	err = r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM capsules WHERE tenant_id = $1 AND capsule_id = $2)`,
		tenantID, capsuleID).Scan(&exists)
	if err != nil {
		return false, apperr.Storage("revoke capsule", err)
	}
	if !exists {
		return false, &apperr.NotFoundError{Resource: "capsule", ID: capsuleID}
	}
	return false, nil
}

// ExpireDue flips active capsules past their expiry to expired. Safe to
// run repeatedly and from several replicas.
func (r *PostgresCapsuleRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE capsules SET status = 'expired'
		 WHERE status = 'active' AND expires_at < $1`,
		now)
	if err != nil {
		return 0, apperr.Storage("expire capsules", err)
	}
	return tag.RowsAffected(), nil
}

// MissingItems returns referenced item ids absent for the tenant.
func (r *PostgresCapsuleRepository) MissingItems(ctx context.Context, tenantID string, items memory.CapsuleItems) ([]string, error) {
	var missing []string

	check := func(ids []string, sql string) error {
		if len(ids) == 0 {
			return nil
		}
		rows, err := r.db.Query(ctx, sql, tenantID, ids)
		if err != nil {
			return err
		}
		defer rows.Close()

		found := make(map[string]bool, len(ids))
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			found[id] = true
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil
	}

	if err := check(items.Chunks,
		`SELECT chunk_id FROM chunks WHERE tenant_id = $1 AND chunk_id = ANY($2)`); err != nil {
		return nil, apperr.Storage("check capsule chunks", err)
	}
	if err := check(items.Decisions,
		`SELECT decision_id FROM decisions WHERE tenant_id = $1 AND decision_id = ANY($2)`); err != nil {
		return nil, apperr.Storage("check capsule decisions", err)
	}
	if err := check(items.Artifacts,
		`SELECT artifact_id FROM artifacts WHERE tenant_id = $1 AND artifact_id = ANY($2)`); err != nil {
		return nil, apperr.Storage("check capsule artifacts", err)
	}
	return missing, nil
}
