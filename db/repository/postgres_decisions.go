package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/db"
	"mnemo.evalgo.org/memory"
	"mnemo.evalgo.org/search"
)

// PostgresDecisionRepository implements DecisionRepository on postgres.
type PostgresDecisionRepository struct {
	db *db.PostgresDB
}

// NewPostgresDecisionRepository creates a decision repository.
func NewPostgresDecisionRepository(pg *db.PostgresDB) *PostgresDecisionRepository {
	return &PostgresDecisionRepository{db: pg}
}

// Insert persists a decision.
func (r *PostgresDecisionRepository) Insert(ctx context.Context, d *memory.Decision) error {
	err := r.db.Exec(ctx, `
INSERT INTO decisions (decision_id, tenant_id, ts, decision, rationale, status, refs,
                       scope, subject_type, subject_id, project_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.DecisionID, d.TenantID, d.TS, d.Decision, d.Rationale,
		string(d.Status), d.Refs, scopeStr(d.Scope), d.SubjectType,
		d.SubjectID, d.ProjectID)
	if err != nil {
		if isUniqueViolation(err) {
			return &apperr.ConflictError{Attribute: "decision_id", Message: "decision already exists"}
		}
		return apperr.Storage("insert decision", err)
	}
	return nil
}

const decisionColumns = `decision_id, tenant_id, ts, decision, rationale, status, refs,
       scope, subject_type, subject_id, project_id`

func scanDecision(row pgx.Row) (*memory.Decision, error) {
	var d memory.Decision
	var status string
	var scope *string
	err := row.Scan(&d.DecisionID, &d.TenantID, &d.TS, &d.Decision,
		&d.Rationale, &status, &d.Refs, &scope, &d.SubjectType,
		&d.SubjectID, &d.ProjectID)
	if err != nil {
		return nil, err
	}
	d.Status = memory.DecisionStatus(status)
	d.Scope = scopePtr(scope)
	d.Precedence = memory.DecisionPrecedence(d.Scope)
	return &d, nil
}

// ActiveDecisions returns active decisions ordered by precedence then
// recency. Precedence derives from scope in SQL so the ordering and the
// computed field cannot drift apart.
func (r *PostgresDecisionRepository) ActiveDecisions(ctx context.Context, tenantID string) ([]*memory.Decision, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+decisionColumns+`
FROM decisions
WHERE tenant_id = $1 AND status = 'active'
ORDER BY CASE scope
    WHEN 'policy' THEN 4
    WHEN 'project' THEN 3
    WHEN 'user' THEN 2
    WHEN 'session' THEN 1
    ELSE 0
END DESC, ts DESC`,
		tenantID)
	if err != nil {
		return nil, apperr.Storage("active decisions", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

// SearchActive returns active decisions matching the tsquery, newest
// first.
func (r *PostgresDecisionRepository) SearchActive(ctx context.Context, tenantID, queryText string, limit int) ([]*memory.Decision, error) {
	tsq := search.TSQuery(queryText)
	if tsq == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	rows, err := r.db.Query(ctx, `
SELECT `+decisionColumns+`
FROM decisions
WHERE tenant_id = $1 AND status = 'active'
  AND to_tsvector('english', decision) @@ to_tsquery('english', $2)
ORDER BY ts DESC
LIMIT $3`,
		tenantID, tsq, limit)
	if err != nil {
		return nil, apperr.Storage("search decisions", err)
	}
	defer rows.Close()
	return collectDecisions(rows)
}

func collectDecisions(rows pgx.Rows) ([]*memory.Decision, error) {
	var out []*memory.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, apperr.Storage("scan decision", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("collect decisions", err)
	}
	return out, nil
}

// UpdateStatus transitions a decision's lifecycle state.
func (r *PostgresDecisionRepository) UpdateStatus(ctx context.Context, tenantID, decisionID string, status memory.DecisionStatus) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE decisions SET status = $3 WHERE tenant_id = $1 AND decision_id = $2`,
		tenantID, decisionID, string(status))
	if err != nil {
		return apperr.Storage("update decision status", err)
	}
	if tag.RowsAffected() == 0 {
		return &apperr.NotFoundError{Resource: "decision", ID: decisionID}
	}
	return nil
}
