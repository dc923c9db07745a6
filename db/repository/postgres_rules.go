package repository

import (
	"context"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/db"
	"mnemo.evalgo.org/memory"
)

// PostgresRuleRepository implements RuleRepository on postgres.
type PostgresRuleRepository struct {
	db *db.PostgresDB
}

// NewPostgresRuleRepository creates a rule repository.
func NewPostgresRuleRepository(pg *db.PostgresDB) *PostgresRuleRepository {
	return &PostgresRuleRepository{db: pg}
}

// Insert persists a rule.
func (r *PostgresRuleRepository) Insert(ctx context.Context, rule *memory.Rule) error {
	err := r.db.Exec(ctx, `
INSERT INTO rules (rule_id, tenant_id, content, scope, channel, priority, token_est, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rule.RuleID, rule.TenantID, rule.Content, scopeStr(rule.Scope),
		string(rule.Channel), rule.Priority, rule.TokenEst, rule.TS)
	if err != nil {
		if isUniqueViolation(err) {
			return &apperr.ConflictError{Attribute: "rule_id", Message: "rule already exists"}
		}
		return apperr.Storage("insert rule", err)
	}
	return nil
}

// ForChannel returns rules matching the channel or the wildcard, highest
// priority first.
func (r *PostgresRuleRepository) ForChannel(ctx context.Context, tenantID string, channel memory.Channel) ([]*memory.Rule, error) {
	rows, err := r.db.Query(ctx, `
SELECT rule_id, tenant_id, content, scope, channel, priority, token_est, ts
FROM rules
WHERE tenant_id = $1 AND channel IN ($2, 'all')
ORDER BY priority DESC, ts ASC`,
		tenantID, string(channel))
	if err != nil {
		return nil, apperr.Storage("rules for channel", err)
	}
	defer rows.Close()

	var out []*memory.Rule
	for rows.Next() {
		var rule memory.Rule
		var scope *string
		var ch string
		if err := rows.Scan(&rule.RuleID, &rule.TenantID, &rule.Content,
			&scope, &ch, &rule.Priority, &rule.TokenEst, &rule.TS); err != nil {
			return nil, apperr.Storage("scan rule", err)
		}
		rule.Scope = scopePtr(scope)
		rule.Channel = memory.Channel(ch)
		out = append(out, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("rules for channel", err)
	}
	return out, nil
}
