package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// migrations is the ordered schema history. Each entry runs at most once,
// tracked through the schema_migrations table; new schema changes append
// a new version rather than editing an old one.
var migrations = []struct {
	version int
	name    string
	sql     string
}{
	{1, "core tables", `
CREATE TABLE IF NOT EXISTS users (
    user_id     text PRIMARY KEY,
    tenant_id   text NOT NULL,
    display     text NOT NULL DEFAULT '',
    created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS events (
    event_id     text PRIMARY KEY,
    tenant_id    text NOT NULL,
    session_id   text NOT NULL,
    channel      text NOT NULL,
    actor_type   text NOT NULL,
    actor_id     text NOT NULL,
    kind         text NOT NULL,
    sensitivity  text NOT NULL,
    tags         text[] NOT NULL DEFAULT '{}',
    content      jsonb NOT NULL,
    refs         text[] NOT NULL DEFAULT '{}',
    scope        text,
    subject_type text,
    subject_id   text,
    project_id   text,
    ts           timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_tenant_session_ts
    ON events (tenant_id, session_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_events_tenant_project
    ON events (tenant_id, project_id);

CREATE TABLE IF NOT EXISTS chunks (
    chunk_id     text PRIMARY KEY,
    tenant_id    text NOT NULL,
    event_id     text NOT NULL REFERENCES events(event_id),
    ts           timestamptz NOT NULL,
    kind         text NOT NULL,
    channel      text NOT NULL,
    sensitivity  text NOT NULL,
    tags         text[] NOT NULL DEFAULT '{}',
    token_est    integer NOT NULL CHECK (token_est > 0),
    importance   double precision NOT NULL CHECK (importance >= 0 AND importance <= 1),
    text         text NOT NULL CHECK (length(text) > 0),
    scope        text,
    subject_type text,
    subject_id   text,
    project_id   text
);

CREATE INDEX IF NOT EXISTS idx_chunks_tenant_scope_subject
    ON chunks (tenant_id, scope, subject_type, subject_id);
CREATE INDEX IF NOT EXISTS idx_chunks_tenant_project
    ON chunks (tenant_id, project_id);
CREATE INDEX IF NOT EXISTS idx_chunks_text_fts
    ON chunks USING gin (to_tsvector('english', text));

CREATE TABLE IF NOT EXISTS artifacts (
    artifact_id text PRIMARY KEY,
    tenant_id   text NOT NULL,
    kind        text NOT NULL,
    bytes       bytea,
    size        bigint NOT NULL DEFAULT 0,
    storage_key text,
    meta        jsonb NOT NULL DEFAULT '{}',
    refs        text[] NOT NULL DEFAULT '{}',
    created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_artifacts_tenant
    ON artifacts (tenant_id);

CREATE TABLE IF NOT EXISTS decisions (
    decision_id  text PRIMARY KEY,
    tenant_id    text NOT NULL,
    ts           timestamptz NOT NULL,
    decision     text NOT NULL,
    rationale    text[] NOT NULL DEFAULT '{}',
    status       text NOT NULL DEFAULT 'active',
    refs         text[] NOT NULL DEFAULT '{}',
    scope        text,
    subject_type text,
    subject_id   text,
    project_id   text
);

CREATE INDEX IF NOT EXISTS idx_decisions_tenant_status
    ON decisions (tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_decisions_text_fts
    ON decisions USING gin (to_tsvector('english', decision));

CREATE TABLE IF NOT EXISTS tasks (
    task_id    text PRIMARY KEY,
    tenant_id  text NOT NULL,
    title      text NOT NULL,
    details    text NOT NULL DEFAULT '',
    status     text NOT NULL DEFAULT 'open',
    project_id text,
    ts         timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_tenant_status
    ON tasks (tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_tenant_project
    ON tasks (tenant_id, project_id);

CREATE TABLE IF NOT EXISTS rules (
    rule_id   text PRIMARY KEY,
    tenant_id text NOT NULL,
    content   text NOT NULL,
    scope     text,
    channel   text NOT NULL DEFAULT 'all',
    priority  integer NOT NULL DEFAULT 0,
    token_est integer NOT NULL CHECK (token_est > 0),
    ts        timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_rules_tenant_channel
    ON rules (tenant_id, channel, priority DESC);
`},
	{2, "memory edits and capsules", `
CREATE TABLE IF NOT EXISTS memory_edits (
    edit_id     text PRIMARY KEY,
    tenant_id   text NOT NULL,
    target_type text NOT NULL CHECK (target_type IN ('chunk', 'decision')),
    target_id   text NOT NULL,
    op          text NOT NULL CHECK (op IN ('retract', 'amend', 'quarantine', 'attenuate', 'block')),
    patch       jsonb NOT NULL DEFAULT '{}',
    reason      text NOT NULL DEFAULT '',
    proposed_by text NOT NULL DEFAULT '',
    status      text NOT NULL DEFAULT 'proposed' CHECK (status IN ('proposed', 'approved', 'rejected')),
    created_at  timestamptz NOT NULL DEFAULT now(),
    applied_at  timestamptz
);

CREATE INDEX IF NOT EXISTS idx_edits_target
    ON memory_edits (tenant_id, target_type, target_id, status);

CREATE TABLE IF NOT EXISTS capsules (
    capsule_id         text PRIMARY KEY,
    tenant_id          text NOT NULL,
    scope              text NOT NULL,
    subject_type       text,
    subject_id         text,
    author_agent_id    text NOT NULL,
    audience_agent_ids text[] NOT NULL DEFAULT '{}',
    item_chunks        text[] NOT NULL DEFAULT '{}',
    item_decisions     text[] NOT NULL DEFAULT '{}',
    item_artifacts     text[] NOT NULL DEFAULT '{}',
    risks              text[] NOT NULL DEFAULT '{}',
    ttl_days           integer NOT NULL CHECK (ttl_days >= 1),
    status             text NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'revoked', 'expired')),
    created_at         timestamptz NOT NULL DEFAULT now(),
    expires_at         timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_capsules_expires
    ON capsules (expires_at);
CREATE INDEX IF NOT EXISTS idx_capsules_tenant_status
    ON capsules (tenant_id, status);
`},
	{3, "graph edges", `
CREATE TABLE IF NOT EXISTS edges (
    edge_id      text PRIMARY KEY,
    tenant_id    text NOT NULL,
    from_node_id text NOT NULL,
    to_node_id   text NOT NULL,
    type         text NOT NULL,
    properties   jsonb NOT NULL DEFAULT '{}',
    created_at   timestamptz NOT NULL DEFAULT now(),
    updated_at   timestamptz NOT NULL DEFAULT now(),
    UNIQUE (tenant_id, from_node_id, to_node_id, type)
);

CREATE INDEX IF NOT EXISTS idx_edges_from
    ON edges (tenant_id, from_node_id, type);
CREATE INDEX IF NOT EXISTS idx_edges_to
    ON edges (tenant_id, to_node_id, type);
`},
	{4, "effective chunks view", `
CREATE OR REPLACE VIEW effective_chunks AS
SELECT
    c.chunk_id,
    c.tenant_id,
    c.event_id,
    c.ts,
    c.kind,
    c.channel,
    c.sensitivity,
    c.tags,
    c.token_est,
    c.importance,
    c.text,
    c.scope,
    c.subject_type,
    c.subject_id,
    c.project_id,
    COALESCE(amend_text.val, c.text) AS effective_text,
    GREATEST(0.0::double precision, LEAST(1.0::double precision,
        COALESCE(att_abs.val,
            COALESCE(amend_imp.val, c.importance) - COALESCE(att_delta.total, 0.0))
    )) AS effective_importance,
    COALESCE(quar.cnt, 0) > 0 AS is_quarantined,
    COALESCE(blocked.channels, '{}'::text[]) AS blocked_channels,
    COALESCE(applied.cnt, 0) AS edits_applied
FROM chunks c
LEFT JOIN LATERAL (
    SELECT e.patch->>'text' AS val
    FROM memory_edits e
    WHERE e.tenant_id = c.tenant_id AND e.target_type = 'chunk'
      AND e.target_id = c.chunk_id AND e.status = 'approved'
      AND e.op = 'amend' AND e.patch ? 'text'
    ORDER BY e.created_at DESC
    LIMIT 1
) amend_text ON true
LEFT JOIN LATERAL (
    SELECT (e.patch->>'importance')::double precision AS val
    FROM memory_edits e
    WHERE e.tenant_id = c.tenant_id AND e.target_type = 'chunk'
      AND e.target_id = c.chunk_id AND e.status = 'approved'
      AND e.op = 'amend' AND e.patch ? 'importance'
    ORDER BY e.created_at DESC
    LIMIT 1
) amend_imp ON true
LEFT JOIN LATERAL (
    SELECT sum((e.patch->>'importance_delta')::double precision) AS total
    FROM memory_edits e
    WHERE e.tenant_id = c.tenant_id AND e.target_type = 'chunk'
      AND e.target_id = c.chunk_id AND e.status = 'approved'
      AND e.op = 'attenuate' AND e.patch ? 'importance_delta'
) att_delta ON true
LEFT JOIN LATERAL (
    SELECT (e.patch->>'importance')::double precision AS val
    FROM memory_edits e
    WHERE e.tenant_id = c.tenant_id AND e.target_type = 'chunk'
      AND e.target_id = c.chunk_id AND e.status = 'approved'
      AND e.op = 'attenuate' AND e.patch ? 'importance'
    ORDER BY e.created_at DESC
    LIMIT 1
) att_abs ON true
LEFT JOIN LATERAL (
    SELECT count(*) AS cnt
    FROM memory_edits e
    WHERE e.tenant_id = c.tenant_id AND e.target_type = 'chunk'
      AND e.target_id = c.chunk_id AND e.status = 'approved'
      AND e.op = 'quarantine'
) quar ON true
LEFT JOIN LATERAL (
    SELECT array_agg(e.patch->>'channel') AS channels
    FROM memory_edits e
    WHERE e.tenant_id = c.tenant_id AND e.target_type = 'chunk'
      AND e.target_id = c.chunk_id AND e.status = 'approved'
      AND e.op = 'block' AND e.patch ? 'channel'
) blocked ON true
LEFT JOIN LATERAL (
    SELECT count(*) AS cnt
    FROM memory_edits e
    WHERE e.tenant_id = c.tenant_id AND e.target_type = 'chunk'
      AND e.target_id = c.chunk_id AND e.status = 'approved'
) applied ON true
WHERE NOT EXISTS (
    SELECT 1
    FROM memory_edits e
    WHERE e.tenant_id = c.tenant_id AND e.target_type = 'chunk'
      AND e.target_id = c.chunk_id AND e.status = 'approved'
      AND e.op = 'retract'
);
`},
}

// Migrate applies pending schema migrations in order, each inside its own
// transaction. Safe to run concurrently from several replicas: the
// version row insert conflicts and the second runner rolls back.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	err := db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    integer PRIMARY KEY,
    name       text NOT NULL,
    applied_at timestamptz NOT NULL DEFAULT now()
)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists bool
		err := db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`,
			m.version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.version, err)
		}
		if exists {
			continue
		}

		err = db.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				m.version, m.name); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
