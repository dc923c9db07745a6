package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/db"
	"mnemo.evalgo.org/memory"
	"mnemo.evalgo.org/privacy"
	"mnemo.evalgo.org/search"
)

// maxSearchLimit caps any single search result set regardless of what the
// caller asks for.
const maxSearchLimit = 200

// defaultSearchLimit applies when the caller passes no limit.
const defaultSearchLimit = 50

// PostgresOverlayRepository implements OverlayRepository on postgres. All
// reads go through the effective_chunks view, which folds every approved
// edit at query time; stored chunks stay untouched.
type PostgresOverlayRepository struct {
	db *db.PostgresDB
}

// NewPostgresOverlayRepository creates an overlay repository.
func NewPostgresOverlayRepository(pg *db.PostgresDB) *PostgresOverlayRepository {
	return &PostgresOverlayRepository{db: pg}
}

const effectiveColumns = `chunk_id, tenant_id, event_id, ts, kind, channel, sensitivity,
       tags, token_est, importance, text, scope, subject_type, subject_id, project_id,
       effective_text, effective_importance, is_quarantined, blocked_channels, edits_applied`

func scanEffective(row pgx.Row) (*memory.EffectiveChunk, error) {
	var c memory.EffectiveChunk
	var kind, channel, sensitivity string
	var scope *string
	var blocked []string
	err := row.Scan(&c.ChunkID, &c.TenantID, &c.EventID, &c.TS, &kind,
		&channel, &sensitivity, &c.Tags, &c.TokenEst, &c.Importance,
		&c.Text, &scope, &c.SubjectType, &c.SubjectID, &c.ProjectID,
		&c.EffectiveText, &c.EffectiveImportance, &c.IsQuarantined,
		&blocked, &c.EditsApplied)
	if err != nil {
		return nil, err
	}
	c.Kind = memory.EventKind(kind)
	c.Channel = memory.Channel(channel)
	c.Sensitivity = memory.Sensitivity(sensitivity)
	c.Scope = scopePtr(scope)
	for _, b := range blocked {
		c.BlockedChannels = append(c.BlockedChannels, memory.Channel(b))
	}
	return &c, nil
}

// GetEffectiveChunk returns one effective chunk. Retracted chunks are
// filtered out by the view itself, so they come back not-found here.
func (r *PostgresOverlayRepository) GetEffectiveChunk(ctx context.Context, tenantID, chunkID string) (*memory.EffectiveChunk, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+effectiveColumns+` FROM effective_chunks WHERE tenant_id = $1 AND chunk_id = $2`,
		tenantID, chunkID)
	c, err := scanEffective(row)
	if err != nil {
		if isNoRows(err) {
			return nil, &apperr.NotFoundError{Resource: "chunk", ID: chunkID}
		}
		return nil, apperr.Storage("get effective chunk", err)
	}
	return c, nil
}

// SearchChunks runs tenant-scoped full-text search over effective text.
// A query that tokenizes to nothing returns no results rather than
// everything.
func (r *PostgresOverlayRepository) SearchChunks(ctx context.Context, tenantID, queryText string, opts SearchOptions) ([]*memory.EffectiveChunk, error) {
	tsq := search.TSQuery(queryText)
	if tsq == "" {
		return nil, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	sql := `
SELECT ` + effectiveColumns + `
FROM effective_chunks
WHERE tenant_id = $1
  AND to_tsvector('english', effective_text) @@ to_tsquery('english', $2)`
	args := []interface{}{tenantID, tsq}

	add := func(clause string, v interface{}) {
		args = append(args, v)
		sql += fmt.Sprintf(clause, len(args))
	}

	if opts.Scope != nil {
		add(" AND scope = $%d", string(*opts.Scope))
	}
	if opts.SubjectType != nil {
		add(" AND subject_type = $%d", *opts.SubjectType)
	}
	if opts.SubjectID != nil {
		add(" AND subject_id = $%d", *opts.SubjectID)
	}
	if opts.ProjectID != nil {
		add(" AND project_id = $%d", *opts.ProjectID)
	}
	if !opts.IncludeQuarantined {
		sql += " AND NOT is_quarantined"
	}
	if opts.Channel != nil {
		// Channel reads only see sensitivities the channel admits, and
		// never rows an approved block edit pinned to that channel.
		allowed := privacy.AllowedSensitivity(*opts.Channel)
		sens := make([]string, 0, len(allowed))
		for _, s := range allowed {
			sens = append(sens, string(s))
		}
		add(" AND sensitivity = ANY($%d)", sens)
		add(" AND NOT ($%d = ANY(blocked_channels))", string(*opts.Channel))
	}

	args = append(args, limit)
	sql += fmt.Sprintf(`
ORDER BY effective_importance DESC, ts DESC, chunk_id ASC
LIMIT $%d`, len(args))

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Storage("search chunks", err)
	}
	defer rows.Close()

	var out []*memory.EffectiveChunk
	for rows.Next() {
		c, err := scanEffective(rows)
		if err != nil {
			return nil, apperr.Storage("scan chunk", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("search chunks", err)
	}
	return out, nil
}

// Timeline returns effective chunks within window of the center chunk's
// timestamp, nearest first. The center chunk itself is included at
// distance zero; a retracted center is not-found.
func (r *PostgresOverlayRepository) Timeline(ctx context.Context, tenantID, centerChunkID string, window time.Duration) ([]*memory.TimelineChunk, error) {
	var centerTS time.Time
	err := r.db.QueryRow(ctx,
		`SELECT ts FROM effective_chunks WHERE tenant_id = $1 AND chunk_id = $2`,
		tenantID, centerChunkID).Scan(&centerTS)
	if err != nil {
		if isNoRows(err) {
			return nil, &apperr.NotFoundError{Resource: "chunk", ID: centerChunkID}
		}
		return nil, apperr.Storage("timeline center", err)
	}

	rows, err := r.db.Query(ctx, `
SELECT `+effectiveColumns+`,
       EXTRACT(EPOCH FROM (ts - $3::timestamptz))::bigint AS distance_seconds
FROM effective_chunks
WHERE tenant_id = $1
  AND ts BETWEEN $3::timestamptz - $2::interval AND $3::timestamptz + $2::interval
ORDER BY abs(EXTRACT(EPOCH FROM (ts - $3::timestamptz))), ts ASC, chunk_id ASC`,
		tenantID, window, centerTS)
	if err != nil {
		return nil, apperr.Storage("timeline", err)
	}
	defer rows.Close()

	var out []*memory.TimelineChunk
	for rows.Next() {
		var tc memory.TimelineChunk
		var kind, channel, sensitivity string
		var scope *string
		var blocked []string
		err := rows.Scan(&tc.ChunkID, &tc.TenantID, &tc.EventID, &tc.TS,
			&kind, &channel, &sensitivity, &tc.Tags, &tc.TokenEst,
			&tc.Importance, &tc.Text, &scope, &tc.SubjectType,
			&tc.SubjectID, &tc.ProjectID, &tc.EffectiveText,
			&tc.EffectiveImportance, &tc.IsQuarantined, &blocked,
			&tc.EditsApplied, &tc.DistanceSeconds)
		if err != nil {
			return nil, apperr.Storage("scan timeline chunk", err)
		}
		tc.Kind = memory.EventKind(kind)
		tc.Channel = memory.Channel(channel)
		tc.Sensitivity = memory.Sensitivity(sensitivity)
		tc.Scope = scopePtr(scope)
		for _, b := range blocked {
			tc.BlockedChannels = append(tc.BlockedChannels, memory.Channel(b))
		}
		out = append(out, &tc)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("timeline", err)
	}
	return out, nil
}
