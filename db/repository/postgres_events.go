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

// PostgresEventRepository implements EventRepository on postgres.
type PostgresEventRepository struct {
	db *db.PostgresDB
}

// NewPostgresEventRepository creates an event repository.
func NewPostgresEventRepository(pg *db.PostgresDB) *PostgresEventRepository {
	return &PostgresEventRepository{db: pg}
}

// RecordEvent inserts the event, its optional artifact and all chunks in
// one transaction.
func (r *PostgresEventRepository) RecordEvent(ctx context.Context, event *memory.Event, artifact *memory.Artifact, chunks []memory.Chunk) error {
	content, err := json.Marshal(event.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal event content: %w", err)
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO events (event_id, tenant_id, session_id, channel, actor_type, actor_id,
                    kind, sensitivity, tags, content, refs,
                    scope, subject_type, subject_id, project_id, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			event.EventID, event.TenantID, event.SessionID, string(event.Channel),
			string(event.Actor.Type), event.Actor.ID, string(event.Kind),
			string(event.Sensitivity), event.Tags, content, event.Refs,
			scopeStr(event.Scope), event.SubjectType, event.SubjectID,
			event.ProjectID, event.TS)
		if err != nil {
			if isUniqueViolation(err) {
				return &apperr.ConflictError{Attribute: "event_id", Message: "event already exists"}
			}
			return apperr.Storage("insert event", err)
		}

		if artifact != nil {
			meta, err := json.Marshal(artifact.Meta)
			if err != nil {
				return fmt.Errorf("failed to marshal artifact meta: %w", err)
			}
			_, err = tx.Exec(ctx, `
INSERT INTO artifacts (artifact_id, tenant_id, kind, bytes, size, meta, refs, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				artifact.ArtifactID, artifact.TenantID, artifact.Kind,
				artifact.Bytes, artifact.Size, meta, artifact.Refs, artifact.CreatedAt)
			if err != nil {
				return apperr.Storage("insert artifact", err)
			}
		}

		for i := range chunks {
			c := &chunks[i]
			_, err := tx.Exec(ctx, `
INSERT INTO chunks (chunk_id, tenant_id, event_id, ts, kind, channel, sensitivity,
                    tags, token_est, importance, text,
                    scope, subject_type, subject_id, project_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
				c.ChunkID, c.TenantID, c.EventID, c.TS, string(c.Kind),
				string(c.Channel), string(c.Sensitivity), c.Tags,
				c.TokenEst, c.Importance, c.Text,
				scopeStr(c.Scope), c.SubjectType, c.SubjectID, c.ProjectID)
			if err != nil {
				return apperr.Storage("insert chunk", err)
			}
		}
		return nil
	})
}

const eventColumns = `event_id, tenant_id, session_id, channel, actor_type, actor_id,
       kind, sensitivity, tags, content, refs,
       scope, subject_type, subject_id, project_id, ts`

func scanEvent(row pgx.Row) (*memory.Event, error) {
	var e memory.Event
	var channel, actorType, kind, sensitivity string
	var content []byte
	var scope *string
	err := row.Scan(&e.EventID, &e.TenantID, &e.SessionID, &channel,
		&actorType, &e.Actor.ID, &kind, &sensitivity, &e.Tags, &content,
		&e.Refs, &scope, &e.SubjectType, &e.SubjectID, &e.ProjectID, &e.TS)
	if err != nil {
		return nil, err
	}
	e.Channel = memory.Channel(channel)
	e.Actor.Type = memory.ActorType(actorType)
	e.Kind = memory.EventKind(kind)
	e.Sensitivity = memory.Sensitivity(sensitivity)
	e.Scope = scopePtr(scope)
	if err := json.Unmarshal(content, &e.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event content: %w", err)
	}
	return &e, nil
}

// GetEvent returns one event after tenant filtering.
func (r *PostgresEventRepository) GetEvent(ctx context.Context, tenantID, eventID string) (*memory.Event, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE tenant_id = $1 AND event_id = $2`,
		tenantID, eventID)
	e, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, &apperr.NotFoundError{Resource: "event", ID: eventID}
		}
		return nil, apperr.Storage("get event", err)
	}
	return e, nil
}

// RecentEvents returns the newest session events within the allowed
// sensitivities.
func (r *PostgresEventRepository) RecentEvents(ctx context.Context, tenantID, sessionID string, allowed []memory.Sensitivity, limit int) ([]*memory.Event, error) {
	sens := make([]string, len(allowed))
	for i, s := range allowed {
		sens[i] = string(s)
	}

	rows, err := r.db.Query(ctx, `
SELECT `+eventColumns+`
FROM events
WHERE tenant_id = $1 AND session_id = $2 AND sensitivity = ANY($3)
ORDER BY ts DESC
LIMIT $4`,
		tenantID, sessionID, sens, limit)
	if err != nil {
		return nil, apperr.Storage("recent events", err)
	}
	defer rows.Close()

	var events []*memory.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, apperr.Storage("scan event", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("recent events", err)
	}
	return events, nil
}
