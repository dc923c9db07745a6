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

// PostgresArtifactRepository implements ArtifactRepository on postgres.
// Inserts happen inside the event transaction in PostgresEventRepository;
// this repository covers reads and the offload handshake.
type PostgresArtifactRepository struct {
	db *db.PostgresDB
}

// NewPostgresArtifactRepository creates an artifact repository.
func NewPostgresArtifactRepository(pg *db.PostgresDB) *PostgresArtifactRepository {
	return &PostgresArtifactRepository{db: pg}
}

const artifactColumns = `artifact_id, tenant_id, kind, bytes, size, storage_key, meta, refs, created_at`

func scanArtifact(row pgx.Row) (*memory.Artifact, error) {
	var a memory.Artifact
	var meta []byte
	err := row.Scan(&a.ArtifactID, &a.TenantID, &a.Kind, &a.Bytes,
		&a.Size, &a.StorageKey, &meta, &a.Refs, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &a.Meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact meta: %w", err)
	}
	return &a, nil
}

// Get returns one artifact after tenant filtering.
func (r *PostgresArtifactRepository) Get(ctx context.Context, tenantID, artifactID string) (*memory.Artifact, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE tenant_id = $1 AND artifact_id = $2`,
		tenantID, artifactID)
	a, err := scanArtifact(row)
	if err != nil {
		if isNoRows(err) {
			return nil, &apperr.NotFoundError{Resource: "artifact", ID: artifactID}
		}
		return nil, apperr.Storage("get artifact", err)
	}
	return a, nil
}

// PendingOffload returns artifacts still holding inline bytes, oldest
// first, across all tenants. The offload worker is the only caller.
func (r *PostgresArtifactRepository) PendingOffload(ctx context.Context, limit int) ([]*memory.Artifact, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+artifactColumns+`
FROM artifacts
WHERE storage_key IS NULL AND bytes IS NOT NULL
ORDER BY created_at ASC
LIMIT $1`,
		limit)
	if err != nil {
		return nil, apperr.Storage("pending offload", err)
	}
	defer rows.Close()

	var out []*memory.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, apperr.Storage("scan artifact", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("pending offload", err)
	}
	return out, nil
}

// MarkOffloaded records the blob key and drops the inline bytes.
func (r *PostgresArtifactRepository) MarkOffloaded(ctx context.Context, tenantID, artifactID, storageKey string) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE artifacts SET storage_key = $3, bytes = NULL
		 WHERE tenant_id = $1 AND artifact_id = $2`,
		tenantID, artifactID, storageKey)
	if err != nil {
		return apperr.Storage("mark artifact offloaded", err)
	}
	if tag.RowsAffected() == 0 {
		return &apperr.NotFoundError{Resource: "artifact", ID: artifactID}
	}
	return nil
}
