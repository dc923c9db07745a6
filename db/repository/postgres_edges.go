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

// PostgresEdgeRepository implements EdgeRepository on postgres.
type PostgresEdgeRepository struct {
	db *db.PostgresDB
}

// NewPostgresEdgeRepository creates an edge repository.
func NewPostgresEdgeRepository(pg *db.PostgresDB) *PostgresEdgeRepository {
	return &PostgresEdgeRepository{db: pg}
}

// Insert persists an edge.
func (r *PostgresEdgeRepository) Insert(ctx context.Context, e *memory.Edge) error {
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal edge properties: %w", err)
	}
	err = r.db.Exec(ctx, `
INSERT INTO edges (edge_id, tenant_id, from_node_id, to_node_id, type, properties, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.EdgeID, e.TenantID, e.FromNodeID, e.ToNodeID, string(e.Type),
		props, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &apperr.ConflictError{Attribute: "edge", Message: "edge already exists between these nodes"}
		}
		return apperr.Storage("insert edge", err)
	}
	return nil
}

const edgeColumns = `edge_id, tenant_id, from_node_id, to_node_id, type, properties, created_at, updated_at`

func scanEdge(row pgx.Row) (*memory.Edge, error) {
	var e memory.Edge
	var edgeType string
	var props []byte
	err := row.Scan(&e.EdgeID, &e.TenantID, &e.FromNodeID, &e.ToNodeID,
		&edgeType, &props, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Type = memory.EdgeType(edgeType)
	if err := json.Unmarshal(props, &e.Properties); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edge properties: %w", err)
	}
	return &e, nil
}

// Get returns one edge after tenant filtering.
func (r *PostgresEdgeRepository) Get(ctx context.Context, tenantID, edgeID string) (*memory.Edge, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE tenant_id = $1 AND edge_id = $2`,
		tenantID, edgeID)
	e, err := scanEdge(row)
	if err != nil {
		if isNoRows(err) {
			return nil, &apperr.NotFoundError{Resource: "edge", ID: edgeID}
		}
		return nil, apperr.Storage("get edge", err)
	}
	return e, nil
}

// ForNode returns edges touching the node in the given direction.
func (r *PostgresEdgeRepository) ForNode(ctx context.Context, tenantID, nodeID string, edgeType memory.EdgeType, direction EdgeDirection) ([]*memory.Edge, error) {
	var nodeClause string
	switch direction {
	case DirectionOutgoing:
		nodeClause = `from_node_id = $2`
	case DirectionIncoming:
		nodeClause = `to_node_id = $2`
	default:
		nodeClause = `(from_node_id = $2 OR to_node_id = $2)`
	}

	sql := `SELECT ` + edgeColumns + ` FROM edges WHERE tenant_id = $1 AND ` + nodeClause
	args := []interface{}{tenantID, nodeID}
	if edgeType != "" {
		args = append(args, string(edgeType))
		sql += ` AND type = $3`
	}
	sql += ` ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Storage("edges for node", err)
	}
	defer rows.Close()

	var out []*memory.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, apperr.Storage("scan edge", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("edges for node", err)
	}
	return out, nil
}

// UpdateProperties merges the given keys into the edge's properties and
// bumps updated_at.
func (r *PostgresEdgeRepository) UpdateProperties(ctx context.Context, tenantID, edgeID string, properties map[string]string) error {
	props, err := json.Marshal(properties)
	if err != nil {
		return fmt.Errorf("failed to marshal edge properties: %w", err)
	}
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE edges SET properties = properties || $3::jsonb, updated_at = now()
		 WHERE tenant_id = $1 AND edge_id = $2`,
		tenantID, edgeID, props)
	if err != nil {
		return apperr.Storage("update edge properties", err)
	}
	if tag.RowsAffected() == 0 {
		return &apperr.NotFoundError{Resource: "edge", ID: edgeID}
	}
	return nil
}

// Delete removes an edge.
func (r *PostgresEdgeRepository) Delete(ctx context.Context, tenantID, edgeID string) error {
	tag, err := r.db.Pool().Exec(ctx,
		`DELETE FROM edges WHERE tenant_id = $1 AND edge_id = $2`,
		tenantID, edgeID)
	if err != nil {
		return apperr.Storage("delete edge", err)
	}
	if tag.RowsAffected() == 0 {
		return &apperr.NotFoundError{Resource: "edge", ID: edgeID}
	}
	return nil
}
