// Package graph manages typed directed edges between memory nodes and
// keeps the depends_on relation acyclic through cycle detection at insert
// time.
package graph

import (
	"context"
	"time"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/common"
	"mnemo.evalgo.org/db/repository"
	"mnemo.evalgo.org/ident"
	"mnemo.evalgo.org/memory"
)

// MaxTraverseDepth bounds traversal so a degenerate graph cannot pin a
// request.
const MaxTraverseDepth = 10

// validEdgeTypes is the closed set of relation types.
var validEdgeTypes = map[memory.EdgeType]bool{
	memory.EdgeParentOf:   true,
	memory.EdgeChildOf:    true,
	memory.EdgeDependsOn:  true,
	memory.EdgeCreatedBy:  true,
	memory.EdgeReferences: true,
}

// Engine runs edge operations. Safe for concurrent use; the acyclicity
// check races only against other inserts, which the unique constraint and
// the check-then-insert window make a tolerable risk for this workload.
type Engine struct {
	edges repository.EdgeRepository
	now   func() time.Time
}

// NewEngine creates a graph engine.
func NewEngine(edges repository.EdgeRepository) *Engine {
	return &Engine{edges: edges, now: time.Now}
}

// CreateEdge validates and persists an edge. A depends_on edge that would
// close a cycle is refused with a conflict before anything is written.
func (e *Engine) CreateEdge(ctx context.Context, tenantID, fromNodeID, toNodeID string, edgeType memory.EdgeType, properties map[string]string) (*memory.Edge, error) {
	var fields []apperr.FieldError
	if tenantID == "" {
		fields = append(fields, apperr.FieldError{Field: "tenant_id", Message: "required"})
	}
	if fromNodeID == "" {
		fields = append(fields, apperr.FieldError{Field: "from_node_id", Message: "required"})
	}
	if toNodeID == "" {
		fields = append(fields, apperr.FieldError{Field: "to_node_id", Message: "required"})
	}
	if fromNodeID != "" && fromNodeID == toNodeID {
		fields = append(fields, apperr.FieldError{Field: "to_node_id", Message: "self edges are not allowed"})
	}
	if !validEdgeTypes[edgeType] {
		fields = append(fields, apperr.FieldError{Field: "type", Message: "unknown edge type"})
	}
	if len(fields) > 0 {
		return nil, apperr.NewValidation(fields...)
	}

	if edgeType == memory.EdgeDependsOn {
		cyclic, err := e.wouldCreateCycle(ctx, tenantID, fromNodeID, toNodeID)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, &apperr.ConflictError{
				Attribute: "depends_on",
				Message:   "edge would create a dependency cycle",
			}
		}
	}

	now := e.now().UTC()
	edge := &memory.Edge{
		EdgeID:     ident.New(ident.KindEdge),
		TenantID:   tenantID,
		FromNodeID: fromNodeID,
		ToNodeID:   toNodeID,
		Type:       edgeType,
		Properties: properties,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.edges.Insert(ctx, edge); err != nil {
		return nil, err
	}

	common.Logger.WithFields(map[string]interface{}{
		"edge_id": edge.EdgeID,
		"tenant":  tenantID,
		"type":    edgeType,
	}).Debug("edge created")
	return edge, nil
}

// wouldCreateCycle reports whether from→to of type depends_on closes a
// cycle: depth-first search from to along outgoing depends_on edges,
// looking for from.
func (e *Engine) wouldCreateCycle(ctx context.Context, tenantID, fromNodeID, toNodeID string) (bool, error) {
	visited := map[string]bool{}
	stack := []string{toNodeID}

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == fromNodeID {
			return true, nil
		}
		if visited[node] {
			continue
		}
		visited[node] = true

		outgoing, err := e.edges.ForNode(ctx, tenantID, node, memory.EdgeDependsOn, repository.DirectionOutgoing)
		if err != nil {
			return false, err
		}
		for _, edge := range outgoing {
			if !visited[edge.ToNodeID] {
				stack = append(stack, edge.ToNodeID)
			}
		}
	}
	return false, nil
}

// GetEdge returns one edge.
func (e *Engine) GetEdge(ctx context.Context, tenantID, edgeID string) (*memory.Edge, error) {
	return e.edges.Get(ctx, tenantID, edgeID)
}

// UpdateProperties merges properties into an edge.
func (e *Engine) UpdateProperties(ctx context.Context, tenantID, edgeID string, properties map[string]string) (*memory.Edge, error) {
	if len(properties) == 0 {
		return nil, apperr.NewValidation(apperr.FieldError{Field: "properties", Message: "at least one property required"})
	}
	if err := e.edges.UpdateProperties(ctx, tenantID, edgeID, properties); err != nil {
		return nil, err
	}
	return e.edges.Get(ctx, tenantID, edgeID)
}

// DeleteEdge removes an edge.
func (e *Engine) DeleteEdge(ctx context.Context, tenantID, edgeID string) error {
	return e.edges.Delete(ctx, tenantID, edgeID)
}

// TraversalNode is one node reached during traversal, with the hop count
// from the start node.
type TraversalNode struct {
	NodeID string `json:"node_id"`
	Depth  int    `json:"depth"`
}

// Traverse returns the nodes reachable from start within depth hops along
// edges of the given type and direction, breadth-first, excluding the
// start node itself. Depth is clamped to MaxTraverseDepth.
func (e *Engine) Traverse(ctx context.Context, tenantID, start string, edgeType memory.EdgeType, direction repository.EdgeDirection, depth int) ([]TraversalNode, error) {
	if depth <= 0 || depth > MaxTraverseDepth {
		depth = MaxTraverseDepth
	}

	visited := map[string]bool{start: true}
	frontier := []string{start}
	var out []TraversalNode

	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		var next []string
		for _, node := range frontier {
			edges, err := e.edges.ForNode(ctx, tenantID, node, edgeType, direction)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				neighbor := edge.ToNodeID
				if direction == repository.DirectionIncoming ||
					(direction == repository.DirectionBoth && edge.ToNodeID == node) {
					neighbor = edge.FromNodeID
				}
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true
				out = append(out, TraversalNode{NodeID: neighbor, Depth: hop})
				next = append(next, neighbor)
			}
		}
		frontier = next
	}
	return out, nil
}

// EdgesForNode returns the raw edges touching a node.
func (e *Engine) EdgesForNode(ctx context.Context, tenantID, nodeID string, edgeType memory.EdgeType, direction repository.EdgeDirection) ([]*memory.Edge, error) {
	return e.edges.ForNode(ctx, tenantID, nodeID, edgeType, direction)
}
