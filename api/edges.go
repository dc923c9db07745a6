package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/db/repository"
	"mnemo.evalgo.org/memory"
)

// CreateEdgeRequest links two memory nodes.
type CreateEdgeRequest struct {
	FromNodeID string            `json:"from_node_id"`
	ToNodeID   string            `json:"to_node_id"`
	Type       memory.EdgeType   `json:"type"`
	Properties map[string]string `json:"properties"`
}

// CreateEdge persists an edge, refusing depends_on cycles.
func (h *Handlers) CreateEdge(c echo.Context) error {
	var req CreateEdgeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "invalid request body"})
	}

	edge, err := h.Graph.CreateEdge(c.Request().Context(), tenantID(c), req.FromNodeID, req.ToNodeID, req.Type, req.Properties)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, edge)
}

// ListEdges returns the edges touching a node. Query parameters: node,
// type, direction (outgoing|incoming|both, default both).
func (h *Handlers) ListEdges(c echo.Context) error {
	node := c.QueryParam("node")
	if node == "" {
		return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "node", Message: "required"}))
	}

	direction := repository.EdgeDirection(c.QueryParam("direction"))
	switch direction {
	case repository.DirectionOutgoing, repository.DirectionIncoming, repository.DirectionBoth:
	case "":
		direction = repository.DirectionBoth
	default:
		return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "direction", Message: "must be outgoing, incoming or both"}))
	}

	edges, err := h.Graph.EdgesForNode(c.Request().Context(), tenantID(c), node, memory.EdgeType(c.QueryParam("type")), direction)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"edges": edges,
		"count": len(edges),
	})
}

// GetEdge returns one edge.
func (h *Handlers) GetEdge(c echo.Context) error {
	edge, err := h.Graph.GetEdge(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, edge)
}

// UpdateEdgeRequest merges properties into an edge.
type UpdateEdgeRequest struct {
	Properties map[string]string `json:"properties"`
}

// UpdateEdge merges properties into an edge.
func (h *Handlers) UpdateEdge(c echo.Context) error {
	var req UpdateEdgeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "invalid request body"})
	}

	edge, err := h.Graph.UpdateProperties(c.Request().Context(), tenantID(c), c.Param("id"), req.Properties)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, edge)
}

// DeleteEdge removes an edge.
func (h *Handlers) DeleteEdge(c echo.Context) error {
	if err := h.Graph.DeleteEdge(c.Request().Context(), tenantID(c), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Traverse walks the graph from a node. Query parameters: node, type,
// direction (outgoing|incoming|both), depth.
func (h *Handlers) Traverse(c echo.Context) error {
	node := c.QueryParam("node")
	if node == "" {
		return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "node", Message: "required"}))
	}

	edgeType := memory.EdgeType(c.QueryParam("type"))
	direction := repository.EdgeDirection(c.QueryParam("direction"))
	switch direction {
	case repository.DirectionOutgoing, repository.DirectionIncoming, repository.DirectionBoth:
	case "":
		direction = repository.DirectionOutgoing
	default:
		return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "direction", Message: "must be outgoing, incoming or both"}))
	}

	depth := 0
	if v := c.QueryParam("depth"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "depth", Message: "must be a non-negative integer"}))
		}
		depth = parsed
	}

	nodes, err := h.Graph.Traverse(c.Request().Context(), tenantID(c), node, edgeType, direction, depth)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"nodes": nodes,
		"count": len(nodes),
	})
}
