package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mnemo.evalgo.org/memory"
	"mnemo.evalgo.org/overlay"
)

// ProposeEditRequest is the memory-surgery payload.
type ProposeEditRequest struct {
	TargetType memory.EditTargetType `json:"target_type"`
	TargetID   string                `json:"target_id"`
	Op         memory.EditOp         `json:"op"`
	Patch      memory.EditPatch      `json:"patch"`
	Reason     string                `json:"reason"`
	Approve    bool                  `json:"approve"`
}

// ProposeEdit records a new edit, optionally pre-approved.
func (h *Handlers) ProposeEdit(c echo.Context) error {
	var req ProposeEditRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "invalid request body"})
	}

	edit, err := h.Overlay.Propose(c.Request().Context(), overlay.ProposeInput{
		TenantID:    tenantID(c),
		TargetType:  req.TargetType,
		TargetID:    req.TargetID,
		Op:          req.Op,
		Patch:       req.Patch,
		Reason:      req.Reason,
		ProposedBy:  agentID(c),
		AutoApprove: req.Approve,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, edit)
}

// GetEdit returns one edit.
func (h *Handlers) GetEdit(c echo.Context) error {
	edit, err := h.Overlay.GetEdit(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, edit)
}

// ApproveEdit transitions a proposed edit to approved.
func (h *Handlers) ApproveEdit(c echo.Context) error {
	edit, err := h.Overlay.Approve(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, edit)
}

// RejectEdit transitions a proposed edit to rejected.
func (h *Handlers) RejectEdit(c echo.Context) error {
	edit, err := h.Overlay.Reject(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, edit)
}
