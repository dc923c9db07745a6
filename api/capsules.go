package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mnemo.evalgo.org/capsule"
	"mnemo.evalgo.org/memory"
)

// CreateCapsuleRequest is the capsule creation payload. The author is
// the authenticated agent.
type CreateCapsuleRequest struct {
	Scope       memory.Scope        `json:"scope"`
	SubjectType *string             `json:"subject_type"`
	SubjectID   *string             `json:"subject_id"`
	Audience    []string            `json:"audience_agent_ids"`
	Items       memory.CapsuleItems `json:"items"`
	Risks       []string            `json:"risks"`
	TTLDays     int                 `json:"ttl_days"`
}

// CreateCapsule records a new capsule.
func (h *Handlers) CreateCapsule(c echo.Context) error {
	var req CreateCapsuleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "invalid request body"})
	}

	created, err := h.Capsules.Create(c.Request().Context(), capsule.CreateInput{
		TenantID:      tenantID(c),
		Scope:         req.Scope,
		SubjectType:   req.SubjectType,
		SubjectID:     req.SubjectID,
		AuthorAgentID: agentID(c),
		Audience:      req.Audience,
		Items:         req.Items,
		Risks:         req.Risks,
		TTLDays:       req.TTLDays,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// ListCapsules returns the capsules readable by the calling agent,
// optionally filtered by subject.
func (h *Handlers) ListCapsules(c echo.Context) error {
	var subjectType, subjectID *string
	if v := c.QueryParam("subject_type"); v != "" {
		subjectType = &v
	}
	if v := c.QueryParam("subject_id"); v != "" {
		subjectID = &v
	}

	capsules, err := h.Capsules.List(c.Request().Context(), tenantID(c), agentID(c), subjectType, subjectID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"capsules": capsules,
		"count":    len(capsules),
	})
}

// GetCapsule returns one capsule when the caller may read it.
func (h *Handlers) GetCapsule(c echo.Context) error {
	got, err := h.Capsules.Get(c.Request().Context(), tenantID(c), c.Param("id"), agentID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, got)
}

// RevokeCapsule revokes a capsule; revoking twice is not an error.
func (h *Handlers) RevokeCapsule(c echo.Context) error {
	if err := h.Capsules.Revoke(c.Request().Context(), tenantID(c), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "revoked"})
}
