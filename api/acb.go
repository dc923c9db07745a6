package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mnemo.evalgo.org/acb"
)

// BuildACB assembles an Active Context Bundle for the calling agent.
func (h *Handlers) BuildACB(c echo.Context) error {
	tenant := tenantID(c)
	if err := h.Limiter.AllowACB(c.Request().Context(), tenant); err != nil {
		return writeError(c, err)
	}

	var req acb.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "invalid request body"})
	}
	req.TenantID = tenant
	if req.AgentID == "" {
		req.AgentID = agentID(c)
	}
	req.RequestID = c.Response().Header().Get(echo.HeaderXRequestID)

	resp, err := h.ACB.Build(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
