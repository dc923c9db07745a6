// Package api exposes the memory service over HTTP: event ingestion,
// effective-view reads, memory edits, capsules, graph edges and bundle
// assembly, all behind tenant-bound JWT auth.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"mnemo.evalgo.org/acb"
	"mnemo.evalgo.org/capsule"
	"mnemo.evalgo.org/db/repository"
	"mnemo.evalgo.org/graph"
	"mnemo.evalgo.org/ingest"
	"mnemo.evalgo.org/overlay"
	"mnemo.evalgo.org/ratelimit"
	"mnemo.evalgo.org/security"
	"mnemo.evalgo.org/storage"
	"mnemo.evalgo.org/version"
)

// Handlers aggregates every engine the REST surface fronts.
type Handlers struct {
	Ingest    *ingest.Engine
	Overlay   *overlay.Engine
	Capsules  *capsule.Engine
	Graph     *graph.Engine
	ACB       *acb.Orchestrator
	Events    repository.EventRepository
	Artifacts repository.ArtifactRepository
	Blobs     storage.BlobStore
	Decisions repository.DecisionRepository
	Tasks     repository.TaskRepository
	Rules     repository.RuleRepository
	JWT       *security.JWTService
	Limiter   *ratelimit.Limiter

	// TokenTTL bounds issued tokens (default 24h).
	TokenTTL time.Duration
}

// SetupRoutes registers all routes. Health and token issuance are public;
// everything else requires a tenant-bound bearer token.
func SetupRoutes(e *echo.Echo, h *Handlers) {
	e.GET("/health", h.Health)
	e.POST("/auth/token", h.GenerateToken)

	v1 := e.Group("/v1")
	v1.Use(JWTMiddleware(h.JWT))

	v1.POST("/events", h.RecordEvent)
	v1.GET("/events/:id", h.GetEvent)
	v1.GET("/artifacts/:id", h.GetArtifact)

	v1.GET("/chunks/:id", h.GetEffectiveChunk)
	v1.GET("/search", h.SearchChunks)
	v1.GET("/chunks/:id/timeline", h.Timeline)

	v1.POST("/edits", h.ProposeEdit)
	v1.GET("/edits/:id", h.GetEdit)
	v1.POST("/edits/:id/approve", h.ApproveEdit)
	v1.POST("/edits/:id/reject", h.RejectEdit)

	v1.POST("/capsules", h.CreateCapsule)
	v1.GET("/capsules", h.ListCapsules)
	v1.GET("/capsules/:id", h.GetCapsule)
	v1.POST("/capsules/:id/revoke", h.RevokeCapsule)

	v1.POST("/decisions", h.CreateDecision)
	v1.GET("/decisions", h.ListDecisions)
	v1.PATCH("/decisions/:id/status", h.UpdateDecisionStatus)

	v1.POST("/tasks", h.CreateTask)
	v1.GET("/tasks", h.ListTasks)
	v1.PATCH("/tasks/:id/status", h.UpdateTaskStatus)

	v1.POST("/rules", h.CreateRule)

	v1.POST("/edges", h.CreateEdge)
	v1.GET("/edges", h.ListEdges)
	v1.GET("/edges/:id", h.GetEdge)
	v1.PATCH("/edges/:id", h.UpdateEdge)
	v1.DELETE("/edges/:id", h.DeleteEdge)
	v1.GET("/graph/traverse", h.Traverse)

	v1.POST("/acb", h.BuildACB)
}

// Health reports liveness plus build identity.
func (h *Handlers) Health(c echo.Context) error {
	build := version.GetBuildInfo()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "mnemo",
		"version": build.Version,
		"build":   build,
	})
}

// TokenRequest asks for a tenant-bound token. In production deployments
// this endpoint sits behind the gateway's own authentication.
type TokenRequest struct {
	Subject  string `json:"subject"`
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`
}

// TokenResponse carries the signed token.
type TokenResponse struct {
	Token string `json:"token"`
}

// GenerateToken issues a signed tenant-bound token.
func (h *Handlers) GenerateToken(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "invalid request body"})
	}
	if req.Subject == "" || req.TenantID == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "subject and tenant_id are required"})
	}

	ttl := h.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	token, err := h.JWT.GenerateToken(req.Subject, req.TenantID, req.AgentID, ttl)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, TokenResponse{Token: token})
}
