package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/db/repository"
	"mnemo.evalgo.org/memory"
)

// errBlobStoreUnavailable surfaces when an offloaded artifact is
// requested but no blob store is configured.
var errBlobStoreUnavailable = errors.New("blob store not configured")

// RecordEventRequest is the ingestion payload. Tenant comes from the
// token, never from the body.
type RecordEventRequest struct {
	SessionID   string             `json:"session_id"`
	Channel     memory.Channel     `json:"channel"`
	Actor       memory.Actor       `json:"actor"`
	Kind        memory.EventKind   `json:"kind"`
	Sensitivity memory.Sensitivity `json:"sensitivity"`
	Tags        []string           `json:"tags"`
	Content     memory.Content     `json:"content"`
	Refs        []string           `json:"refs"`
	Scope       *memory.Scope      `json:"scope"`
	SubjectType *string            `json:"subject_type"`
	SubjectID   *string            `json:"subject_id"`
	ProjectID   *string            `json:"project_id"`
	TS          time.Time          `json:"ts"`
}

// RecordEvent ingests one event.
func (h *Handlers) RecordEvent(c echo.Context) error {
	tenant := tenantID(c)
	if err := h.Limiter.AllowEvent(c.Request().Context(), tenant); err != nil {
		return writeError(c, err)
	}

	var req RecordEventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "invalid request body"})
	}
	if req.Sensitivity == "" {
		req.Sensitivity = memory.SensitivityNone
	}

	event := &memory.Event{
		TenantID:    tenant,
		SessionID:   req.SessionID,
		Channel:     req.Channel,
		Actor:       req.Actor,
		Kind:        req.Kind,
		Sensitivity: req.Sensitivity,
		Tags:        req.Tags,
		Content:     req.Content,
		Refs:        req.Refs,
		Scope:       req.Scope,
		SubjectType: req.SubjectType,
		SubjectID:   req.SubjectID,
		ProjectID:   req.ProjectID,
		TS:          req.TS,
	}

	result, err := h.Ingest.RecordEvent(c.Request().Context(), event)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// GetEvent returns one stored event.
func (h *Handlers) GetEvent(c echo.Context) error {
	event, err := h.Events.GetEvent(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, event)
}

// GetArtifact serves the full artifact payload: inline bytes when the
// offload worker has not run yet, otherwise fetched through from blob
// storage.
func (h *Handlers) GetArtifact(c echo.Context) error {
	ctx := c.Request().Context()
	artifact, err := h.Artifacts.Get(ctx, tenantID(c), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}

	data := artifact.Bytes
	if len(data) == 0 && artifact.StorageKey != nil {
		if h.Blobs == nil {
			return writeError(c, apperr.Storage("artifact fetch", errBlobStoreUnavailable))
		}
		data, err = h.Blobs.Get(ctx, *artifact.StorageKey)
		if err != nil {
			return writeError(c, err)
		}
	}
	return c.Blob(http.StatusOK, "application/octet-stream", data)
}

// GetEffectiveChunk returns one chunk with the approved edits folded in.
func (h *Handlers) GetEffectiveChunk(c echo.Context) error {
	chunk, err := h.Overlay.EffectiveChunk(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, chunk)
}

// SearchChunks runs the scoped full-text search. Query parameters: q,
// scope, subject_type, subject_id, project_id, channel, limit,
// include_quarantined.
func (h *Handlers) SearchChunks(c echo.Context) error {
	opts := repository.SearchOptions{}
	if v := c.QueryParam("scope"); v != "" {
		s := memory.Scope(v)
		if !s.Valid() {
			return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "scope", Message: "unknown scope"}))
		}
		opts.Scope = &s
	}
	if v := c.QueryParam("subject_type"); v != "" {
		opts.SubjectType = &v
	}
	if v := c.QueryParam("subject_id"); v != "" {
		opts.SubjectID = &v
	}
	if v := c.QueryParam("project_id"); v != "" {
		opts.ProjectID = &v
	}
	if v := c.QueryParam("channel"); v != "" {
		ch := memory.Channel(v)
		if !ch.Valid() {
			return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "channel", Message: "unknown channel"}))
		}
		opts.Channel = &ch
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "limit", Message: "must be a non-negative integer"}))
		}
		opts.Limit = limit
	}
	opts.IncludeQuarantined = c.QueryParam("include_quarantined") == "true"

	chunks, err := h.Overlay.Search(c.Request().Context(), tenantID(c), c.QueryParam("q"), opts)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"chunks": chunks,
		"count":  len(chunks),
	})
}

// Timeline returns effective chunks around a center chunk. The window
// query parameter takes a Go duration (default 1h).
func (h *Handlers) Timeline(c echo.Context) error {
	window := time.Hour
	if v := c.QueryParam("window"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "window", Message: "must be a positive duration"}))
		}
		window = parsed
	}

	chunks, err := h.Overlay.Timeline(c.Request().Context(), tenantID(c), c.Param("id"), window)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"chunks": chunks,
		"count":  len(chunks),
	})
}
