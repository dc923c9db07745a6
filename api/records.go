package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/ident"
	"mnemo.evalgo.org/memory"
)

// CreateDecisionRequest records an authoritative choice.
type CreateDecisionRequest struct {
	Decision    string        `json:"decision"`
	Rationale   []string      `json:"rationale"`
	Refs        []string      `json:"refs"`
	Scope       *memory.Scope `json:"scope"`
	SubjectType *string       `json:"subject_type"`
	SubjectID   *string       `json:"subject_id"`
	ProjectID   *string       `json:"project_id"`
}

// CreateDecision persists a decision with status active.
func (h *Handlers) CreateDecision(c echo.Context) error {
	var req CreateDecisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "invalid request body"})
	}
	if req.Decision == "" {
		return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "decision", Message: "required"}))
	}
	if req.Scope != nil && !req.Scope.Valid() {
		return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "scope", Message: "unknown scope"}))
	}

	d := &memory.Decision{
		DecisionID:  ident.New(ident.KindDecision),
		TenantID:    tenantID(c),
		TS:          time.Now().UTC(),
		Decision:    req.Decision,
		Rationale:   req.Rationale,
		Status:      memory.DecisionActive,
		Refs:        req.Refs,
		Scope:       req.Scope,
		SubjectType: req.SubjectType,
		SubjectID:   req.SubjectID,
		ProjectID:   req.ProjectID,
	}
	if err := h.Decisions.Insert(c.Request().Context(), d); err != nil {
		return writeError(c, err)
	}
	d.Precedence = memory.DecisionPrecedence(d.Scope)
	return c.JSON(http.StatusCreated, d)
}

// ListDecisions returns active decisions in precedence order.
func (h *Handlers) ListDecisions(c echo.Context) error {
	decisions, err := h.Decisions.ActiveDecisions(c.Request().Context(), tenantID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// UpdateStatusRequest carries a lifecycle transition.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateDecisionStatus transitions a decision to superseded or revoked.
func (h *Handlers) UpdateDecisionStatus(c echo.Context) error {
	var req UpdateStatusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "invalid request body"})
	}
	status := memory.DecisionStatus(req.Status)
	switch status {
	case memory.DecisionActive, memory.DecisionSuperseded, memory.DecisionRevoked:
	default:
		return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "status", Message: "must be active, superseded or revoked"}))
	}

	if err := h.Decisions.UpdateStatus(c.Request().Context(), tenantID(c), c.Param("id"), status); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": req.Status})
}

// CreateTaskRequest records a unit of work.
type CreateTaskRequest struct {
	Title     string  `json:"title"`
	Details   string  `json:"details"`
	ProjectID *string `json:"project_id"`
}

// CreateTask persists a task with status open.
func (h *Handlers) CreateTask(c echo.Context) error {
	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "invalid request body"})
	}
	if req.Title == "" {
		return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "title", Message: "required"}))
	}

	t := &memory.Task{
		TaskID:    ident.New(ident.KindTask),
		TenantID:  tenantID(c),
		Title:     req.Title,
		Details:   req.Details,
		Status:    memory.TaskOpen,
		ProjectID: req.ProjectID,
		TS:        time.Now().UTC(),
	}
	if err := h.Tasks.Insert(c.Request().Context(), t); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

// ListTasks returns open and doing tasks, optionally narrowed to one
// project via ?project_id.
func (h *Handlers) ListTasks(c echo.Context) error {
	var (
		tasks []*memory.Task
		err   error
	)
	if projectID := c.QueryParam("project_id"); projectID != "" {
		tasks, err = h.Tasks.ProjectTasks(c.Request().Context(), tenantID(c), projectID)
	} else {
		tasks, err = h.Tasks.OpenTasks(c.Request().Context(), tenantID(c))
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// UpdateTaskStatus transitions a task. open → doing → done; closed is
// reachable from anywhere.
func (h *Handlers) UpdateTaskStatus(c echo.Context) error {
	var req UpdateStatusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "invalid request body"})
	}
	status := memory.TaskStatus(req.Status)
	switch status {
	case memory.TaskOpen, memory.TaskDoing, memory.TaskDone, memory.TaskClosed:
	default:
		return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "status", Message: "must be open, doing, done or closed"}))
	}

	if err := h.Tasks.UpdateStatus(c.Request().Context(), tenantID(c), c.Param("id"), status); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": req.Status})
}

// CreateRuleRequest records a tenant-wide behavioral constraint.
type CreateRuleRequest struct {
	Content  string         `json:"content"`
	Scope    *memory.Scope  `json:"scope"`
	Channel  memory.Channel `json:"channel"`
	Priority int            `json:"priority"`
}

// CreateRule persists a rule. Channel defaults to the "all" wildcard.
func (h *Handlers) CreateRule(c echo.Context) error {
	var req CreateRuleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "validation_error", Message: "invalid request body"})
	}
	if req.Content == "" {
		return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "content", Message: "required"}))
	}
	if req.Channel == "" {
		req.Channel = memory.ChannelAll
	}
	if req.Channel != memory.ChannelAll && !req.Channel.Valid() {
		return writeError(c, apperr.NewValidation(apperr.FieldError{Field: "channel", Message: "unknown channel"}))
	}

	r := &memory.Rule{
		RuleID:   ident.New(ident.KindRule),
		TenantID: tenantID(c),
		Content:  req.Content,
		Scope:    req.Scope,
		Channel:  req.Channel,
		Priority: req.Priority,
		TokenEst: ident.EstimateTokens(req.Content),
		TS:       time.Now().UTC(),
	}
	if err := h.Rules.Insert(c.Request().Context(), r); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}
