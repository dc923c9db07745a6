package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo.evalgo.org/acb"
	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/capsule"
	"mnemo.evalgo.org/db/repository"
	"mnemo.evalgo.org/graph"
	"mnemo.evalgo.org/ingest"
	"mnemo.evalgo.org/memory"
	"mnemo.evalgo.org/overlay"
	"mnemo.evalgo.org/ratelimit"
	"mnemo.evalgo.org/security"
)

// In-memory repository fakes. Each backs the real engine it serves so the
// handler tests exercise the full request path below the router.

type fakeEvents struct {
	events map[string]*memory.Event
}

func (f *fakeEvents) RecordEvent(_ context.Context, event *memory.Event, _ *memory.Artifact, _ []memory.Chunk) error {
	f.events[event.EventID] = event
	return nil
}

func (f *fakeEvents) GetEvent(_ context.Context, tenantID, eventID string) (*memory.Event, error) {
	ev, ok := f.events[eventID]
	if !ok || ev.TenantID != tenantID {
		return nil, &apperr.NotFoundError{Resource: "event", ID: eventID}
	}
	return ev, nil
}

func (f *fakeEvents) RecentEvents(context.Context, string, string, []memory.Sensitivity, int) ([]*memory.Event, error) {
	return nil, nil
}

type fakeArtifacts struct {
	artifacts map[string]*memory.Artifact
}

func (f *fakeArtifacts) Get(_ context.Context, tenantID, artifactID string) (*memory.Artifact, error) {
	a, ok := f.artifacts[artifactID]
	if !ok || a.TenantID != tenantID {
		return nil, &apperr.NotFoundError{Resource: "artifact", ID: artifactID}
	}
	return a, nil
}

func (f *fakeArtifacts) PendingOffload(context.Context, int) ([]*memory.Artifact, error) {
	return nil, nil
}

func (f *fakeArtifacts) MarkOffloaded(context.Context, string, string, string) error {
	return nil
}

type fakeBlobs struct {
	blobs map[string][]byte
}

func (f *fakeBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	f.blobs[key] = data
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.blobs[key]
	if !ok {
		return nil, &apperr.NotFoundError{Resource: "blob", ID: key}
	}
	return data, nil
}

type fakeOverlayRepo struct{}

func (fakeOverlayRepo) GetEffectiveChunk(_ context.Context, _, chunkID string) (*memory.EffectiveChunk, error) {
	return nil, &apperr.NotFoundError{Resource: "chunk", ID: chunkID}
}

func (fakeOverlayRepo) SearchChunks(context.Context, string, string, repository.SearchOptions) ([]*memory.EffectiveChunk, error) {
	return nil, nil
}

func (fakeOverlayRepo) Timeline(context.Context, string, string, time.Duration) ([]*memory.TimelineChunk, error) {
	return nil, nil
}

type fakeEdits struct {
	edits map[string]*memory.MemoryEdit
}

func (f *fakeEdits) Insert(_ context.Context, e *memory.MemoryEdit) error {
	f.edits[e.EditID] = e
	return nil
}

func (f *fakeEdits) Get(_ context.Context, tenantID, editID string) (*memory.MemoryEdit, error) {
	e, ok := f.edits[editID]
	if !ok || e.TenantID != tenantID {
		return nil, &apperr.NotFoundError{Resource: "memory_edit", ID: editID}
	}
	return e, nil
}

func (f *fakeEdits) SetStatus(_ context.Context, tenantID, editID string, status memory.EditStatus) error {
	e, ok := f.edits[editID]
	if !ok || e.TenantID != tenantID {
		return &apperr.NotFoundError{Resource: "memory_edit", ID: editID}
	}
	if e.Status != memory.EditProposed {
		return &apperr.ConflictError{Attribute: "status", Message: "edit already resolved"}
	}
	e.Status = status
	return nil
}

func (f *fakeEdits) TargetExists(context.Context, string, memory.EditTargetType, string) (bool, error) {
	return true, nil
}

type fakeCapsules struct {
	capsules map[string]*memory.Capsule
}

func (f *fakeCapsules) Insert(_ context.Context, c *memory.Capsule) error {
	f.capsules[c.CapsuleID] = c
	return nil
}

func (f *fakeCapsules) Get(_ context.Context, tenantID, capsuleID string) (*memory.Capsule, error) {
	c, ok := f.capsules[capsuleID]
	if !ok || c.TenantID != tenantID {
		return nil, &apperr.NotFoundError{Resource: "capsule", ID: capsuleID}
	}
	return c, nil
}

func (f *fakeCapsules) Available(_ context.Context, tenantID, agentID string, _, _ *string, now time.Time) ([]*memory.Capsule, error) {
	var out []*memory.Capsule
	for _, c := range f.capsules {
		if c.TenantID == tenantID && c.Available(now) && c.InAudience(agentID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCapsules) Revoke(_ context.Context, tenantID, capsuleID string) (bool, error) {
	c, ok := f.capsules[capsuleID]
	if !ok || c.TenantID != tenantID {
		return false, &apperr.NotFoundError{Resource: "capsule", ID: capsuleID}
	}
	if c.Status != memory.CapsuleActive {
		return false, nil
	}
	c.Status = memory.CapsuleRevoked
	return true, nil
}

func (f *fakeCapsules) ExpireDue(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeCapsules) MissingItems(context.Context, string, memory.CapsuleItems) ([]string, error) {
	return nil, nil
}

type fakeEdges struct {
	edges map[string]*memory.Edge
}

func (f *fakeEdges) Insert(_ context.Context, e *memory.Edge) error {
	f.edges[e.EdgeID] = e
	return nil
}

func (f *fakeEdges) Get(_ context.Context, tenantID, edgeID string) (*memory.Edge, error) {
	e, ok := f.edges[edgeID]
	if !ok || e.TenantID != tenantID {
		return nil, &apperr.NotFoundError{Resource: "edge", ID: edgeID}
	}
	return e, nil
}

func (f *fakeEdges) ForNode(_ context.Context, tenantID, nodeID string, edgeType memory.EdgeType, direction repository.EdgeDirection) ([]*memory.Edge, error) {
	var out []*memory.Edge
	for _, e := range f.edges {
		if e.TenantID != tenantID {
			continue
		}
		if edgeType != "" && e.Type != edgeType {
			continue
		}
		switch direction {
		case repository.DirectionOutgoing:
			if e.FromNodeID == nodeID {
				out = append(out, e)
			}
		case repository.DirectionIncoming:
			if e.ToNodeID == nodeID {
				out = append(out, e)
			}
		default:
			if e.FromNodeID == nodeID || e.ToNodeID == nodeID {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (f *fakeEdges) UpdateProperties(_ context.Context, tenantID, edgeID string, properties map[string]string) error {
	e, ok := f.edges[edgeID]
	if !ok || e.TenantID != tenantID {
		return &apperr.NotFoundError{Resource: "edge", ID: edgeID}
	}
	if e.Properties == nil {
		e.Properties = map[string]string{}
	}
	for k, v := range properties {
		e.Properties[k] = v
	}
	return nil
}

func (f *fakeEdges) Delete(_ context.Context, tenantID, edgeID string) error {
	if _, ok := f.edges[edgeID]; !ok {
		return &apperr.NotFoundError{Resource: "edge", ID: edgeID}
	}
	delete(f.edges, edgeID)
	return nil
}

type fakeDecisions struct {
	decisions map[string]*memory.Decision
}

func (f *fakeDecisions) Insert(_ context.Context, d *memory.Decision) error {
	f.decisions[d.DecisionID] = d
	return nil
}

func (f *fakeDecisions) ActiveDecisions(_ context.Context, tenantID string) ([]*memory.Decision, error) {
	var out []*memory.Decision
	for _, d := range f.decisions {
		if d.TenantID == tenantID && d.Status == memory.DecisionActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDecisions) SearchActive(context.Context, string, string, int) ([]*memory.Decision, error) {
	return nil, nil
}

func (f *fakeDecisions) UpdateStatus(_ context.Context, tenantID, decisionID string, status memory.DecisionStatus) error {
	d, ok := f.decisions[decisionID]
	if !ok || d.TenantID != tenantID {
		return &apperr.NotFoundError{Resource: "decision", ID: decisionID}
	}
	d.Status = status
	return nil
}

type fakeTasks struct {
	tasks map[string]*memory.Task
}

func (f *fakeTasks) Insert(_ context.Context, t *memory.Task) error {
	f.tasks[t.TaskID] = t
	return nil
}

func (f *fakeTasks) OpenTasks(_ context.Context, tenantID string) ([]*memory.Task, error) {
	var out []*memory.Task
	for _, t := range f.tasks {
		if t.TenantID == tenantID && (t.Status == memory.TaskOpen || t.Status == memory.TaskDoing) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTasks) ProjectTasks(_ context.Context, tenantID, projectID string) ([]*memory.Task, error) {
	var out []*memory.Task
	for _, t := range f.tasks {
		if t.TenantID != tenantID || t.ProjectID == nil || *t.ProjectID != projectID {
			continue
		}
		if t.Status == memory.TaskOpen || t.Status == memory.TaskDoing {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTasks) UpdateStatus(_ context.Context, tenantID, taskID string, status memory.TaskStatus) error {
	t, ok := f.tasks[taskID]
	if !ok || t.TenantID != tenantID {
		return &apperr.NotFoundError{Resource: "task", ID: taskID}
	}
	t.Status = status
	return nil
}

type fakeRules struct {
	rules map[string]*memory.Rule
}

func (f *fakeRules) Insert(_ context.Context, r *memory.Rule) error {
	f.rules[r.RuleID] = r
	return nil
}

func (f *fakeRules) ForChannel(context.Context, string, memory.Channel) ([]*memory.Rule, error) {
	return nil, nil
}

type testServer struct {
	echo      *echo.Echo
	handlers  *Handlers
	events    *fakeEvents
	artifacts *fakeArtifacts
	blobs     *fakeBlobs
}

func newTestServer(t *testing.T, eventsPerMinute, acbPerMinute int) *testServer {
	t.Helper()

	events := &fakeEvents{events: map[string]*memory.Event{}}
	artifacts := &fakeArtifacts{artifacts: map[string]*memory.Artifact{}}
	blobs := &fakeBlobs{blobs: map[string][]byte{}}
	edits := &fakeEdits{edits: map[string]*memory.MemoryEdit{}}
	capsules := &fakeCapsules{capsules: map[string]*memory.Capsule{}}
	edges := &fakeEdges{edges: map[string]*memory.Edge{}}
	decisions := &fakeDecisions{decisions: map[string]*memory.Decision{}}
	tasks := &fakeTasks{tasks: map[string]*memory.Task{}}
	rules := &fakeRules{rules: map[string]*memory.Rule{}}
	ov := fakeOverlayRepo{}

	h := &Handlers{
		Ingest:    ingest.NewEngine(events),
		Overlay:   overlay.NewEngine(edits, ov),
		Capsules:  capsule.NewEngine(capsules),
		Graph:     graph.NewEngine(edges),
		ACB:       acb.NewOrchestrator(rules, tasks, events, capsules, ov, decisions, nil, nil),
		Events:    events,
		Artifacts: artifacts,
		Blobs:     blobs,
		Decisions: decisions,
		Tasks:     tasks,
		Rules:     rules,
		JWT:       security.NewJWTService("test-secret"),
		Limiter:   ratelimit.NewLimiter(repository.NewMemoryCounterRepository(), eventsPerMinute, acbPerMinute),
	}

	e := echo.New()
	SetupRoutes(e, h)
	return &testServer{echo: e, handlers: h, events: events, artifacts: artifacts, blobs: blobs}
}

func (ts *testServer) token(t *testing.T, subject, tenant, agent string) string {
	t.Helper()
	token, err := ts.handlers.JWT.GenerateToken(subject, tenant, agent, time.Hour)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 0, 0)

	rec := ts.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "mnemo", body["service"])
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, 0, 0)

	t.Run("no token", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/v1/events/evt_1", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/v1/events/evt_1", "not-a-token", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		foreign, err := security.NewJWTService("other-secret").GenerateToken("u", "t1", "", time.Hour)
		require.NoError(t, err)
		rec := ts.do(http.MethodGet, "/v1/events/evt_1", foreign, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestGenerateToken(t *testing.T) {
	ts := newTestServer(t, 0, 0)

	rec := ts.do(http.MethodPost, "/auth/token", "", `{"subject":"u1","tenant_id":"t1","agent_id":"agent-a"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["token"])

	t.Run("missing subject", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/auth/token", "", `{"tenant_id":"t1"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRecordEventTenantFromToken(t *testing.T) {
	ts := newTestServer(t, 0, 0)
	token := ts.token(t, "u1", "t1", "agent-a")

	rec := ts.do(http.MethodPost, "/v1/events", token, `{
		"session_id": "s1",
		"channel": "team",
		"actor": {"type": "human", "id": "u1"},
		"kind": "message",
		"sensitivity": "none",
		"content": {"text": "we shipped it"}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	eventID, _ := body["event_id"].(string)
	require.True(t, strings.HasPrefix(eventID, "evt_"))

	stored := ts.events.events[eventID]
	require.NotNil(t, stored)
	assert.Equal(t, "t1", stored.TenantID, "tenant comes from the token, never the body")
}

func TestRecordEventValidationError(t *testing.T) {
	ts := newTestServer(t, 0, 0)
	token := ts.token(t, "u1", "t1", "")

	rec := ts.do(http.MethodPost, "/v1/events", token, `{"channel":"bogus"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "validation_error", body["error"])
	assert.NotEmpty(t, body["fields"])
}

func TestRecordEventRateLimited(t *testing.T) {
	ts := newTestServer(t, 1, 0)
	token := ts.token(t, "u1", "t1", "")

	payload := `{
		"session_id": "s1",
		"channel": "team",
		"actor": {"type": "human", "id": "u1"},
		"kind": "message",
		"content": {"text": "hello"}
	}`
	rec := ts.do(http.MethodPost, "/v1/events", token, payload)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/events", token, payload)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeBody(t, rec)["error"])
}

func TestGetEventNotFound(t *testing.T) {
	ts := newTestServer(t, 0, 0)
	token := ts.token(t, "u1", "t1", "")

	rec := ts.do(http.MethodGet, "/v1/events/evt_ghost", token, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["error"])
}

func TestTenantIsolation(t *testing.T) {
	ts := newTestServer(t, 0, 0)
	tokenA := ts.token(t, "u1", "t1", "")
	tokenB := ts.token(t, "u2", "t2", "")

	rec := ts.do(http.MethodPost, "/v1/events", tokenA, `{
		"session_id": "s1",
		"channel": "team",
		"actor": {"type": "human", "id": "u1"},
		"kind": "message",
		"content": {"text": "tenant one data"}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	eventID := decodeBody(t, rec)["event_id"].(string)

	rec = ts.do(http.MethodGet, "/v1/events/"+eventID, tokenB, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "other tenants see nothing, not even existence")

	rec = ts.do(http.MethodGet, "/v1/events/"+eventID, tokenA, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEdgeCycleConflict(t *testing.T) {
	ts := newTestServer(t, 0, 0)
	token := ts.token(t, "u1", "t1", "")

	rec := ts.do(http.MethodPost, "/v1/edges", token, `{"from_node_id":"a","to_node_id":"b","type":"depends_on"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/edges", token, `{"from_node_id":"b","to_node_id":"a","type":"depends_on"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeBody(t, rec)["error"])
}

func TestListEdges(t *testing.T) {
	ts := newTestServer(t, 0, 0)
	token := ts.token(t, "u1", "t1", "")

	rec := ts.do(http.MethodPost, "/v1/edges", token, `{"from_node_id":"a","to_node_id":"b","type":"depends_on"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.do(http.MethodPost, "/v1/edges", token, `{"from_node_id":"a","to_node_id":"c","type":"references"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("all directions", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/v1/edges?node=a", token, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(2), decodeBody(t, rec)["count"])
	})

	t.Run("type filter", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/v1/edges?node=a&type=references", token, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
	})

	t.Run("missing node", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/v1/edges", token, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTraverseValidation(t *testing.T) {
	ts := newTestServer(t, 0, 0)
	token := ts.token(t, "u1", "t1", "")

	t.Run("missing node", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/v1/graph/traverse", token, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad direction", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/v1/graph/traverse?node=a&direction=sideways", token, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCapsuleAudience(t *testing.T) {
	ts := newTestServer(t, 0, 0)
	author := ts.token(t, "u1", "t1", "agent-author")
	outsider := ts.token(t, "u2", "t1", "agent-z")

	rec := ts.do(http.MethodPost, "/v1/capsules", author, `{
		"scope": "project",
		"audience_agent_ids": ["agent-a"],
		"items": {"chunks": ["chk_1"]},
		"ttl_days": 7
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	capsuleID := decodeBody(t, rec)["capsule_id"].(string)

	rec = ts.do(http.MethodGet, "/v1/capsules/"+capsuleID, author, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/capsules/"+capsuleID, outsider, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "out-of-audience reads 404, not 403")
}

func TestProposeAndApproveEdit(t *testing.T) {
	ts := newTestServer(t, 0, 0)
	token := ts.token(t, "u1", "t1", "agent-a")

	rec := ts.do(http.MethodPost, "/v1/edits", token, `{
		"target_type": "chunk",
		"target_id": "chk_1",
		"op": "amend",
		"patch": {"text": "fixed wording"},
		"reason": "typo"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	editID := decodeBody(t, rec)["edit_id"].(string)

	rec = ts.do(http.MethodPost, "/v1/edits/"+editID+"/approve", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", decodeBody(t, rec)["status"])

	// Re-resolving a settled edit conflicts.
	rec = ts.do(http.MethodPost, "/v1/edits/"+editID+"/reject", token, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBuildACB(t *testing.T) {
	ts := newTestServer(t, 0, 0)
	token := ts.token(t, "u1", "t1", "agent-a")

	rec := ts.do(http.MethodPost, "/v1/acb", token, `{
		"session": "s1",
		"channel": "private",
		"intent": "task",
		"query_text": "migration status"
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	sections := body["sections"].([]interface{})
	assert.Len(t, sections, 6)
	assert.Equal(t, "TASK", body["mode"])
	assert.NotEmpty(t, body["acb_id"])
}

func TestGetArtifact(t *testing.T) {
	ts := newTestServer(t, 0, 0)
	token := ts.token(t, "u1", "t1", "")

	t.Run("inline bytes", func(t *testing.T) {
		ts.artifacts.artifacts["art_1"] = &memory.Artifact{
			ArtifactID: "art_1", TenantID: "t1", Bytes: []byte("inline payload"),
		}
		rec := ts.do(http.MethodGet, "/v1/artifacts/art_1", token, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "inline payload", rec.Body.String())
	})

	t.Run("fetched through from blob storage", func(t *testing.T) {
		key := "t1/art_2"
		ts.blobs.blobs[key] = []byte("offloaded payload")
		ts.artifacts.artifacts["art_2"] = &memory.Artifact{
			ArtifactID: "art_2", TenantID: "t1", StorageKey: &key,
		}
		rec := ts.do(http.MethodGet, "/v1/artifacts/art_2", token, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "offloaded payload", rec.Body.String())
	})

	t.Run("missing", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/v1/artifacts/art_ghost", token, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSearchChunksValidation(t *testing.T) {
	ts := newTestServer(t, 0, 0)
	token := ts.token(t, "u1", "t1", "")

	rec := ts.do(http.MethodGet, "/v1/search?q=x&channel=broadcast", token, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/search?q=anything", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["count"])
}

func TestCreateDecisionAndListIt(t *testing.T) {
	ts := newTestServer(t, 0, 0)
	token := ts.token(t, "u1", "t1", "agent-a")

	rec := ts.do(http.MethodPost, "/v1/decisions", token, `{
		"decision": "use postgres",
		"scope": "project",
		"rationale": ["team knows it"]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decisionID := decodeBody(t, rec)["decision_id"].(string)
	require.True(t, strings.HasPrefix(decisionID, "dec_"))

	rec = ts.do(http.MethodGet, "/v1/decisions", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = ts.do(http.MethodPatch, "/v1/decisions/"+decisionID+"/status", token, `{"status":"superseded"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/decisions", token, "")
	assert.Equal(t, float64(0), decodeBody(t, rec)["count"])
}

func TestTaskLifecycle(t *testing.T) {
	ts := newTestServer(t, 0, 0)
	token := ts.token(t, "u1", "t1", "agent-a")

	rec := ts.do(http.MethodPost, "/v1/tasks", token, `{"title":"migrate billing","project_id":"proj-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	taskID := decodeBody(t, rec)["task_id"].(string)
	require.True(t, strings.HasPrefix(taskID, "tsk_"))

	rec = ts.do(http.MethodPost, "/v1/tasks", token, `{"title":"rotate keys"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("list all open", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/v1/tasks", token, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(2), decodeBody(t, rec)["count"])
	})

	t.Run("list by project", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/v1/tasks?project_id=proj-1", token, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
	})

	t.Run("done drops out of the list", func(t *testing.T) {
		rec := ts.do(http.MethodPatch, "/v1/tasks/"+taskID+"/status", token, `{"status":"done"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = ts.do(http.MethodGet, "/v1/tasks?project_id=proj-1", token, "")
		assert.Equal(t, float64(0), decodeBody(t, rec)["count"])
	})
}
