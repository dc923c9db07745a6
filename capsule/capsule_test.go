package capsule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo.evalgo.org/apperr"
	"mnemo.evalgo.org/memory"
)

type mockCapsuleRepo struct {
	capsules map[string]*memory.Capsule
	missing  []string
	expired  int64
}

func newMockCapsuleRepo() *mockCapsuleRepo {
	return &mockCapsuleRepo{capsules: map[string]*memory.Capsule{}}
}

func (m *mockCapsuleRepo) Insert(_ context.Context, c *memory.Capsule) error {
	m.capsules[c.CapsuleID] = c
	return nil
}

func (m *mockCapsuleRepo) Get(_ context.Context, tenantID, capsuleID string) (*memory.Capsule, error) {
	c, ok := m.capsules[capsuleID]
	if !ok || c.TenantID != tenantID {
		return nil, &apperr.NotFoundError{Resource: "capsule", ID: capsuleID}
	}
	return c, nil
}

func (m *mockCapsuleRepo) Available(_ context.Context, tenantID, agentID string, _, _ *string, now time.Time) ([]*memory.Capsule, error) {
	var out []*memory.Capsule
	for _, c := range m.capsules {
		if c.TenantID == tenantID && c.Available(now) && c.InAudience(agentID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockCapsuleRepo) Revoke(_ context.Context, tenantID, capsuleID string) (bool, error) {
	c, ok := m.capsules[capsuleID]
	if !ok || c.TenantID != tenantID {
		return false, &apperr.NotFoundError{Resource: "capsule", ID: capsuleID}
	}
	if c.Status != memory.CapsuleActive {
		return false, nil
	}
	c.Status = memory.CapsuleRevoked
	return true, nil
}

func (m *mockCapsuleRepo) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, c := range m.capsules {
		if c.Status == memory.CapsuleActive && c.ExpiresAt.Before(now) {
			c.Status = memory.CapsuleExpired
			n++
		}
	}
	m.expired += n
	return n, nil
}

func (m *mockCapsuleRepo) MissingItems(context.Context, string, memory.CapsuleItems) ([]string, error) {
	return m.missing, nil
}

func fixedEngine(repo *mockCapsuleRepo, now time.Time) *Engine {
	e := NewEngine(repo)
	e.now = func() time.Time { return now }
	return e
}

func validInput() CreateInput {
	return CreateInput{
		TenantID:      "t1",
		Scope:         memory.ScopeProject,
		AuthorAgentID: "agent-author",
		Audience:      []string{"agent-a"},
		Items:         memory.CapsuleItems{Chunks: []string{"chk_1"}},
		Risks:         []string{"stale after refactor"},
		TTLDays:       7,
	}
}

func TestCreate(t *testing.T) {
	repo := newMockCapsuleRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := fixedEngine(repo, now)

	c, err := engine.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, memory.CapsuleActive, c.Status)
	assert.Equal(t, now, c.CreatedAt)
	assert.Equal(t, now.Add(7*24*time.Hour), c.ExpiresAt)
	assert.Contains(t, repo.capsules, c.CapsuleID)
}

func TestCreateValidation(t *testing.T) {
	engine := NewEngine(newMockCapsuleRepo())

	tests := []struct {
		name   string
		mutate func(*CreateInput)
		field  string
	}{
		{"missing tenant", func(in *CreateInput) { in.TenantID = "" }, "tenant_id"},
		{"missing author", func(in *CreateInput) { in.AuthorAgentID = "" }, "author_agent_id"},
		{"bad scope", func(in *CreateInput) { in.Scope = "org" }, "scope"},
		{"zero ttl", func(in *CreateInput) { in.TTLDays = 0 }, "ttl_days"},
		{"no items", func(in *CreateInput) { in.Items = memory.CapsuleItems{} }, "items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := engine.Create(context.Background(), in)

			var verr *apperr.ValidationError
			require.ErrorAs(t, err, &verr)
			found := false
			for _, f := range verr.Fields {
				if f.Field == tt.field {
					found = true
				}
			}
			assert.True(t, found, "expected error on %s", tt.field)
		})
	}
}

func TestCreateUnknownItems(t *testing.T) {
	repo := newMockCapsuleRepo()
	repo.missing = []string{"chk_ghost"}
	engine := NewEngine(repo)

	_, err := engine.Create(context.Background(), validInput())
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "chk_ghost")
}

func TestGetAudienceEnforcement(t *testing.T) {
	repo := newMockCapsuleRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := fixedEngine(repo, now)

	created, err := engine.Create(context.Background(), validInput())
	require.NoError(t, err)

	t.Run("author reads", func(t *testing.T) {
		got, err := engine.Get(context.Background(), "t1", created.CapsuleID, "agent-author")
		require.NoError(t, err)
		assert.Equal(t, created.CapsuleID, got.CapsuleID)
	})

	t.Run("audience member reads", func(t *testing.T) {
		_, err := engine.Get(context.Background(), "t1", created.CapsuleID, "agent-a")
		assert.NoError(t, err)
	})

	t.Run("outsider gets not found", func(t *testing.T) {
		_, err := engine.Get(context.Background(), "t1", created.CapsuleID, "agent-z")
		assert.True(t, apperr.IsNotFound(err), "out-of-audience must be indistinguishable from missing")
	})

	t.Run("missing capsule gets the same not found", func(t *testing.T) {
		_, err := engine.Get(context.Background(), "t1", "cap_ghost", "agent-author")
		assert.True(t, apperr.IsNotFound(err))
	})
}

func TestGetExpiredBeforeSweep(t *testing.T) {
	repo := newMockCapsuleRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := fixedEngine(repo, now)

	created, err := engine.Create(context.Background(), validInput())
	require.NoError(t, err)

	// Move past expiry without running the sweeper; stored status still
	// says active but reads must refuse.
	engine.now = func() time.Time { return now.Add(8 * 24 * time.Hour) }
	_, err = engine.Get(context.Background(), "t1", created.CapsuleID, "agent-author")
	assert.True(t, apperr.IsNotFound(err))
}

func TestGetRevoked(t *testing.T) {
	repo := newMockCapsuleRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := fixedEngine(repo, now)

	created, err := engine.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.NoError(t, engine.Revoke(context.Background(), "t1", created.CapsuleID))

	_, err = engine.Get(context.Background(), "t1", created.CapsuleID, "agent-author")
	assert.True(t, apperr.IsNotFound(err))
}

func TestRevokeIdempotent(t *testing.T) {
	repo := newMockCapsuleRepo()
	engine := fixedEngine(repo, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	created, err := engine.Create(context.Background(), validInput())
	require.NoError(t, err)

	require.NoError(t, engine.Revoke(context.Background(), "t1", created.CapsuleID))
	assert.NoError(t, engine.Revoke(context.Background(), "t1", created.CapsuleID), "second revoke succeeds without change")
}

func TestList(t *testing.T) {
	repo := newMockCapsuleRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := fixedEngine(repo, now)

	created, err := engine.Create(context.Background(), validInput())
	require.NoError(t, err)

	visible, err := engine.List(context.Background(), "t1", "agent-a", nil, nil)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, created.CapsuleID, visible[0].CapsuleID)

	hidden, err := engine.List(context.Background(), "t1", "agent-z", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, hidden)
}

func TestSweep(t *testing.T) {
	repo := newMockCapsuleRepo()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := fixedEngine(repo, now)

	_, err := engine.Create(context.Background(), validInput())
	require.NoError(t, err)

	engine.now = func() time.Time { return now.Add(10 * 24 * time.Hour) }
	n, err := engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Running again finds nothing left to expire.
	n, err = engine.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
