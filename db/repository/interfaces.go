// Package repository provides the storage interfaces of the mnemo memory
// service and their PostgreSQL implementations.
//
// Architecture:
//
//	The repository pattern keeps the engines (ingestion, overlay reads,
//	capsules, graph, context assembly) decoupled from SQL. Each interface
//	serves one concern:
//
//	- EventRepository:    append-only events with atomic chunk/artifact writes
//	- OverlayRepository:  effective views (edit overlay folded at read time)
//	- DecisionRepository: authoritative choices with precedence ordering
//	- TaskRepository:     open units of work
//	- RuleRepository:     tenant-wide behavioral constraints
//	- EditRepository:     non-destructive memory surgery records
//	- CapsuleRepository:  audience-scoped, TTL-bounded memory bundles
//	- EdgeRepository:     typed directed relations between memory nodes
//	- CounterRepository:  fixed-window counters for rate limiting
//
// Tenancy:
//
//	Every method takes the tenant explicitly and every statement filters
//	by it. Nothing in this package crosses tenants.
//
// Consistency:
//
//	Writes within one call are transactional. Reads observe committed
//	state; no snapshot isolation is promised across separate calls.
package repository

import (
	"context"
	"time"

	"mnemo.evalgo.org/memory"
)

// SearchOptions parameterizes OverlayRepository.SearchChunks. Nil filters
// are not applied; a missing label and an explicit null behave the same.
type SearchOptions struct {
	Scope              *memory.Scope
	SubjectType        *string
	SubjectID          *string
	ProjectID          *string
	Channel            *memory.Channel
	IncludeQuarantined bool
	Limit              int
}

// EventRepository manages append-only event storage.
type EventRepository interface {
	// RecordEvent persists the event, its optional artifact and all its
	// chunks in a single transaction. Either everything becomes visible
	// at commit or nothing does.
	RecordEvent(ctx context.Context, event *memory.Event, artifact *memory.Artifact, chunks []memory.Chunk) error

	// GetEvent returns one event after tenant filtering.
	GetEvent(ctx context.Context, tenantID, eventID string) (*memory.Event, error)

	// RecentEvents returns up to limit events of (tenant, session) whose
	// sensitivity is in allowed, newest first.
	RecentEvents(ctx context.Context, tenantID, sessionID string, allowed []memory.Sensitivity, limit int) ([]*memory.Event, error)
}

// OverlayRepository exposes the effective views: chunks as they appear
// after all approved edits fold in. Retracted chunks never surface from
// any of its methods.
type OverlayRepository interface {
	// GetEffectiveChunk returns one effective chunk, or not-found when
	// the chunk is absent or retracted.
	GetEffectiveChunk(ctx context.Context, tenantID, chunkID string) (*memory.EffectiveChunk, error)

	// SearchChunks runs the tenant-scoped full-text search over effective
	// text. When opts.Channel is set, results are restricted to the
	// channel's admissible sensitivities and rows blocking that channel
	// are excluded. Quarantined rows are excluded unless opted in.
	// Ordering is effective_importance DESC, ts DESC, chunk_id ASC.
	SearchChunks(ctx context.Context, tenantID, queryText string, opts SearchOptions) ([]*memory.EffectiveChunk, error)

	// Timeline returns effective chunks within the window around the
	// center chunk's timestamp, ordered by absolute distance then ts.
	Timeline(ctx context.Context, tenantID, centerChunkID string, window time.Duration) ([]*memory.TimelineChunk, error)
}

// DecisionRepository manages recorded authoritative choices.
type DecisionRepository interface {
	// Insert persists a decision.
	Insert(ctx context.Context, d *memory.Decision) error

	// ActiveDecisions returns status=active decisions with computed
	// precedence, ordered precedence DESC then ts DESC.
	ActiveDecisions(ctx context.Context, tenantID string) ([]*memory.Decision, error)

	// SearchActive returns active decisions matching the tsquery,
	// ordered ts DESC.
	SearchActive(ctx context.Context, tenantID, queryText string, limit int) ([]*memory.Decision, error)

	// UpdateStatus transitions a decision's lifecycle state.
	UpdateStatus(ctx context.Context, tenantID, decisionID string, status memory.DecisionStatus) error
}

// TaskRepository manages open units of work.
type TaskRepository interface {
	// Insert persists a task.
	Insert(ctx context.Context, t *memory.Task) error

	// OpenTasks returns tasks with status open or doing, newest first.
	OpenTasks(ctx context.Context, tenantID string) ([]*memory.Task, error)

	// ProjectTasks returns open and doing tasks for one project,
	// newest first.
	ProjectTasks(ctx context.Context, tenantID, projectID string) ([]*memory.Task, error)

	// UpdateStatus transitions a task's lifecycle state.
	UpdateStatus(ctx context.Context, tenantID, taskID string, status memory.TaskStatus) error
}

// RuleRepository manages tenant-wide behavioral constraints.
type RuleRepository interface {
	// Insert persists a rule.
	Insert(ctx context.Context, r *memory.Rule) error

	// ForChannel returns rules whose channel equals the given channel or
	// the "all" wildcard, ordered by priority DESC.
	ForChannel(ctx context.Context, tenantID string, channel memory.Channel) ([]*memory.Rule, error)
}

// EditRepository manages memory-surgery records. Only approved edits
// affect effective views; status transitions happen here and the overlay
// picks them up on the next read.
type EditRepository interface {
	// Insert persists a proposed (or pre-approved) edit.
	Insert(ctx context.Context, e *memory.MemoryEdit) error

	// Get returns one edit after tenant filtering.
	Get(ctx context.Context, tenantID, editID string) (*memory.MemoryEdit, error)

	// SetStatus transitions proposed → approved|rejected and stamps
	// applied_at on approval. Transitioning a non-proposed edit is a
	// conflict.
	SetStatus(ctx context.Context, tenantID, editID string, status memory.EditStatus) error

	// TargetExists reports whether the edit target is present for the
	// tenant.
	TargetExists(ctx context.Context, tenantID string, targetType memory.EditTargetType, targetID string) (bool, error)
}

// CapsuleRepository manages capsule storage. Availability (status,
// expiry, audience) is enforced here so no caller can forget a clause.
type CapsuleRepository interface {
	// Insert persists a capsule.
	Insert(ctx context.Context, c *memory.Capsule) error

	// Get returns one capsule after tenant filtering, regardless of
	// status; the engine applies availability rules.
	Get(ctx context.Context, tenantID, capsuleID string) (*memory.Capsule, error)

	// Available returns capsules that are active, unexpired at now, and
	// include agentID in their audience, with optional subject filters.
	Available(ctx context.Context, tenantID, agentID string, subjectType, subjectID *string, now time.Time) ([]*memory.Capsule, error)

	// Revoke sets status=revoked and reports whether a transition
	// happened. Already-terminal capsules return false with no error.
	Revoke(ctx context.Context, tenantID, capsuleID string) (bool, error)

	// ExpireDue transitions active capsules with expires_at < now to
	// expired and returns the number transitioned. Idempotent.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)

	// MissingItems returns the referenced chunk/decision/artifact ids
	// that do not exist for the tenant.
	MissingItems(ctx context.Context, tenantID string, items memory.CapsuleItems) ([]string, error)
}

// ArtifactRepository manages offloaded payloads. Bytes live inline until
// the offload worker moves them to blob storage.
type ArtifactRepository interface {
	// Get returns one artifact with whatever bytes are still inline.
	Get(ctx context.Context, tenantID, artifactID string) (*memory.Artifact, error)

	// PendingOffload returns artifacts whose bytes have not yet moved to
	// blob storage, oldest first.
	PendingOffload(ctx context.Context, limit int) ([]*memory.Artifact, error)

	// MarkOffloaded records the blob storage key and drops the inline
	// bytes.
	MarkOffloaded(ctx context.Context, tenantID, artifactID, storageKey string) error
}

// EdgeDirection selects which endpoint of an edge a node query matches.
type EdgeDirection string

const (
	DirectionOutgoing EdgeDirection = "outgoing"
	DirectionIncoming EdgeDirection = "incoming"
	DirectionBoth     EdgeDirection = "both"
)

// EdgeRepository manages typed directed edges between memory nodes.
type EdgeRepository interface {
	// Insert persists an edge. Duplicate (from, to, type) is a conflict.
	Insert(ctx context.Context, e *memory.Edge) error

	// Get returns one edge after tenant filtering.
	Get(ctx context.Context, tenantID, edgeID string) (*memory.Edge, error)

	// ForNode returns edges touching the node in the given direction,
	// optionally restricted to one type (empty type matches all).
	ForNode(ctx context.Context, tenantID, nodeID string, edgeType memory.EdgeType, direction EdgeDirection) ([]*memory.Edge, error)

	// UpdateProperties merges the given properties into an edge.
	UpdateProperties(ctx context.Context, tenantID, edgeID string, properties map[string]string) error

	// Delete removes an edge. Deleting an absent edge is not-found.
	Delete(ctx context.Context, tenantID, edgeID string) error
}

// CounterRepository provides fixed-window counters for per-key rate
// limiting. Implementations: redis INCR+EXPIRE, or an in-process cache
// when redis is not configured.
type CounterRepository interface {
	// Incr increments the counter for key within the current window and
	// returns the new count plus the time remaining until the window
	// resets.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}
