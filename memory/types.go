// Package memory defines the domain model of the mnemo service: events,
// chunks, artifacts, decisions, tasks, rules, memory edits, capsules and
// graph edges, together with the enumerations that scope them.
//
// Every entity carries a tenant identifier and all read/write paths filter
// by it; there are no cross-tenant references.
package memory

import (
	"time"
)

// Channel controls which sensitivities are admissible on a read path.
type Channel string

const (
	ChannelPrivate Channel = "private"
	ChannelPublic  Channel = "public"
	ChannelTeam    Channel = "team"
	ChannelAgent   Channel = "agent"

	// ChannelAll is the rule wildcard matching every channel.
	ChannelAll Channel = "all"
)

// Valid reports whether c is one of the four event channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPrivate, ChannelPublic, ChannelTeam, ChannelAgent:
		return true
	}
	return false
}

// Sensitivity classifies how widely content may be shared.
type Sensitivity string

const (
	SensitivityNone   Sensitivity = "none"
	SensitivityLow    Sensitivity = "low"
	SensitivityHigh   Sensitivity = "high"
	SensitivitySecret Sensitivity = "secret"
)

// Valid reports whether s is a known sensitivity.
func (s Sensitivity) Valid() bool {
	switch s {
	case SensitivityNone, SensitivityLow, SensitivityHigh, SensitivitySecret:
		return true
	}
	return false
}

// EventKind discriminates the content payload of an event.
type EventKind string

const (
	KindMessage    EventKind = "message"
	KindToolCall   EventKind = "tool_call"
	KindToolResult EventKind = "tool_result"
	KindDecision   EventKind = "decision"
	KindTaskUpdate EventKind = "task_update"
	KindArtifact   EventKind = "artifact"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case KindMessage, KindToolCall, KindToolResult, KindDecision, KindTaskUpdate, KindArtifact:
		return true
	}
	return false
}

// ActorType identifies who produced an event.
type ActorType string

const (
	ActorHuman ActorType = "human"
	ActorAgent ActorType = "agent"
	ActorTool  ActorType = "tool"
)

// Valid reports whether a is a known actor type.
func (a ActorType) Valid() bool {
	switch a {
	case ActorHuman, ActorAgent, ActorTool:
		return true
	}
	return false
}

// Actor is the producer of an event.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
}

// Scope labels the reach of an entity. Scopes are orthogonal to channels:
// a scope says what the entity is about, a channel says who may see it.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeUser    Scope = "user"
	ScopeProject Scope = "project"
	ScopePolicy  Scope = "policy"
	ScopeGlobal  Scope = "global"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeSession, ScopeUser, ScopeProject, ScopePolicy, ScopeGlobal:
		return true
	}
	return false
}

// Event is the immutable record of something that happened. Events are
// append-only; nothing mutates them after commit.
type Event struct {
	EventID     string      `json:"event_id"`
	TenantID    string      `json:"tenant_id"`
	SessionID   string      `json:"session_id"`
	Channel     Channel     `json:"channel"`
	Actor       Actor       `json:"actor"`
	Kind        EventKind   `json:"kind"`
	Sensitivity Sensitivity `json:"sensitivity"`
	Tags        []string    `json:"tags,omitempty"`
	Content     Content     `json:"content"`
	Refs        []string    `json:"refs,omitempty"`
	Scope       *Scope      `json:"scope,omitempty"`
	SubjectType *string     `json:"subject_type,omitempty"`
	SubjectID   *string     `json:"subject_id,omitempty"`
	ProjectID   *string     `json:"project_id,omitempty"`
	TS          time.Time   `json:"ts"`
}

// Chunk is searchable text extracted from exactly one event. Stored
// chunks are never mutated; the edit overlay layers on top at read time.
type Chunk struct {
	ChunkID     string      `json:"chunk_id"`
	TenantID    string      `json:"tenant_id"`
	EventID     string      `json:"event_id"`
	TS          time.Time   `json:"ts"`
	Kind        EventKind   `json:"kind"`
	Channel     Channel     `json:"channel"`
	Sensitivity Sensitivity `json:"sensitivity"`
	Tags        []string    `json:"tags,omitempty"`
	TokenEst    int         `json:"token_est"`
	Importance  float64     `json:"importance"`
	Text        string      `json:"text"`
	Scope       *Scope      `json:"scope,omitempty"`
	SubjectType *string     `json:"subject_type,omitempty"`
	SubjectID   *string     `json:"subject_id,omitempty"`
	ProjectID   *string     `json:"project_id,omitempty"`
}

// Artifact is an oversize payload offloaded from an event. The event
// content keeps a truncated excerpt plus the artifact id. Bytes are held
// inline until the offload worker moves them to blob storage, after which
// StorageKey points at the blob and Bytes is cleared.
type Artifact struct {
	ArtifactID string            `json:"artifact_id"`
	TenantID   string            `json:"tenant_id"`
	Kind       string            `json:"kind"`
	Bytes      []byte            `json:"-"`
	Size       int64             `json:"size"`
	StorageKey *string           `json:"-"`
	Meta       map[string]string `json:"meta,omitempty"`
	Refs       []string          `json:"refs,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// DecisionStatus is the lifecycle state of a decision.
type DecisionStatus string

const (
	DecisionActive     DecisionStatus = "active"
	DecisionSuperseded DecisionStatus = "superseded"
	DecisionRevoked    DecisionStatus = "revoked"
)

// Decision is a recorded authoritative choice.
type Decision struct {
	DecisionID  string         `json:"decision_id"`
	TenantID    string         `json:"tenant_id"`
	TS          time.Time      `json:"ts"`
	Decision    string         `json:"decision"`
	Rationale   []string       `json:"rationale,omitempty"`
	Status      DecisionStatus `json:"status"`
	Refs        []string       `json:"refs,omitempty"`
	Scope       *Scope         `json:"scope,omitempty"`
	SubjectType *string        `json:"subject_type,omitempty"`
	SubjectID   *string        `json:"subject_id,omitempty"`
	ProjectID   *string        `json:"project_id,omitempty"`

	// Precedence is computed at read time from scope:
	// policy=4 > project=3 > user=2 > session=1.
	Precedence int `json:"precedence,omitempty"`
}

// DecisionPrecedence maps a decision scope to its retrieval precedence.
// Unscoped and global decisions rank lowest.
func DecisionPrecedence(scope *Scope) int {
	if scope == nil {
		return 0
	}
	switch *scope {
	case ScopePolicy:
		return 4
	case ScopeProject:
		return 3
	case ScopeUser:
		return 2
	case ScopeSession:
		return 1
	}
	return 0
}

// TaskStatus is the lifecycle state of a task. open -> doing -> done;
// any state may transition to closed.
type TaskStatus string

const (
	TaskOpen   TaskStatus = "open"
	TaskDoing  TaskStatus = "doing"
	TaskDone   TaskStatus = "done"
	TaskClosed TaskStatus = "closed"
)

// Task is an open unit of work.
type Task struct {
	TaskID    string     `json:"task_id"`
	TenantID  string     `json:"tenant_id"`
	Title     string     `json:"title"`
	Details   string     `json:"details,omitempty"`
	Status    TaskStatus `json:"status"`
	ProjectID *string    `json:"project_id,omitempty"`
	TS        time.Time  `json:"ts"`
}

// Rule is a tenant-wide behavioral constraint surfaced at the top of every
// assembled context. Channel may be a specific channel or the "all"
// wildcard; higher priority wins.
type Rule struct {
	RuleID   string    `json:"rule_id"`
	TenantID string    `json:"tenant_id"`
	Content  string    `json:"content"`
	Scope    *Scope    `json:"scope,omitempty"`
	Channel  Channel   `json:"channel"`
	Priority int       `json:"priority"`
	TokenEst int       `json:"token_est"`
	TS       time.Time `json:"ts"`
}

// EditOp is a memory-surgery operation applied at read time.
type EditOp string

const (
	EditRetract    EditOp = "retract"
	EditAmend      EditOp = "amend"
	EditQuarantine EditOp = "quarantine"
	EditAttenuate  EditOp = "attenuate"
	EditBlock      EditOp = "block"
)

// Valid reports whether op is a known edit operation.
func (op EditOp) Valid() bool {
	switch op {
	case EditRetract, EditAmend, EditQuarantine, EditAttenuate, EditBlock:
		return true
	}
	return false
}

// EditTargetType discriminates what a memory edit targets.
type EditTargetType string

const (
	EditTargetChunk    EditTargetType = "chunk"
	EditTargetDecision EditTargetType = "decision"
)

// Valid reports whether t is a known edit target type.
func (t EditTargetType) Valid() bool {
	return t == EditTargetChunk || t == EditTargetDecision
}

// EditStatus is the lifecycle state of a memory edit. Only approved
// edits affect effective views.
type EditStatus string

const (
	EditProposed EditStatus = "proposed"
	EditApproved EditStatus = "approved"
	EditRejected EditStatus = "rejected"
)

// EditPatch is the op-specific payload of a memory edit. Amend may supply
// replacement text and/or importance; attenuate supplies a delta to
// subtract or an absolute override; block supplies a channel.
type EditPatch struct {
	Text            *string  `json:"text,omitempty"`
	Importance      *float64 `json:"importance,omitempty"`
	ImportanceDelta *float64 `json:"importance_delta,omitempty"`
	Channel         *Channel `json:"channel,omitempty"`
}

// MemoryEdit is a non-destructive alteration of one chunk or decision.
// Originals are never mutated; approved edits fold into effective views.
type MemoryEdit struct {
	EditID     string         `json:"edit_id"`
	TenantID   string         `json:"tenant_id"`
	TargetType EditTargetType `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Op         EditOp         `json:"op"`
	Patch      EditPatch      `json:"patch"`
	Reason     string         `json:"reason,omitempty"`
	ProposedBy string         `json:"proposed_by,omitempty"`
	Status     EditStatus     `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	AppliedAt  *time.Time     `json:"applied_at,omitempty"`
}

// EffectiveChunk is a chunk as it appears after the edit overlay folds
// all approved edits targeting it. Retracted chunks never materialize as
// effective chunks.
type EffectiveChunk struct {
	Chunk

	EffectiveText       string    `json:"effective_text"`
	EffectiveImportance float64   `json:"effective_importance"`
	IsQuarantined       bool      `json:"is_quarantined"`
	BlockedChannels     []Channel `json:"blocked_channels,omitempty"`
	EditsApplied        int       `json:"edits_applied"`
}

// TimelineChunk is an effective chunk positioned relative to a center
// chunk, with the signed distance in seconds.
type TimelineChunk struct {
	EffectiveChunk

	DistanceSeconds int64 `json:"distance_seconds"`
}

// CapsuleStatus is the lifecycle state of a capsule. Both revoked and
// expired are terminal.
type CapsuleStatus string

const (
	CapsuleActive  CapsuleStatus = "active"
	CapsuleRevoked CapsuleStatus = "revoked"
	CapsuleExpired CapsuleStatus = "expired"
)

// CapsuleItems references chunks, decisions and artifacts without owning
// them; revoking a capsule never removes the referenced items.
type CapsuleItems struct {
	Chunks    []string `json:"chunks,omitempty"`
	Decisions []string `json:"decisions,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// Count returns the total number of referenced items.
func (ci CapsuleItems) Count() int {
	return len(ci.Chunks) + len(ci.Decisions) + len(ci.Artifacts)
}

// Capsule is a curated, audience-scoped, time-bounded bundle of memory
// references. ExpiresAt is always CreatedAt + TTLDays.
type Capsule struct {
	CapsuleID        string        `json:"capsule_id"`
	TenantID         string        `json:"tenant_id"`
	Scope            Scope         `json:"scope"`
	SubjectType      *string       `json:"subject_type,omitempty"`
	SubjectID        *string       `json:"subject_id,omitempty"`
	AuthorAgentID    string        `json:"author_agent_id"`
	AudienceAgentIDs []string      `json:"audience_agent_ids"`
	Items            CapsuleItems  `json:"items"`
	Risks            []string      `json:"risks,omitempty"`
	TTLDays          int           `json:"ttl_days"`
	Status           CapsuleStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	ExpiresAt        time.Time     `json:"expires_at"`
}

// Available reports whether the capsule is readable at the given instant.
// Reads must not rely on the expiry sweeper: a capsule past its expiry is
// unavailable even while its stored status still says active.
func (c *Capsule) Available(now time.Time) bool {
	return c.Status == CapsuleActive && c.ExpiresAt.After(now)
}

// InAudience reports whether agentID may read the capsule. Authors always
// may.
func (c *Capsule) InAudience(agentID string) bool {
	if agentID == c.AuthorAgentID {
		return true
	}
	for _, id := range c.AudienceAgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// EdgeType is the relation type of a graph edge.
type EdgeType string

const (
	EdgeParentOf   EdgeType = "parent_of"
	EdgeChildOf    EdgeType = "child_of"
	EdgeDependsOn  EdgeType = "depends_on"
	EdgeCreatedBy  EdgeType = "created_by"
	EdgeReferences EdgeType = "references"
)

// Edge is a typed directed relation between memory nodes. Edges are owned
// by neither endpoint; deleting a node does not cascade. Edges of type
// depends_on must never form a cycle.
type Edge struct {
	EdgeID     string            `json:"edge_id"`
	TenantID   string            `json:"tenant_id"`
	FromNodeID string            `json:"from_node_id"`
	ToNodeID   string            `json:"to_node_id"`
	Type       EdgeType          `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
