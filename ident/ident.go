// Package ident generates time-ordered opaque identifiers per entity kind
// and estimates token cost for text.
//
// Identifiers are UUIDv7 values carrying a millisecond timestamp in their
// high bits, prefixed with a short kind tag ("evt_", "chk_", ...). Sorting
// ids of one kind lexicographically therefore sorts them by creation time.
package ident

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind selects the id prefix for an entity class.
type Kind string

const (
	KindEvent    Kind = "evt"
	KindChunk    Kind = "chk"
	KindDecision Kind = "dec"
	KindCapsule  Kind = "cap"
	KindEdit     Kind = "edt"
	KindArtifact Kind = "art"
	KindACB      Kind = "acb"
	KindEdge     Kind = "edg"
	KindTask     Kind = "tsk"
	KindRule     Kind = "rul"
)

// New returns a fresh id for the given kind, e.g. "evt_018f3c...".
// IDs are unique within (tenant, kind) by construction: UUIDv7 collisions
// would require identical timestamp and random bits.
func New(kind Kind) string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4
		// rather than surface an error from an id constructor.
		id = uuid.New()
	}
	return fmt.Sprintf("%s_%s", kind, id.String())
}

// KindOf returns the kind prefix of an id, or "" when the id does not
// carry one.
func KindOf(id string) Kind {
	for i := 0; i < len(id); i++ {
		if id[i] == '_' {
			return Kind(id[:i])
		}
	}
	return ""
}
