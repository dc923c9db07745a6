package ident

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrefixes(t *testing.T) {
	kinds := []Kind{
		KindEvent, KindChunk, KindDecision, KindCapsule, KindEdit,
		KindArtifact, KindACB, KindEdge, KindTask, KindRule,
	}
	for _, k := range kinds {
		id := New(k)
		assert.True(t, strings.HasPrefix(id, string(k)+"_"), "id %s", id)
		assert.Equal(t, k, KindOf(id))
	}
}

func TestNewUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := New(KindEvent)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestNewTimeOrdered(t *testing.T) {
	first := New(KindChunk)
	time.Sleep(2 * time.Millisecond)
	second := New(KindChunk)

	ids := []string{second, first}
	sort.Strings(ids)
	assert.Equal(t, []string{first, second}, ids)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind("evt"), KindOf("evt_abc"))
	assert.Equal(t, Kind(""), KindOf("noprefix"))
	assert.Equal(t, Kind(""), KindOf(""))
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"single char rounds up", "a", 1},
		{"four chars one token", "abcd", 1},
		{"five chars two tokens", "abcde", 2},
		{"counts runes not bytes", "ääää", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.in))
		})
	}
}

func TestEstimateTokensDeterministic(t *testing.T) {
	s := strings.Repeat("token estimation stability ", 40)
	assert.Equal(t, EstimateTokens(s), EstimateTokens(s))
}
