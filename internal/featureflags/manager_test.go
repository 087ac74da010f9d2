package featureflags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	for _, name := range []string{"a", "c", "e"} {
		assert.True(t, m.Enabled(name, "u1"), name)
	}
	for _, name := range []string{"b", "d", "f", "missing"} {
		assert.False(t, m.Enabled(name, "u1"), name)
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,junk=abc%")

	assert.True(t, m.Enabled("always", "u1"))
	assert.True(t, m.Enabled("always", ""))
	assert.False(t, m.Enabled("never", "u1"))
	assert.False(t, m.Enabled("junk", "u1"))

	first := m.Enabled("canary", "identity-42")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, m.Enabled("canary", "identity-42"), "rollout must be deterministic per subject")
	}
	assert.False(t, m.Enabled("canary", ""), "percentage rollout requires a subject")
}

func TestEnabled_NilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.Enabled(ReactionCapBestEffort, "u1"))
	assert.Empty(t, m.Snapshot("u1"))
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,X=on, y = 20% ,z=off, =on")

	assert.Equal(t, []string{"x", "y", "z"}, m.Names())

	snap := m.Snapshot("u1")
	assert.Len(t, snap, 3)
	assert.True(t, snap["x"])
	assert.False(t, snap["z"])
}

func TestReactionCapFlag(t *testing.T) {
	m := NewManager("reaction_cap_best_effort=on")
	assert.True(t, m.Enabled(ReactionCapBestEffort, ""))
	assert.False(t, NewManager("").Enabled(ReactionCapBestEffort, ""))
}

func TestParse_ReportsMalformedEntries(t *testing.T) {
	m, err := Parse("ok=on,broken,pct=150%,word=maybe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"broken"`)
	assert.Contains(t, err.Error(), "pct")
	assert.Contains(t, err.Error(), "word")
	assert.Equal(t, []string{"ok"}, m.Names())

	_, err = Parse(" reaction_cap_best_effort = ON , ")
	assert.NoError(t, err)
}
