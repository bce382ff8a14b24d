// ABOUTME: Tests for the snapshot migration engine and the thread migration set
// ABOUTME: Covers ordering, version stamping, idempotence and defensive transforms

package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_AppliesOnlyNewerMigrations(t *testing.T) {
	var applied []int
	record := func(v int) Migration {
		return Migration{Version: v, Transform: func(s Snapshot) Snapshot {
			applied = append(applied, v)
			return s
		}}
	}
	// Deliberately out of order; the engine must sort ascending.
	migrations := []Migration{record(3), record(1), record(2)}

	snap := Snapshot{"version": 1}
	out, changed := Migrate(snap, migrations)

	assert.True(t, changed)
	assert.Equal(t, []int{2, 3}, applied)
	assert.Equal(t, 4, out["version"])
}

func TestMigrate_AbsentVersionIsLegacy(t *testing.T) {
	var applied []int
	migrations := []Migration{
		{Version: 1, Transform: func(s Snapshot) Snapshot { applied = append(applied, 1); return s }},
		{Version: 2, Transform: func(s Snapshot) Snapshot { applied = append(applied, 2); return s }},
	}

	_, changed := Migrate(Snapshot{}, migrations)

	assert.True(t, changed)
	assert.Equal(t, []int{1, 2}, applied)
}

func TestMigrate_CurrentSnapshotIsIdempotent(t *testing.T) {
	migrations := ThreadMigrations()

	legacy := Snapshot{
		"id": "t-1",
		"messages": []any{
			map[string]any{"role": "user", "author": "alice", "content": "hello"},
		},
	}

	once, changed := Migrate(legacy, migrations)
	require.True(t, changed)

	twice, changed := Migrate(once, migrations)
	assert.False(t, changed)
	assert.Equal(t, once, twice)

	thrice, changed := Migrate(twice, migrations)
	assert.False(t, changed)
	assert.Equal(t, once, thrice)
}

func TestMigrate_DoesNotMutateInput(t *testing.T) {
	snap := Snapshot{"id": "t-1"}
	_, _ = Migrate(snap, ThreadMigrations())

	_, hasVersion := snap["version"]
	assert.False(t, hasVersion, "input snapshot must be left untouched")
}

func TestThreadMigrations_LegacyMessagesBecomeEvents(t *testing.T) {
	out, changed := Migrate(Snapshot{
		"id": "t-1",
		"messages": []any{
			map[string]any{"role": "assistant", "author": "agent", "content": "hi"},
			"garbage entry",
			map[string]any{"role": "oracle", "content": "normalized"},
		},
	}, ThreadMigrations())

	require.True(t, changed)
	events, ok := out["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 2)

	first := events[0].(map[string]any)
	assert.Equal(t, "message", first["kind"])
	assert.Equal(t, "hi", first["content"])
	assert.Equal(t, 2, first["weight"])

	second := events[1].(map[string]any)
	assert.Equal(t, "user", second["role"], "unknown roles normalize to user")

	_, hasLegacy := out["messages"]
	assert.False(t, hasLegacy)
}

func TestThreadMigrations_DefensiveDefaults(t *testing.T) {
	out, changed := Migrate(Snapshot{
		"id":       "t-2",
		"messages": "not a list",
		"usage":    map[string]any{"cost": "free"},
	}, ThreadMigrations())

	require.True(t, changed)
	assert.Equal(t, []any{}, out["events"])
	assert.Equal(t, 0.0, out["price"])
	assert.Equal(t, []any{}, out["starringUsers"])
	assert.Equal(t, CurrentVersion(ThreadMigrations()), out["version"])
}

func TestThreadMigrations_FoldsLegacyUsageCost(t *testing.T) {
	out, _ := Migrate(Snapshot{
		"id":    "t-3",
		"usage": map[string]any{"cost": 1.25},
	}, ThreadMigrations())

	assert.Equal(t, 1.25, out["price"])
	_, hasUsage := out["usage"]
	assert.False(t, hasUsage)
}
