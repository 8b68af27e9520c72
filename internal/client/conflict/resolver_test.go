package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ddanilov/podvault/internal/syncwire"
)

func rec(table string, updatedAt, version int64, fields map[string]any) syncwire.Record {
	return syncwire.Record{Table: table, ID: "r1", Fields: fields, UpdatedAt: updatedAt, Version: version}
}

func TestHasConflict(t *testing.T) {
	a := rec("episodes", 100, 1, nil)
	b := rec("episodes", 100, 1, nil)
	assert.False(t, HasConflict(a, b))

	b.Version = 2
	assert.True(t, HasConflict(a, b))

	b = rec("episodes", 200, 1, nil)
	assert.True(t, HasConflict(a, b))
}

func TestResolve_ServerWinsAndClientWins(t *testing.T) {
	r := NewResolver(DefaultRules()...)

	local := rec("episodes", 200, 2, map[string]any{"title": "local"})
	remote := rec("episodes", 100, 1, map[string]any{"title": "remote"})
	got := r.Resolve("episodes", local, remote)
	assert.Equal(t, "remote", got.Fields["title"], "catalog data takes the server copy")

	local = rec("downloads", 100, 1, map[string]any{"path": "/local"})
	remote = rec("downloads", 200, 2, map[string]any{"path": "/remote"})
	got = r.Resolve("downloads", local, remote)
	assert.Equal(t, "/local", got.Fields["path"], "downloads never lose to the server")
}

func TestResolve_UnknownTableDefaultsToServerWins(t *testing.T) {
	r := NewResolver(DefaultRules()...)

	local := rec("mystery", 999, 9, map[string]any{"x": "local"})
	remote := rec("mystery", 1, 1, map[string]any{"x": "remote"})
	assert.Equal(t, "remote", r.Resolve("mystery", local, remote).Fields["x"])
}

func TestResolve_LatestTimestamp(t *testing.T) {
	r := NewResolver(Rule{Table: "notes", Strategy: LatestTimestamp()})

	local := rec("notes", 300, 1, map[string]any{"v": "local"})
	remote := rec("notes", 200, 2, map[string]any{"v": "remote"})
	assert.Equal(t, "local", r.Resolve("notes", local, remote).Fields["v"])

	remote.UpdatedAt = 400
	assert.Equal(t, "remote", r.Resolve("notes", local, remote).Fields["v"])
}

func TestResolve_MaxValue(t *testing.T) {
	r := NewResolver(DefaultRules()...)

	local := rec("play_counts", 100, 1, map[string]any{"count": float64(7), "episode_id": "ep1"})
	remote := rec("play_counts", 200, 2, map[string]any{"count": float64(4), "episode_id": "ep1"})

	got := r.Resolve("play_counts", local, remote)
	assert.Equal(t, float64(7), got.Fields["count"], "counter keeps the max of both sides")
	assert.Equal(t, int64(200), got.UpdatedAt, "metadata comes from the remote record")
	// remote's own fields map must not be mutated
	assert.Equal(t, float64(4), remote.Fields["count"])
}

func TestResolve_SkipsRuleWhenGuardedFieldEqual(t *testing.T) {
	r := NewResolver(
		Rule{Table: "t", Field: "a", Strategy: ClientWins()},
		Rule{Table: "t", Strategy: ServerWins()},
	)

	// field "a" equal on both sides: first rule is skipped, second applies
	local := rec("t", 1, 1, map[string]any{"a": "same", "b": "local"})
	remote := rec("t", 2, 2, map[string]any{"a": "same", "b": "remote"})
	assert.Equal(t, "remote", r.Resolve("t", local, remote).Fields["b"])

	// field "a" differs: first rule applies
	remote.Fields["a"] = "different"
	assert.Equal(t, "local", r.Resolve("t", local, remote).Fields["b"])
}

func TestPlaybackPositionMerge_WithinWindow(t *testing.T) {
	// local at T with position 500; remote one minute later with position 300
	base := int64(1_700_000_000_000)
	local := rec("episode_progress", base, 1, map[string]any{"position_ms": float64(500)})
	remote := rec("episode_progress", base+60_000, 2, map[string]any{"position_ms": float64(300)})

	r := NewResolver(DefaultRules()...)
	got := r.Resolve("episode_progress", local, remote)

	assert.Equal(t, float64(500), got.Fields["position_ms"], "position never regresses within the window")
	assert.Equal(t, base+60_000, got.UpdatedAt, "later timestamp is kept")
}

func TestPlaybackPositionMerge_OutsideWindow(t *testing.T) {
	// same local, but remote ten minutes later: later write wins outright
	base := int64(1_700_000_000_000)
	local := rec("episode_progress", base, 1, map[string]any{"position_ms": float64(500)})
	remote := rec("episode_progress", base+600_000, 2, map[string]any{"position_ms": float64(300)})

	r := NewResolver(DefaultRules()...)
	got := r.Resolve("episode_progress", local, remote)

	assert.Equal(t, float64(300), got.Fields["position_ms"])
	assert.Equal(t, base+600_000, got.UpdatedAt)
}

func TestPlaybackPositionMerge_LocalIsLater(t *testing.T) {
	base := int64(1_700_000_000_000)
	local := rec("episode_progress", base+60_000, 2, map[string]any{"position_ms": float64(300)})
	remote := rec("episode_progress", base, 1, map[string]any{"position_ms": float64(500)})

	got := PlaybackPositionMerge(local, remote)
	assert.Equal(t, float64(500), got.Fields["position_ms"])
	assert.Equal(t, base+60_000, got.UpdatedAt)
}
