package conflict

import (
	"time"

	"github.com/ddanilov/podvault/internal/syncwire"
)

// playbackMergeWindow bounds the race window in which two devices are
// assumed to be reporting the same listening session.
const playbackMergeWindow = 5 * time.Minute

// DefaultRules returns the conflict policy for every synchronized table.
//
// Catalog data (podcasts, episodes) and server-authored rows (comments,
// reactions) always take the server copy. Play counts only grow. Playback
// progress merges via PlaybackPositionMerge. Downloads are device-local and
// never lose to the server.
func DefaultRules() []Rule {
	return []Rule{
		{Table: "podcasts", Strategy: ServerWins()},
		{Table: "episodes", Strategy: ServerWins()},
		{Table: "comments", Strategy: ServerWins()},
		{Table: "reactions", Strategy: ServerWins()},
		{Table: "play_counts", Field: "count", Strategy: MaxValue()},
		{Table: "episode_progress", Field: "position_ms", Strategy: Custom(PlaybackPositionMerge)},
		{Table: "downloads", Strategy: ClientWins()},
	}
}

// PlaybackPositionMerge reconciles listening positions reported by two
// devices. If the updates are within playbackMergeWindow of each other they
// are treated as the same session racing itself: keep the larger position_ms
// with the later updated_at, so position never regresses. Outside the
// window the strictly later write wins outright.
func PlaybackPositionMerge(local, remote syncwire.Record) syncwire.Record {
	later, earlier := remote, local
	if local.UpdatedAt > remote.UpdatedAt {
		later, earlier = local, remote
	}

	gap := time.Duration(later.UpdatedAt-earlier.UpdatedAt) * time.Millisecond
	if gap > playbackMergeWindow {
		return later
	}

	merged := later
	merged.Fields = cloneFields(later.Fields)
	lv, lok := numeric(local.Fields["position_ms"])
	rv, rok := numeric(remote.Fields["position_ms"])
	if lok && rok {
		merged.Fields["position_ms"] = maxFloat(lv, rv)
	}
	return merged
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
