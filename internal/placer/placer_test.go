package placer

import (
	"testing"
	"time"

	"github.com/quantarax/netchunk/internal/server"
)

func snap(id string, chunkCount, priority int, available bool) server.Snapshot {
	return server.Snapshot{
		Descriptor: server.Descriptor{ID: id, Priority: priority},
		Health:     server.Health{Available: available, LastChecked: time.Now()},
		ChunkCount: chunkCount,
	}
}

func TestRankExcludesAlreadyPlaced(t *testing.T) {
	snaps := []server.Snapshot{snap("a", 0, 0, true), snap("b", 0, 0, true)}
	out := Rank(snaps, map[string]bool{"a": true})
	if len(out) != 1 || out[0].ID != "b" {
		t.Fatalf("expected only b, got %+v", out)
	}
}

func TestRankOrdersByChunkCountAscending(t *testing.T) {
	snaps := []server.Snapshot{snap("a", 5, 0, true), snap("b", 1, 0, true), snap("c", 3, 0, true)}
	out := Rank(snaps, nil)
	want := []string{"b", "c", "a"}
	for i, id := range want {
		if out[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s (%+v)", i, id, out[i].ID, out)
		}
	}
}

func TestRankBreaksTiesByPriorityDescending(t *testing.T) {
	snaps := []server.Snapshot{snap("low", 0, 1, true), snap("high", 0, 5, true)}
	out := Rank(snaps, nil)
	if out[0].ID != "high" {
		t.Fatalf("expected high priority first, got %+v", out)
	}
}

func TestRankBreaksRemainingTiesByIDLexicographic(t *testing.T) {
	snaps := []server.Snapshot{snap("zeta", 0, 0, true), snap("alpha", 0, 0, true)}
	out := Rank(snaps, nil)
	if out[0].ID != "alpha" || out[1].ID != "zeta" {
		t.Fatalf("expected lexicographic order, got %+v", out)
	}
}

func TestRankIsDeterministic(t *testing.T) {
	snaps := []server.Snapshot{snap("a", 2, 0, true), snap("b", 2, 0, true), snap("c", 1, 0, true)}
	first := Rank(snaps, nil)
	second := Rank(snaps, nil)
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("ranking is not deterministic: %+v vs %+v", first, second)
		}
	}
}

// TestRankMovesUnavailableToTailNotRemoved verifies that:
// unavailable servers are demoted, never dropped, so a recovering
// server can still be tried once everything else has failed.
func TestRankMovesUnavailableToTailNotRemoved(t *testing.T) {
	snaps := []server.Snapshot{
		snap("down", 0, 10, false),
		snap("up", 9, 0, true),
	}
	out := Rank(snaps, nil)
	if len(out) != 2 {
		t.Fatalf("expected both candidates retained, got %+v", out)
	}
	if out[0].ID != "up" {
		t.Fatalf("expected available server ranked first, got %+v", out)
	}
	if out[len(out)-1].ID != "down" {
		t.Fatalf("expected unavailable server at tail, got %+v", out)
	}
}
