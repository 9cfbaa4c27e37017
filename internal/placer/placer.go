// Package placer decides which servers should receive the next replica
// of a chunk during upload. The Placer is pure: no I/O, no state of its
// own — the Engine feeds it the per-manifest chunk counts it needs.
package placer

import (
	"sort"

	"github.com/quantarax/netchunk/internal/server"
)

// Rank returns every candidate server eligible to receive the next
// replica of a chunk, ordered by preference (best candidate first).
//
// Policy:
//  1. Exclude servers already in alreadyPlaced.
//  2. Rank remaining servers ascending by chunk count carried for this
//     manifest, ties broken by configured Priority descending, then by
//     ID lexicographic ascending.
//  3. Servers whose last health probe marked them unavailable are moved
//     to the tail, not removed, so a recovering server can still be
//     tried.
func Rank(snapshots []server.Snapshot, alreadyPlaced map[string]bool) []server.Descriptor {
	candidates := make([]server.Snapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if alreadyPlaced[s.Descriptor.ID] {
			continue
		}
		candidates = append(candidates, s)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]

		// Unavailable candidates sort after available ones, but are
		// never dropped.
		if a.Health.Available != b.Health.Available {
			return a.Health.Available
		}
		if a.ChunkCount != b.ChunkCount {
			return a.ChunkCount < b.ChunkCount
		}
		if a.Descriptor.Priority != b.Descriptor.Priority {
			return a.Descriptor.Priority > b.Descriptor.Priority
		}
		return a.Descriptor.ID < b.Descriptor.ID
	})

	out := make([]server.Descriptor, len(candidates))
	for i, c := range candidates {
		out[i] = c.Descriptor
	}
	return out
}
