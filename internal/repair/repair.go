// Package repair implements NetChunk's verify/repair/rebalance pass:
// classify every chunk's replica health, optionally clean up corrupt
// replicas and re-replicate from a surviving copy, and optionally
// rebalance chunk placement across servers. Runner is the concrete
// type that satisfies internal/engine's RepairRunner interface
// structurally, so engine never imports this package.
package repair

import (
	"context"
	"sort"
	"time"

	"github.com/quantarax/netchunk/internal/blobstore"
	"github.com/quantarax/netchunk/internal/engine"
	"github.com/quantarax/netchunk/internal/hasher"
	"github.com/quantarax/netchunk/internal/manifest"
	"github.com/quantarax/netchunk/internal/ncerrors"
	"github.com/quantarax/netchunk/internal/placer"
	"github.com/quantarax/netchunk/internal/server"
)

// Mode selects how far a repair pass goes.
type Mode int

const (
	// VerifyOnly performs no writes: classification only.
	VerifyOnly Mode = iota
	// Auto repairs what can be repaired from surviving replicas.
	Auto
	// Force is Auto plus a top-up pass for chunks already at
	// replication_factor. Kept as a distinct value for API
	// completeness; see DESIGN.md for why it currently behaves like
	// Auto against this implementation's always-fresh verification.
	Force
)

// Stats is the full result of one verify/repair pass — richer than
// engine.RepairStats, which carries only the chunk counts and health
// tallies the Engine-facing Verify call exposes.
type Stats struct {
	ChunksVerified  int
	Healthy         int
	Degraded        int
	Critical        int
	Lost            int
	ChunksRepaired  int
	ReplicasAdded   int
	ReplicasRemoved int
	Elapsed         time.Duration
	// MissingSequences lists chunk sequence numbers that were still not
	// Healthy when the pass finished.
	MissingSequences []int
}

// ToEngineStats narrows Stats down to the shape engine.RepairRunner's
// Run method must return.
func (s Stats) ToEngineStats() engine.RepairStats {
	return engine.RepairStats{
		ChunksVerified: s.ChunksVerified,
		ChunksRepaired: s.ChunksRepaired,
		Healthy:        s.Healthy,
		Degraded:       s.Degraded,
		Critical:       s.Critical,
		Lost:           s.Lost,
	}
}

// RebalanceStats is the result of one Rebalance call.
type RebalanceStats struct {
	Moved int
}

// Runner owns the server registry and per-server BlobStore handles a
// repair pass needs; it mirrors internal/engine.Engine's shape closely
// since both drive the same BlobStore/Registry/Placer trio toward
// different ends.
type Runner struct {
	Registry *server.Registry
	Stores   map[string]blobstore.Store

	// Progress, if set, is called after every chunk in a RunWithMode
	// pass is classified, reporting how many chunks have reached
	// Healthy against the manifest's total chunk count.
	Progress func(healthyDone, total int)
}

// New constructs a Runner.
func New(registry *server.Registry, stores map[string]blobstore.Store) *Runner {
	return &Runner{Registry: registry, Stores: stores}
}

func (r *Runner) store(id string) (blobstore.Store, error) {
	s, ok := r.Stores[id]
	if !ok {
		return nil, ncerrors.New(ncerrors.NotFound, "no BlobStore configured for server: "+id)
	}
	return s, nil
}

// Run satisfies engine.RepairRunner: repair=false runs VerifyOnly,
// repair=true runs Auto.
func (r *Runner) Run(ctx context.Context, m *manifest.Manifest, repair bool) (engine.RepairStats, error) {
	mode := VerifyOnly
	if repair {
		mode = Auto
	}
	stats, err := r.RunWithMode(ctx, m, mode)
	return stats.ToEngineStats(), err
}

// RunWithMode runs the full classify/repair pass against every chunk in
// m, in chunk-sequence order. When mode !=
// VerifyOnly and any placement changed, the repaired manifest is
// committed back to every reachable server (requires m.RemoteName to
// be set).
func (r *Runner) RunWithMode(ctx context.Context, m *manifest.Manifest, mode Mode) (Stats, error) {
	start := time.Now()
	stats := Stats{}
	tally := newHealthTally(len(m.Chunks))

	counts := make(map[string]int)
	for _, c := range m.Chunks {
		for _, loc := range c.Locations {
			counts[loc.ServerID]++
		}
	}

	anyChanged := false
	for i := range m.Chunks {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		chunk := &m.Chunks[i]
		health, chunkChanged, err := r.repairChunk(ctx, m, chunk, mode, counts, &stats)
		if err != nil {
			return stats, err
		}

		stats.ChunksVerified++
		switch health {
		case Healthy:
			stats.Healthy++
			tally.markHealthy(i)
		case Degraded:
			stats.Degraded++
		case Critical:
			stats.Critical++
		case Lost:
			stats.Lost++
		}
		if chunkChanged {
			anyChanged = true
			if mode != VerifyOnly {
				stats.ChunksRepaired++
			}
		}
		if r.Progress != nil {
			done, total := tally.progress()
			r.Progress(done, total)
		}
	}

	if anyChanged && mode != VerifyOnly {
		if err := r.commit(ctx, m); err != nil {
			stats.Elapsed = time.Since(start)
			return stats, err
		}
	}

	stats.MissingSequences = tally.missing()
	m.LastVerified = time.Now().UTC()
	stats.Elapsed = time.Since(start)
	return stats, nil
}

// repairChunk runs the per-chunk repair loop for one chunk:
// download+classify every Placement, drop corrupt/orphaned
// ones, and (outside VerifyOnly) re-replicate from a surviving payload
// until replication_factor is met or no candidate server remains.
func (r *Runner) repairChunk(ctx context.Context, m *manifest.Manifest, chunk *manifest.Chunk, mode Mode, counts map[string]int, stats *Stats) (Health, bool, error) {
	want, err := hasher.DecodeHex(chunk.Hash)
	if err != nil {
		return Lost, false, ncerrors.Wrap(ncerrors.ManifestCorrupt, "decode chunk hash", err)
	}

	original := chunk.Locations
	kept := make([]manifest.Placement, 0, len(original))
	var authoritative []byte
	validCount := 0

	for _, loc := range original {
		store, storeErr := r.store(loc.ServerID)
		if storeErr != nil || !r.Registry.Known(loc.ServerID) {
			// Server dropped from configuration: the Placement is
			// orphaned and is dropped rather than kept for recovery.
			counts[loc.ServerID]--
			continue
		}

		data, getErr := store.Get(ctx, loc.RemotePath)
		if getErr != nil {
			// Unreachable this pass; the server may come back, so the
			// Placement is kept as-is.
			kept = append(kept, loc)
			continue
		}

		got, sumErr := hasher.SumBytes(data)
		if sumErr != nil || !hasher.Equal(got, want) {
			if mode != VerifyOnly {
				_ = store.Delete(ctx, loc.RemotePath)
				stats.ReplicasRemoved++
			}
			counts[loc.ServerID]--
			continue
		}

		verified := loc
		verified.Verified = true
		verified.LastVerified = time.Now().UTC()
		kept = append(kept, verified)
		validCount++
		if authoritative == nil {
			authoritative = data
		}
	}

	changed := len(kept) != len(original)
	chunk.Locations = kept

	target := m.ReplicationFactor
	if mode != VerifyOnly && authoritative != nil {
		placedServers := make(map[string]bool, len(kept))
		for _, loc := range kept {
			placedServers[loc.ServerID] = true
		}

		for len(chunk.Locations) < target {
			candidates := placer.Rank(r.Registry.Snapshots(counts), placedServers)
			if len(candidates) == 0 {
				break
			}

			placedOne := false
			for _, cand := range candidates {
				if len(chunk.Locations) >= target {
					break
				}
				store, storeErr := r.store(cand.ID)
				if storeErr != nil {
					continue
				}

				remotePath := blobstore.ChunkPath(m.ManifestID, chunk.Sequence, chunk.ID)
				if putErr := store.Put(ctx, remotePath, authoritative); putErr != nil {
					continue
				}

				chunk.Locations = append(chunk.Locations, manifest.Placement{
					ServerID:     cand.ID,
					RemotePath:   remotePath,
					UploadedAt:   time.Now().UTC(),
					Verified:     true,
					LastVerified: time.Now().UTC(),
				})
				placedServers[cand.ID] = true
				counts[cand.ID]++
				validCount++
				stats.ReplicasAdded++
				changed = true
				placedOne = true
			}
			if !placedOne {
				break
			}
		}
	}

	return classifyChunk(validCount, target), changed, nil
}

func (r *Runner) commit(ctx context.Context, m *manifest.Manifest) error {
	if m.RemoteName == "" {
		return ncerrors.New(ncerrors.InvalidInput, "manifest is missing remote_name; cannot commit repaired placements")
	}
	data, err := m.MarshalJSON()
	if err != nil {
		return ncerrors.Wrap(ncerrors.Io, "marshal repaired manifest", err)
	}

	written := 0
	for _, desc := range r.Registry.List() {
		store, err := r.store(desc.ID)
		if err != nil {
			continue
		}
		if err := store.Mkdir(ctx, blobstore.ManifestDir); err != nil {
			continue
		}
		if err := store.Put(ctx, blobstore.ManifestPath(m.RemoteName), data); err != nil {
			continue
		}
		written++
	}
	if written == 0 {
		return ncerrors.New(ncerrors.Io, "failed to write repaired manifest to any configured server")
	}
	return nil
}

// Rebalance runs one rebalance pass for a manifest: compute target
// chunks-per-server ⌊N/S⌋ (remainder spread over the
// lowest-id servers), then move chunks off over-target servers onto
// under-target ones, bounded by moveCap moves. Only valuable after
// servers are added or removed; safe to call at any time otherwise (it
// is a no-op when every server is already within its target).
func (r *Runner) Rebalance(ctx context.Context, m *manifest.Manifest, moveCap int) (RebalanceStats, error) {
	stats := RebalanceStats{}

	servers := r.Registry.List()
	if len(servers) == 0 {
		return stats, nil
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })

	perServer := make(map[string]int, len(servers))
	total := 0
	for _, c := range m.Chunks {
		for _, loc := range c.Locations {
			perServer[loc.ServerID]++
			total++
		}
	}

	base := total / len(servers)
	remainder := total % len(servers)
	target := make(map[string]int, len(servers))
	for i, s := range servers {
		// Servers holding no placements yet still count, as under-target.
		if _, ok := perServer[s.ID]; !ok {
			perServer[s.ID] = 0
		}
		target[s.ID] = base
		if i < remainder {
			target[s.ID]++
		}
	}

	anyChanged := false
	for stats.Moved < moveCap {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		overID := ""
		for id, count := range perServer {
			if count > target[id] {
				overID = id
				break
			}
		}
		if overID == "" {
			break
		}

		moveChunkIdx := -1
		underID := ""
		for ci := range m.Chunks {
			c := &m.Chunks[ci]
			present := make(map[string]bool, len(c.Locations))
			hasOver := false
			for _, loc := range c.Locations {
				present[loc.ServerID] = true
				if loc.ServerID == overID {
					hasOver = true
				}
			}
			if !hasOver {
				continue
			}
			for id, count := range perServer {
				if count < target[id] && !present[id] {
					underID = id
					moveChunkIdx = ci
					break
				}
			}
			if moveChunkIdx >= 0 {
				break
			}
		}
		if moveChunkIdx < 0 {
			break
		}

		chunk := &m.Chunks[moveChunkIdx]
		var srcLoc manifest.Placement
		for _, loc := range chunk.Locations {
			if loc.ServerID == overID {
				srcLoc = loc
				break
			}
		}

		srcStore, err := r.store(overID)
		if err != nil {
			break
		}
		data, err := srcStore.Get(ctx, srcLoc.RemotePath)
		if err != nil {
			break
		}

		dstStore, err := r.store(underID)
		if err != nil {
			break
		}
		remotePath := blobstore.ChunkPath(m.ManifestID, chunk.Sequence, chunk.ID)
		if err := dstStore.Put(ctx, remotePath, data); err != nil {
			break
		}

		chunk.Locations = append(chunk.Locations, manifest.Placement{
			ServerID:     underID,
			RemotePath:   remotePath,
			UploadedAt:   time.Now().UTC(),
			Verified:     true,
			LastVerified: time.Now().UTC(),
		})
		perServer[underID]++

		remainingIfRemoved := 0
		for _, loc := range chunk.Locations {
			if loc.ServerID != overID {
				remainingIfRemoved++
			}
		}
		if remainingIfRemoved >= m.ReplicationFactor {
			_ = srcStore.Delete(ctx, srcLoc.RemotePath)
			newLocs := make([]manifest.Placement, 0, len(chunk.Locations)-1)
			for _, loc := range chunk.Locations {
				if loc.ServerID == overID {
					continue
				}
				newLocs = append(newLocs, loc)
			}
			chunk.Locations = newLocs
			perServer[overID]--
		}

		stats.Moved++
		anyChanged = true
	}

	if anyChanged {
		if err := r.commit(ctx, m); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
