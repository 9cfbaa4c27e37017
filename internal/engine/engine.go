// Package engine implements NetChunk's upload/download/delete/list/
// verify orchestration, the heart of the system. It is the only
// component that drives the Chunker, Manifest, Placer and BlobStore
// together; every other core package is a pure or side-effect-free
// dependency of this one.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/quantarax/netchunk/internal/blobstore"
	"github.com/quantarax/netchunk/internal/chunker"
	"github.com/quantarax/netchunk/internal/hasher"
	"github.com/quantarax/netchunk/internal/manifest"
	"github.com/quantarax/netchunk/internal/ncerrors"
	"github.com/quantarax/netchunk/internal/observability"
	"github.com/quantarax/netchunk/internal/placer"
	"github.com/quantarax/netchunk/internal/server"
)

var tracer = otel.Tracer("github.com/quantarax/netchunk/internal/engine")

// RepairStats is the aggregated result Engine.Verify returns:
// {chunks_verified, chunks_repaired} plus a per-health breakdown.
type RepairStats struct {
	ChunksVerified int
	ChunksRepaired int
	Healthy        int
	Degraded       int
	Critical       int
	Lost           int
}

// RepairRunner is the capability Engine.Verify delegates to: a thin
// wrapper over a full classify/repair pass. internal/repair's Runner
// satisfies this interface structurally; engine does not import
// internal/repair, avoiding a dependency cycle.
type RepairRunner interface {
	Run(ctx context.Context, m *manifest.Manifest, repair bool) (RepairStats, error)
}

// Journal is the capability Engine uses to record operation start/end
// for the `health` verb's recent-activity report. A nil Journal is
// valid and simply means operations are not recorded.
type Journal interface {
	RecordOperation(ctx context.Context, verb, remoteName string, success bool, duration time.Duration)
}

// Config bundles the configuration keys the Engine consumes.
type Config struct {
	ChunkSize               int
	ReplicationFactor       int
	MinReplicasRequired     int
	MaxConcurrentOperations int
	MaxRetryAttempts        int
	AlwaysVerifyIntegrity   bool
	KeepManifestBackup      bool
	MaxManifestBackups      int
}

// Engine ties the Chunker, Manifest, Placer and BlobStore together to
// implement upload/download/delete/list/verify.
type Engine struct {
	Registry *server.Registry
	Stores   map[string]blobstore.Store

	Config Config

	Observer Observer
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Repair   RepairRunner
	Journal  Journal

	limiters *limiterRegistry
}

// New constructs an Engine. limiterRate/limiterBurst govern the
// per-server BlobStore call pacing; pass rate.Inf and a generous burst
// to effectively disable pacing.
func New(registry *server.Registry, stores map[string]blobstore.Store, cfg Config, limiterRate rate.Limit, limiterBurst int) *Engine {
	return &Engine{
		Registry: registry,
		Stores:   stores,
		Config:   cfg,
		limiters: newLimiterRegistry(limiterRate, limiterBurst),
	}
}

func (e *Engine) store(serverID string) (blobstore.Store, error) {
	s, ok := e.Stores[serverID]
	if !ok {
		return nil, ncerrors.New(ncerrors.NotFound, "no BlobStore configured for server: "+serverID)
	}
	return s, nil
}

// serversByPriority returns every registered server descriptor, ranked
// highest-priority first: callers try each configured server in this
// order.
func (e *Engine) serversByPriority() []server.Descriptor {
	list := e.Registry.List()
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].ID < list[j].ID
	})
	return list
}

func (e *Engine) notify(p Progress) { notify(e.Observer, p) }

func (e *Engine) recordJournal(ctx context.Context, verb, remoteName string, success bool, start time.Time) {
	if e.Journal != nil {
		e.Journal.RecordOperation(ctx, verb, remoteName, success, time.Since(start))
	}
}

// --- Upload ------------------------------------------------------------

// UploadStats summarizes one completed upload.
type UploadStats struct {
	TotalChunks      int
	ChunksDegraded   int
	BytesUploaded    int64
	ManifestsWritten int
	Duration         time.Duration
}

type placedChunk struct {
	record manifest.Chunk
}

// placementCounters is the shared, mutex-guarded per-server chunk-count
// state the Placer consults while multiple chunk-placement jobs run
// concurrently within one upload.
type placementCounters struct {
	mu     sync.Mutex
	counts map[string]int
}

func newPlacementCounters() *placementCounters {
	return &placementCounters{counts: make(map[string]int)}
}

func (c *placementCounters) snapshot(reg *server.Registry) []server.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		counts[k] = v
	}
	return reg.Snapshots(counts)
}

func (c *placementCounters) increment(serverID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[serverID]++
}

// Upload chunks localPath, places every chunk's replicas across the
// configured servers, and writes the resulting manifest.
func (e *Engine) Upload(ctx context.Context, localPath, remoteName string) (*manifest.Manifest, *UploadStats, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.Upload", trace.WithAttributes(attribute.String("remote_name", remoteName)))
	defer span.End()

	if e.Metrics != nil {
		e.Metrics.RecordOperationStart()
	}

	m, stats, err := e.upload(ctx, localPath, remoteName)

	success := err == nil
	if e.Metrics != nil {
		e.Metrics.RecordOperationComplete("upload", success, time.Since(start).Seconds())
	}
	e.recordJournal(ctx, "upload", remoteName, success, start)
	if e.Logger != nil {
		if success {
			e.Logger.OperationCompleted(remoteName, "upload", stats.TotalChunks, time.Since(start), false)
		} else {
			e.Logger.Error(err, "upload failed")
		}
	}
	return m, stats, err
}

func (e *Engine) upload(ctx context.Context, localPath, remoteName string) (*manifest.Manifest, *UploadStats, error) {
	if e.Registry.Count() < e.Config.ReplicationFactor {
		return nil, nil, ncerrors.New(ncerrors.InsufficientServers, fmt.Sprintf("replication_factor %d exceeds configured server_count %d", e.Config.ReplicationFactor, e.Registry.Count()))
	}

	e.notify(Progress{Phase: PhasePreparing})

	c, err := chunker.New(localPath, e.Config.ChunkSize)
	if err != nil {
		return nil, nil, err
	}
	defer c.Close()

	manifestID := uuid.NewString()
	m, err := manifest.New(manifestID, remoteName, filepath.Base(localPath), c.TotalSize(), e.Config.ChunkSize, c.FileHash(), e.Config.ReplicationFactor, e.Config.MinReplicasRequired)
	if err != nil {
		return nil, nil, err
	}

	track := newTracker(c.ChunkCount(), c.TotalSize())
	counters := newPlacementCounters()

	var allPlacements []manifest.Placement
	var placementsMu sync.Mutex
	degraded := 0

	pool := newWorkerPool(ctx, maxInt(e.Config.MaxConcurrentOperations, 1), maxInt(e.Config.MaxConcurrentOperations, 1)*2)
	reorder := newReorderBuffer(0)

	collectorErr := make(chan error, 1)
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for res := range pool.results {
			if res.err != nil {
				select {
				case collectorErr <- res.err:
				default:
				}
				pool.stop()
				continue
			}
			pc := res.payload.(placedChunk)
			ready := reorder.accept(res.sequence, pc)
			for _, r := range ready {
				rc := r.(placedChunk)
				if appendErr := m.AppendChunk(rc.record); appendErr != nil {
					select {
					case collectorErr <- appendErr:
					default:
					}
					pool.stop()
					continue
				}
				placementsMu.Lock()
				allPlacements = append(allPlacements, rc.record.Locations...)
				placementsMu.Unlock()
				if len(rc.record.Locations) < e.Config.ReplicationFactor {
					degraded++
				}
				track.update(rc.record.Sequence+1, track.bytesDone+int64(rc.record.Size))
				e.notify(Progress{
					Phase:      PhaseUploadingChunks,
					Current:    rc.record.Sequence + 1,
					Total:      c.ChunkCount(),
					BytesDone:  track.bytesDone,
					BytesTotal: c.TotalSize(),
					RateMbps:   track.transferRateMbps(),
					ETASeconds: track.estimatedSecondsRemaining(),
				})
				if e.Logger != nil {
					for _, loc := range rc.record.Locations {
						e.Logger.ChunkPlaced(manifestID, rc.record.Sequence, rc.record.Size, loc.ServerID)
					}
				}
			}
		}
	}()

	var dispatchErr error
dispatchLoop:
	for {
		chunk, nextErr := c.Next()
		if nextErr == chunker.ErrExhausted {
			break dispatchLoop
		}
		if nextErr != nil {
			dispatchErr = nextErr
			break dispatchLoop
		}

		chunkCopy := chunk
		job := chunkJob{
			sequence: chunkCopy.Sequence,
			run: func(jobCtx context.Context) (any, error) {
				return e.placeChunk(jobCtx, manifestID, chunkCopy, counters)
			},
		}
		if submitErr := pool.submit(job); submitErr != nil {
			dispatchErr = submitErr
			break dispatchLoop
		}
	}
	pool.closeAndWait()
	<-collectorDone

	select {
	case cerr := <-collectorErr:
		if dispatchErr == nil {
			dispatchErr = cerr
		}
	default:
	}

	if dispatchErr != nil {
		e.rollback(ctx, allPlacements)
		return nil, nil, dispatchErr
	}

	e.notify(Progress{Phase: PhaseSavingManifest, Total: c.ChunkCount(), Current: c.ChunkCount()})

	written := 0
	for _, desc := range e.Registry.List() {
		store, err := e.store(desc.ID)
		if err != nil {
			continue
		}
		data, err := m.MarshalJSON()
		if err != nil {
			continue
		}
		if err := store.Mkdir(ctx, blobstore.ManifestDir); err != nil {
			continue
		}
		if err := store.Put(ctx, blobstore.ManifestPath(remoteName), data); err != nil {
			continue
		}
		written++
	}
	if written == 0 {
		e.rollback(ctx, allPlacements)
		return nil, nil, ncerrors.New(ncerrors.UploadFailed, "failed to write manifest to any configured server")
	}

	track.finish(true)
	e.notify(Progress{Phase: PhaseComplete, Current: c.ChunkCount(), Total: c.ChunkCount(), BytesDone: c.TotalSize(), BytesTotal: c.TotalSize()})

	return m, &UploadStats{
		TotalChunks:      c.ChunkCount(),
		ChunksDegraded:   degraded,
		BytesUploaded:    c.TotalSize(),
		ManifestsWritten: written,
		Duration:         track.elapsed(),
	}, nil
}

// placeChunk ranks candidate servers for one chunk and uploads replicas
// to them until replication_factor is met or candidates are exhausted.
func (e *Engine) placeChunk(ctx context.Context, manifestID string, chunk *chunker.Chunk, counters *placementCounters) (placedChunk, error) {
	target := e.Config.ReplicationFactor
	placedServers := make(map[string]bool, target)
	var locations []manifest.Placement

	for len(locations) < target {
		candidates := placer.Rank(counters.snapshot(e.Registry), placedServers)
		if len(candidates) == 0 {
			break
		}

		progressed := false
		for _, cand := range candidates {
			if len(locations) >= target {
				break
			}
			store, err := e.store(cand.ID)
			if err != nil {
				continue
			}

			remotePath := blobstore.ChunkPath(manifestID, chunk.Sequence, chunk.ID)
			putErr := withRetry(ctx, e.Config.MaxRetryAttempts, func(attempt int, err error) {
				if e.Metrics != nil {
					e.Metrics.RecordChunkRetry("put")
				}
			}, func() error {
				if err := e.limiters.wait(ctx, cand.ID); err != nil {
					return err
				}
				return store.Put(ctx, remotePath, chunk.Payload)
			})

			if e.Metrics != nil {
				e.Metrics.RecordServerPut(cand.ID, putErr == nil)
			}
			if putErr != nil {
				if e.Logger != nil {
					e.Logger.ServerUnreachable(cand.ID, putErr)
				}
				continue
			}

			locations = append(locations, manifest.Placement{
				ServerID:   cand.ID,
				RemotePath: remotePath,
				UploadedAt: time.Now().UTC(),
				Verified:   false,
			})
			placedServers[cand.ID] = true
			counters.increment(cand.ID)
			progressed = true
			if e.Metrics != nil {
				e.Metrics.RecordChunkPlaced(chunk.Size)
			}
		}
		if !progressed {
			break
		}
	}

	if len(locations) == 0 {
		return placedChunk{}, ncerrors.New(ncerrors.UploadFailed, fmt.Sprintf("chunk %d: no candidate server accepted a replica", chunk.Sequence))
	}

	if e.Metrics != nil {
		e.Metrics.RecordReplication(len(locations) < target)
	}

	return placedChunk{record: manifest.Chunk{
		ID:        chunk.ID,
		Sequence:  chunk.Sequence,
		Size:      chunk.Size,
		CreatedAt: time.Now().UTC(),
		Hash:      hasher.EncodeHex(chunk.Hash),
		Locations: locations,
	}}, nil
}

func (e *Engine) rollback(ctx context.Context, placements []manifest.Placement) {
	for _, p := range placements {
		store, err := e.store(p.ServerID)
		if err != nil {
			continue
		}
		_ = store.Delete(ctx, p.RemotePath)
	}
}

// --- Download ------------------------------------------------------------

// DownloadStats summarizes one completed download.
type DownloadStats struct {
	TotalChunks       int
	BytesDownloaded   int64
	IntegrityVerified bool
	Duration          time.Duration
}

// Download fetches every chunk of remoteName in sequence order, verifies
// each against its manifest hash, and reassembles the file at localPath.
func (e *Engine) Download(ctx context.Context, remoteName, localPath string) (*DownloadStats, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.Download", trace.WithAttributes(attribute.String("remote_name", remoteName)))
	defer span.End()

	if e.Metrics != nil {
		e.Metrics.RecordOperationStart()
	}

	stats, err := e.download(ctx, remoteName, localPath)

	success := err == nil
	if e.Metrics != nil {
		e.Metrics.RecordOperationComplete("download", success, time.Since(start).Seconds())
	}
	e.recordJournal(ctx, "download", remoteName, success, start)
	return stats, err
}

func (e *Engine) locateManifest(ctx context.Context, remoteName string) (*manifest.Manifest, error) {
	for _, desc := range e.serversByPriority() {
		store, err := e.store(desc.ID)
		if err != nil {
			continue
		}
		data, err := store.Get(ctx, blobstore.ManifestPath(remoteName))
		if err != nil {
			continue
		}
		m, err := manifest.Decode(data)
		if err != nil {
			continue
		}
		return m, nil
	}
	return nil, ncerrors.New(ncerrors.NotFound, "no readable manifest found for: "+remoteName)
}

func (e *Engine) download(ctx context.Context, remoteName, localPath string) (*DownloadStats, error) {
	e.notify(Progress{Phase: PhasePreparing})

	m, err := e.locateManifest(ctx, remoteName)
	if err != nil {
		return nil, err
	}

	out, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, ncerrors.Wrap(ncerrors.Io, "open output file", err)
	}

	track := newTracker(len(m.Chunks), m.TotalSize)

	pool := newWorkerPool(ctx, maxInt(e.Config.MaxConcurrentOperations, 1), maxInt(e.Config.MaxConcurrentOperations, 1)*2)
	reorder := newReorderBuffer(0)

	collectorErr := make(chan error, 1)
	collectorDone := make(chan struct{})
	var bytesWritten int64

	go func() {
		defer close(collectorDone)
		for res := range pool.results {
			if res.err != nil {
				select {
				case collectorErr <- res.err:
				default:
				}
				pool.stop()
				continue
			}
			payload := res.payload.([]byte)
			ready := reorder.accept(res.sequence, payload)
			for _, r := range ready {
				b := r.([]byte)
				if _, werr := out.Write(b); werr != nil {
					select {
					case collectorErr <- ncerrors.Wrap(ncerrors.Io, "write output chunk", werr):
					default:
					}
					pool.stop()
					continue
				}
				bytesWritten += int64(len(b))
				track.update(track.chunksDone+1, bytesWritten)
				e.notify(Progress{
					Phase:      PhaseDownloadingChunks,
					Current:    track.chunksDone,
					Total:      len(m.Chunks),
					BytesDone:  bytesWritten,
					BytesTotal: m.TotalSize,
					RateMbps:   track.transferRateMbps(),
					ETASeconds: track.estimatedSecondsRemaining(),
				})
			}
		}
	}()

	var dispatchErr error
	for _, chunk := range m.Chunks {
		chunkCopy := chunk
		job := chunkJob{
			sequence: chunkCopy.Sequence,
			run: func(jobCtx context.Context) (any, error) {
				return e.fetchChunk(jobCtx, chunkCopy)
			},
		}
		if submitErr := pool.submit(job); submitErr != nil {
			dispatchErr = submitErr
			break
		}
	}
	pool.closeAndWait()
	<-collectorDone

	select {
	case cerr := <-collectorErr:
		if dispatchErr == nil {
			dispatchErr = cerr
		}
	default:
	}

	if dispatchErr != nil {
		out.Close()
		os.Remove(localPath)
		if ncerrors.Is(dispatchErr, ncerrors.NotFound) || !isNCErr(dispatchErr) {
			return nil, ncerrors.Wrap(ncerrors.DownloadFailed, "download aborted", dispatchErr)
		}
		return nil, dispatchErr
	}

	if err := out.Close(); err != nil {
		return nil, ncerrors.Wrap(ncerrors.Io, "close output file", err)
	}

	integrityVerified := false
	if e.Config.AlwaysVerifyIntegrity {
		e.notify(Progress{Phase: PhaseVerifying, Total: len(m.Chunks), Current: len(m.Chunks)})
		got, err := hasher.SumFile(localPath)
		if err != nil {
			return nil, err
		}
		want, err := hasher.DecodeHex(m.FileHash)
		if err != nil {
			return nil, ncerrors.Wrap(ncerrors.ManifestCorrupt, "decode file_hash", err)
		}
		if !hasher.Equal(got, want) {
			os.Remove(localPath)
			return nil, ncerrors.New(ncerrors.ChunkIntegrity, "downloaded file hash does not match manifest file_hash")
		}
		integrityVerified = true
	}

	track.finish(true)
	e.notify(Progress{Phase: PhaseComplete, Current: len(m.Chunks), Total: len(m.Chunks), BytesDone: m.TotalSize, BytesTotal: m.TotalSize})

	if e.Logger != nil {
		e.Logger.OperationCompleted(remoteName, "download", len(m.Chunks), track.elapsed(), integrityVerified)
	}

	return &DownloadStats{
		TotalChunks:       len(m.Chunks),
		BytesDownloaded:   bytesWritten,
		IntegrityVerified: integrityVerified,
		Duration:          track.elapsed(),
	}, nil
}

// fetchChunk downloads one chunk's bytes from the first reachable,
// hash-verified Placement.
func (e *Engine) fetchChunk(ctx context.Context, chunk manifest.Chunk) ([]byte, error) {
	locations := make([]manifest.Placement, len(chunk.Locations))
	copy(locations, chunk.Locations)
	sort.SliceStable(locations, func(i, j int) bool {
		if locations[i].Verified != locations[j].Verified {
			return locations[i].Verified
		}
		return locations[i].UploadedAt.Before(locations[j].UploadedAt)
	})

	want, err := hasher.DecodeHex(chunk.Hash)
	if err != nil {
		return nil, ncerrors.Wrap(ncerrors.ManifestCorrupt, "decode chunk hash", err)
	}

	for _, loc := range locations {
		store, err := e.store(loc.ServerID)
		if err != nil {
			continue
		}

		var data []byte
		getErr := withRetry(ctx, e.Config.MaxRetryAttempts, func(attempt int, err error) {
			if e.Metrics != nil {
				e.Metrics.RecordChunkRetry("get")
			}
		}, func() error {
			if err := e.limiters.wait(ctx, loc.ServerID); err != nil {
				return err
			}
			var innerErr error
			data, innerErr = store.Get(ctx, loc.RemotePath)
			return innerErr
		})
		if getErr != nil {
			continue
		}

		got, err := hasher.SumBytes(data)
		if err != nil {
			continue
		}
		if !hasher.Equal(got, want) {
			if e.Metrics != nil {
				e.Metrics.RecordIntegrityCheck(false)
			}
			continue
		}
		if e.Metrics != nil {
			e.Metrics.RecordIntegrityCheck(true)
			e.Metrics.RecordChunkRead(len(data))
		}
		return data, nil
	}

	return nil, ncerrors.New(ncerrors.DownloadFailed, fmt.Sprintf("chunk %d: no replica produced valid data", chunk.Sequence))
}

// --- Delete ------------------------------------------------------------

// Delete removes every chunk replica of remoteName from every reachable
// server, then the manifest object itself.
func (e *Engine) Delete(ctx context.Context, remoteName string) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.Delete", trace.WithAttributes(attribute.String("remote_name", remoteName)))
	defer span.End()

	e.notify(Progress{Phase: PhaseDeleting})

	m, err := e.locateManifest(ctx, remoteName)
	if err != nil {
		e.recordJournal(ctx, "delete", remoteName, false, start)
		return err
	}

	for _, chunk := range m.Chunks {
		for _, loc := range chunk.Locations {
			store, err := e.store(loc.ServerID)
			if err != nil {
				continue
			}
			if derr := store.Delete(ctx, loc.RemotePath); derr != nil && e.Logger != nil {
				e.Logger.ServerUnreachable(loc.ServerID, derr)
			}
		}
	}

	removed := 0
	for _, desc := range e.Registry.List() {
		store, err := e.store(desc.ID)
		if err != nil {
			continue
		}
		if err := store.Delete(ctx, blobstore.ManifestPath(remoteName)); err == nil {
			removed++
		}
	}

	success := removed > 0
	e.recordJournal(ctx, "delete", remoteName, success, start)
	e.notify(Progress{Phase: PhaseComplete})

	if !success {
		return ncerrors.New(ncerrors.Io, "manifest was not removed from any configured server")
	}
	return nil
}

// --- List ---------------------------------------------------------------

// List scans every configured server's manifest directory and returns
// one Manifest per distinct remote_name.
func (e *Engine) List(ctx context.Context) ([]*manifest.Manifest, error) {
	_, span := tracer.Start(ctx, "engine.List")
	defer span.End()

	e.notify(Progress{Phase: PhaseListing})

	seen := make(map[string]*manifest.Manifest)
	for _, desc := range e.Registry.List() {
		store, err := e.store(desc.ID)
		if err != nil {
			continue
		}
		entries, err := store.List(ctx, blobstore.ManifestDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			data, err := store.Get(ctx, entry.Path)
			if err != nil {
				continue
			}
			m, err := manifest.Decode(data)
			if err != nil {
				if e.Logger != nil {
					e.Logger.Warn("skipping unreadable manifest at " + entry.Path)
				}
				continue
			}
			m.RemoteName = remoteNameFromManifestPath(entry.Path)
			if _, ok := seen[m.RemoteName]; !ok {
				seen[m.RemoteName] = m
			}
		}
	}

	out := make([]*manifest.Manifest, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ManifestID < out[j].ManifestID })

	e.notify(Progress{Phase: PhaseComplete, Current: len(out), Total: len(out)})
	return out, nil
}

// --- Verify ---------------------------------------------------------------

// Verify is a thin wrapper that loads the manifest and delegates to
// Repair.
func (e *Engine) Verify(ctx context.Context, remoteName string, repair bool) (RepairStats, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.Verify", trace.WithAttributes(attribute.String("remote_name", remoteName)))
	defer span.End()

	e.notify(Progress{Phase: PhaseVerifying})

	if e.Repair == nil {
		return RepairStats{}, ncerrors.New(ncerrors.InvalidInput, "no repair runner configured")
	}

	m, err := e.locateManifest(ctx, remoteName)
	if err != nil {
		e.recordJournal(ctx, "verify", remoteName, false, start)
		return RepairStats{}, err
	}
	m.RemoteName = remoteName

	stats, err := e.Repair.Run(ctx, m, repair)
	success := err == nil
	e.recordJournal(ctx, "verify", remoteName, success, start)

	if e.Metrics != nil {
		e.Metrics.SetChunkHealthCounts(stats.Healthy, stats.Degraded, stats.Critical, stats.Lost)
	}

	e.notify(Progress{Phase: PhaseComplete, Current: stats.ChunksVerified, Total: stats.ChunksVerified})
	return stats, err
}

// remoteNameFromManifestPath recovers remote_name from a manifest
// object's path, inverting blobstore.ManifestPath, so List can
// deduplicate by remote_name. Manifest.RemoteName is never
// serialized (json:"-"), so List is the only place this round-trip is
// needed — Upload/Download/Verify already know remote_name from their
// caller.
func remoteNameFromManifestPath(path string) string {
	name := strings.TrimPrefix(path, blobstore.ManifestDir+"/")
	return strings.TrimSuffix(name, ".json")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func isNCErr(err error) bool {
	_, ok := err.(*ncerrors.Error)
	return ok
}
