// Package server holds the in-memory registry of configured storage
// servers and their last-known health. Server descriptors are owned
// externally, by configuration: the core only ever reads the registry
// snapshot and writes the `id` field into Placements.
package server

import (
	"sync"
	"time"

	"github.com/quantarax/netchunk/internal/ncerrors"
)

// Descriptor is one configured storage server.
type Descriptor struct {
	ID       string
	Address  string
	Port     int
	Username string
	Password string
	UseTLS   bool
	BasePath string
	Priority int
}

// Health is the last-known reachability state of a server, updated by
// health probes and consulted by the Placer.
type Health struct {
	Available   bool
	LastChecked time.Time
	LastError   string
}

type entry struct {
	desc   Descriptor
	health Health
}

// Registry is the in-memory, thread-safe set of configured servers.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{servers: make(map[string]*entry)}
}

// Add registers a server descriptor. Duplicate IDs are rejected.
func (r *Registry) Add(desc Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if desc.ID == "" {
		return ncerrors.New(ncerrors.InvalidInput, "server id must not be empty")
	}
	if _, exists := r.servers[desc.ID]; exists {
		return ncerrors.New(ncerrors.InvalidInput, "server id already registered: "+desc.ID)
	}
	r.servers[desc.ID] = &entry{desc: desc, health: Health{Available: true}}
	return nil
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.servers[id]
	if !ok {
		return Descriptor{}, ncerrors.New(ncerrors.NotFound, "unknown server id: "+id)
	}
	return e.desc, nil
}

// Known reports whether id refers to a currently-configured server. A
// Placement's server_id may outlive the server it names; callers treat
// an unknown id as a dangling reference, not an error.
func (r *Registry) Known(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.servers[id]
	return ok
}

// List returns every registered descriptor, in no particular order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.servers))
	for _, e := range r.servers {
		out = append(out, e.desc)
	}
	return out
}

// SetHealth records the outcome of a health probe for id.
func (r *Registry) SetHealth(id string, available bool, probeErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.servers[id]
	if !ok {
		return
	}
	e.health.Available = available
	e.health.LastChecked = time.Now().UTC()
	if probeErr != nil {
		e.health.LastError = probeErr.Error()
	} else {
		e.health.LastError = ""
	}
}

// HealthOf returns the last-known health for id.
func (r *Registry) HealthOf(id string) Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.servers[id]
	if !ok {
		return Health{}
	}
	return e.health
}

// Snapshot is a read-only view of one server as the Placer sees it:
// descriptor plus health plus the chunk count it currently carries for
// the manifest under consideration.
type Snapshot struct {
	Descriptor Descriptor
	Health     Health
	ChunkCount int
}

// Snapshots returns a Placer-ready view of every registered server,
// with chunkCounts supplying the current per-server chunk count for
// the manifest being placed (caller-computed from manifest state; the
// Registry has no notion of manifests).
func (r *Registry) Snapshots(chunkCounts map[string]int) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.servers))
	for id, e := range r.servers {
		out = append(out, Snapshot{
			Descriptor: e.desc,
			Health:     e.health,
			ChunkCount: chunkCounts[id],
		})
	}
	return out
}

// Count returns the number of registered servers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}
