package blobstore

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/quantarax/netchunk/internal/ncerrors"
)

// MemStore is a pure in-memory Store, used by every unit and property
// test in the core packages. It has genuine put/get/delete/stat/list/
// mkdir/ping semantics — never a stub that silently succeeds without
// effect — with directories tracked explicitly so Mkdir and List behave
// the way a real filesystem-backed adapter would.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	dirs    map[string]bool
	down    bool
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[string][]byte),
		dirs:    map[string]bool{"": true},
	}
}

// SetDown flips the store's Ping (and, for repair/health test
// scenarios, every other operation) to fail, simulating a server that
// has gone unreachable.
func (m *MemStore) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

func (m *MemStore) checkDown() error {
	if m.down {
		return ncerrors.New(ncerrors.Transport, "server unreachable")
	}
	return nil
}

func (m *MemStore) ensureDir(p string) {
	dir := path.Dir(p)
	for dir != "." && dir != "/" && dir != "" {
		m.dirs[dir] = true
		parent := path.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}

func (m *MemStore) Put(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return ncerrors.Wrap(ncerrors.Cancelled, "put cancelled", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkDown(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[p] = cp
	m.ensureDir(p)
	return nil
}

func (m *MemStore) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, ncerrors.Wrap(ncerrors.Cancelled, "get cancelled", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkDown(); err != nil {
		return nil, err
	}
	data, ok := m.objects[p]
	if !ok {
		return nil, ncerrors.New(ncerrors.NotFound, "object not found: "+p)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemStore) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return ncerrors.Wrap(ncerrors.Cancelled, "delete cancelled", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkDown(); err != nil {
		return err
	}
	delete(m.objects, p)
	return nil
}

func (m *MemStore) Stat(ctx context.Context, p string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, ncerrors.Wrap(ncerrors.Cancelled, "stat cancelled", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkDown(); err != nil {
		return ObjectInfo{}, err
	}
	data, ok := m.objects[p]
	if !ok {
		return ObjectInfo{}, ncerrors.New(ncerrors.NotFound, "object not found: "+p)
	}
	return ObjectInfo{Path: p, Size: int64(len(data))}, nil
}

func (m *MemStore) List(ctx context.Context, dir string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, ncerrors.Wrap(ncerrors.Cancelled, "list cancelled", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkDown(); err != nil {
		return nil, err
	}

	dir = strings.TrimSuffix(dir, "/")
	var out []ObjectInfo
	for p, data := range m.objects {
		if path.Dir(p) == dir {
			out = append(out, ObjectInfo{Path: p, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (m *MemStore) Mkdir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return ncerrors.Wrap(ncerrors.Cancelled, "mkdir cancelled", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkDown(); err != nil {
		return err
	}
	m.dirs[strings.TrimSuffix(dir, "/")] = true
	return nil
}

func (m *MemStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ncerrors.Wrap(ncerrors.Cancelled, "ping cancelled", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkDown()
}

var _ Store = (*MemStore)(nil)

// CorruptObject overwrites the stored bytes at p with garbage, without
// changing its size, for corruption-detection test scenarios: a
// bit-flip must be detected, never silently accepted.
func (m *MemStore) CorruptObject(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[p]
	if !ok || len(data) == 0 {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	cp[0] ^= 0xff
	m.objects[p] = cp
}

// RemoveObject deletes the object at p directly, bypassing the Store
// interface's idempotent-delete semantics, for simulating a replica
// that has vanished from under the manifest (used by Lost/Critical
// classification tests).
func (m *MemStore) RemoveObject(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, p)
}
