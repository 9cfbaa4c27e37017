package blobstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/quantarax/netchunk/internal/ncerrors"
)

func TestChunkPathIsPureAndDeterministic(t *testing.T) {
	a := ChunkPath("m1", 5, "chunkid")
	b := ChunkPath("m1", 5, "chunkid")
	if a != b {
		t.Fatalf("ChunkPath is not deterministic: %q vs %q", a, b)
	}
	if ChunkPath("m1", 5, "chunkid") == ChunkPath("m1", 6, "chunkid") {
		t.Fatalf("different sequences must not collide")
	}
}

func TestManifestPathIsDeterministic(t *testing.T) {
	if ManifestPath("file.bin") != ManifestPath("file.bin") {
		t.Fatalf("ManifestPath is not deterministic")
	}
}

func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("put_get_round_trip", func(t *testing.T) {
		s := newStore(t)
		if err := s.Put(ctx, "chunks/m1/00-abc", []byte("payload")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(ctx, "chunks/m1/00-abc")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != "payload" {
			t.Fatalf("expected payload, got %q", got)
		}
	})

	t.Run("get_missing_is_not_found", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, "does/not/exist"); !ncerrors.Is(err, ncerrors.NotFound) {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})

	t.Run("delete_is_idempotent", func(t *testing.T) {
		s := newStore(t)
		if err := s.Put(ctx, "a", []byte("x")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.Delete(ctx, "a"); err != nil {
			t.Fatalf("first Delete: %v", err)
		}
		if err := s.Delete(ctx, "a"); err != nil {
			t.Fatalf("second Delete on missing object should not error: %v", err)
		}
	})

	t.Run("put_overwrites", func(t *testing.T) {
		s := newStore(t)
		if err := s.Put(ctx, "a", []byte("first")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.Put(ctx, "a", []byte("second")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(ctx, "a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != "second" {
			t.Fatalf("expected overwritten value, got %q", got)
		}
	})

	t.Run("stat_reports_size", func(t *testing.T) {
		s := newStore(t)
		if err := s.Put(ctx, "a", []byte("12345")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		info, err := s.Stat(ctx, "a")
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if info.Size != 5 {
			t.Fatalf("expected size 5, got %d", info.Size)
		}
	})

	t.Run("list_returns_direct_children", func(t *testing.T) {
		s := newStore(t)
		if err := s.Put(ctx, "manifests/a.json", []byte("{}")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.Put(ctx, "manifests/b.json", []byte("{}")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		entries, err := s.List(ctx, "manifests")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
		}
	})

	t.Run("mkdir_then_list_empty", func(t *testing.T) {
		s := newStore(t)
		if err := s.Mkdir(ctx, "empty-dir"); err != nil {
			t.Fatalf("Mkdir: %v", err)
		}
		entries, err := s.List(ctx, "empty-dir")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(entries) != 0 {
			t.Fatalf("expected empty listing, got %+v", entries)
		}
	})

	t.Run("ping_succeeds", func(t *testing.T) {
		s := newStore(t)
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}

func TestMemStoreContract(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemStore() })
}

func TestDirStoreContract(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := NewDirStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewDirStore: %v", err)
		}
		return s
	})
}

func TestMemStoreSetDownFailsOperations(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	s.SetDown(true)
	if err := s.Put(ctx, "a", []byte("x")); !ncerrors.Is(err, ncerrors.Transport) {
		t.Fatalf("expected Transport error while down, got %v", err)
	}
}

func TestMemStoreCorruptObjectChangesBytesNotSize(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	if err := s.Put(ctx, "a", []byte("payload!")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.CorruptObject("a")
	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) == "payload!" {
		t.Fatalf("expected corrupted bytes to differ from original")
	}
	if len(got) != len("payload!") {
		t.Fatalf("corruption should not change size")
	}
}

func TestDirStorePutCreatesParentDirectories(t *testing.T) {
	ctx := context.Background()
	s, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	if err := s.Put(ctx, "chunks/m1/deep/nested-0", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Get(ctx, "chunks/m1/deep/nested-0"); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestDirStoreNoTempFileLeftBehind(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewDirStore(dir)
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	if err := s.Put(ctx, "a", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no leftover temp files, got %v", matches)
	}
}
