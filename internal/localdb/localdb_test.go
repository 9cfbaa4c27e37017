package localdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestManifestCachePutLookupForget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := OpenManifestCache(path)
	if err != nil {
		t.Fatalf("OpenManifestCache: %v", err)
	}
	defer c.Close()

	if _, ok := c.Lookup("missing.bin"); ok {
		t.Fatalf("expected cache miss for unknown remote_name")
	}

	if err := c.Put("file.bin", "manifest-123"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	id, ok := c.Lookup("file.bin")
	if !ok || id != "manifest-123" {
		t.Fatalf("expected cache hit manifest-123, got %q ok=%v", id, ok)
	}

	if err := c.Forget("file.bin"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, ok := c.Lookup("file.bin"); ok {
		t.Fatalf("expected cache miss after Forget")
	}
}

func TestManifestCachePrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := OpenManifestCache(path)
	if err != nil {
		t.Fatalf("OpenManifestCache: %v", err)
	}
	defer c.Close()

	if err := c.Put("old.bin", "manifest-old"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	removed, err := c.Prune(0)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 entry pruned, got %d", removed)
	}
	if c.Count() != 0 {
		t.Fatalf("expected empty cache after pruning, got %d entries", c.Count())
	}
}

func TestJournalRecordAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	defer j.Close()

	ctx := context.Background()
	if err := j.Record(ctx, "upload", "a.bin", true, 150*time.Millisecond); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := j.Record(ctx, "download", "a.bin", false, 50*time.Millisecond); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Verb != "download" || entries[0].Success {
		t.Fatalf("expected most recent entry to be the failed download, got %+v", entries[0])
	}
	if entries[1].Verb != "upload" || !entries[1].Success {
		t.Fatalf("expected second entry to be the successful upload, got %+v", entries[1])
	}
}

func TestJournalRecordOperationNeverPanicsOnSwallowedError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	j.Close()

	// db is closed: RecordOperation must swallow the resulting error
	// rather than panicking, since engine.Journal.RecordOperation
	// returns nothing.
	j.RecordOperation(context.Background(), "upload", "a.bin", true, time.Second)
}
