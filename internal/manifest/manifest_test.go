package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/quantarax/netchunk/internal/hasher"
	"github.com/quantarax/netchunk/internal/ncerrors"
)

func sampleFileHash() hasher.Digest {
	d, _ := hasher.SumBytes([]byte("sample file contents"))
	return d
}

func TestNewRejectsBadReplicationFactor(t *testing.T) {
	fh := sampleFileHash()
	if _, err := New("m1", "file.bin", "file.bin", 100, 10, fh, 0, 1); !ncerrors.Is(err, ncerrors.InvalidInput) {
		t.Fatalf("expected InvalidInput for replication_factor 0, got %v", err)
	}
	if _, err := New("m1", "file.bin", "file.bin", 100, 10, fh, MaxReplicas+1, 1); !ncerrors.Is(err, ncerrors.InvalidInput) {
		t.Fatalf("expected InvalidInput for replication_factor over max, got %v", err)
	}
}

func TestNewRejectsBadMinReplicas(t *testing.T) {
	fh := sampleFileHash()
	if _, err := New("m1", "file.bin", "file.bin", 100, 10, fh, 3, 0); !ncerrors.Is(err, ncerrors.InvalidInput) {
		t.Fatalf("expected InvalidInput for min_replicas_required 0, got %v", err)
	}
	if _, err := New("m1", "file.bin", "file.bin", 100, 10, fh, 3, 4); !ncerrors.Is(err, ncerrors.InvalidInput) {
		t.Fatalf("expected InvalidInput for min_replicas_required > replication_factor, got %v", err)
	}
}

func TestNewComputesChunkCount(t *testing.T) {
	fh := sampleFileHash()
	m, err := New("m1", "file.bin", "file.bin", 105, 10, fh, 2, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.ChunkCount != 11 {
		t.Fatalf("expected chunk_count 11 for ceil(105/10), got %d", m.ChunkCount)
	}
}

func TestAppendChunkEnforcesOrder(t *testing.T) {
	fh := sampleFileHash()
	m, err := New("m1", "file.bin", "file.bin", 20, 10, fh, 2, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.AppendChunk(Chunk{Sequence: 1}); !ncerrors.Is(err, ncerrors.InvalidInput) {
		t.Fatalf("expected InvalidInput for out-of-order append, got %v", err)
	}
	if err := m.AppendChunk(Chunk{Sequence: 0}); err != nil {
		t.Fatalf("unexpected error appending sequence 0: %v", err)
	}
	if err := m.AppendChunk(Chunk{Sequence: 1}); err != nil {
		t.Fatalf("unexpected error appending sequence 1: %v", err)
	}
}

// TestRoundTrip verifies the manifest round-trip property:
// encode then decode reproduces the same logical manifest.
func TestRoundTrip(t *testing.T) {
	fh := sampleFileHash()
	m, err := New("m1", "file.bin", "file.bin", 10, 10, fh, 2, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.AppendChunk(Chunk{
		ID:       "00000000abcd01234567",
		Sequence: 0,
		Size:     10,
		Hash:     hasher.EncodeHex(fh),
		Locations: []Placement{
			{ServerID: "s1", RemotePath: "/data/x", Verified: true},
		},
	}); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.ManifestID != m.ManifestID || decoded.ChunkCount != m.ChunkCount {
		t.Fatalf("round-tripped manifest mismatch: %+v vs %+v", decoded, m)
	}
	if len(decoded.Chunks) != 1 || decoded.Chunks[0].ID != "00000000abcd01234567" {
		t.Fatalf("round-tripped chunk mismatch: %+v", decoded.Chunks)
	}
}

func TestDecodeToleratesUnknownKeysAndWhitespace(t *testing.T) {
	raw := `{
	  "version": "1.0",
	  "manifest_id": "m1",
	  "original_filename": "f.bin",
	  "total_size": 10,
	  "chunk_size": 10,
	  "chunk_count": 1,
	  "file_hash": "` + hasher.EncodeHex(sampleFileHash()) + `",
	  "created_timestamp": 1700000000,
	  "last_accessed": 1700000000,
	  "last_modified": 1700000000,
	  "last_verified": 0,
	  "replication_factor": 2,
	  "min_replicas_required": 1,
	  "future_field_from_a_newer_client": {"nested": true},
	  "chunks": [
	    {"id": "x", "sequence_number": 0, "size": 10,
	     "created_timestamp": 1700000000,
	     "hash": "` + hasher.EncodeHex(sampleFileHash()) + `",
	     "locations": []}
	  ]
	}`
	m, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.ManifestID != "m1" {
		t.Fatalf("unexpected manifest id %q", m.ManifestID)
	}
}

func TestDecodeAcceptsOriginalSizeAlias(t *testing.T) {
	raw := `{
	  "version": "1.0",
	  "manifest_id": "m1",
	  "original_filename": "f.bin",
	  "original_size": 10,
	  "chunk_size": 10,
	  "chunk_count": 1,
	  "file_hash": "` + hasher.EncodeHex(sampleFileHash()) + `",
	  "created_timestamp": 1700000000,
	  "last_accessed": 1700000000,
	  "last_modified": 1700000000,
	  "last_verified": 0,
	  "replication_factor": 1,
	  "min_replicas_required": 1,
	  "chunks": [
	    {"id": "x", "sequence_number": 0, "size": 10,
	     "created_timestamp": 1700000000,
	     "hash": "` + hasher.EncodeHex(sampleFileHash()) + `",
	     "locations": []}
	  ]
	}`
	m, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.TotalSize != 10 {
		t.Fatalf("expected total_size 10 from original_size alias, got %d", m.TotalSize)
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("unmarshal generic: %v", err)
	}
	if _, present := generic["original_size"]; present {
		t.Fatalf("original_size must never be re-emitted")
	}
}

func TestDecodeToleratesIntegerValuedFloats(t *testing.T) {
	raw := `{
	  "version": "1.0",
	  "manifest_id": "m1",
	  "original_filename": "f.bin",
	  "total_size": 10.0,
	  "chunk_size": 10.0,
	  "chunk_count": 1,
	  "file_hash": "` + hasher.EncodeHex(sampleFileHash()) + `",
	  "created_timestamp": 1700000000.0,
	  "last_accessed": 1700000000,
	  "last_modified": 1700000000,
	  "last_verified": 0,
	  "replication_factor": 2.0,
	  "min_replicas_required": 1,
	  "chunks": [
	    {"id": "x", "sequence_number": 0.0, "size": 10.0,
	     "created_timestamp": 1700000000,
	     "hash": "` + hasher.EncodeHex(sampleFileHash()) + `",
	     "locations": [
	       {"server_id": "s1", "remote_path": "/x", "verified": true,
	        "upload_time": 1700000000.0, "last_verified": 0}
	     ]}
	  ]
	}`
	m, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.TotalSize != 10 {
		t.Fatalf("expected total_size 10, got %d", m.TotalSize)
	}
	if m.ChunkSize != 10 {
		t.Fatalf("expected chunk_size 10, got %d", m.ChunkSize)
	}
	if m.ReplicationFactor != 2 {
		t.Fatalf("expected replication_factor 2, got %d", m.ReplicationFactor)
	}
	if len(m.Chunks) != 1 || m.Chunks[0].Size != 10 {
		t.Fatalf("unexpected chunk decode: %+v", m.Chunks)
	}
}

func TestDecodeRejectsNonIntegerValuedFloat(t *testing.T) {
	raw := `{
	  "version": "1.0",
	  "manifest_id": "m1",
	  "total_size": 500.5,
	  "chunk_size": 10,
	  "chunk_count": 1,
	  "replication_factor": 1,
	  "min_replicas_required": 1,
	  "chunks": []
	}`
	_, err := Decode([]byte(raw))
	if !ncerrors.Is(err, ncerrors.ManifestCorrupt) {
		t.Fatalf("expected ManifestCorrupt for non-integer-valued total_size, got %v", err)
	}
}

func TestDecodeMissingTotalSizeIsCorrupt(t *testing.T) {
	raw := `{"version":"1.0","manifest_id":"m1","chunk_size":10,"chunks":[]}`
	_, err := Decode([]byte(raw))
	if !ncerrors.Is(err, ncerrors.ManifestCorrupt) {
		t.Fatalf("expected ManifestCorrupt, got %v", err)
	}
}

func TestDecodeMissingVersionIsCorrupt(t *testing.T) {
	raw := `{"manifest_id":"m1","total_size":10,"chunk_size":10,"chunks":[]}`
	_, err := Decode([]byte(raw))
	if !ncerrors.Is(err, ncerrors.ManifestCorrupt) {
		t.Fatalf("expected ManifestCorrupt, got %v", err)
	}
}

func TestValidateCatchesChunkCountMismatch(t *testing.T) {
	fh := sampleFileHash()
	m, err := New("m1", "file.bin", "file.bin", 20, 10, fh, 1, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.ChunkCount = 5
	if err := m.Validate(); !ncerrors.Is(err, ncerrors.ManifestCorrupt) {
		t.Fatalf("expected ManifestCorrupt for chunk_count mismatch, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fh := sampleFileHash()
	m, err := New("m1", "file.bin", "file.bin", 10, 10, fh, 1, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.AppendChunk(Chunk{ID: "x", Sequence: 0, Size: 10, Hash: hasher.EncodeHex(fh)}); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	if err := m.Save(path, true, 3); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file should not survive a successful save")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ManifestID != m.ManifestID {
		t.Fatalf("loaded manifest id mismatch")
	}

	// Saving again over an existing file with keepBackup should produce
	// exactly one backup file.
	if err := m.Save(path, true, 3); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	backups := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" && e.Name() != "manifest.json" {
			backups++
		}
	}
	if backups != 1 {
		t.Fatalf("expected exactly 1 backup file, got %d", backups)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if !ncerrors.Is(err, ncerrors.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestBackupPruningBoundsCount(t *testing.T) {
	fh := sampleFileHash()
	m, err := New("m1", "file.bin", "file.bin", 10, 10, fh, 1, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	if err := m.Save(path, false, 0); err != nil {
		t.Fatalf("initial Save: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := backupManifest(path, 2); err != nil {
			t.Fatalf("backupManifest: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	backups := 0
	for _, e := range entries {
		if e.Name() != "manifest.json" {
			backups++
		}
	}
	if backups > 2 {
		t.Fatalf("expected at most 2 retained backups, got %d", backups)
	}
}
