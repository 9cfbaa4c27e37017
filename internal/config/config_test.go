package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/quantarax/netchunk/internal/ncerrors"
)

func writeConfigFile(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadAppliesDefaultsForOmittedKeys(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"replication_factor": 2,
	})
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChunkSize != Default().ChunkSize {
		t.Fatalf("expected default chunk_size to survive, got %d", cfg.ChunkSize)
	}
	if cfg.ReplicationFactor != 2 {
		t.Fatalf("expected replication_factor 2, got %d", cfg.ReplicationFactor)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if !ncerrors.Is(err, ncerrors.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := Load(path)
	if !ncerrors.Is(err, ncerrors.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestValidateRejectsChunkSizeOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.ChunkSize = 0
	if err := cfg.Validate(); !ncerrors.Is(err, ncerrors.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestValidateRejectsReplicationFactorExceedingServerCount(t *testing.T) {
	cfg := Default()
	cfg.ReplicationFactor = 3
	cfg.Servers = []ServerConfig{{ID: "s1"}, {ID: "s2"}}
	if err := cfg.Validate(); !ncerrors.Is(err, ncerrors.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestValidateRejectsMinReplicasAboveReplicationFactor(t *testing.T) {
	cfg := Default()
	cfg.ReplicationFactor = 2
	cfg.MinReplicasRequired = 3
	if err := cfg.Validate(); !ncerrors.Is(err, ncerrors.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestValidateRejectsDuplicateServerIDs(t *testing.T) {
	cfg := Default()
	cfg.ReplicationFactor = 1
	cfg.Servers = []ServerConfig{{ID: "dup"}, {ID: "dup"}}
	if err := cfg.Validate(); !ncerrors.Is(err, ncerrors.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestBuildRegistryRegistersEveryServer(t *testing.T) {
	cfg := Default()
	cfg.ReplicationFactor = 1
	cfg.Servers = []ServerConfig{
		{ID: "s1", Address: "ftp.example.com", Port: 21},
		{ID: "s2", Address: "ftp2.example.com", Port: 2121, UseTLS: true},
	}
	reg, err := cfg.BuildRegistry()
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	if reg.Count() != 2 {
		t.Fatalf("expected 2 servers, got %d", reg.Count())
	}
	if !reg.Known("s2") {
		t.Fatalf("expected s2 to be known")
	}
}
