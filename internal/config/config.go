// Package config loads and validates NetChunk's configuration keys.
// This package is the thin, externally-facing boundary that turns a
// JSON config file into validated values the core components consume.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/quantarax/netchunk/internal/chunker"
	"github.com/quantarax/netchunk/internal/manifest"
	"github.com/quantarax/netchunk/internal/ncerrors"
	"github.com/quantarax/netchunk/internal/server"
)

// Config holds every recognized configuration key.
type Config struct {
	ChunkSize               int            `json:"chunk_size"`
	ReplicationFactor       int            `json:"replication_factor"`
	MinReplicasRequired     int            `json:"min_replicas_required"`
	MaxConcurrentOperations int            `json:"max_concurrent_operations"`
	MaxRetryAttempts        int            `json:"max_retry_attempts"`
	AutoRepairEnabled       bool           `json:"auto_repair_enabled"`
	RepairDelaySeconds      int            `json:"repair_delay_seconds"`
	RebalancingEnabled      bool           `json:"rebalancing_enabled"`
	AlwaysVerifyIntegrity   bool           `json:"always_verify_integrity"`
	MaxBackups              int            `json:"max_backups"`
	LocalDBDir              string         `json:"local_db_dir"`
	Servers                 []ServerConfig `json:"servers"`
}

// ServerConfig is the on-disk shape of one configured storage server.
type ServerConfig struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	UseTLS   bool   `json:"use_tls"`
	BasePath string `json:"base_path"`
	Priority int    `json:"priority"`
}

// Default returns the sane defaults that Load decodes a config file
// over, so any key the file omits keeps its value from here.
func Default() Config {
	return Config{
		ChunkSize:               chunker.DefaultChunkSize,
		ReplicationFactor:       3,
		MinReplicasRequired:     1,
		MaxConcurrentOperations: 4,
		MaxRetryAttempts:        3,
		AutoRepairEnabled:       false,
		RepairDelaySeconds:      30,
		RebalancingEnabled:      false,
		AlwaysVerifyIntegrity:   false,
		MaxBackups:              3,
	}
}

// Load reads and validates a Config from a JSON file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, ncerrors.Wrap(ncerrors.NotFound, "config file not found", err)
		}
		return Config{}, ncerrors.Wrap(ncerrors.Io, "read config file", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, ncerrors.Wrap(ncerrors.InvalidInput, "parse config json", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every configuration key against its documented
// bounds.
func (c Config) Validate() error {
	if c.ChunkSize < chunker.MinChunkSize || c.ChunkSize > chunker.MaxChunkSize {
		return ncerrors.New(ncerrors.InvalidInput, fmt.Sprintf("chunk_size %d out of range [%d,%d]", c.ChunkSize, chunker.MinChunkSize, chunker.MaxChunkSize))
	}
	if c.ReplicationFactor < 1 || c.ReplicationFactor > manifest.MaxReplicas {
		return ncerrors.New(ncerrors.InvalidInput, fmt.Sprintf("replication_factor %d out of range [1,%d]", c.ReplicationFactor, manifest.MaxReplicas))
	}
	if len(c.Servers) > 0 && c.ReplicationFactor > len(c.Servers) {
		return ncerrors.New(ncerrors.InvalidInput, fmt.Sprintf("replication_factor %d exceeds configured server_count %d", c.ReplicationFactor, len(c.Servers)))
	}
	if c.MinReplicasRequired < 1 || c.MinReplicasRequired > c.ReplicationFactor {
		return ncerrors.New(ncerrors.InvalidInput, fmt.Sprintf("min_replicas_required %d out of range [1,%d]", c.MinReplicasRequired, c.ReplicationFactor))
	}
	if c.MaxConcurrentOperations < 1 {
		return ncerrors.New(ncerrors.InvalidInput, "max_concurrent_operations must be >= 1")
	}
	if c.MaxRetryAttempts < 1 {
		return ncerrors.New(ncerrors.InvalidInput, "max_retry_attempts must be >= 1")
	}
	seen := make(map[string]bool, len(c.Servers))
	for _, s := range c.Servers {
		if s.ID == "" {
			return ncerrors.New(ncerrors.InvalidInput, "server entry missing id")
		}
		if seen[s.ID] {
			return ncerrors.New(ncerrors.InvalidInput, "duplicate server id: "+s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// RepairDelay returns RepairDelaySeconds as a time.Duration.
func (c Config) RepairDelay() time.Duration {
	return time.Duration(c.RepairDelaySeconds) * time.Second
}

// BuildRegistry constructs a server.Registry from the configured server
// list.
func (c Config) BuildRegistry() (*server.Registry, error) {
	reg := server.New()
	for _, s := range c.Servers {
		err := reg.Add(server.Descriptor{
			ID:       s.ID,
			Address:  s.Address,
			Port:     s.Port,
			Username: s.Username,
			Password: s.Password,
			UseTLS:   s.UseTLS,
			BasePath: s.BasePath,
			Priority: s.Priority,
		})
		if err != nil {
			return nil, err
		}
	}
	return reg, nil
}
