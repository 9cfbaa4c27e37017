// Package manifest is the in-memory model of one stored file: file-level
// metadata, ordered chunk records, and per-chunk replica placements,
// plus the JSON codec and atomic save/load. The on-wire schema is a flat
// object with unix-second timestamps; it carries no domain-profile
// extensions (media/medical/engineering/telemetry/DTN/FEC/network
// profiles are out of scope for this manifest).
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/quantarax/netchunk/internal/hasher"
	"github.com/quantarax/netchunk/internal/ncerrors"
)

// MaxReplicas bounds how many Placements a single chunk may carry.
const MaxReplicas = 16

// FormatVersion is the only manifest wire-format version this build
// writes and reads.
const FormatVersion = "1.0"

// Placement records where one replica of one chunk lives.
type Placement struct {
	ServerID     string    `json:"server_id"`
	RemotePath   string    `json:"remote_path"`
	UploadedAt   time.Time `json:"upload_time"`
	Verified     bool      `json:"verified"`
	LastVerified time.Time `json:"last_verified"`
}

// Chunk is one manifest chunk record: metadata only, never the payload
// (the payload is transient and lives only in flight during upload,
// download, or verify).
type Chunk struct {
	ID        string      `json:"id"`
	Sequence  int         `json:"sequence_number"`
	Size      int         `json:"size"`
	CreatedAt time.Time   `json:"created_timestamp"`
	Hash      string      `json:"hash"`
	Locations []Placement `json:"locations"`
}

// Manifest is the complete, serializable metadata for one stored file.
type Manifest struct {
	Version              string    `json:"version"`
	ManifestID            string    `json:"manifest_id"`
	RemoteName            string    `json:"-"`
	OriginalFilename      string    `json:"original_filename"`
	TotalSize             int64     `json:"total_size"`
	ChunkSize             int       `json:"chunk_size"`
	ChunkCount            int       `json:"chunk_count"`
	FileHash              string    `json:"file_hash"`
	CreatedTimestamp      time.Time `json:"created_timestamp"`
	LastAccessed          time.Time `json:"last_accessed"`
	LastModified          time.Time `json:"last_modified"`
	LastVerified          time.Time `json:"last_verified"`
	ReplicationFactor     int       `json:"replication_factor"`
	MinReplicasRequired   int       `json:"min_replicas_required"`
	CreatorInfo           string    `json:"creator_info,omitempty"`
	Comment               string    `json:"comment,omitempty"`
	Chunks                []Chunk   `json:"chunks"`
}

// New creates an empty Manifest seeded with the fields the Engine knows
// before any chunk is placed.
func New(manifestID, remoteName, originalFilename string, totalSize int64, chunkSize int, fileHash hasher.Digest, replicationFactor, minReplicasRequired int) (*Manifest, error) {
	if replicationFactor < 1 || replicationFactor > MaxReplicas {
		return nil, ncerrors.New(ncerrors.InvalidInput, fmt.Sprintf("replication_factor %d out of range [1,%d]", replicationFactor, MaxReplicas))
	}
	if minReplicasRequired < 1 || minReplicasRequired > replicationFactor {
		return nil, ncerrors.New(ncerrors.InvalidInput, fmt.Sprintf("min_replicas_required %d out of range [1,%d]", minReplicasRequired, replicationFactor))
	}

	chunkCount := 0
	if totalSize > 0 {
		chunkCount = int((totalSize + int64(chunkSize) - 1) / int64(chunkSize))
	}

	now := time.Now().UTC()
	return &Manifest{
		Version:             FormatVersion,
		ManifestID:          manifestID,
		RemoteName:          remoteName,
		OriginalFilename:    originalFilename,
		TotalSize:           totalSize,
		ChunkSize:           chunkSize,
		ChunkCount:          chunkCount,
		FileHash:            hasher.EncodeHex(fileHash),
		CreatedTimestamp:    now,
		LastAccessed:        now,
		LastModified:        now,
		LastVerified:        time.Time{},
		ReplicationFactor:   replicationFactor,
		MinReplicasRequired: minReplicasRequired,
		Chunks:              make([]Chunk, 0, chunkCount),
	}, nil
}

// AppendChunk records one completed chunk. Callers must append in
// strict sequence order (invariant 3); AppendChunk enforces this.
func (m *Manifest) AppendChunk(c Chunk) error {
	if c.Sequence != len(m.Chunks) {
		return ncerrors.New(ncerrors.InvalidInput, fmt.Sprintf("chunk appended out of order: got sequence %d, expected %d", c.Sequence, len(m.Chunks)))
	}
	m.Chunks = append(m.Chunks, c)
	m.LastModified = time.Now().UTC()
	return nil
}

// Validate checks the invariants that are checkable without remote
// access: chunk_count consistency, chunk ordering, and replication
// bounds. Replica-placement and health invariants require transport
// and are Repair's province.
func (m *Manifest) Validate() error {
	wantChunks := 0
	if m.TotalSize > 0 {
		wantChunks = int((m.TotalSize + int64(m.ChunkSize) - 1) / int64(m.ChunkSize))
	}
	if m.ChunkCount != wantChunks {
		return ncerrors.New(ncerrors.ManifestCorrupt, fmt.Sprintf("chunk_count %d does not match ceil(total_size/chunk_size) = %d", m.ChunkCount, wantChunks))
	}
	if len(m.Chunks) != m.ChunkCount {
		return ncerrors.New(ncerrors.ManifestCorrupt, fmt.Sprintf("chunk_count %d does not match len(chunks) %d", m.ChunkCount, len(m.Chunks)))
	}
	for i, c := range m.Chunks {
		if c.Sequence != i {
			return ncerrors.New(ncerrors.ManifestCorrupt, fmt.Sprintf("chunk at index %d has sequence %d", i, c.Sequence))
		}
	}
	if m.ReplicationFactor < 1 || m.ReplicationFactor > MaxReplicas {
		return ncerrors.New(ncerrors.ManifestCorrupt, fmt.Sprintf("replication_factor %d out of range [1,%d]", m.ReplicationFactor, MaxReplicas))
	}
	if m.MinReplicasRequired < 1 || m.MinReplicasRequired > m.ReplicationFactor {
		return ncerrors.New(ncerrors.ManifestCorrupt, fmt.Sprintf("min_replicas_required %d out of range [1,%d]", m.MinReplicasRequired, m.ReplicationFactor))
	}
	return nil
}

// rawManifest mirrors Manifest's JSON shape but with numeric timestamp
// fields, matching the on-wire format's unix-seconds convention. It
// also carries original_size as an alias input for total_size (open
// question: original_size is accepted on decode, never (re-)emitted).
// Numeric fields are json.Number rather than int64/int so decode can
// tolerate integer-valued floats (an older or foreign client emitting
// "total_size": 500.0 must still parse).
type rawManifest struct {
	Version             string        `json:"version"`
	ManifestID          string        `json:"manifest_id"`
	OriginalFilename    string        `json:"original_filename"`
	TotalSize           *json.Number  `json:"total_size"`
	OriginalSize        *json.Number  `json:"original_size,omitempty"`
	ChunkSize           json.Number   `json:"chunk_size"`
	ChunkCount          json.Number   `json:"chunk_count"`
	FileHash            string        `json:"file_hash"`
	CreatedTimestamp    json.Number   `json:"created_timestamp"`
	LastAccessed        json.Number   `json:"last_accessed"`
	LastModified        json.Number   `json:"last_modified"`
	LastVerified        json.Number   `json:"last_verified"`
	ReplicationFactor   json.Number   `json:"replication_factor"`
	MinReplicasRequired json.Number   `json:"min_replicas_required"`
	CreatorInfo         string        `json:"creator_info,omitempty"`
	Comment             string        `json:"comment,omitempty"`
	Chunks              []rawChunk    `json:"chunks"`
}

type rawPlacement struct {
	ServerID     string      `json:"server_id"`
	RemotePath   string      `json:"remote_path"`
	UploadTime   json.Number `json:"upload_time"`
	Verified     bool        `json:"verified"`
	LastVerified json.Number `json:"last_verified"`
}

type rawChunk struct {
	ID        string         `json:"id"`
	Sequence  json.Number    `json:"sequence_number"`
	Size      json.Number    `json:"size"`
	CreatedAt json.Number    `json:"created_timestamp"`
	Hash      string         `json:"hash"`
	Locations []rawPlacement `json:"locations"`
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeFromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func numFromInt64(v int64) json.Number {
	return json.Number(strconv.FormatInt(v, 10))
}

func numFromInt(v int) json.Number {
	return json.Number(strconv.Itoa(v))
}

// int64FromNumber accepts both integer and integer-valued-float JSON
// numbers ("500" or "500.0", never "500.5") and rejects anything else
// as ManifestCorrupt.
func int64FromNumber(n json.Number, field string) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, ncerrors.New(ncerrors.ManifestCorrupt, fmt.Sprintf("%s: %q is not a number", field, n.String()))
	}
	if math.Trunc(f) != f {
		return 0, ncerrors.New(ncerrors.ManifestCorrupt, fmt.Sprintf("%s: %q is not an integer-valued number", field, n.String()))
	}
	return int64(f), nil
}

func intFromNumber(n json.Number, field string) (int, error) {
	v, err := int64FromNumber(n, field)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// MarshalJSON renders the stable on-wire format: unix-second timestamps,
// no original_size alias, unknown-key-tolerant peers can still parse it.
func (m Manifest) MarshalJSON() ([]byte, error) {
	totalSize := numFromInt64(m.TotalSize)
	raw := rawManifest{
		Version:             m.Version,
		ManifestID:          m.ManifestID,
		OriginalFilename:    m.OriginalFilename,
		TotalSize:           &totalSize,
		ChunkSize:           numFromInt(m.ChunkSize),
		ChunkCount:          numFromInt(m.ChunkCount),
		FileHash:            m.FileHash,
		CreatedTimestamp:    numFromInt64(unixOrZero(m.CreatedTimestamp)),
		LastAccessed:        numFromInt64(unixOrZero(m.LastAccessed)),
		LastModified:        numFromInt64(unixOrZero(m.LastModified)),
		LastVerified:        numFromInt64(unixOrZero(m.LastVerified)),
		ReplicationFactor:   numFromInt(m.ReplicationFactor),
		MinReplicasRequired: numFromInt(m.MinReplicasRequired),
		CreatorInfo:         m.CreatorInfo,
		Comment:             m.Comment,
		Chunks:              make([]rawChunk, len(m.Chunks)),
	}
	for i, c := range m.Chunks {
		locs := make([]rawPlacement, len(c.Locations))
		for j, l := range c.Locations {
			locs[j] = rawPlacement{
				ServerID:     l.ServerID,
				RemotePath:   l.RemotePath,
				UploadTime:   numFromInt64(unixOrZero(l.UploadedAt)),
				Verified:     l.Verified,
				LastVerified: numFromInt64(unixOrZero(l.LastVerified)),
			}
		}
		raw.Chunks[i] = rawChunk{
			ID:        c.ID,
			Sequence:  numFromInt(c.Sequence),
			Size:      numFromInt(c.Size),
			CreatedAt: numFromInt64(unixOrZero(c.CreatedAt)),
			Hash:      c.Hash,
			Locations: locs,
		}
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes the on-wire format tolerantly: numeric fields
// accept both JSON integers and integer-valued JSON floats (a peer
// emitting "total_size": 500.0 still decodes, a non-integer value like
// 500.5 is rejected as ManifestCorrupt), unknown top-level keys are
// ignored, and a missing total_size falls back to original_size if
// present. Missing required fields produce ManifestCorrupt rather than
// a generic decode error.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw rawManifest
	if err := dec.Decode(&raw); err != nil {
		return ncerrors.Wrap(ncerrors.ManifestCorrupt, "decode manifest json", err)
	}

	if raw.Version == "" {
		return ncerrors.New(ncerrors.ManifestCorrupt, "missing version field")
	}
	if raw.ManifestID == "" {
		return ncerrors.New(ncerrors.ManifestCorrupt, "missing manifest_id field")
	}

	totalSizeNum := raw.TotalSize
	if totalSizeNum == nil {
		totalSizeNum = raw.OriginalSize
	}
	if totalSizeNum == nil {
		return ncerrors.New(ncerrors.ManifestCorrupt, "missing total_size (and no original_size alias present)")
	}
	totalSize, err := int64FromNumber(*totalSizeNum, "total_size")
	if err != nil {
		return err
	}
	chunkSize, err := intFromNumber(raw.ChunkSize, "chunk_size")
	if err != nil {
		return err
	}
	chunkCount, err := intFromNumber(raw.ChunkCount, "chunk_count")
	if err != nil {
		return err
	}
	createdTimestamp, err := int64FromNumber(raw.CreatedTimestamp, "created_timestamp")
	if err != nil {
		return err
	}
	lastAccessed, err := int64FromNumber(raw.LastAccessed, "last_accessed")
	if err != nil {
		return err
	}
	lastModified, err := int64FromNumber(raw.LastModified, "last_modified")
	if err != nil {
		return err
	}
	lastVerified, err := int64FromNumber(raw.LastVerified, "last_verified")
	if err != nil {
		return err
	}
	replicationFactor, err := intFromNumber(raw.ReplicationFactor, "replication_factor")
	if err != nil {
		return err
	}
	minReplicasRequired, err := intFromNumber(raw.MinReplicasRequired, "min_replicas_required")
	if err != nil {
		return err
	}

	m.Version = raw.Version
	m.ManifestID = raw.ManifestID
	m.OriginalFilename = raw.OriginalFilename
	m.TotalSize = totalSize
	m.ChunkSize = chunkSize
	m.ChunkCount = chunkCount
	m.FileHash = raw.FileHash
	m.CreatedTimestamp = timeFromUnix(createdTimestamp)
	m.LastAccessed = timeFromUnix(lastAccessed)
	m.LastModified = timeFromUnix(lastModified)
	m.LastVerified = timeFromUnix(lastVerified)
	m.ReplicationFactor = replicationFactor
	m.MinReplicasRequired = minReplicasRequired
	m.CreatorInfo = raw.CreatorInfo
	m.Comment = raw.Comment

	m.Chunks = make([]Chunk, len(raw.Chunks))
	for i, rc := range raw.Chunks {
		sequence, err := intFromNumber(rc.Sequence, "chunks[].sequence_number")
		if err != nil {
			return err
		}
		size, err := intFromNumber(rc.Size, "chunks[].size")
		if err != nil {
			return err
		}
		createdAt, err := int64FromNumber(rc.CreatedAt, "chunks[].created_timestamp")
		if err != nil {
			return err
		}

		locs := make([]Placement, len(rc.Locations))
		for j, rl := range rc.Locations {
			uploadTime, err := int64FromNumber(rl.UploadTime, "chunks[].locations[].upload_time")
			if err != nil {
				return err
			}
			lastVerified, err := int64FromNumber(rl.LastVerified, "chunks[].locations[].last_verified")
			if err != nil {
				return err
			}
			locs[j] = Placement{
				ServerID:     rl.ServerID,
				RemotePath:   rl.RemotePath,
				UploadedAt:   timeFromUnix(uploadTime),
				Verified:     rl.Verified,
				LastVerified: timeFromUnix(lastVerified),
			}
		}
		m.Chunks[i] = Chunk{
			ID:        rc.ID,
			Sequence:  sequence,
			Size:      size,
			CreatedAt: timeFromUnix(createdAt),
			Hash:      rc.Hash,
			Locations: locs,
		}
	}
	return nil
}

// Save atomically writes the manifest to path: serialize, write to
// path+".tmp", flush, rename over path. If keepBackup and a previous
// file exists at path, it is snapshotted to "<path>.backup.<unix>"
// first, with at most maxBackups retained, oldest pruned first.
func (m *Manifest) Save(path string, keepBackup bool, maxBackups int) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return ncerrors.Wrap(ncerrors.Io, "marshal manifest", err)
	}

	if keepBackup {
		if _, err := os.Stat(path); err == nil {
			if err := backupManifest(path, maxBackups); err != nil {
				return err
			}
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return ncerrors.Wrap(ncerrors.Io, "write temp manifest", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return ncerrors.Wrap(ncerrors.Io, "rename temp manifest into place", err)
	}
	return nil
}

func backupManifest(path string, maxBackups int) error {
	existing, err := os.ReadFile(path)
	if err != nil {
		return ncerrors.Wrap(ncerrors.Io, "read manifest for backup", err)
	}
	backupPath := fmt.Sprintf("%s.backup.%d", path, time.Now().UTC().Unix())
	if err := os.WriteFile(backupPath, existing, 0o644); err != nil {
		return ncerrors.Wrap(ncerrors.Io, "write manifest backup", err)
	}
	return pruneBackups(path, maxBackups)
}

func pruneBackups(path string, maxBackups int) error {
	if maxBackups <= 0 {
		return nil
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ncerrors.Wrap(ncerrors.Io, "read manifest directory for backup pruning", err)
	}

	prefix := base + ".backup."
	var backups []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(e.Name()) > len(prefix) && e.Name()[:len(prefix)] == prefix {
			backups = append(backups, e.Name())
		}
	}
	if len(backups) <= maxBackups {
		return nil
	}
	sort.Strings(backups)
	toRemove := len(backups) - maxBackups
	for i := 0; i < toRemove; i++ {
		if err := os.Remove(filepath.Join(dir, backups[i])); err != nil && !os.IsNotExist(err) {
			return ncerrors.Wrap(ncerrors.Io, "prune old manifest backup", err)
		}
	}
	return nil
}

// Load reads and decodes a manifest from path, validating it before
// returning.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ncerrors.Wrap(ncerrors.NotFound, "manifest file not found", err)
		}
		return nil, ncerrors.Wrap(ncerrors.Io, "read manifest file", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		if _, ok := err.(*ncerrors.Error); ok {
			return nil, err
		}
		return nil, ncerrors.Wrap(ncerrors.ManifestCorrupt, "decode manifest", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Decode parses a manifest from an already-read byte slice (used when
// the bytes came from a remote BlobStore.get rather than local disk).
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		if ne, ok := err.(*ncerrors.Error); ok {
			return nil, ne
		}
		return nil, ncerrors.Wrap(ncerrors.ManifestCorrupt, "decode manifest", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
