// Package chunker splits a local file into an ordered, lazy, finite
// sequence of fixed-size chunks and computes the whole-file SHA-256
// needed before any chunk is placed. The last chunk may be short; an
// empty file yields zero chunks.
package chunker

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/quantarax/netchunk/internal/hasher"
	"github.com/quantarax/netchunk/internal/ncerrors"
)

const (
	// MinChunkSize is the smallest chunk_size the Chunker accepts.
	MinChunkSize = 1
	// MaxChunkSize is the largest chunk_size the Chunker accepts.
	MaxChunkSize = 64 * 1024 * 1024
	// DefaultChunkSize is the default chunk_size (1 MiB).
	DefaultChunkSize = 1 << 20

	// ChunkIDLength is the width of the generated chunk ID field: 8 hex
	// sequence + 4 hex file-hash prefix + 8 hex random = 20.
	ChunkIDLength = 20
)

// ErrExhausted is returned by Next once the sequence is complete. It is
// deliberately distinct from any ncerrors.Kind: exhaustion is a normal
// terminal iteration state, never conflated with a "not found" error.
var ErrExhausted = errors.New("chunker: sequence exhausted")

// Chunk is one fixed-size (possibly short at EOF) slice of a file.
// Payload is transient: present while the chunk is in flight, absent
// once the caller is done with it (it is never retained by Chunker).
type Chunk struct {
	Sequence int
	Size     int
	Hash     hasher.Digest
	ID       string
	Payload  []byte
}

// Chunker produces an ordered, non-restartable sequence of Chunks for a
// single file, plus the whole-file SHA-256 computed up front.
type Chunker struct {
	path       string
	chunkSize  int
	file       *os.File
	totalSize  int64
	fileHash   hasher.Digest
	chunkCount int

	sequence     int
	bytesEmitted int64
	exhausted    bool
}

// New opens path, validates chunkSize, computes the whole-file hash in
// one up-front pass, and returns a Chunker ready to emit chunks lazily.
func New(path string, chunkSize int) (*Chunker, error) {
	if chunkSize < MinChunkSize || chunkSize > MaxChunkSize {
		return nil, ncerrors.New(ncerrors.InvalidInput, fmt.Sprintf("chunk_size %d out of range [%d,%d]", chunkSize, MinChunkSize, MaxChunkSize))
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ncerrors.Wrap(ncerrors.NotFound, "file not found", err)
		}
		return nil, ncerrors.Wrap(ncerrors.Io, "stat file", err)
	}
	if info.IsDir() {
		return nil, ncerrors.New(ncerrors.InvalidInput, "path is a directory")
	}

	fileHash, err := hasher.SumFile(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, ncerrors.Wrap(ncerrors.Io, "open file for chunking", err)
	}

	totalSize := info.Size()
	chunkCount := 0
	if totalSize > 0 {
		chunkCount = int((totalSize + int64(chunkSize) - 1) / int64(chunkSize))
	}

	return &Chunker{
		path:       path,
		chunkSize:  chunkSize,
		file:       f,
		totalSize:  totalSize,
		fileHash:   fileHash,
		chunkCount: chunkCount,
	}, nil
}

// FileHash returns the whole-file SHA-256, available before any chunk
// is emitted.
func (c *Chunker) FileHash() hasher.Digest { return c.fileHash }

// TotalSize returns the file's size in bytes.
func (c *Chunker) TotalSize() int64 { return c.totalSize }

// ChunkCount returns the total number of chunks this file will produce.
func (c *Chunker) ChunkCount() int { return c.chunkCount }

// Close releases the underlying file handle. Safe to call multiple
// times and after exhaustion.
func (c *Chunker) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// Next reads and returns the next Chunk in sequence order, or
// ErrExhausted once the file has been fully consumed. Calling Next
// again after exhaustion keeps returning ErrExhausted (idempotent).
func (c *Chunker) Next() (*Chunk, error) {
	if c.exhausted {
		return nil, ErrExhausted
	}

	buf := make([]byte, c.chunkSize)
	n, err := io.ReadFull(c.file, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, ncerrors.Wrap(ncerrors.Io, "read chunk", err)
	}
	if n == 0 {
		c.exhausted = true
		c.Close()
		return nil, ErrExhausted
	}

	payload := buf[:n]
	digest, _ := hasher.SumBytes(payload)
	seq := c.sequence
	id := GenerateChunkID(seq, c.fileHash)

	c.sequence++
	c.bytesEmitted += int64(n)

	// A short read, or a full read that reaches the end of the file, both
	// mean this was the last chunk.
	if n < c.chunkSize || c.bytesEmitted >= c.totalSize {
		c.exhausted = true
		c.Close()
	}

	return &Chunk{
		Sequence: seq,
		Size:     n,
		Hash:     digest,
		ID:       id,
		Payload:  payload,
	}, nil
}

// Progress is a non-blocking snapshot of iteration state.
type Progress struct {
	ChunksEmitted int
	ChunkCount    int
	BytesEmitted  int64
	TotalSize     int64
	Done          bool
}

// Progress returns the current emission progress. Safe to call at any
// time, including after exhaustion.
func (c *Chunker) Progress() Progress {
	return Progress{
		ChunksEmitted: c.sequence,
		ChunkCount:    c.chunkCount,
		BytesEmitted:  c.bytesEmitted,
		TotalSize:     c.totalSize,
		Done:          c.exhausted,
	}
}

// GenerateChunkID derives a chunk's opaque ID: 8 hex sequence number,
// 4 hex file-hash prefix, 8 hex random bytes (20 hex characters total).
func GenerateChunkID(sequence int, fileHash hasher.Digest) string {
	seqHex := fmt.Sprintf("%08x", uint32(sequence))
	filePrefix := hex.EncodeToString(fileHash[:2])

	var randBytes [4]byte
	_, _ = rand.Read(randBytes[:])
	randHex := hex.EncodeToString(randBytes[:])

	id := seqHex + filePrefix + randHex
	if len(id) != ChunkIDLength {
		// Defensive: the three components are fixed-width by
		// construction, so this should be unreachable.
		panic(fmt.Sprintf("generated chunk id has wrong length: %d", len(id)))
	}
	return id
}
