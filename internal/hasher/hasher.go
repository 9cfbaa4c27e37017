// Package hasher wraps the streaming SHA-256 primitive NetChunk's
// chunking and manifest layers are built on. The hash algorithm is an
// external, fixed contract; this package is a thin, testable wrapper,
// not a place to swap algorithms.
package hasher

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"io"
	"os"

	"github.com/quantarax/netchunk/internal/ncerrors"
)

// blockSize is used by the file-hashing helper's read loop.
const blockSize = 8 * 1024

// Size is the digest length in bytes.
const Size = sha256.Size

// Digest is a 32-byte SHA-256 digest.
type Digest = [Size]byte

// Hasher is a streaming SHA-256 accumulator: init -> Write* -> Sum.
type Hasher struct {
	h hash.Hash
}

// New returns a fresh streaming Hasher.
func New() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Write feeds bytes into the running digest. Never returns an error
// (sha256's Write never fails), matching hash.Hash's contract.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum finalizes and returns the digest without mutating the Hasher's
// internal state, so it can still be inspected or (unusually) continued.
func (h *Hasher) Sum() Digest {
	var d Digest
	copy(d[:], h.h.Sum(nil))
	return d
}

// SumBytes is a one-shot helper: SHA-256 of a single byte slice.
// InvalidInput is returned for a nil slice; a zero-length non-nil slice
// is a valid input (the digest of the empty string).
func SumBytes(b []byte) (Digest, error) {
	if b == nil {
		return Digest{}, ncerrors.New(ncerrors.InvalidInput, "nil input to SumBytes")
	}
	return sha256.Sum256(b), nil
}

// SumFile streams a file through SHA-256 in fixed-size blocks.
func SumFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, ncerrors.Wrap(ncerrors.Io, "open file for hashing", err)
	}
	defer f.Close()

	h := New()
	buf := make([]byte, blockSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return Digest{}, ncerrors.Wrap(ncerrors.Io, "read file for hashing", rerr)
		}
	}
	return h.Sum(), nil
}

// EncodeHex renders a digest as lowercase hex, exactly 2*Size characters.
func EncodeHex(d Digest) string {
	return hex.EncodeToString(d[:])
}

// DecodeHex parses a lowercase hex digest, failing with BadHex on
// non-hex characters or a length other than 2*Size.
func DecodeHex(s string) (Digest, error) {
	var d Digest
	if len(s) != 2*Size {
		return d, ncerrors.New(ncerrors.BadHex, "wrong hex length for digest")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, ncerrors.Wrap(ncerrors.BadHex, "non-hex characters in digest", err)
	}
	copy(d[:], b)
	return d, nil
}

// Equal performs a constant-time comparison of two digests.
func Equal(a, b Digest) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
