package hasher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quantarax/netchunk/internal/ncerrors"
)

func TestSumBytesDeterminism(t *testing.T) {
	d1, err := SumBytes([]byte("hello world"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, err := SumBytes([]byte("hello world"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Equal(d1, d2) {
		t.Fatalf("expected identical digests for identical input")
	}
}

func TestSumBytesNilIsInvalid(t *testing.T) {
	_, err := SumBytes(nil)
	if !ncerrors.Is(err, ncerrors.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestStreamingMatchesOneShot(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	h := New()
	h.Write(data[:10])
	h.Write(data[10:])
	streamed := h.Sum()

	oneShot, err := SumBytes(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Equal(streamed, oneShot) {
		t.Fatalf("streaming digest does not match one-shot digest")
	}
}

func TestHexRoundTrip(t *testing.T) {
	d, _ := SumBytes([]byte("payload"))
	s := EncodeHex(d)
	if len(s) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(s))
	}
	back, err := DecodeHex(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Equal(d, back) {
		t.Fatalf("round-tripped digest mismatch")
	}
}

func TestDecodeHexBadLength(t *testing.T) {
	_, err := DecodeHex("deadbeef")
	if !ncerrors.Is(err, ncerrors.BadHex) {
		t.Fatalf("expected BadHex, got %v", err)
	}
}

func TestDecodeHexNonHex(t *testing.T) {
	bad := make([]byte, 64)
	for i := range bad {
		bad[i] = 'z'
	}
	_, err := DecodeHex(string(bad))
	if !ncerrors.Is(err, ncerrors.BadHex) {
		t.Fatalf("expected BadHex, got %v", err)
	}
}

func TestSumFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	content := make([]byte, 20000)
	for i := range content {
		content[i] = byte(i)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	got, err := SumFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, err := SumBytes(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Equal(got, want) {
		t.Fatalf("SumFile digest does not match SumBytes digest")
	}
}

func TestSumFileMissing(t *testing.T) {
	_, err := SumFile(filepath.Join(t.TempDir(), "does-not-exist"))
	if !ncerrors.Is(err, ncerrors.Io) {
		t.Fatalf("expected Io, got %v", err)
	}
}
