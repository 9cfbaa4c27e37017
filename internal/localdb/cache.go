// Package localdb holds NetChunk's local, non-authoritative state: a
// bbolt-backed remote_name→manifest_id index and a SQLite-backed
// operation journal. Neither is authoritative — the manifest object on
// the configured BlobStore servers remains the source of truth; losing
// either file only costs a remote rescan.
package localdb

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/quantarax/netchunk/internal/ncerrors"
)

var bucketManifests = []byte("manifests")

// ManifestCache is a local remote_name→manifest_id lookup. The CLI keeps
// it current on upload and delete; `list` does not read it and always
// scans the servers, and `health` only pings it.
type ManifestCache struct {
	db *bolt.DB
}

// OpenManifestCache opens (creating if needed) a bbolt database at
// path.
func OpenManifestCache(path string) (*ManifestCache, error) {
	db, err := bolt.Open(filepath.Clean(path), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, ncerrors.Wrap(ncerrors.Io, "open manifest cache", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketManifests)
		return e
	})
	if err != nil {
		db.Close()
		return nil, ncerrors.Wrap(ncerrors.Io, "initialize manifest cache bucket", err)
	}
	return &ManifestCache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *ManifestCache) Close() error { return c.db.Close() }

// Ping confirms the cache's database handle can still service a
// read-only transaction, for the `health` verb's readiness check.
func (c *ManifestCache) Ping(ctx context.Context) error {
	return c.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketManifests) == nil {
			return bolt.ErrBucketNotFound
		}
		return nil
	})
}

// Put records the manifest_id last seen for remoteName, along with the
// time of this write (used by Prune).
func (c *ManifestCache) Put(remoteName, manifestID string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketManifests)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		return bk.Put([]byte(remoteName), encodeCacheEntry(manifestID, time.Now()))
	})
}

// Lookup returns the cached manifest_id for remoteName, and whether an
// entry was found at all. A cache miss is not an error: callers fall
// back to a remote scan.
func (c *ManifestCache) Lookup(remoteName string) (manifestID string, ok bool) {
	_ = c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketManifests)
		if bk == nil {
			return nil
		}
		v := bk.Get([]byte(remoteName))
		if v == nil {
			return nil
		}
		manifestID, _ = decodeCacheEntry(v)
		ok = true
		return nil
	})
	return manifestID, ok
}

// Forget removes remoteName's cache entry (called after a successful
// delete).
func (c *ManifestCache) Forget(remoteName string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketManifests)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		return bk.Delete([]byte(remoteName))
	})
}

// Prune removes entries not written to in the last maxAge.
func (c *ManifestCache) Prune(maxAge time.Duration) (removed int, err error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	err = c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketManifests)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		cur := bk.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			if _, seenAt := decodeCacheEntry(v); seenAt.Unix() <= cutoff {
				if err := cur.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, ncerrors.Wrap(ncerrors.Io, "prune manifest cache", err)
	}
	return removed, nil
}

// Count returns the number of cached entries.
func (c *ManifestCache) Count() int {
	n := 0
	_ = c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketManifests)
		if bk == nil {
			return nil
		}
		return bk.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n
}

// cache entry wire format: 8-byte big-endian unix seconds, then the
// manifest_id bytes.
func encodeCacheEntry(manifestID string, seenAt time.Time) []byte {
	buf := make([]byte, 8+len(manifestID))
	binary.BigEndian.PutUint64(buf[:8], uint64(seenAt.Unix()))
	copy(buf[8:], manifestID)
	return buf
}

func decodeCacheEntry(v []byte) (manifestID string, seenAt time.Time) {
	if len(v) < 8 {
		return "", time.Time{}
	}
	sec := int64(binary.BigEndian.Uint64(v[:8]))
	return string(v[8:]), time.Unix(sec, 0).UTC()
}
