package blobstore

import (
	"context"
	"os"
	"path/filepath"

	"github.com/quantarax/netchunk/internal/ncerrors"
)

// DirStore is a local-directory-backed Store: every method maps
// directly onto os calls rooted at a per-server base directory. Useful
// for manual end-to-end testing without live FTP servers, and as the
// reference implementation a real FTP/FTPS adapter's behavior should
// match.
type DirStore struct {
	base string
}

// NewDirStore roots a DirStore at base, creating it if necessary.
func NewDirStore(base string) (*DirStore, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, ncerrors.Wrap(ncerrors.Io, "create dirstore base", err)
	}
	return &DirStore{base: base}, nil
}

func (d *DirStore) resolve(p string) string {
	return filepath.Join(d.base, filepath.FromSlash(p))
}

func (d *DirStore) Put(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return ncerrors.Wrap(ncerrors.Cancelled, "put cancelled", err)
	}
	full := d.resolve(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ncerrors.Wrap(ncerrors.Io, "create parent directory", err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ncerrors.Wrap(ncerrors.Io, "write object", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return ncerrors.Wrap(ncerrors.Io, "rename object into place", err)
	}
	return nil
}

func (d *DirStore) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, ncerrors.Wrap(ncerrors.Cancelled, "get cancelled", err)
	}
	data, err := os.ReadFile(d.resolve(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ncerrors.Wrap(ncerrors.NotFound, "object not found: "+p, err)
		}
		return nil, ncerrors.Wrap(ncerrors.Io, "read object", err)
	}
	return data, nil
}

func (d *DirStore) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return ncerrors.Wrap(ncerrors.Cancelled, "delete cancelled", err)
	}
	if err := os.Remove(d.resolve(p)); err != nil && !os.IsNotExist(err) {
		return ncerrors.Wrap(ncerrors.Io, "delete object", err)
	}
	return nil
}

func (d *DirStore) Stat(ctx context.Context, p string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, ncerrors.Wrap(ncerrors.Cancelled, "stat cancelled", err)
	}
	info, err := os.Stat(d.resolve(p))
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, ncerrors.Wrap(ncerrors.NotFound, "object not found: "+p, err)
		}
		return ObjectInfo{}, ncerrors.Wrap(ncerrors.Io, "stat object", err)
	}
	return ObjectInfo{Path: p, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (d *DirStore) List(ctx context.Context, dir string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, ncerrors.Wrap(ncerrors.Cancelled, "list cancelled", err)
	}
	entries, err := os.ReadDir(d.resolve(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ncerrors.Wrap(ncerrors.Io, "list directory", err)
	}

	var out []ObjectInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, ObjectInfo{
			Path:    dir + "/" + e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

func (d *DirStore) Mkdir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return ncerrors.Wrap(ncerrors.Cancelled, "mkdir cancelled", err)
	}
	if err := os.MkdirAll(d.resolve(dir), 0o755); err != nil {
		return ncerrors.Wrap(ncerrors.Io, "mkdir", err)
	}
	return nil
}

func (d *DirStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ncerrors.Wrap(ncerrors.Cancelled, "ping cancelled", err)
	}
	info, err := os.Stat(d.base)
	if err != nil {
		return ncerrors.Wrap(ncerrors.Transport, "base directory unreachable", err)
	}
	if !info.IsDir() {
		return ncerrors.New(ncerrors.Transport, "base path is not a directory")
	}
	return nil
}

var _ Store = (*DirStore)(nil)
