// Package objectstore implements the filesystem layout rooted at a
// base directory that backs both extents and blob-layout records
// (§4.J): extents/<hex[0:2]>/<hex[2:4]>/<hex[4:]>,
// blobs/<hex[0:2]>/<hex[2:4]>/<hex[4:]>, catalogs/<uuid-simple>. All
// writes go through a temp-file-in-the-same-directory-then-rename
// sequence so concurrent writers racing on the same content-addressed
// path converge on byte-identical results.
package objectstore

import (
	"io"
	"os"
	"path/filepath"

	"github.com/tumulus/tumulus/internal/debug"
	"github.com/tumulus/tumulus/internal/errors"
	"github.com/tumulus/tumulus/internal/ids"
)

// readBufferSize is used when streaming extent content out of the store.
const readBufferSize = 64 * 1024

const (
	dirExtents  = "extents"
	dirBlobs    = "blobs"
	dirCatalogs = "catalogs"
)

// Store is an object store rooted at Path.
type Store struct {
	Path string
}

// New returns a Store rooted at path, creating the top-level
// directories if they do not exist.
func New(path string) (*Store, error) {
	s := &Store{Path: path}
	for _, d := range []string{dirExtents, dirBlobs, dirCatalogs} {
		if err := os.MkdirAll(filepath.Join(path, d), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %v dir", d)
		}
	}
	return s, nil
}

// ExtentPath returns the sharded path for an extent id.
func (s *Store) ExtentPath(id ids.B3) string {
	return shardedPath(s.Path, dirExtents, id)
}

// BlobPath returns the sharded path for a blob-layout record.
func (s *Store) BlobPath(id ids.B3) string {
	return shardedPath(s.Path, dirBlobs, id)
}

// CatalogPath returns the path for a catalog stored under id (a
// UUID's "simple", hyphen-free hex representation).
func (s *Store) CatalogPath(idSimple string) string {
	return filepath.Join(s.Path, dirCatalogs, idSimple)
}

func shardedPath(root, kind string, id ids.B3) string {
	hex := id.String()
	return filepath.Join(root, kind, hex[0:2], hex[2:4], hex[4:])
}

// Exists reports whether path names an existing file system entry
// (any kind, as reported by os.Stat).
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, "stat")
}

// ExtentsExist batches existence checks for a set of extent IDs,
// returning a map from every requested id to whether it is present in
// the store.
func (s *Store) ExtentsExist(idsToCheck []ids.B3) (map[ids.B3]bool, error) {
	out := make(map[ids.B3]bool, len(idsToCheck))
	for _, id := range idsToCheck {
		ok, err := Exists(s.ExtentPath(id))
		if err != nil {
			return nil, err
		}
		out[id] = ok
	}
	return out, nil
}

// WriteAtomic writes data to path via a temp file in the same
// directory, fsyncs it, then renames it into place (§4.J "Atomic
// writes"). If the target already exists, the write is skipped and
// WriteAtomic returns (false, nil).
func WriteAtomic(path string, data []byte) (wrote bool, err error) {
	if ok, existErr := Exists(path); existErr != nil {
		return false, existErr
	} else if ok {
		return false, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, errors.Wrap(err, "mkdir")
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+"-tmp-*")
	if err != nil {
		return false, errors.Wrap(err, "create temp file")
	}
	tmpName := f.Name()

	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return false, errors.Wrap(err, "write temp file")
	}
	if err = f.Sync(); err != nil {
		debug.Log("fsync %v failed, continuing: %v", tmpName, err)
		err = nil
	}
	if err = f.Close(); err != nil {
		return false, errors.Wrap(err, "close temp file")
	}
	if err = os.Rename(tmpName, path); err != nil {
		return false, errors.Wrap(err, "rename into place")
	}

	return true, nil
}

// WriteAtomicStream is like WriteAtomic but copies from r instead of
// an in-memory slice, for large bodies such as catalogs.
func WriteAtomicStream(path string, r io.Reader) (wrote bool, err error) {
	if ok, existErr := Exists(path); existErr != nil {
		return false, existErr
	} else if ok {
		return false, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, errors.Wrap(err, "mkdir")
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+"-tmp-*")
	if err != nil {
		return false, errors.Wrap(err, "create temp file")
	}
	tmpName := f.Name()

	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = io.Copy(f, r); err != nil {
		return false, errors.Wrap(err, "write temp file")
	}
	if err = f.Sync(); err != nil {
		debug.Log("fsync %v failed, continuing: %v", tmpName, err)
		err = nil
	}
	if err = f.Close(); err != nil {
		return false, errors.Wrap(err, "close temp file")
	}
	if err = os.Rename(tmpName, path); err != nil {
		return false, errors.Wrap(err, "rename into place")
	}

	return true, nil
}

// ReadExtent opens the extent at id for streamed reading.
func (s *Store) ReadExtent(id ids.B3) (io.ReadCloser, error) {
	f, err := os.Open(s.ExtentPath(id))
	if err != nil {
		return nil, errors.Wrap(err, "open extent")
	}
	return f, nil
}

// CopyExtent streams the extent at id to w in readBufferSize chunks.
func (s *Store) CopyExtent(w io.Writer, id ids.B3) (int64, error) {
	f, err := s.ReadExtent(id)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, readBufferSize)
	return io.CopyBuffer(w, f, buf)
}
