// Package snapshot walks a directory tree and turns every entry into a
// model.FileInfo, computing content-addressed extents and a blob hash
// for every regular file along the way (§4.C). Files are processed in
// parallel by a fixed worker pool; a single errgroup collects errors
// and the caller may choose to keep going after a per-file failure.
package snapshot

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sync/errgroup"

	"github.com/tumulus/tumulus/internal/debug"
	"github.com/tumulus/tumulus/internal/errors"
	"github.com/tumulus/tumulus/internal/extent"
	"github.com/tumulus/tumulus/internal/model"
	"github.com/tumulus/tumulus/internal/rangereader"
)

// ErrorPolicy decides what happens when processing a single file fails.
type ErrorPolicy int

const (
	// FailFast aborts the whole walk on the first per-file error.
	FailFast ErrorPolicy = iota
	// SkipWithWarning logs the error via debug.Log, counts it, and
	// continues with the remaining files.
	SkipWithWarning
)

// Options configures Walk.
type Options struct {
	// Root is the directory whose content becomes the snapshot. Paths
	// in the returned FileInfo are relative to Root with '/' separators.
	Root string

	// Workers bounds the number of files processed concurrently.
	// Defaults to runtime.GOMAXPROCS(0) when <= 0.
	Workers int

	// RangeBufferSize overrides rangereader's default kernel-query
	// buffer size. Zero uses rangereader.DefaultBufferSize.
	RangeBufferSize int

	OnError ErrorPolicy
}

// Result is the output of a completed walk.
type Result struct {
	Files []model.FileInfo
	// Skipped counts files that failed under SkipWithWarning.
	Skipped int
}

// Walk collects every entry under opts.Root and returns one FileInfo
// per entry. Entries are processed independently across a worker pool;
// there is no cross-file mutable state, so results are collected into
// result slots indexed by discovery order and returned in that order.
func Walk(ctx context.Context, opts Options) (Result, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return Result{}, errors.Wrap(err, "resolve snapshot root")
	}

	paths, err := collectPaths(root)
	if err != nil {
		return Result{}, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	out := make([]model.FileInfo, len(paths))
	skipped := make([]bool, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			// one Range Reader per call, sized for the common case; the
			// platform-specific implementation amortizes its own buffer
			// internally across the ReadRanges calls it makes for this file.
			var rrOpts []rangereader.Option
			if opts.RangeBufferSize > 0 {
				rrOpts = append(rrOpts, rangereader.WithBufferSize(opts.RangeBufferSize))
			}
			rr := rangereader.New(rrOpts...)

			fi, err := processOne(root, p, rr)
			if err != nil {
				if opts.OnError == SkipWithWarning {
					debug.Log("skipping %v: %v", p, err)
					skipped[i] = true
					return nil
				}
				return errors.Wrapf(err, "process %v", p)
			}
			out[i] = fi
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var result Result
	result.Files = make([]model.FileInfo, 0, len(out))
	for i, fi := range out {
		if skipped[i] {
			result.Skipped++
			continue
		}
		result.Files = append(result.Files, fi)
	}
	return result, nil
}

// collectPaths walks root and returns every entry's absolute path,
// directories included, in a stable (lexical, depth-first) order.
func collectPaths(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk snapshot root")
	}
	sort.Strings(paths)
	return paths, nil
}

// processOne implements §4.C for a single path.
func processOne(root, path string, rr rangereader.Reader) (model.FileInfo, error) {
	lst, err := os.Lstat(path)
	if err != nil {
		return model.FileInfo{}, errors.Wrap(err, "lstat")
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return model.FileInfo{}, errors.Wrap(err, "relativize path")
	}
	rel = filepath.ToSlash(rel)

	fi := model.FileInfo{RelativePath: rel}
	fillTimestamps(&fi, lst)
	fillUnixFields(&fi, lst)

	switch {
	case lst.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return model.FileInfo{}, errors.Wrap(err, "readlink")
		}
		fi.Special = model.Special{Kind: model.SpecialSymlink, Target: target}

	case lst.IsDir():
		fi.Special = model.Special{Kind: model.SpecialDirectory}

	case lst.Mode()&(os.ModeDevice|os.ModeNamedPipe|os.ModeSocket|os.ModeCharDevice) != 0:
		fi.Special = model.Special{Kind: model.SpecialOther}

	case lst.Mode().IsRegular():
		blob, err := buildBlob(path, lst.Size(), rr)
		if err != nil {
			return model.FileInfo{}, errors.Wrap(err, "build blob")
		}
		fi.Blob = &blob

	default:
		fi.Special = model.Special{Kind: model.SpecialOther}
	}

	return fi, nil
}

// buildBlob runs the Range Reader and Chunker over one regular file.
func buildBlob(path string, size int64, rr rangereader.Reader) (model.BlobInfo, error) {
	if size == 0 {
		return model.BlobInfo{TotalBytes: 0}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return model.BlobInfo{}, errors.Wrap(err, "open")
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return model.BlobInfo{}, errors.Wrap(err, "mmap")
	}
	defer m.Unmap()

	bh := extent.NewBlobHasher()
	var allExtents []model.ExtentInfo
	var fsExtent uint32

	for dr, rangeErr := range rr.ReadRanges(f, size) {
		if rangeErr != nil {
			return model.BlobInfo{}, errors.Wrap(rangeErr, "read ranges")
		}

		if dr.Hole {
			writeZeroes(bh, dr.Length)
			allExtents = append(allExtents, extent.Split(dr, nil, fsExtent)...)
		} else {
			end := dr.End()
			if end > uint64(size) {
				return model.BlobInfo{}, errors.Errorf("range reader returned [%d,%d) past file size %d for %s", dr.Offset, end, size, path)
			}
			data := []byte(m)[dr.Offset:end]
			bh.Write(data)
			allExtents = append(allExtents, extent.Split(dr, data, fsExtent)...)
		}
		fsExtent++
	}

	return model.BlobInfo{
		ID:         bh.Sum(),
		TotalBytes: uint64(size),
		Extents:    allExtents,
	}, nil
}

const zeroChunkSize = 64 * 1024

var zeroChunk = make([]byte, zeroChunkSize)

// writeZeroes feeds n zero bytes into the blob hasher without
// allocating a buffer proportional to n: holes can be arbitrarily
// large relative to available memory.
func writeZeroes(bh *extent.BlobHasher, n uint64) {
	for n > 0 {
		k := uint64(zeroChunkSize)
		if n < k {
			k = n
		}
		bh.Write(zeroChunk[:k])
		n -= k
	}
}

func fillTimestamps(fi *model.FileInfo, lst os.FileInfo) {
	mtime := lst.ModTime().UnixMilli()
	fi.TSModified = &mtime

	if st, ok := platformTimes(lst); ok {
		if st.accessed != 0 {
			fi.TSAccessed = &st.accessed
		}
		if st.changed != 0 {
			fi.TSChanged = &st.changed
		}
		if st.created != 0 {
			fi.TSCreated = &st.created
		}
	}
}

type extraTimes struct {
	accessed, changed, created int64
}

func msFromTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
