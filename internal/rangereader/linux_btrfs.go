//go:build linux

package rangereader

import (
	"crypto/rand"
	"encoding/binary"
	"iter"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tumulus/tumulus/internal/debug"
	"github.com/tumulus/tumulus/internal/errors"
	"github.com/tumulus/tumulus/internal/model"
)

// NewBtrfsSearch returns the alternate Linux range reader, which walks
// btrfs's own B-tree directly via a paginated tree-search ioctl instead
// of FIEMAP. It is not selected by New; callers opt in explicitly when
// they know the source is btrfs and want to bypass FIEMAP's generic
// extent-map translation.
func NewBtrfsSearch(opts ...Option) Reader {
	c := newConfig(opts...)
	if c.bufferSize < minBtrfsBufSize {
		c.bufferSize = minBtrfsBufSize
	}
	buf := c.buffer
	if buf == nil {
		buf = make([]byte, c.bufferSize)
	}
	return &btrfsSearchReader{buf: buf}
}

const (
	btrfsIoctlMagic = 0x94

	// btrfs_ioctl_search_key, per linux/btrfs.h.
	searchKeySize = 104
	// btrfs_ioctl_search_header: transid, objectid, offset, type, len.
	searchHeaderSize = 32

	extentDataKey = 108 // BTRFS_EXTENT_DATA_KEY

	// file-extent item body, the on-disk-record variant:
	// generation(8) ram_bytes(8) compression(1) encryption(1) other_encoding(2) type(1)
	// then for regular/prealloc extents: disk_bytenr(8) disk_num_bytes(8) offset(8) num_bytes(8)
	fileExtentItemHeaderSize = 21
	fileExtentRegularSize    = fileExtentItemHeaderSize + 32

	fileExtentInline   = 0
	fileExtentReg      = 1
	fileExtentPrealloc = 2

	minBtrfsBufSize = searchKeySize + 4096

	// sentinelSize is the length of the random tail guard written
	// before each ioctl to detect kernel buffer overruns.
	sentinelSize = 8
)

// btrfsIocTreeSearch is _IOWR(BTRFS_IOCTL_MAGIC, 17, struct
// btrfs_ioctl_search_args) computed the same way the kernel header
// macro does, rather than hard-coded, so the buffer-size assumption
// above stays honest about what it corresponds to.
func btrfsIocTreeSearch(argsSize int) uintptr {
	const iocInout = 3 << 30
	return uintptr(iocInout | (argsSize&0x3fff)<<16 | btrfsIoctlMagic<<8 | 17)
}

type btrfsSearchReader struct {
	buf []byte
}

func (r *btrfsSearchReader) IntoBuffer() []byte {
	buf := r.buf
	r.buf = nil
	return buf
}

type fileExtentRec struct {
	logicalOffset uint64
	logicalLength uint64
	diskOffset    uint64
	diskLength    uint64
	isInline      bool
}

func (r *btrfsSearchReader) ReadRanges(f *os.File, size int64) iter.Seq2[model.DataRange, error] {
	if size <= 0 {
		return func(func(model.DataRange, error) bool) {}
	}

	ino, err := inodeNumber(f)
	if err != nil {
		return func(yield func(model.DataRange, error) bool) {
			yield(model.DataRange{}, err)
		}
	}

	return func(yield func(model.DataRange, error) bool) {
		var pos uint64
		fileSize := uint64(size)
		minOffset := uint64(0)

		for {
			recs, nrItems, bufSpaceLeft, lastKeyOffset, sawItem, err := r.search(f, ino, minOffset)
			if err != nil {
				yield(model.DataRange{}, err)
				return
			}

			for _, rec := range recs {
				if rec.logicalOffset > pos {
					if !synthesizeGap(pos, rec.logicalOffset, yield) {
						return
					}
				}

				// file-extent items report their on-disk allocation length,
				// which is block-aligned and can run past EOF for the extent
				// covering the file's tail.
				length := rec.logicalLength
				if rec.logicalOffset >= fileSize {
					pos = fileSize
					continue
				}
				if rec.logicalOffset+length > fileSize {
					length = fileSize - rec.logicalOffset
				}
				if length == 0 {
					pos = rec.logicalOffset
					continue
				}

				dr := model.DataRange{
					Offset: rec.logicalOffset,
					Length: length,
					Hole:   false,
					Shared: false, // tree search does not expose refcount here
				}
				if !yield(dr, nil) {
					return
				}
				pos = rec.logicalOffset + length
			}

			// Advance the search cursor past the last item key the kernel
			// returned this round, whether or not that item was a data
			// extent: a skipped hole item (disk_bytenr==0 on a filesystem
			// without NO_HOLES) still occupies a key slot, and re-searching
			// from the same minOffset would return it again forever.
			if sawItem {
				minOffset = lastKeyOffset + 1
			}

			// Authoritative termination per the kernel's own contract
			// (§9 open question): nr_items == 0 means nothing more to
			// find for this inode. The buffer-space heuristic below is
			// only an optimization on top of that.
			if nrItems == 0 {
				break
			}
			if bufSpaceLeft < 2*(searchHeaderSize+fileExtentRegularSize) {
				continue // one more page-sized round, same as a full buffer
			}
		}

		synthesizeGap(pos, fileSize, yield)
	}
}

// search issues one tree-search ioctl scoped to ino, starting at
// minOffset, and returns the file-extent records found plus the key
// offset of the last item the kernel reported (lastKeyOffset, valid
// only when sawItem is true) so the caller can page past items that
// were filtered out rather than re-requesting the same item forever.
func (r *btrfsSearchReader) search(f *os.File, ino uint64, minOffset uint64) (recs []fileExtentRec, nrItems int, bufSpaceLeft int, lastKeyOffset uint64, sawItem bool, err error) {
	buf := r.buf

	// write a random sentinel at what we tell the kernel is the end of
	// the buffer, so a kernel bug that overflows the stated size is
	// detectable after the call.
	usable := len(buf) - sentinelSize
	sentinel := make([]byte, sentinelSize)
	if _, rerr := rand.Read(sentinel); rerr != nil {
		return nil, 0, 0, 0, false, errors.Wrap(rerr, "read sentinel")
	}
	copy(buf[usable:], sentinel)

	for i := range buf[:usable] {
		buf[i] = 0
	}

	maxItems := (usable - searchKeySize) / (searchHeaderSize + fileExtentRegularSize)
	if maxItems < 1 {
		maxItems = 1
	}

	putU64 := binary.LittleEndian.PutUint64
	putU32 := binary.LittleEndian.PutUint32

	// struct btrfs_ioctl_search_key
	putU64(buf[0:8], 0)   // tree_id: 0 means "use the subvolume containing the fd"
	putU64(buf[8:16], ino)
	putU64(buf[16:24], ino)
	putU64(buf[24:32], minOffset)
	putU64(buf[32:40], ^uint64(0))
	putU64(buf[40:48], 0)
	putU64(buf[48:56], ^uint64(0))
	putU32(buf[56:60], extentDataKey)
	putU32(buf[60:64], extentDataKey)
	putU32(buf[64:68], uint32(maxItems))
	// remaining search_key bytes (unused[4]) stay zeroed

	argSize := usable // tell the kernel the buffer is sentinelSize shorter than allocated
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), btrfsIocTreeSearch(argSize), uintptr(unsafe.Pointer(&buf[0])))

	if !bytesEqual(buf[usable:usable+sentinelSize], sentinel) {
		return nil, 0, 0, 0, false, errors.New("btrfs tree search: buffer tail sentinel corrupted, kernel overran the result buffer")
	}

	if errno != 0 {
		if errno == unix.ENOTTY || errno == unix.EOPNOTSUPP {
			debug.Log("btrfs tree search unsupported on %v: %v", f.Name(), errno)
		}
		return nil, 0, 0, 0, false, errno
	}

	nrItems = int(binary.LittleEndian.Uint32(buf[64:68]))

	off := searchKeySize
	recs = make([]fileExtentRec, 0, nrItems)
	for i := 0; i < nrItems; i++ {
		if off+searchHeaderSize > usable {
			break
		}
		itemLen := int(binary.LittleEndian.Uint32(buf[off+28 : off+32]))
		itemType := binary.LittleEndian.Uint32(buf[off+24 : off+28])
		itemOffset := binary.LittleEndian.Uint64(buf[off+16 : off+24])
		body := off + searchHeaderSize

		lastKeyOffset = itemOffset
		sawItem = true

		if itemType == extentDataKey && itemLen >= fileExtentItemHeaderSize {
			kind := buf[body+20]
			if kind == fileExtentInline {
				// inline data lives in the metadata tree itself; treated
				// as a non-sparse range with no further subchunking
				// concerns beyond what the chunker already applies.
				inlineLen := itemLen - fileExtentItemHeaderSize
				recs = append(recs, fileExtentRec{
					logicalOffset: itemOffset,
					logicalLength: uint64(inlineLen),
					isInline:      true,
				})
			} else if kind == fileExtentReg || kind == fileExtentPrealloc {
				diskBytenr := binary.LittleEndian.Uint64(buf[body+21 : body+29])
				numBytes := binary.LittleEndian.Uint64(buf[body+45 : body+53])
				if diskBytenr != 0 && numBytes > 0 {
					recs = append(recs, fileExtentRec{
						logicalOffset: itemOffset,
						logicalLength: numBytes,
						diskOffset:    diskBytenr,
					})
				}
			}
		}

		off += searchHeaderSize + itemLen
	}

	bufSpaceLeft = usable - off
	return recs, nrItems, bufSpaceLeft, lastKeyOffset, sawItem, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func inodeNumber(f *os.File) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return 0, errors.Wrap(err, "fstat")
	}
	return st.Ino, nil
}
