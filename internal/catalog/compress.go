package catalog

import (
	"bufio"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/tumulus/tumulus/internal/errors"
)

// DefaultCompressionLevel matches zstd level 19 (§4.D).
const DefaultCompressionLevel = int(zstd.SpeedBestCompression)

// zstdMagic is the four-byte frame magic number zstd streams start
// with; used by the reader to detect whether a catalog is compressed.
var zstdMagic = [4]byte{0x28, 0xB5, 0x2F, 0xFD}

func compressStream(w io.Writer, r io.Reader, level int) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevel(level)))
	if err != nil {
		return errors.Wrap(err, "create zstd encoder")
	}
	if _, err := io.Copy(enc, bufio.NewReaderSize(r, 64*1024)); err != nil {
		_ = enc.Close()
		return errors.Wrap(err, "compress catalog")
	}
	return errors.Wrap(enc.Close(), "finalize zstd stream")
}

func decompressStream(w io.Writer, r io.Reader) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "create zstd decoder")
	}
	defer dec.Close()

	if _, err := io.Copy(w, dec); err != nil {
		return errors.Wrap(err, "decompress catalog")
	}
	return nil
}

// isZstdFramed reports whether buf starts with the zstd frame magic.
func isZstdFramed(buf []byte) bool {
	if len(buf) < 4 {
		return false
	}
	return buf[0] == zstdMagic[0] && buf[1] == zstdMagic[1] && buf[2] == zstdMagic[2] && buf[3] == zstdMagic[3]
}
