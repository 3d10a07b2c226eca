// Package patch implements the binary-diff catalog patching used by
// the server's PUT /catalogs/:id/patch route and the client tooling
// that produces patches against a known-good reference catalog
// (§4.H, §4.L). Patches operate on whatever bytes they are given: the
// server applies them to the stored reference catalog exactly as stored,
// with no zstd decompression or re-compression on either side.
package patch

import (
	"bytes"
	"io"

	"github.com/kr/binarydist"

	"github.com/tumulus/tumulus/internal/errors"
	"github.com/tumulus/tumulus/internal/ids"
)

// Create computes a BSDIFF-style patch turning oldContent into
// newContent.
func Create(oldContent, newContent io.Reader, w io.Writer) error {
	if err := binarydist.Diff(oldContent, newContent, w); err != nil {
		return errors.Wrap(err, "compute binary diff")
	}
	return nil
}

// ErrChecksumMismatch is returned by Apply when the reconstructed
// content does not match the expected checksum.
var ErrChecksumMismatch = errors.New("patch: reconstructed content does not match expected checksum")

// Apply reconstructs content by applying patchBytes against
// reference, then verifies the result hashes to expected. On success
// it returns the reconstructed bytes; on checksum mismatch it returns
// ErrChecksumMismatch and the caller should treat the patch as
// malformed or targeting the wrong reference (§4.L failure modes).
func Apply(reference io.Reader, patchBytes io.Reader, expected ids.B3) ([]byte, error) {
	var out bytes.Buffer
	if err := binarydist.Patch(reference, &out, patchBytes); err != nil {
		return nil, errors.Wrap(err, "apply binary patch")
	}

	got := ids.Sum(out.Bytes())
	if got != expected {
		return nil, ErrChecksumMismatch
	}
	return out.Bytes(), nil
}
