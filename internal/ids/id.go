// Package ids implements the content-addressed identifier used for
// extents, blobs, catalog checksums and tree hashes: a 32-byte BLAKE3
// digest, printed externally as lowercase hex.
package ids

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"github.com/tumulus/tumulus/internal/errors"
	"lukechampine.com/blake3"
)

// Length is the size of a B3 id in bytes.
const Length = 32

// B3 is an opaque content identifier produced by BLAKE3. It is used for
// extent ids, blob ids, catalog checksums, machine ids and tree hashes.
type B3 [Length]byte

// Zero is the all-zero sentinel id used for sparse extents, which store
// no content and therefore have nothing to hash.
var Zero B3

// IsZero reports whether id is the all-zero sentinel.
func (id B3) IsZero() bool {
	return id == Zero
}

// String returns the lowercase hex representation of id.
func (id B3) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32 bytes of id.
func (id B3) Bytes() []byte {
	return id[:]
}

// Equal reports whether id and other identify the same content.
func (id B3) Equal(other B3) bool {
	return id == other
}

// Compare returns -1, 0 or 1 depending on the byte-wise ordering of id
// and other, same contract as bytes.Compare.
func (id B3) Compare(other B3) int {
	return bytes.Compare(id[:], other[:])
}

// Parse decodes a lowercase-hex B3 id.
func Parse(s string) (B3, error) {
	var id B3
	if len(s) != Length*2 {
		return id, errors.Errorf("invalid id length %d, want %d hex chars", len(s), Length*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, errors.Wrap(err, "parse id")
	}
	copy(id[:], b)
	return id, nil
}

// MustParse is like Parse but panics on error. Only used for constants
// and tests.
func MustParse(s string) B3 {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// MarshalJSON encodes id as a hex string.
func (id B3) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes id from a hex string.
func (id *B3) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Sum hashes buf in one shot using BLAKE3, the way a subchunk-sized read
// is hashed (§4.B of the dedup design).
func Sum(buf []byte) B3 {
	return B3(blake3.Sum256(buf))
}

// Hasher is an incremental BLAKE3 hash.State, used to hash a whole file
// (the blob id) without holding the entire content in one buffer at
// once. The zero value is not usable; use NewHasher.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher returns a ready-to-use incremental hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New(Length, nil)}
}

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum returns the B3 id of everything written so far.
func (h *Hasher) Sum() B3 {
	var id B3
	copy(id[:], h.h.Sum(nil))
	return id
}
