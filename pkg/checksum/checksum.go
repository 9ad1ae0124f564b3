// Package checksum computes keyed BLAKE2b digests of serialized state.
// Digests are stored next to change records and cached snapshots so that a
// reader can detect a torn or foreign payload.
package checksum

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Prefix tags the textual form of a Digest with its algorithm.
const Prefix = "blake2b:"

// Digest is a 32-byte BLAKE2b-256 digest.
type Digest [blake2b.Size256]byte

// domainKey keeps state digests apart from any other BLAKE2b use of the
// same bytes.
var domainKey = []byte("academic-state-hub.state.v1")

// Sum returns the digest of data.
func Sum(data []byte) Digest {
	h, err := blake2b.New256(domainKey)
	if err != nil {
		panic("checksum: BLAKE2b keyed hash initialization failed: " + err.Error())
	}
	h.Write(data)

	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// OfJSON returns the digest of the JSON encoding of v.
// encoding/json sorts map keys, so equal values give equal digests.
func OfJSON(v any) (Digest, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Digest{}, fmt.Errorf("checksum: marshal: %w", err)
	}
	return Sum(data), nil
}

// String returns the prefixed hex form, e.g. "blake2b:3f9a...".
func (d Digest) String() string {
	return Prefix + hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Parse reads the textual form produced by String.
func Parse(s string) (Digest, error) {
	raw, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return Digest{}, fmt.Errorf("checksum: missing %q prefix", Prefix)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Digest{}, fmt.Errorf("checksum: decode: %w", err)
	}
	if len(b) != blake2b.Size256 {
		return Digest{}, fmt.Errorf("checksum: expected %d bytes, got %d", blake2b.Size256, len(b))
	}

	var d Digest
	copy(d[:], b)
	return d, nil
}

// Verify reports whether data matches the textual digest want.
func Verify(data []byte, want string) bool {
	d, err := Parse(want)
	if err != nil {
		return false
	}
	return Sum(data) == d
}
