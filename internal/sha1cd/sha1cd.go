// Package sha1cd computes the SHA-1 digests weave and knit records use for
// their integrity invariant ("SHA-1 of the reconstructed line sequence
// equals sha1[v]"), using a collision-detecting SHA-1 implementation
// instead of bare crypto/sha1 — the same substitution go-git's
// plumbing.ObjectHasher makes for object hashing.
package sha1cd

import (
	"encoding/hex"
	"hash"

	"github.com/pjbgf/sha1cd"
)

// New returns a fresh collision-detecting SHA-1 hasher.
func New() hash.Hash {
	return sha1cd.New()
}

// Sum returns the lowercase hex SHA-1 digest of b.
func Sum(b []byte) string {
	h := New()
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

// SumLines returns the lowercase hex SHA-1 digest of the concatenation of
// lines, matching the weave/knit invariant "SHA-1 of concat(lines)".
func SumLines(lines [][]byte) string {
	h := New()
	for _, l := range lines {
		h.Write(l)
	}
	return hex.EncodeToString(h.Sum(nil))
}
