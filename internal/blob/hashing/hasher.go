// Package hashing computes content digests incrementally while a blob is
// being written, so the payload is read exactly once.
package hashing

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"slices"

	"github.com/opencontainers/go-digest"
	"github.com/zeebo/blake3"
)

// Algorithm names as recorded in blob metadata
const (
	SHA1   = "sha1"
	SHA256 = "sha256"
	SHA512 = "sha512"
	MD5    = "md5"
	BLAKE3 = "blake3"
)

// DefaultAlgorithms are computed for every blob unless a store overrides them
var DefaultAlgorithms = []string{SHA1, SHA256, MD5}

var constructors = map[string]func() hash.Hash{
	SHA1:   sha1.New,
	SHA256: sha256.New,
	SHA512: sha512.New,
	MD5:    md5.New,
	BLAKE3: func() hash.Hash { return blake3.New() },
}

// Supported reports whether alg can be computed
func Supported(alg string) bool {
	_, ok := constructors[alg]
	return ok
}

// Hasher feeds every written byte to one hash per configured algorithm.
// A Hasher is used for exactly one payload.
type Hasher struct {
	algs   []string
	hashes []hash.Hash
	w      io.Writer
	size   int64
}

// New creates a Hasher for algs. Duplicates are ignored.
func New(algs ...string) (*Hasher, error) {
	if len(algs) == 0 {
		algs = DefaultAlgorithms
	}

	h := &Hasher{}
	writers := make([]io.Writer, 0, len(algs))
	for _, alg := range algs {
		if slices.Contains(h.algs, alg) {
			continue
		}
		ctor, ok := constructors[alg]
		if !ok {
			return nil, fmt.Errorf("unsupported hash algorithm %q", alg)
		}
		hh := ctor()
		h.algs = append(h.algs, alg)
		h.hashes = append(h.hashes, hh)
		writers = append(writers, hh)
	}
	h.w = io.MultiWriter(writers...)
	return h, nil
}

// Write implements io.Writer. Hash writes never fail.
func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.w.Write(p)
	h.size += int64(n)
	return n, err
}

// Size returns the number of bytes hashed so far
func (h *Hasher) Size() int64 {
	return h.size
}

// Algorithms returns the algorithms this hasher computes
func (h *Hasher) Algorithms() []string {
	return slices.Clone(h.algs)
}

// Sum returns the lower-case hex digest per algorithm
func (h *Hasher) Sum() map[string]string {
	sums := make(map[string]string, len(h.algs))
	for i, alg := range h.algs {
		sums[alg] = hex.EncodeToString(h.hashes[i].Sum(nil))
	}
	return sums
}

// Mismatches compares the computed sums with recorded ones and returns the
// algorithms whose digests differ. Recorded algorithms this hasher does not
// compute are ignored.
func (h *Hasher) Mismatches(recorded map[string]string) []string {
	var bad []string
	for alg, sum := range h.Sum() {
		if want, ok := recorded[alg]; ok && want != sum {
			bad = append(bad, alg)
		}
	}
	slices.Sort(bad)
	return bad
}

// SHA256Verifier returns a streaming verifier for a recorded sha256 hex
// digest. It returns nil when the digest is malformed.
func SHA256Verifier(hexDigest string) digest.Verifier {
	d := digest.NewDigestFromEncoded(digest.SHA256, hexDigest)
	if d.Validate() != nil {
		return nil
	}
	return d.Verifier()
}
