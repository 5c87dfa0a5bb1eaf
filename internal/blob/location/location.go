// Package location maps blob ids to relative content paths. A strategy is a
// pure function of the id, so a path computed at create time is found again
// after a restart. Strategies shard blobs across nested directories to keep
// directory fan-out bounded.
package location

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path"
	"slices"

	"github.com/openmined/blobvault/internal/blob"
	"github.com/zeebo/blake3"
)

const (
	// BlobExt is the file extension of blob payloads
	BlobExt = ".bytes"

	VolumeChapterName = "volume-chapter"
	PrefixName        = "prefix"

	// Default is used when a configuration does not name a strategy
	Default = VolumeChapterName
)

// Strategy maps a blob id to a slash separated path relative to a store's
// content directory
type Strategy interface {
	Name() string
	Location(id blob.BlobID) string
}

// Lookup returns the strategy registered under name. An empty name selects
// the default strategy.
func Lookup(name string) (Strategy, error) {
	switch name {
	case "", VolumeChapterName:
		return VolumeChapter{}, nil
	case PrefixName:
		return Prefix{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown location strategy %q", blob.ErrInvalidConfiguration, name)
	}
}

// Names lists the known strategy names
func Names() []string {
	names := []string{VolumeChapterName, PrefixName}
	slices.Sort(names)
	return names
}

// VolumeChapter spreads blobs over 43 volumes of 47 chapters each
type VolumeChapter struct{}

const (
	volumes  = 43
	chapters = 47
)

func (VolumeChapter) Name() string { return VolumeChapterName }

func (VolumeChapter) Location(id blob.BlobID) string {
	sum := idHash(id)
	h := binary.BigEndian.Uint64(sum[:8])
	vol := h%volumes + 1
	chap := (h/volumes)%chapters + 1
	return path.Join(fmt.Sprintf("vol-%02d", vol), fmt.Sprintf("chap-%02d", chap), string(id)+BlobExt)
}

// Prefix uses two levels of two hex characters of the id hash
type Prefix struct{}

func (Prefix) Name() string { return PrefixName }

func (Prefix) Location(id blob.BlobID) string {
	sum := idHash(id)
	h := hex.EncodeToString(sum[:2])
	return path.Join(h[:2], h[2:4], string(id)+BlobExt)
}

// Stripe maps an id onto one of n buckets using the same hash as the
// strategies. Used for per-blob lock striping.
func Stripe(id blob.BlobID, n int) int {
	sum := idHash(id)
	return int(binary.BigEndian.Uint32(sum[8:12]) % uint32(n))
}

func idHash(id blob.BlobID) [32]byte {
	return blake3.Sum256([]byte(id))
}
