package blob

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

// Well-known header names. Callers may add any other header.
const (
	HeaderBlobName    = "BlobName"
	HeaderContentType = "ContentType"
	HeaderCreatedBy   = "CreatedBy"
)

// BlobID names one blob within one store. IDs are time-ordered UUIDs and are
// never reused, not even after a blob has been purged.
type BlobID string

// NewBlobID allocates a fresh identifier
func NewBlobID() BlobID {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 only fails when the random source fails
		id = uuid.New()
	}
	return BlobID(id.String())
}

// ParseBlobID validates s as a blob id. IDs end up as file names, so anything
// other than a canonical UUID is rejected.
func ParseBlobID(s string) (BlobID, error) {
	id, err := uuid.Parse(s)
	if err != nil || id.String() != s {
		return "", fmt.Errorf("%w: malformed blob id %q", ErrBlobNotFound, s)
	}
	return BlobID(s), nil
}

func (id BlobID) String() string {
	return string(id)
}

// State is the lifecycle position of a blob: Live -> SoftDeleted -> Purged.
// Purged blobs have no metadata record left, so State never reports it.
type State uint8

const (
	StateLive State = iota
	StateSoftDeleted
	StatePurged
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateSoftDeleted:
		return "soft-deleted"
	case StatePurged:
		return "purged"
	default:
		return "unknown"
	}
}

// Metadata is the record kept for every blob in a store
type Metadata struct {
	ID        BlobID            `json:"id"`
	Size      int64             `json:"size"`
	Hashes    map[string]string `json:"hashes"`
	Headers   map[string]string `json:"headers"`
	CreatedAt time.Time         `json:"createdAt"`
	Deleted   bool              `json:"deleted"`
	DeletedAt *time.Time        `json:"deletedAt,omitempty"`
}

// State derives the lifecycle state from the soft-delete marker
func (m *Metadata) State() State {
	if m.Deleted {
		return StateSoftDeleted
	}
	return StateLive
}

// Digest returns the canonical sha256 digest of the payload, or "" when no
// sha256 hash was recorded.
func (m *Metadata) Digest() digest.Digest {
	hex, ok := m.Hashes[digest.SHA256.String()]
	if !ok {
		return ""
	}
	return digest.NewDigestFromEncoded(digest.SHA256, hex)
}

// Clone returns a deep copy so callers cannot mutate cached records
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Hashes = maps.Clone(m.Hashes)
	c.Headers = maps.Clone(m.Headers)
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Blob is a created blob: its id plus the metadata recorded at creation
type Blob struct {
	ID       BlobID    `json:"id"`
	Metadata *Metadata `json:"metadata"`
}
