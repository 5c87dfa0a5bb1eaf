package metadata

import (
	"iter"
	"time"

	"github.com/openmined/blobvault/internal/blob"
)

// Store is a durable index from blob id to blob metadata
type Store interface {
	// Add inserts the record for a newly created blob
	Add(md *blob.Metadata) error

	// Get returns the record for id, including soft-deleted records.
	// A missing record yields blob.ErrBlobNotFound.
	Get(id blob.BlobID) (*blob.Metadata, error)

	// MarkDeleted soft-deletes a live record
	MarkDeleted(id blob.BlobID, at time.Time) error

	// Undelete clears the soft-delete marker of a record
	Undelete(id blob.BlobID) error

	// Remove physically deletes a record
	Remove(id blob.BlobID) error

	// DeletedBefore lists ids soft-deleted before cutoff
	DeletedBefore(cutoff time.Time) ([]blob.BlobID, error)

	// Iter iterates over every record
	Iter() iter.Seq2[*blob.Metadata, error]

	// Count returns the number of records
	Count() (int64, error)

	// Stats summarizes live and soft-deleted records
	Stats() (*Stats, error)

	Close() error
}

// Stats aggregates record counts and payload sizes
type Stats struct {
	LiveCount    int64 `db:"live_count"`
	LiveBytes    int64 `db:"live_bytes"`
	DeletedCount int64 `db:"deleted_count"`
	DeletedBytes int64 `db:"deleted_bytes"`
}
