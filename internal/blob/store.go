package blob

import (
	"context"
	"io"
	"time"
)

// Store is a single named blob store. Implementations are safe for
// concurrent use once started.
type Store interface {
	// Name returns the configured store name
	Name() string

	// Start prepares the store for serving requests
	Start() error

	// Stop waits for in-flight operations and releases the store's resources
	Stop() error

	// Create streams r into a new blob, recording headers with its metadata
	Create(ctx context.Context, r io.Reader, headers map[string]string) (*Blob, error)

	// Get opens the content of a live blob
	Get(ctx context.Context, id BlobID) (io.ReadCloser, error)

	// GetMetadata returns the metadata of a live blob
	GetMetadata(ctx context.Context, id BlobID) (*Metadata, error)

	// Delete soft-deletes a live blob
	Delete(ctx context.Context, id BlobID) error

	// Undelete restores a soft-deleted blob that has not been compacted yet
	Undelete(ctx context.Context, id BlobID) error

	// Verify re-hashes the blob's content and compares it with its metadata
	Verify(ctx context.Context, id BlobID) error

	// Compact physically removes expired soft-deleted blobs and orphaned files
	Compact(ctx context.Context) (*CompactResult, error)

	// Stats summarizes the store's content
	Stats(ctx context.Context) (*Stats, error)
}

// CompactResult summarizes one compaction sweep
type CompactResult struct {
	Purged           int           `json:"purged"`
	TempFilesRemoved int           `json:"tempFilesRemoved"`
	OrphansRemoved   int           `json:"orphansRemoved"`
	BytesReclaimed   int64         `json:"bytesReclaimed"`
	Took             time.Duration `json:"took"`
}

// Stats describes a store's content and the capacity of its filesystem
type Stats struct {
	Name         string `json:"name"`
	Root         string `json:"root"`
	LiveCount    int64  `json:"liveCount"`
	LiveBytes    int64  `json:"liveBytes"`
	DeletedCount int64  `json:"deletedCount"`
	DeletedBytes int64  `json:"deletedBytes"`
	DiskTotal    uint64 `json:"diskTotal"`
	DiskFree     uint64 `json:"diskFree"`
}
