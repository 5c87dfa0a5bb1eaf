package filestore

import (
	"time"

	"github.com/openmined/blobvault/internal/blob/hashing"
	"github.com/openmined/blobvault/internal/blob/metadata"
)

const (
	DefaultRetentionPeriod = 24 * time.Hour
	DefaultTempGracePeriod = time.Hour
)

// MetadataOpener opens the metadata store kept in dir
type MetadataOpener func(dir string) (metadata.Store, error)

type options struct {
	retention      time.Duration
	tempGrace      time.Duration
	hashAlgorithms []string
	cacheSize      int
	now            func() time.Time
	openMetadata   MetadataOpener
}

// Option configures a Store
type Option func(*options)

// WithRetentionPeriod sets how long soft-deleted blobs survive compaction
func WithRetentionPeriod(d time.Duration) Option {
	return func(o *options) {
		o.retention = d
	}
}

// WithTempGracePeriod sets the minimum age of a payload without metadata
// before compaction treats it as an orphan
func WithTempGracePeriod(d time.Duration) Option {
	return func(o *options) {
		o.tempGrace = d
	}
}

// WithHashAlgorithms sets the digests recorded for new blobs
func WithHashAlgorithms(algs ...string) Option {
	return func(o *options) {
		o.hashAlgorithms = algs
	}
}

// WithMetadataCacheSize sets the LRU size of the metadata cache
func WithMetadataCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithMetadataOpener replaces the SQLite metadata store
func WithMetadataOpener(open MetadataOpener) Option {
	return func(o *options) {
		o.openMetadata = open
	}
}

func defaultOptions() *options {
	return &options{
		retention:      DefaultRetentionPeriod,
		tempGrace:      DefaultTempGracePeriod,
		hashAlgorithms: hashing.DefaultAlgorithms,
		cacheSize:      metadata.DefaultCacheSize,
		now:            time.Now,
		openMetadata: func(dir string) (metadata.Store, error) {
			return metadata.OpenSQLite(dir)
		},
	}
}
