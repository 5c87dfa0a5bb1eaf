package metadata

import (
	"iter"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openmined/blobvault/internal/blob"
)

// DefaultCacheSize is the number of records kept by a Cached store
const DefaultCacheSize = 4096

// Cached is a read-through LRU in front of another Store. Every mutation
// goes to the backing store first and then drops the cached record, so the
// cache never serves a record the backing store no longer agrees with.
type Cached struct {
	Store
	cache *lru.Cache[blob.BlobID, *blob.Metadata]

	// held shared while filling the cache from the backing store and
	// exclusively while mutating, so a fill never races an invalidation
	mu sync.RWMutex
}

// NewCached wraps s with an LRU of the given size
func NewCached(s Store, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[blob.BlobID, *blob.Metadata](size)
	if err != nil {
		return nil, err
	}
	return &Cached{Store: s, cache: cache}, nil
}

func (c *Cached) Get(id blob.BlobID) (*blob.Metadata, error) {
	if md, ok := c.cache.Get(id); ok {
		return md.Clone(), nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	md, err := c.Store.Get(id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, md.Clone())
	return md, nil
}

func (c *Cached) Add(md *blob.Metadata) error {
	if err := c.Store.Add(md); err != nil {
		return err
	}
	c.cache.Add(md.ID, md.Clone())
	return nil
}

func (c *Cached) MarkDeleted(id blob.BlobID, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.cache.Remove(id)
	return c.Store.MarkDeleted(id, at)
}

func (c *Cached) Undelete(id blob.BlobID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.cache.Remove(id)
	return c.Store.Undelete(id)
}

func (c *Cached) Remove(id blob.BlobID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.cache.Remove(id)
	return c.Store.Remove(id)
}

func (c *Cached) Iter() iter.Seq2[*blob.Metadata, error] {
	return c.Store.Iter()
}

// Len returns the number of cached records
func (c *Cached) Len() int {
	return c.cache.Len()
}

func (c *Cached) Close() error {
	c.cache.Purge()
	return c.Store.Close()
}

var _ Store = (*Cached)(nil)
