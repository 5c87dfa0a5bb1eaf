// Package filestore implements a blob store on the local filesystem.
//
// A store owns one root directory:
//
//	<root>/content/   payloads, sharded by the location strategy
//	<root>/metadata/  the metadata database
//	<root>/.lock      held while the store is started
//
// Payloads are written to a temp file beside their final path, hashed in the
// same pass, synced and renamed into place before the metadata record is
// written, so a reader never sees a partial payload.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofrs/flock"
	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/blob/fileops"
	"github.com/openmined/blobvault/internal/blob/hashing"
	"github.com/openmined/blobvault/internal/blob/location"
	"github.com/openmined/blobvault/internal/blob/metadata"
	"github.com/openmined/blobvault/internal/utils"
	"github.com/shirou/gopsutil/v4/disk"
)

const (
	contentDirName  = "content"
	metadataDirName = "metadata"
	lockFileName    = ".lock"

	lockStripes = 256
)

// Store is a file-backed blob.Store
type Store struct {
	name        string
	root        string
	contentDir  string
	metadataDir string
	strategy    location.Strategy
	ops         fileops.FileOperations
	opts        *options

	// held shared by every operation and exclusively by Start/Stop
	lifecycle sync.RWMutex
	started   bool
	md        metadata.Store
	flock     *flock.Flock

	blobLocks [lockStripes]sync.Mutex

	// temp files of creates in progress; compaction never removes these
	inflight mapset.Set[string]
	// barrier between registering a temp file and the temp sweep
	inflightMu sync.RWMutex
}

// New creates a stopped store rooted at root
func New(name, root string, strategy location.Strategy, ops fileops.FileOperations, opts ...Option) *Store {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Store{
		name:        name,
		root:        root,
		contentDir:  filepath.Join(root, contentDirName),
		metadataDir: filepath.Join(root, metadataDirName),
		strategy:    strategy,
		ops:         ops,
		opts:        o,
		inflight:    mapset.NewSet[string](),
	}
}

func (s *Store) Name() string {
	return s.name
}

// Root returns the directory owned by the store
func (s *Store) Root() string {
	return s.root
}

// Strategy returns the location strategy in use
func (s *Store) Strategy() location.Strategy {
	return s.strategy
}

func (s *Store) String() string {
	return fmt.Sprintf("FileBlobStore{name=%s, root=%s}", s.name, s.root)
}

// Start creates the content directory, locks the root and opens metadata
func (s *Store) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.started {
		return nil
	}

	if err := utils.EnsureDir(s.contentDir); err != nil {
		return fmt.Errorf("%w: create content directory %s: %w", blob.ErrStorageUnavailable, s.contentDir, err)
	}
	if !utils.IsWritable(s.contentDir) {
		return fmt.Errorf("%w: content directory %s is not writable", blob.ErrStorageUnavailable, s.contentDir)
	}

	lock := flock.New(filepath.Join(s.root, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("%w: lock %s: %w", blob.ErrStorageUnavailable, s.root, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s is in use by another blob store", blob.ErrStorageUnavailable, s.root)
	}

	md, err := s.openMetadata()
	if err != nil {
		lock.Unlock()
		return fmt.Errorf("%w: open metadata: %w", blob.ErrStorageUnavailable, err)
	}

	s.md = md
	s.flock = lock
	s.started = true
	slog.Info("blob store start", "name", s.name, "root", s.root, "strategy", s.strategy.Name())
	return nil
}

func (s *Store) openMetadata() (metadata.Store, error) {
	md, err := s.opts.openMetadata(s.metadataDir)
	if err != nil {
		return nil, err
	}
	if s.opts.cacheSize < 0 {
		return md, nil
	}
	cached, err := metadata.NewCached(md, s.opts.cacheSize)
	if err != nil {
		md.Close()
		return nil, err
	}
	return cached, nil
}

// Stop waits for in-flight operations, then closes metadata and unlocks
func (s *Store) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	var errs []error
	if err := s.md.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close metadata: %w", err))
	}
	if err := s.flock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlock %s: %w", s.root, err))
	}
	s.md = nil
	s.flock = nil

	slog.Info("blob store stop", "name", s.name)
	return errors.Join(errs...)
}

// IsStarted reports whether the store is serving requests
func (s *Store) IsStarted() bool {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	return s.started
}

// acquire enters an operation; pair with release
func (s *Store) acquire() error {
	s.lifecycle.RLock()
	if !s.started {
		s.lifecycle.RUnlock()
		return fmt.Errorf("%w: blob store %s is not started", blob.ErrStorageUnavailable, s.name)
	}
	return nil
}

func (s *Store) release() {
	s.lifecycle.RUnlock()
}

func (s *Store) blobLock(id blob.BlobID) *sync.Mutex {
	return &s.blobLocks[location.Stripe(id, lockStripes)]
}

// contentPath returns the absolute payload path for id
func (s *Store) contentPath(id blob.BlobID) string {
	return filepath.Join(s.contentDir, filepath.FromSlash(s.strategy.Location(id)))
}

func (s *Store) Create(ctx context.Context, r io.Reader, headers map[string]string) (*blob.Blob, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	hasher, err := hashing.New(s.opts.hashAlgorithms...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", blob.ErrInvalidConfiguration, err)
	}

	id := blob.NewBlobID()
	path := s.contentPath(id)

	s.inflightMu.RLock()
	f, err := s.ops.CreateTemp(path)
	if err == nil {
		s.inflight.Add(f.Name())
	}
	s.inflightMu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", blob.ErrIO, err)
	}

	tmp := f.Name()
	moved := false
	defer func() {
		if !moved {
			if _, err := s.ops.Delete(tmp); err != nil {
				slog.Warn("blob temp file cleanup", "store", s.name, "path", tmp, "error", err)
			}
		}
		s.inflight.Remove(tmp)
	}()

	if _, err := io.Copy(io.MultiWriter(f, hasher), &ctxReader{ctx: ctx, r: r}); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: write blob %s: %w", blob.ErrIO, id, err)
	}
	if err := s.ops.Commit(f); err != nil {
		return nil, fmt.Errorf("%w: %w", blob.ErrIO, err)
	}
	if err := s.ops.Move(tmp, path); err != nil {
		return nil, fmt.Errorf("%w: %w", blob.ErrIO, err)
	}
	moved = true

	md := &blob.Metadata{
		ID:        id,
		Size:      hasher.Size(),
		Hashes:    hasher.Sum(),
		Headers:   maps.Clone(headers),
		CreatedAt: s.opts.now().UTC(),
	}
	if md.Headers == nil {
		md.Headers = map[string]string{}
	}

	if err := s.md.Add(md); err != nil {
		// without a record the payload would only be found again as an orphan
		if _, derr := s.ops.Delete(path); derr != nil {
			slog.Warn("blob payload cleanup", "store", s.name, "id", id, "error", derr)
		}
		return nil, fmt.Errorf("%w: %w", blob.ErrIO, err)
	}

	slog.Debug("blob create", "store", s.name, "id", id, "size", md.Size)
	return &blob.Blob{ID: id, Metadata: md.Clone()}, nil
}

// lookup returns the live record of id
func (s *Store) lookup(id blob.BlobID) (*blob.Metadata, error) {
	md, err := s.md.Get(id)
	if errors.Is(err, blob.ErrBlobNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", blob.ErrIO, err)
	}
	if md.Deleted {
		return nil, fmt.Errorf("%w: %s is deleted", blob.ErrBlobNotFound, id)
	}
	return md, nil
}

// Get opens a live blob. The on-disk size is checked against the recorded
// size; full hash verification is left to Verify.
func (s *Store) Get(ctx context.Context, id blob.BlobID) (io.ReadCloser, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mu := s.blobLock(id)
	mu.Lock()
	defer mu.Unlock()

	md, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	f, err := s.openContent(md)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat blob %s: %w", blob.ErrIO, id, err)
	}
	if info.Size() != md.Size {
		f.Close()
		slog.Warn("blob size mismatch", "store", s.name, "id", id, "recorded", md.Size, "actual", info.Size())
		return nil, fmt.Errorf("%w: %s has %d bytes, expected %d", blob.ErrCorruption, id, info.Size(), md.Size)
	}

	return f, nil
}

func (s *Store) openContent(md *blob.Metadata) (*os.File, error) {
	f, err := s.ops.Open(s.contentPath(md.ID))
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("blob content missing", "store", s.name, "id", md.ID)
		return nil, fmt.Errorf("%w: content of %s is missing", blob.ErrCorruption, md.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open blob %s: %w", blob.ErrIO, md.ID, err)
	}
	return f, nil
}

func (s *Store) GetMetadata(ctx context.Context, id blob.BlobID) (*blob.Metadata, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	md, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return md.Clone(), nil
}

// Delete soft-deletes id. Deleting an unknown or already deleted blob fails
// with blob.ErrBlobNotFound.
func (s *Store) Delete(ctx context.Context, id blob.BlobID) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	mu := s.blobLock(id)
	mu.Lock()
	defer mu.Unlock()

	if err := s.md.MarkDeleted(id, s.opts.now()); err != nil {
		return mapMetadataErr(err)
	}
	slog.Debug("blob delete", "store", s.name, "id", id)
	return nil
}

func (s *Store) Undelete(ctx context.Context, id blob.BlobID) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	mu := s.blobLock(id)
	mu.Lock()
	defer mu.Unlock()

	if err := s.md.Undelete(id); err != nil {
		return mapMetadataErr(err)
	}
	slog.Debug("blob undelete", "store", s.name, "id", id)
	return nil
}

// Verify re-reads the payload and checks its size and every recorded hash
func (s *Store) Verify(ctx context.Context, id blob.BlobID) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	md, err := s.lookup(id)
	if err != nil {
		return err
	}

	var algs []string
	for alg := range md.Hashes {
		if hashing.Supported(alg) {
			algs = append(algs, alg)
		}
	}
	hasher, err := hashing.New(algs...)
	if err != nil {
		return fmt.Errorf("%w: %w", blob.ErrIO, err)
	}

	writers := []io.Writer{hasher}
	verifier := hashing.SHA256Verifier(md.Hashes[hashing.SHA256])
	if verifier != nil {
		writers = append(writers, verifier)
	}

	f, err := s.openContent(md)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(io.MultiWriter(writers...), &ctxReader{ctx: ctx, r: f}); err != nil {
		return fmt.Errorf("%w: read blob %s: %w", blob.ErrIO, id, err)
	}

	if hasher.Size() != md.Size {
		return fmt.Errorf("%w: %s has %d bytes, expected %d", blob.ErrCorruption, id, hasher.Size(), md.Size)
	}
	if bad := hasher.Mismatches(md.Hashes); len(bad) > 0 {
		slog.Warn("blob hash mismatch", "store", s.name, "id", id, "algorithms", bad)
		return fmt.Errorf("%w: %s hash mismatch %v", blob.ErrCorruption, id, bad)
	}
	if verifier != nil && !verifier.Verified() {
		return fmt.Errorf("%w: %s does not match %s", blob.ErrCorruption, id, md.Digest())
	}
	return nil
}

// Stats reports metadata totals and the capacity of the store's filesystem
func (s *Store) Stats(ctx context.Context) (*blob.Stats, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	st, err := s.md.Stats()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", blob.ErrIO, err)
	}

	out := &blob.Stats{
		Name:         s.name,
		Root:         s.root,
		LiveCount:    st.LiveCount,
		LiveBytes:    st.LiveBytes,
		DeletedCount: st.DeletedCount,
		DeletedBytes: st.DeletedBytes,
	}

	usage, err := disk.UsageWithContext(ctx, s.root)
	if err != nil {
		slog.Warn("blob store disk usage", "store", s.name, "error", err)
	} else {
		out.DiskTotal = usage.Total
		out.DiskFree = usage.Free
	}
	return out, nil
}

func mapMetadataErr(err error) error {
	if errors.Is(err, blob.ErrBlobNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", blob.ErrIO, err)
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

var _ blob.Store = (*Store)(nil)
