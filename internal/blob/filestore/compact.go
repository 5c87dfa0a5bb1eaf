package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/blob/fileops"
	"github.com/openmined/blobvault/internal/blob/location"
)

// Compact purges blobs soft-deleted longer than the retention period, then
// removes temp files left by interrupted creates and payloads that never got
// a metadata record.
func (s *Store) Compact(ctx context.Context) (*blob.CompactResult, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	start := time.Now()
	res := &blob.CompactResult{}

	if err := s.purgeExpired(ctx, res); err != nil {
		return res, err
	}
	if err := s.sweepTempFiles(ctx, res); err != nil {
		return res, err
	}
	if err := s.sweepOrphans(ctx, res); err != nil {
		return res, err
	}

	res.Took = time.Since(start)
	slog.Info("blob store compact",
		"store", s.name,
		"purged", res.Purged,
		"temp", res.TempFilesRemoved,
		"orphans", res.OrphansRemoved,
		"reclaimed", humanize.Bytes(uint64(res.BytesReclaimed)),
		"took", res.Took,
	)
	return res, nil
}

func (s *Store) purgeExpired(ctx context.Context, res *blob.CompactResult) error {
	cutoff := s.opts.now().Add(-s.opts.retention)
	ids, err := s.md.DeletedBefore(cutoff)
	if err != nil {
		return fmt.Errorf("%w: %w", blob.ErrIO, err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.purge(id, cutoff, res); err != nil {
			return err
		}
	}
	return nil
}

// purge removes the payload and then the record of one expired blob. The
// record is re-read under the blob lock since an undelete may have won.
func (s *Store) purge(id blob.BlobID, cutoff time.Time, res *blob.CompactResult) error {
	mu := s.blobLock(id)
	mu.Lock()
	defer mu.Unlock()

	md, err := s.md.Get(id)
	if errors.Is(err, blob.ErrBlobNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", blob.ErrIO, err)
	}
	if !md.Deleted || md.DeletedAt == nil || !md.DeletedAt.Before(cutoff) {
		return nil
	}

	if _, err := s.ops.Delete(s.contentPath(id)); err != nil {
		return fmt.Errorf("%w: purge %s: %w", blob.ErrIO, id, err)
	}
	if err := s.md.Remove(id); err != nil && !errors.Is(err, blob.ErrBlobNotFound) {
		return fmt.Errorf("%w: %w", blob.ErrIO, err)
	}

	res.Purged++
	res.BytesReclaimed += md.Size
	slog.Debug("blob purge", "store", s.name, "id", id)
	return nil
}

func (s *Store) sweepTempFiles(ctx context.Context, res *blob.CompactResult) error {
	matches, err := s.glob("**/*" + fileops.TempExt)
	if err != nil {
		return err
	}

	// wait out creates that made a temp file but have not registered it yet
	s.inflightMu.Lock()
	s.inflightMu.Unlock() //nolint:staticcheck // barrier

	for _, full := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.inflight.Contains(full) {
			continue
		}
		size := fileSize(full)
		removed, err := s.ops.Delete(full)
		if err != nil {
			return fmt.Errorf("%w: remove temp file: %w", blob.ErrIO, err)
		}
		if removed {
			res.TempFilesRemoved++
			res.BytesReclaimed += size
			slog.Debug("blob temp file removed", "store", s.name, "path", full)
		}
	}
	return nil
}

// sweepOrphans removes payloads with no metadata record. A create renames its
// payload before writing the record, so only payloads older than the grace
// period are considered.
func (s *Store) sweepOrphans(ctx context.Context, res *blob.CompactResult) error {
	matches, err := s.glob("**/*" + location.BlobExt)
	if err != nil {
		return err
	}

	threshold := s.opts.now().Add(-s.opts.tempGrace)
	for _, full := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}

		id, err := blob.ParseBlobID(strings.TrimSuffix(filepath.Base(full), location.BlobExt))
		if err != nil {
			continue
		}
		if s.contentPath(id) != full {
			// not where this store would put it; leave foreign files alone
			continue
		}

		removed, size, err := s.removeOrphan(id, full, threshold)
		if err != nil {
			return err
		}
		if removed {
			res.OrphansRemoved++
			res.BytesReclaimed += size
		}
	}
	return nil
}

func (s *Store) removeOrphan(id blob.BlobID, full string, threshold time.Time) (bool, int64, error) {
	mu := s.blobLock(id)
	mu.Lock()
	defer mu.Unlock()

	_, err := s.md.Get(id)
	if err == nil {
		return false, 0, nil
	}
	if !errors.Is(err, blob.ErrBlobNotFound) {
		return false, 0, fmt.Errorf("%w: %w", blob.ErrIO, err)
	}

	info, err := os.Stat(full)
	if err != nil || !info.ModTime().Before(threshold) {
		return false, 0, nil
	}

	removed, err := s.ops.Delete(full)
	if err != nil {
		return false, 0, fmt.Errorf("%w: remove orphan %s: %w", blob.ErrIO, id, err)
	}
	if removed {
		slog.Warn("blob orphan removed", "store", s.name, "id", id, "size", info.Size())
	}
	return removed, info.Size(), nil
}

// glob matches pattern below the content directory and returns absolute paths
func (s *Store) glob(pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(s.contentDir), pattern, doublestar.WithFilesOnly())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan %s: %w", blob.ErrIO, s.contentDir, err)
	}

	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.Join(s.contentDir, filepath.FromSlash(path.Clean(m)))
	}
	return out, nil
}

func fileSize(p string) int64 {
	info, err := os.Stat(p)
	if err != nil {
		return 0
	}
	return info.Size()
}
