// Package fileops holds the crash-safe filesystem primitives used by the
// file blob store.
package fileops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openmined/blobvault/internal/utils"
)

const (
	// TempExt marks files that are still being written
	TempExt = ".tmp"

	filePerm = 0o644
	dirPerm  = 0o755
)

// FileOperations is the set of primitives the blob store needs from the
// filesystem
type FileOperations interface {
	// CreateTemp creates a new exclusive temp file next to finalPath
	CreateTemp(finalPath string) (*os.File, error)

	// Commit flushes f to stable storage and closes it
	Commit(f *os.File) error

	// Move atomically renames src to dst and syncs dst's directory
	Move(src, dst string) error

	// Open opens path for reading
	Open(path string) (*os.File, error)

	// Delete removes path, reporting whether it existed
	Delete(path string) (bool, error)

	// Exists reports whether path exists
	Exists(path string) (bool, error)
}

// Simple implements FileOperations on the local filesystem
type Simple struct{}

var _ FileOperations = Simple{}

func (Simple) CreateTemp(finalPath string) (*os.File, error) {
	dir := filepath.Dir(finalPath)
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	suffix, err := utils.RandBase34(8)
	if err != nil {
		return nil, err
	}

	tmp := finalPath + "." + suffix + TempExt
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

func (Simple) Commit(f *os.File) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f.Name(), err)
	}
	return nil
}

func (Simple) Move(src, dst string) error {
	if err := utils.EnsureParent(dst); err != nil {
		return fmt.Errorf("create directory for %s: %w", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(src), err)
	}
	return syncDir(filepath.Dir(dst))
}

func (Simple) Open(path string) (*os.File, error) {
	return os.Open(path)
}

func (Simple) Delete(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (Simple) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// syncDir persists a rename by syncing the directory entry
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory %s: %w", dir, err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("sync directory %s: %w", dir, err)
	}
	return nil
}
