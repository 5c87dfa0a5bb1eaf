// Package accesslog keeps a per-store JSON-lines log of blob operations
// served over HTTP.
package accesslog

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/openmined/blobvault/internal/blob/storeconfig"
)

type AccessLogger struct {
	baseDir     string
	writers     map[string]*storeLogWriter
	writerMutex sync.RWMutex
	logger      *slog.Logger
}

func New(baseDir string, logger *slog.Logger) (*AccessLogger, error) {
	if err := os.MkdirAll(baseDir, LogDirPermission); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &AccessLogger{
		baseDir: baseDir,
		writers: make(map[string]*storeLogWriter),
		logger:  logger,
	}, nil
}

// Log appends entry to the log of entry.Store. Write failures are reported
// through slog and otherwise ignored.
func (l *AccessLogger) Log(entry Entry) {
	if err := storeconfig.ValidateName(entry.Store); err != nil {
		return
	}

	w, err := l.writer(entry.Store)
	if err != nil {
		l.logger.Error("access log open", "store", entry.Store, "error", err)
		return
	}
	if err := w.writeEntry(entry); err != nil {
		l.logger.Error("access log write", "store", entry.Store, "error", err)
	}
}

func (l *AccessLogger) writer(store string) (*storeLogWriter, error) {
	l.writerMutex.RLock()
	w, ok := l.writers[store]
	l.writerMutex.RUnlock()
	if ok {
		return w, nil
	}

	l.writerMutex.Lock()
	defer l.writerMutex.Unlock()

	if w, ok := l.writers[store]; ok {
		return w, nil
	}
	w, err := newStoreLogWriter(store, filepath.Join(l.baseDir, store))
	if err != nil {
		return nil, err
	}
	l.writers[store] = w
	return w, nil
}

// StoreLogs returns up to limit of the most recent entries of store, newest
// last
func (l *AccessLogger) StoreLogs(store string, limit int) ([]Entry, error) {
	if err := storeconfig.ValidateName(store); err != nil {
		return nil, err
	}

	dir := filepath.Join(l.baseDir, store)
	files, err := listLogFiles(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, name := range files {
		fileEntries, err := readEntries(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		entries = append(entries, fileEntries...)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func readEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if err := e.parseTime(); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func (l *AccessLogger) Close() error {
	l.writerMutex.Lock()
	defer l.writerMutex.Unlock()

	var errs []error
	for store, w := range l.writers {
		if err := w.close(); err != nil {
			errs = append(errs, fmt.Errorf("close access log %s: %w", store, err))
		}
	}
	l.writers = make(map[string]*storeLogWriter)
	return errors.Join(errs...)
}
