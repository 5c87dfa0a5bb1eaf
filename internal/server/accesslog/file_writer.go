package accesslog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

type storeLogWriter struct {
	store       string
	file        *os.File
	currentSize int64
	mutex       sync.Mutex
	logDir      string
	currentFile string
}

func newStoreLogWriter(store, logDir string) (*storeLogWriter, error) {
	if err := os.MkdirAll(logDir, LogDirPermission); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	w := &storeLogWriter{store: store, logDir: logDir}
	if err := w.openLogFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// writeEntry appends entry as one JSON line, rotating the file first when it
// would grow past MaxLogSize
func (w *storeLogWriter) writeEntry(entry Entry) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	entry.stamp()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	data = append(data, '\n')

	if w.currentSize+int64(len(data)) > MaxLogSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := w.file.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	w.currentSize += int64(n)
	return nil
}

func (w *storeLogWriter) openLogFile() error {
	filename := fmt.Sprintf("access_%s.log", time.Now().Format("20060102"))
	logPath := filepath.Join(w.logDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, LogFilePermission)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	w.file = file
	w.currentSize = stat.Size()
	w.currentFile = logPath
	return nil
}

func (w *storeLogWriter) rotate() error {
	if w.file != nil {
		w.file.Close()
	}

	newName := fmt.Sprintf("access_%s.log", time.Now().Format("20060102_150405.000000"))
	newPath := filepath.Join(w.logDir, newName)
	if err := os.Rename(w.currentFile, newPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if err := w.cleanOldLogs(); err != nil {
		return fmt.Errorf("failed to clean old logs: %w", err)
	}
	return w.openLogFile()
}

// cleanOldLogs keeps the newest MaxLogFiles rotated files
func (w *storeLogWriter) cleanOldLogs() error {
	logFiles, err := listLogFiles(w.logDir)
	if err != nil {
		return err
	}
	if len(logFiles) <= MaxLogFiles {
		return nil
	}

	for _, name := range logFiles[:len(logFiles)-MaxLogFiles] {
		if err := os.Remove(filepath.Join(w.logDir, name)); err != nil {
			return fmt.Errorf("failed to remove old log file: %w", err)
		}
	}
	return nil
}

func (w *storeLogWriter) close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// listLogFiles returns the .log files of dir, oldest first
func listLogFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type logFile struct {
		name    string
		modTime time.Time
	}
	var files []logFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{e.Name(), info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].name < files[j].name
		}
		return files[i].modTime.Before(files[j].modTime)
	})

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}
