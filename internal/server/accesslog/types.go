package accesslog

import (
	"time"
)

const (
	MaxLogSize        = 10 * 1024 * 1024 // 10MB
	MaxLogFiles       = 5
	LogFilePermission = 0600
	LogDirPermission  = 0700

	timestampFormat = "2006-01-02 15:04:05.000 UTC"
)

type Operation string

const (
	OpBlobCreate   Operation = "blob.create"
	OpBlobRead     Operation = "blob.read"
	OpBlobMetadata Operation = "blob.metadata"
	OpBlobDelete   Operation = "blob.delete"
	OpBlobUndelete Operation = "blob.undelete"
	OpBlobVerify   Operation = "blob.verify"
	OpStoreCompact Operation = "store.compact"
	OpStoreAdmin   Operation = "store.admin"
)

// Entry is one line of a store's access log
type Entry struct {
	Timestamp  time.Time `json:"-"`
	Time       string    `json:"timestamp"`
	Store      string    `json:"store"`
	Operation  Operation `json:"operation"`
	BlobID     string    `json:"blob_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	StatusCode int       `json:"status_code"`
	Bytes      int64     `json:"bytes"`
	Error      string    `json:"error,omitempty"`
}

// stamp fills the serialized timestamp from Timestamp
func (e *Entry) stamp() {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Time = e.Timestamp.UTC().Format(timestampFormat)
}

// parseTime restores Timestamp after decoding
func (e *Entry) parseTime() error {
	t, err := time.Parse("2006-01-02 15:04:05.000 MST", e.Time)
	if err != nil {
		t, err = time.Parse(time.RFC3339, e.Time)
		if err != nil {
			return err
		}
	}
	e.Timestamp = t
	return nil
}
