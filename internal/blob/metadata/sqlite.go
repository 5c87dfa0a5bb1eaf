package metadata

import (
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/db"
)

const (
	dbFileName   = "metadata.db"
	iterPageSize = 500
)

// every committed write must reach disk before the call returns
const durablePragma = `
PRAGMA journal_mode=WAL;
PRAGMA synchronous=FULL;
PRAGMA busy_timeout=5000;
PRAGMA temp_store=MEMORY;
`

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blobs (
	id TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	hashes TEXT NOT NULL,
	headers TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	deleted_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_blobs_deleted_at ON blobs(deleted_at);
`

const selectColumns = "id, size, hashes, headers, created_at, deleted_at"

// row is the on-disk shape of a record
type row struct {
	ID        string        `db:"id"`
	Size      int64         `db:"size"`
	Hashes    string        `db:"hashes"`
	Headers   string        `db:"headers"`
	CreatedAt int64         `db:"created_at"`
	DeletedAt sql.NullInt64 `db:"deleted_at"`
}

// SQLiteStore keeps blob metadata in a SQLite database
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLite opens (creating if needed) the metadata database inside dir
func OpenSQLite(dir string) (*SQLiteStore, error) {
	conn, err := db.NewSqliteDb(
		db.WithPath(filepath.Join(dir, dbFileName)),
		db.WithPragmas(durablePragma),
		// pragmas are per connection, so keep exactly one
		db.WithMaxOpenConns(1),
	)
	if err != nil {
		return nil, err
	}

	store, err := NewSQLiteStore(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore creates a store on an existing connection
func NewSQLiteStore(conn *sqlx.DB) (*SQLiteStore, error) {
	if _, err := conn.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize metadata schema: %w", err)
	}
	return &SQLiteStore{db: conn}, nil
}

func (s *SQLiteStore) Add(md *blob.Metadata) error {
	r, err := toRow(md)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExec(
		`INSERT INTO blobs (`+selectColumns+`) VALUES (:id, :size, :hashes, :headers, :created_at, :deleted_at)`,
		r,
	)
	if err != nil {
		return fmt.Errorf("failed to insert metadata %s: %w", md.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(id blob.BlobID) (*blob.Metadata, error) {
	var r row
	err := s.db.Get(&r, "SELECT "+selectColumns+" FROM blobs WHERE id = ?", string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", blob.ErrBlobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata %s: %w", id, err)
	}
	return r.toMetadata()
}

func (s *SQLiteStore) MarkDeleted(id blob.BlobID, at time.Time) error {
	res, err := s.db.Exec(
		"UPDATE blobs SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		at.UnixNano(), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s deleted: %w", id, err)
	}
	return expectOne(res, id)
}

func (s *SQLiteStore) Undelete(id blob.BlobID) error {
	res, err := s.db.Exec(
		"UPDATE blobs SET deleted_at = NULL WHERE id = ? AND deleted_at IS NOT NULL",
		string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to undelete %s: %w", id, err)
	}
	return expectOne(res, id)
}

func (s *SQLiteStore) Remove(id blob.BlobID) error {
	res, err := s.db.Exec("DELETE FROM blobs WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", id, err)
	}
	return expectOne(res, id)
}

func (s *SQLiteStore) DeletedBefore(cutoff time.Time) ([]blob.BlobID, error) {
	var ids []string
	err := s.db.Select(&ids,
		"SELECT id FROM blobs WHERE deleted_at IS NOT NULL AND deleted_at < ? ORDER BY deleted_at",
		cutoff.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list deleted blobs: %w", err)
	}

	out := make([]blob.BlobID, len(ids))
	for i, id := range ids {
		out[i] = blob.BlobID(id)
	}
	return out, nil
}

// Iter walks every record in id order. Records are fetched in pages so no
// cursor stays open while the caller handles a record; the caller may use
// the store from inside the loop. Iteration stops after an error is yielded.
func (s *SQLiteStore) Iter() iter.Seq2[*blob.Metadata, error] {
	return func(yield func(*blob.Metadata, error) bool) {
		after := ""
		for {
			var rows []row
			err := s.db.Select(&rows,
				"SELECT "+selectColumns+" FROM blobs WHERE id > ? ORDER BY id LIMIT ?",
				after, iterPageSize,
			)
			if err != nil {
				yield(nil, fmt.Errorf("failed to query metadata: %w", err))
				return
			}

			for i := range rows {
				md, err := rows[i].toMetadata()
				if !yield(md, err) || err != nil {
					return
				}
			}

			if len(rows) < iterPageSize {
				return
			}
			after = rows[len(rows)-1].ID
		}
	}
}

func (s *SQLiteStore) Count() (int64, error) {
	var count int64
	if err := s.db.Get(&count, "SELECT COUNT(*) FROM blobs"); err != nil {
		return 0, fmt.Errorf("failed to count metadata: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) Stats() (*Stats, error) {
	var st Stats
	err := s.db.Get(&st, `
		SELECT
			COALESCE(SUM(CASE WHEN deleted_at IS NULL THEN 1 ELSE 0 END), 0) AS live_count,
			COALESCE(SUM(CASE WHEN deleted_at IS NULL THEN size ELSE 0 END), 0) AS live_bytes,
			COALESCE(SUM(CASE WHEN deleted_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS deleted_count,
			COALESCE(SUM(CASE WHEN deleted_at IS NOT NULL THEN size ELSE 0 END), 0) AS deleted_bytes
		FROM blobs
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute metadata stats: %w", err)
	}
	return &st, nil
}

// Close releases the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func expectOne(res sql.Result, id blob.BlobID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", blob.ErrBlobNotFound, id)
	}
	return nil
}

func toRow(md *blob.Metadata) (*row, error) {
	hashes, err := json.Marshal(nonNil(md.Hashes))
	if err != nil {
		return nil, fmt.Errorf("encode hashes: %w", err)
	}
	headers, err := json.Marshal(nonNil(md.Headers))
	if err != nil {
		return nil, fmt.Errorf("encode headers: %w", err)
	}

	r := &row{
		ID:        string(md.ID),
		Size:      md.Size,
		Hashes:    string(hashes),
		Headers:   string(headers),
		CreatedAt: md.CreatedAt.UnixNano(),
	}
	if md.Deleted && md.DeletedAt != nil {
		r.DeletedAt = sql.NullInt64{Int64: md.DeletedAt.UnixNano(), Valid: true}
	}
	return r, nil
}

func (r *row) toMetadata() (*blob.Metadata, error) {
	md := &blob.Metadata{
		ID:        blob.BlobID(r.ID),
		Size:      r.Size,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.Hashes), &md.Hashes); err != nil {
		return nil, fmt.Errorf("decode hashes of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Headers), &md.Headers); err != nil {
		return nil, fmt.Errorf("decode headers of %s: %w", r.ID, err)
	}
	if r.DeletedAt.Valid {
		at := time.Unix(0, r.DeletedAt.Int64).UTC()
		md.Deleted = true
		md.DeletedAt = &at
	}
	return md, nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

var _ Store = (*SQLiteStore)(nil)
