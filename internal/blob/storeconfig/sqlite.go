package storeconfig

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/db"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blobstores (
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	strategy TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS blobstore_name_idx ON blobstores(name);
CREATE UNIQUE INDEX IF NOT EXISTS blobstore_path_idx ON blobstores(path);
`

// SQLiteStore keeps configurations in a SQLite table
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLite opens the configuration database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := db.NewSqliteDb(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStore(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore creates the schema on conn
func NewSQLiteStore(conn *sqlx.DB) (*SQLiteStore, error) {
	if _, err := conn.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize blobstore schema: %w", err)
	}
	return &SQLiteStore{db: conn}, nil
}

func (s *SQLiteStore) List() ([]*Configuration, error) {
	var cfgs []*Configuration
	if err := s.db.Select(&cfgs, "SELECT name, path, strategy FROM blobstores ORDER BY name"); err != nil {
		return nil, fmt.Errorf("failed to list blob store configurations: %w", err)
	}
	return cfgs, nil
}

func (s *SQLiteStore) Get(name string) (*Configuration, error) {
	var cfg Configuration
	err := s.db.Get(&cfg, "SELECT name, path, strategy FROM blobstores WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", blob.ErrNoSuchStore, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob store configuration %s: %w", name, err)
	}
	return &cfg, nil
}

func (s *SQLiteStore) Create(cfg *Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := s.db.NamedExec("INSERT INTO blobstores (name, path, strategy) VALUES (:name, :path, :strategy)", cfg)
	if err != nil {
		return mapConstraint(err, cfg)
	}
	return nil
}

func (s *SQLiteStore) Update(cfg *Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	res, err := s.db.NamedExec("UPDATE blobstores SET path = :path, strategy = :strategy WHERE name = :name", cfg)
	if err != nil {
		return mapConstraint(err, cfg)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", blob.ErrNoSuchStore, cfg.Name)
	}
	return nil
}

func (s *SQLiteStore) Delete(name string) error {
	res, err := s.db.Exec("DELETE FROM blobstores WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete blob store configuration %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", blob.ErrNoSuchStore, name)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mapConstraint turns unique index violations into ErrDuplicateStore. Both
// sqlite drivers report them with the same message.
func mapConstraint(err error, cfg *Configuration) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: blobstores.name"):
		return fmt.Errorf("%w: name %q", blob.ErrDuplicateStore, cfg.Name)
	case strings.Contains(msg, "UNIQUE constraint failed: blobstores.path"):
		return fmt.Errorf("%w: path %q already used by another store", blob.ErrDuplicateStore, cfg.Path)
	default:
		return fmt.Errorf("failed to save blob store configuration %s: %w", cfg.Name, err)
	}
}

var _ Store = (*SQLiteStore)(nil)
