// Package storeconfig persists the configuration of every named blob store so
// the manager can rebuild its registry after a restart.
package storeconfig

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/blob/location"
)

// names become directory names, so keep them boring
var regexStoreName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Configuration is the durable record of one blob store
type Configuration struct {
	Name     string `json:"name" db:"name" yaml:"name"`
	Path     string `json:"path" db:"path" yaml:"path"`
	Strategy string `json:"strategy" db:"strategy" yaml:"strategy"`
}

func (c Configuration) String() string {
	return fmt.Sprintf("BlobStoreConfiguration{name=%s, path=%s, strategy=%s}", c.Name, c.Path, c.Strategy)
}

// Root is the directory owning the store's content and metadata
func (c Configuration) Root() string {
	return filepath.Join(c.Path, c.Name)
}

// ValidateName reports whether name can be used as a store name
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", blob.ErrInvalidConfiguration)
	}
	if !regexStoreName.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: invalid name %q", blob.ErrInvalidConfiguration, name)
	}
	return nil
}

// Validate checks required fields, makes the path absolute and clean, and
// fills in the default strategy
func (c *Configuration) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: configuration is nil", blob.ErrInvalidConfiguration)
	}
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	if c.Path == "" {
		return fmt.Errorf("%w: path is required for %q", blob.ErrInvalidConfiguration, c.Name)
	}
	path, err := filepath.Abs(c.Path)
	if err != nil {
		return fmt.Errorf("%w: path %q: %w", blob.ErrInvalidConfiguration, c.Path, err)
	}
	c.Path = path
	if c.Strategy == "" {
		c.Strategy = location.Default
	}
	if _, err := location.Lookup(c.Strategy); err != nil {
		return err
	}
	return nil
}

// Store is the durable collection of configurations. Name and path are
// each unique across the collection.
type Store interface {
	List() ([]*Configuration, error)
	Get(name string) (*Configuration, error)
	Create(cfg *Configuration) error
	Update(cfg *Configuration) error
	Delete(name string) error
	Close() error
}
