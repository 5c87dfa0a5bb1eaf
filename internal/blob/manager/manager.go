// Package manager is the process-wide registry of named blob stores. Every
// caller obtains its stores through a Manager.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/blob/fileops"
	"github.com/openmined/blobvault/internal/blob/filestore"
	"github.com/openmined/blobvault/internal/blob/location"
	"github.com/openmined/blobvault/internal/blob/storeconfig"
	"golang.org/x/sync/errgroup"
)

const defaultParallelism = 8

// Factory builds a stopped store from its configuration
type Factory func(cfg *storeconfig.Configuration) (blob.Store, error)

// Manager owns the lifecycle of every registered store. Persisted
// configuration is always changed before the registry, so a restart
// rebuilds the registry from configuration alone.
type Manager struct {
	baseDir     string
	configs     storeconfig.Store
	factory     Factory
	parallelism int

	// one mutex per store name, created on first use
	nameLocks sync.Map

	mu     sync.RWMutex
	stores map[string]blob.Store
	// bumped by Stop; a store started under an older generation is not
	// registered
	gen uint64
}

// Option configures a Manager
type Option func(*Manager)

// WithFactory replaces the file store factory
func WithFactory(f Factory) Option {
	return func(m *Manager) {
		m.factory = f
	}
}

// WithStoreOptions passes opts to every file store the default factory builds
func WithStoreOptions(opts ...filestore.Option) Option {
	return func(m *Manager) {
		m.factory = FileStoreFactory(opts...)
	}
}

// WithParallelism bounds how many stores are started or compacted at once
func WithParallelism(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

// FileStoreFactory returns a Factory building file stores rooted at
// cfg.Root()
func FileStoreFactory(opts ...filestore.Option) Factory {
	return func(cfg *storeconfig.Configuration) (blob.Store, error) {
		strategy, err := location.Lookup(cfg.Strategy)
		if err != nil {
			return nil, err
		}
		return filestore.New(cfg.Name, cfg.Root(), strategy, fileops.Simple{}, opts...), nil
	}
}

// New creates a Manager. Stores created implicitly by Get live under baseDir.
func New(baseDir string, configs storeconfig.Store, opts ...Option) *Manager {
	m := &Manager{
		baseDir:     baseDir,
		configs:     configs,
		factory:     FileStoreFactory(),
		parallelism: defaultParallelism,
		stores:      make(map[string]blob.Store),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BaseDir returns the directory of implicitly created stores
func (m *Manager) BaseDir() string {
	return m.baseDir
}

func (m *Manager) lockName(name string) func() {
	v, _ := m.nameLocks.LoadOrStore(name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) registered(name string) (blob.Store, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[name]
	return s, ok
}

func (m *Manager) generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// track registers s unless the registry was stopped after gen was read
func (m *Manager) track(s blob.Store, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	m.stores[s.Name()] = s
	return true
}

func (m *Manager) untrack(name string) {
	m.mu.Lock()
	delete(m.stores, name)
	m.mu.Unlock()
}

// Start starts a store for every persisted configuration. Failing to load
// the configurations is fatal; a store that fails to start is logged and
// skipped.
func (m *Manager) Start(ctx context.Context) error {
	cfgs, err := m.configs.List()
	if err != nil {
		return fmt.Errorf("load blob store configurations: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(m.parallelism)
	for _, cfg := range cfgs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			unlock := m.lockName(cfg.Name)
			defer unlock()

			if _, ok := m.registered(cfg.Name); ok {
				return nil
			}
			if _, err := m.startStore(cfg); err != nil {
				slog.Error("blob store skipped", "name", cfg.Name, "path", cfg.Path, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Info("blob store manager start", "configured", len(cfgs), "started", len(m.List()))
	return nil
}

// Stop stops every registered store and clears the registry. Individual stop
// failures are logged.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	stores := m.stores
	m.stores = make(map[string]blob.Store)
	m.gen++
	m.mu.Unlock()

	var wg sync.WaitGroup
	for name, s := range stores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Stop(); err != nil {
				slog.Warn("blob store stop", "name", name, "error", err)
			}
		}()
	}
	wg.Wait()

	slog.Info("blob store manager stop", "stopped", len(stores))
	return nil
}

// startStore builds, starts and registers the store of cfg. The caller holds
// the name lock.
func (m *Manager) startStore(cfg *storeconfig.Configuration) (blob.Store, error) {
	gen := m.generation()
	s, err := m.factory(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	if !m.track(s, gen) {
		if err := s.Stop(); err != nil {
			slog.Warn("blob store stop", "name", cfg.Name, "error", err)
		}
		return nil, fmt.Errorf("%w: manager stopped while starting %s", blob.ErrStorageUnavailable, cfg.Name)
	}
	return s, nil
}

// Create persists cfg and starts a new store for it
func (m *Manager) Create(ctx context.Context, cfg *storeconfig.Configuration) (blob.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	unlock := m.lockName(cfg.Name)
	defer unlock()

	if _, ok := m.registered(cfg.Name); ok {
		return nil, fmt.Errorf("%w: %s", blob.ErrDuplicateStore, cfg.Name)
	}
	return m.createLocked(cfg)
}

func (m *Manager) createLocked(cfg *storeconfig.Configuration) (blob.Store, error) {
	if err := m.configs.Create(cfg); err != nil {
		return nil, err
	}

	s, err := m.startStore(cfg)
	if err != nil {
		if derr := m.configs.Delete(cfg.Name); derr != nil {
			slog.Error("blob store configuration rollback", "name", cfg.Name, "error", derr)
		}
		return nil, err
	}

	slog.Info("blob store create", "name", cfg.Name, "path", cfg.Path, "strategy", cfg.Strategy)
	return s, nil
}

// Update replaces the configuration of an existing store and restarts it.
// Content is not migrated when the path changes: the restarted store starts
// empty at the new root and the old root is left untouched. The location
// strategy of a store cannot be changed. When the new configuration fails to
// start, the previous one is persisted and started again.
func (m *Manager) Update(ctx context.Context, cfg *storeconfig.Configuration) (blob.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is nil", blob.ErrInvalidConfiguration)
	}

	unlock := m.lockName(cfg.Name)
	defer unlock()

	current, err := m.configs.Get(cfg.Name)
	if err != nil {
		return nil, err
	}

	next := *cfg
	if next.Strategy == "" {
		next.Strategy = current.Strategy
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if next.Strategy != current.Strategy {
		return nil, fmt.Errorf("%w: strategy of %s cannot change from %s to %s",
			blob.ErrInvalidConfiguration, cfg.Name, current.Strategy, next.Strategy)
	}

	if err := m.configs.Update(&next); err != nil {
		return nil, err
	}

	old, running := m.registered(cfg.Name)
	if running {
		m.untrack(cfg.Name)
		if err := old.Stop(); err != nil {
			slog.Warn("blob store stop", "name", cfg.Name, "error", err)
		}
	}

	s, err := m.startStore(&next)
	if err != nil {
		m.restore(current, running)
		return nil, err
	}

	if next.Path != current.Path {
		slog.Warn("blob store path changed, content not migrated", "name", cfg.Name, "from", current.Path, "to", next.Path)
	}
	slog.Info("blob store update", "name", cfg.Name, "path", next.Path)
	return s, nil
}

// restore puts back the configuration an Update replaced and restarts the
// store under it when it was running before
func (m *Manager) restore(cfg *storeconfig.Configuration, running bool) {
	if err := m.configs.Update(cfg); err != nil {
		slog.Error("blob store configuration rollback", "name", cfg.Name, "error", err)
		return
	}
	if !running {
		return
	}
	if _, err := m.startStore(cfg); err != nil {
		slog.Error("blob store restore", "name", cfg.Name, "path", cfg.Path, "error", err)
	}
}

// Delete stops the store and forgets its configuration. The store's content
// stays on disk.
func (m *Manager) Delete(ctx context.Context, name string) error {
	unlock := m.lockName(name)
	defer unlock()

	if err := m.configs.Delete(name); err != nil {
		if !errors.Is(err, blob.ErrNoSuchStore) {
			return err
		}
		if _, ok := m.registered(name); !ok {
			return err
		}
	}

	if s, ok := m.registered(name); ok {
		m.untrack(name)
		if err := s.Stop(); err != nil {
			slog.Warn("blob store stop", "name", name, "error", err)
		}
	}

	slog.Info("blob store delete", "name", name)
	return nil
}

// Get returns the running store called name. A store with a persisted
// configuration is started on demand; an unknown name gets a default store
// under the base directory.
func (m *Manager) Get(ctx context.Context, name string) (blob.Store, error) {
	if s, ok := m.registered(name); ok {
		return s, nil
	}
	if err := storeconfig.ValidateName(name); err != nil {
		return nil, err
	}

	unlock := m.lockName(name)
	defer unlock()

	// another caller may have won the race for the lock
	if s, ok := m.registered(name); ok {
		return s, nil
	}

	cfg, err := m.configs.Get(name)
	switch {
	case err == nil:
		return m.startStore(cfg)
	case errors.Is(err, blob.ErrNoSuchStore):
		return m.createLocked(m.defaultConfiguration(name))
	default:
		return nil, err
	}
}

func (m *Manager) defaultConfiguration(name string) *storeconfig.Configuration {
	return &storeconfig.Configuration{
		Name:     name,
		Path:     filepath.Join(m.baseDir, name),
		Strategy: location.Default,
	}
}

// Lookup returns the running store called name without creating one
func (m *Manager) Lookup(name string) (blob.Store, error) {
	if s, ok := m.registered(name); ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", blob.ErrNoSuchStore, name)
}

// Configuration returns the persisted configuration of name
func (m *Manager) Configuration(name string) (*storeconfig.Configuration, error) {
	return m.configs.Get(name)
}

// Configurations returns every persisted configuration, started or not
func (m *Manager) Configurations() ([]*storeconfig.Configuration, error) {
	return m.configs.List()
}

// List returns the names of the registered stores in no particular order
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	return names
}

// Browse returns the registered stores in no particular order
func (m *Manager) Browse() []blob.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stores := make([]blob.Store, 0, len(m.stores))
	for _, s := range m.stores {
		stores = append(stores, s)
	}
	return stores
}

// CompactReport is the outcome of compacting one store
type CompactReport struct {
	Store  string
	Result *blob.CompactResult
	Err    error
}

// CompactAll compacts every registered store. A failing store does not stop
// the others; its error is reported in its CompactReport.
func (m *Manager) CompactAll(ctx context.Context) []CompactReport {
	stores := m.Browse()
	reports := make([]CompactReport, len(stores))

	var g errgroup.Group
	g.SetLimit(m.parallelism)
	for i, s := range stores {
		g.Go(func() error {
			res, err := s.Compact(ctx)
			reports[i] = CompactReport{Store: s.Name(), Result: res, Err: err}
			return nil
		})
	}
	g.Wait()
	return reports
}
