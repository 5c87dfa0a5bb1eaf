package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/openmined/blobvault/internal/blob/manager"
	"github.com/openmined/blobvault/internal/blob/storeconfig"
	"github.com/openmined/blobvault/internal/server/accesslog"
	"github.com/openmined/blobvault/internal/utils"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	config    *Config
	server    *http.Server
	configs   *storeconfig.SQLiteStore
	manager   *manager.Manager
	compactor *compactor
	accessLog *accesslog.AccessLogger
}

// New validates config and wires the blob store manager, the compactor and
// the admin API. Nothing is started yet.
func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := utils.EnsureDir(config.Blob.BaseDir); err != nil {
		return nil, fmt.Errorf("create blob base dir: %w", err)
	}

	configs, err := storeconfig.OpenSQLite(config.ConfigDBPath)
	if err != nil {
		return nil, fmt.Errorf("open blob store configurations: %w", err)
	}

	mgr := manager.New(config.Blob.BaseDir, configs, manager.WithStoreOptions(config.Blob.StoreOptions()...))

	accessLog, err := accesslog.New(filepath.Join(config.LogDir, "access"), slog.Default())
	if err != nil {
		configs.Close()
		return nil, fmt.Errorf("create access logger: %w", err)
	}

	handler, err := SetupRoutes(config, mgr, accessLog)
	if err != nil {
		accessLog.Close()
		configs.Close()
		return nil, err
	}

	return &Server{
		config:    config,
		configs:   configs,
		manager:   mgr,
		compactor: newCompactor(mgr, config.Blob.CompactInterval),
		accessLog: accessLog,
		server: &http.Server{
			Addr:              config.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Manager returns the blob store manager
func (s *Server) Manager() *manager.Manager {
	return s.manager
}

// Handler returns the admin API handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is done or the HTTP server fails, then shuts down
func (s *Server) Start(ctx context.Context) error {
	slog.Info("blobvault server start", "addr", s.config.HTTP.Addr, "basedir", s.config.Blob.BaseDir)
	defer slog.Info("blobvault server stop")

	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("blob store manager start error: %w", err)
	}

	compactCtx, cancelCompact := context.WithCancel(ctx)
	defer cancelCompact()
	s.compactor.Start(compactCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.runHttpServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server start error", "error", err)
			errCh <- err
			return
		}
		slog.Info("http server stopped")
		errCh <- nil
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("blobvault shutdown signal")
	case serveErr = <-errCh:
	}

	cancelCompact()
	s.compactor.Wait()

	if err := s.Stop(context.WithoutCancel(ctx)); err != nil {
		slog.Error("blobvault shutdown error", "error", err)
		return errors.Join(serveErr, err)
	}
	return serveErr
}

// Stop drains HTTP requests, then stops every blob store
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.manager.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := s.accessLog.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.configs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close blob store configurations: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) runHttpServer() error {
	if s.config.HTTP.TLS() {
		slog.Info("server start tls", "addr", s.config.HTTP.Addr, "cert", s.config.HTTP.CertFile, "key", s.config.HTTP.KeyFile)
		return s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.HTTP.Addr)
	return s.server.ListenAndServe()
}
