package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/openmined/blobvault/internal/blob/manager"
	"github.com/openmined/blobvault/internal/blob/storeconfig"
	"github.com/openmined/blobvault/internal/server"
	"github.com/openmined/blobvault/internal/utils"
	"github.com/openmined/blobvault/internal/version"
	"github.com/spf13/cobra"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	lightGray = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
	bold      = lipgloss.NewStyle().Bold(true)
)

func showHeader(cmd *cobra.Command) {
	fmt.Fprintln(cmd.OutOrStdout(), cyan.Bold(true).Render(version.AppName)+" "+gray.Render(version.Short()))
}

// offlineManager opens the store configurations and starts every store that
// is not held by a running server. close stops the stores and releases the
// configuration database.
type offlineManager struct {
	*manager.Manager
	configs *storeconfig.SQLiteStore
}

func openManager(ctx context.Context, cfg *server.Config) (*offlineManager, error) {
	if err := utils.EnsureDir(cfg.Blob.BaseDir); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	configs, err := storeconfig.OpenSQLite(cfg.ConfigDBPath)
	if err != nil {
		return nil, err
	}

	mgr := manager.New(cfg.Blob.BaseDir, configs, manager.WithStoreOptions(cfg.Blob.StoreOptions()...))
	if err := mgr.Start(ctx); err != nil {
		configs.Close()
		return nil, err
	}
	return &offlineManager{Manager: mgr, configs: configs}, nil
}

func (m *offlineManager) close(ctx context.Context) error {
	return errors.Join(m.Stop(ctx), m.configs.Close())
}
