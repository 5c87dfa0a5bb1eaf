package main

import (
	"fmt"
	"log/slog"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const (
	statusReady       = "ready"
	statusUnavailable = "unavailable"
)

type storeRow struct {
	Name     string
	Path     string
	Strategy string
	Status   string
	Blobs    string
	Size     string
	Deleted  string
	Free     string
}

func newStoresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List the configured blob stores",
		Long:  "List the configured blob stores. Stores held by a running server are reported as unavailable.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			setupConsoleLogger(cmd.ErrOrStderr(), slog.LevelWarn)

			mgr, err := openManager(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer mgr.close(cmd.Context())

			rows, err := storeRows(cmd, mgr)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), gray.Render("no blob stores configured"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStores(rows))
			return nil
		},
	}
}

func storeRows(cmd *cobra.Command, mgr *offlineManager) ([]storeRow, error) {
	configs, err := mgr.Configurations()
	if err != nil {
		return nil, err
	}

	rows := make([]storeRow, 0, len(configs))
	for _, c := range configs {
		row := storeRow{
			Name:     c.Name,
			Path:     c.Root(),
			Strategy: c.Strategy,
			Status:   statusUnavailable,
			Blobs:    "-",
			Size:     "-",
			Deleted:  "-",
			Free:     "-",
		}

		if s, err := mgr.Lookup(c.Name); err == nil {
			stats, err := s.Stats(cmd.Context())
			if err != nil {
				return nil, fmt.Errorf("stats %s: %w", c.Name, err)
			}
			row.Status = statusReady
			row.Blobs = humanize.Comma(stats.LiveCount)
			row.Size = humanize.Bytes(uint64(stats.LiveBytes))
			row.Deleted = fmt.Sprintf("%s (%s)", humanize.Comma(stats.DeletedCount), humanize.Bytes(uint64(stats.DeletedBytes)))
			row.Free = humanize.Bytes(stats.DiskFree)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func renderStores(rows []storeRow) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(gray).
		Headers("NAME", "PATH", "STRATEGY", "STATUS", "BLOBS", "SIZE", "DELETED", "FREE").
		StyleFunc(func(row, col int) lipgloss.Style {
			base := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case row == table.HeaderRow:
				return base.Inherit(bold)
			case col == 0:
				return base.Inherit(cyan)
			case col == 1:
				return base.Inherit(lightGray)
			case col == 3 && rows[row].Status == statusReady:
				return base.Inherit(green)
			case col == 3:
				return base.Inherit(yellow)
			}
			return base
		})

	for _, r := range rows {
		t.Row(r.Name, r.Path, r.Strategy, r.Status, r.Blobs, r.Size, r.Deleted, r.Free)
	}
	return t.String()
}
