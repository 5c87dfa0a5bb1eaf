package main

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/openmined/blobvault/internal/blob/manager"
	"github.com/spf13/cobra"
)

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Run one compaction sweep over every available blob store",
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

			configs, err := mgr.Configurations()
			if err != nil {
				return err
			}

			reports := mgr.CompactAll(cmd.Context())
			printReports(cmd.OutOrStdout(), reports)

			started := mgr.List()
			for _, c := range configs {
				if !slices.Contains(started, c.Name) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", yellow.Render("skipped"), c.Name)
				}
			}

			failed := 0
			for _, r := range reports {
				if r.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("compaction failed for %d of %d stores", failed, len(reports))
			}
			return nil
		},
	}
}

func printReports(w io.Writer, reports []manager.CompactReport) {
	slices.SortFunc(reports, func(a, b manager.CompactReport) int {
		return strings.Compare(a.Store, b.Store)
	})

	var total int64
	for _, r := range reports {
		if r.Err != nil {
			fmt.Fprintf(w, "%s %s %s\n", red.Render("failed"), r.Store, gray.Render(r.Err.Error()))
			continue
		}
		res := r.Result
		total += res.BytesReclaimed
		fmt.Fprintf(w, "%s %s purged=%d temp=%d orphans=%d reclaimed=%s %s\n",
			green.Render("compacted"), r.Store,
			res.Purged, res.TempFilesRemoved, res.OrphansRemoved,
			humanize.Bytes(uint64(res.BytesReclaimed)),
			gray.Render(res.Took.String()),
		)
	}
	fmt.Fprintf(w, "reclaimed %s\n", humanize.Bytes(uint64(total)))
}
