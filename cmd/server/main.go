package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/blobvault/internal/server"
	"github.com/openmined/blobvault/internal/utils"
	"github.com/openmined/blobvault/internal/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "blobvault",
	Short:        "Blobvault blob store server",
	Version:      version.Detailed(),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		closeLog, err := setupLogger(cfg.LogDir, slog.LevelDebug)
		if err != nil {
			return err
		}
		defer closeLog()

		showHeader(cmd)
		slog.Info("blobvault", "version", version.Version, "data_dir", cfg.DataDir, "base_dir", cfg.Blob.BaseDir)

		srv, err := server.New(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("Bye!")
		return srv.Start(cmd.Context())
	},
}

func init() {
	addServeFlags(rootCmd)
	addPersistentFlags(rootCmd)

	rootCmd.AddCommand(newStoresCmd())
	rootCmd.AddCommand(newCompactCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().SortFlags = false
	cmd.Flags().StringP("bind", "b", server.DefaultAddr, "Address to bind the server")
	cmd.Flags().String("cert", "", "Path to the TLS certificate file")
	cmd.Flags().String("key", "", "Path to the TLS key file")
	cmd.Flags().Duration("compact-interval", server.DefaultCompactInterval, "Interval between compaction sweeps, 0 disables them")
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", "", "Config file (yaml, json or toml)")
	cmd.PersistentFlags().String("env-file", "", "Load environment variables from this file")
	cmd.PersistentFlags().StringP("datadir", "d", defaultDataDir, "Data directory")
	cmd.PersistentFlags().String("basedir", "", "Base directory of auto-created blob stores (default <datadir>/blobs)")
}

func main() {
	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

// setupLogger sends logs to stdout and to a server.log file inside logDir.
// The returned func closes the file.
func setupLogger(logDir string, level slog.Level) (func(), error) {
	if err := utils.EnsureDir(logDir); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(logDir, "server.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: level,
		// the interceptor stamps each line
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(consoleHandler(os.Stdout, level), fileHandler)))
	return func() {
		logInterceptor.Close()
		file.Close()
	}, nil
}

// setupConsoleLogger is used by the one-shot commands, which keep stdout for
// their own output
func setupConsoleLogger(w io.Writer, level slog.Level) {
	slog.SetDefault(slog.New(consoleHandler(w, level)))
}

func consoleHandler(w io.Writer, level slog.Level) slog.Handler {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    noColor,
	})
}
