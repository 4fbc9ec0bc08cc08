package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/scrollframe/internal/config"
	"github.com/dgnsrekt/scrollframe/internal/kvstore"
)

// NewRootCmd creates the root command for scrollframe.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrollframe",
		Short: "Scrolling screenshot capture over the Chrome DevTools Protocol",
		Long: `scrollframe captures a selected region of a browser page every time the
page scrolls past a threshold, keeps the frames in a local sqlite store, and
composes them into images or documents for the clipboard or download.

Configuration comes from SCROLLFRAME_* environment variables (a .env file in
the working directory is read first) and an optional YAML profile.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringP("profile", "p", "", "YAML profile with compositor style and capture tuning")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewFramesCmd())
	cmd.AddCommand(NewLicenseCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg     *config.Config
	profile *config.Profile
}

// loadApp reads configuration, applies --verbose and --profile, and sets up
// logging. Log lines go to console and the rotating log file.
func loadApp(cmd *cobra.Command, console io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
	if err := setupLogger(cfg.LogLevel, cfg.LogFile, console); err != nil {
		return nil, fmt.Errorf("logger setup failed: %w", err)
	}

	a := &app{cfg: cfg}
	if path, _ := cmd.Flags().GetString("profile"); path != "" {
		p, err := config.LoadProfile(path)
		if err != nil {
			return nil, err
		}
		a.profile = p
		slog.Debug("profile loaded", "path", path)
	}
	return a, nil
}

func (a *app) openStore() (*kvstore.SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	kv, err := kvstore.OpenSQLite(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", a.cfg.DBPath, err)
	}
	return kv, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(level, filename string, console io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	h := slog.NewTextHandler(io.MultiWriter(console, logWriter), &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(h))
	return nil
}
