// Package main is the entry point for the wenzhen CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wenzhenlab/wenzhen/internal/config"
	"github.com/wenzhenlab/wenzhen/internal/store"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wenzhen",
		Short:         "A TCM consultation assistant for the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.AddCommand(versionCmd(), chatCmd(), profileCmd(), mockserverCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("wenzhen %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// app bundles the long-lived collaborators every command needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	blob     *store.SQLiteStore
	profiles *store.ProfileStore
}

// openApp loads configuration and opens the local database.
func openApp(cmd *cobra.Command) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	if cfgPath == "" {
		if resolved, ok := resolveConfigPath(); ok {
			cfgPath = resolved
		}
	}
	if cfgPath == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))

	blob, err := store.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		blob:     blob,
		profiles: store.NewProfileStore(blob, logger),
	}, nil
}

func (a *app) close() {
	if err := a.blob.Close(); err != nil {
		a.logger.Warn("closing database", "error", err)
	}
}

func logLevel(name string) slog.Level {
	switch name {
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

// resolveConfigPath searches standard locations for a config file.
// Search order: $XDG_CONFIG_HOME/wenzhen/wenzhen.yaml → ./wenzhen.yaml
func resolveConfigPath() (string, bool) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "wenzhen", "wenzhen.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "wenzhen", "wenzhen.yaml"))
	}

	candidates = append(candidates, "wenzhen.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}
