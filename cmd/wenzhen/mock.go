package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wenzhenlab/wenzhen/internal/config"
	"github.com/wenzhenlab/wenzhen/internal/mockserver"
)

func mockserverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mockserver",
		Short: "Run a local stand-in for the consultation backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")

			cfgPath, _ := cmd.Flags().GetString("config")
			cfg := config.Default()
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: logLevel(cfg.Log.Level),
			}))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := mockserver.NewServer(mockserver.Config{
				Addr:         addr,
				WriteTimeout: cfg.Server.WriteTimeout(),
			}, logger)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8787", "Listen address")
	return cmd
}
