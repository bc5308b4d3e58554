package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apaul10-dot/Project-Alpha/internal/pages"
	"github.com/apaul10-dot/Project-Alpha/internal/server"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := buildCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func buildCmd() *cobra.Command {
	v := server.NewViper()

	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:          "alpha-chat",
		Short:        "Relay chat messages between phones on the LAN and the desktop app",
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return nil
			}
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config %s: %w", configPath, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(debug)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg := server.ConfigFromViper(v)

			provider, err := pages.New(
				pages.WithURL(cfg.PublicURL()),
				pages.WithAssetsDir(cfg.AssetsDir),
			)
			if err != nil {
				return err
			}

			logger.Info("Starting Alpha chat server",
				zap.String("port", cfg.Port),
				zap.String("desktop_addr", cfg.DesktopAddr),
				zap.String("phone_url", cfg.PublicURL()))

			if err := server.Run(cmd.Context(), *cfg, logger, server.WithPages(provider)); err != nil {
				logger.Error("Server stopped with error", zap.Error(err))
				return err
			}
			logger.Info("Server exited gracefully")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.String("port", "", "listen address for phones, e.g. :3000")
	flags.String("desktop-addr", "", "listen address for the desktop bridge; empty string keeps the default")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")

	_ = v.BindPFlag("port", flags.Lookup("port"))
	_ = v.BindPFlag("desktop_addr", flags.Lookup("desktop-addr"))

	return cmd
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
