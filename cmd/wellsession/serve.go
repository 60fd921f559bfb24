package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/wellsession/config"
	"github.com/mohammad-safakhou/wellsession/internal/logging"
	srv "github.com/mohammad-safakhou/wellsession/internal/server"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var migrateFirst bool
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Address = serveAddr
				cfg.Server = cfg.Server.Normalize()
			}
			if migrateFirst {
				cfg.Server.AutoMigrate = true
			}

			logger, closer, err := logging.New().FromConfig(cfg.General).Make()
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger.Info().Str("version", version).Str("env", cfg.General.Env).Msg("starting wellsession")
			if err := srv.Run(ctx, cfg, logger, version); err != nil {
				logger.Error().Err(err).Msg("server stopped")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", ":4000", "listen address (overrides server.address)")
	serve.Flags().BoolVar(&migrateFirst, "migrate", false, "apply pending migrations before serving")

	return serve
}
