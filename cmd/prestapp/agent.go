package main

import (
	"context"
	"encoding/json"
	"io"
	"os/signal"
	"syscall"

	"github.com/MarcoPoloResearchLab/prestapp/internal/app"
	"github.com/MarcoPoloResearchLab/prestapp/internal/config"
	"github.com/MarcoPoloResearchLab/prestapp/internal/database"
	"github.com/MarcoPoloResearchLab/prestapp/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// openApp loads configuration and wires the local client. The returned
// cleanup stops the coordinator and closes the database.
func openApp() (*app.App, *zap.Logger, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, nil, err
	}

	application, err := app.New(app.Options{
		Database:      db,
		RemoteBaseURL: appConfig.RemoteBaseURL,
		RemoteToken:   appConfig.RemoteToken,
		RemoteTimeout: appConfig.RemoteTimeout,
		ProbeInterval: appConfig.ProbeInterval,
		Logger:        logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		application.Stop()
		_ = sqlDB.Close()
		_ = logger.Sync()
	}
	return application, logger, cleanup, nil
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push every pending local change to the remote service once",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, logger, cleanup, err := openApp()
			if err != nil {
				return err
			}
			defer cleanup()

			if !application.Prober.Probe(cmd.Context()) {
				logger.Warn("remote service unreachable, changes stay pending")
			}
			reports := application.SyncNow(cmd.Context())
			return writeJSON(cmd.OutOrStdout(), reports)
		},
	}
}

func newAgentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Watch connectivity and reconcile whenever the remote service comes back",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, logger, cleanup, err := openApp()
			if err != nil {
				return err
			}
			defer cleanup()

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := application.Start(signalCtx); err != nil {
				return err
			}
			logger.Info("sync agent started")
			application.RunProber(signalCtx)
			logger.Info("sync agent stopping")
			return nil
		},
	}
}

// probeOnce marks the monitor online when the remote answers so commands
// push their row immediately.
func probeOnce(ctx context.Context, application *app.App) {
	application.Prober.Probe(ctx)
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
