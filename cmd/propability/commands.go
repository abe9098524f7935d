package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/propability/internal/config"
	"github.com/sakif/propability/internal/server"
)

// envFile is the optional .env file every command reads before the
// environment.
var envFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "propability",
		Short: "Track plant cuttings and predict how likely they are to root",
		Long: `Prop-a-bility analyses photos of plant cuttings, keeps a per-user
registry of them and opens a check-in once a cutting has propagated for a week.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "read configuration from this .env file if it exists")

	cmd.AddCommand(newServeCmd(), newMigrateCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			srv, err := server.New(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("failed to create server", slog.String("error", err.Error()))
				return err
			}
			return srv.Start()
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending record store migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			store, err := server.OpenRecordStore(cfg)
			if err != nil {
				return fmt.Errorf("opening record store: %w", err)
			}
			defer store.Close()

			if err := store.MigrateUp(); err != nil {
				return fmt.Errorf("migrating %s: %w", store.Kind(), err)
			}
			logger.Info("migrations applied", slog.String("recordStore", store.Kind()))
			return nil
		},
	}
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg), nil
}

// newLogger builds the process logger: human-readable text in development,
// JSON when LOG_FORMAT=json.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}
