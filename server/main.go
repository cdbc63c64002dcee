// Command canvasd serves the canvas API.
//
//	canvasd serve   [-c canvas.yaml]
//	canvasd migrate [-c canvas.yaml] [--drop]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meikuraledutech/canvas"
	"github.com/meikuraledutech/canvas/badgerstore"
	"github.com/meikuraledutech/canvas/config"
	"github.com/meikuraledutech/canvas/httpapi"
	"github.com/meikuraledutech/canvas/observability"
	"github.com/meikuraledutech/canvas/postgres"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "canvasd",
		Short:         "canvasd serves workflow canvases and their execution runs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./canvas.yaml)")
	root.AddCommand(newServeCmd(), newMigrateCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return nil, err
	}
	return config.Load(v)
}

// openStore opens the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (canvas.Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping: %w", err)
		}
		return postgres.New(pool, postgres.WithLogger(logger)), pool.Close, nil
	default:
		store, err := badgerstore.Open(cfg.Badger.Dir, cfg.Badger.InMemory, badgerstore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
}

// ── serve ────────────────────────────────────────────────────────────

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg.Logger)
			defer observability.Sync(logger)

			ctx := cmd.Context()
			store, release, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer release()
			if err := store.CreateSchema(ctx); err != nil {
				return err
			}

			srv := httpapi.New(store,
				httpapi.WithToken(cfg.Server.APIToken),
				httpapi.WithLogger(logger),
				httpapi.WithBodyLimit(cfg.Server.BodyLimit),
				httpapi.WithHubBuffer(cfg.Server.HubBuffer))

			errc := make(chan error, 1)
			go func() { errc <- srv.Listen(cfg.Server.Addr) }()
			logger.Info("canvasd listening",
				zap.String("addr", cfg.Server.Addr),
				zap.String("storage", cfg.Storage.Driver),
				zap.Bool("auth", cfg.Server.APIToken != ""))

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// ── migrate ──────────────────────────────────────────────────────────

func newMigrateCmd() *cobra.Command {
	var drop bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create (or with --drop, remove) the storage schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := observability.NewLogger(cfg.Logger)
			defer observability.Sync(logger)

			ctx := cmd.Context()
			store, release, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer release()

			if drop {
				if err := store.DropSchema(ctx); err != nil {
					return err
				}
				logger.Info("schema dropped", zap.String("storage", cfg.Storage.Driver))
				return nil
			}
			if err := store.CreateSchema(ctx); err != nil {
				return err
			}
			logger.Info("schema created", zap.String("storage", cfg.Storage.Driver))
			return nil
		},
	}
	cmd.Flags().BoolVar(&drop, "drop", false, "drop all tables instead of creating them")
	return cmd
}
