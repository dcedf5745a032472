package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robbyt/go-supervisor/supervisor"
	"github.com/routeforge/routeforge/internal/compiler"
	"github.com/routeforge/routeforge/internal/config"
	"github.com/routeforge/routeforge/internal/events"
	"github.com/routeforge/routeforge/internal/executor"
	"github.com/routeforge/routeforge/internal/registry"
	"github.com/routeforge/routeforge/internal/saga"
	"github.com/routeforge/routeforge/internal/server/runnables/httpapi"
	"github.com/routeforge/routeforge/internal/storage"
	"github.com/urfave/cli/v3"
)

var serverCmd = &cli.Command{
	Name:  "server",
	Usage: "Start the route engine server",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path to TOML configuration file",
			Aliases: []string{"c"},
		},
		&cli.StringFlag{
			Name:    "listen",
			Usage:   "Address for the HTTP API (overrides the config file)",
			Aliases: []string{"l"},
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd.String("config"))
		if err != nil {
			return cli.Exit(err, 1)
		}
		if listen := cmd.String("listen"); listen != "" {
			cfg.Server.Listen = listen
		}
		if err := cfg.Validate(); err != nil {
			return cli.Exit(fmt.Errorf("invalid configuration: %w", err), 1)
		}

		handler, err := setupLogHandler(cfg.Logging)
		if err != nil {
			return cli.Exit(err, 1)
		}
		logger := slog.Default()

		comp := compiler.New(
			compiler.WithLogHandler(handler),
			compiler.WithURIPolicy(compiler.URIPolicy{
				AllowedSchemes:   cfg.Routes.AllowedSchemes,
				AllowedHTTPHosts: cfg.Routes.AllowedHTTPHosts,
			}),
		)

		registryOpts := []registry.Option{registry.WithLogHandler(handler)}
		executorOpts := []executor.Option{
			executor.WithLogHandler(handler),
			executor.WithDefaultEndpointTimeout(cfg.Routes.EndpointTimeout.AsDuration()),
		}

		// Without a DSN the engine runs catalog-in-memory and without the
		// banking backend; saga nodes then fail at execution time.
		if cfg.Database.DSN != "" {
			db, err := storage.Connect(cfg.Database.DSN)
			if err != nil {
				return cli.Exit(fmt.Errorf("failed to connect to database: %w", err), 1)
			}
			defer func() {
				if err := db.Close(); err != nil {
					logger.Warn("Failed to close database", "error", err)
				}
			}()
			if err := storage.CreateSchema(ctx, db, logger); err != nil {
				return cli.Exit(fmt.Errorf("failed to create schema: %w", err), 1)
			}

			routeStore := storage.NewRouteStore(db, handler)
			registryOpts = append(registryOpts, registry.WithStore(routeStore))

			coordinator := saga.NewCoordinator(
				saga.NewBunStore(storage.NewBankStore(db)),
				saga.WithLogHandler(handler),
			)
			executorOpts = append(executorOpts, executor.WithSagaService(coordinator))
		} else {
			logger.Warn("No database DSN configured, running without persistence")
		}

		reg := registry.New(comp, registryOpts...)

		bus, err := events.NewBus(
			events.WithLogHandler(handler),
			events.WithConfig(events.Config{
				HeartbeatInterval:       cfg.Events.HeartbeatInterval.AsDuration(),
				HistoryMax:              cfg.Events.HistoryMax,
				MaxEmittersPerProcess:   cfg.Events.MaxSubscribers,
				Retention:               cfg.Events.Retention.AsDuration(),
				NotificationHistoryMax:  cfg.Events.NotificationHistoryMax,
				NotificationMaxEmitters: cfg.Events.NotificationMaxEmitters,
			}),
		)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to create event bus: %w", err), 1)
		}

		executorOpts = append(executorOpts, executor.WithRouteResolver(reg))
		exec := executor.New(bus, executorOpts...)

		if err := reg.Reload(ctx); err != nil {
			return cli.Exit(fmt.Errorf("failed to reload route catalog: %w", err), 1)
		}
		defer reg.Teardown()

		api, err := httpapi.NewRunner(cfg.Server.Listen, reg, exec, bus,
			httpapi.WithLogHandler(handler),
			httpapi.WithDefaultTenant(cfg.Routes.Tenant),
		)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to create API server: %w", err), 1)
		}

		// Order matters: the bus must outlive the API server draining its
		// streams.
		runnables := []supervisor.Runnable{bus, api}
		super, err := supervisor.New(
			supervisor.WithRunnables(runnables...),
			supervisor.WithLogHandler(handler),
			supervisor.WithContext(ctx),
		)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to create supervisor: %w", err), 1)
		}
		if err := super.Run(); err != nil {
			return cli.Exit(fmt.Errorf("failed to run server: %w", err), 1)
		}

		logger.Info("Server shutdown complete")
		return nil
	},
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.NewFromFilePath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
