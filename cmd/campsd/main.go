// Command campsd is the coordinator process: it serves the TCP dispatch
// protocol and an ambient HTTP surface (/healthz, /metrics) on a second
// address.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/raphaottoni/camps-dct/internal/config"
	"github.com/raphaottoni/camps-dct/internal/dispatch"
	"github.com/raphaottoni/camps-dct/internal/filters"
	"github.com/raphaottoni/camps-dct/internal/filters/builtin"
	"github.com/raphaottoni/camps-dct/internal/httpapi"
	"github.com/raphaottoni/camps-dct/internal/logging"
	"github.com/raphaottoni/camps-dct/internal/metrics"
	"github.com/raphaottoni/camps-dct/internal/persistence"
	"github.com/raphaottoni/camps-dct/internal/persistence/gormstore"
	"github.com/raphaottoni/camps-dct/internal/persistence/memstore"
	"github.com/raphaottoni/camps-dct/internal/registry"
	"github.com/raphaottoni/camps-dct/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var configPath string

	root := &cobra.Command{
		Use:   "campsd",
		Short: "campsd — distributed work-dispatch coordinator",
		Long: `campsd hands out resources to concurrent clients over a length-prefixed
TCP protocol, tracks their lifecycle through a pluggable persistence
backend, and runs each dispatched resource through a filter pipeline
before handing it out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newSeedCmd())

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (optional; env vars and defaults otherwise)")
	root.PersistentFlags().String("address", "", "TCP bind address for the dispatch listener")
	root.PersistentFlags().Int("port", 0, "TCP bind port for the dispatch listener")
	root.PersistentFlags().String("http-addr", "", "bind address for the ambient /healthz and /metrics HTTP surface")
	root.PersistentFlags().Bool("verbose", false, "mirror debug-level logs to stdout")
	root.PersistentFlags().Bool("logging", false, "also write logs to server[<host><port>].log")
	root.PersistentFlags().String("backend", "", "persistence backend: memory, sqlite, or postgres")
	root.PersistentFlags().String("dsn", "", "DSN or file path for the sqlite/postgres backend")

	for _, name := range []string{"address", "port", "http-addr", "verbose", "logging", "backend", "dsn"} {
		key := map[string]string{
			"address":   "global.connection.address",
			"port":      "global.connection.port",
			"http-addr": "server.http_addr",
			"verbose":   "server.verbose",
			"logging":   "server.logging",
			"backend":   "persistence.backend",
			"dsn":       "persistence.dsn",
		}[name]
		_ = v.BindPFlag(key, root.PersistentFlags().Lookup(name))
	}

	return root
}

func run(ctx context.Context, cfg *config.Config) error {
	var logFile string
	if cfg.Server.Logging {
		logFile = logging.LogFileName(cfg.Global.Connection.Address, cfg.Global.Connection.Port)
	}
	logger, err := logging.Build(logging.Options{Verbose: cfg.Server.Verbose, LogFile: logFile})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting campsd",
		zap.String("address", cfg.Global.Connection.Address),
		zap.Int("port", cfg.Global.Connection.Port),
		zap.String("backend", cfg.Persistence.Backend),
	)

	store, closeStore, err := openStore(cfg.Persistence, logger)
	if err != nil {
		return fmt.Errorf("open persistence backend: %w", err)
	}
	defer closeStore()

	reg := registry.New(logger)
	alloc := registry.NewIDAllocator()
	pipeline := filters.Pipeline{
		Parallel:   []filters.Filter{builtin.WordCount{}},
		Sequential: []filters.Filter{builtin.Uppercase{}},
	}

	coordinator := dispatch.New(store, reg, alloc, pipeline, logger, cfg.Global.Connection.Address, cfg.Global.Connection.Port)
	listener := server.New(coordinator, logger)
	coordinator.SetStopListening(listener.Stop)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.New(store, reg))
	httpSrv := &http.Server{
		Addr:         cfg.Server.HTTPAddr,
		Handler:      httpapi.NewRouter(httpapi.Config{Logger: logger, Registry: promReg, Store: store}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http surface listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http surface error", zap.Error(err))
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Global.Connection.Address, cfg.Global.Connection.Port)
	listenErrCh := make(chan error, 1)
	go func() { listenErrCh <- listener.ListenAndServe(ctx, addr) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		listener.Stop()
	case err := <-listenErrCh:
		if err != nil {
			logger.Error("dispatch listener error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http surface graceful shutdown error", zap.Error(err))
	}

	logger.Info("campsd stopped")
	return nil
}

// openStore builds the configured persistence.Store and returns a cleanup
// func that is always safe to call (a no-op for the memory backend).
func openStore(cfg config.Persistence, logger *zap.Logger) (persistence.Store, func(), error) {
	switch cfg.Backend {
	case "", "memory":
		return memstore.New(), func() {}, nil
	case "sqlite", "postgres":
		store, err := gormstore.New(gormstore.Config{
			Driver:   cfg.Backend,
			DSN:      cfg.DSN,
			Logger:   logger,
			LogLevel: gormlogger.Warn,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported persistence backend %q", cfg.Backend)
	}
}

func newSeedCmd() *cobra.Command {
	var count int
	var backend, dsn string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "load n AVAILABLE resources into the configured persistence backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			store, closeStore, err := openStore(config.Persistence{Backend: backend, DSN: dsn}, logger)
			if err != nil {
				return fmt.Errorf("open persistence backend: %w", err)
			}
			defer closeStore()

			switch s := store.(type) {
			case *memstore.Store:
				for i := 0; i < count; i++ {
					s.Add(fmt.Sprintf("seed-%d", i))
				}
				fmt.Printf("seeded %d resources into the in-memory backend\n", count)
			case *gormstore.Store:
				ids, err := s.Seed(cmd.Context(), count)
				if err != nil {
					return fmt.Errorf("seed: %w", err)
				}
				fmt.Printf("seeded %d resources\n", len(ids))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 10, "number of resources to create")
	cmd.Flags().StringVar(&backend, "backend", "memory", "persistence backend: memory, sqlite, or postgres")
	cmd.Flags().StringVar(&dsn, "dsn", "camps.db", "DSN or file path for the sqlite/postgres backend")

	return cmd
}
