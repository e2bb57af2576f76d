// Package main is the entrypoint for the Pulse node daemon.
//
// Every node runs the same binary: the cluster file decides whether this
// node only pushes reports or also carries the coordinator role with the
// collector, history, archive, and stream services.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/pulse/pulse/internal/archive"
	"github.com/pulse/pulse/internal/cluster"
	"github.com/pulse/pulse/internal/collector"
	"github.com/pulse/pulse/internal/config"
	"github.com/pulse/pulse/internal/history"
	"github.com/pulse/pulse/internal/reporting"
	"github.com/pulse/pulse/internal/server"
	"github.com/pulse/pulse/internal/stream"
	"github.com/pulse/pulse/pkg/health"
	"github.com/pulse/pulse/pkg/log"
	"github.com/pulse/pulse/pkg/metrics"
	"github.com/pulse/pulse/pkg/tracing"
)

// Build information, set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := log.New(cfg.Log.Level, cfg.Log.Format)
	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_time", buildTime).
		Str("go_version", runtime.Version()).
		Str("node", cfg.Node.Token).
		Msg("Starting Pulse node")

	// Initialize tracing
	var tracer *tracing.Tracer
	if cfg.Observability.TracingEnabled && cfg.Observability.TracingEndpoint != "" {
		tracingCfg := tracing.Config{
			ServiceName:    "pulsed",
			ServiceVersion: version,
			Endpoint:       cfg.Observability.TracingEndpoint,
			Insecure:       cfg.Observability.TracingInsecure,
			SampleRate:     cfg.Observability.TracingSampleRate,
			Environment:    cfg.Observability.Environment,
			Enabled:        true,
		}
		tracer, err = tracing.InitTracer(tracingCfg)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize tracing - continuing without tracing")
		} else {
			logger.Info().
				Str("endpoint", cfg.Observability.TracingEndpoint).
				Float64("sample_rate", cfg.Observability.TracingSampleRate).
				Msg("tracing initialized")
		}
	} else {
		logger.Info().Msg("tracing disabled")
	}

	// Build the cluster provider from the cluster file. A node without a
	// cluster file runs standalone: no coordinator, no reporting.
	provider, clusterFile, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	coordinator := provider.IsCoordinator()

	logger.Info().
		Bool("clustered", provider.Coordinated()).
		Bool("coordinator", coordinator).
		Msg("cluster membership resolved")

	// Initialize metrics for this node's role
	var appMetrics *metrics.Metrics
	if coordinator {
		appMetrics = metrics.NewMetrics()
	} else {
		appMetrics = metrics.NewNodeMetrics()
	}

	// The registry directory holds the metric sources reports are drawn
	// from. The node set exists from boot; cores declared in the cluster
	// file join it here, so leader routes match from the first push.
	manager := metrics.NewManager(metrics.DefaultPrefix)
	manager.BootstrapNode()
	httpMetrics := metrics.NewHTTPMetrics(manager.Registry(manager.RegistryName(metrics.HTTPRegistry)))
	if clusterFile != nil {
		for _, core := range clusterFile.Cores {
			name := manager.CoreRegistryName(core.Index, core.Shard, core.Leader)
			metrics.NewCoreMetrics(manager.Registry(name))
			logger.Debug().Str("registry", name).Msg("declared core registry")
		}
	}

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Coordinator-role services. On a plain reporting node every one of
	// these stays nil and the API serves only its health endpoints.
	var (
		store         *collector.Store
		histStore     history.Store
		recorder      *history.Recorder
		hub           *stream.Hub
		streamHandler http.Handler
		aggregates    server.AggregateStore
		ingest        http.Handler
	)

	if coordinator {
		store = collector.NewStore(collector.Config{
			StaleAfter:    cfg.Collector.StaleAfter,
			SweepInterval: cfg.Collector.SweepInterval,
		}, logger, appMetrics.Coordinator)
		if err := store.Start(); err != nil {
			return fmt.Errorf("failed to start collector store: %w", err)
		}
		aggregates = store

		// Live stream hub feeds accepted reports to websocket watchers.
		var sink collector.Sink
		if cfg.Stream.Enabled {
			hub = stream.NewHub(stream.DefaultHubConfig(), logger, appMetrics.Coordinator)
			go hub.Run(ctx)

			sink = stream.NewPublisher(hub, logger)

			handlerCfg := stream.DefaultHandlerConfig()
			handlerCfg.SendBuffer = cfg.Stream.SendBuffer
			streamHandler = stream.NewHandlerWithConfig(hub, handlerCfg, logger)
		}

		ingest = collector.NewHandler(store, logger, appMetrics.Coordinator, sink)

		logger.Info().Msg("connecting to history store")
		histStore, err = history.Open(ctx, history.Config{
			Driver:          cfg.History.Driver,
			Path:            cfg.History.Path,
			URL:             cfg.History.URL,
			MaxOpenConns:    cfg.History.MaxOpenConns,
			MaxIdleConns:    cfg.History.MaxIdleConns,
			ConnMaxLifetime: cfg.History.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		logger.Info().Str("driver", histStore.Driver()).Msg("history store opened")

		recorder = history.NewRecorder(history.RecorderConfig{
			SampleInterval: cfg.History.SampleInterval,
			Retention:      cfg.History.Retention,
			PruneInterval:  cfg.History.PruneInterval,
		}, histStore, store, logger, appMetrics.Coordinator)
		if err := recorder.Start(); err != nil {
			return fmt.Errorf("failed to start history recorder: %w", err)
		}

		if cfg.Archive.Enabled {
			if err := startArchive(ctx, cfg, store, logger, appMetrics.Coordinator); err != nil {
				return err
			}
		}
	}

	// Create the API and HTTP server
	api := server.NewAPI(server.APIConfig{
		CollectorPath: cfg.Reporting.Handler,
		QueryTimeout:  cfg.History.QueryTimeout,
	}, aggregates, histStore, ingest, logger)

	if store != nil {
		api.AddHealthCheck(health.NewCollectorCheck(store))
	}
	if histStore != nil {
		api.AddHealthCheck(health.NewStoreCheck(histStore))
	}
	if hub != nil {
		api.AddHealthCheck(health.NewStreamCheck(hub))
	}

	httpCfg := server.DefaultHTTPConfig()
	httpCfg.Port = cfg.Server.HTTPPort
	httpCfg.EnableTracing = tracer != nil
	httpCfg.Metrics = appMetrics.Coordinator
	httpCfg.HTTPMetrics = httpMetrics

	httpServer := server.NewHTTPServer(httpCfg, api, logger)
	if streamHandler != nil {
		httpServer.SetStreamHandler(streamHandler)
	}

	// Create metrics server
	metricsServer := server.NewMetricsServer(server.MetricsServerConfig{
		Port:         cfg.Server.MetricsPort,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Path:         "/metrics",
	}, appMetrics, logger)

	// Channel to collect errors from servers
	errCh := make(chan error, 3)

	go func() {
		if err := httpServer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	go func() {
		if err := metricsServer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	// Create and attach the reporter. On an uncoordinated node Attach is
	// a no-op; on cluster members it starts the periodic push loop.
	reporter, err := reporting.NewService(reporting.Config{
		Period:        cfg.Reporting.Period,
		Handler:       cfg.Reporting.Handler,
		Routes:        routeSpecs(clusterFile),
		EnableTracing: tracer != nil,
	}, manager, logger, appMetrics.Node)
	if err != nil {
		return fmt.Errorf("failed to configure reporting: %w", err)
	}
	if err := reporter.Attach(provider); err != nil {
		return fmt.Errorf("failed to attach reporter: %w", err)
	}

	logger.Info().
		Int("http_port", cfg.Server.HTTPPort).
		Int("metrics_port", cfg.Server.MetricsPort).
		Bool("reporting", reporter.Running()).
		Msg("Pulse node started")

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	// Initiate graceful shutdown: the reporter first so no push lands on
	// a closing server, then the servers, then the recorder and stores,
	// and the tracer last so shutdown spans still flush.
	logger.Info().Msg("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error

	reporter.Stop()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
		shutdownErr = err
	}

	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
		shutdownErr = err
	}

	if recorder != nil {
		recorder.Stop()
	}
	if store != nil {
		store.Stop()
	}
	if histStore != nil {
		if err := histStore.Close(); err != nil {
			logger.Error().Err(err).Msg("history store close error")
			shutdownErr = err
		}
	}

	if tracer != nil {
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown error")
			shutdownErr = err
		} else {
			logger.Info().Msg("tracer shutdown complete")
		}
	}

	if shutdownErr != nil {
		return fmt.Errorf("shutdown completed with errors: %w", shutdownErr)
	}

	logger.Info().Msg("Pulse node shutdown complete")
	return nil
}

// buildProvider assembles the cluster provider. Without a cluster file
// the node gets a standalone provider: it is not coordinated and never
// reports anywhere.
func buildProvider(cfg *config.Config) (*cluster.StaticProvider, *config.ClusterFile, error) {
	if !cfg.Clustered() {
		p, err := cluster.NewStaticProvider(cluster.StaticConfig{NodeToken: cfg.Node.Token})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create cluster provider: %w", err)
		}
		return p, nil, nil
	}

	file, err := config.LoadClusterFile(cfg.Node.ClusterFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load cluster file: %w", err)
	}

	members := make([]cluster.Member, len(file.Cluster.Members))
	for i, m := range file.Cluster.Members {
		members[i] = cluster.Member{Token: m.Token, URL: m.URL}
	}

	p, err := cluster.NewStaticProvider(cluster.StaticConfig{
		NodeToken:   cfg.Node.Token,
		Members:     members,
		Coordinator: file.Cluster.Coordinator,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cluster provider: %w", err)
	}
	return p, file, nil
}

// startArchive wires the snapshot archive: the bucket, the periodic
// archiver, and retention cleanup. Both loops stop with ctx.
func startArchive(ctx context.Context, cfg *config.Config, store *collector.Store, logger log.Logger, cm *metrics.CoordinatorMetrics) error {
	storage, err := archive.NewStorage(archive.StorageConfig{
		Endpoint:        cfg.Archive.Endpoint,
		Bucket:          cfg.Archive.Bucket,
		Region:          cfg.Archive.Region,
		AccessKeyID:     cfg.Archive.AccessKeyID,
		SecretAccessKey: cfg.Archive.SecretAccessKey,
		UseSSL:          cfg.Archive.UseSSL,
	}, logger, cm)
	if err != nil {
		return fmt.Errorf("failed to create archive storage: %w", err)
	}

	ensureCtx, ensureCancel := context.WithTimeout(ctx, 30*time.Second)
	defer ensureCancel()
	if err := storage.EnsureBucket(ensureCtx); err != nil {
		logger.Warn().Err(err).Msg("failed to ensure archive bucket exists - archiving may not work")
	}

	archiver := archive.NewArchiver(archive.ArchiverConfig{
		Interval: cfg.Archive.SnapshotInterval,
	}, store, storage, logger)
	archiver.Start(ctx)

	cleanup := archive.NewCleanupService(archive.CleanupConfig{
		Interval:  cfg.Archive.CleanupInterval,
		Retention: cfg.Archive.Retention,
		BatchSize: cfg.Archive.CleanupBatchSize,
	}, storage, logger)
	cleanup.Start(ctx)

	logger.Info().
		Str("bucket", cfg.Archive.Bucket).
		Dur("interval", cfg.Archive.SnapshotInterval).
		Msg("snapshot archive started")
	return nil
}

// routeSpecs converts cluster file route entries to reporting specs.
func routeSpecs(file *config.ClusterFile) []reporting.RouteSpec {
	if file == nil || len(file.Routes) == 0 {
		return nil
	}
	specs := make([]reporting.RouteSpec, len(file.Routes))
	for i, r := range file.Routes {
		specs[i] = reporting.RouteSpec{
			Registry: r.Registry,
			Group:    r.Group,
			Label:    r.Label,
			Filters:  r.Filters,
		}
	}
	return specs
}
