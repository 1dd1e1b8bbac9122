package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/antoinevdp/datalake-api/internal/analytics"
	"github.com/antoinevdp/datalake-api/internal/api"
	"github.com/antoinevdp/datalake-api/internal/catalog"
	"github.com/antoinevdp/datalake-api/internal/circuitbreaker"
	"github.com/antoinevdp/datalake-api/internal/config"
	"github.com/antoinevdp/datalake-api/internal/database"
	"github.com/antoinevdp/datalake-api/internal/lake"
	"github.com/antoinevdp/datalake-api/internal/logger"
	"github.com/antoinevdp/datalake-api/internal/metrics"
	"github.com/antoinevdp/datalake-api/internal/pagination"
	"github.com/antoinevdp/datalake-api/internal/query"
	"github.com/antoinevdp/datalake-api/internal/scheduler"
	"github.com/antoinevdp/datalake-api/internal/shutdown"
	"github.com/antoinevdp/datalake-api/internal/storage"
	"github.com/antoinevdp/datalake-api/internal/tablestore"
)

// Version is set at build time
var Version = "dev"

func main() {
	// Check for subcommands before loading full config
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "sync":
			runSyncSubcommand(os.Args[2:])
			return
		case "seed":
			runSeedSubcommand(os.Args[2:])
			return
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Validate TLS configuration before starting
	if err := cfg.Server.ValidateTLS(); err != nil {
		fmt.Fprintf(os.Stderr, "TLS configuration error: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", Version).Msg("Starting Datalake API...")

	// Initialize metrics collector
	metrics.Init(log.Logger)

	// Initialize shutdown coordinator
	shutdownCoordinator := shutdown.New(30*time.Second, log.Logger)

	// Initialize DuckDB
	log.Info().
		Int("thread_count", cfg.Database.ThreadCount).
		Int("max_connections", cfg.Database.MaxConnections).
		Str("memory_limit", cfg.Database.MemoryLimit).
		Int("machine_cpus", runtime.NumCPU()).
		Msg("Initializing DuckDB with database config")

	db, err := database.New(buildDatabaseConfig(cfg), logger.Get("database"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	shutdownCoordinator.Register("database", db, shutdown.PriorityDatabase)

	// Confirm the engine answers before wiring anything on top of it
	rows, err := db.Query("SELECT version() AS duckdb_version")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to execute test query")
	}
	var duckdbVersion string
	if rows.Next() {
		if err := rows.Scan(&duckdbVersion); err != nil {
			rows.Close()
			log.Fatal().Err(err).Msg("Failed to scan result")
		}
	}
	rows.Close()
	log.Info().Str("duckdb_version", duckdbVersion).Msg("DuckDB ready")

	// Print database stats
	stats := db.Stats()
	log.Info().
		Int("max_open", stats.MaxOpenConnections).
		Int("open", stats.OpenConnections).
		Int("in_use", stats.InUse).
		Int("idle", stats.Idle).
		Msg("Database connection pool stats")

	// Initialize storage backend
	storageBackend, err := newStorageBackend(&cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage backend")
	}
	shutdownCoordinator.Register("storage", storageBackend, shutdown.PriorityStorage)

	// Initialize the relational table store (if enabled). A down database
	// is not fatal: the breaker and the degraded catalog carry that case.
	var store *tablestore.Store
	if cfg.TableStore.Enabled {
		store, err = tablestore.New(tableStoreConfig(cfg), log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize table store")
		}
		shutdownCoordinator.Register("tablestore", store, shutdown.PriorityTableStore)
		log.Info().
			Str("driver", cfg.TableStore.Driver).
			Str("table_prefix", cfg.TableStore.TablePrefix).
			Msg("Table store enabled")
	} else {
		log.Info().Msg("Table store is DISABLED - serving lake sources only")
	}

	// Lake source over the storage backend
	lakeSource := lake.NewSource(db, storageBackend, log.Logger)

	// Build the source catalog. A failed first refresh keeps /ready at 503
	// until the scheduler (or a manual refresh) succeeds.
	cat := catalog.New(lakeSource, store, cfg.Catalog.VocabularySource, log.Logger)

	refreshCtx, cancelRefresh := context.WithTimeout(context.Background(), time.Minute)
	if err := cat.Refresh(refreshCtx); err != nil {
		log.Warn().Err(err).Msg("Initial catalog refresh failed - serving 503 until a refresh succeeds")
	} else {
		snap := cat.Snapshot()
		log.Info().
			Int("sources", len(snap.Sources)).
			Bool("degraded", snap.Degraded).
			Msg("Catalog ready")
	}
	cancelRefresh()

	// Query registry and executor
	registry := query.NewRegistry(&query.RegistryConfig{
		HistorySize: cfg.Query.RegistryHistory,
	}, log.Logger)

	shutdownCoordinator.RegisterHook("query-registry", func(ctx context.Context) error {
		for _, q := range registry.GetActive() {
			registry.Cancel(q.ID)
		}
		return nil
	}, shutdown.PriorityRegistry)

	executor := query.NewExecutor(cat, registry, &query.Config{
		MaxConcurrentPartitions: cfg.Query.MaxConcurrentPartitions,
		SourceTimeout:           time.Duration(cfg.Query.SourceTimeout) * time.Second,
	}, log.Logger)

	// Analytics engine
	engine := analytics.New(executor, &analytics.Config{
		DefaultWindowMinutes: cfg.Analytics.DefaultWindowMinutes,
		DefaultTopK:          cfg.Analytics.DefaultTopK,
	}, log.Logger)

	// Background catalog refresh
	refresher, err := scheduler.NewRefreshScheduler(&scheduler.RefreshSchedulerConfig{
		Refresher: cat,
		Schedule:  cfg.Catalog.RefreshSchedule,
		Enabled:   cfg.Catalog.RefreshEnabled,
		Logger:    log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Catalog.RefreshSchedule).Msg("Invalid refresh schedule")
	}
	if err := refresher.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start refresh scheduler")
	}
	shutdownCoordinator.RegisterHook("refresh-scheduler", func(ctx context.Context) error {
		refresher.Stop()
		return nil
	}, shutdown.PriorityScheduler)

	// Initialize HTTP server
	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeout) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeout) * time.Second
	serverConfig.MaxPayloadSize = cfg.Server.MaxPayloadSize
	serverConfig.EnablePprof = cfg.Server.EnablePprof
	if cfg.Server.TLSEnabled {
		serverConfig.TLSCertFile = cfg.Server.TLSCertFile
		serverConfig.TLSKeyFile = cfg.Server.TLSKeyFile
	}

	server := api.NewServer(serverConfig, cat, refresher, log.Logger)
	server.RegisterRoutes()

	app := server.GetApp()
	api.NewSourcesHandler(cat, log.Logger).RegisterRoutes(app)
	api.NewTransactionsHandler(executor,
		pagination.New(cfg.Pagination.DefaultPageSize, cfg.Pagination.MaxPageSize),
		log.Logger).RegisterRoutes(app)
	api.NewAnalyticsHandler(engine, log.Logger).RegisterRoutes(app)
	api.NewQueriesHandler(registry, log.Logger).RegisterRoutes(app)

	// Register HTTP server shutdown hook (first to stop accepting new requests)
	shutdownCoordinator.RegisterHook("http-server", func(ctx context.Context) error {
		return server.Shutdown(serverConfig.ShutdownTimeout)
	}, shutdown.PriorityHTTPServer)

	// Start server
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start HTTP server")
	}

	protocol := "HTTP"
	if cfg.Server.TLSEnabled {
		protocol = "HTTPS"
	}
	log.Info().
		Int("port", cfg.Server.Port).
		Str("protocol", protocol).
		Str("version", Version).
		Msg("Datalake API is ready!")

	// Wait for shutdown signal
	sig := shutdownCoordinator.WaitForSignal()
	log.Info().Str("signal", sig.String()).Msg("Initiating graceful shutdown...")

	if err := shutdownCoordinator.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Shutdown completed with errors")
		os.Exit(1)
	}

	log.Info().Msg("Datalake API shutdown complete")
}

func buildDatabaseConfig(cfg *config.Config) *database.Config {
	return &database.Config{
		MaxConnections: cfg.Database.MaxConnections,
		MemoryLimit:    cfg.Database.MemoryLimit,
		ThreadCount:    cfg.Database.ThreadCount,
		// S3 configuration for the httpfs extension (enables DuckDB to read s3:// keys)
		S3Region:    cfg.Storage.S3Region,
		S3AccessKey: cfg.Storage.S3AccessKey,
		S3SecretKey: cfg.Storage.S3SecretKey,
		S3Endpoint:  cfg.Storage.S3Endpoint,
		S3UseSSL:    cfg.Storage.S3UseSSL,
		S3PathStyle: cfg.Storage.S3PathStyle,
		// Azure Blob Storage configuration for the azure extension
		AzureAccountName: cfg.Storage.AzureAccountName,
		AzureAccountKey:  cfg.Storage.AzureAccountKey,
		AzureEndpoint:    cfg.Storage.AzureEndpoint,
	}
}

func tableStoreConfig(cfg *config.Config) *tablestore.Config {
	return &tablestore.Config{
		Driver:             cfg.TableStore.Driver,
		DSN:                cfg.TableStore.DSN,
		TablePrefix:        cfg.TableStore.TablePrefix,
		BreakerMaxFailures: cfg.TableStore.BreakerMaxFailures,
		BreakerCooldown:    time.Duration(cfg.TableStore.BreakerCooldown) * time.Second,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.Get().SetBreakerOpen(to == circuitbreaker.StateOpen)
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Table store breaker state changed")
		},
	}
}

// newStorageBackend builds the lake backend the config names. Remote
// backends are wrapped with retry and a circuit breaker; local disk is not.
func newStorageBackend(cfg *config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "local":
		backend, err := storage.NewLocalBackend(cfg.LocalPath, log.Logger)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("backend", "local").
			Str("path", cfg.LocalPath).
			Msg("Storage backend initialized")
		return backend, nil

	case "s3", "minio":
		s3Config := &storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		}
		backend, err := storage.NewS3Backend(s3Config, log.Logger)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("backend", cfg.Backend).
			Str("bucket", cfg.S3Bucket).
			Str("region", cfg.S3Region).
			Str("endpoint", cfg.S3Endpoint).
			Msg("Storage backend initialized")
		return storage.NewRetryBackend(backend, nil, log.Logger), nil

	case "azure", "azblob":
		azureConfig := &storage.AzureBlobConfig{
			AccountName:   cfg.AzureAccountName,
			AccountKey:    cfg.AzureAccountKey,
			ContainerName: cfg.AzureContainer,
			Endpoint:      cfg.AzureEndpoint,
		}
		backend, err := storage.NewAzureBlobBackend(azureConfig, log.Logger)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("backend", cfg.Backend).
			Str("container", cfg.AzureContainer).
			Str("account", cfg.AzureAccountName).
			Msg("Storage backend initialized")
		return storage.NewRetryBackend(backend, nil, log.Logger), nil

	default:
		return nil, fmt.Errorf("unsupported storage backend %q (use 'local', 's3', 'minio', 'azure', or 'azblob')", cfg.Backend)
	}
}
