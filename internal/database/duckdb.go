package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"

	"github.com/antoinevdp/datalake-api/internal/metrics"
)

// DuckDB manages DuckDB connections and query execution
// Note: No mutex is needed here because:
// 1. *sql.DB maintains its own connection pool with internal synchronization
// 2. DuckDB handles concurrent queries internally
// 3. Adding a mutex would only add overhead without safety benefits
type DuckDB struct {
	db     *sql.DB
	logger zerolog.Logger
	config *Config
}

// Config holds DuckDB configuration
type Config struct {
	MaxConnections int
	MemoryLimit    string
	ThreadCount    int

	// S3 configuration for the httpfs extension (lets DuckDB read
	// parquet directly from s3:// URIs)
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string
	S3UseSSL    bool
	S3PathStyle bool

	// Azure Blob Storage configuration for the azure extension
	AzureAccountName string
	AzureAccountKey  string
	AzureEndpoint    string
}

// New creates a new DuckDB instance
func New(cfg *Config, logger zerolog.Logger) (*DuckDB, error) {
	// In-memory database. Settings are applied via SET after connecting.
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections / 2)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	// Configure database settings (memory limit, threads, extensions)
	if err := configureDatabase(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure duckdb: %w", err)
	}

	logger.Info().
		Int("max_connections", cfg.MaxConnections).
		Str("memory_limit", cfg.MemoryLimit).
		Int("thread_count", cfg.ThreadCount).
		Msg("DuckDB initialized")

	return &DuckDB{
		db:     db,
		logger: logger,
		config: cfg,
	}, nil
}

// configureDatabase sets DuckDB configuration after connection
func configureDatabase(db *sql.DB, cfg *Config) error {
	// Set memory limit to prevent unbounded memory growth
	if cfg.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", escapeSQLString(cfg.MemoryLimit))); err != nil {
			return fmt.Errorf("failed to set memory_limit: %w", err)
		}
	}
	// Set thread count
	if cfg.ThreadCount > 0 {
		if _, err := db.Exec(fmt.Sprintf("SET threads=%d", cfg.ThreadCount)); err != nil {
			return fmt.Errorf("failed to set threads: %w", err)
		}
	}

	if cfg.S3AccessKey != "" || cfg.S3Endpoint != "" {
		if err := configureS3(db, cfg); err != nil {
			return err
		}
	}

	if cfg.AzureAccountName != "" {
		if err := configureAzure(db, cfg); err != nil {
			return err
		}
	}

	return nil
}

// configureS3 loads the httpfs extension and sets S3 credentials so that
// read_parquet('s3://...') works against AWS or MinIO
func configureS3(db *sql.DB, cfg *Config) error {
	stmts := []string{
		"INSTALL httpfs",
		"LOAD httpfs",
	}
	if cfg.S3Region != "" {
		stmts = append(stmts, fmt.Sprintf("SET s3_region='%s'", escapeSQLString(cfg.S3Region)))
	}
	if cfg.S3AccessKey != "" {
		stmts = append(stmts, fmt.Sprintf("SET s3_access_key_id='%s'", escapeSQLString(cfg.S3AccessKey)))
	}
	if cfg.S3SecretKey != "" {
		stmts = append(stmts, fmt.Sprintf("SET s3_secret_access_key='%s'", escapeSQLString(cfg.S3SecretKey)))
	}
	if cfg.S3Endpoint != "" {
		// Strip scheme, DuckDB wants host[:port]
		endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.S3Endpoint, "https://"), "http://")
		stmts = append(stmts, fmt.Sprintf("SET s3_endpoint='%s'", escapeSQLString(endpoint)))
	}
	if !cfg.S3UseSSL {
		stmts = append(stmts, "SET s3_use_ssl=false")
	}
	if cfg.S3PathStyle {
		stmts = append(stmts, "SET s3_url_style='path'")
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to configure s3 access: %w", err)
		}
	}
	return nil
}

// configureAzure loads the azure extension so read_parquet('azure://...') works
func configureAzure(db *sql.DB, cfg *Config) error {
	stmts := []string{
		"INSTALL azure",
		"LOAD azure",
	}
	if cfg.AzureAccountKey != "" {
		connStr := fmt.Sprintf(
			"DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
			cfg.AzureAccountName, cfg.AzureAccountKey,
		)
		stmts = append(stmts, fmt.Sprintf("SET azure_storage_connection_string='%s'", escapeSQLString(connStr)))
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to configure azure access: %w", err)
		}
	}
	return nil
}

// escapeSQLString doubles single quotes for safe interpolation into SET
// statements (credentials cannot be bound as parameters there)
func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Query executes a query and returns rows
func (d *DuckDB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.QueryContext(context.Background(), query, args...)
}

// QueryContext executes a query with cancellation and returns rows
func (d *DuckDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := time.Now()
	rows, err := d.db.QueryContext(ctx, query, args...)
	elapsed := time.Since(start)

	metrics.Get().IncDBQueries()
	d.updateConnectionGauges()

	if err != nil {
		metrics.Get().IncDBQueryErrors()
		d.logger.Error().
			Err(err).
			Str("query", query).
			Dur("elapsed", elapsed).
			Msg("Query failed")
		return nil, fmt.Errorf("query failed: %w", err)
	}

	d.logger.Debug().
		Str("query", query).
		Dur("elapsed", elapsed).
		Msg("Query executed")

	return rows, nil
}

// Exec executes a statement without returning rows
func (d *DuckDB) Exec(query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := d.db.Exec(query, args...)
	elapsed := time.Since(start)

	metrics.Get().IncDBQueries()
	d.updateConnectionGauges()

	if err != nil {
		metrics.Get().IncDBQueryErrors()
		d.logger.Error().
			Err(err).
			Str("query", query).
			Dur("elapsed", elapsed).
			Msg("Exec failed")
		return nil, fmt.Errorf("exec failed: %w", err)
	}

	d.logger.Debug().
		Str("query", query).
		Dur("elapsed", elapsed).
		Msg("Exec completed")

	return result, nil
}

// updateConnectionGauges pushes current pool stats to the metrics
// collector. Stats() is a cheap struct copy under the pool's own lock.
func (d *DuckDB) updateConnectionGauges() {
	stats := d.db.Stats()
	m := metrics.Get()
	m.SetDBConnectionsOpen(int64(stats.OpenConnections))
	m.SetDBConnectionsInUse(int64(stats.InUse))
	m.SetDBConnectionsIdle(int64(stats.Idle))
}

// Close closes the database connection
func (d *DuckDB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	d.logger.Info().Msg("DuckDB closed")
	return nil
}

// Stats returns database statistics
func (d *DuckDB) Stats() sql.DBStats {
	return d.db.Stats()
}

// DB returns the underlying *sql.DB connection pool
func (d *DuckDB) DB() *sql.DB {
	return d.db
}
