package tablestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/antoinevdp/datalake-api/internal/circuitbreaker"
	"github.com/antoinevdp/datalake-api/internal/filter"
	"github.com/antoinevdp/datalake-api/internal/metrics"
	"github.com/antoinevdp/datalake-api/pkg/models"
)

// ErrUnavailable marks every table store failure so callers can errors.Is
// it and degrade to lake-only operation instead of failing the request.
var ErrUnavailable = errors.New("table store unavailable")

// tableNamePattern is the shape a table name must have before it is quoted
// into SQL.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config selects the relational mirror and its breaker thresholds.
type Config struct {
	Driver      string // postgres, sqlite, clickhouse
	DSN         string
	TablePrefix string // mirror tables are named <prefix><collection_lower>

	BreakerMaxFailures int
	BreakerCooldown    time.Duration

	// OnStateChange is handed to the circuit breaker; main wires it to the
	// breaker gauge.
	OnStateChange func(name string, from, to circuitbreaker.State)
}

// Store is a breaker-guarded database/sql pool over the relational mirror.
type Store struct {
	db      *sql.DB
	driver  string
	prefix  string
	breaker *circuitbreaker.CircuitBreaker
	logger  zerolog.Logger
}

// New opens the table store and verifies connectivity. The connection
// failure is not fatal here: the breaker and the catalog's degraded mode
// own that condition, so a store whose database is down still constructs.
func New(cfg *Config, logger zerolog.Logger) (*Store, error) {
	driver, driverName, err := resolveDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open table store: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	log := logger.With().Str("component", "tablestore").Str("driver", driver).Logger()

	s := &Store{
		db:     db,
		driver: driver,
		prefix: cfg.TablePrefix,
		breaker: circuitbreaker.New(&circuitbreaker.Config{
			Name:                "table-store",
			MaxFailures:         maxFailures,
			Timeout:             cooldown,
			HalfOpenMaxRequests: 3,
			OnStateChange:       cfg.OnStateChange,
		}, logger),
		logger: log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Warn().Err(err).Msg("Table store not reachable at startup, continuing degraded")
	} else {
		log.Info().Str("prefix", cfg.TablePrefix).Msg("Table store connected")
	}

	return s, nil
}

func resolveDriver(name string) (normalized, sqlDriver string, err error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return "postgres", "pgx", nil
	case "sqlite", "sqlite3":
		return "sqlite", "sqlite3", nil
	case "clickhouse":
		return "clickhouse", "clickhouse", nil
	default:
		return "", "", fmt.Errorf("unsupported table store driver: %s", name)
	}
}

// Dialect returns the placeholder style of the underlying engine.
func (s *Store) Dialect() filter.Dialect {
	if s.driver == "postgres" {
		return filter.DialectNumbered
	}
	return filter.DialectPositional
}

// Prefix returns the mirror table prefix.
func (s *Store) Prefix() string {
	return s.prefix
}

// execute runs fn behind the breaker and folds every failure into
// ErrUnavailable. Caller cancellation passes through untouched.
func (s *Store) execute(ctx context.Context, op string, fn func() error) error {
	metrics.Get().IncTableStoreQueries()

	err := s.breaker.Execute(fn)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	metrics.Get().IncTableStoreErrors()
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return fmt.Errorf("%w: circuit open", ErrUnavailable)
	}

	s.logger.Error().Err(err).Str("op", op).Msg("Table store operation failed")
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// Tables lists the mirror tables (those carrying the configured prefix),
// sorted by name.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	var listing string
	switch s.driver {
	case "postgres":
		listing = `SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname NOT IN ('pg_catalog', 'information_schema')`
	case "sqlite":
		listing = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`
	case "clickhouse":
		listing = `SELECT name FROM system.tables WHERE database = currentDatabase()`
	}

	var tables []string
	err := s.execute(ctx, "list tables", func() error {
		rows, err := s.db.QueryContext(ctx, listing)
		if err != nil {
			return err
		}
		defer rows.Close()

		tables = tables[:0]
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			if !strings.HasPrefix(name, s.prefix) || !tableNamePattern.MatchString(name) {
				continue
			}
			tables = append(tables, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(tables)
	return tables, nil
}

// Columns returns the column names of a table in engine order.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	quoted, err := s.quoteTable(table)
	if err != nil {
		return nil, err
	}

	var columns []string
	err = s.execute(ctx, "describe "+table, func() error {
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", quoted))
		if err != nil {
			return err
		}
		defer rows.Close()

		columns, err = rows.Columns()
		if err != nil {
			return err
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return columns, nil
}

// Count returns the row count of a table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	return s.CountWhere(ctx, table, "", nil)
}

// CountWhere returns the number of rows matching a compiled WHERE fragment.
// An empty clause counts the whole table.
func (s *Store) CountWhere(ctx context.Context, table, where string, args []interface{}) (int64, error) {
	quoted, err := s.quoteTable(table)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoted)
	if where != "" {
		query += " WHERE " + where
	}

	var count int64
	err = s.execute(ctx, "count "+table, func() error {
		return s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Select loads the rows matching a compiled WHERE fragment into a batch.
// An empty clause loads the whole table.
func (s *Store) Select(ctx context.Context, table, where string, args []interface{}) (*models.Batch, error) {
	quoted, err := s.quoteTable(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s", quoted)
	if where != "" {
		query += " WHERE " + where
	}

	start := time.Now()

	var batch *models.Batch
	err = s.execute(ctx, "select "+table, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		batch, err = scanBatch(rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("table", table).
		Int("rows", batch.Len()).
		Dur("duration", time.Since(start)).
		Msg("Table loaded")

	return batch, nil
}

// Ping checks connectivity through the breaker.
func (s *Store) Ping(ctx context.Context) error {
	return s.execute(ctx, "ping", func() error {
		return s.db.PingContext(ctx)
	})
}

// Available reports whether the breaker currently admits requests.
func (s *Store) Available() bool {
	return !s.breaker.IsOpen()
}

// Stats exposes pool and breaker counters for the health endpoint.
func (s *Store) Stats() map[string]interface{} {
	dbStats := s.db.Stats()
	return map[string]interface{}{
		"driver":           s.driver,
		"connections_open": dbStats.OpenConnections,
		"connections_idle": dbStats.Idle,
		"breaker":          s.breaker.Stats(),
	}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.logger.Info().Msg("Closing table store")
	return s.db.Close()
}

func (s *Store) quoteTable(table string) (string, error) {
	if !tableNamePattern.MatchString(table) {
		return "", fmt.Errorf("invalid table name: %q", table)
	}
	return `"` + table + `"`, nil
}

// scanBatch drains rows into a batch keyed by the result columns.
func scanBatch(rows *sql.Rows) (*models.Batch, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	batch := models.NewBatch(columns...)

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rec := make(models.Record, len(columns))
		for i, col := range columns {
			if v := normalizeValue(values[i]); v != nil {
				rec[col] = v
			}
		}
		batch.Append(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return batch, nil
}

// normalizeValue maps driver scan types onto int64, float64, string, bool
// and time.Time. ClickHouse hands Nullable columns back as pointers, the
// postgres and sqlite drivers as values or nil.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	case *string:
		if val == nil {
			return nil
		}
		return *val
	case *int64:
		if val == nil {
			return nil
		}
		return *val
	case *float64:
		if val == nil {
			return nil
		}
		return *val
	case *bool:
		if val == nil {
			return nil
		}
		return *val
	case *time.Time:
		if val == nil {
			return nil
		}
		return *val
	case sql.NullString:
		if val.Valid {
			return val.String
		}
		return nil
	case sql.NullInt64:
		if val.Valid {
			return val.Int64
		}
		return nil
	case sql.NullFloat64:
		if val.Valid {
			return val.Float64
		}
		return nil
	case sql.NullBool:
		if val.Valid {
			return val.Bool
		}
		return nil
	case sql.NullTime:
		if val.Valid {
			return val.Time
		}
		return nil
	default:
		return val
	}
}
