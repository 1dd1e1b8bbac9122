package lake

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	duckdb "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"

	"github.com/antoinevdp/datalake-api/internal/database"
	"github.com/antoinevdp/datalake-api/internal/metrics"
	"github.com/antoinevdp/datalake-api/internal/storage"
	"github.com/antoinevdp/datalake-api/pkg/models"
)

// identifierPattern is the shape every collection and partition file name
// must have before it is spliced into a storage path or a read_parquet call.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// ValidIdentifier reports whether name can be used as a collection or
// partition file name. Traversal sequences are rejected outright.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name) && !strings.Contains(name, "..")
}

// Partition is one parquet file of a collection.
type Partition struct {
	Collection   string
	Key          string // storage key, e.g. "orders/orders_batch_3_20240101_120000.parquet"
	Size         int64
	LastModified time.Time
}

// Name returns the bare file name of the partition.
func (p Partition) Name() string {
	return path.Base(p.Key)
}

// Source reads parquet collections laid out as <collection>/<file>.parquet
// under a storage backend. DuckDB does the parquet decode; the backend
// supplies the listing and the read_parquet URI.
type Source struct {
	db      *database.DuckDB
	backend storage.Backend
	cache   *ListingCache
	logger  zerolog.Logger
}

// NewSource creates a lake source over the given engine and backend.
func NewSource(db *database.DuckDB, backend storage.Backend, logger zerolog.Logger) *Source {
	return &Source{
		db:      db,
		backend: backend,
		cache:   NewListingCache(DefaultListingTTL, DefaultListingMaxSize),
		logger:  logger.With().Str("component", "lake").Logger(),
	}
}

// Backend returns the storage backend the source reads from.
func (s *Source) Backend() storage.Backend {
	return s.backend
}

// Collections lists the top-level directories of the lake, which are the
// collection names. Entries that are not valid identifiers are skipped.
func (s *Source) Collections(ctx context.Context) ([]string, error) {
	dirs, err := s.backend.ListDirectories(ctx, "")
	if err != nil {
		metrics.Get().IncStorageErrors()
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	collections := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if !ValidIdentifier(dir) {
			s.logger.Warn().Str("entry", dir).Msg("Skipping directory with unusable name")
			continue
		}
		collections = append(collections, dir)
	}
	sort.Strings(collections)
	return collections, nil
}

// Partitions lists the parquet files of one collection, name-sorted.
// Listings are served from a short-TTL cache; the returned slice is
// shared and must not be mutated.
func (s *Source) Partitions(ctx context.Context, collection string) ([]Partition, error) {
	if !ValidIdentifier(collection) {
		return nil, fmt.Errorf("invalid collection name: %q", collection)
	}

	if cached, ok := s.cache.Get(collection); ok {
		return cached, nil
	}

	objects, err := s.backend.ListObjects(ctx, collection+"/")
	if err != nil {
		metrics.Get().IncStorageErrors()
		return nil, fmt.Errorf("failed to list partitions of %s: %w", collection, err)
	}

	partitions := make([]Partition, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Path, ".parquet") {
			continue
		}
		if !ValidIdentifier(path.Base(obj.Path)) {
			s.logger.Warn().Str("key", obj.Path).Msg("Skipping partition file with unusable name")
			continue
		}
		partitions = append(partitions, Partition{
			Collection:   collection,
			Key:          obj.Path,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	sort.Slice(partitions, func(i, j int) bool {
		return partitions[i].Key < partitions[j].Key
	})

	s.cache.Set(collection, partitions)
	return partitions, nil
}

// ReadPartition loads one parquet file into a batch. NULLs read as absent
// fields, timestamps as time.Time, and wide numerics as float64.
func (s *Source) ReadPartition(ctx context.Context, p Partition) (*models.Batch, error) {
	uri := s.backend.URI(p.Key)
	if uri == "" {
		return nil, fmt.Errorf("no readable URI for partition %s", p.Key)
	}

	start := time.Now()

	// read_parquet takes a literal path. The key is identifier-validated,
	// so quotes cannot appear, but they are doubled regardless.
	query := fmt.Sprintf("SELECT * FROM read_parquet('%s')", strings.ReplaceAll(uri, "'", "''"))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		metrics.Get().IncStorageErrors()
		return nil, fmt.Errorf("failed to read partition %s: %w", p.Key, err)
	}
	defer rows.Close()

	batch, err := scanBatch(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan partition %s: %w", p.Key, err)
	}

	m := metrics.Get()
	m.IncStorageReads()
	m.IncStorageReadBytes(p.Size)

	s.logger.Debug().
		Str("partition", p.Key).
		Int("rows", batch.Len()).
		Dur("duration", time.Since(start)).
		Msg("Partition loaded")

	return batch, nil
}

// InvalidateListings drops every cached partition listing. The catalog
// calls this at the start of a refresh so counts reflect the backend.
func (s *Source) InvalidateListings() {
	s.cache.Invalidate()
}

// InvalidateCollection drops the cached listing of one collection.
func (s *Source) InvalidateCollection(collection string) {
	s.cache.InvalidateCollection(collection)
}

// CacheStats exposes listing cache counters for the health endpoint.
func (s *Source) CacheStats() map[string]interface{} {
	return s.cache.Stats()
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

// normalizeValue maps driver scan types onto the small set the record
// model works with: int64, float64, string, bool, time.Time.
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
	case *big.Int:
		// HUGEINT comes back as a big integer
		f, _ := new(big.Float).SetInt(val).Float64()
		return f
	case duckdb.Decimal:
		return val.Float64()
	default:
		return val
	}
}
