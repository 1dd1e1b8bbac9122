// Package query executes filtered reads against catalog sources: lake
// collections are loaded partition-by-partition in parallel and filtered
// in memory, relational tables get the filter pushed down as SQL. Both
// paths produce the same sorted batch shape.
package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/antoinevdp/datalake-api/internal/catalog"
	"github.com/antoinevdp/datalake-api/internal/filter"
	"github.com/antoinevdp/datalake-api/internal/lake"
	"github.com/antoinevdp/datalake-api/internal/metrics"
	"github.com/antoinevdp/datalake-api/internal/tablestore"
	"github.com/antoinevdp/datalake-api/pkg/models"
)

// ErrNoSourcesReadable means every partition or source a query touched
// failed to load.
var ErrNoSourcesReadable = errors.New("no sources readable")

// Config bounds the partition fan-out.
type Config struct {
	// MaxConcurrentPartitions limits concurrent partition loads per query.
	MaxConcurrentPartitions int

	// SourceTimeout is the budget for one partition or table read.
	SourceTimeout time.Duration
}

// DefaultConfig returns sensible defaults for query execution.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentPartitions: 4,
		SourceTimeout:           30 * time.Second,
	}
}

// Request describes one read: the source to query, an optional filter,
// and the sort field (TIMESTAMP when empty).
type Request struct {
	Source    string
	Filter    *filter.Spec
	SortField string
}

// Result is a finished read. FailedPartitions counts partitions that were
// skipped after a load failure or timeout.
type Result struct {
	Batch            *models.Batch
	Source           string
	Kind             catalog.Kind
	Partitions       int
	FailedPartitions int
	Elapsed          time.Duration
}

// AllResult is a finished cross-source read. SourceErrors maps each
// failed source to its error; the batch carries everything that loaded.
type AllResult struct {
	Batch        *models.Batch
	Sources      int
	SourceErrors map[string]string
	Elapsed      time.Duration
}

// Executor runs requests against the current catalog snapshot.
type Executor struct {
	catalog  *catalog.Catalog
	registry *Registry
	config   *Config
	logger   zerolog.Logger
}

// NewExecutor creates an executor. registry may be nil when runs need no
// tracking.
func NewExecutor(cat *catalog.Catalog, registry *Registry, cfg *Config, logger zerolog.Logger) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.MaxConcurrentPartitions <= 0 {
		c.MaxConcurrentPartitions = 4
	}
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = 30 * time.Second
	}
	return &Executor{
		catalog:  cat,
		registry: registry,
		config:   &c,
		logger:   logger.With().Str("component", "query").Logger(),
	}
}

// Execute resolves and reads one source. It fails only when the source is
// unknown or nothing could be read; partial partition failures are
// reported in the result.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	m := metrics.Get()
	m.IncQueryRequests()
	start := time.Now()

	src, err := e.catalog.Resolve(req.Source)
	if err != nil {
		m.IncQueryErrors()
		return nil, err
	}

	runID, runCtx := e.track(ctx, src.Name, req.Filter)

	batch, loaded, failed, err := e.loadSource(runCtx, src, req.Filter)
	if err != nil {
		m.IncQueryErrors()
		e.settle(runID, err)
		return nil, err
	}

	sortField := req.SortField
	if sortField == "" {
		sortField = models.DefaultTimeField
	}
	batch.SortByDesc(sortField)

	elapsed := time.Since(start)
	m.IncQuerySuccess()
	m.IncQueryRows(int64(batch.Len()))
	m.RecordQueryLatency(elapsed.Microseconds())
	if e.registry != nil {
		e.registry.Complete(runID, batch.Len(), loaded)
	}

	e.logger.Debug().
		Str("source", src.Name).
		Str("kind", string(src.Kind)).
		Int("rows", batch.Len()).
		Int("partitions", loaded).
		Int("failed_partitions", failed).
		Dur("duration", elapsed).
		Msg("Query completed")

	return &Result{
		Batch:            batch,
		Source:           src.Name,
		Kind:             src.Kind,
		Partitions:       loaded,
		FailedPartitions: failed,
		Elapsed:          elapsed,
	}, nil
}

// ExecuteAll reads every source in the snapshot and merges the results.
// Individual source failures are tolerated while at least one source
// loads.
func (e *Executor) ExecuteAll(ctx context.Context, spec *filter.Spec) (*AllResult, error) {
	m := metrics.Get()
	m.IncQueryRequests()
	start := time.Now()

	snap := e.catalog.Snapshot()
	if len(snap.Sources) == 0 {
		return &AllResult{Batch: models.NewBatch(), Elapsed: time.Since(start)}, nil
	}

	runID, runCtx := e.track(ctx, "*", spec)

	sem := semaphore.NewWeighted(int64(e.config.MaxConcurrentPartitions))
	batches := make([]*models.Batch, len(snap.Sources))
	sourceErrors := make(map[string]string)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, src := range snap.Sources {
		wg.Add(1)
		go func(idx int, src catalog.SourceInfo) {
			defer wg.Done()

			if err := sem.Acquire(runCtx, 1); err != nil {
				mu.Lock()
				sourceErrors[src.Name] = err.Error()
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			batch, _, _, err := e.loadSource(runCtx, src, spec)
			if err != nil {
				e.logger.Warn().
					Err(err).
					Str("source", src.Name).
					Msg("Source load failed, continuing without it")
				mu.Lock()
				sourceErrors[src.Name] = err.Error()
				mu.Unlock()
				return
			}
			batches[idx] = batch
		}(i, src)
	}
	wg.Wait()

	if err := runCtx.Err(); err != nil {
		m.IncQueryErrors()
		e.settle(runID, err)
		return nil, err
	}

	loaded := make([]*models.Batch, 0, len(batches))
	for _, b := range batches {
		if b != nil {
			loaded = append(loaded, b)
		}
	}
	if len(loaded) == 0 {
		err := fmt.Errorf("%w: all %d sources failed", ErrNoSourcesReadable, len(snap.Sources))
		m.IncQueryErrors()
		e.settle(runID, err)
		return nil, err
	}

	merged := models.Merge(loaded...)
	elapsed := time.Since(start)
	m.IncQuerySuccess()
	m.IncQueryRows(int64(merged.Len()))
	m.RecordQueryLatency(elapsed.Microseconds())
	if e.registry != nil {
		e.registry.Complete(runID, merged.Len(), len(loaded))
	}

	e.logger.Debug().
		Int("sources", len(loaded)).
		Int("failed_sources", len(sourceErrors)).
		Int("rows", merged.Len()).
		Dur("duration", elapsed).
		Msg("Cross-source query completed")

	return &AllResult{
		Batch:        merged,
		Sources:      len(loaded),
		SourceErrors: sourceErrors,
		Elapsed:      elapsed,
	}, nil
}

// loadSource reads one source into a normalized, filtered batch. Lake
// collections apply the in-memory predicate after the merge; tables push
// the filter down, so their rows arrive pre-filtered.
func (e *Executor) loadSource(ctx context.Context, src catalog.SourceInfo, spec *filter.Spec) (*models.Batch, int, int, error) {
	switch src.Kind {
	case catalog.KindTable:
		batch, err := e.loadTable(ctx, src.Name, spec)
		if err != nil {
			return nil, 0, 0, err
		}
		models.NormalizeTimestamps(batch, models.DefaultTimeField)
		return batch, 0, 0, nil
	default:
		batch, loaded, failed, err := e.loadLake(ctx, src.Name)
		if err != nil {
			return nil, loaded, failed, err
		}
		models.NormalizeTimestamps(batch, models.DefaultTimeField)
		return applyFilter(batch, spec), loaded, failed, nil
	}
}

// loadLake loads every partition of a collection in parallel. Slots are
// indexed by partition order so the merge is deterministic regardless of
// completion order.
func (e *Executor) loadLake(ctx context.Context, collection string) (*models.Batch, int, int, error) {
	parts, err := e.catalog.Lake().Partitions(ctx, collection)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("listing %s: %w", collection, err)
	}
	if len(parts) == 0 {
		return models.NewBatch(), 0, 0, nil
	}

	m := metrics.Get()
	sem := semaphore.NewWeighted(int64(e.config.MaxConcurrentPartitions))
	batches := make([]*models.Batch, len(parts))
	failed := 0
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, p := range parts {
		wg.Add(1)
		go func(idx int, part lake.Partition) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			defer sem.Release(1)

			loadCtx, cancel := context.WithTimeout(ctx, e.config.SourceTimeout)
			defer cancel()

			batch, err := e.catalog.Lake().ReadPartition(loadCtx, part)
			if err != nil {
				e.logger.Warn().
					Err(err).
					Str("partition", part.Key).
					Msg("Partition load failed, skipping")
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}

			mu.Lock()
			batches[idx] = batch
			mu.Unlock()
		}(i, p)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, failed, err
	}

	loaded := make([]*models.Batch, 0, len(batches))
	for _, b := range batches {
		if b != nil {
			loaded = append(loaded, b)
		}
	}

	m.IncPartitionsLoaded(int64(len(loaded)))
	m.IncPartitionsSkipped(int64(failed))

	if len(loaded) == 0 {
		return nil, 0, failed, fmt.Errorf("%w: %s: all %d partitions failed", ErrNoSourcesReadable, collection, len(parts))
	}

	return models.Merge(loaded...), len(loaded), failed, nil
}

func (e *Executor) loadTable(ctx context.Context, table string, spec *filter.Spec) (*models.Batch, error) {
	store := e.catalog.Store()
	if store == nil {
		return nil, fmt.Errorf("%w: table store disabled", tablestore.ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.SourceTimeout)
	defer cancel()

	var where string
	var args []interface{}
	if !spec.Empty() {
		columns, err := store.Columns(ctx, table)
		if err != nil {
			return nil, err
		}
		where, args = spec.Where(store.Dialect(), columns)
	}

	return store.Select(ctx, table, where, args)
}

// track registers the run when a registry is wired, otherwise it is a
// no-op passthrough.
func (e *Executor) track(ctx context.Context, source string, spec *filter.Spec) (string, context.Context) {
	if e.registry == nil {
		return "", ctx
	}
	return e.registry.Register(ctx, source, spec.String())
}

// settle records a failed run under its final status.
func (e *Executor) settle(runID string, err error) {
	if e.registry == nil {
		return
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.registry.TimedOut(runID)
	case errors.Is(err, context.Canceled):
		e.registry.Cancelled(runID)
	default:
		e.registry.Fail(runID, err.Error())
	}
}

func applyFilter(batch *models.Batch, spec *filter.Spec) *models.Batch {
	if spec.Empty() {
		return batch
	}
	pred := spec.Predicate()
	out := models.NewBatch(batch.Columns...)
	for _, rec := range batch.Records {
		if pred(rec) {
			out.Append(rec)
		}
	}
	return out
}
