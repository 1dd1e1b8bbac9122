package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoinevdp/datalake-api/internal/lake"
	"github.com/antoinevdp/datalake-api/internal/metrics"
	"github.com/antoinevdp/datalake-api/internal/tablestore"
)

// ErrSourceNotFound marks lookups of names the snapshot does not carry.
var ErrSourceNotFound = errors.New("source not found")

// Kind tells the executor which read path serves a source.
type Kind string

const (
	KindLake  Kind = "lake"
	KindTable Kind = "table"
)

// SourceInfo is one queryable source. ItemCount is the partition file
// count for lake sources and the row count for tables; -1 means the count
// could not be taken.
type SourceInfo struct {
	Name      string `json:"name"`
	Kind      Kind   `json:"kind"`
	ItemCount int64  `json:"item_count"`
}

// Snapshot is an immutable view of the source inventory. Degraded is set
// when a side of the catalog could not be listed, most commonly the table
// store being unreachable.
type Snapshot struct {
	Sources     []SourceInfo `json:"sources"`
	Degraded    bool         `json:"degraded"`
	RefreshedAt time.Time    `json:"refreshed_at"`
}

// Catalog owns the source inventory and the filter vocabulary. Reads are
// served from the last snapshot; Refresh swaps it atomically.
type Catalog struct {
	lake             *lake.Source
	store            *tablestore.Store // nil when the table store is disabled
	vocabularySource string
	logger           zerolog.Logger

	mu    sync.RWMutex
	snap  *Snapshot
	vocab *Vocabulary
}

// New creates a catalog over the lake and an optional table store.
func New(lakeSrc *lake.Source, store *tablestore.Store, vocabularySource string, logger zerolog.Logger) *Catalog {
	if vocabularySource == "" {
		vocabularySource = "TRANSACTIONS_CLEANED"
	}
	return &Catalog{
		lake:             lakeSrc,
		store:            store,
		vocabularySource: vocabularySource,
		logger:           logger.With().Str("component", "catalog").Logger(),
	}
}

// Refresh rebuilds the snapshot from both backends. A table store failure
// degrades the catalog to lake-only sources; the refresh errors only when
// neither side could be listed.
func (c *Catalog) Refresh(ctx context.Context) error {
	m := metrics.Get()
	start := time.Now()

	c.lake.InvalidateListings()

	sources := make([]SourceInfo, 0, 8)
	degraded := false

	collections, lakeErr := c.lake.Collections(ctx)
	if lakeErr != nil {
		degraded = true
		c.logger.Error().Err(lakeErr).Msg("Lake listing failed")
	}
	for _, collection := range collections {
		count := int64(-1)
		parts, err := c.lake.Partitions(ctx, collection)
		if err != nil {
			c.logger.Warn().Err(err).Str("collection", collection).Msg("Partition listing failed")
		} else {
			count = int64(len(parts))
		}
		sources = append(sources, SourceInfo{Name: collection, Kind: KindLake, ItemCount: count})
	}

	var tableErr error
	if c.store != nil {
		tables, err := c.store.Tables(ctx)
		if err != nil {
			tableErr = err
			degraded = true
			c.logger.Warn().Err(err).Msg("Table store listing failed, serving lake-only catalog")
		}
		for _, table := range tables {
			count, err := c.store.Count(ctx, table)
			if err != nil {
				c.logger.Warn().Err(err).Str("table", table).Msg("Row count failed")
				count = -1
			}
			sources = append(sources, SourceInfo{Name: table, Kind: KindTable, ItemCount: count})
		}
	}

	if lakeErr != nil && (c.store == nil || tableErr != nil) {
		m.IncCatalogRefreshErrors()
		if tableErr != nil {
			return fmt.Errorf("catalog refresh failed: lake: %w; tables: %w", lakeErr, tableErr)
		}
		return fmt.Errorf("catalog refresh failed: %w", lakeErr)
	}

	snap := &Snapshot{
		Sources:     sources,
		Degraded:    degraded,
		RefreshedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.snap = snap
	c.vocab = nil // resampled lazily against the fresh inventory
	c.mu.Unlock()

	m.IncCatalogRefreshes()
	m.SetCatalogDegraded(degraded)

	c.logger.Info().
		Int("sources", len(sources)).
		Bool("degraded", degraded).
		Dur("duration", time.Since(start)).
		Msg("Catalog refreshed")

	return nil
}

// Snapshot returns a copy of the current inventory. Before the first
// refresh it is empty and degraded.
func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.snap == nil {
		return Snapshot{Degraded: true}
	}
	out := *c.snap
	out.Sources = append([]SourceInfo(nil), c.snap.Sources...)
	return out
}

// Ready reports whether a snapshot exists yet.
func (c *Catalog) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap != nil
}

// Resolve finds a source by name, case-insensitively, preferring lake
// collections over tables when both match.
func (c *Catalog) Resolve(name string) (SourceInfo, error) {
	snap := c.Snapshot()

	for _, kind := range []Kind{KindLake, KindTable} {
		for _, src := range snap.Sources {
			if src.Kind == kind && strings.EqualFold(src.Name, name) {
				return src, nil
			}
		}
	}
	return SourceInfo{}, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
}

// Lake exposes the lake source for the executor.
func (c *Catalog) Lake() *lake.Source {
	return c.lake
}

// Store exposes the table store for the executor; nil when disabled.
func (c *Catalog) Store() *tablestore.Store {
	return c.store
}
