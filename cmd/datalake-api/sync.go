package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/antoinevdp/datalake-api/internal/config"
	"github.com/antoinevdp/datalake-api/internal/database"
	"github.com/antoinevdp/datalake-api/internal/lake"
	"github.com/antoinevdp/datalake-api/internal/logger"
	"github.com/antoinevdp/datalake-api/internal/metrics"
	"github.com/antoinevdp/datalake-api/internal/tablestore"
	"github.com/antoinevdp/datalake-api/pkg/models"
)

// runSyncSubcommand mirrors lake collections into the relational store:
// every collection lands in <prefix><collection_lower>, replaced wholesale
// so a re-run never duplicates rows.
func runSyncSubcommand(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	collectionsFlag := fs.String("collections", "", "Comma-separated collection names (default: every lake collection)")
	timeoutFlag := fs.Duration("timeout", 10*time.Minute, "Overall time budget for the sync run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	metrics.Init(log.Logger)

	if !cfg.TableStore.Enabled {
		log.Fatal().Msg("Table store is disabled - nothing to sync into (set tablestore.enabled=true)")
	}

	db, err := database.New(buildDatabaseConfig(cfg), logger.Get("database"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	backend, err := newStorageBackend(&cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage backend")
	}
	defer backend.Close()

	store, err := tablestore.New(tableStoreConfig(cfg), log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize table store")
	}
	defer store.Close()

	source := lake.NewSource(db, backend, log.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	var collections []string
	if *collectionsFlag != "" {
		for _, name := range strings.Split(*collectionsFlag, ",") {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				collections = append(collections, trimmed)
			}
		}
	} else {
		collections, err = source.Collections(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list lake collections")
		}
	}
	if len(collections) == 0 {
		log.Warn().Msg("No collections to sync")
		return
	}

	start := time.Now()
	synced, failed := 0, 0
	totalRows := 0

	for _, collection := range collections {
		rows, err := syncCollection(ctx, source, store, collection)
		if err != nil {
			log.Error().Err(err).Str("collection", collection).Msg("Failed to sync collection")
			failed++
			continue
		}
		log.Info().
			Str("collection", collection).
			Str("table", tablestore.MirrorName(store.Prefix(), collection)).
			Int("rows", rows).
			Msg("Collection mirrored")
		synced++
		totalRows += rows
	}

	log.Info().
		Int("synced", synced).
		Int("failed", failed).
		Int("rows", totalRows).
		Dur("duration", time.Since(start)).
		Msg("Sync complete")

	if failed > 0 && synced == 0 {
		os.Exit(1)
	}
}

// syncCollection reads every readable partition of a collection, merges
// them, and replaces the mirror table. Broken partitions are skipped the
// same way the read path skips them.
func syncCollection(ctx context.Context, source *lake.Source, store *tablestore.Store, collection string) (int, error) {
	parts, err := source.Partitions(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("listing %s: %w", collection, err)
	}
	if len(parts) == 0 {
		log.Warn().Str("collection", collection).Msg("Collection has no partitions, skipping")
		return 0, nil
	}

	batches := make([]*models.Batch, 0, len(parts))
	for _, part := range parts {
		batch, err := source.ReadPartition(ctx, part)
		if err != nil {
			log.Warn().Err(err).Str("partition", part.Key).Msg("Skipping unreadable partition")
			continue
		}
		batches = append(batches, batch)
	}
	if len(batches) == 0 {
		return 0, fmt.Errorf("%s: no readable partitions", collection)
	}

	merged := models.Merge(batches...)
	table := tablestore.MirrorName(store.Prefix(), collection)

	if err := store.DropTable(ctx, table); err != nil {
		return 0, err
	}
	if err := store.EnsureTable(ctx, table, merged); err != nil {
		return 0, err
	}
	if err := store.InsertBatch(ctx, table, merged); err != nil {
		return 0, err
	}

	return merged.Len(), nil
}
