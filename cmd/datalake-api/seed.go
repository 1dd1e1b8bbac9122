package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/antoinevdp/datalake-api/internal/catalog"
	"github.com/antoinevdp/datalake-api/internal/config"
	"github.com/antoinevdp/datalake-api/internal/database"
	"github.com/antoinevdp/datalake-api/internal/lake"
	"github.com/antoinevdp/datalake-api/internal/logger"
	"github.com/antoinevdp/datalake-api/internal/metrics"
	"github.com/antoinevdp/datalake-api/pkg/models"
)

// Location, name and device pools the producing system draws from.
// Membership filter values come from the static vocabulary instead, so
// the seeder and the fallback vocabulary cannot drift apart.
var (
	seedCountries = []string{"USA", "Canada", "UK", "Germany", "France", "Japan", "Australia", "Brazil", "India", "China"}

	seedCities = map[string][]string{
		"USA":       {"New York", "Los Angeles", "Chicago", "Houston", "Phoenix"},
		"Canada":    {"Toronto", "Montreal", "Vancouver", "Calgary", "Ottawa"},
		"UK":        {"London", "Birmingham", "Manchester", "Glasgow", "Liverpool"},
		"Germany":   {"Berlin", "Hamburg", "Munich", "Cologne", "Frankfurt"},
		"France":    {"Paris", "Marseille", "Lyon", "Toulouse", "Nice"},
		"Japan":     {"Tokyo", "Osaka", "Kyoto", "Yokohama", "Nagoya"},
		"Australia": {"Sydney", "Melbourne", "Brisbane", "Perth", "Adelaide"},
		"Brazil":    {"Sao Paulo", "Rio de Janeiro", "Brasilia", "Salvador", "Fortaleza"},
		"India":     {"Mumbai", "Delhi", "Bangalore", "Hyderabad", "Chennai"},
		"China":     {"Shanghai", "Beijing", "Guangzhou", "Shenzhen", "Hangzhou"},
	}

	seedNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis",
		"Rodriguez", "Martinez", "Wilson", "Anderson", "Taylor", "Thomas", "Moore", "Jackson",
		"Liam", "Olivia", "Noah", "Emma", "Oliver", "Ava", "Elijah", "Sophia",
		"William", "Isabella", "James", "Charlotte", "Benjamin", "Amelia", "Lucas", "Mia",
	}

	seedOS       = []string{"Windows", "MacOS", "Linux", "Android", "iOS"}
	seedBrowsers = []string{"Chrome", "Firefox", "Safari", "Edge"}
)

// runSeedSubcommand writes batches of generated transactions into the
// lake, one parquet partition per batch, for development and demos.
func runSeedSubcommand(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	collectionFlag := fs.String("collection", "TRANSACTIONS_CLEANED", "Collection to write into")
	batchesFlag := fs.Int("batches", 5, "Number of parquet batches to write")
	rowsFlag := fs.Int("rows", 200, "Records per batch")
	seedFlag := fs.Int64("seed", 0, "Random seed (0 = time-based)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to parse flags: %v\n", err)
		os.Exit(1)
	}
	if *batchesFlag < 1 || *rowsFlag < 1 {
		fmt.Fprintln(os.Stderr, "error: -batches and -rows must be at least 1")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	metrics.Init(log.Logger)

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

	source := lake.NewSource(db, backend, log.Logger)
	writer := lake.NewWriter(source, log.Logger)

	rngSeed := *seedFlag
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(rngSeed))
	vocab := catalog.StaticVocabulary()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	start := time.Now()
	for b := 0; b < *batchesFlag; b++ {
		batch := models.NewBatch()
		for i := 0; i < *rowsFlag; i++ {
			batch.Append(seedTransaction(rng, vocab, b, i))
		}

		key, err := writer.WriteBatch(ctx, *collectionFlag, batch)
		if err != nil {
			log.Fatal().Err(err).Int("batch", b).Msg("Failed to write batch")
		}
		log.Info().Str("key", key).Int("rows", batch.Len()).Msg("Batch written")
	}

	log.Info().
		Str("collection", *collectionFlag).
		Int("batches", *batchesFlag).
		Int("rows", *batchesFlag * *rowsFlag).
		Int64("seed", rngSeed).
		Dur("duration", time.Since(start)).
		Msg("Seed complete")
}

// seedTransaction generates one record of the canonical transaction
// schema. thread and messageNumber are the producing system's sequencing
// markers: the batch index and the record's position within it.
func seedTransaction(rng *rand.Rand, vocab catalog.Vocabulary, thread, messageNumber int) models.Record {
	pick := func(field string) string {
		values := vocab.Fields[field]
		return values[rng.Intn(len(values))]
	}

	country := seedCountries[rng.Intn(len(seedCountries))]
	cities := seedCities[country]
	city := cities[rng.Intn(len(cities))]

	status := pick("status")
	amount := roundCents(10 + rng.Float64()*990)

	// Only completed transactions carry tax
	taxAmount := 0.0
	if status == "completed" {
		taxAmount = roundCents(amount * (0.05 + rng.Float64()*0.15))
	}

	var rating interface{}
	if rng.Intn(2) == 1 {
		rating = int64(1 + rng.Intn(5))
	}
	var discount interface{}
	if rng.Intn(2) == 1 {
		discount = fmt.Sprintf("DISCOUNT-%d", 100+rng.Intn(900))
	}

	now := time.Now().UTC()
	eventTime := now.Add(-time.Duration(rng.Intn(30*24*3600)) * time.Second)

	return models.Record{
		"TRANSACTION_ID":             "TXN-" + uuid.NewString()[:8],
		"TIMESTAMP":                  eventTime,
		"USER_ID":                    fmt.Sprintf("USER-%d", 1000+rng.Intn(9000)),
		"USER_NAME":                  seedNames[rng.Intn(len(seedNames))],
		"PRODUCT_ID":                 fmt.Sprintf("PROD-%d", 100+rng.Intn(900)),
		"AMOUNT_USD":                 amount,
		"CURRENCY":                   pick("currency"),
		"TRANSACTION_TYPE":           pick("transaction_type"),
		"STATUS":                     status,
		"LOCATION_CITY":              city,
		"LOCATION_COUNTRY":           country,
		"PAYMENT_METHOD":             pick("payment_method"),
		"PRODUCT_CATEGORY":           pick("product_category"),
		"QUANTITY":                   int64(1 + rng.Intn(10)),
		"SHIPPING_STREET":            fmt.Sprintf("%d Main St", 100+rng.Intn(900)),
		"SHIPPING_ZIP":               fmt.Sprintf("%d", 10000+rng.Intn(90000)),
		"SHIPPING_CITY":              city,
		"SHIPPING_COUNTRY":           country,
		"DEVICE_OS":                  seedOS[rng.Intn(len(seedOS))],
		"DEVICE_BROWSER":             seedBrowsers[rng.Intn(len(seedBrowsers))],
		"DEVICE_IP_ADDRESS":          randomIP(rng),
		"CUSTOMER_RATING":            rating,
		"DISCOUNT_CODE":              discount,
		"TAX_AMOUNT":                 taxAmount,
		"THREAD":                     int64(thread),
		"MESSAGE_NUMBER":             int64(messageNumber),
		"TIMESTAMP_OF_RECEPTION_LOG": now.Format("02/01/2006 15:04:05"),
	}
}

func randomIP(rng *rand.Rand) string {
	return fmt.Sprintf("%d.%d.%d.%d",
		1+rng.Intn(255), 1+rng.Intn(255), 1+rng.Intn(255), 1+rng.Intn(255))
}

func roundCents(x float64) float64 {
	return math.Round(x*100) / 100
}
