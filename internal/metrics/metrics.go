package metrics

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Metrics holds all service counters for Prometheus export
type Metrics struct {
	startTime time.Time

	// HTTP request metrics
	httpRequestsTotal   atomic.Int64
	httpRequestsSuccess atomic.Int64
	httpRequestsError   atomic.Int64

	// HTTP latency histogram buckets (microseconds)
	// Buckets: 1ms, 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, +Inf
	httpLatencyBuckets [10]atomic.Int64
	httpLatencySum     atomic.Int64
	httpLatencyCount   atomic.Int64

	// Query metrics (transaction reads across both source kinds)
	queryRequestsTotal atomic.Int64
	querySuccessTotal  atomic.Int64
	queryErrorsTotal   atomic.Int64
	queryRowsTotal     atomic.Int64
	queryLatencySum    atomic.Int64 // microseconds
	queryLatencyCount  atomic.Int64

	// Partition loads behind lake queries
	partitionsLoadedTotal  atomic.Int64
	partitionsSkippedTotal atomic.Int64

	// Analytics metrics
	analyticsRequestsTotal atomic.Int64
	analyticsErrorsTotal   atomic.Int64

	// Catalog metrics
	catalogRefreshesTotal     atomic.Int64
	catalogRefreshErrorsTotal atomic.Int64
	catalogDegraded           atomic.Int64 // gauge: 1 while table store side is down

	// Table store metrics
	tablestoreQueriesTotal atomic.Int64
	tablestoreErrorsTotal  atomic.Int64
	tablestoreBreakerOpen  atomic.Int64 // gauge

	// Lake storage metrics
	storageWritesTotal     atomic.Int64
	storageWriteBytesTotal atomic.Int64
	storageReadsTotal      atomic.Int64
	storageReadBytesTotal  atomic.Int64
	storageErrorsTotal     atomic.Int64

	// DuckDB connection pool
	dbConnectionsOpen  atomic.Int64
	dbConnectionsInUse atomic.Int64
	dbConnectionsIdle  atomic.Int64
	dbQueriesTotal     atomic.Int64
	dbQueryErrorsTotal atomic.Int64

	logger zerolog.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			startTime: time.Now(),
		}
	})
	return instance
}

// Init initializes the metrics with a logger
func Init(logger zerolog.Logger) *Metrics {
	m := Get()
	m.logger = logger.With().Str("component", "metrics").Logger()
	m.logger.Info().Msg("Metrics collector initialized")
	return m
}

// HTTP Metrics
func (m *Metrics) IncHTTPRequests() { m.httpRequestsTotal.Add(1) }
func (m *Metrics) IncHTTPSuccess()  { m.httpRequestsSuccess.Add(1) }
func (m *Metrics) IncHTTPError()    { m.httpRequestsError.Add(1) }

// RecordHTTPLatency records a request duration in microseconds
func (m *Metrics) RecordHTTPLatency(durationMicros int64) {
	m.httpLatencySum.Add(durationMicros)
	m.httpLatencyCount.Add(1)

	bucketIdx := m.getLatencyBucket(durationMicros)
	m.httpLatencyBuckets[bucketIdx].Add(1)
}

func (m *Metrics) getLatencyBucket(micros int64) int {
	// Buckets: 1ms, 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, +Inf
	switch {
	case micros <= 1000:
		return 0
	case micros <= 5000:
		return 1
	case micros <= 10000:
		return 2
	case micros <= 25000:
		return 3
	case micros <= 50000:
		return 4
	case micros <= 100000:
		return 5
	case micros <= 250000:
		return 6
	case micros <= 500000:
		return 7
	case micros <= 1000000:
		return 8
	default:
		return 9
	}
}

// Query Metrics
func (m *Metrics) IncQueryRequests()        { m.queryRequestsTotal.Add(1) }
func (m *Metrics) IncQuerySuccess()         { m.querySuccessTotal.Add(1) }
func (m *Metrics) IncQueryErrors()          { m.queryErrorsTotal.Add(1) }
func (m *Metrics) IncQueryRows(count int64) { m.queryRowsTotal.Add(count) }

func (m *Metrics) RecordQueryLatency(durationMicros int64) {
	m.queryLatencySum.Add(durationMicros)
	m.queryLatencyCount.Add(1)
}

func (m *Metrics) IncPartitionsLoaded(count int64)  { m.partitionsLoadedTotal.Add(count) }
func (m *Metrics) IncPartitionsSkipped(count int64) { m.partitionsSkippedTotal.Add(count) }

// Analytics Metrics
func (m *Metrics) IncAnalyticsRequests() { m.analyticsRequestsTotal.Add(1) }
func (m *Metrics) IncAnalyticsErrors()   { m.analyticsErrorsTotal.Add(1) }

// Catalog Metrics
func (m *Metrics) IncCatalogRefreshes()     { m.catalogRefreshesTotal.Add(1) }
func (m *Metrics) IncCatalogRefreshErrors() { m.catalogRefreshErrorsTotal.Add(1) }
func (m *Metrics) SetCatalogDegraded(degraded bool) {
	if degraded {
		m.catalogDegraded.Store(1)
	} else {
		m.catalogDegraded.Store(0)
	}
}

// Table Store Metrics
func (m *Metrics) IncTableStoreQueries() { m.tablestoreQueriesTotal.Add(1) }
func (m *Metrics) IncTableStoreErrors()  { m.tablestoreErrorsTotal.Add(1) }
func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.tablestoreBreakerOpen.Store(1)
	} else {
		m.tablestoreBreakerOpen.Store(0)
	}
}

// Storage Metrics
func (m *Metrics) IncStorageWrites()                { m.storageWritesTotal.Add(1) }
func (m *Metrics) IncStorageWriteBytes(bytes int64) { m.storageWriteBytesTotal.Add(bytes) }
func (m *Metrics) IncStorageReads()                 { m.storageReadsTotal.Add(1) }
func (m *Metrics) IncStorageReadBytes(bytes int64)  { m.storageReadBytesTotal.Add(bytes) }
func (m *Metrics) IncStorageErrors()                { m.storageErrorsTotal.Add(1) }

// Database Metrics
func (m *Metrics) SetDBConnectionsOpen(count int64)  { m.dbConnectionsOpen.Store(count) }
func (m *Metrics) SetDBConnectionsInUse(count int64) { m.dbConnectionsInUse.Store(count) }
func (m *Metrics) SetDBConnectionsIdle(count int64)  { m.dbConnectionsIdle.Store(count) }
func (m *Metrics) IncDBQueries()                     { m.dbQueriesTotal.Add(1) }
func (m *Metrics) IncDBQueryErrors()                 { m.dbQueryErrorsTotal.Add(1) }

// Snapshot returns all metrics as a map (for JSON endpoint)
func (m *Metrics) Snapshot() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]interface{}{
		// Process info
		"uptime_seconds": time.Since(m.startTime).Seconds(),
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
		"num_cpu":        runtime.NumCPU(),
		"gomaxprocs":     runtime.GOMAXPROCS(0),

		// Memory (Go runtime)
		"memory_alloc_bytes":       memStats.Alloc,
		"memory_total_alloc_bytes": memStats.TotalAlloc,
		"memory_sys_bytes":         memStats.Sys,
		"memory_heap_alloc_bytes":  memStats.HeapAlloc,
		"memory_heap_inuse_bytes":  memStats.HeapInuse,
		"gc_cycles":                memStats.NumGC,
		"gc_pause_total_ns":        memStats.PauseTotalNs,

		// HTTP
		"http_requests_total":   m.httpRequestsTotal.Load(),
		"http_requests_success": m.httpRequestsSuccess.Load(),
		"http_requests_error":   m.httpRequestsError.Load(),
		"http_latency_sum_us":   m.httpLatencySum.Load(),
		"http_latency_count":    m.httpLatencyCount.Load(),

		// Query
		"query_requests_total":     m.queryRequestsTotal.Load(),
		"query_success_total":      m.querySuccessTotal.Load(),
		"query_errors_total":       m.queryErrorsTotal.Load(),
		"query_rows_total":         m.queryRowsTotal.Load(),
		"query_latency_sum_us":     m.queryLatencySum.Load(),
		"query_latency_count":      m.queryLatencyCount.Load(),
		"partitions_loaded_total":  m.partitionsLoadedTotal.Load(),
		"partitions_skipped_total": m.partitionsSkippedTotal.Load(),

		// Analytics
		"analytics_requests_total": m.analyticsRequestsTotal.Load(),
		"analytics_errors_total":   m.analyticsErrorsTotal.Load(),

		// Catalog
		"catalog_refreshes_total":      m.catalogRefreshesTotal.Load(),
		"catalog_refresh_errors_total": m.catalogRefreshErrorsTotal.Load(),
		"catalog_degraded":             m.catalogDegraded.Load(),

		// Table store
		"tablestore_queries_total": m.tablestoreQueriesTotal.Load(),
		"tablestore_errors_total":  m.tablestoreErrorsTotal.Load(),
		"tablestore_breaker_open":  m.tablestoreBreakerOpen.Load(),

		// Storage
		"storage_writes_total":      m.storageWritesTotal.Load(),
		"storage_write_bytes_total": m.storageWriteBytesTotal.Load(),
		"storage_reads_total":       m.storageReadsTotal.Load(),
		"storage_read_bytes_total":  m.storageReadBytesTotal.Load(),
		"storage_errors_total":      m.storageErrorsTotal.Load(),

		// Database
		"db_connections_open":   m.dbConnectionsOpen.Load(),
		"db_connections_in_use": m.dbConnectionsInUse.Load(),
		"db_connections_idle":   m.dbConnectionsIdle.Load(),
		"db_queries_total":      m.dbQueriesTotal.Load(),
		"db_query_errors_total": m.dbQueryErrorsTotal.Load(),
	}
}

// PrometheusFormat returns metrics in Prometheus text exposition format
func (m *Metrics) PrometheusFormat() string {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptimeSeconds := time.Since(m.startTime).Seconds()

	var b []byte
	b = append(b, "# HELP datalake_uptime_seconds Time since the service started\n"...)
	b = append(b, "# TYPE datalake_uptime_seconds gauge\n"...)
	b = appendMetric(b, "datalake_uptime_seconds", uptimeSeconds)

	b = append(b, "# HELP datalake_goroutines Number of goroutines\n"...)
	b = append(b, "# TYPE datalake_goroutines gauge\n"...)
	b = appendMetric(b, "datalake_goroutines", float64(runtime.NumGoroutine()))

	// Memory metrics
	b = append(b, "# HELP datalake_memory_alloc_bytes Current allocated memory\n"...)
	b = append(b, "# TYPE datalake_memory_alloc_bytes gauge\n"...)
	b = appendMetric(b, "datalake_memory_alloc_bytes", float64(memStats.Alloc))

	b = append(b, "# HELP datalake_memory_sys_bytes Total memory obtained from system\n"...)
	b = append(b, "# TYPE datalake_memory_sys_bytes gauge\n"...)
	b = appendMetric(b, "datalake_memory_sys_bytes", float64(memStats.Sys))

	b = append(b, "# HELP datalake_gc_cycles_total Total number of GC cycles\n"...)
	b = append(b, "# TYPE datalake_gc_cycles_total counter\n"...)
	b = appendMetric(b, "datalake_gc_cycles_total", float64(memStats.NumGC))

	// HTTP metrics
	b = append(b, "# HELP datalake_http_requests_total Total HTTP requests\n"...)
	b = append(b, "# TYPE datalake_http_requests_total counter\n"...)
	b = appendMetric(b, "datalake_http_requests_total", float64(m.httpRequestsTotal.Load()))

	b = append(b, "# HELP datalake_http_requests_success_total Successful HTTP requests\n"...)
	b = append(b, "# TYPE datalake_http_requests_success_total counter\n"...)
	b = appendMetric(b, "datalake_http_requests_success_total", float64(m.httpRequestsSuccess.Load()))

	b = append(b, "# HELP datalake_http_requests_error_total Failed HTTP requests\n"...)
	b = append(b, "# TYPE datalake_http_requests_error_total counter\n"...)
	b = appendMetric(b, "datalake_http_requests_error_total", float64(m.httpRequestsError.Load()))

	// HTTP latency histogram
	b = append(b, "# HELP datalake_http_latency_seconds HTTP request latency\n"...)
	b = append(b, "# TYPE datalake_http_latency_seconds histogram\n"...)
	bucketLabels := []string{"0.001", "0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "1", "+Inf"}
	var cumulative int64
	for i, label := range bucketLabels {
		cumulative += m.httpLatencyBuckets[i].Load()
		b = appendMetricWithLabel(b, "datalake_http_latency_seconds_bucket", "le", label, float64(cumulative))
	}
	b = appendMetric(b, "datalake_http_latency_seconds_sum", float64(m.httpLatencySum.Load())/1000000.0)
	b = appendMetric(b, "datalake_http_latency_seconds_count", float64(m.httpLatencyCount.Load()))

	// Query metrics
	b = append(b, "# HELP datalake_query_requests_total Total transaction queries\n"...)
	b = append(b, "# TYPE datalake_query_requests_total counter\n"...)
	b = appendMetric(b, "datalake_query_requests_total", float64(m.queryRequestsTotal.Load()))

	b = append(b, "# HELP datalake_query_success_total Successful transaction queries\n"...)
	b = append(b, "# TYPE datalake_query_success_total counter\n"...)
	b = appendMetric(b, "datalake_query_success_total", float64(m.querySuccessTotal.Load()))

	b = append(b, "# HELP datalake_query_errors_total Failed transaction queries\n"...)
	b = append(b, "# TYPE datalake_query_errors_total counter\n"...)
	b = appendMetric(b, "datalake_query_errors_total", float64(m.queryErrorsTotal.Load()))

	b = append(b, "# HELP datalake_query_rows_total Rows returned by queries\n"...)
	b = append(b, "# TYPE datalake_query_rows_total counter\n"...)
	b = appendMetric(b, "datalake_query_rows_total", float64(m.queryRowsTotal.Load()))

	b = append(b, "# HELP datalake_query_latency_seconds_sum Total query execution time\n"...)
	b = append(b, "# TYPE datalake_query_latency_seconds_sum counter\n"...)
	b = appendMetric(b, "datalake_query_latency_seconds_sum", float64(m.queryLatencySum.Load())/1000000.0)

	b = append(b, "# HELP datalake_query_latency_count Number of timed queries\n"...)
	b = append(b, "# TYPE datalake_query_latency_count counter\n"...)
	b = appendMetric(b, "datalake_query_latency_count", float64(m.queryLatencyCount.Load()))

	// Partition metrics
	b = append(b, "# HELP datalake_partitions_loaded_total Parquet partitions read\n"...)
	b = append(b, "# TYPE datalake_partitions_loaded_total counter\n"...)
	b = appendMetric(b, "datalake_partitions_loaded_total", float64(m.partitionsLoadedTotal.Load()))

	b = append(b, "# HELP datalake_partitions_skipped_total Parquet partitions skipped after load failures\n"...)
	b = append(b, "# TYPE datalake_partitions_skipped_total counter\n"...)
	b = appendMetric(b, "datalake_partitions_skipped_total", float64(m.partitionsSkippedTotal.Load()))

	// Analytics metrics
	b = append(b, "# HELP datalake_analytics_requests_total Total analytics computations\n"...)
	b = append(b, "# TYPE datalake_analytics_requests_total counter\n"...)
	b = appendMetric(b, "datalake_analytics_requests_total", float64(m.analyticsRequestsTotal.Load()))

	b = append(b, "# HELP datalake_analytics_errors_total Failed analytics computations\n"...)
	b = append(b, "# TYPE datalake_analytics_errors_total counter\n"...)
	b = appendMetric(b, "datalake_analytics_errors_total", float64(m.analyticsErrorsTotal.Load()))

	// Catalog metrics
	b = append(b, "# HELP datalake_catalog_refreshes_total Catalog snapshot rebuilds\n"...)
	b = append(b, "# TYPE datalake_catalog_refreshes_total counter\n"...)
	b = appendMetric(b, "datalake_catalog_refreshes_total", float64(m.catalogRefreshesTotal.Load()))

	b = append(b, "# HELP datalake_catalog_refresh_errors_total Failed catalog rebuilds\n"...)
	b = append(b, "# TYPE datalake_catalog_refresh_errors_total counter\n"...)
	b = appendMetric(b, "datalake_catalog_refresh_errors_total", float64(m.catalogRefreshErrorsTotal.Load()))

	b = append(b, "# HELP datalake_catalog_degraded Catalog running without the table store\n"...)
	b = append(b, "# TYPE datalake_catalog_degraded gauge\n"...)
	b = appendMetric(b, "datalake_catalog_degraded", float64(m.catalogDegraded.Load()))

	// Table store metrics
	b = append(b, "# HELP datalake_tablestore_queries_total Relational store queries\n"...)
	b = append(b, "# TYPE datalake_tablestore_queries_total counter\n"...)
	b = appendMetric(b, "datalake_tablestore_queries_total", float64(m.tablestoreQueriesTotal.Load()))

	b = append(b, "# HELP datalake_tablestore_errors_total Relational store failures\n"...)
	b = append(b, "# TYPE datalake_tablestore_errors_total counter\n"...)
	b = appendMetric(b, "datalake_tablestore_errors_total", float64(m.tablestoreErrorsTotal.Load()))

	b = append(b, "# HELP datalake_tablestore_breaker_open Circuit breaker state\n"...)
	b = append(b, "# TYPE datalake_tablestore_breaker_open gauge\n"...)
	b = appendMetric(b, "datalake_tablestore_breaker_open", float64(m.tablestoreBreakerOpen.Load()))

	// Storage metrics
	b = append(b, "# HELP datalake_storage_writes_total Lake object writes\n"...)
	b = append(b, "# TYPE datalake_storage_writes_total counter\n"...)
	b = appendMetric(b, "datalake_storage_writes_total", float64(m.storageWritesTotal.Load()))

	b = append(b, "# HELP datalake_storage_write_bytes_total Bytes written to the lake\n"...)
	b = append(b, "# TYPE datalake_storage_write_bytes_total counter\n"...)
	b = appendMetric(b, "datalake_storage_write_bytes_total", float64(m.storageWriteBytesTotal.Load()))

	b = append(b, "# HELP datalake_storage_reads_total Lake object reads\n"...)
	b = append(b, "# TYPE datalake_storage_reads_total counter\n"...)
	b = appendMetric(b, "datalake_storage_reads_total", float64(m.storageReadsTotal.Load()))

	b = append(b, "# HELP datalake_storage_read_bytes_total Bytes read from the lake\n"...)
	b = append(b, "# TYPE datalake_storage_read_bytes_total counter\n"...)
	b = appendMetric(b, "datalake_storage_read_bytes_total", float64(m.storageReadBytesTotal.Load()))

	b = append(b, "# HELP datalake_storage_errors_total Lake storage failures\n"...)
	b = append(b, "# TYPE datalake_storage_errors_total counter\n"...)
	b = appendMetric(b, "datalake_storage_errors_total", float64(m.storageErrorsTotal.Load()))

	// Database metrics
	b = append(b, "# HELP datalake_db_connections_open Open DuckDB connections\n"...)
	b = append(b, "# TYPE datalake_db_connections_open gauge\n"...)
	b = appendMetric(b, "datalake_db_connections_open", float64(m.dbConnectionsOpen.Load()))

	b = append(b, "# HELP datalake_db_connections_in_use DuckDB connections in use\n"...)
	b = append(b, "# TYPE datalake_db_connections_in_use gauge\n"...)
	b = appendMetric(b, "datalake_db_connections_in_use", float64(m.dbConnectionsInUse.Load()))

	b = append(b, "# HELP datalake_db_connections_idle Idle DuckDB connections\n"...)
	b = append(b, "# TYPE datalake_db_connections_idle gauge\n"...)
	b = appendMetric(b, "datalake_db_connections_idle", float64(m.dbConnectionsIdle.Load()))

	b = append(b, "# HELP datalake_db_queries_total DuckDB statements executed\n"...)
	b = append(b, "# TYPE datalake_db_queries_total counter\n"...)
	b = appendMetric(b, "datalake_db_queries_total", float64(m.dbQueriesTotal.Load()))

	b = append(b, "# HELP datalake_db_query_errors_total DuckDB statement failures\n"...)
	b = append(b, "# TYPE datalake_db_query_errors_total counter\n"...)
	b = appendMetric(b, "datalake_db_query_errors_total", float64(m.dbQueryErrorsTotal.Load()))

	return string(b)
}

func appendMetric(b []byte, name string, value float64) []byte {
	b = append(b, name...)
	b = append(b, ' ')
	b = appendFloat(b, value)
	b = append(b, '\n')
	return b
}

func appendMetricWithLabel(b []byte, name, labelName, labelValue string, value float64) []byte {
	b = append(b, name...)
	b = append(b, '{')
	b = append(b, labelName...)
	b = append(b, '=', '"')
	b = append(b, labelValue...)
	b = append(b, '"', '}', ' ')
	b = appendFloat(b, value)
	b = append(b, '\n')
	return b
}

func appendFloat(b []byte, v float64) []byte {
	// Simple float formatting - enough for metrics
	if v == float64(int64(v)) {
		return appendInt(b, int64(v))
	}
	intPart := int64(v)
	fracPart := int64((v - float64(intPart)) * 1000000)
	if fracPart < 0 {
		fracPart = -fracPart
	}
	b = appendInt(b, intPart)
	b = append(b, '.')
	// Pad with zeros
	if fracPart < 100000 {
		b = append(b, '0')
	}
	if fracPart < 10000 {
		b = append(b, '0')
	}
	if fracPart < 1000 {
		b = append(b, '0')
	}
	if fracPart < 100 {
		b = append(b, '0')
	}
	if fracPart < 10 {
		b = append(b, '0')
	}
	b = appendInt(b, fracPart)
	return b
}

func appendInt(b []byte, v int64) []byte {
	if v < 0 {
		b = append(b, '-')
		v = -v
	}
	if v == 0 {
		return append(b, '0')
	}
	var digits [20]byte
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return append(b, digits[i:]...)
}
