package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/antoinevdp/datalake-api/internal/analytics"
	"github.com/antoinevdp/datalake-api/internal/catalog"
	"github.com/antoinevdp/datalake-api/internal/database"
	"github.com/antoinevdp/datalake-api/internal/lake"
	"github.com/antoinevdp/datalake-api/internal/pagination"
	"github.com/antoinevdp/datalake-api/internal/query"
	"github.com/antoinevdp/datalake-api/internal/storage"
	"github.com/antoinevdp/datalake-api/internal/tablestore"
	"github.com/antoinevdp/datalake-api/pkg/models"
)

// fixtureBase anchors seed timestamps near the test run so the
// default analytics window has something to find.
var fixtureBase = time.Now().UTC().Truncate(time.Second)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

type testEnv struct {
	app   *fiber.App
	cat   *catalog.Catalog
	reg   *query.Registry
	store *tablestore.Store
}

func seedRecord(id string, ts time.Time, txType, currency, user, product string, amount float64, qty int64) models.Record {
	return models.Record{
		"TRANSACTION_ID":   id,
		"TIMESTAMP":        ts,
		"TRANSACTION_TYPE": txType,
		"CURRENCY":         currency,
		"USER_ID":          user,
		"PRODUCT_ID":       product,
		"AMOUNT_USD":       amount,
		"QUANTITY":         qty,
	}
}

// newTestEnv stands up the full read stack behind a fiber app: a lake
// with two partitions, a sqlite mirror table, and every handler.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()
	ctx := context.Background()

	backend, err := storage.NewLocalBackend(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	db, err := database.New(&database.Config{
		MaxConnections: 4,
		MemoryLimit:    "500MB",
		ThreadCount:    2,
	}, logger)
	if err != nil {
		t.Fatalf("failed to open DuckDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	source := lake.NewSource(db, backend, logger)
	writer := lake.NewWriter(source, logger)

	older := models.NewBatch()
	older.Append(seedRecord("tx-001", fixtureBase.Add(-3*time.Hour), "purchase", "USD", "u1", "P1", 100, 2))
	older.Append(seedRecord("tx-002", fixtureBase.Add(-2*time.Hour), "refund", "EUR", "u2", "P2", 250.5, 1))
	if _, err := writer.WriteBatch(ctx, "transactions_cleaned", older); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	newer := models.NewBatch()
	newer.Append(seedRecord("tx-003", fixtureBase.Add(-30*time.Minute), "purchase", "USD", "u1", "P1", 300, 1))
	if _, err := writer.WriteBatch(ctx, "transactions_cleaned", newer); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	store, err := tablestore.New(&tablestore.Config{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "mirror.db"),
		TablePrefix: "sql_",
	}, logger)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mirror := models.NewBatch()
	mirror.Append(seedRecord("tx-004", fixtureBase.Add(-10*time.Minute), "payment", "EUR", "u3", "P3", 75.25, 1))
	if err := store.EnsureTable(ctx, "sql_mirror", mirror); err != nil {
		t.Fatalf("EnsureTable failed: %v", err)
	}
	if err := store.InsertBatch(ctx, "sql_mirror", mirror); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	cat := catalog.New(source, store, "", logger)
	if err := cat.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	reg := query.NewRegistry(nil, logger)
	exec := query.NewExecutor(cat, reg, nil, logger)
	engine := analytics.New(exec, nil, logger)

	server := NewServer(nil, cat, nil, logger)
	server.RegisterRoutes()
	app := server.GetApp()
	NewSourcesHandler(cat, logger).RegisterRoutes(app)
	NewTransactionsHandler(exec, pagination.New(2, 5), logger).RegisterRoutes(app)
	NewAnalyticsHandler(engine, logger).RegisterRoutes(app)
	NewQueriesHandler(reg, logger).RegisterRoutes(app)

	return &testEnv{app: app, cat: cat, reg: reg, store: store}
}

func (env *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := env.app.Test(req, 30000)
	if err != nil {
		t.Fatalf("request %s failed: %v", path, err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body of %s failed: %v", path, err)
	}
	resp.Body.Close()
	return resp, body
}

func (env *testEnv) getJSON(t *testing.T, path string, wantStatus int) map[string]interface{} {
	t.Helper()
	resp, body := env.get(t, path)
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s = %d, want %d (body: %s)", path, resp.StatusCode, wantStatus, body)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("GET %s returned invalid JSON: %v (body: %s)", path, err, body)
	}
	return out
}

func (env *testEnv) postJSON(t *testing.T, path string, wantStatus int) map[string]interface{} {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	resp, err := env.app.Test(req, 30000)
	if err != nil {
		t.Fatalf("request %s failed: %v", path, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s = %d, want %d (body: %s)", path, resp.StatusCode, wantStatus, body)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("POST %s returned invalid JSON: %v", path, err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	body := env.getJSON(t, "/health", http.StatusOK)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t)

	body := env.getJSON(t, "/ready", http.StatusOK)
	if body["status"] != "ready" {
		t.Errorf("status = %v, want ready", body["status"])
	}
}

func TestReadyEndpoint_BeforeFirstRefresh(t *testing.T) {
	logger := testLogger()
	backend, err := storage.NewLocalBackend(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	db, err := database.New(&database.Config{MaxConnections: 2, MemoryLimit: "500MB", ThreadCount: 2}, logger)
	if err != nil {
		t.Fatalf("failed to open DuckDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cat := catalog.New(lake.NewSource(db, backend, logger), nil, "", logger)

	server := NewServer(nil, cat, nil, logger)
	server.RegisterRoutes()

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	resp, err := server.GetApp().Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d before the first snapshot, want 503", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/plain") {
		t.Errorf("content type = %s, want Prometheus text", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), "datalake_uptime_seconds") {
		t.Error("Prometheus body missing datalake_uptime_seconds")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/json")
	jsonResp, err := env.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer jsonResp.Body.Close()
	var snapshot map[string]interface{}
	if err := json.NewDecoder(jsonResp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("JSON metrics decode failed: %v", err)
	}
	if _, ok := snapshot["http_requests_total"]; !ok {
		t.Error("JSON metrics missing http_requests_total")
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.get(t, "/health")
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options header")
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options header")
	}
}

func TestListSources(t *testing.T) {
	env := newTestEnv(t)

	body := env.getJSON(t, "/api/v1/sources", http.StatusOK)
	if body["degraded"] != false {
		t.Errorf("degraded = %v, want false", body["degraded"])
	}
	sources, ok := body["sources"].([]interface{})
	if !ok || len(sources) != 2 {
		t.Fatalf("sources = %v, want 2 entries", body["sources"])
	}

	kinds := map[string]string{}
	for _, raw := range sources {
		entry := raw.(map[string]interface{})
		kinds[entry["name"].(string)] = entry["kind"].(string)
	}
	if kinds["transactions_cleaned"] != "lake" {
		t.Errorf("transactions_cleaned kind = %s, want lake", kinds["transactions_cleaned"])
	}
	if kinds["sql_mirror"] != "table" {
		t.Errorf("sql_mirror kind = %s, want table", kinds["sql_mirror"])
	}
}

func TestRefreshSources(t *testing.T) {
	env := newTestEnv(t)

	body := env.postJSON(t, "/api/v1/sources/refresh", http.StatusOK)
	if body["refreshed"] != true {
		t.Errorf("refreshed = %v, want true", body["refreshed"])
	}
	if body["sources"].(float64) != 2 {
		t.Errorf("sources = %v, want 2", body["sources"])
	}
}

func TestListFilters(t *testing.T) {
	env := newTestEnv(t)

	body := env.getJSON(t, "/api/v1/filters", http.StatusOK)
	if body["fallback"] != false {
		t.Errorf("fallback = %v, want false (vocabulary sampled from the lake)", body["fallback"])
	}

	filters := body["filters"].(map[string]interface{})
	types, ok := filters["transaction_type"].([]interface{})
	if !ok {
		t.Fatalf("filters missing transaction_type: %v", filters)
	}
	// Sampled from the first partition only
	if len(types) != 2 || types[0] != "purchase" || types[1] != "refund" {
		t.Errorf("transaction_type = %v, want [purchase refund]", types)
	}

	numeric := body["numeric"].(map[string]interface{})
	amount, ok := numeric["amount"].(map[string]interface{})
	if !ok {
		t.Fatalf("numeric missing amount: %v", numeric)
	}
	if amount["min"].(float64) != 100 || amount["max"].(float64) != 250.5 {
		t.Errorf("amount range = %v, want 100..250.5", amount)
	}
}
