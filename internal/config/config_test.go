package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestGetDefaultThreadCount(t *testing.T) {
	expected := runtime.NumCPU()
	actual := getDefaultThreadCount()
	if actual != expected {
		t.Errorf("getDefaultThreadCount() = %d, want %d", actual, expected)
	}
}

func TestGetDefaultMaxConnections_Bounds(t *testing.T) {
	actual := getDefaultMaxConnections()
	if actual < 4 {
		t.Errorf("getDefaultMaxConnections() = %d, should be at least 4", actual)
	}
	if actual > 64 {
		t.Errorf("getDefaultMaxConnections() = %d, should be at most 64", actual)
	}
}

func TestGetDefaultMemoryLimit(t *testing.T) {
	result := getDefaultMemoryLimit()
	if result == "" {
		t.Error("getDefaultMemoryLimit() returned empty string")
	}
	if len(result) < 3 || result[len(result)-2:] != "GB" {
		t.Errorf("getDefaultMemoryLimit() = %s, should end with 'GB'", result)
	}
}

// chdirTemp moves the test into an empty directory so Load finds no
// config file and only sees defaults plus env.
func chdirTemp(t *testing.T) {
	t.Helper()
	tmpDir := t.TempDir()
	oldWd, _ := os.Getwd()
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "local" {
		t.Errorf("Storage.Backend = %s, want local", cfg.Storage.Backend)
	}
	if cfg.TableStore.TablePrefix != "sql_" {
		t.Errorf("TableStore.TablePrefix = %s, want sql_", cfg.TableStore.TablePrefix)
	}
	if cfg.Catalog.VocabularySource != "TRANSACTIONS_CLEANED" {
		t.Errorf("Catalog.VocabularySource = %s, want TRANSACTIONS_CLEANED", cfg.Catalog.VocabularySource)
	}
	if cfg.Query.MaxConcurrentPartitions != 4 {
		t.Errorf("Query.MaxConcurrentPartitions = %d, want 4", cfg.Query.MaxConcurrentPartitions)
	}
	if cfg.Pagination.DefaultPageSize != 10 || cfg.Pagination.MaxPageSize != 10 {
		t.Errorf("Pagination defaults = %d/%d, want 10/10",
			cfg.Pagination.DefaultPageSize, cfg.Pagination.MaxPageSize)
	}
	if cfg.Analytics.DefaultWindowMinutes != 60 {
		t.Errorf("Analytics.DefaultWindowMinutes = %d, want 60", cfg.Analytics.DefaultWindowMinutes)
	}
	if cfg.Database.ThreadCount != runtime.NumCPU() {
		t.Errorf("Database.ThreadCount = %d, want %d", cfg.Database.ThreadCount, runtime.NumCPU())
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	chdirTemp(t)

	os.Setenv("DATALAKE_SERVER_PORT", "9100")
	os.Setenv("DATALAKE_TABLESTORE_DRIVER", "sqlite")
	os.Setenv("DATALAKE_QUERY_SOURCE_TIMEOUT", "5")
	defer func() {
		os.Unsetenv("DATALAKE_SERVER_PORT")
		os.Unsetenv("DATALAKE_TABLESTORE_DRIVER")
		os.Unsetenv("DATALAKE_QUERY_SOURCE_TIMEOUT")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100 (from env)", cfg.Server.Port)
	}
	if cfg.TableStore.Driver != "sqlite" {
		t.Errorf("TableStore.Driver = %s, want sqlite (from env)", cfg.TableStore.Driver)
	}
	if cfg.Query.SourceTimeout != 5 {
		t.Errorf("Query.SourceTimeout = %d, want 5 (from env)", cfg.Query.SourceTimeout)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"16MB", 16 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"100KB", 100 * 1024, false},
		{"512B", 512, false},
		{"1024", 1024, false},
		{"1.5GB", int64(1.5 * 1024 * 1024 * 1024), false},
		{" 2 MB ", 2 * 1024 * 1024, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1TB", 0, true},
		{"-5MB", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestServerConfig_ValidateTLS_Disabled(t *testing.T) {
	cfg := &ServerConfig{TLSEnabled: false}
	if err := cfg.ValidateTLS(); err != nil {
		t.Errorf("ValidateTLS() with TLS disabled = %v, want nil", err)
	}
}

func TestServerConfig_ValidateTLS_MissingFiles(t *testing.T) {
	cfg := &ServerConfig{TLSEnabled: true}
	err := cfg.ValidateTLS()
	if err == nil || !strings.Contains(err.Error(), "tls_cert_file") {
		t.Errorf("ValidateTLS() = %v, want missing cert file error", err)
	}

	cfg.TLSCertFile = "/nonexistent/cert.pem"
	err = cfg.ValidateTLS()
	if err == nil || !strings.Contains(err.Error(), "tls_key_file") {
		t.Errorf("ValidateTLS() = %v, want missing key file error", err)
	}

	cfg.TLSKeyFile = "/nonexistent/key.pem"
	err = cfg.ValidateTLS()
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("ValidateTLS() = %v, want not-found error", err)
	}
}

func TestServerConfig_ValidateTLS_ValidFiles(t *testing.T) {
	tmpDir := t.TempDir()
	certFile := filepath.Join(tmpDir, "cert.pem")
	keyFile := filepath.Join(tmpDir, "key.pem")
	for _, f := range []string{certFile, keyFile} {
		if err := os.WriteFile(f, []byte("dummy"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	cfg := &ServerConfig{TLSEnabled: true, TLSCertFile: certFile, TLSKeyFile: keyFile}
	if err := cfg.ValidateTLS(); err != nil {
		t.Errorf("ValidateTLS() with valid files = %v, want nil", err)
	}
}
