package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "HTTP_ADDR", "NSQD_ADDRESS", "NSQ_EVENT_CHANNEL", "NSQ_MAX_IN_FLIGHT",
		"RUN_CONSUMERS", "POSTGRES_URL", "EMBEDDED_DATA_DIR", "EMBEDDED_MAX_OPEN",
		"DEFAULT_DB_ADAPTER", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "SITE_CACHE_TTL",
		"GEOIP_CITY_MMDB", "QUERY_TIMEOUT", "INGEST_BATCH_SIZE", "INGEST_FLUSH_INTERVAL",
		"LOG_LEVEL", "LOG_FORMAT", "MAINTENANCE_MODE",
	} {
		t.Setenv(k, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.NSQDAddress != "127.0.0.1:4150" || cfg.NSQEventChannel != "event-consumer" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.RunConsumers || cfg.NSQMaxInFlight != 200 || cfg.EmbeddedMaxOpen != 256 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DefaultDBAdapter != "embedded" || cfg.SiteCacheTTL != 10*time.Minute || cfg.QueryTimeout != 15*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.LogFormat != "text" || cfg.LogLevel != "info" || cfg.MaintenanceMode {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("RUN_CONSUMERS", "false")
	t.Setenv("POSTGRES_URL", "postgres://u:p@db:5432/sitetap")
	t.Setenv("EMBEDDED_DATA_DIR", "/var/lib/sitetap")
	t.Setenv("QUERY_TIMEOUT", "2s")
	t.Setenv("INGEST_BATCH_SIZE", "50")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.HTTPAddr != ":9999" || cfg.RunConsumers || cfg.QueryTimeout != 2*time.Second || cfg.IngestBatchSize != 50 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	s := cfg.String()
	if strings.Contains(s, ":p@") || !strings.Contains(s, "u@db:5432/sitetap") || !strings.Contains(s, "/var/lib/sitetap") {
		t.Fatalf("String()=%q", s)
	}
}

func TestFromEnv_Validation(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_FORMAT", "xml")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for LOG_FORMAT=xml")
	}

	clearEnv(t)
	t.Setenv("NSQ_MAX_IN_FLIGHT", "-3")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for negative NSQ_MAX_IN_FLIGHT")
	}

	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for missing CONFIG_FILE")
	}
}

func TestFromEnv_FileOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sitetap.yaml")
	doc := "http_addr: \":7070\"\nREDIS_ADDR: cache:6379\nREDIS_DB: 3\nRUN_CONSUMERS: false\nSITE_CACHE_TTL: 1m\nREDIS_PASSWORD: secret\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("REDIS_DB", "5")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.HTTPAddr != ":7070" || cfg.RedisAddr != "cache:6379" || cfg.RunConsumers || cfg.SiteCacheTTL != time.Minute {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.RedisDB != 5 {
		t.Fatalf("environment should win over file, got REDIS_DB=%d", cfg.RedisDB)
	}
	if cfg.RedisPassword != "secret" {
		t.Fatalf("password from file not applied")
	}
}

func TestHelpers_ParseAndRedact(t *testing.T) {
	if parseBoolDefault("not-bool", true) != true {
		t.Fatalf("expected parseBoolDefault fallback")
	}
	if parseIntDefault("not-int", 7) != 7 {
		t.Fatalf("expected parseIntDefault fallback")
	}
	if parseDurationDefault("-1s", 3*time.Second) != 3*time.Second {
		t.Fatalf("expected parseDurationDefault fallback for non-positive")
	}
	if parseDurationDefault("bad", 3*time.Second) != 3*time.Second {
		t.Fatalf("expected parseDurationDefault fallback for invalid")
	}

	if got := redactPostgresURL(""); got != "<none>" {
		t.Fatalf("expected <none>, got %q", got)
	}
	if got := redactPostgresURL("http://bad url"); got != "<set>" {
		t.Fatalf("expected <set> for invalid url, got %q", got)
	}
	if got := redactPostgresURL("postgres://u:p@host:5432/db?sslmode=disable"); got != "u@host:5432/db" {
		t.Fatalf("unexpected redaction: %q", got)
	}
	if got := redactRedis(" "); got != "<none>" {
		t.Fatalf("expected <none>, got %q", got)
	}
}
