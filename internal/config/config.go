package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr         string
	NSQDAddress      string
	NSQEventChannel  string
	NSQMaxInFlight   int
	RunConsumers     bool
	PostgresURL      string
	EmbeddedDataDir  string
	EmbeddedMaxOpen  int
	DefaultDBAdapter string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	SiteCacheTTL     time.Duration
	GeoIPCityMMDB    string
	QueryTimeout     time.Duration
	IngestBatchSize  int
	IngestFlushEvery time.Duration
	LogLevel         string
	LogFormat        string
	MaintenanceMode  bool
}

// source resolves a key from the environment first and the optional YAML
// file second.
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(s.file[key])
}

func (s source) getDefault(key, defaultValue string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return defaultValue
}

// loadFile reads a flat YAML mapping of the same keys as the environment.
func loadFile(path string) (map[string]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse CONFIG_FILE: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(k))] = fmt.Sprint(v)
	}
	return out, nil
}

func FromEnv() (Config, error) {
	file, err := loadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return Config{}, err
	}
	src := source{file: file}

	cfg := Config{
		HTTPAddr:         src.getDefault("HTTP_ADDR", ":8080"),
		NSQDAddress:      src.getDefault("NSQD_ADDRESS", "127.0.0.1:4150"),
		NSQEventChannel:  src.getDefault("NSQ_EVENT_CHANNEL", "event-consumer"),
		NSQMaxInFlight:   parseIntDefault(src.get("NSQ_MAX_IN_FLIGHT"), 200),
		PostgresURL:      src.get("POSTGRES_URL"),
		EmbeddedDataDir:  src.get("EMBEDDED_DATA_DIR"),
		EmbeddedMaxOpen:  parseIntDefault(src.get("EMBEDDED_MAX_OPEN"), 256),
		DefaultDBAdapter: src.getDefault("DEFAULT_DB_ADAPTER", "embedded"),
		RedisAddr:        src.get("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          parseIntDefault(src.get("REDIS_DB"), 0),
		SiteCacheTTL:     parseDurationDefault(src.get("SITE_CACHE_TTL"), 10*time.Minute),
		GeoIPCityMMDB:    src.get("GEOIP_CITY_MMDB"),
		QueryTimeout:     parseDurationDefault(src.get("QUERY_TIMEOUT"), 15*time.Second),
		IngestBatchSize:  parseIntDefault(src.get("INGEST_BATCH_SIZE"), 200),
		IngestFlushEvery: parseDurationDefault(src.get("INGEST_FLUSH_INTERVAL"), 200*time.Millisecond),
		LogLevel:         src.getDefault("LOG_LEVEL", "info"),
		LogFormat:        src.getDefault("LOG_FORMAT", "text"),
		MaintenanceMode:  parseBoolDefault(src.get("MAINTENANCE_MODE"), false),
		RunConsumers:     parseBoolDefault(src.get("RUN_CONSUMERS"), true),
	}
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = file["REDIS_PASSWORD"]
	}

	if cfg.NSQDAddress == "" {
		return Config{}, errors.New("NSQD_ADDRESS is required")
	}
	if cfg.NSQMaxInFlight <= 0 {
		return Config{}, errors.New("NSQ_MAX_IN_FLIGHT must be positive")
	}
	if cfg.IngestBatchSize <= 0 {
		return Config{}, errors.New("INGEST_BATCH_SIZE must be positive")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	return cfg, nil
}

func parseBoolDefault(value string, defaultValue bool) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseIntDefault(value string, defaultValue int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationDefault(value string, defaultValue time.Duration) time.Duration {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func (c Config) String() string {
	return fmt.Sprintf(
		"http=%s nsqd=%s consumers=%v channel=%s pg=%s embedded=%s default_adapter=%s redis=%s geoip=%v maintenance=%v log=%s/%s",
		c.HTTPAddr,
		c.NSQDAddress,
		c.RunConsumers,
		c.NSQEventChannel,
		redactPostgresURL(c.PostgresURL),
		embeddedMode(c.EmbeddedDataDir),
		c.DefaultDBAdapter,
		redactRedis(c.RedisAddr),
		c.GeoIPCityMMDB != "",
		c.MaintenanceMode,
		c.LogLevel,
		c.LogFormat,
	)
}

func embeddedMode(dir string) string {
	if dir == "" {
		return "<memory>"
	}
	return dir
}

func redactPostgresURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "<none>"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<set>"
	}
	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	host := u.Host
	db := strings.TrimPrefix(u.Path, "/")
	if user == "" && host == "" && db == "" {
		return "<set>"
	}
	if user == "" {
		user = "?"
	}
	if host == "" {
		host = "?"
	}
	if db == "" {
		db = "?"
	}
	return fmt.Sprintf("%s@%s/%s", user, host, db)
}

func redactRedis(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "<none>"
	}
	return addr
}
