package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverFile     = "file"
	StoreDriverPostgres = "postgres"
)

// Config holds the backend settings.
type Config struct {
	ServerPort string
	ServerHost string
	StaticDir  string

	// Document store
	StoreDriver   string
	DBPath        string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBSSLMode     string
	RevisionsKeep int

	// PUT /api/data
	AdminPassword string
	MaxBodyBytes  int64

	// Change channel fan-out across replicas, disabled when empty
	RedisAddr    string
	RedisChannel string

	// Observability
	JaegerEndpoint   string
	TraceSampleRatio float64
}

// ClientConfig holds the display/admin client settings.
type ClientConfig struct {
	ServerURL     string
	AdminPassword string

	CachePath  string
	CacheSlot  string
	CacheLimit int

	// How often other processes' edits to the cache file are picked up
	SiblingInterval time.Duration

	PollInterval     time.Duration
	DebounceInterval time.Duration
	PushTimeout      time.Duration

	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort: getEnv("SERVER_PORT", "5174"),
		ServerHost: getEnv("SERVER_HOST", "0.0.0.0"),
		StaticDir:  getEnv("STATIC_DIR", "./dist"),

		StoreDriver:   getEnv("STORE_DRIVER", StoreDriverFile),
		DBPath:        getEnv("DB_PATH", "db.json"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "room_panel"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		RevisionsKeep: getEnvInt("REVISIONS_KEEP", 100),

		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		MaxBodyBytes:  int64(getEnvInt("MAX_BODY_BYTES", 10*1024*1024)),

		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisChannel: getEnv("REDIS_CHANNEL", "room-panel:data"),

		JaegerEndpoint:   getEnv("JAEGER_ENDPOINT", ""),
		TraceSampleRatio: getEnvFloat("TRACE_SAMPLE_RATIO", 1.0),
	}

	switch cfg.StoreDriver {
	case StoreDriverFile, StoreDriverPostgres:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverFile, StoreDriverPostgres, cfg.StoreDriver)
	}
	if cfg.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("MAX_BODY_BYTES must be positive")
	}

	return cfg, nil
}

// LoadClient reads the panel client settings.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{
		ServerURL:     getEnv("PANEL_SERVER_URL", "http://localhost:5174"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		CachePath:  getEnv("PANEL_CACHE_PATH", "panel-cache.db"),
		CacheSlot:  getEnv("PANEL_CACHE_SLOT", "roomPanelData"),
		CacheLimit: getEnvInt("PANEL_CACHE_LIMIT", 5*1024*1024),

		SiblingInterval: getEnvDuration("PANEL_SIBLING_INTERVAL", 250*time.Millisecond),

		PollInterval:     getEnvDuration("PANEL_POLL_INTERVAL", 5*time.Second),
		DebounceInterval: getEnvDuration("PANEL_DEBOUNCE", 500*time.Millisecond),
		PushTimeout:      getEnvDuration("PANEL_PUSH_TIMEOUT", 10*time.Second),

		ReconnectMin: getEnvDuration("PANEL_RECONNECT_MIN", 500*time.Millisecond),
		ReconnectMax: getEnvDuration("PANEL_RECONNECT_MAX", 30*time.Second),
	}

	if cfg.PollInterval <= 0 || cfg.DebounceInterval <= 0 {
		return nil, fmt.Errorf("PANEL_POLL_INTERVAL and PANEL_DEBOUNCE must be positive")
	}
	if cfg.ReconnectMin <= 0 || cfg.ReconnectMax < cfg.ReconnectMin {
		return nil, fmt.Errorf("invalid reconnect window %s..%s", cfg.ReconnectMin, cfg.ReconnectMax)
	}

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("5s") or plain milliseconds ("500").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
