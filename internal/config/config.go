// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes the settings of the
// data layer: store location, logging, ingestion limits, and the backup
// channel endpoint and keys.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/mkaretsos/go-chat-data/internal/sysutil"
)

// BackupConfig defines the decentralized backup channel settings.
type BackupConfig struct {
	Enabled      bool    // BACKUP_ENABLED
	APIURL       string  // BACKUP_API_URL (aggregate API base, e.g. "https://api2.aleph.im")
	Channel      string  // BACKUP_CHANNEL (message channel name)
	AggregateKey string  // BACKUP_AGGREGATE_KEY (snapshot resource key)
	Challenge    string  // BACKUP_CHALLENGE (fixed message the wallet signs)
	SaveRPS      float64 // BACKUP_SAVE_RPS (saves per second, best-effort shedding above)
	SaveBurst    int     // BACKUP_SAVE_BURST (bucket size, >= 1)
}

// Config holds all configuration values for the data layer.
type Config struct {
	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Store
	StorePath string // SQLite path

	// Ingestion
	IngestConcurrency int // files processed at once per batch (>= 1)

	// Backup
	Backup BackupConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	_ = godotenv.Load() // optional .env, ignored when absent

	cfg := Config{
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		StorePath: getenv("STORE_PATH", "chat-data.db"),

		IngestConcurrency: getint("INGEST_CONCURRENCY", 4),

		Backup: BackupConfig{
			Enabled:      getbool("BACKUP_ENABLED", false),
			APIURL:       getenv("BACKUP_API_URL", "https://api2.aleph.im"),
			Channel:      getenv("BACKUP_CHANNEL", "chat-data"),
			AggregateKey: getenv("BACKUP_AGGREGATE_KEY", "chat-data"),
			Challenge:    getenv("BACKUP_CHALLENGE", "go-chat-data"),
			SaveRPS:      getfloat("BACKUP_SAVE_RPS", 1.0),
			SaveBurst:    getint("BACKUP_SAVE_BURST", 3),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.StorePath) == "" {
		return cfg, errors.New("STORE_PATH must not be empty")
	}
	if cfg.IngestConcurrency < 1 {
		return cfg, errors.New("INGEST_CONCURRENCY must be >= 1")
	}
	if cfg.Backup.Enabled {
		if strings.TrimSpace(cfg.Backup.APIURL) == "" {
			return cfg, errors.New("BACKUP_API_URL must not be empty when backup is enabled")
		}
		if strings.TrimSpace(cfg.Backup.AggregateKey) == "" {
			return cfg, errors.New("BACKUP_AGGREGATE_KEY must not be empty when backup is enabled")
		}
	}
	if cfg.Backup.SaveRPS < 0 {
		return cfg, errors.New("BACKUP_SAVE_RPS must be >= 0")
	}
	if cfg.Backup.SaveBurst < 1 {
		return cfg, errors.New("BACKUP_SAVE_BURST must be >= 1")
	}

	return cfg, nil
}

// NewLogger applies the configured global level and returns the base
// structured logger components derive theirs from.
func (c Config) NewLogger() zerolog.Logger {
	sysutil.SetLogLevel(c.LogLevel)
	if c.LogPretty {
		return zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// ---- env helpers ----

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getbool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return sysutil.IsTruthy(v)
}

func getint(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getfloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}
