package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// RenderConfig sizes the thumbnail cache and its worker pool.
type RenderConfig struct {
	Workers      int
	MaxBytes     int64
	MaxEntries   int
	DefaultScale float64
	JPEGQuality  int
	WorkDir      string
}

// PreviewConfig controls the Redis preview tier.
type PreviewConfig struct {
	Enabled  bool
	RedisURL string
	TTL      time.Duration
	Prefix   string
}

// StorageConfig defines export destinations and S3 access.
type StorageConfig struct {
	ExportDir       string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	AccessKeyID     string
	SecretAccessKey string
	// Password seals uploaded objects and opens sealed downloads; empty
	// means plain objects.
	Password    string
	HTTPTimeout time.Duration
	// ImportRoot confines local document references; empty allows any path.
	ImportRoot string
	// ConfineExports keeps local exports inside ExportDir.
	ConfineExports bool
}

// AssetsConfig locates stamp images.
type AssetsConfig struct {
	StampDir string
}

// ServerConfig defines the host API listener.
type ServerConfig struct {
	// Host is the listen address; the API has no authentication, so it
	// defaults to loopback.
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	MaxUploadMB     int
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Render  RenderConfig
	Preview PreviewConfig
	Storage StorageConfig
	Assets  AssetsConfig
	Server  ServerConfig
}

// Load seeds the environment from .env files (missing files are ignored)
// and then reads it with FromEnv. Variables already set win.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
	return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pagedesk.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pagedesk",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Render = RenderConfig{
		Workers:      parseInt(getEnv("RENDER_WORKERS", "4"), 4),
		MaxBytes:     int64(parseInt(getEnv("RENDER_CACHE_MAX_MB", "256"), 256)) << 20,
		MaxEntries:   parseInt(getEnv("RENDER_CACHE_MAX_ENTRIES", "512"), 512),
		DefaultScale: parseFloat(getEnv("RENDER_DEFAULT_SCALE", "0.25"), 0.25),
		JPEGQuality:  parseInt(getEnv("RENDER_JPEG_QUALITY", "85"), 85),
		WorkDir:      getEnv("RENDER_WORK_DIR", ""),
	}
	if cfg.Render.Workers < 1 {
		cfg.Render.Workers = 1
	}
	if cfg.Render.DefaultScale <= 0 {
		cfg.Render.DefaultScale = 0.25
	}

	cfg.Preview = PreviewConfig{
		Enabled:  parseBool(getEnv("PREVIEW_CACHE_ENABLED", "0")),
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
		TTL:      parseDuration(getEnv("PREVIEW_CACHE_TTL", "1h"), time.Hour),
		Prefix:   getEnv("PREVIEW_CACHE_PREFIX", "pagedesk:preview"),
	}

	cfg.Storage = StorageConfig{
		ExportDir:       getEnv("EXPORT_DIR", "exports"),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Region:        getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		Password:        getEnv("STORAGE_PASSWORD", ""),
		HTTPTimeout:     parseDuration(getEnv("FETCH_TIMEOUT", "60s"), 60*time.Second),
		ImportRoot:      getEnv("IMPORT_ROOT", ""),
		ConfineExports:  parseBool(getEnv("EXPORT_CONFINE", "true")),
	}

	cfg.Assets = AssetsConfig{
		StampDir: getEnv("STAMP_DIR", ""),
	}

	cfg.Server = ServerConfig{
		Host:            getEnv("HOST", "127.0.0.1"),
		Port:            parseInt(getEnv("PORT", "8080"), 8080),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "15s"), 15*time.Second),
		MaxUploadMB:     parseInt(getEnv("MAX_UPLOAD_MB", "200"), 200),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
