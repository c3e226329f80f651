// Package config loads mediacache settings from the environment.
//
// Every variable carries the MEDIACACHE_ prefix. A .env file in the working
// directory, or the file named by MEDIACACHE_ENV_FILE, is loaded first;
// variables already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/jonwraymond/mediacache/blobstore"
	"github.com/jonwraymond/mediacache/observe"
)

// Prefix is prepended to every variable name.
const Prefix = "MEDIACACHE_"

// Sentinel errors for configuration.
var (
	ErrInvalidTTL     = errors.New("config: ttl must be positive")
	ErrInvalidDriver  = errors.New("config: unknown storage driver")
	ErrInvalidLevel   = errors.New("config: unknown log level")
	ErrMissingPath    = errors.New("config: storage path required")
	ErrMissingAddress = errors.New("config: storage address required")
)

// Config is the full mediacache configuration.
type Config struct {
	// TTL is how long a result set stays fresh.
	TTL time.Duration `env:"TTL" envDefault:"15m"`

	// BlobName is the storage name of the cache image.
	BlobName string `env:"BLOB_NAME" envDefault:"media-cache"`

	// ErrorMessage is shown for a query whose refresh failed.
	ErrorMessage string `env:"ERROR_MESSAGE"`

	// MaxBackground bounds concurrent background refreshes.
	MaxBackground int `env:"MAX_BACKGROUND" envDefault:"4"`

	// Token is the bearer token, possibly a secret reference.
	Token string `env:"TOKEN"`

	API       APIConfig       `envPrefix:"API_"`
	Storage   StorageConfig   `envPrefix:"STORAGE_"`
	Log       LogConfig       `envPrefix:"LOG_"`
	Telemetry TelemetryConfig `envPrefix:"OTEL_"`
	Health    HealthConfig    `envPrefix:"HEALTH_"`
}

// APIConfig configures the media API transport.
type APIConfig struct {
	BaseURL      string        `env:"BASE_URL" envDefault:"http://localhost/api/v1"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"10s"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	MaxFailures  int           `env:"MAX_FAILURES" envDefault:"5"`
	ResetTimeout time.Duration `env:"RESET_TIMEOUT" envDefault:"30s"`
	RateLimit    float64       `env:"RATE_LIMIT"`
	RateBurst    int           `env:"RATE_BURST" envDefault:"5"`
}

// StorageConfig selects and configures the durable store.
type StorageConfig struct {
	Driver        string `env:"DRIVER" envDefault:"file"`
	Path          string `env:"PATH"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"mediacache:"`
	S3Endpoint    string `env:"S3_ENDPOINT"`
	S3Region      string `env:"S3_REGION"`
	S3Bucket      string `env:"S3_BUCKET"`
	S3AccessKey   string `env:"S3_ACCESS_KEY"`
	S3SecretKey   string `env:"S3_SECRET_KEY"`
	S3Prefix      string `env:"S3_PREFIX" envDefault:"mediacache"`
	S3UseSSL      bool   `env:"S3_USE_SSL"`
	S3PathStyle   bool   `env:"S3_PATH_STYLE" envDefault:"true"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`
}

// TelemetryConfig configures tracing and metrics.
type TelemetryConfig struct {
	ServiceName     string  `env:"SERVICE_NAME" envDefault:"mediacache"`
	TracesExporter  string  `env:"TRACES_EXPORTER" envDefault:"none"`
	MetricsExporter string  `env:"METRICS_EXPORTER" envDefault:"none"`
	SamplePct       float64 `env:"SAMPLE_PCT" envDefault:"1"`
}

// HealthConfig configures the health endpoints.
type HealthConfig struct {
	Addr           string  `env:"ADDR" envDefault:":8080"`
	StaleThreshold float64 `env:"STALE_THRESHOLD" envDefault:"0.5"`
}

// Load reads the optional env file, then the process environment.
func Load() (*Config, error) {
	if err := loadEnvFile(os.Getenv(Prefix + "ENV_FILE")); err != nil {
		return nil, err
	}
	return Parse(nil)
}

// Parse builds a Config from environ, or from the process environment when
// environ is nil, and validates it.
func Parse(environ map[string]string) (*Config, error) {
	var cfg Config
	opts := env.Options{Prefix: Prefix, Environment: environ}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultPath(cfg.Storage.Driver)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultPath returns the per-user location for the file and sqlite
// drivers, or "" for the others.
func DefaultPath(driver string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	switch driver {
	case blobstore.DriverFile:
		return filepath.Join(dir, "mediacache")
	case blobstore.DriverSQLite:
		return filepath.Join(dir, "mediacache", "cache.db")
	}
	return ""
}

func loadEnvFile(name string) error {
	explicit := name != ""
	if !explicit {
		name = ".env"
	}
	err := godotenv.Load(name)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("config: load %s: %w", name, err)
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	if c.TTL <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTTL, c.TTL)
	}
	if !slices.Contains(blobstore.ValidDrivers, c.Storage.Driver) {
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.Storage.Driver)
	}
	if !slices.Contains(observe.ValidLogLevels, c.Log.Level) {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, c.Log.Level)
	}
	switch c.Storage.Driver {
	case blobstore.DriverFile, blobstore.DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: driver %s", ErrMissingPath, c.Storage.Driver)
		}
	case blobstore.DriverRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("%w: driver %s", ErrMissingAddress, c.Storage.Driver)
		}
	case blobstore.DriverS3:
		if c.Storage.S3Endpoint == "" || c.Storage.S3Bucket == "" {
			return fmt.Errorf("%w: driver %s needs endpoint and bucket", ErrMissingAddress, c.Storage.Driver)
		}
	}
	return nil
}

// BlobStore returns the blobstore configuration.
func (c *Config) BlobStore() blobstore.Config {
	s := c.Storage
	return blobstore.Config{
		Driver: s.Driver,
		Path:   s.Path,
		Redis: blobstore.RedisConfig{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
			Prefix:   s.RedisPrefix,
		},
		S3: blobstore.S3Config{
			Endpoint:  s.S3Endpoint,
			AccessKey: s.S3AccessKey,
			SecretKey: s.S3SecretKey,
			Bucket:    s.S3Bucket,
			Region:    s.S3Region,
			Prefix:    s.S3Prefix,
			UseSSL:    s.S3UseSSL,
			PathStyle: s.S3PathStyle,
		},
	}
}

// Observe returns the telemetry configuration.
func (c *Config) Observe(version string) observe.Config {
	t := c.Telemetry
	return observe.Config{
		ServiceName: t.ServiceName,
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   t.TracesExporter != "none",
			Exporter:  t.TracesExporter,
			SamplePct: t.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  t.MetricsExporter != "none",
			Exporter: t.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.Log.Level,
		},
	}
}
