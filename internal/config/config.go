package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the try-on server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	S3       S3Config
	Gemini   GeminiConfig
	Pipeline PipelineConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type S3Config struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// PipelineConfig tunes the try-on job pipeline: worker pool sizing, fetch
// retry pacing, the fast result cache window, and the background sweeps.
type PipelineConfig struct {
	Workers        int
	QueueSize      int
	FetchTimeout   time.Duration
	FetchBackoff   time.Duration
	ResultCacheTTL time.Duration
	StaleAfter     time.Duration
	SweepInterval  time.Duration
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value is
// missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("TRYON_PORT", 8080),
			Env:  envString("TRYON_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		S3: S3Config{
			Region:          envString("AWS_REGION", "us-east-1"),
			Bucket:          os.Getenv("AWS_S3_BUCKET_NAME"),
			Endpoint:        os.Getenv("AWS_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		},
		Gemini: GeminiConfig{
			APIKey:  os.Getenv("GEMINI_API_KEY"),
			BaseURL: envString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
			Model:   envString("GEMINI_MODEL", "gemini-2.5-flash-image"),
			Timeout: envDurationSecs("GEMINI_TIMEOUT_SECS", 60*time.Second),
		},
		Pipeline: PipelineConfig{
			Workers:        envInt("TRYON_WORKERS", 4),
			QueueSize:      envInt("TRYON_QUEUE_SIZE", 64),
			FetchTimeout:   envDuration("TRYON_FETCH_TIMEOUT", 30*time.Second),
			FetchBackoff:   envDuration("TRYON_FETCH_BACKOFF", 1500*time.Millisecond),
			ResultCacheTTL: envDuration("TRYON_RESULT_CACHE_TTL", 30*time.Minute),
			StaleAfter:     envDuration("TRYON_STALE_AFTER", 10*time.Minute),
			SweepInterval:  envDuration("TRYON_SWEEP_INTERVAL", time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.S3.Bucket == "" {
		return fmt.Errorf("AWS_S3_BUCKET_NAME is required")
	}

	if c.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if !strings.HasPrefix(c.Gemini.BaseURL, "http://") && !strings.HasPrefix(c.Gemini.BaseURL, "https://") {
		return fmt.Errorf("GEMINI_BASE_URL must start with http:// or https://, got %q", c.Gemini.BaseURL)
	}

	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("TRYON_WORKERS must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("TRYON_QUEUE_SIZE must be positive, got %d", c.Pipeline.QueueSize)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
