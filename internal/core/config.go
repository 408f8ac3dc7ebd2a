package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the main configuration for FeedFlow
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Auth     AuthConfig     `json:"auth"`
	Log      LogConfig      `json:"log"`
	Features FeatureConfig  `json:"features"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// AuthConfig contains authentication-related configuration
type AuthConfig struct {
	CronSecret string `json:"-"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `json:"level"`
}

// FeatureConfig contains feature-specific configuration
type FeatureConfig struct {
	Ingest IngestConfig `json:"ingest"`
}

// IngestConfig contains content ingestion configuration
type IngestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`

	MaxWorkers int           `json:"max_workers"`
	JobTimeout time.Duration `json:"job_timeout"`

	UserAgent      string        `json:"user_agent"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxRedirects   int           `json:"max_redirects"`
	HostSpacing    time.Duration `json:"host_spacing"`
	MaxAttempts    int           `json:"max_attempts"`
	RetryInterval  time.Duration `json:"retry_interval"`
	MaxBodyBytes   int64         `json:"max_body_bytes"`

	ExcerptLength  int `json:"excerpt_length"`
	WordsPerMinute int `json:"words_per_minute"`

	MinUpdateFrequency     int `json:"min_update_frequency"`
	DefaultUpdateFrequency int `json:"default_update_frequency"`

	ExtractFullContent bool `json:"extract_full_content"`
	MaxExtractPerJob   int  `json:"max_extract_per_job"`
	GlobalDedup        bool `json:"global_dedup"`

	SourcesFile    string   `json:"sources_file"`
	TrackingParams []string `json:"tracking_params"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("FEEDFLOW_PORT", 4000),
			Host: getEnvOrDefault("FEEDFLOW_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Path: getEnvOrDefault("FEEDFLOW_DB_PATH", "./feedflow.db"),
		},
		Auth: AuthConfig{
			CronSecret: getEnvOrDefault("FEEDFLOW_CRON_SECRET", ""),
		},
		Log: LogConfig{
			Level: getEnvOrDefault("FEEDFLOW_LOG_LEVEL", "info"),
		},
		Features: FeatureConfig{
			Ingest: IngestConfig{
				Enabled:                getEnvAsBool("FEEDFLOW_ENABLE_INGEST", true),
				Schedule:               getEnvOrDefault("FEEDFLOW_INGEST_SCHEDULE", "@every 5m"),
				MaxWorkers:             getEnvAsInt("FEEDFLOW_INGEST_WORKERS", 5),
				JobTimeout:             getEnvAsDuration("FEEDFLOW_INGEST_JOB_TIMEOUT", 60*time.Second),
				UserAgent:              getEnvOrDefault("FEEDFLOW_INGEST_USER_AGENT", "Mozilla/5.0 (compatible; FeedFlow/1.0; +https://feedflow.app/bot)"),
				RequestTimeout:         getEnvAsDuration("FEEDFLOW_INGEST_REQUEST_TIMEOUT", 15*time.Second),
				MaxRedirects:           getEnvAsInt("FEEDFLOW_INGEST_MAX_REDIRECTS", 5),
				HostSpacing:            getEnvAsDuration("FEEDFLOW_INGEST_HOST_SPACING", time.Second),
				MaxAttempts:            getEnvAsInt("FEEDFLOW_INGEST_MAX_ATTEMPTS", 4),
				RetryInterval:          getEnvAsDuration("FEEDFLOW_INGEST_RETRY_INTERVAL", 500*time.Millisecond),
				MaxBodyBytes:           int64(getEnvAsInt("FEEDFLOW_INGEST_MAX_BODY_BYTES", 10<<20)),
				ExcerptLength:          getEnvAsInt("FEEDFLOW_INGEST_EXCERPT_LENGTH", 200),
				WordsPerMinute:         getEnvAsInt("FEEDFLOW_INGEST_WORDS_PER_MINUTE", 200),
				MinUpdateFrequency:     getEnvAsInt("FEEDFLOW_INGEST_MIN_FREQUENCY", 300),
				DefaultUpdateFrequency: getEnvAsInt("FEEDFLOW_INGEST_DEFAULT_FREQUENCY", 3600),
				ExtractFullContent:     getEnvAsBool("FEEDFLOW_INGEST_EXTRACT_FULL_CONTENT", false),
				MaxExtractPerJob:       getEnvAsInt("FEEDFLOW_INGEST_MAX_EXTRACT_PER_JOB", 10),
				GlobalDedup:            getEnvAsBool("FEEDFLOW_INGEST_GLOBAL_DEDUP", false),
				SourcesFile:            getEnvOrDefault("FEEDFLOW_SOURCES_FILE", ""),
				TrackingParams:         getEnvAsList("FEEDFLOW_INGEST_TRACKING_PARAMS"),
			},
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigurationError(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	}

	if c.Database.Path == "" {
		return NewConfigurationError("database path is required", nil)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return NewConfigurationError("invalid log level", err)
	}

	return nil
}

// IsFeatureEnabled checks if a feature is enabled
func (c *Config) IsFeatureEnabled(featureName string) bool {
	switch strings.ToLower(featureName) {
	case "ingest":
		return c.Features.Ingest.Enabled
	default:
		return false
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("90s", "5m") or a bare
// number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
