package ingest

import (
	"fmt"
	"time"

	"feedflow/internal/core"
	"feedflow/internal/features/ingest/models"
	"feedflow/internal/features/ingest/services"

	"github.com/robfig/cron/v3"
)

// Config represents ingest feature configuration
type Config struct {
	core.IngestConfig
}

// NewConfig creates ingest config from core config
func NewConfig(coreConfig *core.Config) *Config {
	return &Config{IngestConfig: coreConfig.Features.Ingest}
}

// Validate validates the ingest configuration
func (c *Config) Validate() error {
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid ingest schedule %q: %w", c.Schedule, err)
	}

	if c.MaxWorkers < 1 || c.MaxWorkers > 50 {
		return fmt.Errorf("max workers must be between 1 and 50")
	}

	if c.JobTimeout < time.Second {
		return fmt.Errorf("job timeout must be at least 1s")
	}

	if c.RequestTimeout <= 0 || c.RequestTimeout > c.JobTimeout {
		return fmt.Errorf("request timeout must be positive and no longer than the job timeout")
	}

	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return fmt.Errorf("max attempts must be between 1 and 10")
	}

	if c.MaxRedirects < 0 || c.MaxRedirects > 20 {
		return fmt.Errorf("max redirects must be between 0 and 20")
	}

	if c.MinUpdateFrequency < 60 {
		return fmt.Errorf("minimum update frequency must be at least 60 seconds")
	}

	if c.DefaultUpdateFrequency < c.MinUpdateFrequency || c.DefaultUpdateFrequency > 7*86400 {
		return fmt.Errorf("default update frequency must be between the minimum and 604800 seconds")
	}

	if c.ExcerptLength < 20 {
		return fmt.Errorf("excerpt length must be at least 20")
	}

	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("max body bytes must be at least 1024")
	}

	return nil
}

// FetcherConfig maps the settings onto the fetcher
func (c *Config) FetcherConfig() *models.FetcherConfig {
	return &models.FetcherConfig{
		UserAgent:     c.UserAgent,
		Timeout:       c.RequestTimeout,
		MaxRedirects:  c.MaxRedirects,
		HostSpacing:   c.HostSpacing,
		MaxAttempts:   c.MaxAttempts,
		RetryInterval: c.RetryInterval,
		MaxBodyBytes:  c.MaxBodyBytes,
	}
}

// SchedulerConfig maps the settings onto the scheduler
func (c *Config) SchedulerConfig() *models.SchedulerConfig {
	sc := models.DefaultSchedulerConfig()
	sc.Schedule = c.Schedule
	sc.MaxWorkers = c.MaxWorkers
	sc.JobTimeout = c.JobTimeout
	sc.MinUpdateFrequency = c.MinUpdateFrequency
	return sc
}

// IngesterConfig maps the settings onto a single job
func (c *Config) IngesterConfig() services.IngesterConfig {
	return services.IngesterConfig{
		ExcerptLength:      c.ExcerptLength,
		ExtractFullContent: c.ExtractFullContent,
		MaxExtractPerJob:   c.MaxExtractPerJob,
	}
}
