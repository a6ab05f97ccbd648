// Package config provides configuration management for the research trend service.
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// AppName names the XDG data and config directories.
const AppName = "trendseer"

// Config holds all configuration for the research trend service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains SQLite store settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// OpenAlex contains the bibliographic source settings.
	OpenAlex OpenAlexConfig `mapstructure:"openalex"`
	// Pipeline contains the task chain parameters.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Schedule contains periodic pipeline run settings.
	Schedule ScheduleConfig `mapstructure:"schedule"`
	// Artifact contains object storage settings for model artifacts.
	Artifact ArtifactConfig `mapstructure:"artifact"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds the publication store configuration.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" opens a shared in-memory store.
	Path string `mapstructure:"path"`
	// BusyTimeout is how long a statement waits on a locked database.
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	// MaxOpenConns caps the connection pool (default: 1, SQLite has a single writer).
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// MigrationAutoRun applies the embedded migrations on startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `mapstructure:"level"`
	// Format is the log output format (json, console, pretty).
	Format string `mapstructure:"format"`
	// Output is the log destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds the caller file and line to log entries.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp layout.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled exposes the Prometheus endpoint.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// OpenAlexConfig holds the OpenAlex client configuration.
type OpenAlexConfig struct {
	// Enabled turns corpus acquisition on.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the optional premium key. Loaded from the environment only.
	APIKey string `mapstructure:"-"`
	// BaseURL is the API root.
	BaseURL string `mapstructure:"base_url"`
	// Email joins the polite pool (mailto parameter). Required when enabled.
	Email string `mapstructure:"email"`
	// Timeout bounds a single HTTP request.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the sustained request rate in requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// Burst is the rate limiter burst size.
	Burst int `mapstructure:"burst"`
	// MaxRetries is the retry count for transient failures.
	MaxRetries int `mapstructure:"max_retries"`
	// PerPage is the page size for /works requests (max 200).
	PerPage int `mapstructure:"per_page"`
	// MaxResults caps the publications fetched per combination and year.
	MaxResults int `mapstructure:"max_results"`
	// FrontierBatchSize is the number of ids resolved per frontier request.
	FrontierBatchSize int `mapstructure:"frontier_batch_size"`
	// FrontierConcurrency bounds parallel frontier requests.
	FrontierConcurrency int `mapstructure:"frontier_concurrency"`
}

// PipelineConfig holds the task chain parameters.
type PipelineConfig struct {
	// Keywords is the default scope string ("k1a,k1b;k2a,k2b").
	Keywords string `mapstructure:"keywords"`
	// YearFrom is the first acquired year.
	YearFrom int `mapstructure:"year_from"`
	// YearTo is the last acquired year.
	YearTo int `mapstructure:"year_to"`
	// Window is the number of years in a time-series input.
	Window int `mapstructure:"window"`
	// Horizon is the number of predicted years.
	Horizon int `mapstructure:"horizon"`
	// Biterms is the number of top-weighted biterms kept per year.
	Biterms int `mapstructure:"biterms"`
	// Candidates is the number of candidate publications kept per year.
	Candidates int `mapstructure:"candidates"`
	// ModelURI locates the prediction model artifact (file path or s3://bucket/key).
	ModelURI string `mapstructure:"model_uri"`
}

// ScheduleConfig holds periodic run configuration.
type ScheduleConfig struct {
	// Enabled turns the cron scheduler on.
	Enabled bool `mapstructure:"enabled"`
	// Cron is a standard five-field cron expression.
	Cron string `mapstructure:"cron"`
	// Scopes lists the scope strings refreshed on each tick.
	Scopes []string `mapstructure:"scopes"`
}

// ArtifactConfig holds object storage settings used to fetch model artifacts.
type ArtifactConfig struct {
	// S3Endpoint overrides the S3 endpoint for S3-compatible stores.
	S3Endpoint string `mapstructure:"s3_endpoint"`
	// S3Region is the bucket region.
	S3Region string `mapstructure:"s3_region"`
	// S3AccessKey is loaded from the environment only.
	S3AccessKey string `mapstructure:"-"`
	// S3SecretKey is loaded from the environment only.
	S3SecretKey string `mapstructure:"-"`
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Years returns the acquisition year range, inclusive.
func (c *PipelineConfig) Years() []int {
	years := make([]int, 0, c.YearTo-c.YearFrom+1)
	for y := c.YearFrom; y <= c.YearTo; y++ {
		years = append(years, y)
	}
	return years
}

// Load reads configuration from .env, the environment, and an optional config.yaml.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the default locations.
func LoadFile(path string) (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v, time.Now())

	v.SetEnvPrefix("TRENDSEER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, AppName))
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if cfg.Pipeline.ModelURI == "" {
		cfg.Pipeline.ModelURI = DefaultModelPath(cfg.Pipeline.Biterms)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets reads credentials exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.OpenAlex.APIKey = os.Getenv("TRENDSEER_OPENALEX_API_KEY")
	cfg.Artifact.S3AccessKey = os.Getenv("TRENDSEER_ARTIFACT_S3_ACCESS_KEY")
	cfg.Artifact.S3SecretKey = os.Getenv("TRENDSEER_ARTIFACT_S3_SECRET_KEY")
}

// DefaultDatabasePath is the store location under the XDG data directory.
func DefaultDatabasePath() string {
	return filepath.Join(xdg.DataHome, AppName, AppName+".db")
}

// DefaultModelPath is the model artifact location for k biterms.
func DefaultModelPath(k int) string {
	return filepath.Join(xdg.DataHome, AppName, "models", fmt.Sprintf("trend_k%d.json", k))
}

// setDefaults configures default values. now anchors the default year range.
func setDefaults(v *viper.Viper, now time.Time) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.path", DefaultDatabasePath())
	v.SetDefault("database.busy_timeout", "5s")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.migration_auto_run", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// OpenAlex defaults
	v.SetDefault("openalex.enabled", true)
	v.SetDefault("openalex.base_url", "https://api.openalex.org")
	v.SetDefault("openalex.email", "")
	v.SetDefault("openalex.timeout", "30s")
	v.SetDefault("openalex.rate_limit", 10.0)
	v.SetDefault("openalex.burst", 10)
	v.SetDefault("openalex.max_retries", 3)
	v.SetDefault("openalex.per_page", 200)
	v.SetDefault("openalex.max_results", 1000)
	v.SetDefault("openalex.frontier_batch_size", 50)
	v.SetDefault("openalex.frontier_concurrency", 4)

	// Pipeline defaults
	lastYear := now.Year() - 1
	v.SetDefault("pipeline.keywords", "")
	v.SetDefault("pipeline.year_from", lastYear-9)
	v.SetDefault("pipeline.year_to", lastYear)
	v.SetDefault("pipeline.window", 5)
	v.SetDefault("pipeline.horizon", 3)
	v.SetDefault("pipeline.biterms", 500)
	v.SetDefault("pipeline.candidates", 50)
	v.SetDefault("pipeline.model_uri", "")

	// Schedule defaults
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.cron", "0 3 * * *")
	v.SetDefault("schedule.scopes", []string{})

	// Artifact defaults
	v.SetDefault("artifact.s3_endpoint", "")
	v.SetDefault("artifact.s3_region", "us-east-1")
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database max_open_conns must be positive")
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.OpenAlex.Enabled {
		if c.OpenAlex.Email == "" {
			return fmt.Errorf("openalex email is required (set TRENDSEER_OPENALEX_EMAIL)")
		}
		if _, err := mail.ParseAddress(c.OpenAlex.Email); err != nil {
			return fmt.Errorf("invalid openalex email %q: %w", c.OpenAlex.Email, err)
		}
		if _, err := url.ParseRequestURI(c.OpenAlex.BaseURL); err != nil {
			return fmt.Errorf("invalid openalex base_url: %w", err)
		}
		if c.OpenAlex.PerPage <= 0 || c.OpenAlex.PerPage > 200 {
			return fmt.Errorf("openalex per_page must be between 1 and 200")
		}
		if c.OpenAlex.RateLimit <= 0 {
			return fmt.Errorf("openalex rate_limit must be positive")
		}
	}

	p := c.Pipeline
	if p.YearFrom > p.YearTo {
		return fmt.Errorf("pipeline year_from (%d) must be <= year_to (%d)", p.YearFrom, p.YearTo)
	}
	if p.Window <= 0 || p.Horizon <= 0 {
		return fmt.Errorf("pipeline window and horizon must be positive")
	}
	if p.YearTo-p.YearFrom+1 < p.Window {
		return fmt.Errorf("pipeline year range must cover at least window (%d) years", p.Window)
	}
	if p.Biterms <= 0 || p.Candidates <= 0 {
		return fmt.Errorf("pipeline biterms and candidates must be positive")
	}

	if c.Schedule.Enabled {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return fmt.Errorf("invalid schedule cron %q: %w", c.Schedule.Cron, err)
		}
		if len(c.Schedule.Scopes) == 0 {
			return fmt.Errorf("schedule requires at least one scope")
		}
	}

	return nil
}
