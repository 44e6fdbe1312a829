package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Data source kinds
const (
	SourceHTTP     = "http"
	SourceDatabase = "database"
)

// Export sink kinds
const (
	SinkFile = "file"
	SinkS3   = "s3"
)

// Config holds all console configuration
type Config struct {
	App      AppConfig
	Source   SourceConfig
	Remote   RemoteConfig
	Auth     AuthConfig
	Database DatabaseConfig
	Log      LogConfig
	Listing  ListingConfig
	Export   ExportConfig
	Storage  StorageConfig
	Notify   NotifyConfig
	Metrics  MetricsConfig
	Tracing  TracingConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// SourceConfig selects the backend the console talks to
type SourceConfig struct {
	Kind string // http, database
}

// RemoteConfig holds settings of the HTTP data source
type RemoteConfig struct {
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	RateLimit  float64 // requests per second, 0 = unlimited
	RateBurst  int
	APIKey     string
}

// AuthConfig holds the operator session token
type AuthConfig struct {
	Token    string
	TenantID string
}

// DatabaseConfig holds settings of the direct-table data source
type DatabaseConfig struct {
	Driver          string // postgres, sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	Path            string // sqlite file
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	LogLevel        string
	SlowThreshold   time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stderr, stdout, or file path
}

// ListingConfig holds list view settings
type ListingConfig struct {
	EntitiesFile   string // optional YAML overrides of entity configurations
	SuccessNotices bool
}

// ExportConfig selects where bulk exports are written
type ExportConfig struct {
	Sink string // file, s3
	Dir  string
}

// StorageConfig holds S3-compatible object storage settings
type StorageConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
}

// NotifyConfig holds notification center settings
type NotifyConfig struct {
	TTL        time.Duration
	MaxEntries int
}

// MetricsConfig holds the optional prometheus endpoint
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// TracingConfig controls request spans. Ended spans are written to the log.
type TracingConfig struct {
	Enabled       bool
	SamplingRatio float64
}

// Load loads configuration from a TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with CONSOLE_ prefix (e.g., CONSOLE_REMOTE_BASE_URL)
// 2. the file at path, or console.toml found in the working directory
// 3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("console")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/erp-console")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("CONSOLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Source: SourceConfig{
			Kind: v.GetString("source.kind"),
		},
		Remote: RemoteConfig{
			BaseURL:    v.GetString("remote.base_url"),
			APIVersion: v.GetString("remote.api_version"),
			Timeout:    v.GetDuration("remote.timeout"),
			MaxRetries: v.GetInt("remote.max_retries"),
			RetryDelay: v.GetDuration("remote.retry_delay"),
			RateLimit:  v.GetFloat64("remote.rate_limit"),
			RateBurst:  v.GetInt("remote.rate_burst"),
			APIKey:     v.GetString("remote.api_key"),
		},
		Auth: AuthConfig{
			Token:    v.GetString("auth.token"),
			TenantID: v.GetString("auth.tenant_id"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			Path:            v.GetString("database.path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			LogLevel:        v.GetString("database.log_level"),
			SlowThreshold:   v.GetDuration("database.slow_threshold"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Listing: ListingConfig{
			EntitiesFile:   v.GetString("listing.entities_file"),
			SuccessNotices: v.GetBool("listing.success_notices"),
		},
		Export: ExportConfig{
			Sink: v.GetString("export.sink"),
			Dir:  v.GetString("export.dir"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			Prefix:          v.GetString("storage.prefix"),
		},
		Notify: NotifyConfig{
			TTL:        v.GetDuration("notify.ttl"),
			MaxEntries: v.GetInt("notify.max_entries"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Addr:    v.GetString("metrics.addr"),
		},
		Tracing: TracingConfig{
			Enabled:       v.GetBool("tracing.enabled"),
			SamplingRatio: v.GetFloat64("tracing.sampling_ratio"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "erp-console"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = SourceHTTP
	}
	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = "http://localhost:8080"
	}
	if cfg.Remote.APIVersion == "" {
		cfg.Remote.APIVersion = "v1"
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = 30 * time.Second
	}
	if cfg.Remote.RetryDelay == 0 {
		cfg.Remote.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Remote.RateBurst == 0 {
		cfg.Remote.RateBurst = 1
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "marketplace"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "console.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Database.SlowThreshold == 0 {
		cfg.Database.SlowThreshold = 200 * time.Millisecond
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}
	if cfg.Export.Sink == "" {
		cfg.Export.Sink = SinkFile
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = "."
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "exports"
	}
	if cfg.Notify.TTL == 0 {
		cfg.Notify.TTL = 10 * time.Second
	}
	if cfg.Notify.MaxEntries == 0 {
		cfg.Notify.MaxEntries = 100
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9464"
	}
	if cfg.Tracing.Enabled && cfg.Tracing.SamplingRatio == 0 {
		cfg.Tracing.SamplingRatio = 1
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Source.Kind {
	case SourceHTTP:
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("remote.base_url must be an absolute URL, got %q", c.Remote.BaseURL)
		}
	case SourceDatabase:
		if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
			return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("source.kind must be %s or %s, got %q", SourceHTTP, SourceDatabase, c.Source.Kind)
	}

	if c.Remote.MaxRetries < 0 {
		return fmt.Errorf("remote.max_retries cannot be negative")
	}
	if c.Remote.RateLimit < 0 {
		return fmt.Errorf("remote.rate_limit cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
		return fmt.Errorf("tracing.sampling_ratio must be between 0 and 1")
	}

	switch c.Export.Sink {
	case SinkFile:
	case SinkS3:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required when export.sink is s3")
		}
	default:
		return fmt.Errorf("export.sink must be %s or %s, got %q", SinkFile, SinkS3, c.Export.Sink)
	}

	if c.App.Env == "production" && c.Source.Kind == SourceHTTP {
		u, _ := url.Parse(c.Remote.BaseURL)
		if u.Scheme != "https" {
			return fmt.Errorf("remote.base_url must use https in production")
		}
	}
	return nil
}

// DSN returns the PostgreSQL connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
