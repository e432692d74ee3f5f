// Package config provides configuration loading and validation for the
// gallery server and worker.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hanvq/facegallery/internal/telemetry"
)

const (
	// DispatchModeQueue enqueues encoding jobs to the durable queue
	DispatchModeQueue = "queue"

	// DispatchModeDirect calls the encoding service synchronously
	DispatchModeDirect = "direct"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Server holds the HTTP listener settings
	Server ServerConfig `yaml:"server,omitempty"`

	// Database holds the catalog database settings
	Database *DatabaseConfig `yaml:"database"`

	// Redis holds the cache and queue backend settings
	Redis RedisConfig `yaml:"redis,omitempty"`

	// Listing holds the remote file-storage listing provider settings
	Listing ListingConfig `yaml:"listing"`

	// Encoder holds the face-encoding service settings
	Encoder EncoderConfig `yaml:"encoder"`

	// Dispatch selects the encoding dispatch strategy
	Dispatch DispatchConfig `yaml:"dispatch,omitempty"`

	// Sync holds reconciliation settings
	Sync SyncConfig `yaml:"sync,omitempty"`

	// Telemetry holds OpenTelemetry exporter settings. Nil disables
	// telemetry.
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	// Address is the listen address, e.g. ":8080"
	Address string `yaml:"address,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// This is the recommended approach for production deployments.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// RedisConfig defines cache and queue backend settings
type RedisConfig struct {
	// Addr is the redis host:port
	Addr string `yaml:"addr,omitempty"`

	// Password is the redis AUTH password
	Password string `yaml:"password,omitempty"`

	// DB is the redis database index
	DB int `yaml:"db,omitempty"`
}

// ListingConfig defines the remote listing provider settings
type ListingConfig struct {
	// Endpoint is the listing API base URL
	Endpoint string `yaml:"endpoint"`

	// APIKeyFile is the path to a file containing the provider API key
	APIKeyFile string `yaml:"apiKeyFile,omitempty"`

	// PageSize overrides the file listing page size (clamped to the
	// provider maximum)
	PageSize int `yaml:"pageSize,omitempty"`

	// IncludeSubfolders controls whether the folder tree walk recurses
	// into child folders. Defaults to true.
	IncludeSubfolders *bool `yaml:"includeSubfolders,omitempty"`
}

// EncoderConfig defines the face-encoding service settings
type EncoderConfig struct {
	// Endpoint is the encoding service base URL
	Endpoint string `yaml:"endpoint"`

	// EncodeTimeout bounds full and incremental encode calls (default "300s")
	EncodeTimeout string `yaml:"encodeTimeout,omitempty"`

	// RemoveTimeout bounds descriptor removal calls (default "60s")
	RemoveTimeout string `yaml:"removeTimeout,omitempty"`

	// StatusTimeout bounds status and descriptor-fetch calls (default "60s")
	StatusTimeout string `yaml:"statusTimeout,omitempty"`
}

// DispatchConfig selects the encoding dispatch strategy
type DispatchConfig struct {
	// Mode is "queue" or "direct". Defaults to "direct".
	Mode string `yaml:"mode,omitempty"`
}

// SyncConfig defines reconciliation settings
type SyncConfig struct {
	// InsertBatchSize is the number of photos per bulk insert statement.
	// Defaults to 100.
	InsertBatchSize int `yaml:"insertBatchSize,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from FACEGALLERY_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv("FACEGALLERY_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or FACEGALLERY_DATABASE_PASSWORD environment variable",
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper
// password handling. The password is URL-escaped to handle special characters.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	escapedPassword := url.QueryEscape(password)

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		escapedPassword,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// GetAPIKey returns the listing provider API key using the following priority:
// 1. Read from APIKeyFile if specified
// 2. Read from FACEGALLERY_LISTING_API_KEY environment variable
func (l *ListingConfig) GetAPIKey() (string, error) {
	if l.APIKeyFile != "" {
		cleanPath := filepath.Clean(l.APIKeyFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read API key from file %s: %w", l.APIKeyFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envKey := os.Getenv("FACEGALLERY_LISTING_API_KEY"); envKey != "" {
		return envKey, nil
	}

	return "", fmt.Errorf(
		"no listing API key configured: set apiKeyFile or FACEGALLERY_LISTING_API_KEY environment variable",
	)
}

// SubfoldersEnabled reports whether folder tree traversal recurses into
// child folders
func (l *ListingConfig) SubfoldersEnabled() bool {
	return l.IncludeSubfolders == nil || *l.IncludeSubfolders
}

// GetMode returns the dispatch mode, defaulting to direct
func (d *DispatchConfig) GetMode() string {
	if d.Mode == "" {
		return DispatchModeDirect
	}
	return d.Mode
}

// GetInsertBatchSize returns the bulk insert batch size, defaulting to 100
func (s *SyncConfig) GetInsertBatchSize() int {
	if s.InsertBatchSize <= 0 {
		return 100
	}
	return s.InsertBatchSize
}

// GetAddress returns the HTTP listen address, defaulting to ":8080"
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return ":8080"
	}
	return s.Address
}

// GetAddr returns the redis address, defaulting to "localhost:6379"
func (r *RedisConfig) GetAddr() string {
	if r.Addr == "" {
		return "localhost:6379"
	}
	return r.Addr
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}

	if c.Listing.Endpoint == "" {
		return fmt.Errorf("listing.endpoint is required")
	}

	if c.Encoder.Endpoint == "" {
		return fmt.Errorf("encoder.endpoint is required")
	}
	for name, value := range map[string]string{
		"encoder.encodeTimeout": c.Encoder.EncodeTimeout,
		"encoder.removeTimeout": c.Encoder.RemoveTimeout,
		"encoder.statusTimeout": c.Encoder.StatusTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a valid duration (e.g., '60s', '5m'): %w", name, err)
		}
	}

	if mode := c.Dispatch.GetMode(); mode != DispatchModeQueue && mode != DispatchModeDirect {
		return fmt.Errorf("dispatch.mode must be %q or %q, got %q",
			DispatchModeQueue, DispatchModeDirect, mode)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

// EncoderTimeouts parses the encoder timeout settings. Empty values yield
// zero durations; the encoder client applies its own defaults.
func (c *Config) EncoderTimeouts() (encode, remove, status time.Duration) {
	encode = parseDurationOrZero(c.Encoder.EncodeTimeout)
	remove = parseDurationOrZero(c.Encoder.RemoveTimeout)
	status = parseDurationOrZero(c.Encoder.StatusTimeout)
	return encode, remove, status
}

func parseDurationOrZero(value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}
