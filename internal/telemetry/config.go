package telemetry

import (
	"errors"
	"fmt"
)

const (
	// DefaultServiceName identifies the gallery server in exported telemetry
	DefaultServiceName = "facegallery"

	// DefaultEndpoint is the default OTLP HTTP collector endpoint
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the default trace sampling rate (5%)
	DefaultSampling = 0.05
)

// Config represents the telemetry configuration section. A nil or disabled
// config yields no-op providers; sync and dispatch instrumentation then
// costs nothing at runtime.
type Config struct {
	// Enabled controls whether telemetry providers are initialized at all
	Enabled bool `yaml:"enabled"`

	// ServiceName overrides the service name reported to the collector.
	// Defaults to "facegallery".
	ServiceName string `yaml:"serviceName,omitempty"`

	// ServiceVersion is the version reported to the collector
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector host:port. The HTTP exporter appends
	// the /v1/traces and /v1/metrics paths itself. Defaults to
	// "localhost:4318".
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure allows plain HTTP to the collector. Development only.
	Insecure bool `yaml:"insecure,omitempty"`

	// Tracing holds tracing-specific settings
	Tracing *TracingConfig `yaml:"tracing,omitempty"`

	// Metrics holds metrics-specific settings
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig defines tracing-specific settings
type TracingConfig struct {
	// Enabled controls whether spans are exported
	Enabled bool `yaml:"enabled"`

	// Sampling is the trace sampling ratio (0.0 to 1.0).
	// Defaults to 0.05.
	Sampling float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig defines metrics-specific settings
type MetricsConfig struct {
	// Enabled controls whether metrics are exported
	Enabled bool `yaml:"enabled"`
}

// GetServiceName returns the service name, defaulting to "facegallery"
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, defaulting to "unknown"
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return "unknown"
	}
	return c.ServiceVersion
}

// GetEndpoint returns the collector endpoint, defaulting to localhost:4318
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetSampling returns the sampling ratio. A zero value means unset and
// yields the default; validate before calling.
func (c *TracingConfig) GetSampling() float64 {
	if c.Sampling == 0.0 {
		return DefaultSampling
	}
	return c.Sampling
}

// Validate checks the telemetry configuration. A nil config is valid and
// means telemetry is disabled.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error

	if c.Tracing != nil {
		if err := c.Tracing.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Validate checks the tracing configuration
func (c *TracingConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	if c.Sampling < 0 || c.Sampling > 1.0 {
		return fmt.Errorf("sampling must be between 0.0 and 1.0, got %f", c.Sampling)
	}

	return nil
}

// Validate checks the metrics configuration
func (c *MetricsConfig) Validate() error {
	return nil
}
