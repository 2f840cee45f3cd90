// Package telemetry provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for pipewright runs.
package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for a pipewright process.
type Config struct {
	// ServiceName identifies this service in traces and metrics.
	ServiceName string

	// ServiceVersion is the build version.
	ServiceVersion string

	// Logging configures structured logging.
	Logging LoggingConfig

	// Metrics configures Prometheus metrics.
	Metrics MetricsConfig

	// Tracing configures OpenTelemetry tracing.
	Tracing TracingConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level"`

	// Format specifies the log format (console, json).
	Format string `yaml:"format"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `yaml:"output"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address for the metrics HTTP endpoint.
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path for metrics.
	Path string `yaml:"path"`

	// Namespace is the metrics namespace prefix.
	Namespace string `yaml:"namespace"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool `yaml:"enabled"`

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP exporter endpoint.
	Endpoint string `yaml:"endpoint"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate"`

	// ExportTimeout bounds each trace export.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `yaml:"insecure"`
}

// DefaultConfig returns the telemetry configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "pipewright",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9464",
			Path:          "/metrics",
			Namespace:     "pipewright",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
		},
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Logging.Format)
	}
	switch c.Tracing.Exporter {
	case "", "otlp", "stdout", "none":
	default:
		return fmt.Errorf("unsupported trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be within [0, 1]: %f", c.Tracing.SamplingRate)
	}
	return nil
}
