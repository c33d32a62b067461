package config

import (
	"errors"
	"fmt"
	"os"
)

// OpenTelemetryConfig configures OTLP/HTTP export of traces and metrics
type OpenTelemetryConfig struct {
	Enabled            bool              `yaml:"enabled" env:"OTEL_ENABLED" env-default:"false"`
	ServiceName        string            `yaml:"serviceName" env:"OTEL_SERVICE_NAME" env-default:"glucose-tray"`
	ServiceVersion     string            `yaml:"serviceVersion" env:"OTEL_SERVICE_VERSION" env-default:"dev"`
	Environment        string            `yaml:"environment" env:"OTEL_ENVIRONMENT" env-default:"desktop"`
	Endpoint           string            `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure           bool              `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"false"`
	Headers            map[string]string `yaml:"headers"`
	ResourceAttributes map[string]string `yaml:"resourceAttributes"`
	Traces             OTelTracesConfig  `yaml:"traces"`
	Metrics            OTelMetricsConfig `yaml:"metrics"`
}

// OTelTracesConfig toggles trace export
type OTelTracesConfig struct {
	Enabled            bool    `yaml:"enabled" env:"OTEL_TRACES_ENABLED" env-default:"true"`
	SamplingRatio      float64 `yaml:"samplingRatio" env:"OTEL_TRACES_SAMPLING_RATIO" env-default:"1.0"`
	BatchTimeoutMillis int     `yaml:"batchTimeoutMillis" env:"OTEL_BSP_SCHEDULE_DELAY" env-default:"5000"`
	MaxExportBatchSize int     `yaml:"maxExportBatchSize" env:"OTEL_BSP_MAX_EXPORT_BATCH_SIZE" env-default:"512"`
}

// OTelMetricsConfig toggles metric export
type OTelMetricsConfig struct {
	Enabled              bool `yaml:"enabled" env:"OTEL_METRICS_ENABLED" env-default:"true"`
	IntervalMillis       int  `yaml:"intervalMillis" env:"OTEL_METRICS_INTERVAL" env-default:"60000"`
	EnableRuntimeMetrics bool `yaml:"enableRuntimeMetrics" env:"OTEL_ENABLE_RUNTIME_METRICS" env-default:"false"`
}

// ResolvedEndpoint is the configured collector endpoint, falling back to the standard
// OTLP environment variable
func (c *OpenTelemetryConfig) ResolvedEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
}

// ValidateOpenTelemetry checks the block when export is enabled
func ValidateOpenTelemetry(cfg *OpenTelemetryConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.ServiceName == "" {
		return errors.New("opentelemetry serviceName is required when enabled")
	}
	if cfg.ResolvedEndpoint() == "" {
		return errors.New("opentelemetry endpoint is required when enabled")
	}
	if !cfg.Traces.Enabled && !cfg.Metrics.Enabled {
		return errors.New("opentelemetry is enabled but both traces and metrics are disabled")
	}

	if cfg.Traces.Enabled {
		if cfg.Traces.SamplingRatio < 0 || cfg.Traces.SamplingRatio > 1 {
			return fmt.Errorf("opentelemetry traces samplingRatio must be within [0, 1], got %v", cfg.Traces.SamplingRatio)
		}
		if cfg.Traces.MaxExportBatchSize < 1 {
			return errors.New("opentelemetry traces maxExportBatchSize must be >= 1")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.IntervalMillis < 1000 {
		return fmt.Errorf("opentelemetry metrics intervalMillis must be at least 1000, got %d", cfg.Metrics.IntervalMillis)
	}

	return nil
}
