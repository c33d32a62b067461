package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mjasion/glucose-tray/glucose"
	pkgconfig "github.com/mjasion/glucose-tray/pkg/config"
)

// ErrInvalidConfiguration wraps every validation failure
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Config holds all configuration for the glucose tray
type Config struct {
	Fetch      FetchConfig      `yaml:"fetch"`
	Polling    PollingConfig    `yaml:"polling"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Display    DisplayConfig    `yaml:"display"`
	Health     HealthConfig     `yaml:"health"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Prometheus PrometheusConfig `yaml:"prometheus"`

	Logging       pkgconfig.LoggingConfig       `yaml:"logging"`
	OpenTelemetry pkgconfig.OpenTelemetryConfig `yaml:"opentelemetry"`
	Profiling     pkgconfig.ProfilingConfig     `yaml:"profiling"`
}

// FetchConfig selects and authenticates the glucose source
type FetchConfig struct {
	Method          string  `yaml:"method" env:"FETCH_METHOD" env-default:"dexcom"`
	Unit            string  `yaml:"unit" env:"GLUCOSE_UNIT" env-default:"mg/dL"`
	DexcomUsername  string  `yaml:"dexcomUsername" env:"DEXCOM_USERNAME"`
	DexcomPassword  string  `yaml:"dexcomPassword" env:"DEXCOM_PASSWORD"`
	DexcomServer    string  `yaml:"dexcomServer" env:"DEXCOM_SERVER" env-default:"us"`
	NightscoutURL   string  `yaml:"nightscoutUrl" env:"NIGHTSCOUT_URL"`
	NightscoutToken string  `yaml:"nightscoutToken" env:"NIGHTSCOUT_TOKEN"`
	TimeoutSeconds  float64 `yaml:"timeoutSeconds" env:"FETCH_TIMEOUT_SECONDS" env-default:"30"`
	Attempts        int     `yaml:"attempts" env:"FETCH_ATTEMPTS" env-default:"3"`
}

// PollingConfig controls the loop cadence and failure escalation
type PollingConfig struct {
	IntervalSeconds     int    `yaml:"intervalSeconds" env:"POLL_INTERVAL_SECONDS" env-default:"60"`
	FailurePolicy       string `yaml:"failurePolicy" env:"FAILURE_POLICY" env-default:"fatal"`
	MaxRetries          int    `yaml:"maxRetries" env:"FAILURE_MAX_RETRIES" env-default:"5"`
	RetryInitialSeconds int    `yaml:"retryInitialSeconds" env:"FAILURE_RETRY_INITIAL_SECONDS" env-default:"5"`
	RetryMaxSeconds     int    `yaml:"retryMaxSeconds" env:"FAILURE_RETRY_MAX_SECONDS" env-default:"300"`
}

// ThresholdsConfig holds the alert thresholds in the configured unit
type ThresholdsConfig struct {
	LowBg         float64 `yaml:"lowBg" env:"LOW_BG" env-default:"70"`
	HighBg        float64 `yaml:"highBg" env:"HIGH_BG" env-default:"180"`
	DangerLowBg   float64 `yaml:"dangerLowBg" env:"DANGER_LOW_BG" env-default:"55"`
	DangerHighBg  float64 `yaml:"dangerHighBg" env:"DANGER_HIGH_BG" env-default:"250"`
	CriticalLowBg float64 `yaml:"criticalLowBg" env:"CRITICAL_LOW_BG" env-default:"55"`
}

// DisplayConfig selects the host surface
type DisplayConfig struct {
	Mode  string `yaml:"mode" env:"DISPLAY_MODE" env-default:"tray"`
	AppID string `yaml:"appId" env:"DISPLAY_APP_ID" env-default:"io.github.mjasion.glucosetray"`
}

// HealthConfig controls the local HTTP endpoint; port 0 disables it
type HealthConfig struct {
	Port int `yaml:"port" env:"HEALTH_CHECK_PORT" env-default:"0"`
}

// HeartbeatConfig pings a dead-man's-switch URL while the loop runs; empty URL disables it
type HeartbeatConfig struct {
	URL      string `yaml:"url" env:"HEARTBEAT_URL"`
	Schedule string `yaml:"schedule" env:"HEARTBEAT_SCHEDULE" env-default:"@every 1m"`
}

// PrometheusConfig enables remote-write export of readings; empty URL disables it
type PrometheusConfig struct {
	URL                 string `yaml:"url" env:"PROMETHEUS_URL"`
	Username            string `yaml:"username" env:"PROMETHEUS_USERNAME"`
	Password            string `yaml:"password" env:"PROMETHEUS_PASSWORD"`
	PushIntervalSeconds int    `yaml:"pushIntervalSeconds" env:"PUSH_INTERVAL_SECONDS" env-default:"60"`
	BufferSize          int    `yaml:"bufferSize" env:"BUFFER_SIZE" env-default:"120"`
	MetricName          string `yaml:"metricName" env:"METRIC_NAME" env-default:"glucose_value"`
}

// Load reads configuration from configPath with environment overrides. An empty path
// reads the environment only.
func Load(configPath string) (*Config, error) {
	var cfg Config

	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %s: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// Validate checks every section and normalises enumerated strings
func (c *Config) Validate() error {
	c.Fetch.Method = strings.ToLower(strings.TrimSpace(c.Fetch.Method))
	switch c.Fetch.Method {
	case "dexcom":
		if c.Fetch.DexcomUsername == "" || c.Fetch.DexcomPassword == "" {
			return invalid("dexcomUsername and dexcomPassword are required for the dexcom method")
		}
	case "nightscout":
		if _, err := url.ParseRequestURI(c.Fetch.NightscoutURL); err != nil {
			return invalid("invalid nightscoutUrl: %v", err)
		}
	default:
		return invalid("fetch method must be dexcom or nightscout, got %q", c.Fetch.Method)
	}

	if _, err := glucose.ParseUnit(c.Fetch.Unit); err != nil {
		return invalid("%v", err)
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return invalid("fetch timeoutSeconds must be positive, got %v", c.Fetch.TimeoutSeconds)
	}
	if c.Fetch.Attempts < 1 {
		return invalid("fetch attempts must be at least 1, got %d", c.Fetch.Attempts)
	}

	if c.Polling.IntervalSeconds <= 0 {
		return invalid("intervalSeconds must be positive, got %d", c.Polling.IntervalSeconds)
	}
	c.Polling.FailurePolicy = strings.ToLower(strings.TrimSpace(c.Polling.FailurePolicy))
	switch c.Polling.FailurePolicy {
	case "fatal":
	case "retry":
		if c.Polling.MaxRetries < 1 {
			return invalid("maxRetries must be at least 1 for the retry policy, got %d", c.Polling.MaxRetries)
		}
		if c.Polling.RetryInitialSeconds <= 0 || c.Polling.RetryMaxSeconds < c.Polling.RetryInitialSeconds {
			return invalid("retry backoff needs 0 < retryInitialSeconds <= retryMaxSeconds")
		}
	default:
		return invalid("failurePolicy must be fatal or retry, got %q", c.Polling.FailurePolicy)
	}

	if err := c.GlucoseThresholds().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	c.Display.Mode = strings.ToLower(strings.TrimSpace(c.Display.Mode))
	if c.Display.Mode != "tray" && c.Display.Mode != "headless" {
		return invalid("display mode must be tray or headless, got %q", c.Display.Mode)
	}

	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return invalid("health port must be between 0 and 65535, got %d", c.Health.Port)
	}

	if c.Heartbeat.URL != "" {
		if _, err := url.ParseRequestURI(c.Heartbeat.URL); err != nil {
			return invalid("invalid heartbeat url: %v", err)
		}
		if strings.TrimSpace(c.Heartbeat.Schedule) == "" {
			return invalid("heartbeat schedule cannot be empty")
		}
	}

	if c.Prometheus.URL != "" {
		if _, err := url.ParseRequestURI(c.Prometheus.URL); err != nil {
			return invalid("invalid prometheus url: %v", err)
		}
		if c.Prometheus.PushIntervalSeconds <= 0 {
			return invalid("pushIntervalSeconds must be positive, got %d", c.Prometheus.PushIntervalSeconds)
		}
		if c.Prometheus.BufferSize <= 0 {
			return invalid("bufferSize must be positive, got %d", c.Prometheus.BufferSize)
		}
		if strings.TrimSpace(c.Prometheus.MetricName) == "" {
			return invalid("metricName cannot be empty")
		}
	}

	if err := pkgconfig.ValidateLogging(&c.Logging); err != nil {
		return fmt.Errorf("%w: logging: %w", ErrInvalidConfiguration, err)
	}
	if err := pkgconfig.ValidateOpenTelemetry(&c.OpenTelemetry); err != nil {
		return fmt.Errorf("%w: opentelemetry: %w", ErrInvalidConfiguration, err)
	}
	if err := pkgconfig.ValidateProfiling(&c.Profiling); err != nil {
		return fmt.Errorf("%w: profiling: %w", ErrInvalidConfiguration, err)
	}

	return nil
}

// GlucoseThresholds converts the configured floats to decimal thresholds
func (c *Config) GlucoseThresholds() glucose.Thresholds {
	return glucose.Thresholds{
		LowBg:         decimal.NewFromFloat(c.Thresholds.LowBg),
		HighBg:        decimal.NewFromFloat(c.Thresholds.HighBg),
		DangerLowBg:   decimal.NewFromFloat(c.Thresholds.DangerLowBg),
		DangerHighBg:  decimal.NewFromFloat(c.Thresholds.DangerHighBg),
		CriticalLowBg: decimal.NewFromFloat(c.Thresholds.CriticalLowBg),
	}
}

// Unit is the validated display unit
func (c *Config) Unit() glucose.Unit {
	u, _ := glucose.ParseUnit(c.Fetch.Unit)
	return u
}

// Interval is the delay between polling iterations
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Polling.IntervalSeconds) * time.Second
}

// FetchTimeout bounds one upstream HTTP request
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds * float64(time.Second))
}

// Redacted returns the config as a map with secrets masked
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"fetch": map[string]any{
			"method":          c.Fetch.Method,
			"unit":            c.Fetch.Unit,
			"dexcomUsername":  c.Fetch.DexcomUsername,
			"dexcomPassword":  mask(c.Fetch.DexcomPassword),
			"dexcomServer":    c.Fetch.DexcomServer,
			"nightscoutUrl":   redactURL(c.Fetch.NightscoutURL),
			"nightscoutToken": mask(c.Fetch.NightscoutToken),
			"timeoutSeconds":  c.Fetch.TimeoutSeconds,
			"attempts":        c.Fetch.Attempts,
		},
		"polling": map[string]any{
			"intervalSeconds": c.Polling.IntervalSeconds,
			"failurePolicy":   c.Polling.FailurePolicy,
			"maxRetries":      c.Polling.MaxRetries,
		},
		"thresholds": map[string]any{
			"lowBg":         c.Thresholds.LowBg,
			"highBg":        c.Thresholds.HighBg,
			"dangerLowBg":   c.Thresholds.DangerLowBg,
			"dangerHighBg":  c.Thresholds.DangerHighBg,
			"criticalLowBg": c.Thresholds.CriticalLowBg,
		},
		"display": map[string]any{
			"mode": c.Display.Mode,
		},
		"health": map[string]any{
			"port": c.Health.Port,
		},
		"heartbeat": map[string]any{
			"url":      redactURL(c.Heartbeat.URL),
			"schedule": c.Heartbeat.Schedule,
		},
		"prometheus": map[string]any{
			"url":                 redactURL(c.Prometheus.URL),
			"username":            c.Prometheus.Username,
			"password":            mask(c.Prometheus.Password),
			"pushIntervalSeconds": c.Prometheus.PushIntervalSeconds,
			"bufferSize":          c.Prometheus.BufferSize,
			"metricName":          c.Prometheus.MetricName,
		},
		"logging": map[string]any{
			"logFormat": c.Logging.Format,
			"logLevel":  c.Logging.Level,
		},
		"opentelemetry": map[string]any{
			"enabled":     c.OpenTelemetry.Enabled,
			"serviceName": c.OpenTelemetry.ServiceName,
			"endpointSet": c.OpenTelemetry.ResolvedEndpoint() != "",
		},
		"profiling": map[string]any{
			"enabled":       c.Profiling.Enabled,
			"serverAddress": c.Profiling.ServerAddress,
		},
	}
}

// NewLogger creates a zap logger based on the configuration
func (c *Config) NewLogger() (*zap.Logger, error) {
	return pkgconfig.NewLogger(&c.Logging)
}

// PrintConfig logs the effective configuration without secrets
func (c *Config) PrintConfig(logger *zap.Logger) {
	logger.Info("configuration loaded", zap.Any("config", c.Redacted()))
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}

// redactURL removes credentials and query parameters from URLs for logging
func redactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	return u.String()
}
