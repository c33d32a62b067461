package config

import (
	"errors"
	"fmt"
	"strings"
)

// ProfilingConfig configures Pyroscope push-mode profiling
type ProfilingConfig struct {
	Enabled           bool              `yaml:"enabled" env:"PYROSCOPE_ENABLED" env-default:"false"`
	ApplicationName   string            `yaml:"applicationName" env:"PYROSCOPE_APPLICATION_NAME" env-default:"glucose-tray"`
	ServerAddress     string            `yaml:"serverAddress" env:"PYROSCOPE_SERVER_ADDRESS"`
	BasicAuthUser     string            `yaml:"basicAuthUser" env:"PYROSCOPE_BASIC_AUTH_USER"`
	BasicAuthPassword string            `yaml:"basicAuthPassword" env:"PYROSCOPE_BASIC_AUTH_PASSWORD"`
	TenantID          string            `yaml:"tenantID" env:"PYROSCOPE_TENANT_ID"`
	Tags              map[string]string `yaml:"tags"`

	// Profiles lists the enabled profile kinds: cpu, alloc, inuse, goroutines, mutex, block
	Profiles    []string `yaml:"profiles" env:"PYROSCOPE_PROFILES" env-separator:"," env-default:"cpu,alloc,inuse"`
	ProfileRate int      `yaml:"profileRate" env:"PYROSCOPE_PROFILE_RATE" env-default:"5"`
}

var profileKinds = map[string]bool{
	"cpu":        true,
	"alloc":      true,
	"inuse":      true,
	"goroutines": true,
	"mutex":      true,
	"block":      true,
}

// HasProfile reports whether kind is listed, ignoring case
func (c *ProfilingConfig) HasProfile(kind string) bool {
	for _, p := range c.Profiles {
		if strings.EqualFold(strings.TrimSpace(p), kind) {
			return true
		}
	}
	return false
}

// ValidateProfiling checks the block when profiling is enabled
func ValidateProfiling(cfg *ProfilingConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.ApplicationName == "" {
		return errors.New("profiling applicationName is required when enabled")
	}
	if cfg.ServerAddress == "" {
		return errors.New("profiling serverAddress is required when enabled")
	}
	if len(cfg.Profiles) == 0 {
		return errors.New("profiling needs at least one profile kind")
	}
	for _, p := range cfg.Profiles {
		if !profileKinds[strings.ToLower(strings.TrimSpace(p))] {
			return fmt.Errorf("unknown profile kind %q", p)
		}
	}
	if cfg.ProfileRate < 0 {
		return errors.New("profiling profileRate must be >= 0")
	}

	return nil
}
