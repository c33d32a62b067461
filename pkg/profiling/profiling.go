package profiling

import (
	"fmt"
	"runtime"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"github.com/mjasion/glucose-tray/pkg/config"
)

// Profiler wraps a running Pyroscope session
type Profiler struct {
	profiler *pyroscope.Profiler
	logger   *zap.Logger
}

// profileTypes maps configured kinds onto Pyroscope profile types and turns on the
// runtime sampling the mutex and block profiles need
func profileTypes(cfg *config.ProfilingConfig) []pyroscope.ProfileType {
	var types []pyroscope.ProfileType
	if cfg.HasProfile("cpu") {
		types = append(types, pyroscope.ProfileCPU)
	}
	if cfg.HasProfile("alloc") {
		types = append(types, pyroscope.ProfileAllocObjects, pyroscope.ProfileAllocSpace)
	}
	if cfg.HasProfile("inuse") {
		types = append(types, pyroscope.ProfileInuseObjects, pyroscope.ProfileInuseSpace)
	}
	if cfg.HasProfile("goroutines") {
		types = append(types, pyroscope.ProfileGoroutines)
	}
	if cfg.HasProfile("mutex") {
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
		runtime.SetMutexProfileFraction(cfg.ProfileRate)
	}
	if cfg.HasProfile("block") {
		types = append(types, pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration)
		runtime.SetBlockProfileRate(cfg.ProfileRate)
	}
	return types
}

// Start begins pushing profiles. It returns a nil Profiler when profiling is disabled;
// Stop is safe on nil.
func Start(cfg *config.ProfilingConfig, logger *zap.Logger) (*Profiler, error) {
	if !cfg.Enabled {
		logger.Debug("profiling is disabled")
		return nil, nil
	}

	types := profileTypes(cfg)
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   cfg.ApplicationName,
		ServerAddress:     cfg.ServerAddress,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		TenantID:          cfg.TenantID,
		Tags:              cfg.Tags,
		ProfileTypes:      types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start pyroscope profiler: %w", err)
	}

	logger.Info("pyroscope profiler started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
		zap.Int("profile_types", len(types)),
	)

	return &Profiler{profiler: profiler, logger: logger}, nil
}

// Stop flushes and stops the profiler
func (p *Profiler) Stop() error {
	if p == nil || p.profiler == nil {
		return nil
	}

	if err := p.profiler.Stop(); err != nil {
		return fmt.Errorf("profiler stop: %w", err)
	}
	p.logger.Info("pyroscope profiler stopped")
	return nil
}
