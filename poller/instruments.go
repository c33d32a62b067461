package poller

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

type instruments struct {
	iterations    metric.Int64Counter
	failures      metric.Int64Counter
	notifications metric.Int64Counter
	value         metric.Float64Gauge
}

// newInstruments registers the cycle's metrics, falling back to no-op instruments
// when the meter rejects one
func newInstruments(meter metric.Meter, logger *zap.Logger) instruments {
	inst, err := buildInstruments(meter)
	if err != nil {
		logger.Warn("failed to register poller metrics, continuing without them", zap.Error(err))
		inst, _ = buildInstruments(noop.NewMeterProvider().Meter("poller"))
	}
	return inst
}

func buildInstruments(meter metric.Meter) (instruments, error) {
	var (
		inst instruments
		err  error
	)

	inst.iterations, err = meter.Int64Counter("glucose.poll.iterations",
		metric.WithDescription("Polling iterations started"))
	if err != nil {
		return inst, err
	}

	inst.failures, err = meter.Int64Counter("glucose.poll.failures",
		metric.WithDescription("Polling iterations that failed, by stage"))
	if err != nil {
		return inst, err
	}

	inst.notifications, err = meter.Int64Counter("glucose.notifications",
		metric.WithDescription("Notifications raised, by kind"))
	if err != nil {
		return inst, err
	}

	inst.value, err = meter.Float64Gauge("glucose.value",
		metric.WithDescription("Latest glucose reading in the configured unit"))
	if err != nil {
		return inst, err
	}

	return inst, nil
}
