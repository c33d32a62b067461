package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"

	"github.com/mjasion/glucose-tray/pkg/config"
)

// Providers holds the SDK providers registered as OTel globals
type Providers struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider
	logger         *zap.Logger
}

// InitProviders creates and registers OTLP/HTTP providers. It returns nil when export
// is disabled, in which case the global no-op providers stay in place.
func InitProviders(ctx context.Context, cfg *config.OpenTelemetryConfig, logger *zap.Logger) (*Providers, error) {
	if !cfg.Enabled {
		logger.Debug("opentelemetry export is disabled")
		return nil, nil
	}

	res := newResource(cfg)
	endpoint := cfg.ResolvedEndpoint()
	headers := exportHeaders(cfg)
	providers := &Providers{logger: logger}

	if cfg.Traces.Enabled {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if useInsecure(cfg, endpoint) {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(headers))
		}

		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}

		providers.TracerProvider = trace.NewTracerProvider(
			trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.Traces.SamplingRatio))),
			trace.WithResource(res),
			trace.WithBatcher(exporter,
				trace.WithBatchTimeout(time.Duration(cfg.Traces.BatchTimeoutMillis)*time.Millisecond),
				trace.WithMaxExportBatchSize(cfg.Traces.MaxExportBatchSize),
			),
		)
		otel.SetTracerProvider(providers.TracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	if cfg.Metrics.Enabled {
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
		if useInsecure(cfg, endpoint) {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		if len(headers) > 0 {
			opts = append(opts, otlpmetrichttp.WithHeaders(headers))
		}

		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			_ = providers.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}

		providers.MeterProvider = metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(exporter,
				metric.WithInterval(time.Duration(cfg.Metrics.IntervalMillis)*time.Millisecond))),
		)
		otel.SetMeterProvider(providers.MeterProvider)

		if cfg.Metrics.EnableRuntimeMetrics {
			if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
				logger.Warn("failed to start runtime metrics", zap.Error(err))
			}
		}
	}

	logger.Info("opentelemetry providers initialized",
		zap.String("endpoint", endpoint),
		zap.Bool("traces", cfg.Traces.Enabled),
		zap.Bool("metrics", cfg.Metrics.Enabled),
	)
	return providers, nil
}

// Shutdown flushes pending spans and metrics
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}

	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		p.logger.Error("failed to shut down opentelemetry providers", zap.Error(err))
		return err
	}
	return nil
}

func newResource(cfg *config.OpenTelemetryConfig) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	}
	for k, v := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.HostNameKey.String(hostname))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// useInsecure allows plain HTTP when configured or when exporting to a local collector
func useInsecure(cfg *config.OpenTelemetryConfig, endpoint string) bool {
	return cfg.Insecure || strings.HasPrefix(endpoint, "localhost:") || strings.HasPrefix(endpoint, "127.0.0.1:")
}

// exportHeaders returns configured headers, else those from OTEL_EXPORTER_OTLP_HEADERS
func exportHeaders(cfg *config.OpenTelemetryConfig) map[string]string {
	if len(cfg.Headers) > 0 {
		return cfg.Headers
	}
	return parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
}

// parseHeaders reads the "key1=value1,key2=value2" form
func parseHeaders(s string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}
