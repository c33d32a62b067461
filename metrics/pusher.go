package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mjasion/glucose-tray/glucose"
	"github.com/mjasion/glucose-tray/pkg/buffer"
	"github.com/mjasion/glucose-tray/pkg/telemetry"
)

const pushAttempts = 3

// Config contains configuration for the remote-write pusher
type Config struct {
	URL          string
	Username     string
	Password     string
	PushInterval time.Duration
	MetricName   string
	// RetryInitial is the first backoff delay; it doubles per attempt
	RetryInitial time.Duration
}

// Pusher drains buffered readings and sends them to a Prometheus remote_write endpoint
type Pusher struct {
	url          string
	username     string
	password     string
	pushInterval time.Duration
	retryInitial time.Duration
	client       *http.Client
	buffer       *buffer.RingBuffer[*glucose.Reading]
	build        TimeSeriesBuilder
	logger       *zap.Logger
	tracer       trace.Tracer
	lastPush     atomic.Int64
}

// NewPusher creates a pusher draining buf
func NewPusher(cfg Config, buf *buffer.RingBuffer[*glucose.Reading], logger *zap.Logger) *Pusher {
	retryInitial := cfg.RetryInitial
	if retryInitial <= 0 {
		retryInitial = time.Second
	}

	return &Pusher{
		url:          cfg.URL,
		username:     cfg.Username,
		password:     cfg.Password,
		pushInterval: cfg.PushInterval,
		retryInitial: retryInitial,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(string, *http.Request) string {
					return "prometheus.remote_write"
				}),
			),
		},
		buffer: buf,
		build:  BuildGlucoseTimeSeries(cfg.MetricName),
		logger: logger,
		tracer: otel.Tracer("metrics"),
	}
}

// Add records a reading for the next push
func (p *Pusher) Add(reading *glucose.Reading) {
	p.buffer.Add(reading)
}

// Start pushes on every interval until ctx is done, then flushes what is left
func (p *Pusher) Start(ctx context.Context) {
	ticker := time.NewTicker(p.pushInterval)
	defer ticker.Stop()

	p.logger.Info("prometheus pusher started",
		zap.Duration("push_interval", p.pushInterval),
		zap.Int("buffer_capacity", p.buffer.Cap()))

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			p.flush(flushCtx)
			cancel()
			p.logger.Info("prometheus pusher stopped")
			return
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

// flush pushes everything buffered, putting readings back when the push fails
func (p *Pusher) flush(ctx context.Context) {
	readings := p.buffer.Drain()
	if len(readings) == 0 {
		return
	}

	if err := p.Push(ctx, readings); err != nil {
		p.logger.Error("failed to push readings, re-buffering",
			zap.Error(err),
			zap.Int("readings", len(readings)))
		for _, r := range readings {
			p.buffer.Add(r)
		}
	}
}

// Push sends readings with up to three attempts and exponential backoff
func (p *Pusher) Push(ctx context.Context, readings []*glucose.Reading) error {
	ctx, span := p.tracer.Start(ctx, "metrics.Push",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("metrics.readings", len(readings))),
	)
	defer span.End()

	series := p.build(readings)
	samples := sampleCount(series)
	if samples == 0 {
		span.SetStatus(codes.Ok, "nothing to push")
		return nil
	}

	payload, err := encodeWriteRequest(&prompb.WriteRequest{Timeseries: series})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return err
	}
	span.SetAttributes(
		attribute.Int("metrics.samples", samples),
		attribute.Int("metrics.payload_bytes", len(payload)),
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryInitial
	b.Multiplier = 2
	b.RandomizationFactor = 0

	_, err = backoff.Retry(ctx, func() (int, error) {
		return 0, p.pushOnce(ctx, payload)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(pushAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			telemetry.WarnWithTrace(ctx, p.logger, "failed to push readings, will retry",
				zap.Error(err),
				zap.Duration("retry_in", next))
		}),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "push failed")
		return fmt.Errorf("failed to push readings after %d attempts: %w", pushAttempts, err)
	}

	p.lastPush.Store(time.Now().UnixNano())
	telemetry.InfoWithTrace(ctx, p.logger, "pushed glucose readings",
		zap.Int("samples", samples),
		zap.Time("oldest_sample", oldestSample(series)))
	span.SetStatus(codes.Ok, "pushed")
	return nil
}

func encodeWriteRequest(req *prompb.WriteRequest) ([]byte, error) {
	data, err := proto.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal protobuf: %w", err)
	}
	return snappy.Encode(nil, data), nil
}

func (p *Pusher) pushOnce(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if p.username != "" && p.password != "" {
		req.SetBasicAuth(p.username, p.password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("received non-2xx status code: %d, body: %s", resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}

// LastPushTime returns the time of the last successful push
func (p *Pusher) LastPushTime() time.Time {
	ns := p.lastPush.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Buffered is the number of readings waiting to be pushed
func (p *Pusher) Buffered() int {
	return p.buffer.Len()
}

// Dropped counts readings evicted from a full buffer before they could be pushed
func (p *Pusher) Dropped() uint64 {
	return p.buffer.Dropped()
}
