// Package fetch retrieves the latest glucose reading from Dexcom Share or Nightscout.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mjasion/glucose-tray/glucose"
	"github.com/mjasion/glucose-tray/pkg/telemetry"
)

// Method selects the upstream source
type Method string

const (
	MethodDexcom     Method = "dexcom"
	MethodNightscout Method = "nightscout"
)

// ParseMethod accepts a config string, ignoring case
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodDexcom, MethodNightscout:
		return m, nil
	}
	return "", fmt.Errorf("unknown fetch method %q, expected dexcom or nightscout", s)
}

// Entry is a raw upstream value, always in mg/dL
type Entry struct {
	MgDL      decimal.Decimal
	Trend     glucose.Trend
	Timestamp time.Time
}

// Source returns the newest entry, or nil when the upstream has no data
type Source interface {
	Name() string
	Latest(ctx context.Context) (*Entry, error)
}

// Options configures a Service
type Options struct {
	Method     Method
	Unit       glucose.Unit
	Dexcom     DexcomOptions
	Nightscout NightscoutOptions
	Timeout    time.Duration
	Attempts   int
	RetryDelay time.Duration
}

// Service implements the poller's Fetcher over one Source
type Service struct {
	source     Source
	unit       glucose.Unit
	attempts   int
	retryDelay time.Duration
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// New builds the Source selected by opts.Method
func New(opts Options, logger *zap.Logger) (*Service, error) {
	client := newHTTPClient(opts.Timeout)

	var source Source
	switch opts.Method {
	case MethodDexcom:
		d, err := NewDexcom(opts.Dexcom, client, logger)
		if err != nil {
			return nil, err
		}
		source = d
	case MethodNightscout:
		n, err := NewNightscout(opts.Nightscout, client)
		if err != nil {
			return nil, err
		}
		source = n
	default:
		return nil, fmt.Errorf("unknown fetch method %q", opts.Method)
	}

	return NewWithSource(source, opts, logger), nil
}

// NewWithSource wraps an existing Source
func NewWithSource(source Source, opts Options, logger *zap.Logger) *Service {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &Service{
		source:     source,
		unit:       opts.Unit,
		attempts:   attempts,
		retryDelay: retryDelay,
		logger:     logger.With(zap.String("source", source.Name())),
		tracer:     otel.Tracer("fetch"),
		now:        time.Now,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "fetch " + r.URL.Path
			}),
		),
	}
}

// Fetch returns the newest reading in the configured unit. An empty upstream result is
// a reading with the zero sentinel value stamped with the current time.
func (s *Service) Fetch(ctx context.Context) (glucose.Reading, error) {
	ctx, span := s.tracer.Start(ctx, "fetch.latest",
		trace.WithAttributes(attribute.String("fetch.source", s.source.Name())))
	defer span.End()

	var lastErr error
	delay := s.retryDelay

	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				span.SetStatus(codes.Error, "cancelled")
				return glucose.Reading{}, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}

		entry, err := s.source.Latest(ctx)
		if err == nil {
			span.SetAttributes(attribute.Int("fetch.attempts", attempt))
			span.SetStatus(codes.Ok, "")
			return s.toReading(entry), nil
		}
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return glucose.Reading{}, ctx.Err()
		}

		lastErr = err
		telemetry.WarnWithTrace(ctx, s.logger, "fetch attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.attempts),
			zap.Error(err))
	}

	err := fmt.Errorf("all %d fetch attempts failed: %w", s.attempts, lastErr)
	telemetry.ErrorWithTrace(ctx, s.logger, "glucose fetch failed",
		zap.String("source", s.source.Name()),
		zap.Int("attempts", s.attempts),
		zap.Error(lastErr))
	span.RecordError(err)
	span.SetStatus(codes.Error, "fetch failed")
	return glucose.Reading{}, err
}

func (s *Service) toReading(entry *Entry) glucose.Reading {
	if entry == nil {
		return glucose.Reading{Value: decimal.Zero, Unit: s.unit, Trend: glucose.TrendUnknown, Timestamp: s.now()}
	}
	return glucose.Reading{
		Value:     glucose.FromMgDL(entry.MgDL, s.unit),
		Unit:      s.unit,
		Trend:     entry.Trend,
		Timestamp: entry.Timestamp,
	}
}

// ErrUnauthorized marks credential rejections
var ErrUnauthorized = errors.New("credentials rejected")
