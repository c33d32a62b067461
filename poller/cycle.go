// Package poller drives the fetch, evaluate, render loop.
//
// The loop has two states. It is RUNNING from Run until a stop request, context
// cancellation or a failure the escalation policy refuses to absorb, and STOPPED after.
// Only the loop goroutine writes the reading state; readers get immutable snapshots.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mjasion/glucose-tray/alert"
	"github.com/mjasion/glucose-tray/glucose"
	"github.com/mjasion/glucose-tray/glyph"
	"github.com/mjasion/glucose-tray/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Fetcher obtains the latest reading. It may block on the network.
type Fetcher interface {
	Fetch(ctx context.Context) (glucose.Reading, error)
}

// Renderer turns a reading into a glyph
type Renderer interface {
	Render(current glucose.Reading, t glucose.Thresholds, isCritical bool) (glyph.Glyph, error)
}

// IconSink displays glyphs. ShowGlyph replaces whatever was shown before.
type IconSink interface {
	ShowGlyph(g glyph.Glyph, tooltip string) error
	Hide()
}

// Notifier shows notifications; delivery is fire-and-forget
type Notifier interface {
	Notify(event alert.Event, summary string)
}

// Recorder receives every successfully fetched reading
type Recorder interface {
	Add(reading *glucose.Reading)
}

// Status is the loop state
type Status int32

const (
	StatusIdle Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// State is the current/previous reading pair. Snapshots are never mutated.
type State struct {
	Current  *glucose.Reading
	Previous *glucose.Reading
}

// Config wires a Cycle
type Config struct {
	Fetcher    Fetcher
	Renderer   Renderer
	Icon       IconSink
	Notifier   Notifier
	Recorder   Recorder
	Policy     Policy
	Thresholds glucose.Thresholds
	Interval   time.Duration
}

// Cycle is the polling loop
type Cycle struct {
	fetcher    Fetcher
	renderer   Renderer
	icon       IconSink
	notifier   Notifier
	recorder   Recorder
	policy     Policy
	thresholds glucose.Thresholds
	interval   time.Duration
	logger     *zap.Logger
	tracer     trace.Tracer
	inst       instruments

	state    atomic.Pointer[State]
	status   atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Cycle. A nil Policy means the first failure is fatal.
func New(cfg Config, logger *zap.Logger) *Cycle {
	policy := cfg.Policy
	if policy == nil {
		policy = FatalPolicy{}
	}

	c := &Cycle{
		fetcher:    cfg.Fetcher,
		renderer:   cfg.Renderer,
		icon:       cfg.Icon,
		notifier:   cfg.Notifier,
		recorder:   cfg.Recorder,
		policy:     policy,
		thresholds: cfg.Thresholds,
		interval:   cfg.Interval,
		logger:     logger,
		tracer:     otel.Tracer("poller"),
		inst:       newInstruments(otel.Meter("poller"), logger),
		stop:       make(chan struct{}),
	}
	c.state.Store(&State{})
	return c
}

// Snapshot returns the latest reading pair without blocking
func (c *Cycle) Snapshot() State {
	return *c.state.Load()
}

// Latest returns the current reading, if any
func (c *Cycle) Latest() (glucose.Reading, bool) {
	s := c.state.Load()
	if s.Current == nil {
		return glucose.Reading{}, false
	}
	return *s.Current, true
}

// Status reports whether the loop is running
func (c *Cycle) Status() Status {
	return Status(c.status.Load())
}

// Interval is the configured delay between iterations
func (c *Cycle) Interval() time.Duration {
	return c.interval
}

// Stop asks the loop to finish at its next suspension point. Safe to call repeatedly.
func (c *Cycle) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Run drives the loop until stopped. It returns nil after a stop request or context
// cancellation, and the classified error (*FetchError or *RenderError) when a failure
// terminates the loop. The delay starts after an iteration's work completes.
func (c *Cycle) Run(ctx context.Context) error {
	c.status.Store(int32(StatusRunning))
	defer c.status.Store(int32(StatusStopped))

	c.logger.Info("starting glucose polling cycle", zap.Duration("interval", c.interval))

	consecutive := 0
	for {
		if c.stopRequested(ctx) {
			c.logger.Info("stopping glucose polling cycle")
			return nil
		}

		err := c.iterate(ctx)
		delay := c.interval

		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				c.logger.Info("stopping glucose polling cycle")
				return nil
			}

			consecutive++
			decision := c.policy.Decide(err, consecutive)
			if decision.Terminate {
				c.escalate(err, consecutive)
				return err
			}

			c.logger.Warn("polling iteration failed, retrying",
				zap.Error(err),
				zap.Int("consecutive_failures", consecutive),
				zap.Duration("retry_in", decision.Delay),
			)
			delay = decision.Delay
		} else if consecutive > 0 {
			consecutive = 0
			c.policy.Reset()
		}

		if !c.wait(ctx, delay) {
			c.logger.Info("stopping glucose polling cycle")
			return nil
		}
	}
}

// iterate runs one fetch, evaluate, render, forward pass
func (c *Cycle) iterate(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "poller.cycle")
	defer span.End()

	c.inst.iterations.Add(ctx, 1)

	start := time.Now()
	reading, err := c.fetcher.Fetch(ctx)
	span.SetAttributes(attribute.Int64("fetch_duration_ms", time.Since(start).Milliseconds()))
	if err != nil {
		err = &FetchError{Err: err}
		c.recordFailure(ctx, span, err, "fetch")
		return err
	}

	previous := c.state.Load().Current
	c.state.Store(&State{Current: &reading, Previous: previous})

	span.SetAttributes(
		attribute.String("glucose.value", reading.FormattedValue()),
		attribute.String("glucose.unit", string(reading.Unit)),
		attribute.String("glucose.trend", reading.Trend.String()),
	)
	c.inst.value.Record(ctx, reading.Value.InexactFloat64(),
		metric.WithAttributes(attribute.String("unit", string(reading.Unit))))

	if reading.IsEmpty() {
		telemetry.WarnWithTrace(ctx, c.logger, "empty glucose result received")
	}

	events, critical := alert.Evaluate(previous, reading, c.thresholds)
	if critical && !reading.IsEmpty() {
		telemetry.InfoWithTrace(ctx, c.logger, "critical low glucose read",
			zap.String("value", reading.FormattedValue()))
	}

	g, err := c.renderer.Render(reading, c.thresholds, critical)
	if err != nil {
		err = &RenderError{Err: err}
		c.recordFailure(ctx, span, err, "render")
		return err
	}

	if err := c.icon.ShowGlyph(g, reading.Detail()); err != nil {
		err = &RenderError{Err: err}
		c.recordFailure(ctx, span, err, "render")
		return err
	}

	for _, event := range events {
		c.notifier.Notify(event, event.Summary())
		c.inst.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", event.Kind.String())))
		telemetry.InfoWithTrace(ctx, c.logger, "glucose notification raised",
			zap.Stringer("kind", event.Kind),
			zap.String("summary", event.Summary()))
	}

	if c.recorder != nil {
		c.recorder.Add(&reading)
	}

	span.SetAttributes(
		attribute.String("glyph.band", g.Band.String()),
		attribute.Int("notifications", len(events)),
	)
	span.SetStatus(codes.Ok, "cycle completed")

	telemetry.DebugWithTrace(ctx, c.logger, "glucose cycle completed",
		zap.String("summary", reading.Summary()),
		zap.Stringer("band", g.Band),
		zap.Bool("critical", critical),
		zap.Int("notifications", len(events)))

	return nil
}

func (c *Cycle) recordFailure(ctx context.Context, span trace.Span, err error, stage string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage+" failed")
	c.inst.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// escalate tears the icon surface down after a terminal failure
func (c *Cycle) escalate(err error, consecutive int) {
	c.logger.Error("glucose polling cycle terminated",
		zap.Error(err),
		zap.Int("consecutive_failures", consecutive),
	)
	c.icon.Hide()
}

func (c *Cycle) stopRequested(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stop:
		return true
	default:
		return false
	}
}

// wait sleeps for d and reports false if the loop should stop instead
func (c *Cycle) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.stop:
		return false
	}
}
