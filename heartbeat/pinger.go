// Package heartbeat pings a dead-man's-switch URL on a cron schedule while the polling
// loop is alive, so an external monitor notices when the tray stops updating.
package heartbeat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Pinger owns the cron scheduler
type Pinger struct {
	url     string
	alive   func() bool
	client  *http.Client
	cron    *cron.Cron
	logger  *zap.Logger
	pings   atomic.Int64
	skipped atomic.Int64
}

// New schedules pings of url. alive gates each ping; a nil alive always pings.
func New(url, schedule string, alive func() bool, logger *zap.Logger) (*Pinger, error) {
	if alive == nil {
		alive = func() bool { return true }
	}

	p := &Pinger{
		url:   url,
		alive: alive,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}

	p.cron = cron.New(cron.WithLogger(cronLogger{logger}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})))
	if _, err := p.cron.AddFunc(schedule, p.tick); err != nil {
		return nil, fmt.Errorf("invalid heartbeat schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start runs the scheduler in its own goroutine
func (p *Pinger) Start() {
	p.logger.Info("heartbeat started", zap.Int("entries", len(p.cron.Entries())))
	p.cron.Start()
}

// Stop halts the scheduler and waits for a running ping to finish
func (p *Pinger) Stop() {
	<-p.cron.Stop().Done()
	p.logger.Info("heartbeat stopped",
		zap.Int64("pings", p.Pings()),
		zap.Int64("skipped", p.Skipped()))
}

// Pings counts successful pings
func (p *Pinger) Pings() int64 { return p.pings.Load() }

// Skipped counts ticks suppressed because the polling loop was not running
func (p *Pinger) Skipped() int64 { return p.skipped.Load() }

func (p *Pinger) tick() {
	if !p.alive() {
		p.skipped.Add(1)
		p.logger.Warn("polling loop not running, skipping heartbeat")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		p.logger.Warn("heartbeat ping failed", zap.Error(err))
	}
}

// Ping sends one GET to the heartbeat URL
func (p *Pinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	p.pings.Add(1)
	p.logger.Debug("heartbeat sent", zap.String("status", resp.Status))
	return nil
}

// cronLogger adapts zap to cron's logger interface
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
