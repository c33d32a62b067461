package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	fyne "fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"go.uber.org/zap"

	"github.com/mjasion/glucose-tray/config"
	"github.com/mjasion/glucose-tray/fetch"
	"github.com/mjasion/glucose-tray/glucose"
	"github.com/mjasion/glucose-tray/glyph"
	"github.com/mjasion/glucose-tray/heartbeat"
	"github.com/mjasion/glucose-tray/metrics"
	"github.com/mjasion/glucose-tray/pkg/buffer"
	"github.com/mjasion/glucose-tray/pkg/profiling"
	"github.com/mjasion/glucose-tray/pkg/telemetry"
	"github.com/mjasion/glucose-tray/poller"
	"github.com/mjasion/glucose-tray/tray"
)

// surface is where glyphs and notifications go
type surface interface {
	poller.IconSink
	poller.Notifier
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("c", "config.yaml", "Path to configuration file; empty reads the environment only")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("loading configuration", zap.String("path", *configPath))
	cfg.PrintConfig(logger)

	profiler, err := profiling.Start(&cfg.Profiling, logger)
	if err != nil {
		logger.Error("failed to initialize profiler", zap.Error(err))
		return 1
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			logger.Error("error shutting down profiler", zap.Error(err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	otelProviders, err := telemetry.InitProviders(ctx, &cfg.OpenTelemetry, logger)
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry providers", zap.Error(err))
		return 1
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down OpenTelemetry providers", zap.Error(err))
		}
	}()

	renderer, err := glyph.NewRenderer()
	if err != nil {
		logger.Error("failed to load glyph font", zap.Error(err))
		return 1
	}

	method, err := fetch.ParseMethod(cfg.Fetch.Method)
	if err != nil {
		logger.Error("invalid fetch method", zap.Error(err))
		return 1
	}
	fetcher, err := fetch.New(fetch.Options{
		Method: method,
		Unit:   cfg.Unit(),
		Dexcom: fetch.DexcomOptions{
			Username: cfg.Fetch.DexcomUsername,
			Password: cfg.Fetch.DexcomPassword,
			Server:   cfg.Fetch.DexcomServer,
		},
		Nightscout: fetch.NightscoutOptions{
			URL:   cfg.Fetch.NightscoutURL,
			Token: cfg.Fetch.NightscoutToken,
		},
		Timeout:  cfg.FetchTimeout(),
		Attempts: cfg.Fetch.Attempts,
	}, logger)
	if err != nil {
		logger.Error("failed to create glucose fetcher", zap.Error(err))
		return 1
	}

	var background sync.WaitGroup
	defer background.Wait()

	var (
		recorder poller.Recorder
		pusher   *metrics.Pusher
	)
	if cfg.Prometheus.URL != "" {
		buf := buffer.New[*glucose.Reading](cfg.Prometheus.BufferSize, logger)
		pusher = metrics.NewPusher(metrics.Config{
			URL:          cfg.Prometheus.URL,
			Username:     cfg.Prometheus.Username,
			Password:     cfg.Prometheus.Password,
			PushInterval: time.Duration(cfg.Prometheus.PushIntervalSeconds) * time.Second,
			MetricName:   cfg.Prometheus.MetricName,
		}, buf, logger)
		recorder = pusher

		pushCtx, stopPusher := context.WithCancel(context.Background())
		defer stopPusher()
		background.Add(1)
		go func() {
			defer background.Done()
			pusher.Start(pushCtx)
		}()
	}

	var policy poller.Policy
	if cfg.Polling.FailurePolicy == "retry" {
		policy = poller.NewRetryPolicy(cfg.Polling.MaxRetries,
			time.Duration(cfg.Polling.RetryInitialSeconds)*time.Second,
			time.Duration(cfg.Polling.RetryMaxSeconds)*time.Second)
	}

	var (
		sink     surface
		fyneApp  fyne.App
		trayIcon *tray.Tray
	)
	if cfg.Display.Mode == "tray" {
		fyneApp = app.NewWithID(cfg.Display.AppID)
		trayIcon, err = tray.New(fyneApp, tray.Options{
			Thresholds:    cfg.GlucoseThresholds(),
			NightscoutURL: cfg.Fetch.NightscoutURL,
		}, logger)
		if err != nil {
			logger.Error("failed to create system tray", zap.Error(err))
			return 1
		}
		sink = trayIcon
	} else {
		sink = tray.NewLogSink(logger)
	}

	cycle := poller.New(poller.Config{
		Fetcher:    fetcher,
		Renderer:   renderer,
		Icon:       sink,
		Notifier:   sink,
		Recorder:   recorder,
		Policy:     policy,
		Thresholds: cfg.GlucoseThresholds(),
		Interval:   cfg.Interval(),
	}, logger)

	if cfg.Health.Port > 0 {
		healthServer := metrics.NewHealthServer(cycle, pusher, cfg.Health.Port, logger)
		go func() {
			if err := healthServer.Start(); err != nil {
				logger.Error("health check server error", zap.Error(err))
			}
		}()
		defer func() { _ = healthServer.Stop() }()
	}

	if cfg.Heartbeat.URL != "" {
		pinger, err := heartbeat.New(cfg.Heartbeat.URL, cfg.Heartbeat.Schedule, func() bool {
			return cycle.Status() == poller.StatusRunning
		}, logger)
		if err != nil {
			logger.Error("failed to schedule heartbeat", zap.Error(err))
			return 1
		}
		pinger.Start()
		defer pinger.Stop()
	}

	var runErr error
	if trayIcon != nil {
		trayIcon.Bind(cycle, cycle.Stop)

		done := make(chan error, 1)
		go func() {
			err := cycle.Run(ctx)
			trayIcon.Hide()
			done <- err
		}()

		// fyne owns the main goroutine until the app quits
		fyneApp.Run()
		cycle.Stop()
		runErr = <-done
	} else {
		runErr = cycle.Run(ctx)
	}

	if runErr != nil {
		// a terminated loop exits non-zero, unlike a user or signal shutdown
		logger.Error("glucose tray exiting after unrecoverable failure", zap.Error(runErr))
		return 1
	}

	logger.Info("shutdown complete")
	return 0
}
