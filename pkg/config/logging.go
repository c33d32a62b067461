package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig selects the log encoder and minimum level
type LoggingConfig struct {
	Format string `yaml:"logFormat" env:"LOG_FORMAT" env-default:"console"`
	Level  string `yaml:"logLevel" env:"LOG_LEVEL" env-default:"info"`
}

var logFormats = []string{"console", "json", "logfmt"}

// ValidateLogging normalises and checks the logging block
func ValidateLogging(cfg *LoggingConfig) error {
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	cfg.Level = strings.ToLower(strings.TrimSpace(cfg.Level))

	known := false
	for _, f := range logFormats {
		if cfg.Format == f {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("logFormat must be one of %s, got %q", strings.Join(logFormats, ", "), cfg.Format)
	}

	if _, err := parseLevel(cfg.Level); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("logLevel must be one of debug, info, warn, error, got %q", s)
}

// NewLogger builds the process logger writing to stdout
func NewLogger(cfg *LoggingConfig) (*zap.Logger, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *LoggingConfig, out io.Writer) (*zap.Logger, error) {
	level, err := parseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case "logfmt":
		encoder = zaplogfmt.NewEncoder(zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		})
	default:
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(out), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
