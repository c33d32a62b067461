package tray

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mjasion/glucose-tray/alert"
	"github.com/mjasion/glucose-tray/glyph"
)

// LogSink is the headless icon sink and notifier
type LogSink struct {
	logger *zap.Logger
	hidden atomic.Bool
}

// NewLogSink creates a sink writing to logger
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) ShowGlyph(g glyph.Glyph, tooltip string) error {
	s.logger.Info("glucose updated",
		zap.String("text", g.Text),
		zap.Stringer("band", g.Band),
		zap.String("detail", tooltip),
	)
	return nil
}

func (s *LogSink) Notify(event alert.Event, summary string) {
	s.logger.Warn("glucose notification",
		zap.Stringer("kind", event.Kind),
		zap.String("summary", summary),
	)
}

func (s *LogSink) Hide() {
	if s.hidden.CompareAndSwap(false, true) {
		s.logger.Info("glucose display closed")
	}
}
