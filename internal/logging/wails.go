package logging

import (
	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/logger"
)

// WailsLogger sends Wails runtime logs through zerolog.
type WailsLogger struct {
	logger zerolog.Logger
}

var _ logger.Logger = (*WailsLogger)(nil)

// NewWailsLogger wraps l, tagging lines with component=wails.
func NewWailsLogger(l zerolog.Logger) *WailsLogger {
	return &WailsLogger{logger: Component(l, "wails")}
}

func (w *WailsLogger) Print(message string)   { w.logger.Log().Msg(message) }
func (w *WailsLogger) Trace(message string)   { w.logger.Trace().Msg(message) }
func (w *WailsLogger) Debug(message string)   { w.logger.Debug().Msg(message) }
func (w *WailsLogger) Info(message string)    { w.logger.Info().Msg(message) }
func (w *WailsLogger) Warning(message string) { w.logger.Warn().Msg(message) }
func (w *WailsLogger) Error(message string)   { w.logger.Error().Msg(message) }

// Fatal logs at error level. Wails calls os.Exit itself after a fatal line,
// so zerolog's Fatal (which exits too) is not used here.
func (w *WailsLogger) Fatal(message string) { w.logger.Error().Bool("fatal", true).Msg(message) }

// WailsLevel maps a config level name onto the Wails log level.
func WailsLevel(level string) logger.LogLevel {
	switch level {
	case "trace":
		return logger.TRACE
	case "debug":
		return logger.DEBUG
	case "warn":
		return logger.WARNING
	case "error":
		return logger.ERROR
	default:
		return logger.INFO
	}
}
