package webrtcpeer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// levelTrace sits below slog.LevelDebug so pion's trace output is dropped
// unless a handler explicitly enables it.
const levelTrace = slog.LevelDebug - 4

// pionLog routes pion's leveled logging to slog, tagging each record with
// the pion scope (ice, dtls, sctp...).
type pionLog struct {
	log *slog.Logger
}

func NewLoggerFactory(root *slog.Logger) logging.LoggerFactory {
	return pionLog{log: root}
}

func (p pionLog) NewLogger(scope string) logging.LeveledLogger {
	return pionLog{log: p.log.With("mod", scope)}
}

func (p pionLog) logf(level slog.Level, format string, args ...any) {
	if !p.log.Enabled(context.Background(), level) {
		return
	}
	p.log.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (p pionLog) Trace(msg string)                  { p.log.Log(context.Background(), levelTrace, msg) }
func (p pionLog) Tracef(format string, args ...any) { p.logf(levelTrace, format, args...) }
func (p pionLog) Debug(msg string)                  { p.log.Debug(msg) }
func (p pionLog) Debugf(format string, args ...any) { p.logf(slog.LevelDebug, format, args...) }
func (p pionLog) Info(msg string)                   { p.log.Info(msg) }
func (p pionLog) Infof(format string, args ...any)  { p.logf(slog.LevelInfo, format, args...) }
func (p pionLog) Warn(msg string)                   { p.log.Warn(msg) }
func (p pionLog) Warnf(format string, args ...any)  { p.logf(slog.LevelWarn, format, args...) }
func (p pionLog) Error(msg string)                  { p.log.Error(msg) }
func (p pionLog) Errorf(format string, args ...any) { p.logf(slog.LevelError, format, args...) }
