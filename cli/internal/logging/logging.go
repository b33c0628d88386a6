package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pion/logging"
)

// Init installs the default slog logger. The CLI stays quiet unless LOG_LEVEL
// asks for more, since the terminal is owned by the UI.
func Init() *slog.Logger {
	level := slog.LevelError // default: production only shows errors

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l, level)
	}

	return InitWriter(os.Stderr, level)
}

// InitWriter is Init with an explicit sink, used when the chat UI takes over
// stderr and logs go to a file instead.
func InitWriter(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps LOG_LEVEL values onto slog levels.
func ParseLevel(s string, fallback slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return fallback
	}
}

// PionFactory routes pion's internal logging into slog so ICE and DTLS
// diagnostics honour LOG_LEVEL.
type PionFactory struct {
	Logger *slog.Logger
}

// NewLogger implements logging.LoggerFactory.
func (f PionFactory) NewLogger(scope string) logging.LeveledLogger {
	l := f.Logger
	if l == nil {
		l = slog.Default()
	}
	return &pionLogger{logger: l.With("scope", "pion/"+scope)}
}

type pionLogger struct {
	logger *slog.Logger
}

var _ logging.LeveledLogger = (*pionLogger)(nil)

// pion's trace level is far chattier than anything we emit, so it sits
// below slog's debug.
const levelTrace = slog.LevelDebug - 4

func (p *pionLogger) log(level slog.Level, msg string) {
	p.logger.Log(context.Background(), level, msg)
}

func (p *pionLogger) Trace(msg string) { p.log(levelTrace, msg) }
func (p *pionLogger) Tracef(format string, args ...any) {
	p.log(levelTrace, fmt.Sprintf(format, args...))
}
func (p *pionLogger) Debug(msg string) { p.log(slog.LevelDebug, msg) }
func (p *pionLogger) Debugf(format string, args ...any) {
	p.log(slog.LevelDebug, fmt.Sprintf(format, args...))
}
func (p *pionLogger) Info(msg string) { p.log(slog.LevelInfo, msg) }
func (p *pionLogger) Infof(format string, args ...any) {
	p.log(slog.LevelInfo, fmt.Sprintf(format, args...))
}
func (p *pionLogger) Warn(msg string) { p.log(slog.LevelWarn, msg) }
func (p *pionLogger) Warnf(format string, args ...any) {
	p.log(slog.LevelWarn, fmt.Sprintf(format, args...))
}
func (p *pionLogger) Error(msg string) { p.log(slog.LevelError, msg) }
func (p *pionLogger) Errorf(format string, args ...any) {
	p.log(slog.LevelError, fmt.Sprintf(format, args...))
}
