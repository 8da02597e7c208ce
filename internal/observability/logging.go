// Package observability wires the agent's own logging and metrics —
// the ambient stack every component is handed by pointer, never global
// state (§6 Environment, `OPENFRAME_LOG_FORMAT`/`OPENFRAME_LOG_DIR`).
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures NewLogger.
type LogConfig struct {
	// Level is "debug", "info", "warn", or "error". Defaults to "info".
	Level string
	// Format is "json" or "text". Defaults to "json".
	Format string
	// FilePath, if set, routes output through a rotating file handle
	// instead of stderr (§6: <logs>/openframe.log).
	FilePath string
}

// defaultRedactPatterns matches substrings that must never reach a log
// sink verbatim: bearer/access/refresh tokens, the shared AES key, and
// the one-shot initial-enrolment key header value.
var defaultRedactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[a-zA-Z0-9._\-]{8,}`),
	regexp.MustCompile(`(?i)(access[_-]?token"?\s*[:=]\s*"?)[^\s",}]{8,}`),
	regexp.MustCompile(`(?i)(refresh[_-]?token"?\s*[:=]\s*"?)[^\s",}]{8,}`),
	regexp.MustCompile(`(?i)(x-initial-key"?\s*[:=]\s*"?)[^\s",}]{4,}`),
	regexp.MustCompile(`(?i)(client[_-]?secret"?\s*[:=]\s*"?)[^\s",}]{4,}`),
}

// New builds the agent's root logger. The returned *slog.Logger is what
// every component constructor in this module accepts — there is no
// observability-specific type threaded through the rest of the codebase,
// only this constructor's configuration of level, format, rotation, and
// redaction.
func New(cfg LogConfig) *slog.Logger {
	level := parseLevel(cfg.Level)

	var out io.Writer = os.Stderr
	if strings.TrimSpace(cfg.FilePath) != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}

	redacted := &redactingWriter{w: out}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(redacted, opts)
	} else {
		handler = slog.NewJSONHandler(redacted, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactingWriter applies defaultRedactPatterns to every line before it
// reaches the underlying writer. slog serializes one record per Write
// call, so redacting at this layer catches secrets regardless of which
// handler or field produced them.
type redactingWriter struct {
	w io.Writer
}

func (r *redactingWriter) Write(p []byte) (int, error) {
	s := string(p)
	for _, re := range defaultRedactPatterns {
		s = re.ReplaceAllString(s, "${1}[REDACTED]")
	}
	if _, err := r.w.Write([]byte(s)); err != nil {
		return 0, err
	}
	return len(p), nil
}
