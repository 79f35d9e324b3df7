package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/VictoriaMetrics/metrics"

	"github.com/nerrad567/gray-logic-homesync/internal/infrastructure/config"
)

// serviceName is attached to every record.
const serviceName = "homesync"

// Logger is a slog.Logger carrying the service and version fields.
//
// Thread Safety: All methods are safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from cfg, writing to stdout or stderr per cfg.Output.
func New(cfg config.LoggingConfig, version string) *Logger {
	return NewWithWriter(cfg, version, outputFor(cfg.Output))
}

// NewWithWriter builds a Logger writing to w; cfg.Output is ignored.
//
// Parameters:
//   - cfg: Level and format ("json" unless "text")
//   - version: Value of the version field
//   - w: Destination for encoded records
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	h := handlerFor(cfg.Format, w, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	return &Logger{Logger: slog.New(h.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	}))}
}

// Default is the bootstrap logger used until the config is loaded: JSON to
// stdout at info.
func Default() *Logger {
	return NewWithWriter(config.LoggingConfig{}, "dev", os.Stdout)
}

func outputFor(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

func handlerFor(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// parseLevel maps debug, info, warn (or warning) and error, ignoring case.
// Anything else is info.
func parseLevel(level string) slog.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	var lvl slog.Level
	if name == "" || lvl.UnmarshalText([]byte(name)) != nil || strings.ContainsAny(name, "+-") {
		return slog.LevelInfo
	}
	return lvl
}

// With returns a child Logger with extra attributes.
//
// Example:
//
//	log.With("component", "queue").Info("started")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithMetrics returns a Logger that counts warn and error records in set as
// homesync_log_records_total{level="..."}. A nil set returns l unchanged.
func (l *Logger) WithMetrics(set *metrics.Set) *Logger {
	if set == nil {
		return l
	}
	return &Logger{Logger: slog.New(&countingHandler{Handler: l.Handler(), set: set})}
}

// countingHandler counts warn+ records before passing them on.
type countingHandler struct {
	slog.Handler
	set *metrics.Set
}

func (h *countingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		name := fmt.Sprintf(`homesync_log_records_total{level=%q}`, strings.ToLower(r.Level.String()))
		h.set.GetOrCreateCounter(name).Inc()
	}
	return h.Handler.Handle(ctx, r)
}

func (h *countingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &countingHandler{Handler: h.Handler.WithAttrs(attrs), set: h.set}
}

func (h *countingHandler) WithGroup(name string) slog.Handler {
	return &countingHandler{Handler: h.Handler.WithGroup(name), set: h.set}
}
