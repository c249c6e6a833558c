package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies records forwarded to OTel.
const instrumentationName = "github.com/studyhub/locsync"

// Options configures SlogManager.Setup.
type Options struct {
	// Output receives local records. Nil means stdout.
	Output io.Writer
	Level  string
	// Format is "text" or "json". Anything else means text.
	Format string
	// Provider forwards records through the OTel bridge when set.
	Provider *sdklog.LoggerProvider
	// Attrs is evaluated for every record on every output.
	Attrs AttrFunc
	// Extra handlers, such as GELF, receive every record too.
	Extra []slog.Handler
}

// SlogManager owns the process logger and the OTel provider it flushes.
type SlogManager struct {
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
	stdout   io.Writer
}

// NewSlogManager creates a manager. Logger returns slog.Default until Setup
// runs.
func NewSlogManager() *SlogManager {
	return &SlogManager{stdout: os.Stdout}
}

// ParseLevel accepts the slog level names in any case plus "warning".
// Unknown names fall back to info.
func ParseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Setup builds the logger. Calling it again replaces the previous logger.
func (m *SlogManager) Setup(opts Options) {
	m.provider = opts.Provider

	out := opts.Output
	if out == nil {
		out = m.stdout
	}
	handlerOpts := &slog.HandlerOptions{
		Level:       ParseLevel(opts.Level),
		ReplaceAttr: utcTime,
	}

	var local slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		local = slog.NewJSONHandler(out, handlerOpts)
	} else {
		local = slog.NewTextHandler(out, handlerOpts)
	}

	handlers := []slog.Handler{local}
	if opts.Provider != nil {
		handlers = append(handlers, otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(opts.Provider)))
	}
	handlers = append(handlers, opts.Extra...)

	m.logger = slog.New(WithDynamicAttrs(Fanout(handlers...), opts.Attrs))
	m.logger.Info("Logging initialized", "level", opts.Level, "format", opts.Format)
}

// utcTime renders record times as RFC3339 in UTC.
func utcTime(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
		}
	}
	return a
}

// Logger returns the configured logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush pushes buffered OTel records to the exporter.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}
