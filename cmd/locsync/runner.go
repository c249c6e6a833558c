package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v3"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/studyhub/locsync/internal/api"
	"github.com/studyhub/locsync/internal/config"
	"github.com/studyhub/locsync/internal/geocode"
	"github.com/studyhub/locsync/internal/geolocation"
	"github.com/studyhub/locsync/internal/logging"
	"github.com/studyhub/locsync/internal/markers"
	intOtel "github.com/studyhub/locsync/internal/otel"
	"github.com/studyhub/locsync/internal/push"
	"github.com/studyhub/locsync/internal/storage"
	"github.com/studyhub/locsync/internal/tracking"
)

// Runner owns everything a command needs. Setup builds it from the config
// directory; Teardown releases it.
type Runner struct {
	out   io.Writer
	start time.Time

	logsDir string
	level   string

	slogManager *logging.SlogManager
	logger      *slog.Logger
	logFile     *os.File
	otel        *intOtel.Provider
	closers     []func() error

	journal  storage.Backend
	renderer *markers.GeoJSONRenderer
	source   geolocation.Source
	client   *api.Client
	ctrl     *tracking.Controller

	// read by the log context provider, which can run before ctrl exists
	current atomic.Pointer[tracking.Controller]
}

// NewRunner creates a runner printing results to out.
func NewRunner(out io.Writer) *Runner {
	return &Runner{out: out, start: time.Now()}
}

// Setup loads configuration and wires logging, storage and the controller.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	configErr := config.Load(cmd.String("config-dir"))

	r.logsDir = config.GetString("logsDir")
	r.level = config.GetString("logLevel")
	if lvl := cmd.String("log-level"); lvl != "" {
		r.level = lvl
	}

	if err := r.setupLogging(); err != nil {
		return ctx, err
	}
	if configErr != nil {
		r.logger.Warn("Failed to load config, using defaults!", "error", configErr)
	} else {
		r.logger.Info("Loaded config", "dir", cmd.String("config-dir"))
	}

	r.setupJournal()

	geocoder, closeGeocoder, err := geocode.FromConfig(config.GetGeocoderConfig(), r.logger)
	if err != nil {
		return ctx, fmt.Errorf("geocoder: %w", err)
	}
	r.closers = append(r.closers, closeGeocoder)

	r.source, err = geolocation.FromConfig(config.GetGeolocationConfig())
	if err != nil {
		return ctx, fmt.Errorf("geolocation: %w", err)
	}

	apiCfg := config.GetAPIConfig()
	r.client = api.New(apiCfg.ServerURL, apiCfg.Token, apiCfg.Timeout)
	pushCfg := config.GetPushConfig()
	channel := push.New(push.Config{
		Enabled: pushCfg.Enabled,
		URL:     pushCfg.URL,
		Token:   apiCfg.Token,
	}, r.logger)
	if r.client.Demo() {
		r.logger.Info("Demo token configured, location service answers locally")
	}

	r.renderer = markers.NewGeoJSONRenderer()

	deps := tracking.Dependencies{
		Source:   r.source,
		API:      r.client,
		Push:     channel,
		Renderer: r.renderer,
		Geocoder: geocoder,
		Logger:   r.logger,
	}
	if r.journal != nil {
		deps.Journal = r.journal
	}
	r.ctrl, err = tracking.New(tracking.ConfigFrom(config.GetTrackingConfig()), deps)
	if err != nil {
		return ctx, err
	}
	r.current.Store(r.ctrl)

	return ctx, nil
}

// setupLogging opens the session log file and builds the slog pipeline:
// file handler, optional OTel bridge and optional Graylog shipping.
func (r *Runner) setupLogging() error {
	if err := os.MkdirAll(r.logsDir, 0755); err != nil {
		return fmt.Errorf("error creating logs directory: %w", err)
	}

	path := logging.LogFilePath(r.logsDir, AppName, r.start)
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".old")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("failed to create/open log file: %w", err)
	}
	r.logFile = f

	r.slogManager = logging.NewSlogManager()

	var otelLogProvider *sdklog.LoggerProvider
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		r.otel, err = intOtel.New(context.Background(), intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    f,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize OTel provider: %v\n", err)
		} else {
			otelLogProvider = r.otel.LoggerProvider()
		}
	}

	var extra []slog.Handler
	graylogCfg := config.GetGraylogConfig()
	if graylogCfg.Enabled {
		w, err := logging.NewGELFWriter(graylogCfg.Address)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Graylog disabled: %v\n", err)
		} else {
			extra = append(extra, logging.NewGELFHandler(w, r.level))
			r.closers = append(r.closers, w.Close)
		}
	}

	r.slogManager.Setup(logging.Options{
		Output:   f,
		Level:    r.level,
		Format:   config.GetString("logFormat"),
		Provider: otelLogProvider,
		Attrs:    r.logAttrs,
		Extra:    extra,
	})
	r.logger = r.slogManager.Logger()
	r.logger.Info("Begin logging", "path", path, "version", Version)
	return nil
}

func (r *Runner) logAttrs(ctx context.Context) []slog.Attr {
	if c := r.current.Load(); c != nil {
		return c.LogAttrs(ctx)
	}
	return nil
}

// setupJournal creates the configured fix journal. A journal that fails to
// initialize is logged and left out.
func (r *Runner) setupJournal() {
	cfg := config.GetStorageConfig()
	zl := logging.NewZerolog(r.logFile, strings.ToLower(r.level), "storage")

	backend, err := storage.NewBackend(cfg, r.logsDir, zl)
	if err != nil {
		r.logger.Error("Failed to create storage backend", "error", err)
		return
	}
	if err := backend.Init(); err != nil {
		r.logger.Error("Failed to initialize storage backend", "type", cfg.Type, "error", err)
		return
	}
	r.journal = backend
	r.logger.Info("Storage backend initialized", "type", cfg.Type)
}

// Teardown stops the controller and releases resources in reverse order of
// creation.
func (r *Runner) Teardown(ctx context.Context, cmd *cli.Command) error {
	var errs []error

	if r.ctrl != nil {
		errs = append(errs, r.ctrl.Close())
	}
	if r.journal != nil {
		errs = append(errs, r.journal.Close())
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if r.slogManager != nil {
		errs = append(errs, r.slogManager.Flush(flushCtx))
	}
	if r.otel != nil {
		errs = append(errs, r.otel.Shutdown(flushCtx))
	}
	if r.logFile != nil {
		errs = append(errs, r.logFile.Close())
	}
	return errors.Join(errs...)
}
