package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/studyhub/locsync/internal/api"
	"github.com/studyhub/locsync/internal/config"
	"github.com/studyhub/locsync/internal/monitor"
	"github.com/studyhub/locsync/internal/server"
)

// Track runs a tracking session until SIGINT or SIGTERM.
func (r *Runner) Track(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := monitor.NewService(monitor.Dependencies{
		Logger:   r.logger,
		Dir:      r.logsDir,
		Snapshot: r.ctrl.Status,
	})
	if err := mon.Start(); err != nil {
		r.logger.Warn("Status monitor not started", "error", err)
	}
	defer mon.Stop()

	srvCfg := config.GetServerConfig()
	if addr := cmd.String("addr"); addr != "" {
		srvCfg.Addr = addr
	}
	if srvCfg.Enabled && !cmd.Bool("no-server") {
		srv := server.New(server.Dependencies{
			Tracker: r.ctrl,
			Markers: r.renderer,
			Logger:  r.logger,
			Addr:    srvCfg.Addr,
		})
		if err := srv.Start(); err != nil {
			return err
		}
		r.printf("Local API on http://%s\n", srv.Addr())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				r.logger.Warn("Local API shutdown", "error", err)
			}
		}()
	}

	if err := r.ctrl.Start(ctx); err != nil {
		return fmt.Errorf("unable to start tracking: %w", err)
	}
	session := r.ctrl.Session()
	r.printf("Tracking %s (session %s), press Ctrl+C to stop\n", r.ctrl.SelfID(), session.SessionID)

	<-ctx.Done()
	r.logger.Info("Shutting down")
	return r.ctrl.Stop(context.Background())
}

// Submit sends one manual position.
func (r *Runner) Submit(ctx context.Context, cmd *cli.Command) error {
	self, err := r.ctrl.SubmitManualPosition(ctx, cmd.Float("lat"), cmd.Float("lng"))
	if err != nil {
		return err
	}
	r.ctrl.Wait()
	self, _ = r.ctrl.Self()
	return r.printJSON(self)
}

// Nearby establishes a baseline position and lists peers around it. The
// baseline is the --lat/--lng pair when given, otherwise the stored
// position, otherwise a fresh device fix.
func (r *Runner) Nearby(ctx context.Context, cmd *cli.Command) error {
	switch {
	case cmd.IsSet("lat") || cmd.IsSet("lng"):
		if _, err := r.ctrl.SubmitManualPosition(ctx, cmd.Float("lat"), cmd.Float("lng")); err != nil {
			return err
		}
	default:
		if _, err := r.ctrl.RefreshCurrent(ctx); err != nil {
			r.logger.Debug("No stored position, using device fix", "error", err)
			pos, perr := r.source.CurrentPosition(ctx)
			if perr != nil {
				return fmt.Errorf("no baseline position: %w", perr)
			}
			if _, err := r.ctrl.SubmitManualPosition(ctx, pos.Latitude, pos.Longitude); err != nil {
				return err
			}
		}
	}
	r.ctrl.Wait()

	peers, err := r.ctrl.SearchNearby(ctx, nil, cmd.Float("radius"))
	if err != nil {
		return err
	}
	return r.printJSON(peers)
}

// History prints one page of stored positions.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	q := api.HistoryQuery{
		Page:  int(cmd.Int("page")),
		Limit: int(cmd.Int("limit")),
	}
	var err error
	if q.StartDate, err = parseTime(cmd.String("start")); err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	if q.EndDate, err = parseTime(cmd.String("end")); err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	page, err := r.ctrl.History(ctx, q)
	if err != nil {
		return err
	}
	return r.printJSON(page)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *Runner) printJSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
