package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/studyhub/locsync/pkg/core"
)

// Start begins a tracking session: one current-position acquisition, then a
// continuous watch. Capability errors are returned and leave the session
// stopped. Calling Start on an active session does nothing.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.active || c.starting {
		c.mu.Unlock()
		return nil
	}
	c.starting = true
	startGen := c.gen
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	initial, err := c.source.CurrentPosition(ctx)
	if err != nil {
		c.setLastError(err)
		c.logger.Warn("Unable to acquire position", "kind", core.KindOf(err), "error", err)
		return fmt.Errorf("start tracking: %w", err)
	}

	c.mu.Lock()
	if c.gen != startGen {
		// stopped while acquiring the first fix
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	watch, err := c.source.Watch(
		func(pos core.Position) { c.onWatchFix(gen, pos) },
		func(err error) { c.onWatchError(gen, err) },
	)
	if err != nil {
		c.setLastError(err)
		c.logger.Warn("Unable to watch position", "kind", core.KindOf(err), "error", err)
		return fmt.Errorf("start tracking: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen {
		// stopped while the watch was being set up
		c.mu.Unlock()
		watch.Clear()
		return nil
	}
	c.active = true
	c.activeFlag.Store(true)
	c.watch = watch
	c.lastError = core.KindNone
	c.sessionID = c.cfg.SessionID
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	info := core.SessionInfo{State: core.SessionActive, SessionID: c.sessionID}
	c.mu.Unlock()

	c.logger.Info("Tracking started", "sessionId", info.SessionID)
	c.notifySession(ChangeSessionStarted, info)

	c.goInflight(func() {
		cctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()
		if err := c.push.Connect(cctx, c.onEnvelope); err != nil {
			c.suppress("push.connect", err)
		}
	})

	c.handleFix(gen, initial, core.SourceGeolocation)
	return nil
}

// Stop ends the session: the watch is cleared, the server and peers are told
// best effort and the push channel is closed. Responses still in flight are
// discarded. Stop during Start aborts the pending session. Stop on a
// stopped session does nothing.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.active {
		if c.starting {
			c.gen++
		}
		c.mu.Unlock()
		return nil
	}
	watch := c.watch
	c.watch = nil
	c.active = false
	c.activeFlag.Store(false)
	c.gen++
	info := core.SessionInfo{State: core.SessionStopped, LastError: c.lastError}
	c.mu.Unlock()

	watch.Clear()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := c.api.Stop(ctx); err != nil {
			c.suppress("rest.stop", err)
		}
	})
	wg.Go(func() {
		if err := c.push.SendStop(ctx); err != nil {
			c.suppress("push.stop", err)
		}
	})
	wg.Wait()

	if err := c.push.Close(); err != nil {
		c.logger.Debug("Closing push channel", "error", err)
	}

	if c.journal != nil {
		if err := c.journal.RecordStop(c.cfg.SubjectID, time.Now().UTC()); err != nil {
			c.logger.Warn("Journal stop failed", "error", err)
		}
	}

	c.logger.Info("Tracking stopped")
	c.notifySession(ChangeSessionStopped, info)
	return nil
}

// Close stops the session and tears the view down: every marker is removed
// and the subject map is emptied.
func (c *Controller) Close() error {
	err := c.Stop(context.Background())
	c.Wait()
	c.events.Close()

	c.mu.Lock()
	for id, handle := range c.handles.Drain() {
		if rerr := c.renderer.Remove(handle); rerr != nil {
			c.logger.Debug("Marker remove failed", "subject", id, "error", rerr)
		}
	}
	c.subjects.Reset()
	c.mu.Unlock()

	c.closeSubscribers()
	return err
}

func (c *Controller) onWatchFix(gen uint64, pos core.Position) {
	c.handleFix(gen, pos, core.SourceGeolocation)
}

// onWatchError ends the session on a denied permission. Other watch errors
// are transient and only recorded.
func (c *Controller) onWatchError(gen uint64, err error) {
	c.mu.Lock()
	current := c.gen == gen && c.active
	c.mu.Unlock()
	if !current {
		return
	}

	c.setLastError(err)
	if errors.Is(err, core.ErrGeolocationDenied) {
		c.logger.Warn("Geolocation permission revoked, stopping", "error", err)
		c.goInflight(func() {
			_ = c.Stop(context.Background())
		})
		return
	}
	c.logger.Debug("Watch error", "kind", core.KindOf(err), "error", err)
}

func (c *Controller) setLastError(err error) {
	c.mu.Lock()
	c.lastError = core.KindOf(err)
	c.mu.Unlock()
}

// sessionFor returns the session id to send with a fix from generation gen.
func (c *Controller) sessionFor(gen uint64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active && c.gen == gen {
		return c.sessionID
	}
	return c.cfg.SessionID
}
