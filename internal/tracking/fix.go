package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/studyhub/locsync/pkg/core"
	"github.com/studyhub/locsync/pkg/streaming"
)

// handleFix applies a device fix from session generation gen and propagates
// it. Fixes from a generation that has since ended are dropped.
func (c *Controller) handleFix(gen uint64, pos core.Position, source core.FixSource) {
	if !pos.Valid() {
		c.logger.Warn("Discarding invalid fix", "lat", pos.Latitude, "lng", pos.Longitude)
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.metrics.stale("fix")
		return
	}
	applied := c.applySelfLocked(pos, source)
	c.mu.Unlock()

	if applied {
		c.goInflight(func() { c.propagate(gen, pos) })
	}
}

// SubmitManualPosition validates a coordinate and applies it as the current
// user's position, with or without an active session. An invalid coordinate
// changes nothing.
func (c *Controller) SubmitManualPosition(ctx context.Context, lat, lng float64) (core.TrackedSubject, error) {
	if !core.ValidCoordinate(lat, lng) {
		return core.TrackedSubject{}, fmt.Errorf("%w: lat=%v lng=%v", core.ErrInvalidCoordinate, lat, lng)
	}
	pos := core.Position{Latitude: lat, Longitude: lng, CapturedAt: time.Now().UTC()}

	c.mu.Lock()
	gen := c.gen
	applied := c.applySelfLocked(pos, core.SourceManual)
	self, _ := c.subjects.Get(c.cfg.SubjectID)
	c.mu.Unlock()

	if applied {
		c.goInflight(func() { c.propagate(gen, pos) })
	}
	return self, nil
}

// RefreshCurrent asks the location service for the current user's stored
// position and applies it. While tracking, failures are logged and the
// local entry is returned unchanged.
func (c *Controller) RefreshCurrent(ctx context.Context) (core.TrackedSubject, error) {
	c.mu.Lock()
	gen, active := c.gen, c.active
	c.mu.Unlock()

	rec, err := c.api.Current(ctx)
	if err != nil {
		if active {
			c.suppress("rest.current", err)
			self, _ := c.Self()
			return self, nil
		}
		return core.TrackedSubject{}, err
	}

	pos := rec.Position(time.Now().UTC())
	if !pos.Valid() {
		return core.TrackedSubject{}, fmt.Errorf("%w: server returned lat=%v lng=%v", core.ErrInvalidCoordinate, pos.Latitude, pos.Longitude)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		c.metrics.stale("rest.current")
	} else {
		c.applySelfEchoLocked(pos, time.Now().UTC())
	}
	self, _ := c.subjects.Get(c.cfg.SubjectID)
	return self, nil
}

// applySelfLocked writes pos to the current user's entry. The current user
// is never filtered by accuracy; a fix above the threshold flags the entry
// as degraded instead.
func (c *Controller) applySelfLocked(pos core.Position, source core.FixSource) bool {
	prev, had := c.subjects.Get(c.cfg.SubjectID)
	if had && c.cfg.RejectOutOfOrder && pos.OlderThan(prev.LatestPosition) {
		c.metrics.stale("self")
		c.logger.Debug("Out of order fix dropped", "source", source, "capturedAt", pos.CapturedAt)
		return false
	}

	s := core.TrackedSubject{
		SubjectID:      c.cfg.SubjectID,
		SubjectType:    c.cfg.SubjectType,
		LatestPosition: pos,
		IsCurrentUser:  true,
		Degraded:       pos.AccuracyWorseThan(c.cfg.AccuracyThresholdM),
	}
	c.subjects.Upsert(s)
	c.drawLocked(s)
	c.metrics.applied(source)
	c.notifySubject(s)

	wasDegraded := had && prev.Degraded
	switch {
	case s.Degraded && !wasDegraded:
		c.logger.Warn("Position accuracy degraded", "accuracy", *pos.Accuracy, "threshold", c.cfg.AccuracyThresholdM)
		c.notify(Change{Kind: ChangeDegradationRaised, SubjectID: s.SubjectID, Subject: &s})
	case !s.Degraded && wasDegraded:
		c.logger.Info("Position accuracy recovered")
		c.notify(Change{Kind: ChangeDegradationCleared, SubjectID: s.SubjectID, Subject: &s})
	}

	if c.journal != nil && !(had && prev.LatestPosition.SameFix(pos)) {
		c.journalLocked(pos, source)
	}
	return true
}

// applySelfEchoLocked merges a server-held position of the current user. A
// record at the coordinates already held only contributes its address.
// Anything else takes the held fix's capture time, or receivedAt when none
// is held, so a server clock never outranks a later device fix.
func (c *Controller) applySelfEchoLocked(pos core.Position, receivedAt time.Time) bool {
	pos.CapturedAt = receivedAt
	if self, ok := c.subjects.Get(c.cfg.SubjectID); ok {
		held := self.LatestPosition
		if held.Latitude == pos.Latitude && held.Longitude == pos.Longitude {
			if pos.Address != "" && held.Address == "" {
				c.attachAddressLocked(held.WithAddress(pos.Address))
			}
			return true
		}
		if !held.CapturedAt.IsZero() {
			pos.CapturedAt = held.CapturedAt
		}
	}
	return c.applySelfLocked(pos, core.SourceServer)
}

func (c *Controller) journalLocked(pos core.Position, source core.FixSource) {
	sessionID := c.cfg.SessionID
	if c.active {
		sessionID = c.sessionID
	}
	err := c.journal.RecordFix(core.Fix{
		SubjectID:  c.cfg.SubjectID,
		SessionID:  sessionID,
		Source:     source,
		Position:   pos,
		DeviceInfo: c.cfg.DeviceInfo,
	})
	switch {
	case errors.Is(err, core.ErrJournalClosed):
		c.logger.Debug("Journal closed, fix not recorded")
	case err != nil:
		c.logger.Warn("Journal write failed", "error", err)
	}
}

// propagate resolves an address, then sends the fix to the REST service and
// the push channel concurrently. Neither call blocks the other and failures
// are only logged.
func (c *Controller) propagate(gen uint64, pos core.Position) {
	if pos.Address == "" {
		if addr := c.lookupAddress(pos); addr != "" {
			pos = pos.WithAddress(addr)
			c.mu.Lock()
			if c.gen == gen {
				c.attachAddressLocked(pos)
			}
			c.mu.Unlock()
		}
	}

	payload := streaming.NewLocationPayload(pos, c.sessionFor(gen), c.cfg.DeviceInfo)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()

	var wg conc.WaitGroup
	wg.Go(func() {
		rec, err := c.api.Update(ctx, payload)
		if err != nil {
			c.suppress("rest.update", err)
			return
		}
		c.confirm(gen, pos, rec, "rest.update")
	})
	wg.Go(func() {
		if err := c.push.SendUpdate(ctx, payload); err != nil {
			c.suppress("push.update", err)
		}
	})
	wg.Wait()
}

func (c *Controller) lookupAddress(pos core.Position) string {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.GeocodeTimeout)
	defer cancel()

	addr, err := c.geocoder.Reverse(ctx, pos.Latitude, pos.Longitude)
	if err != nil {
		c.logger.Debug("Reverse geocoding failed", "error", err)
		return ""
	}
	return addr
}

// attachAddressLocked adds pos.Address to the current user's entry if that
// entry still holds the same fix.
func (c *Controller) attachAddressLocked(pos core.Position) bool {
	self, ok := c.subjects.Get(c.cfg.SubjectID)
	if !ok || !self.LatestPosition.SameFix(pos) || self.LatestPosition.Address == pos.Address {
		return false
	}
	self.LatestPosition = self.LatestPosition.WithAddress(pos.Address)
	c.subjects.Upsert(self)
	c.drawLocked(self)
	c.notifySubject(self)
	return true
}

// confirm applies the server's echo of a sent fix. The echo is discarded
// when the session changed since the fix was sent or a newer fix has been
// applied; otherwise only the server-resolved address is taken from it.
func (c *Controller) confirm(gen uint64, sent core.Position, rec streaming.LocationRecord, op string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		c.metrics.stale(op)
		c.logger.Debug("Discarding response from ended session", "op", op)
		return
	}
	self, ok := c.subjects.Get(c.cfg.SubjectID)
	if !ok || !self.LatestPosition.SameFix(sent) {
		c.metrics.stale(op)
		return
	}
	if rec.Address != "" && self.LatestPosition.Address == "" {
		c.attachAddressLocked(sent.WithAddress(rec.Address))
	}
}
