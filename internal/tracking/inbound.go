package tracking

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/studyhub/locsync/internal/dispatcher"
	"github.com/studyhub/locsync/pkg/streaming"
)

// registerHandlers routes push-channel events. State-changing handlers run
// on the reader goroutine, in arrival order. Server error reports are only
// logged and are queued off the reader.
func (c *Controller) registerHandlers() {
	c.events.Register(streaming.TypeLocationUpdate, c.handlePeerEvent, dispatcher.Logged())
	c.events.Register(streaming.TypeLocationConfirmed, c.handleConfirmed, dispatcher.Logged())
	c.events.Register(streaming.TypeNearbyResponse, c.handleNearby, dispatcher.Logged())
	c.events.Register(streaming.TypeLocationStopped, c.handleStopped, dispatcher.Logged())
	c.events.Register(streaming.TypeError, c.handleServerError, dispatcher.Buffered(errorQueueSize))
}

const errorQueueSize = 32

// onEnvelope is the push channel's inbound handler.
func (c *Controller) onEnvelope(env streaming.Envelope) {
	err := c.events.Dispatch(dispatcher.Event{
		Type:       env.Type,
		Payload:    env.Payload,
		ReceivedAt: time.Now().UTC(),
	})
	switch {
	case errors.Is(err, dispatcher.ErrUnknownEvent):
		c.logger.Debug("Ignoring push event", "type", env.Type)
	case errors.Is(err, dispatcher.ErrQueueFull), errors.Is(err, dispatcher.ErrClosed):
		c.logger.Debug("Push event dropped", "type", env.Type, "error", err)
	}
}

// HandleEnvelope feeds an inbound push event through the same path as the
// live channel.
func (c *Controller) HandleEnvelope(env streaming.Envelope) {
	c.onEnvelope(env)
}

func decode[T any](e dispatcher.Event) (T, error) {
	var v T
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return v, nil
}

func (c *Controller) handlePeerEvent(e dispatcher.Event) error {
	rec, err := decode[streaming.LocationRecord](e)
	if err != nil {
		return err
	}
	c.OnPeerUpdate(rec.UserID, rec.UserType, rec.Position(e.ReceivedAt))
	return nil
}

// handleConfirmed merges the server's acknowledgement of the current user's
// latest fix.
func (c *Controller) handleConfirmed(e dispatcher.Event) error {
	rec, err := decode[streaming.LocationRecord](e)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	self, ok := c.subjects.Get(c.cfg.SubjectID)
	if !ok || !c.active {
		return nil
	}
	pos := rec.Position(self.LatestPosition.CapturedAt)
	if !self.LatestPosition.SameFix(pos) {
		c.metrics.stale("push.confirmed")
		return nil
	}
	if rec.Address != "" && self.LatestPosition.Address == "" {
		c.attachAddressLocked(pos)
	}
	return nil
}

func (c *Controller) handleNearby(e dispatcher.Event) error {
	res, err := decode[streaming.NearbyPayload](e)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replacePeersLocked(res.Locations, e.ReceivedAt)
	return nil
}

func (c *Controller) handleStopped(e dispatcher.Event) error {
	p, err := decode[streaming.StoppedPayload](e)
	if err != nil {
		return err
	}
	c.RemovePeer(p.UserID)
	return nil
}

func (c *Controller) handleServerError(e dispatcher.Event) error {
	p, err := decode[streaming.ErrorPayload](e)
	if err != nil {
		return err
	}
	c.logger.Warn("Push channel error", "message", p.Message)
	return nil
}
