package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/studyhub/locsync/internal/api"
	"github.com/studyhub/locsync/internal/geo"
	"github.com/studyhub/locsync/pkg/core"
	"github.com/studyhub/locsync/pkg/streaming"
)

// PeerOutcome reports what OnPeerUpdate did with an update.
type PeerOutcome string

const (
	PeerApplied         PeerOutcome = "applied"
	PeerDroppedAccuracy PeerOutcome = "dropped_accuracy"
	PeerDroppedStale    PeerOutcome = "dropped_stale"
	PeerInvalid         PeerOutcome = "invalid"
)

// OnPeerUpdate merges a position received for subjectID. Peers whose
// accuracy is worse than the threshold are dropped without touching the
// map. An update for the current user is treated as a server echo: see
// applySelfEchoLocked.
func (c *Controller) OnPeerUpdate(subjectID, subjectType string, pos core.Position) PeerOutcome {
	if subjectID == "" || !pos.Valid() {
		c.metrics.dropped("invalid")
		return PeerInvalid
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if subjectID == c.cfg.SubjectID {
		if c.applySelfEchoLocked(pos, time.Now().UTC()) {
			return PeerApplied
		}
		return PeerDroppedStale
	}
	return c.applyPeerLocked(subjectID, subjectType, pos)
}

func (c *Controller) applyPeerLocked(id, subjectType string, pos core.Position) PeerOutcome {
	if !pos.Valid() {
		c.metrics.dropped("invalid")
		return PeerInvalid
	}
	if pos.AccuracyWorseThan(c.cfg.AccuracyThresholdM) {
		c.metrics.dropped("accuracy")
		c.logger.Debug("Peer update dropped", "subject", id, "accuracy", *pos.Accuracy)
		return PeerDroppedAccuracy
	}

	prev, had := c.subjects.Get(id)
	if had && c.cfg.RejectOutOfOrder && pos.OlderThan(prev.LatestPosition) {
		c.metrics.dropped("stale")
		return PeerDroppedStale
	}

	if subjectType == "" {
		subjectType = core.SubjectTypeStudent
		if had {
			subjectType = prev.SubjectType
		}
	}

	s := core.TrackedSubject{
		SubjectID:      id,
		SubjectType:    subjectType,
		LatestPosition: pos,
	}
	c.subjects.Upsert(s)
	c.drawLocked(s)
	c.notifySubject(s)
	return PeerApplied
}

// RemovePeer drops a peer and its marker. The current user is never removed.
func (c *Controller) RemovePeer(subjectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removePeerLocked(subjectID)
}

func (c *Controller) removePeerLocked(id string) bool {
	if id == c.cfg.SubjectID {
		return false
	}
	if _, ok := c.subjects.Get(id); !ok {
		return false
	}
	c.subjects.Delete(id)
	c.eraseLocked(id)
	c.notify(Change{Kind: ChangeSubjectRemoved, SubjectID: id})
	return true
}

// replacePeersLocked makes the peer set equal to records. Peers absent from
// records are removed together with their markers.
func (c *Controller) replacePeersLocked(records []streaming.LocationRecord, receivedAt time.Time) {
	keep := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.UserID == "" || rec.UserID == c.cfg.SubjectID {
			continue
		}
		if c.applyPeerLocked(rec.UserID, rec.UserType, rec.Position(receivedAt)) != PeerInvalid {
			keep[rec.UserID] = true
		}
	}
	for _, id := range c.subjects.PeerIDs() {
		if !keep[id] {
			c.removePeerLocked(id)
		}
	}
}

// SearchNearby queries peers within radiusM meters of center, or of the
// current user's position when center is nil, and replaces the peer set with
// the result. It needs a current user position. While tracking, a failed
// query is logged and the existing peers are returned.
func (c *Controller) SearchNearby(ctx context.Context, center *core.Position, radiusM float64) ([]core.TrackedSubject, error) {
	c.mu.Lock()
	gen, active := c.gen, c.active
	self, ok := c.subjects.Get(c.cfg.SubjectID)
	c.mu.Unlock()

	if !ok {
		return nil, core.ErrNoBaselinePosition
	}
	origin := self.LatestPosition
	if center != nil {
		if !center.Valid() {
			return nil, fmt.Errorf("%w: lat=%v lng=%v", core.ErrInvalidCoordinate, center.Latitude, center.Longitude)
		}
		origin = *center
	}
	if radiusM <= 0 {
		radiusM = c.cfg.NearbyRadiusM
	}

	res, err := c.api.Nearby(ctx, api.NearbyQuery{
		Latitude:    origin.Latitude,
		Longitude:   origin.Longitude,
		Radius:      radiusM,
		ExcludeSelf: true,
	})
	if err != nil {
		if !active {
			return nil, err
		}
		c.suppress("rest.nearby", err)
		return c.peersByDistance(origin), nil
	}

	c.mu.Lock()
	if c.gen != gen {
		c.metrics.stale("rest.nearby")
	} else {
		c.replacePeersLocked(res.Locations, time.Now().UTC())
	}
	c.mu.Unlock()

	return c.peersByDistance(origin), nil
}

// NearbyPeers returns the tracked peers ordered by distance from the
// current user. It returns nil when no current user position is known.
func (c *Controller) NearbyPeers() []core.TrackedSubject {
	self, ok := c.Self()
	if !ok {
		return nil
	}
	return c.peersByDistance(self.LatestPosition)
}

func (c *Controller) peersByDistance(origin core.Position) []core.TrackedSubject {
	peers := make([]core.TrackedSubject, 0)
	for _, s := range c.subjects.All() {
		if !s.IsCurrentUser {
			peers = append(peers, s)
		}
	}
	geo.SortByDistance(peers, func(s core.TrackedSubject) float64 {
		return geo.Distance(origin, s.LatestPosition)
	})
	return peers
}
