package api

import (
	"math"
	"time"

	"github.com/studyhub/locsync/pkg/core"
	"github.com/studyhub/locsync/pkg/streaming"
)

const demoUserID = "demo-user"

// demoPeers are fixed offsets, in meters north and east of the query center.
var demoPeers = []struct {
	id       string
	north    float64
	east     float64
	accuracy float64
}{
	{"demo-peer-1", 120, 80, 12},
	{"demo-peer-2", -300, 450, 30},
	{"demo-peer-3", 900, -650, 55},
}

func (c *Client) demoUpdate(p streaming.LocationPayload) streaming.LocationRecord {
	ts := time.Now().UTC()
	if p.Timestamp != nil {
		ts = *p.Timestamp
	}
	rec := streaming.LocationRecord{
		UserID:    demoUserID,
		UserType:  core.SubjectTypeStudent,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Accuracy:  p.Accuracy,
		Altitude:  p.Altitude,
		Heading:   p.Heading,
		Speed:     p.Speed,
		Address:   p.Address,
		SessionID: p.SessionID,
		Timestamp: &ts,
	}
	c.mu.Lock()
	c.last = &rec
	c.mu.Unlock()
	return rec
}

func demoNearby(q NearbyQuery, now time.Time) streaming.NearbyPayload {
	ts := now.UTC()
	res := streaming.NearbyPayload{
		Center: &streaming.LocationRecord{Latitude: q.Latitude, Longitude: q.Longitude},
		Radius: q.Radius,
	}
	for _, p := range demoPeers {
		dist := math.Hypot(p.north, p.east)
		if q.Radius > 0 && dist > q.Radius {
			continue
		}
		lat := q.Latitude + p.north/111320
		lng := q.Longitude + p.east/(111320*math.Cos(q.Latitude*math.Pi/180))
		res.Locations = append(res.Locations, streaming.LocationRecord{
			UserID:    p.id,
			UserType:  core.SubjectTypeStudent,
			Latitude:  lat,
			Longitude: lng,
			Accuracy:  core.Float(p.accuracy),
			Timestamp: &ts,
			Distance:  core.Float(dist),
		})
	}
	res.Count = len(res.Locations)
	if res.Locations == nil {
		res.Locations = []streaming.LocationRecord{}
	}
	return res
}
