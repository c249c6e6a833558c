// Package markers keeps a map layer's marker set in step with tracked subjects.
package markers

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/studyhub/locsync/internal/geo"
	"github.com/studyhub/locsync/pkg/core"
)

// ErrUnknownHandle is returned when updating or removing a marker that does not exist.
var ErrUnknownHandle = errors.New("unknown marker handle")

// Renderer owns the visual marker set. Handles are opaque to callers.
type Renderer interface {
	Add(subject core.TrackedSubject) (string, error)
	Update(handle string, subject core.TrackedSubject) error
	Remove(handle string) error
}

type marker struct {
	subject core.TrackedSubject
	point   geom.Point
	seq     uint64
}

// GeoJSONRenderer is an in-memory renderer that exposes its markers as a
// GeoJSON feature collection for a browser map layer.
type GeoJSONRenderer struct {
	mu      sync.RWMutex
	markers map[string]marker
	nextID  uint64
}

func NewGeoJSONRenderer() *GeoJSONRenderer {
	return &GeoJSONRenderer{markers: make(map[string]marker)}
}

func (r *GeoJSONRenderer) Add(subject core.TrackedSubject) (string, error) {
	pt, err := geo.Point4326(subject.LatestPosition)
	if err != nil {
		return "", fmt.Errorf("add marker for %s: %w", subject.SubjectID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	handle := fmt.Sprintf("marker-%d", r.nextID)
	r.markers[handle] = marker{subject: subject, point: pt, seq: r.nextID}
	return handle, nil
}

func (r *GeoJSONRenderer) Update(handle string, subject core.TrackedSubject) error {
	pt, err := geo.Point4326(subject.LatestPosition)
	if err != nil {
		return fmt.Errorf("update marker for %s: %w", subject.SubjectID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markers[handle]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	m.subject = subject
	m.point = pt
	r.markers[handle] = m
	return nil
}

func (r *GeoJSONRenderer) Remove(handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markers[handle]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	delete(r.markers, handle)
	return nil
}

func (r *GeoJSONRenderer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markers)
}

// Subject returns the subject drawn by handle.
func (r *GeoJSONRenderer) Subject(handle string) (core.TrackedSubject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markers[handle]
	return m.subject, ok
}

// FeatureCollection renders every marker as a lon/lat point feature, in
// insertion order. Web Mercator coordinates are carried as properties for
// tile renderers that draw in EPSG:3857.
func (r *GeoJSONRenderer) FeatureCollection() geom.GeoJSONFeatureCollection {
	r.mu.RLock()
	handles := make([]string, 0, len(r.markers))
	for h := range r.markers {
		handles = append(handles, h)
	}
	snapshot := make(map[string]marker, len(r.markers))
	for h, m := range r.markers {
		snapshot[h] = m
	}
	r.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool { return snapshot[handles[i]].seq < snapshot[handles[j]].seq })

	fc := make(geom.GeoJSONFeatureCollection, 0, len(handles))
	for _, h := range handles {
		fc = append(fc, feature(h, snapshot[h]))
	}
	return fc
}

func feature(handle string, m marker) geom.GeoJSONFeature {
	s := m.subject
	pos := s.LatestPosition
	x, y := geo.WebMercator(pos.Latitude, pos.Longitude)

	props := map[string]interface{}{
		"subjectId":     s.SubjectID,
		"subjectType":   s.SubjectType,
		"isCurrentUser": s.IsCurrentUser,
		"degraded":      s.Degraded,
		"mercatorX":     x,
		"mercatorY":     y,
	}
	if pos.Accuracy != nil {
		props["accuracy"] = *pos.Accuracy
	}
	if pos.Heading != nil {
		props["heading"] = *pos.Heading
	}
	if pos.Address != "" {
		props["address"] = pos.Address
	}
	if !pos.CapturedAt.IsZero() {
		props["capturedAt"] = pos.CapturedAt.UTC().Format(time.RFC3339)
	}

	return geom.GeoJSONFeature{
		ID:         handle,
		Geometry:   m.point.AsGeometry(),
		Properties: props,
	}
}
