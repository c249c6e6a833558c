// Package tracking keeps the local view of tracked subjects in sync with the
// device position, the REST location service and the push channel.
package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/studyhub/locsync/internal/api"
	"github.com/studyhub/locsync/internal/cache"
	"github.com/studyhub/locsync/internal/config"
	"github.com/studyhub/locsync/internal/dispatcher"
	"github.com/studyhub/locsync/internal/geocode"
	"github.com/studyhub/locsync/internal/geolocation"
	"github.com/studyhub/locsync/internal/logging"
	"github.com/studyhub/locsync/internal/markers"
	"github.com/studyhub/locsync/internal/monitor"
	"github.com/studyhub/locsync/internal/storage"
	"github.com/studyhub/locsync/pkg/core"
	"github.com/studyhub/locsync/pkg/streaming"
)

// DefaultSelfID names the current user when no subject id is configured.
const DefaultSelfID = "self"

const (
	defaultGeocodeTimeout = 3 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultNearbyRadiusM  = 5000.0
)

// LocationService is the REST location API.
type LocationService interface {
	Update(ctx context.Context, payload streaming.LocationPayload) (streaming.LocationRecord, error)
	Current(ctx context.Context) (streaming.LocationRecord, error)
	History(ctx context.Context, q api.HistoryQuery) (api.HistoryPage, error)
	Nearby(ctx context.Context, q api.NearbyQuery) (streaming.NearbyPayload, error)
	Stop(ctx context.Context) error
}

// PushChannel is the bidirectional broadcast channel.
type PushChannel interface {
	Connect(ctx context.Context, handler func(streaming.Envelope)) error
	Connected() bool
	SendUpdate(ctx context.Context, payload streaming.LocationPayload) error
	SendStop(ctx context.Context) error
	Close() error
}

// Config tunes the controller.
type Config struct {
	SubjectID   string
	SubjectType string
	// SessionID is sent with every update. Empty generates one per session.
	SessionID string
	// AccuracyThresholdM is both the peer accuracy gate and the self
	// degradation threshold, in meters.
	AccuracyThresholdM float64
	// RejectOutOfOrder drops an update captured before the stored position
	// of the same subject. When false the last write wins.
	RejectOutOfOrder bool
	GeocodeTimeout   time.Duration
	NearbyRadiusM    float64
	// RequestTimeout bounds push connects and stop notifications.
	RequestTimeout time.Duration
	DeviceInfo     map[string]string
}

// ConfigFrom converts the file configuration.
func ConfigFrom(cfg config.TrackingConfig) Config {
	return Config{
		SubjectID:          cfg.SubjectID,
		SubjectType:        cfg.SubjectType,
		SessionID:          cfg.SessionID,
		AccuracyThresholdM: cfg.AccuracyThresholdM,
		RejectOutOfOrder:   cfg.RejectOutOfOrder,
		GeocodeTimeout:     cfg.GeocodeTimeout,
		NearbyRadiusM:      cfg.NearbyRadiusM,
		DeviceInfo:         cfg.DeviceInfo,
	}
}

func (c Config) withDefaults() Config {
	if c.SubjectID == "" {
		c.SubjectID = DefaultSelfID
	}
	if c.SubjectType == "" {
		c.SubjectType = core.SubjectTypeStudent
	}
	if c.AccuracyThresholdM <= 0 {
		c.AccuracyThresholdM = core.DefaultAccuracyThreshold
	}
	if c.GeocodeTimeout <= 0 {
		c.GeocodeTimeout = defaultGeocodeTimeout
	}
	if c.NearbyRadiusM <= 0 {
		c.NearbyRadiusM = defaultNearbyRadiusM
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}

// Dependencies holds the controller's collaborators. Geocoder and Journal
// are optional.
type Dependencies struct {
	Source   geolocation.Source
	API      LocationService
	Push     PushChannel
	Renderer markers.Renderer
	Geocoder geocode.Geocoder
	Journal  storage.Backend
	Logger   *slog.Logger
}

// Controller owns one tracking session, the subject map and the marker
// handles. All mutations go through mu.
type Controller struct {
	cfg      Config
	source   geolocation.Source
	api      LocationService
	push     PushChannel
	renderer markers.Renderer
	geocoder geocode.Geocoder
	journal  storage.Backend
	logger   *slog.Logger

	subjects *cache.SubjectCache
	handles  *cache.MarkerCache
	events   *dispatcher.Dispatcher
	metrics  *metrics

	mu        sync.Mutex
	active    bool
	starting  bool
	gen       uint64
	watch     geolocation.Watch
	sessionID string
	lastError core.ErrorKind

	// mirrors of session state readable without mu, for log attributes
	activeFlag atomic.Bool

	inflight sync.WaitGroup

	subsMu sync.Mutex
	subs   map[int]chan Change
	nextID int
	closed bool
}

// New creates a controller. Nothing starts until Start is called.
func New(cfg Config, deps Dependencies) (*Controller, error) {
	if deps.Source == nil || deps.API == nil || deps.Push == nil || deps.Renderer == nil {
		return nil, fmt.Errorf("tracking: source, api, push and renderer are required")
	}
	if deps.Geocoder == nil {
		deps.Geocoder = geocode.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	logger := deps.Logger.With("component", "tracking")

	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	events, err := dispatcher.New(logging.NewDispatcherLogger(logger))
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:      cfg.withDefaults(),
		source:   deps.Source,
		api:      deps.API,
		push:     deps.Push,
		renderer: deps.Renderer,
		geocoder: deps.Geocoder,
		journal:  deps.Journal,
		logger:   logger,
		subjects: cache.NewSubjectCache(),
		handles:  cache.NewMarkerCache(),
		events:   events,
		metrics:  m,
		subs:     make(map[int]chan Change),
	}
	c.registerHandlers()
	return c, nil
}

// SelfID returns the current user's subject id.
func (c *Controller) SelfID() string {
	return c.cfg.SubjectID
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Session returns a snapshot of the tracking session.
func (c *Controller) Session() core.SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := core.SessionInfo{State: core.SessionStopped, LastError: c.lastError}
	if c.active {
		info.State = core.SessionActive
		info.SessionID = c.sessionID
	}
	return info
}

// Subjects returns every tracked subject, the current user first.
func (c *Controller) Subjects() []core.TrackedSubject {
	return c.subjects.All()
}

// Subject returns one tracked subject.
func (c *Controller) Subject(id string) (core.TrackedSubject, bool) {
	return c.subjects.Get(id)
}

// Self returns the current user's entry, if a position is known.
func (c *Controller) Self() (core.TrackedSubject, bool) {
	return c.subjects.Get(c.cfg.SubjectID)
}

// Peers returns the number of tracked subjects other than the current user.
func (c *Controller) Peers() int {
	return len(c.subjects.PeerIDs())
}

// Markers returns the number of marker handles held.
func (c *Controller) Markers() int {
	return c.handles.Len()
}

// PushConnected reports whether the push channel has a live socket.
func (c *Controller) PushConnected() bool {
	return c.push.Connected()
}

// PendingWrites returns the journal's queued record count, if it buffers.
func (c *Controller) PendingWrites() int {
	if p, ok := c.journal.(storage.Pending); ok {
		return p.PendingWrites()
	}
	return 0
}

// Status fills the application fields of a monitor snapshot.
func (c *Controller) Status() monitor.Status {
	return monitor.Status{
		Session:       c.Session(),
		Subjects:      c.subjects.Len(),
		Peers:         c.Peers(),
		Markers:       c.Markers(),
		PushConnected: c.PushConnected(),
		PendingWrites: c.PendingWrites(),
	}
}

// LogAttrs returns attributes describing the session for log records. It
// never takes the controller lock, so it is safe inside any log call.
func (c *Controller) LogAttrs(context.Context) []slog.Attr {
	return []slog.Attr{
		slog.Bool("tracking", c.activeFlag.Load()),
		slog.Int("subjects", c.subjects.Len()),
	}
}

// Wait blocks until in-flight propagation work has finished.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// drawLocked adds or updates the subject's marker. Renderer failures are
// logged; the subject map stays authoritative.
func (c *Controller) drawLocked(s core.TrackedSubject) {
	if handle, ok := c.handles.Get(s.SubjectID); ok {
		if err := c.renderer.Update(handle, s); err != nil {
			c.logger.Warn("Marker update failed", "subject", s.SubjectID, "error", err)
		}
		return
	}
	handle, err := c.renderer.Add(s)
	if err != nil {
		c.logger.Warn("Marker add failed", "subject", s.SubjectID, "error", err)
		return
	}
	c.handles.Set(s.SubjectID, handle)
}

func (c *Controller) eraseLocked(id string) {
	handle, ok := c.handles.Get(id)
	if !ok {
		return
	}
	c.handles.Delete(id)
	if err := c.renderer.Remove(handle); err != nil {
		c.logger.Warn("Marker remove failed", "subject", id, "error", err)
	}
}

// suppress logs a network failure that must not reach the caller.
func (c *Controller) suppress(op string, err error) {
	c.metrics.suppressed(op)
	c.logger.Debug("Network call failed", "op", op, "kind", core.KindOf(err), "error", err)
}

// goInflight runs fn in the background and tracks it for Wait.
func (c *Controller) goInflight(fn func()) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		fn()
	}()
}
