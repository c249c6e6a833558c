// Package server exposes the tracking controller to a browser UI over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/peterstace/simplefeatures/geom"

	"github.com/studyhub/locsync/internal/api"
	"github.com/studyhub/locsync/internal/tracking"
	"github.com/studyhub/locsync/pkg/core"
)

// Tracker is the part of tracking.Controller the server drives.
type Tracker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Session() core.SessionInfo
	Subjects() []core.TrackedSubject
	SubmitManualPosition(ctx context.Context, lat, lng float64) (core.TrackedSubject, error)
	SearchNearby(ctx context.Context, center *core.Position, radiusM float64) ([]core.TrackedSubject, error)
	History(ctx context.Context, q api.HistoryQuery) (api.HistoryPage, error)
	Subscribe() (<-chan tracking.Change, func())
}

// MarkerSource renders the current markers as GeoJSON.
type MarkerSource interface {
	FeatureCollection() geom.GeoJSONFeatureCollection
}

// Dependencies holds all dependencies for the server
type Dependencies struct {
	Tracker Tracker
	Markers MarkerSource
	Logger  *slog.Logger
	Addr    string
}

// Server is the local UI API.
type Server struct {
	deps   Dependencies
	engine *gin.Engine
	srv    *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New builds the router. Call Start to listen.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "server")

	s := &Server{deps: deps}
	s.engine = s.routes()
	s.srv = &http.Server{
		Addr:              deps.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.deps.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.deps.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.deps.Logger.Info("Local API listening", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deps.Logger.Error("Local API stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.deps.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server, waiting for active requests up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(recovery(s.deps.Logger), requestLogger(s.deps.Logger))

	h := &handler{tracker: s.deps.Tracker, markers: s.deps.Markers, logger: s.deps.Logger}

	r.GET("/health", h.health)

	g := r.Group("/api")
	g.GET("/subjects", h.subjects)
	g.GET("/session", h.session)
	g.POST("/tracking/start", h.start)
	g.POST("/tracking/stop", h.stop)
	g.POST("/location/manual", h.manual)
	g.GET("/location/nearby", h.nearby)
	g.GET("/location/history", h.history)
	g.GET("/markers.geojson", h.markerCollection)
	g.GET("/events", h.events)

	return r
}
