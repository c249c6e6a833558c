package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/locsync/internal/api"
	"github.com/studyhub/locsync/internal/markers"
	"github.com/studyhub/locsync/internal/tracking"
	"github.com/studyhub/locsync/pkg/core"
)

type stubTracker struct {
	mu        sync.Mutex
	startErr  error
	active    bool
	subjects  []core.TrackedSubject
	manualErr error
	manual    []float64
	nearby    []core.TrackedSubject
	nearbyErr error
	center    *core.Position
	radius    float64
	history   api.HistoryPage
	query     api.HistoryQuery
	changes   chan tracking.Change
}

func (s *stubTracker) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.active = true
	return nil
}

func (s *stubTracker) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	return nil
}

func (s *stubTracker) Session() core.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return core.SessionInfo{State: core.SessionActive, SessionID: "sess-1"}
	}
	return core.SessionInfo{State: core.SessionStopped, LastError: core.KindOf(s.startErr)}
}

func (s *stubTracker) Subjects() []core.TrackedSubject {
	return s.subjects
}

func (s *stubTracker) SubmitManualPosition(ctx context.Context, lat, lng float64) (core.TrackedSubject, error) {
	if s.manualErr != nil {
		return core.TrackedSubject{}, s.manualErr
	}
	if !core.ValidCoordinate(lat, lng) {
		return core.TrackedSubject{}, core.ErrInvalidCoordinate
	}
	s.manual = []float64{lat, lng}
	return core.TrackedSubject{SubjectID: "self", IsCurrentUser: true, LatestPosition: core.Position{Latitude: lat, Longitude: lng}}, nil
}

func (s *stubTracker) SearchNearby(ctx context.Context, center *core.Position, radiusM float64) ([]core.TrackedSubject, error) {
	s.center, s.radius = center, radiusM
	return s.nearby, s.nearbyErr
}

func (s *stubTracker) History(ctx context.Context, q api.HistoryQuery) (api.HistoryPage, error) {
	s.query = q
	return s.history, nil
}

func (s *stubTracker) Subscribe() (<-chan tracking.Change, func()) {
	return s.changes, func() {}
}

func newTestServer(t *testing.T, tr *stubTracker, m MarkerSource) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return New(Dependencies{
		Tracker: tr,
		Markers: m,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Addr:    "127.0.0.1:0",
	})
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &stubTracker{}, nil)
	w := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestStartStop(t *testing.T) {
	tr := &stubTracker{}
	s := newTestServer(t, tr, nil)

	w := doRequest(s, http.MethodPost, "/api/tracking/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info core.SessionInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.True(t, info.IsActive())

	w = doRequest(s, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"active"`)

	w = doRequest(s, http.MethodPost, "/api/tracking/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"stopped"`)
}

func TestStart_CapabilityErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{core.ErrGeolocationDenied, http.StatusForbidden},
		{core.ErrGeolocationUnavailable, http.StatusServiceUnavailable},
		{core.ErrGeolocationTimeout, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s := newTestServer(t, &stubTracker{startErr: tt.err}, nil)
			w := doRequest(s, http.MethodPost, "/api/tracking/start", nil)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, core.KindOf(tt.err), decodeError(t, w).Kind)
		})
	}
}

func TestManual(t *testing.T) {
	tr := &stubTracker{}
	s := newTestServer(t, tr, nil)

	w := doRequest(s, http.MethodPost, "/api/location/manual", map[string]any{"latitude": 0, "longitude": 13.4})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []float64{0, 13.4}, tr.manual)

	w = doRequest(s, http.MethodPost, "/api/location/manual", map[string]any{"latitude": 95, "longitude": 13.4})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, core.KindInvalidCoordinate, decodeError(t, w).Kind)

	w = doRequest(s, http.MethodPost, "/api/location/manual", map[string]any{"latitude": 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNearby(t *testing.T) {
	tr := &stubTracker{nearby: []core.TrackedSubject{{SubjectID: "peer-a"}}}
	s := newTestServer(t, tr, nil)

	w := doRequest(s, http.MethodGet, "/api/location/nearby?radius=750", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res nearbyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 750.0, tr.radius)
	assert.Nil(t, tr.center)

	w = doRequest(s, http.MethodGet, "/api/location/nearby?lat=48.1&lng=11.6", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, tr.center)
	assert.Equal(t, 48.1, tr.center.Latitude)

	for _, q := range []string{"radius=abc", "radius=-1", "radius=NaN", "lat=1"} {
		w = doRequest(s, http.MethodGet, "/api/location/nearby?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestNearby_NoBaseline(t *testing.T) {
	s := newTestServer(t, &stubTracker{nearbyErr: core.ErrNoBaselinePosition}, nil)
	w := doRequest(s, http.MethodGet, "/api/location/nearby", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, core.KindNoBaselinePosition, decodeError(t, w).Kind)
}

func TestHistory(t *testing.T) {
	tr := &stubTracker{history: api.HistoryPage{Pagination: api.Pagination{Page: 2, Limit: 5, Total: 7, Pages: 2}}}
	s := newTestServer(t, tr, nil)

	w := doRequest(s, http.MethodGet, "/api/location/history?page=2&limit=5&startDate=2026-03-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, tr.query.Page)
	assert.Equal(t, 5, tr.query.Limit)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), tr.query.StartDate)
	assert.True(t, tr.query.EndDate.IsZero())
	assert.Contains(t, w.Body.String(), `"total":7`)

	for _, q := range []string{"page=x", "limit=-3", "endDate=yesterday"} {
		w = doRequest(s, http.MethodGet, "/api/location/history?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestSubjectsAndMarkers(t *testing.T) {
	renderer := markers.NewGeoJSONRenderer()
	self := core.TrackedSubject{SubjectID: "self", IsCurrentUser: true, LatestPosition: core.Position{Latitude: 52.5, Longitude: 13.4}}
	_, err := renderer.Add(self)
	require.NoError(t, err)

	s := newTestServer(t, &stubTracker{subjects: []core.TrackedSubject{self}}, renderer)

	w := doRequest(s, http.MethodGet, "/api/subjects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var subjects []core.TrackedSubject
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &subjects))
	require.Len(t, subjects, 1)
	assert.True(t, subjects[0].IsCurrentUser)

	w = doRequest(s, http.MethodGet, "/api/markers.geojson", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"FeatureCollection"`)
}

func TestMarkersWithoutRenderer(t *testing.T) {
	s := newTestServer(t, &stubTracker{}, nil)
	w := doRequest(s, http.MethodGet, "/api/markers.geojson", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvents(t *testing.T) {
	changes := make(chan tracking.Change, 2)
	changes <- tracking.Change{Kind: tracking.ChangeSubjectRemoved, SubjectID: "peer-a"}
	close(changes)

	s := newTestServer(t, &stubTracker{changes: changes}, nil)
	w := doRequest(s, http.MethodGet, "/api/events", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream"))
	assert.Contains(t, w.Body.String(), "event:subject_removed")
	assert.Contains(t, w.Body.String(), `"subjectId":"peer-a"`)
}

func TestStartAndShutdown(t *testing.T) {
	s := newTestServer(t, &stubTracker{}, nil)
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
