package tracking

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/studyhub/locsync/internal/api"
	"github.com/studyhub/locsync/internal/geolocation"
	"github.com/studyhub/locsync/pkg/core"
	"github.com/studyhub/locsync/pkg/streaming"
)

type fakeWatch struct {
	cleared atomic.Bool
}

func (w *fakeWatch) Clear() { w.cleared.Store(true) }

type fakeSource struct {
	mu           sync.Mutex
	pos          core.Position
	err          error
	currentCalls int
	onFix        func(core.Position)
	onErr        func(error)
	watch        *fakeWatch

	// when set, CurrentPosition signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (s *fakeSource) CurrentPosition(ctx context.Context) (core.Position, error) {
	s.mu.Lock()
	s.currentCalls++
	pos, err := s.pos, s.err
	entered, release := s.entered, s.release
	s.mu.Unlock()

	if release != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}
	return pos, err
}

func (s *fakeSource) watching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watch != nil && !s.watch.cleared.Load()
}

func (s *fakeSource) Watch(onFix func(core.Position), onErr func(error)) (geolocation.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFix, s.onErr = onFix, onErr
	s.watch = &fakeWatch{}
	return s.watch, nil
}

func (s *fakeSource) emit(pos core.Position) {
	s.mu.Lock()
	fn := s.onFix
	s.mu.Unlock()
	fn(pos)
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	fn := s.onErr
	s.mu.Unlock()
	fn(err)
}

func (s *fakeSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentCalls
}

type fakeAPI struct {
	mu          sync.Mutex
	err         error
	updateHook  func(streaming.LocationPayload) (streaming.LocationRecord, error)
	updates     []streaming.LocationPayload
	nearby      streaming.NearbyPayload
	nearbyCalls []api.NearbyQuery
	history     api.HistoryPage
	current     streaming.LocationRecord
	stops       int
}

func (a *fakeAPI) Update(ctx context.Context, p streaming.LocationPayload) (streaming.LocationRecord, error) {
	a.mu.Lock()
	a.updates = append(a.updates, p)
	hook, err := a.updateHook, a.err
	a.mu.Unlock()

	if hook != nil {
		return hook(p)
	}
	if err != nil {
		return streaming.LocationRecord{}, err
	}
	return streaming.LocationRecord{
		UserID:    "server-assigned",
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Accuracy:  p.Accuracy,
		Address:   p.Address,
		Timestamp: p.Timestamp,
	}, nil
}

func (a *fakeAPI) Current(ctx context.Context) (streaming.LocationRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, a.err
}

func (a *fakeAPI) History(ctx context.Context, q api.HistoryQuery) (api.HistoryPage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.history, a.err
}

func (a *fakeAPI) Nearby(ctx context.Context, q api.NearbyQuery) (streaming.NearbyPayload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nearbyCalls = append(a.nearbyCalls, q)
	return a.nearby, a.err
}

func (a *fakeAPI) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++
	return a.err
}

func (a *fakeAPI) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *fakeAPI) sentUpdates() []streaming.LocationPayload {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]streaming.LocationPayload(nil), a.updates...)
}

func (a *fakeAPI) stopCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stops
}

type fakePush struct {
	mu       sync.Mutex
	err      error
	connects int
	handler  func(streaming.Envelope)
	updates  []streaming.LocationPayload
	stops    int
	closes   int
}

func (p *fakePush) Connect(ctx context.Context, handler func(streaming.Envelope)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
	p.handler = handler
	return p.err
}

func (p *fakePush) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler != nil && p.err == nil && p.closes == 0
}

func (p *fakePush) SendUpdate(ctx context.Context, payload streaming.LocationPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, payload)
	return p.err
}

func (p *fakePush) SendStop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return p.err
}

func (p *fakePush) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePush) deliver(env streaming.Envelope) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	h(env)
}

func (p *fakePush) counts() (connects, updates, stops, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects, len(p.updates), p.stops, p.closes
}

type fakeGeocoder struct {
	address string
}

func (g fakeGeocoder) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	return g.address, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
