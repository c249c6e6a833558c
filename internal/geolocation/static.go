package geolocation

import (
	"context"
	"fmt"
	"time"

	"github.com/studyhub/locsync/internal/geo"
	"github.com/studyhub/locsync/pkg/core"
)

const defaultInterval = 5 * time.Second

// StaticSource reports the same coordinate on every fix, stamped with the
// current time.
type StaticSource struct {
	pos      core.Position
	interval time.Duration
	now      func() time.Time
}

func NewStaticSource(pos core.Position, interval time.Duration) (*StaticSource, error) {
	if err := geo.ValidateCoordinate(pos.Latitude, pos.Longitude); err != nil {
		return nil, fmt.Errorf("static source: %w", err)
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &StaticSource{pos: pos, interval: interval, now: time.Now}, nil
}

func (s *StaticSource) fix() core.Position {
	p := s.pos
	p.CapturedAt = s.now().UTC()
	return p
}

func (s *StaticSource) CurrentPosition(ctx context.Context) (core.Position, error) {
	if err := ctx.Err(); err != nil {
		return core.Position{}, fmt.Errorf("%w: %v", core.ErrGeolocationTimeout, err)
	}
	return s.fix(), nil
}

func (s *StaticSource) Watch(onFix func(core.Position), onErr func(error)) (Watch, error) {
	return startTicker(s.interval, func() bool {
		onFix(s.fix())
		return true
	}), nil
}

// FailingSource fails every request with the same error. It stands in for
// a device whose geolocation is denied or missing.
type FailingSource struct {
	Err error
}

func (s FailingSource) CurrentPosition(ctx context.Context) (core.Position, error) {
	return core.Position{}, s.Err
}

func (s FailingSource) Watch(onFix func(core.Position), onErr func(error)) (Watch, error) {
	return nil, s.Err
}
