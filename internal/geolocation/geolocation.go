// Package geolocation provides device position sources.
package geolocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/studyhub/locsync/internal/config"
	"github.com/studyhub/locsync/pkg/core"
)

// Source acquires positions. CurrentPosition is a one-shot fix; Watch
// delivers fixes until the returned Watch is cleared.
type Source interface {
	CurrentPosition(ctx context.Context) (core.Position, error)
	Watch(onFix func(core.Position), onErr func(error)) (Watch, error)
}

// Watch is a running subscription.
type Watch interface {
	// Clear stops delivery. It is idempotent.
	Clear()
}

// FromConfig builds the configured source.
func FromConfig(cfg config.GeolocationConfig) (Source, error) {
	switch cfg.Source {
	case "static", "":
		return NewStaticSource(core.Position{
			Latitude:  cfg.StaticLat,
			Longitude: cfg.StaticLng,
			Accuracy:  core.Float(cfg.StaticAccuracy),
		}, cfg.Interval)
	case "replay":
		return LoadReplayFile(cfg.ReplayFile, cfg.Interval)
	default:
		return nil, fmt.Errorf("unknown geolocation source: %s", cfg.Source)
	}
}

// tickerWatch emits on a ticker until cleared.
type tickerWatch struct {
	stop chan struct{}
	once sync.Once
}

// startTicker calls tick every interval until cleared or tick returns false.
func startTicker(interval time.Duration, tick func() bool) *tickerWatch {
	w := &tickerWatch{stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				select {
				case <-w.stop:
					return
				default:
				}
				if !tick() {
					return
				}
			}
		}
	}()
	return w
}

// Clear stops the ticker. A tick already running completes; callers
// that must ignore it guard on their own state.
func (w *tickerWatch) Clear() {
	w.once.Do(func() {
		close(w.stop)
	})
}
