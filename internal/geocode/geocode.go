// Package geocode resolves coordinates to human-readable addresses.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyhub/locsync/internal/config"
)

// ErrNoResult is returned when the provider knows no address for a coordinate.
var ErrNoResult = errors.New("no address found")

// Geocoder turns a coordinate into an address.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (string, error)
}

// Nop never resolves anything.
type Nop struct{}

func (Nop) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	return "", ErrNoResult
}

// Cache stores resolved addresses by key.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, address string, ttl time.Duration) error
}

// Cached consults a cache before the wrapped geocoder. Cache failures
// fall through to the geocoder.
type Cached struct {
	next   Geocoder
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(next Geocoder, cache Cache, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *Cached) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	key := Key(lat, lng)
	addr, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Debug("geocode cache read failed", "key", key, "error", err)
	} else if ok {
		return addr, nil
	}

	addr, err = c.next.Reverse(ctx, lat, lng)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(ctx, key, addr, c.ttl); err != nil {
		c.logger.Debug("geocode cache write failed", "key", key, "error", err)
	}
	return addr, nil
}

// Key buckets a coordinate to four decimals, roughly eleven meters.
func Key(lat, lng float64) string {
	return fmt.Sprintf("geocode:%.4f,%.4f", lat, lng)
}

// FromConfig builds the configured geocoder chain. The returned close
// function releases any cache connection.
func FromConfig(cfg config.GeocoderConfig, logger *slog.Logger) (Geocoder, func() error, error) {
	noClose := func() error { return nil }

	var base Geocoder
	switch cfg.Provider {
	case "none", "":
		return Nop{}, noClose, nil
	case "google":
		g, err := NewGoogle(cfg.APIKey, cfg.Language)
		if err != nil {
			return nil, nil, err
		}
		base = g
	default:
		return nil, nil, fmt.Errorf("unknown geocoder provider: %s", cfg.Provider)
	}

	switch cfg.Cache {
	case "none":
		return base, noClose, nil
	case "redis":
		rc := NewRedisCache(cfg.RedisAddr)
		return NewCached(base, rc, cfg.CacheTTL, logger), rc.Close, nil
	case "memory", "":
		return NewCached(base, NewMemoryCache(cfg.CacheSize), cfg.CacheTTL, logger), noClose, nil
	default:
		return nil, nil, fmt.Errorf("unknown geocoder cache: %s", cfg.Cache)
	}
}
