package geolocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/studyhub/locsync/internal/geo"
	"github.com/studyhub/locsync/pkg/core"
)

// ReplayEntry is one recorded fix. Error, when set, is one of "denied",
// "unavailable" or "timeout" and replays that failure instead of a fix.
type ReplayEntry struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ReplaySource plays back a recorded track. The first entry answers
// CurrentPosition; Watch delivers the following entries one per interval
// and stops after the last.
type ReplaySource struct {
	entries  []ReplayEntry
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cursor int
}

// LoadReplayFile reads a JSON array of ReplayEntry.
func LoadReplayFile(path string, interval time.Duration) (*ReplaySource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	var entries []ReplayEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse replay file %s: %w", path, err)
	}
	return NewReplaySource(entries, interval)
}

func NewReplaySource(entries []ReplayEntry, interval time.Duration) (*ReplaySource, error) {
	if len(entries) == 0 {
		return nil, errors.New("replay source: no entries")
	}
	for i, e := range entries {
		if e.Error != "" {
			if _, err := entryError(e.Error); err != nil {
				return nil, fmt.Errorf("replay entry %d: %w", i, err)
			}
			continue
		}
		if err := geo.ValidateCoordinate(e.Latitude, e.Longitude); err != nil {
			return nil, fmt.Errorf("replay entry %d: %w", i, err)
		}
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &ReplaySource{entries: entries, interval: interval, now: time.Now}, nil
}

func entryError(name string) (error, error) {
	switch name {
	case "denied":
		return core.ErrGeolocationDenied, nil
	case "unavailable":
		return core.ErrGeolocationUnavailable, nil
	case "timeout":
		return core.ErrGeolocationTimeout, nil
	default:
		return nil, fmt.Errorf("unknown replay error %q", name)
	}
}

// next returns the entry at the cursor and advances it.
func (s *ReplaySource) next() (ReplayEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor >= len(s.entries) {
		return ReplayEntry{}, false
	}
	e := s.entries[s.cursor]
	s.cursor++
	return e, true
}

func (s *ReplaySource) resolve(e ReplayEntry) (core.Position, error) {
	if e.Error != "" {
		err, _ := entryError(e.Error)
		return core.Position{}, err
	}
	return core.Position{
		Latitude:   e.Latitude,
		Longitude:  e.Longitude,
		Accuracy:   e.Accuracy,
		Altitude:   e.Altitude,
		Heading:    e.Heading,
		Speed:      e.Speed,
		CapturedAt: s.now().UTC(),
	}, nil
}

// CurrentPosition returns the next recorded entry. Once the track is
// exhausted it keeps answering with the last entry.
func (s *ReplaySource) CurrentPosition(ctx context.Context) (core.Position, error) {
	if err := ctx.Err(); err != nil {
		return core.Position{}, fmt.Errorf("%w: %v", core.ErrGeolocationTimeout, err)
	}
	e, ok := s.next()
	if !ok {
		e = s.entries[len(s.entries)-1]
	}
	return s.resolve(e)
}

func (s *ReplaySource) Watch(onFix func(core.Position), onErr func(error)) (Watch, error) {
	return startTicker(s.interval, func() bool {
		e, ok := s.next()
		if !ok {
			return false
		}
		pos, err := s.resolve(e)
		if err != nil {
			onErr(err)
			return true
		}
		onFix(pos)
		return true
	}), nil
}
