// pkg/core/position.go
package core

import (
	"math"
	"time"
)

// DefaultAccuracyThreshold is the error radius in meters above which a fix is
// considered unreliable.
const DefaultAccuracyThreshold = 1000.0

// Position is a single geographic fix. Optional readings are nil when the
// source did not report them.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Altitude   *float64  `json:"altitude,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Address    string    `json:"address,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Float returns a pointer to v, for filling optional Position readings.
func Float(v float64) *float64 {
	return &v
}

// ValidCoordinate reports whether lat and lng are finite and inside the WGS84 range.
func ValidCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Valid reports whether the position carries a usable coordinate.
func (p Position) Valid() bool {
	return ValidCoordinate(p.Latitude, p.Longitude)
}

// HasAccuracy reports whether an accuracy reading is present.
func (p Position) HasAccuracy() bool {
	return p.Accuracy != nil
}

// AccuracyWorseThan reports whether the fix has an accuracy reading larger than
// threshold meters. A fix without accuracy is never considered worse.
func (p Position) AccuracyWorseThan(threshold float64) bool {
	return p.Accuracy != nil && *p.Accuracy > threshold
}

// OlderThan reports whether p was captured strictly before other. Zero
// timestamps are treated as unknown and never compare as older.
func (p Position) OlderThan(other Position) bool {
	if p.CapturedAt.IsZero() || other.CapturedAt.IsZero() {
		return false
	}
	return p.CapturedAt.Before(other.CapturedAt)
}

// SameFix reports whether p and other describe the same capture.
func (p Position) SameFix(other Position) bool {
	return p.Latitude == other.Latitude &&
		p.Longitude == other.Longitude &&
		p.CapturedAt.Equal(other.CapturedAt)
}

// WithAddress returns a copy of p carrying address.
func (p Position) WithAddress(address string) Position {
	p.Address = address
	return p
}

// Fix is a journaled self position.
type Fix struct {
	SubjectID  string
	SessionID  string
	Source     FixSource
	Position   Position
	DeviceInfo map[string]string
}

// FixSource names where a self position came from.
type FixSource string

const (
	SourceGeolocation FixSource = "geolocation"
	SourceManual      FixSource = "manual"
	SourceServer      FixSource = "server"
)
