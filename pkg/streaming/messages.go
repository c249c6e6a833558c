package streaming

import (
	"encoding/json"
	"time"

	"github.com/studyhub/locsync/pkg/core"
)

// Event names used on the push channel.
const (
	TypeLocationUpdate    = "location:update"
	TypeLocationStop      = "location:stop"
	TypeLocationConfirmed = "location:confirmed"
	TypeNearbyResponse    = "location:nearby:response"
	TypeLocationStopped   = "location:stopped"
	TypeError             = "error"
)

// Envelope wraps all messages sent over the push channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LocationPayload is the body of a location update, shared by the REST
// update call and the outbound push event.
type LocationPayload struct {
	Latitude   float64           `json:"latitude"`
	Longitude  float64           `json:"longitude"`
	Accuracy   *float64          `json:"accuracy,omitempty"`
	Altitude   *float64          `json:"altitude,omitempty"`
	Heading    *float64          `json:"heading,omitempty"`
	Speed      *float64          `json:"speed,omitempty"`
	Address    string            `json:"address,omitempty"`
	SessionID  string            `json:"sessionId,omitempty"`
	DeviceInfo map[string]string `json:"deviceInfo,omitempty"`
	Timestamp  *time.Time        `json:"timestamp,omitempty"`
}

// NewLocationPayload builds an update body from a captured position.
func NewLocationPayload(pos core.Position, sessionID string, deviceInfo map[string]string) LocationPayload {
	p := LocationPayload{
		Latitude:   pos.Latitude,
		Longitude:  pos.Longitude,
		Accuracy:   pos.Accuracy,
		Altitude:   pos.Altitude,
		Heading:    pos.Heading,
		Speed:      pos.Speed,
		Address:    pos.Address,
		SessionID:  sessionID,
		DeviceInfo: deviceInfo,
	}
	if !pos.CapturedAt.IsZero() {
		ts := pos.CapturedAt.UTC()
		p.Timestamp = &ts
	}
	return p
}

// LocationRecord is a position as stored and broadcast by the server.
type LocationRecord struct {
	UserID    string     `json:"userId"`
	UserType  string     `json:"userType,omitempty"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Accuracy  *float64   `json:"accuracy,omitempty"`
	Altitude  *float64   `json:"altitude,omitempty"`
	Heading   *float64   `json:"heading,omitempty"`
	Speed     *float64   `json:"speed,omitempty"`
	Address   string     `json:"address,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	// Distance is filled by proximity queries, in meters.
	Distance *float64 `json:"distance,omitempty"`
}

// Position converts the record to a core.Position. A record without a
// timestamp is stamped with receivedAt.
func (r LocationRecord) Position(receivedAt time.Time) core.Position {
	captured := receivedAt
	if r.Timestamp != nil && !r.Timestamp.IsZero() {
		captured = *r.Timestamp
	}
	return core.Position{
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		Accuracy:   r.Accuracy,
		Altitude:   r.Altitude,
		Heading:    r.Heading,
		Speed:      r.Speed,
		Address:    r.Address,
		CapturedAt: captured,
	}
}

// NearbyPayload carries the result of a proximity query.
type NearbyPayload struct {
	Center    *LocationRecord  `json:"center,omitempty"`
	Radius    float64          `json:"radius,omitempty"`
	Count     int              `json:"count,omitempty"`
	Locations []LocationRecord `json:"locations"`
}

// StoppedPayload announces that a subject stopped sharing its location.
type StoppedPayload struct {
	UserID string `json:"userId"`
}

// ErrorPayload is sent by the server when it rejects a message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Marshal builds a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
