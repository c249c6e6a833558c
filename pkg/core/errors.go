package core

import (
	"context"
	"errors"
	"net"
)

// ErrorKind classifies errors surfaced by location tracking.
type ErrorKind string

const (
	KindNone                   ErrorKind = ""
	KindGeolocationDenied      ErrorKind = "GeolocationDenied"
	KindGeolocationUnavailable ErrorKind = "GeolocationUnavailable"
	KindGeolocationTimeout     ErrorKind = "GeolocationTimeout"
	KindInvalidCoordinate      ErrorKind = "InvalidCoordinate"
	KindNoBaselinePosition     ErrorKind = "NoBaselinePosition"
	KindTransientNetwork       ErrorKind = "TransientNetwork"
	KindUnknown                ErrorKind = "Unknown"
)

// Capability errors stop tracking from starting.
var (
	ErrGeolocationDenied      = errors.New("geolocation permission denied")
	ErrGeolocationUnavailable = errors.New("geolocation unavailable")
	ErrGeolocationTimeout     = errors.New("geolocation timed out")
)

// ErrInvalidCoordinate is returned for a latitude/longitude outside the WGS84 range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// ErrNoBaselinePosition is returned when an operation needs a self position and none exists yet.
var ErrNoBaselinePosition = errors.New("no baseline position")

// ErrUnreachable marks a network call that never got a usable answer.
var ErrUnreachable = errors.New("location service unreachable")

// transient is implemented by errors that know whether retrying could help.
type transient interface {
	Transient() bool
}

// KindOf classifies err. It returns KindNone for a nil error.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrGeolocationDenied):
		return KindGeolocationDenied
	case errors.Is(err, ErrGeolocationUnavailable):
		return KindGeolocationUnavailable
	case errors.Is(err, ErrGeolocationTimeout):
		return KindGeolocationTimeout
	case errors.Is(err, ErrInvalidCoordinate):
		return KindInvalidCoordinate
	case errors.Is(err, ErrNoBaselinePosition):
		return KindNoBaselinePosition
	case IsTransient(err):
		return KindTransientNetwork
	default:
		return KindUnknown
	}
}

// IsCapability reports whether err is one of the geolocation capability errors.
func IsCapability(err error) bool {
	return errors.Is(err, ErrGeolocationDenied) ||
		errors.Is(err, ErrGeolocationUnavailable) ||
		errors.Is(err, ErrGeolocationTimeout)
}

// IsTransient reports whether err is a recoverable network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnreachable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
