package geocode

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"
)

// Google reverse-geocodes through the Google Maps Geocoding API.
type Google struct {
	client   *maps.Client
	language string
}

// NewGoogle creates a Google geocoder. Extra client options are used by tests
// to point the client at a fake server.
func NewGoogle(apiKey, language string, opts ...maps.ClientOption) (*Google, error) {
	opts = append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Google{client: client, language: language}, nil
}

func (g *Google) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	r := &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: lat, Lng: lng},
		Language: g.language,
	}

	results, err := g.client.ReverseGeocode(ctx, r)
	if err != nil {
		return "", fmt.Errorf("maps api error: %w", err)
	}
	if len(results) == 0 || results[0].FormattedAddress == "" {
		return "", ErrNoResult
	}
	return results[0].FormattedAddress, nil
}
