// Package maps wraps the Google Maps client for reverse geocoding. The core
// never routes over a road network; addresses are display strings only.
package maps

import (
	"context"
	"fmt"

	gmaps "googlemaps.github.io/maps"

	"corider/internal/types"
)

// Geocoder resolves coordinates to a human-readable address. A nil Geocoder
// is valid and resolves nothing, so the API key stays optional.
type Geocoder struct {
	client *gmaps.Client
}

func NewGeocoder(apiKey string) (*Geocoder, error) {
	if apiKey == "" {
		return nil, nil
	}
	client, err := gmaps.NewClient(gmaps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return &Geocoder{client: client}, nil
}

// ReverseGeocode returns the formatted address of p, or "" when the
// geocoder is disabled or the point resolves to nothing.
func (g *Geocoder) ReverseGeocode(ctx context.Context, p types.Point) (string, error) {
	if g == nil {
		return "", nil
	}
	results, err := g.client.ReverseGeocode(ctx, &gmaps.GeocodingRequest{
		LatLng: &gmaps.LatLng{Lat: p.Lat, Lng: p.Lng},
	})
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	if len(results) == 0 {
		return "", nil
	}
	return results[0].FormattedAddress, nil
}
