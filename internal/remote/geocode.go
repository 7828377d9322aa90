package remote

import (
	"context"
	"net/url"
	"strings"

	"github.com/woozymasta/globeview/internal/geo"
)

// Place is a geocoding match for a free-text query.
type Place struct {
	Name       string            `json:"name"`
	Region     string            `json:"region,omitempty"`
	Country    string            `json:"country,omitempty"`
	Coordinate geo.GeoCoordinate `json:"coordinate"`
}

// Internal structures for JSON parsing
type searchResult struct {
	Name    string  `json:"name"`
	Region  string  `json:"region"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Geocode resolves a place name to candidate coordinates, best match first.
func (c *Client) Geocode(ctx context.Context, query string) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	key := "geocode:" + strings.ToLower(query)
	return cached(ctx, c, "geocode", key, func() ([]Place, error) {
		var results []searchResult
		if err := c.getJSON(ctx, "search.json", url.Values{"q": {query}}, &results); err != nil {
			return nil, err
		}

		places := make([]Place, 0, len(results))
		for _, r := range results {
			places = append(places, Place{
				Name:       r.Name,
				Region:     r.Region,
				Country:    r.Country,
				Coordinate: geo.GeoCoordinate{Latitude: r.Lat, Longitude: r.Lon},
			})
		}
		return places, nil
	})
}
