package remote

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/woozymasta/globeview/internal/geo"
)

// Weather is the current conditions at a point, as shown on the overlay.
type Weather struct {
	UpdatedAt    time.Time         `json:"updated_at"`
	Location     string            `json:"location"`
	Country      string            `json:"country,omitempty"`
	Condition    string            `json:"condition"`
	Icon         string            `json:"icon,omitempty"`
	Coordinate   geo.GeoCoordinate `json:"coordinate"`
	TemperatureC float64           `json:"temp_c"`
	HumidityPct  float64           `json:"humidity"`
	WindKph      float64           `json:"wind_kph"`
}

// Internal structures for JSON parsing
type currentResponse struct {
	Location struct {
		Name    string  `json:"name"`
		Country string  `json:"country"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
	} `json:"location"`
	Current struct {
		Condition struct {
			Text string `json:"text"`
			Icon string `json:"icon"`
		} `json:"condition"`
		LastUpdatedEpoch int64   `json:"last_updated_epoch"`
		TempC            float64 `json:"temp_c"`
		Humidity         float64 `json:"humidity"`
		WindKph          float64 `json:"wind_kph"`
	} `json:"current"`
}

// Weather returns current conditions at c.
// Nearby requests share a cache entry: the key is rounded to two decimals (about 1 km).
func (c *Client) Weather(ctx context.Context, at geo.GeoCoordinate) (*Weather, error) {
	q := fmt.Sprintf("%.2f,%.2f", at.Latitude, at.Longitude)

	w, err := cached(ctx, c, "weather", "weather:"+q, func() (Weather, error) {
		var resp currentResponse
		if err := c.getJSON(ctx, "current.json", url.Values{"q": {q}}, &resp); err != nil {
			return Weather{}, err
		}

		w := Weather{
			Location:     resp.Location.Name,
			Country:      resp.Location.Country,
			Condition:    resp.Current.Condition.Text,
			Icon:         resp.Current.Condition.Icon,
			TemperatureC: resp.Current.TempC,
			HumidityPct:  resp.Current.Humidity,
			WindKph:      resp.Current.WindKph,
			Coordinate:   geo.GeoCoordinate{Latitude: resp.Location.Lat, Longitude: resp.Location.Lon},
		}
		if resp.Current.LastUpdatedEpoch > 0 {
			w.UpdatedAt = time.Unix(resp.Current.LastUpdatedEpoch, 0).UTC()
		}
		return w, nil
	})
	if err != nil {
		return nil, err
	}

	return &w, nil
}
