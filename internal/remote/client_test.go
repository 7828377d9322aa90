package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/woozymasta/globeview/internal/cache"
	"github.com/woozymasta/globeview/internal/config"
	"github.com/woozymasta/globeview/internal/geo"
)

const currentBody = `{
  "location": {"name": "New York", "country": "United States of America", "lat": 40.71, "lon": -74.01},
  "current": {
    "last_updated_epoch": 1716206400,
    "temp_c": 21.5,
    "humidity": 64,
    "wind_kph": 13.0,
    "condition": {"text": "Partly cloudy", "icon": "//cdn.example/116.png"}
  }
}`

const searchBody = `[
  {"id": 1, "name": "Paris", "region": "Ile-de-France", "country": "France", "lat": 48.87, "lon": 2.33},
  {"id": 2, "name": "Paris", "region": "Texas", "country": "United States of America", "lat": 33.66, "lon": -95.56}
]`

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *int32) {
	t.Helper()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	c := New(config.Upstream{
		BaseURL: srv.URL + "/",
		APIKey:  "test-key",
		TTL:     time.Minute,
	}, cache.NewMemory())

	return c, &calls
}

func TestWeather(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/current.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("key = %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "40.71,-74.01" {
			t.Errorf("q = %q", got)
		}
		_, _ = w.Write([]byte(currentBody))
	})

	ctx := context.Background()
	w, err := c.Weather(ctx, geo.GeoCoordinate{Latitude: 40.7128, Longitude: -74.0060})
	if err != nil {
		t.Fatalf("Weather: %v", err)
	}

	if w.TemperatureC != 21.5 || w.HumidityPct != 64 || w.WindKph != 13 {
		t.Errorf("readings = %+v", w)
	}
	if w.Location != "New York" || w.Condition != "Partly cloudy" {
		t.Errorf("labels = %+v", w)
	}
	if !w.UpdatedAt.Equal(time.Unix(1716206400, 0)) {
		t.Errorf("updated at = %v", w.UpdatedAt)
	}

	// second lookup nearby is served from cache
	if _, err := c.Weather(ctx, geo.GeoCoordinate{Latitude: 40.7101, Longitude: -74.0081}); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestWeatherStatusError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":1006,"message":"No matching location found."}}`))
	})

	_, err := c.Weather(context.Background(), geo.GeoCoordinate{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusBadRequest || se.Message != "No matching location found." {
		t.Errorf("status error = %+v", se)
	}
}

func TestMissingKey(t *testing.T) {
	c := New(config.Upstream{BaseURL: "http://127.0.0.1:1"}, nil)
	if _, err := c.Weather(context.Background(), geo.GeoCoordinate{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestGeocode(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "Paris" {
			t.Errorf("q = %q", got)
		}
		_, _ = w.Write([]byte(searchBody))
	})

	ctx := context.Background()
	places, err := c.Geocode(ctx, "  Paris ")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if len(places) != 2 {
		t.Fatalf("got %d places", len(places))
	}
	if places[0].Country != "France" || places[0].Coordinate != (geo.GeoCoordinate{Latitude: 48.87, Longitude: 2.33}) {
		t.Errorf("first place = %+v", places[0])
	}

	if _, err := c.Geocode(ctx, "paris"); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}

	if _, err := c.Geocode(ctx, "   "); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("blank query err = %v", err)
	}
}
