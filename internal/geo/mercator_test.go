package geo

import (
	"math"
	"testing"
	"time"
)

func TestLatLonToTile(t *testing.T) {
	tests := []struct {
		lat, lon float64
		zoom     int
		want     TileCoordinate
	}{
		{0, 0, 0, TileCoordinate{Z: 0, X: 0, Y: 0}},
		{0.1, -0.1, 1, TileCoordinate{Z: 1, X: 0, Y: 0}},
		{-0.1, 0.1, 1, TileCoordinate{Z: 1, X: 1, Y: 1}},
		{51.5074, -0.1278, 10, TileCoordinate{Z: 10, X: 511, Y: 340}},
		{89.9, 179.9, 3, TileCoordinate{Z: 3, X: 7, Y: 0}},
		{-89.9, -180, 3, TileCoordinate{Z: 3, X: 0, Y: 7}},
	}
	for _, tt := range tests {
		if got := LatLonToTile(tt.lat, tt.lon, tt.zoom); got != tt.want {
			t.Errorf("LatLonToTile(%v, %v, %d) = %+v, want %+v", tt.lat, tt.lon, tt.zoom, got, tt.want)
		}
	}
}

func TestTileToLatLon(t *testing.T) {
	lat, lon := TileToLatLon(TileCoordinate{Z: 0, X: 0, Y: 0})
	if math.Abs(lat-MaxMercatorLatitude) > 1e-6 || lon != -180 {
		t.Errorf("origin tile corner = %v, %v", lat, lon)
	}

	lat, lon = TileToLatLon(TileCoordinate{Z: 1, X: 1, Y: 1})
	if math.Abs(lat) > 1e-9 || lon != 0 {
		t.Errorf("centre corner = %v, %v", lat, lon)
	}
}

func TestTileChildrenAndTMS(t *testing.T) {
	c := TileCoordinate{Z: 2, X: 1, Y: 3}.Children()
	if c[0] != (TileCoordinate{Z: 3, X: 2, Y: 6}) || c[3] != (TileCoordinate{Z: 3, X: 3, Y: 7}) {
		t.Errorf("children = %+v", c)
	}
	if y := (TileCoordinate{Z: 2, X: 0, Y: 0}).TMSY(); y != 3 {
		t.Errorf("TMSY = %d, want 3", y)
	}
}

func TestSunDirection(t *testing.T) {
	// near the June solstice the sun stands over the Tropic of Cancer
	p := SubsolarPoint(time.Date(2024, 6, 20, 12, 0, 0, 0, time.UTC))
	if p.Latitude < 23 || p.Latitude > 23.5 {
		t.Errorf("solstice declination = %v", p.Latitude)
	}
	// around noon UTC the subsolar meridian is close to Greenwich
	if math.Abs(p.Longitude) > 5 {
		t.Errorf("noon subsolar longitude = %v", p.Longitude)
	}

	d := SunDirection(time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC))
	if math.Abs(d.Length()-1) > 1e-9 {
		t.Errorf("|SunDirection| = %v", d.Length())
	}
}
