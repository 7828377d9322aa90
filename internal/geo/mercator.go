package geo

import "math"

// MaxMercatorLatitude is the latitude where the Web-Mercator square ends.
const MaxMercatorLatitude = 85.05112878

// TileCoordinate represents a specific slippy map tile.
type TileCoordinate struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

// LatLonToTile returns the Web-Mercator tile containing the coordinate at
// the given zoom. Latitude is clamped to the Mercator limit, longitude is wrapped.
func LatLonToTile(lat, lon float64, zoom int) TileCoordinate {
	if zoom < 0 {
		zoom = 0
	}
	n := float64(int(1) << zoom)

	lat = clamp(lat, -MaxMercatorLatitude, MaxMercatorLatitude)
	if lon < -180 || lon >= 180 {
		lon = wrapLongitude(lon)
	}

	latRad := lat * degToRad
	x := (lon + 180) / 360 * n
	y := (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n

	max := int(n) - 1
	return TileCoordinate{
		Z: zoom,
		X: clampInt(int(math.Floor(x)), 0, max),
		Y: clampInt(int(math.Floor(y)), 0, max),
	}
}

// TileToLatLon returns the north-west corner of the tile.
func TileToLatLon(t TileCoordinate) (lat, lon float64) {
	n := float64(int(1) << t.Z)
	lon = float64(t.X)/n*360 - 180

	// inverse Mercator
	mercatorY := math.Pi * (1 - 2*float64(t.Y)/n)
	lat = math.Atan(math.Sinh(mercatorY)) / degToRad

	return lat, lon
}

// TMSY flips the row index for TMS style tile servers.
func (t TileCoordinate) TMSY() int {
	return (1 << t.Z) - 1 - t.Y
}

// Children returns the four tiles one zoom level below t.
func (t TileCoordinate) Children() [4]TileCoordinate {
	nx, ny := t.X*2, t.Y*2
	return [4]TileCoordinate{
		{Z: t.Z + 1, X: nx, Y: ny},
		{Z: t.Z + 1, X: nx + 1, Y: ny},
		{Z: t.Z + 1, X: nx, Y: ny + 1},
		{Z: t.Z + 1, X: nx + 1, Y: ny + 1},
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
