package geo

import (
	"errors"
	"fmt"
	"math"
)

const degToRad = math.Pi / 180

// GeoCoordinate is a WGS84 position in degrees, north and east positive.
type GeoCoordinate struct {
	Latitude  float64 `json:"lat" yaml:"lat"`
	Longitude float64 `json:"lon" yaml:"lon"`
}

// CameraTarget frames a surface point: the camera sits at Position and looks at LookAt.
type CameraTarget struct {
	Position Vector3 `json:"position"`
	LookAt   Vector3 `json:"look_at"`
}

// Project converts latitude/longitude to a point on a sphere of the given
// radius, lifted by height along the surface normal.
//
// The polar angle is measured from the north pole and the azimuth is offset
// by 180 degrees so longitude zero lines up with the centre seam of an
// equirectangular texture. Inputs are not range checked; see Projector.
func Project(lat, lon, radius, height float64) Vector3 {
	phi := (90 - lat) * degToRad
	theta := (lon + 180) * degToRad
	r := radius + height

	return Vector3{
		X: -r * math.Sin(phi) * math.Cos(theta),
		Y: r * math.Cos(phi),
		Z: r * math.Sin(phi) * math.Sin(theta),
	}
}

// CameraTargetFor places the camera on the ray through the surface point,
// offset further from the origin, looking back at the surface point.
func CameraTargetFor(lat, lon, radius, offset float64) CameraTarget {
	return CameraTarget{
		Position: Project(lat, lon, radius, offset),
		LookAt:   Project(lat, lon, radius, 0),
	}
}

// Unproject returns the coordinate whose projection points along v.
// The length of v is ignored.
func Unproject(v Vector3) (GeoCoordinate, error) {
	r := v.Length()
	if r == 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return GeoCoordinate{}, &InvalidInputError{Field: "vector", Value: r, Reason: "must be a finite non-zero vector"}
	}

	phi := math.Acos(clamp(v.Y/r, -1, 1))
	lat := 90 - phi/degToRad

	// at the poles the azimuth is undefined, report longitude zero
	if math.Abs(v.X) < 1e-12 && math.Abs(v.Z) < 1e-12 {
		return GeoCoordinate{Latitude: lat}, nil
	}

	theta := math.Atan2(v.Z, -v.X)
	lon := wrapLongitude(theta/degToRad - 180)

	return GeoCoordinate{Latitude: lat, Longitude: lon}, nil
}

// ErrInvalidInput is matched by every *InvalidInputError through errors.Is.
var ErrInvalidInput = errors.New("invalid input")

// InvalidInputError reports a value outside the domain of the projection.
type InvalidInputError struct {
	Field  string
	Reason string
	Value  float64
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e *InvalidInputError) Unwrap() error {
	return ErrInvalidInput
}

// CoordinatePolicy decides what happens to latitude/longitude outside
// [-90,90] and [-180,180].
type CoordinatePolicy int

const (
	// PolicyReject returns an InvalidInputError.
	PolicyReject CoordinatePolicy = iota
	// PolicyClamp pins each component to its range.
	PolicyClamp
	// PolicyWrap folds latitude over the pole and wraps longitude around the globe.
	PolicyWrap
)

// ParsePolicy maps a config value to a CoordinatePolicy. Empty means reject.
func ParsePolicy(s string) (CoordinatePolicy, error) {
	switch s {
	case "", "reject":
		return PolicyReject, nil
	case "clamp":
		return PolicyClamp, nil
	case "wrap":
		return PolicyWrap, nil
	}
	return PolicyReject, fmt.Errorf("unknown coordinate policy %q", s)
}

func (p CoordinatePolicy) String() string {
	switch p {
	case PolicyClamp:
		return "clamp"
	case PolicyWrap:
		return "wrap"
	default:
		return "reject"
	}
}

// Projector applies validation and a range policy on top of Project and
// CameraTargetFor. The zero value is unusable; Radius must be positive.
type Projector struct {
	Radius float64
	Policy CoordinatePolicy
}

// NewProjector validates the radius and returns a Projector.
func NewProjector(radius float64, policy CoordinatePolicy) (*Projector, error) {
	if err := checkPositive("radius", radius); err != nil {
		return nil, err
	}
	return &Projector{Radius: radius, Policy: policy}, nil
}

// Normalize applies the policy to c.
func (p *Projector) Normalize(c GeoCoordinate) (GeoCoordinate, error) {
	if !isFinite(c.Latitude) {
		return c, &InvalidInputError{Field: "latitude", Value: c.Latitude, Reason: "must be finite"}
	}
	if !isFinite(c.Longitude) {
		return c, &InvalidInputError{Field: "longitude", Value: c.Longitude, Reason: "must be finite"}
	}

	inLat := c.Latitude >= -90 && c.Latitude <= 90
	inLon := c.Longitude >= -180 && c.Longitude <= 180
	if inLat && inLon {
		return c, nil
	}

	switch p.Policy {
	case PolicyClamp:
		return GeoCoordinate{
			Latitude:  clamp(c.Latitude, -90, 90),
			Longitude: clamp(c.Longitude, -180, 180),
		}, nil

	case PolicyWrap:
		lat, lon := c.Latitude, c.Longitude
		if !inLat {
			lat, lon = foldLatitude(lat, lon)
		}
		if lon < -180 || lon > 180 {
			lon = wrapLongitude(lon)
		}
		return GeoCoordinate{Latitude: lat, Longitude: lon}, nil
	}

	if !inLat {
		return c, &InvalidInputError{Field: "latitude", Value: c.Latitude, Reason: "must be within [-90, 90]"}
	}
	return c, &InvalidInputError{Field: "longitude", Value: c.Longitude, Reason: "must be within [-180, 180]"}
}

// Project returns the scene point for c at height above the surface.
func (p *Projector) Project(c GeoCoordinate, height float64) (Vector3, error) {
	if err := checkPositive("radius", p.Radius); err != nil {
		return Vector3{}, err
	}
	if !isFinite(height) || height < 0 {
		return Vector3{}, &InvalidInputError{Field: "height", Value: height, Reason: "must be a finite value >= 0"}
	}

	c, err := p.Normalize(c)
	if err != nil {
		return Vector3{}, err
	}

	return Project(c.Latitude, c.Longitude, p.Radius, height), nil
}

// CameraTarget frames c from offset units above the surface.
// The offset must be positive so the camera never sits on or inside the globe.
func (p *Projector) CameraTarget(c GeoCoordinate, offset float64) (CameraTarget, error) {
	if err := checkPositive("radius", p.Radius); err != nil {
		return CameraTarget{}, err
	}
	if err := checkPositive("camera offset", offset); err != nil {
		return CameraTarget{}, err
	}

	c, err := p.Normalize(c)
	if err != nil {
		return CameraTarget{}, err
	}

	return CameraTargetFor(c.Latitude, c.Longitude, p.Radius, offset), nil
}

func checkPositive(field string, v float64) error {
	if !isFinite(v) || v <= 0 {
		return &InvalidInputError{Field: field, Value: v, Reason: "must be a finite value > 0"}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// wrapLongitude maps any longitude into [-180, 180).
func wrapLongitude(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// foldLatitude walks over the pole: 100N becomes 80N on the opposite meridian.
func foldLatitude(lat, lon float64) (float64, float64) {
	// shift to [0, 360) where [0,180] is the valid band
	t := math.Mod(lat+90, 360)
	if t < 0 {
		t += 360
	}
	if t > 180 {
		t = 360 - t
		lon += 180
	}
	return t - 90, lon
}
