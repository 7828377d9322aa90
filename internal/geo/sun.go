package geo

import (
	"time"

	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/meeus/v3/solar"
)

// SubsolarPoint returns the place where the sun is at the zenith at t.
func SubsolarPoint(t time.Time) GeoCoordinate {
	jd := julian.TimeToJD(t.UTC())

	ra, dec := solar.ApparentEquatorial(jd)
	gst := sidereal.Apparent(jd)

	// hour angle at Greenwich is zero on the subsolar meridian
	lon := (ra.Rad() - gst.Angle().Rad()) / degToRad

	return GeoCoordinate{
		Latitude:  dec.Deg(),
		Longitude: wrapLongitude(lon),
	}
}

// SunDirection is the unit vector from the globe centre towards the sun,
// in the same scene frame as Project.
func SunDirection(t time.Time) Vector3 {
	p := SubsolarPoint(t)
	return Project(p.Latitude, p.Longitude, 1, 0)
}
