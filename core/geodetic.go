package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// GeoPoint is a geodetic position: longitude and latitude in degrees, height
// in metres above the reference ellipsoid.
type GeoPoint struct {
	LonDeg float64 `json:"lon" yaml:"lon"`
	LatDeg float64 `json:"lat" yaml:"lat"`
	Height float64 `json:"height" yaml:"height"`
}

// Validate checks that the point lies on the globe and is finite.
func (g GeoPoint) Validate() error {
	if math.IsNaN(g.LonDeg+g.LatDeg+g.Height) || math.IsInf(g.LonDeg+g.LatDeg+g.Height, 0) {
		return invalidf("geodetic point %v is not finite", g)
	}
	if g.LatDeg < -90 || g.LatDeg > 90 || g.LonDeg < -180 || g.LonDeg > 180 {
		return invalidf("geodetic point %v outside [-180,180]x[-90,90]", g)
	}
	return nil
}

func (g GeoPoint) String() string {
	return fmt.Sprintf("(%.7f, %.7f, %.2f m)", g.LonDeg, g.LatDeg, g.Height)
}

// WithHeight returns g with its height replaced.
func (g GeoPoint) WithHeight(h float64) GeoPoint {
	g.Height = h
	return g
}

// LerpGeo interpolates longitude, latitude and height linearly. Longitude
// takes the short way round, so paths crossing the antimeridian stay short.
func LerpGeo(a, b GeoPoint, t float64) GeoPoint {
	dLon := b.LonDeg - a.LonDeg
	if dLon > 180 {
		dLon -= 360
	} else if dLon < -180 {
		dLon += 360
	}
	return GeoPoint{
		LonDeg: normalizeLon(a.LonDeg + dLon*t),
		LatDeg: a.LatDeg + (b.LatDeg-a.LatDeg)*t,
		Height: a.Height + (b.Height-a.Height)*t,
	}
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

// Ellipsoid is a reference ellipsoid of revolution.
type Ellipsoid struct {
	SemiMajor  float64 // metres
	Flattening float64
}

// WGS84 is the ellipsoid used unless configured otherwise.
var WGS84 = Ellipsoid{
	SemiMajor:  6378137.0,
	Flattening: 1.0 / 298.257223563,
}

func (e Ellipsoid) e2() float64 {
	return e.Flattening * (2 - e.Flattening)
}

// SemiMinor returns the polar radius.
func (e Ellipsoid) SemiMinor() float64 {
	return e.SemiMajor * (1 - e.Flattening)
}

// primeVerticalRadius returns N(lat) for sin(lat) = sinLat.
func (e Ellipsoid) primeVerticalRadius(sinLat float64) float64 {
	return e.SemiMajor / math.Sqrt(1-e.e2()*sinLat*sinLat)
}

// ToCartesian converts a geodetic point to ECEF metres.
func (e Ellipsoid) ToCartesian(g GeoPoint) CartesianPoint {
	lat := g.LatDeg * degToRad
	lon := g.LonDeg * degToRad
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	n := e.primeVerticalRadius(sinLat)
	return r3.Vec{
		X: (n + g.Height) * cosLat * cosLon,
		Y: (n + g.Height) * cosLat * sinLon,
		Z: (n*(1-e.e2()) + g.Height) * sinLat,
	}
}

// ToGeodetic converts ECEF metres to a geodetic point using Bowring's
// iteration, which converges to sub-millimetre height within a few steps for
// anything near the surface.
func (e Ellipsoid) ToGeodetic(p CartesianPoint) GeoPoint {
	e2 := e.e2()
	lon := math.Atan2(p.Y, p.X)
	rho := math.Hypot(p.X, p.Y)

	if rho < 1e-9 {
		// On the polar axis.
		lat := math.Copysign(math.Pi/2, p.Z)
		if p.Z == 0 {
			return GeoPoint{LonDeg: 0, LatDeg: 0, Height: -e.SemiMinor()}
		}
		return GeoPoint{LonDeg: 0, LatDeg: lat * radToDeg, Height: math.Abs(p.Z) - e.SemiMinor()}
	}

	lat := math.Atan2(p.Z, rho*(1-e2))
	for i := 0; i < 10; i++ {
		sinLat := math.Sin(lat)
		n := e.primeVerticalRadius(sinLat)
		next := math.Atan2(p.Z+e2*n*sinLat, rho)
		if math.Abs(next-lat) < 1e-15 {
			lat = next
			break
		}
		lat = next
	}

	sinLat, cosLat := math.Sincos(lat)
	n := e.primeVerticalRadius(sinLat)
	var h float64
	if math.Abs(cosLat) > 1e-10 {
		h = rho/cosLat - n
	} else {
		h = math.Abs(p.Z)/math.Abs(sinLat) - n*(1-e2)
	}

	return GeoPoint{
		LonDeg: lon * radToDeg,
		LatDeg: lat * radToDeg,
		Height: h,
	}
}

// SurfaceNormal returns the geodetic up vector at g.
func (e Ellipsoid) SurfaceNormal(g GeoPoint) CartesianPoint {
	sinLat, cosLat := math.Sincos(g.LatDeg * degToRad)
	sinLon, cosLon := math.Sincos(g.LonDeg * degToRad)
	return r3.Vec{X: cosLat * cosLon, Y: cosLat * sinLon, Z: sinLat}
}
