package core

import "math"

// WebMercatorMaxLatitude is the latitude at which the spherical Web-Mercator
// square ends.
const WebMercatorMaxLatitude = 85.05112877980659

// WebMercator is the spherical Web-Mercator projection on a sphere with the
// ellipsoid's semi-major axis as radius. Projected units are metres at the
// equator.
type WebMercator struct {
	Radius float64
}

// NewWebMercator returns the projection used alongside e.
func NewWebMercator(e Ellipsoid) WebMercator {
	return WebMercator{Radius: e.SemiMajor}
}

// Project maps g to planar (x, y). Latitudes beyond the projection limit are
// clamped.
func (m WebMercator) Project(g GeoPoint) (x, y float64) {
	lat := math.Max(-WebMercatorMaxLatitude, math.Min(WebMercatorMaxLatitude, g.LatDeg)) * degToRad
	x = g.LonDeg * degToRad * m.Radius
	y = m.Radius * math.Log(math.Tan(math.Pi/4+lat/2))
	return x, y
}

// Unproject maps planar (x, y) back to geodetic coordinates at height h.
func (m WebMercator) Unproject(x, y, h float64) GeoPoint {
	lon := x / m.Radius
	lat := math.Pi/2 - 2*math.Atan(math.Exp(-y/m.Radius))
	return GeoPoint{
		LonDeg: normalizeLon(lon * radToDeg),
		LatDeg: lat * radToDeg,
		Height: h,
	}
}

// ScaleFactor is the ratio of projected length to ground length at the given
// latitude.
func (m WebMercator) ScaleFactor(latDeg float64) float64 {
	lat := math.Max(-WebMercatorMaxLatitude, math.Min(WebMercatorMaxLatitude, latDeg)) * degToRad
	return 1 / math.Cos(lat)
}
