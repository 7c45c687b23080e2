package core

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ENUFrame is an East-North-Up frame rooted at a point on or above the
// ellipsoid. Local coordinates are metres along East, North and Up.
type ENUFrame struct {
	Origin CartesianPoint
	East   CartesianPoint
	North  CartesianPoint
	Up     CartesianPoint
}

// NewENUFrame builds the frame at origin using the geodetic (not geocentric)
// vertical.
func NewENUFrame(e Ellipsoid, origin CartesianPoint) ENUFrame {
	g := e.ToGeodetic(origin)
	sinLat, cosLat := math.Sincos(g.LatDeg * degToRad)
	sinLon, cosLon := math.Sincos(g.LonDeg * degToRad)

	return ENUFrame{
		Origin: origin,
		East:   r3.Vec{X: -sinLon, Y: cosLon, Z: 0},
		North:  r3.Vec{X: -sinLat * cosLon, Y: -sinLat * sinLon, Z: cosLat},
		Up:     r3.Vec{X: cosLat * cosLon, Y: cosLat * sinLon, Z: sinLat},
	}
}

// ToLocal maps a global point into the frame.
func (f ENUFrame) ToLocal(p CartesianPoint) r3.Vec {
	return f.ToLocalVector(r3.Sub(p, f.Origin))
}

// ToLocalVector rotates a global direction into the frame without
// translating it.
func (f ENUFrame) ToLocalVector(v CartesianPoint) r3.Vec {
	return r3.Vec{
		X: r3.Dot(v, f.East),
		Y: r3.Dot(v, f.North),
		Z: r3.Dot(v, f.Up),
	}
}

// FromLocal maps local frame coordinates back to a global point.
func (f ENUFrame) FromLocal(l r3.Vec) CartesianPoint {
	p := r3.Add(f.Origin, r3.Scale(l.X, f.East))
	p = r3.Add(p, r3.Scale(l.Y, f.North))
	return r3.Add(p, r3.Scale(l.Z, f.Up))
}

// PlanarAngle returns the counter-clockwise angle from East (radians) of the
// horizontal part of the global direction v, and false when v is vertical.
func (f ENUFrame) PlanarAngle(v CartesianPoint) (float64, bool) {
	l := f.ToLocalVector(v)
	if math.Hypot(l.X, l.Y) < 1e-12*math.Max(1, r3.Norm(v)) {
		return 0, false
	}
	return math.Atan2(l.Y, l.X), true
}

// CompassToPlanar converts a compass azimuth (degrees, 0 = north, clockwise)
// to a planar angle (radians, 0 = east, counter-clockwise).
func CompassToPlanar(azimuthDeg float64) float64 {
	return (90 - azimuthDeg) * degToRad
}

// PlanarToCompass is the inverse of CompassToPlanar, normalised to [0, 360).
func PlanarToCompass(angle float64) float64 {
	az := math.Mod(90-angle*radToDeg, 360)
	if az < 0 {
		az += 360
	}
	return az
}
