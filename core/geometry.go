package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// CartesianPoint is an Earth-centred, Earth-fixed position in metres.
type CartesianPoint = r3.Vec

// minRayLength is the shortest origin-target separation (metres) treated as
// a real ray rather than a single point.
const minRayLength = 1e-6

// Distance returns the straight-line distance between two points.
func Distance(a, b CartesianPoint) float64 {
	return r3.Norm(r3.Sub(b, a))
}

// Lerp returns a + (b-a)*t.
func Lerp(a, b CartesianPoint, t float64) CartesianPoint {
	return r3.Add(a, r3.Scale(t, r3.Sub(b, a)))
}

func finite(p CartesianPoint) bool {
	return !math.IsNaN(p.X+p.Y+p.Z) && !math.IsInf(p.X+p.Y+p.Z, 0)
}

// SightRay is the straight segment from an observer to a target.
type SightRay struct {
	Origin    CartesianPoint
	Target    CartesianPoint
	Direction CartesianPoint // unit vector from Origin towards Target
	Length    float64
}

// NewSightRay builds a ray between two distinct, finite points.
func NewSightRay(origin, target CartesianPoint) (SightRay, error) {
	if !finite(origin) || !finite(target) {
		return SightRay{}, invalidf("ray endpoints must be finite")
	}
	d := r3.Sub(target, origin)
	length := r3.Norm(d)
	if length < minRayLength {
		return SightRay{}, invalidf("ray origin and target coincide")
	}
	return SightRay{
		Origin:    origin,
		Target:    target,
		Direction: r3.Scale(1/length, d),
		Length:    length,
	}, nil
}

// At returns the point at fraction t of the way from Origin to Target.
func (r SightRay) At(t float64) CartesianPoint {
	return Lerp(r.Origin, r.Target, t)
}

// PointAtDistance returns the point d metres along the ray.
func (r SightRay) PointAtDistance(d float64) CartesianPoint {
	return r3.Add(r.Origin, r3.Scale(d, r.Direction))
}

// Project returns the signed distance along the ray of p's orthogonal
// projection onto the ray's line.
func (r SightRay) Project(p CartesianPoint) float64 {
	return r3.Dot(r3.Sub(p, r.Origin), r.Direction)
}

// VisibilityFlag classifies one segment of a profile or scan ray.
type VisibilityFlag bool

const (
	Visible  VisibilityFlag = true
	Occluded VisibilityFlag = false
)

func (f VisibilityFlag) String() string {
	if f {
		return "visible"
	}
	return "occluded"
}

// ClassifiedSegment is the output unit of every query: a straight piece of a
// sight line with its visibility.
type ClassifiedSegment struct {
	Start CartesianPoint
	End   CartesianPoint
	Flag  VisibilityFlag
}

// Length returns the segment length in metres.
func (s ClassifiedSegment) Length() float64 {
	return Distance(s.Start, s.End)
}

func (s ClassifiedSegment) String() string {
	return fmt.Sprintf("%s[%.1f m]", s.Flag, s.Length())
}
