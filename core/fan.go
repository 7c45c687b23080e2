package core

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// ScanSpec configures a fan of rays around a centre point.
type ScanSpec struct {
	Center CartesianPoint
	// Reference, when set, is a point the fan is centred on.
	Reference *CartesianPoint
	// AzimuthDeg is a compass bearing (0 = north, clockwise) the fan is
	// centred on when Reference is nil. With neither set the fan starts due
	// east and sweeps counter-clockwise.
	AzimuthDeg *float64
	FOVDeg     float64 // (0, 360]
	Radius     float64 // metres, > 0
	RayCount   int     // >= 1
}

// Validate checks the scan parameters.
func (s ScanSpec) Validate() error {
	if !finite(s.Center) || s.Center == (CartesianPoint{}) {
		return invalidf("scan centre must be a finite non-zero position")
	}
	if s.RayCount <= 0 {
		return invalidf("ray count must be positive, got %d", s.RayCount)
	}
	if !(s.Radius > 0) || math.IsInf(s.Radius, 0) {
		return invalidf("radius must be positive and finite, got %g", s.Radius)
	}
	if !(s.FOVDeg > 0 && s.FOVDeg <= 360) {
		return invalidf("field of view must be in (0, 360], got %g", s.FOVDeg)
	}
	if s.Reference != nil {
		if !finite(*s.Reference) || Distance(*s.Reference, s.Center) < minRayLength {
			return invalidf("reference point must differ from the scan centre")
		}
	} else if s.AzimuthDeg != nil && (math.IsNaN(*s.AzimuthDeg) || math.IsInf(*s.AzimuthDeg, 0)) {
		return invalidf("azimuth must be finite")
	}
	return nil
}

// AngleStepDeg is the angular separation between neighbouring rays.
func (s ScanSpec) AngleStepDeg() float64 {
	return s.FOVDeg / float64(s.RayCount)
}

// FanRay is one generated ray target.
type FanRay struct {
	Index int
	// AngleDeg is the planar angle of the ray (0 = east, counter-clockwise),
	// unwrapped so consecutive rays always differ by exactly one step.
	AngleDeg float64
	Target   CartesianPoint
}

// BearingDeg returns the compass bearing of the ray in [0, 360).
func (r FanRay) BearingDeg() float64 {
	return PlanarToCompass(r.AngleDeg * degToRad)
}

// FanGenerator produces RayCount+1 targets for a scan, including both the
// start and the end angle. At FOV 360 the first and last target coincide;
// callers that need exact coverage drop one of them.
type FanGenerator interface {
	Generate(spec ScanSpec) ([]FanRay, error)
}

// fanAngles returns the start angle and step, both in radians.
func fanAngles(spec ScanSpec, centre float64, hasCentre bool) (float64, float64) {
	fov := spec.FOVDeg * degToRad
	step := fov / float64(spec.RayCount)
	if !hasCentre {
		return 0, step
	}
	return centre - fov/2, step
}

// LocalFrameFan lays targets on the horizontal plane of the ENU frame at the
// scan centre.
type LocalFrameFan struct {
	Ellipsoid Ellipsoid
}

// Generate implements FanGenerator.
func (f LocalFrameFan) Generate(spec ScanSpec) ([]FanRay, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	ell := f.Ellipsoid
	if ell.SemiMajor == 0 {
		ell = WGS84
	}
	frame := NewENUFrame(ell, spec.Center)

	var centre float64
	hasCentre := false
	switch {
	case spec.Reference != nil:
		a, ok := frame.PlanarAngle(r3.Sub(*spec.Reference, spec.Center))
		if !ok {
			return nil, invalidf("reference direction is vertical at the scan centre")
		}
		centre, hasCentre = a, true
	case spec.AzimuthDeg != nil:
		centre, hasCentre = CompassToPlanar(*spec.AzimuthDeg), true
	}
	start, step := fanAngles(spec, centre, hasCentre)

	rays := make([]FanRay, spec.RayCount+1)
	for i := range rays {
		theta := start + step*float64(i)
		local := CartesianPoint{X: spec.Radius * math.Cos(theta), Y: spec.Radius * math.Sin(theta)}
		rays[i] = FanRay{Index: i, AngleDeg: theta * radToDeg, Target: frame.FromLocal(local)}
	}
	return rays, nil
}

// PaddingMode selects how ProjectedFan compensates for projection distortion.
type PaddingMode int

const (
	// PaddingDerived scales the radius by the projection's local scale factor
	// at the centre latitude, so targets land at the requested ground
	// distance.
	PaddingDerived PaddingMode = iota
	// PaddingFixed adds a constant margin to the radius in projected units.
	PaddingFixed
	// PaddingNone uses the radius as a projected distance unchanged.
	PaddingNone
)

// LegacyProjectedPadding is the empirical margin, in projected metres, the
// circle scan historically added so targets overshoot the requested radius.
// It is a calibration value, not a derived one.
const LegacyProjectedPadding = 230.0

func (m PaddingMode) String() string {
	switch m {
	case PaddingDerived:
		return "derived"
	case PaddingFixed:
		return "fixed"
	case PaddingNone:
		return "none"
	default:
		return fmt.Sprintf("PaddingMode(%d)", int(m))
	}
}

// ParsePaddingMode accepts "derived", "fixed" or "none".
func ParsePaddingMode(s string) (PaddingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "derived":
		return PaddingDerived, nil
	case "fixed":
		return PaddingFixed, nil
	case "none":
		return PaddingNone, nil
	default:
		return 0, invalidf("unknown padding mode %q", s)
	}
}

// ProjectedFan lays targets out in Web-Mercator coordinates around the
// projected centre and unprojects them, keeping the centre height.
type ProjectedFan struct {
	Ellipsoid Ellipsoid
	Padding   PaddingMode
	// FixedPadding is the margin used with PaddingFixed; zero means
	// LegacyProjectedPadding.
	FixedPadding float64
}

// ProjectedRadius returns the planar radius used for a ground radius at the
// given latitude.
func (f ProjectedFan) ProjectedRadius(radius, latDeg float64) float64 {
	switch f.Padding {
	case PaddingFixed:
		pad := f.FixedPadding
		if pad == 0 {
			pad = LegacyProjectedPadding
		}
		return radius + pad
	case PaddingNone:
		return radius
	default:
		return radius * NewWebMercator(f.ellipsoid()).ScaleFactor(latDeg)
	}
}

func (f ProjectedFan) ellipsoid() Ellipsoid {
	if f.Ellipsoid.SemiMajor == 0 {
		return WGS84
	}
	return f.Ellipsoid
}

// Generate implements FanGenerator.
func (f ProjectedFan) Generate(spec ScanSpec) ([]FanRay, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	ell := f.ellipsoid()
	proj := NewWebMercator(ell)
	cg := ell.ToGeodetic(spec.Center)
	cx, cy := proj.Project(cg)

	var centre float64
	hasCentre := false
	switch {
	case spec.Reference != nil:
		rx, ry := proj.Project(ell.ToGeodetic(*spec.Reference))
		if math.Hypot(rx-cx, ry-cy) < minRayLength {
			return nil, invalidf("reference point projects onto the scan centre")
		}
		centre, hasCentre = math.Atan2(ry-cy, rx-cx), true
	case spec.AzimuthDeg != nil:
		centre, hasCentre = CompassToPlanar(*spec.AzimuthDeg), true
	}
	start, step := fanAngles(spec, centre, hasCentre)
	radius := f.ProjectedRadius(spec.Radius, cg.LatDeg)

	rays := make([]FanRay, spec.RayCount+1)
	for i := range rays {
		theta := start + step*float64(i)
		g := proj.Unproject(cx+radius*math.Cos(theta), cy+radius*math.Sin(theta), cg.Height)
		rays[i] = FanRay{Index: i, AngleDeg: theta * radToDeg, Target: ell.ToCartesian(g)}
	}
	return rays, nil
}
