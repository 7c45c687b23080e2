package core

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"
)

func testCentre() CartesianPoint {
	return WGS84.ToCartesian(GeoPoint{LonDeg: 10, LatDeg: 45, Height: 100})
}

func ptr[T any](v T) *T { return &v }

func TestFanFullCircleCoverage(t *testing.T) {
	spec := ScanSpec{Center: testCentre(), FOVDeg: 360, Radius: 1000, RayCount: 120}
	for _, gen := range []FanGenerator{LocalFrameFan{}, ProjectedFan{}} {
		rays, err := gen.Generate(spec)
		if err != nil {
			t.Fatalf("%T.Generate: %v", gen, err)
		}
		if len(rays) != 121 {
			t.Fatalf("%T produced %d rays, want 121", gen, len(rays))
		}
		for i, r := range rays {
			if r.Index != i {
				t.Fatalf("ray %d has index %d", i, r.Index)
			}
			if !scalar.EqualWithinAbs(r.AngleDeg, 3*float64(i), 1e-9) {
				t.Fatalf("%T ray %d angle = %v, want %v", gen, i, r.AngleDeg, 3*float64(i))
			}
		}
		if d := Distance(rays[0].Target, rays[120].Target); d > 1e-6 {
			t.Fatalf("%T seam rays are %v m apart, want coincident", gen, d)
		}
		if d := Distance(rays[0].Target, rays[1].Target); d < 1 {
			t.Fatalf("%T neighbouring rays coincide", gen)
		}
	}
}

func TestFanAnglesMonotonic(t *testing.T) {
	spec := ScanSpec{Center: testCentre(), AzimuthDeg: ptr(350.0), FOVDeg: 60, Radius: 500, RayCount: 7}
	rays, err := LocalFrameFan{}.Generate(spec)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	step := spec.AngleStepDeg()
	for i := 1; i < len(rays); i++ {
		if d := rays[i].AngleDeg - rays[i-1].AngleDeg; !scalar.EqualWithinAbs(d, step, 1e-9) {
			t.Fatalf("step between rays %d and %d = %v, want %v", i-1, i, d, step)
		}
	}
}

func TestLocalFrameFanGeometry(t *testing.T) {
	centre := testCentre()
	spec := ScanSpec{Center: centre, AzimuthDeg: ptr(0.0), FOVDeg: 60, Radius: 1000, RayCount: 6}
	rays, err := LocalFrameFan{}.Generate(spec)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(rays) != 7 {
		t.Fatalf("got %d rays, want 7", len(rays))
	}
	// Planar angles grow counter-clockwise, so compass bearings run from 30
	// back through north to 330.
	if b := rays[0].BearingDeg(); !scalar.EqualWithinAbs(b, 30, 1e-9) {
		t.Fatalf("first bearing = %v, want 30", b)
	}
	if b := rays[6].BearingDeg(); !scalar.EqualWithinAbs(b, 330, 1e-9) {
		t.Fatalf("last bearing = %v, want 330", b)
	}

	frame := NewENUFrame(WGS84, centre)
	for i, r := range rays {
		local := frame.ToLocal(r.Target)
		if !scalar.EqualWithinAbs(math.Hypot(local.X, local.Y), 1000, 1e-6) || math.Abs(local.Z) > 1e-6 {
			t.Fatalf("ray %d target local = %v, want radius 1000 on the horizontal plane", i, local)
		}
	}

	// A reference point due north centres the fan the same way.
	north := frame.FromLocal(r3.Vec{Y: 250, Z: 40})
	byRef, err := LocalFrameFan{}.Generate(ScanSpec{Center: centre, Reference: &north, FOVDeg: 60, Radius: 1000, RayCount: 6})
	if err != nil {
		t.Fatalf("Generate with reference: %v", err)
	}
	for i := range rays {
		if d := Distance(rays[i].Target, byRef[i].Target); d > 1e-6 {
			t.Fatalf("ray %d differs by %v m between azimuth and reference", i, d)
		}
	}
}

func TestFanDefaultsToEastCounterClockwise(t *testing.T) {
	centre := testCentre()
	rays, err := LocalFrameFan{}.Generate(ScanSpec{Center: centre, FOVDeg: 360, Radius: 100, RayCount: 4})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	frame := NewENUFrame(WGS84, centre)
	first := frame.ToLocal(rays[0].Target)
	second := frame.ToLocal(rays[1].Target)
	if !scalar.EqualWithinAbs(first.X, 100, 1e-6) || !scalar.EqualWithinAbs(second.Y, 100, 1e-6) {
		t.Fatalf("first two rays = %v, %v; want east then north", first, second)
	}
}

func TestScanSpecValidate(t *testing.T) {
	centre := testCentre()
	valid := ScanSpec{Center: centre, FOVDeg: 90, Radius: 10, RayCount: 3}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}

	cases := map[string]func(*ScanSpec){
		"zero rays":        func(s *ScanSpec) { s.RayCount = 0 },
		"negative radius":  func(s *ScanSpec) { s.Radius = -1 },
		"zero radius":      func(s *ScanSpec) { s.Radius = 0 },
		"zero fov":         func(s *ScanSpec) { s.FOVDeg = 0 },
		"fov over 360":     func(s *ScanSpec) { s.FOVDeg = 361 },
		"nan fov":          func(s *ScanSpec) { s.FOVDeg = math.NaN() },
		"origin centre":    func(s *ScanSpec) { s.Center = CartesianPoint{} },
		"reference=centre": func(s *ScanSpec) { s.Reference = &centre },
		"infinite azimuth": func(s *ScanSpec) { s.AzimuthDeg = ptr(math.Inf(1)) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			spec := valid
			mutate(&spec)
			if _, err := (LocalFrameFan{}).Generate(spec); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestProjectedRadius(t *testing.T) {
	cases := []struct {
		fan  ProjectedFan
		lat  float64
		want float64
	}{
		{ProjectedFan{}, 0, 1000},
		{ProjectedFan{}, 60, 2000},
		{ProjectedFan{Padding: PaddingFixed}, 60, 1000 + LegacyProjectedPadding},
		{ProjectedFan{Padding: PaddingFixed, FixedPadding: 50}, 10, 1050},
		{ProjectedFan{Padding: PaddingNone}, 60, 1000},
	}
	for _, tc := range cases {
		if got := tc.fan.ProjectedRadius(1000, tc.lat); !scalar.EqualWithinAbs(got, tc.want, 1e-6) {
			t.Errorf("%v at %v° = %v, want %v", tc.fan.Padding, tc.lat, got, tc.want)
		}
	}
}

func TestProjectedFanGroundDistance(t *testing.T) {
	centre := testCentre()
	spec := ScanSpec{Center: centre, FOVDeg: 360, Radius: 1000, RayCount: 8}

	derived, err := ProjectedFan{}.Generate(spec)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	cg := WGS84.ToGeodetic(centre)
	for i, r := range derived {
		if d := Distance(centre, r.Target); math.Abs(d-1000) > 10 {
			t.Errorf("derived ray %d lands %v m away, want about 1000", i, d)
		}
		if h := WGS84.ToGeodetic(r.Target).Height; !scalar.EqualWithinAbs(h, cg.Height, 1e-6) {
			t.Errorf("ray %d target height = %v, want centre height %v", i, h, cg.Height)
		}
	}

	raw, err := ProjectedFan{Padding: PaddingNone}.Generate(spec)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// At 45° an uncorrected projected radius falls short by about cos(45°).
	if d := Distance(centre, raw[0].Target); d > 750 {
		t.Fatalf("unpadded ray lands %v m away, want about 707", d)
	}
}

func TestParsePaddingMode(t *testing.T) {
	for in, want := range map[string]PaddingMode{"": PaddingDerived, "fixed": PaddingFixed, "NONE": PaddingNone} {
		if got, err := ParsePaddingMode(in); err != nil || got != want {
			t.Errorf("ParsePaddingMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePaddingMode("lots"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown padding err = %v", err)
	}
}
