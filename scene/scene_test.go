package scene

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/signalsfoundry/terrain-visibility/core"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"
)

var anchor = core.GeoPoint{LonDeg: 10, LatDeg: 45, Height: 0}

func TestShapeIntersect(t *testing.T) {
	east := r3.Vec{X: 1}
	cases := []struct {
		name   string
		shape  Shape
		origin r3.Vec
		want   float64
		hit    bool
	}{
		{"sphere ahead", Sphere{Center: r3.Vec{X: 50}, Radius: 10}, r3.Vec{}, 40, true},
		{"sphere behind", Sphere{Center: r3.Vec{X: -50}, Radius: 10}, r3.Vec{}, 0, false},
		{"sphere missed", Sphere{Center: r3.Vec{X: 50, Y: 20}, Radius: 10}, r3.Vec{}, 0, false},
		{"inside sphere", Sphere{Center: r3.Vec{}, Radius: 3}, r3.Vec{}, 3, true},
		{"box ahead", Box{Min: r3.Vec{X: 40, Y: -5, Z: -5}, Max: r3.Vec{X: 60, Y: 5, Z: 5}}, r3.Vec{}, 40, true},
		{"box beside", Box{Min: r3.Vec{X: 40, Y: 6, Z: -5}, Max: r3.Vec{X: 60, Y: 9, Z: 5}}, r3.Vec{}, 0, false},
		{"inside box", Box{Min: r3.Vec{X: -1, Y: -1, Z: -1}, Max: r3.Vec{X: 2, Y: 1, Z: 1}}, r3.Vec{}, 2, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.shape.Intersect(tc.origin, east)
			if ok != tc.hit || (ok && !scalar.EqualWithinAbs(got, tc.want, 1e-9)) {
				t.Fatalf("Intersect = %v, %v; want %v, %v", got, ok, tc.want, tc.hit)
			}
		})
	}
}

func newScene(t *testing.T) *Scene {
	t.Helper()
	s := New(anchor)
	if err := s.Add("tower", Sphere{Center: r3.Vec{X: 50, Z: 2}, Radius: 10}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("viewpoint", Sphere{Center: r3.Vec{Z: 2}, Radius: 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return s
}

func localRay(t *testing.T, s *Scene, from, to r3.Vec) core.SightRay {
	t.Helper()
	ray, err := core.NewSightRay(s.Frame().FromLocal(from), s.Frame().FromLocal(to))
	if err != nil {
		t.Fatalf("NewSightRay: %v", err)
	}
	return ray
}

func TestCastSplitsRayAtHit(t *testing.T) {
	s := newScene(t)
	ray := localRay(t, s, r3.Vec{Z: 2}, r3.Vec{X: 100, Z: 2})

	hit, ok, err := s.Cast(context.Background(), ray, core.NewExclusionSet("viewpoint"))
	if err != nil || !ok {
		t.Fatalf("Cast = %v, %v, %v", hit, ok, err)
	}
	if hit.Handle != "tower" {
		t.Fatalf("hit %q, want tower", hit.Handle)
	}
	segs := core.SplitAtHit(ray, hit, ok)
	if len(segs) != 2 || !scalar.EqualWithinAbs(segs[0].Length(), 40, 1e-6) || !scalar.EqualWithinAbs(segs[1].Length(), 60, 1e-6) {
		t.Fatalf("segments = %v, want 40 m visible + 60 m occluded", segs)
	}
}

func TestCastWithoutExclusionHitsMarker(t *testing.T) {
	s := newScene(t)
	ray := localRay(t, s, r3.Vec{Z: 2}, r3.Vec{X: 100, Z: 2})
	hit, ok, err := s.Cast(context.Background(), ray, nil)
	if err != nil || !ok || hit.Handle != "viewpoint" {
		t.Fatalf("Cast = %v, %v, %v; want the viewpoint marker", hit, ok, err)
	}
}

func TestCastIgnoresHitsBeyondTarget(t *testing.T) {
	s := newScene(t)
	ray := localRay(t, s, r3.Vec{Z: 2}, r3.Vec{X: 30, Z: 2})
	if _, ok, err := s.Cast(context.Background(), ray, core.NewExclusionSet("viewpoint")); err != nil || ok {
		t.Fatalf("Cast ok=%v err=%v, want no hit", ok, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := s.Cast(ctx, ray, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled Cast err = %v", err)
	}
}

func TestObjectScanOverScene(t *testing.T) {
	s := newScene(t)
	o := core.NewOrchestrator(nil, core.WithIntersectionOracle(s))
	spec := core.ScanSpec{
		Center:   s.Frame().FromLocal(r3.Vec{Z: 2}),
		FOVDeg:   360,
		Radius:   100,
		RayCount: 4,
	}
	res, err := o.ComputeScan(context.Background(), spec, core.ModeObjectIntersection, core.NewExclusionSet("viewpoint"))
	if err != nil {
		t.Fatalf("ComputeScan: %v", err)
	}
	// Rays 0 and 4 point east at the tower; the rest are clear.
	for i, r := range res.Rays {
		wantSegs := 1
		if i == 0 || i == 4 {
			wantSegs = 2
		}
		if len(r.Segments) != wantSegs {
			t.Fatalf("ray %d has %d segments, want %d", i, len(r.Segments), wantSegs)
		}
	}
	if f := res.VisibleFraction(); !scalar.EqualWithinAbs(f, 0.76, 1e-6) {
		t.Fatalf("visible fraction = %v, want 0.76", f)
	}
}

func TestAddRemove(t *testing.T) {
	s := New(anchor)
	if err := s.Add("a", Sphere{Radius: 1}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("a", Sphere{Radius: 1}); !errors.Is(err, ErrDuplicateObject) {
		t.Fatalf("duplicate err = %v", err)
	}
	if err := s.Add("b", Sphere{Radius: -1}); !errors.Is(err, ErrInvalidShape) {
		t.Fatalf("invalid shape err = %v", err)
	}
	if err := s.Add("c", Box{Min: r3.Vec{X: 1}, Max: r3.Vec{X: 0, Y: 1, Z: 1}}); !errors.Is(err, ErrInvalidShape) {
		t.Fatalf("inverted box err = %v", err)
	}
	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove("a"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("second Remove err = %v", err)
	}
	if n := len(s.Objects()); n != 0 {
		t.Fatalf("objects left: %d", n)
	}
}

func TestLoad(t *testing.T) {
	doc := `
anchor: {lon: 10, lat: 45, height: 0}
objects:
  - handle: tower
    sphere: {center: [50, 0, 2], radius: 10}
  - handle: shed
    box: {min: [-20, -20, 0], max: [-10, -10, 4]}
`
	s, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	objs := s.Objects()
	if len(objs) != 2 || objs[0].Handle != "shed" || objs[1].Handle != "tower" {
		t.Fatalf("objects = %+v", objs)
	}
	if _, ok := objs[1].Shape.(Sphere); !ok {
		t.Fatalf("tower shape = %T, want Sphere", objs[1].Shape)
	}

	for name, bad := range map[string]string{
		"no shape":   "anchor: {lon: 0, lat: 0}\nobjects:\n  - handle: x\n",
		"two shapes": "anchor: {lon: 0, lat: 0}\nobjects:\n  - {handle: x, sphere: {radius: 1}, box: {min: [0,0,0], max: [1,1,1]}}\n",
		"bad anchor": "anchor: {lon: 0, lat: 95}\n",
	} {
		if _, err := Load(strings.NewReader(bad)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
