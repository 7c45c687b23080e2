// Package scene is an in-memory 3D scene of solid objects that answers
// ray casts for object-intersection scans.
package scene

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/signalsfoundry/terrain-visibility/core"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	ErrDuplicateObject = errors.New("object already exists")
	ErrObjectNotFound  = errors.New("object not found")
	ErrInvalidShape    = errors.New("invalid shape")
)

// Shape is a solid in the scene's local East-North-Up frame (metres).
type Shape interface {
	// Intersect returns the smallest non-negative distance along the unit
	// direction dir from origin at which the ray meets the surface.
	Intersect(origin, dir r3.Vec) (float64, bool)
	Validate() error
}

// Sphere is a ball around Center.
type Sphere struct {
	Center r3.Vec
	Radius float64
}

func (s Sphere) Validate() error {
	if !(s.Radius > 0) || math.IsInf(s.Radius, 0) {
		return fmt.Errorf("%w: sphere radius %g", ErrInvalidShape, s.Radius)
	}
	return nil
}

func (s Sphere) Intersect(origin, dir r3.Vec) (float64, bool) {
	oc := r3.Sub(origin, s.Center)
	b := r3.Dot(oc, dir)
	c := r3.Dot(oc, oc) - s.Radius*s.Radius
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	if t := -b - sq; t >= 0 {
		return t, true
	}
	// Origin inside the sphere: the ray leaves through the far side.
	if t := -b + sq; t >= 0 {
		return t, true
	}
	return 0, false
}

// Box is an axis-aligned box in the local frame.
type Box struct {
	Min r3.Vec
	Max r3.Vec
}

func (b Box) Validate() error {
	if !(b.Max.X > b.Min.X && b.Max.Y > b.Min.Y && b.Max.Z > b.Min.Z) {
		return fmt.Errorf("%w: box min %v must be below max %v", ErrInvalidShape, b.Min, b.Max)
	}
	return nil
}

func (b Box) Intersect(origin, dir r3.Vec) (float64, bool) {
	tmin, tmax := math.Inf(-1), math.Inf(1)
	for _, axis := range [3][4]float64{
		{origin.X, dir.X, b.Min.X, b.Max.X},
		{origin.Y, dir.Y, b.Min.Y, b.Max.Y},
		{origin.Z, dir.Z, b.Min.Z, b.Max.Z},
	} {
		o, d, lo, hi := axis[0], axis[1], axis[2], axis[3]
		if d == 0 {
			if o < lo || o > hi {
				return 0, false
			}
			continue
		}
		t1, t2 := (lo-o)/d, (hi-o)/d
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
	}
	if tmax < tmin || tmax < 0 {
		return 0, false
	}
	if tmin >= 0 {
		return tmin, true
	}
	return tmax, true
}

// Object is a named shape.
type Object struct {
	Handle core.ObjectHandle
	Shape  Shape
}

// Scene holds objects around an anchor point. It implements
// core.IntersectionOracle and is safe for concurrent use.
type Scene struct {
	mu      sync.RWMutex
	anchor  core.GeoPoint
	frame   core.ENUFrame
	objects map[core.ObjectHandle]Shape
}

var _ core.IntersectionOracle = (*Scene)(nil)

// New creates an empty scene whose local frame is rooted at anchor.
func New(anchor core.GeoPoint) *Scene {
	return &Scene{
		anchor:  anchor,
		frame:   core.NewENUFrame(core.WGS84, core.WGS84.ToCartesian(anchor)),
		objects: make(map[core.ObjectHandle]Shape),
	}
}

// Anchor returns the scene origin.
func (s *Scene) Anchor() core.GeoPoint { return s.anchor }

// Frame returns the local frame shapes are expressed in.
func (s *Scene) Frame() core.ENUFrame { return s.frame }

// Add inserts a shape under handle.
func (s *Scene) Add(handle core.ObjectHandle, shape Shape) error {
	if handle == "" {
		return fmt.Errorf("%w: empty handle", ErrInvalidShape)
	}
	if shape == nil {
		return fmt.Errorf("%w: nil shape for %q", ErrInvalidShape, handle)
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("%q: %w", handle, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[handle]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateObject, handle)
	}
	s.objects[handle] = shape
	return nil
}

// Remove deletes the object with the given handle.
func (s *Scene) Remove(handle core.ObjectHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[handle]; !ok {
		return fmt.Errorf("%w: %q", ErrObjectNotFound, handle)
	}
	delete(s.objects, handle)
	return nil
}

// Objects returns a snapshot of the scene sorted by handle.
func (s *Scene) Objects() []Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Object, 0, len(s.objects))
	for h, shape := range s.objects {
		out = append(out, Object{Handle: h, Shape: shape})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Cast implements core.IntersectionOracle: it returns the nearest surface
// point within the ray's length on an object not in excluded.
func (s *Scene) Cast(ctx context.Context, ray core.SightRay, excluded core.ExclusionSet) (core.Hit, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.Hit{}, false, err
	}
	origin := s.frame.ToLocal(ray.Origin)
	dir := s.frame.ToLocalVector(ray.Direction)

	s.mu.RLock()
	defer s.mu.RUnlock()

	best := math.Inf(1)
	var handle core.ObjectHandle
	for h, shape := range s.objects {
		if excluded.Contains(h) {
			continue
		}
		t, ok := shape.Intersect(origin, dir)
		if !ok || t > ray.Length {
			continue
		}
		// Ties go to the smaller handle so repeated casts agree.
		if t < best || (t == best && h < handle) {
			best, handle = t, h
		}
	}
	if math.IsInf(best, 1) {
		return core.Hit{}, false, nil
	}
	return core.Hit{Point: ray.PointAtDistance(best), Handle: handle}, true, nil
}
