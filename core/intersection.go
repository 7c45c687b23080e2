package core

import (
	"context"
	"sort"
)

// ObjectHandle opaquely identifies a scene object known to an
// IntersectionOracle.
type ObjectHandle string

// ExclusionSet lists objects an oracle must ignore, typically markers the
// caller drew for the scan itself.
type ExclusionSet map[ObjectHandle]struct{}

// NewExclusionSet builds a set from handles.
func NewExclusionSet(handles ...ObjectHandle) ExclusionSet {
	set := make(ExclusionSet, len(handles))
	for _, h := range handles {
		set[h] = struct{}{}
	}
	return set
}

// Contains reports whether h is excluded. A nil set excludes nothing.
func (s ExclusionSet) Contains(h ObjectHandle) bool {
	_, ok := s[h]
	return ok
}

// Handles returns the excluded handles in sorted order.
func (s ExclusionSet) Handles() []ObjectHandle {
	out := make([]ObjectHandle, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Hit is the nearest object surface point an oracle found along a ray.
type Hit struct {
	Point  CartesianPoint
	Handle ObjectHandle
}

// IntersectionOracle casts a ray into a 3D scene. It returns the nearest hit
// on an object not in excluded, or ok=false when nothing is hit.
type IntersectionOracle interface {
	Cast(ctx context.Context, ray SightRay, excluded ExclusionSet) (hit Hit, ok bool, err error)
}

// SplitAtHit turns an oracle answer into classified segments. A hit strictly
// between origin and target splits the ray into a visible part before the hit
// and an occluded part after it; the split point is the hit projected onto
// the ray, so the two lengths always add up to the ray length. Hits behind the
// origin or at or beyond the target leave the whole ray visible.
func SplitAtHit(ray SightRay, hit Hit, ok bool) []ClassifiedSegment {
	if ok {
		d := ray.Project(hit.Point)
		if d > minRayLength && d < ray.Length-minRayLength {
			split := ray.PointAtDistance(d)
			return []ClassifiedSegment{
				{Start: ray.Origin, End: split, Flag: Visible},
				{Start: split, End: ray.Target, Flag: Occluded},
			}
		}
	}
	return []ClassifiedSegment{{Start: ray.Origin, End: ray.Target, Flag: Visible}}
}
