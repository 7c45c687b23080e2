package core

import (
	"fmt"
	"strings"
)

// SightPolicy selects how the expected sight-line height at fraction t is
// obtained.
type SightPolicy int

const (
	// SightLinear interpolates linearly between origin and target heights.
	SightLinear SightPolicy = iota
	// SightRayParametric reads the geodetic height of the straight 3D ray at t.
	SightRayParametric
)

func (p SightPolicy) String() string {
	switch p {
	case SightLinear:
		return "linear"
	case SightRayParametric:
		return "ray"
	default:
		return fmt.Sprintf("SightPolicy(%d)", int(p))
	}
}

// ParseSightPolicy accepts "linear" or "ray".
func ParseSightPolicy(s string) (SightPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear":
		return SightLinear, nil
	case "ray", "ray-parametric", "ray_parametric":
		return SightRayParametric, nil
	default:
		return 0, invalidf("unknown sight policy %q", s)
	}
}

// OcclusionComparator decides which side of the sight line counts as
// occluding terrain.
type OcclusionComparator int

const (
	// OccludeTerrainAbove marks a sample occluded when terrain rises above the
	// sight line.
	OccludeTerrainAbove OcclusionComparator = iota
	// OccludeTerrainBelow is the inverted sense: occluded when terrain lies
	// below the sight line.
	OccludeTerrainBelow
)

func (c OcclusionComparator) String() string {
	switch c {
	case OccludeTerrainAbove:
		return "terrain-above"
	case OccludeTerrainBelow:
		return "terrain-below"
	default:
		return fmt.Sprintf("OcclusionComparator(%d)", int(c))
	}
}

// ParseOcclusionComparator accepts "terrain-above" (or ">") and
// "terrain-below" (or "<").
func ParseOcclusionComparator(s string) (OcclusionComparator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", ">", "above", "terrain-above":
		return OccludeTerrainAbove, nil
	case "<", "below", "terrain-below":
		return OccludeTerrainBelow, nil
	default:
		return 0, invalidf("unknown occlusion comparator %q", s)
	}
}

// DefaultTolerance absorbs the rounding of a geodetic round trip (about 1e-9
// m at the surface) so level terrain never grazes its own sight line.
const DefaultTolerance = 1e-3

// Classifier is the per-sample visibility test. Classification is local to
// each segment: an occluded segment does not force later segments occluded.
type Classifier struct {
	Policy     SightPolicy
	Comparator OcclusionComparator
	// Tolerance (metres) widens the band in which terrain is still
	// considered clear of the sight line. Zero means an exact comparison.
	Tolerance float64
}

// ExpectedHeight returns the sight-line height at fraction t, given origin and
// target heights h0/h1 and the height of the 3D ray itself at t.
func (c Classifier) ExpectedHeight(h0, h1, t, rayHeight float64) float64 {
	if c.Policy == SightRayParametric {
		return rayHeight
	}
	return h0 + (h1-h0)*t
}

// Classify compares terrain height with the expected sight height.
func (c Classifier) Classify(expected, terrain float64) VisibilityFlag {
	switch c.Comparator {
	case OccludeTerrainBelow:
		if terrain < expected-c.Tolerance {
			return Occluded
		}
	default:
		if terrain > expected+c.Tolerance {
			return Occluded
		}
	}
	return Visible
}

// Validate rejects unknown enum values and negative tolerances.
func (c Classifier) Validate() error {
	if c.Policy != SightLinear && c.Policy != SightRayParametric {
		return invalidf("unknown sight policy %d", int(c.Policy))
	}
	if c.Comparator != OccludeTerrainAbove && c.Comparator != OccludeTerrainBelow {
		return invalidf("unknown occlusion comparator %d", int(c.Comparator))
	}
	if c.Tolerance < 0 {
		return invalidf("tolerance must be non-negative, got %g", c.Tolerance)
	}
	return nil
}
