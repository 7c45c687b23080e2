package core

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/terrain-visibility/internal/logging"
)

// Interpolation selects how sample positions are laid out between origin and
// target. The two diverge over long distances because of curvature, so a
// deployment should pick one and stick with it.
type Interpolation int

const (
	// InterpolateGeodetic lerps longitude, latitude and height.
	InterpolateGeodetic Interpolation = iota
	// InterpolateRay walks the straight Cartesian ray and converts each point
	// back to geodetic coordinates.
	InterpolateRay
)

func (i Interpolation) String() string {
	switch i {
	case InterpolateGeodetic:
		return "geodetic"
	case InterpolateRay:
		return "ray"
	default:
		return fmt.Sprintf("Interpolation(%d)", int(i))
	}
}

// ParseInterpolation accepts "geodetic" or "ray".
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "geodetic", "great-circle":
		return InterpolateGeodetic, nil
	case "ray", "cartesian":
		return InterpolateRay, nil
	default:
		return 0, invalidf("unknown interpolation %q", s)
	}
}

// Default step policies.
const (
	DefaultSampleCount  = 300
	DefaultStepDistance = 10.0

	// MaxSamples caps the segments of one profile under either policy.
	MaxSamples = 50_000
)

// StepPolicy fixes either the number of segments (Count) or the length of
// each step (Distance, metres). Count wins when both are set; the zero value
// yields no segments.
type StepPolicy struct {
	Count    int     `json:"count,omitempty" yaml:"count,omitempty"`
	Distance float64 `json:"distance,omitempty" yaml:"distance,omitempty"`
}

// FixedCount returns a policy producing n segments per profile.
func FixedCount(n int) StepPolicy { return StepPolicy{Count: n} }

// FixedDistance returns a policy stepping d metres at a time.
func FixedDistance(d float64) StepPolicy { return StepPolicy{Distance: d} }

// Steps returns the number of segments for a ray of the given length.
func (p StepPolicy) Steps(length float64) (int, error) {
	if p.Count < 0 || p.Distance < 0 || math.IsNaN(p.Distance) {
		return 0, invalidf("step policy must be non-negative: %+v", p)
	}
	switch {
	case p.Count > MaxSamples:
		return 0, invalidf("step count %d exceeds %d", p.Count, MaxSamples)
	case p.Count > 0:
		return p.Count, nil
	case p.Distance > 0:
		n := math.Ceil(length / p.Distance)
		if math.IsNaN(n) || n > MaxSamples {
			return 0, invalidf("%.0f m at %g m steps needs more than %d samples", length, p.Distance, MaxSamples)
		}
		return int(n), nil
	default:
		return 0, nil
	}
}

func (p StepPolicy) String() string {
	if p.Count > 0 {
		return fmt.Sprintf("count=%d", p.Count)
	}
	return fmt.Sprintf("distance=%gm", p.Distance)
}

// ProfileConfig is the named configuration of the profile engine.
type ProfileConfig struct {
	Steps         StepPolicy
	Interpolation Interpolation
	Classifier    Classifier
}

// DefaultProfileConfig samples 300 segments along the geodetic path and uses
// the linear sight-height test with DefaultTolerance.
func DefaultProfileConfig() ProfileConfig {
	return ProfileConfig{
		Steps:         FixedCount(DefaultSampleCount),
		Interpolation: InterpolateGeodetic,
		Classifier:    Classifier{Policy: SightLinear, Comparator: OccludeTerrainAbove, Tolerance: DefaultTolerance},
	}
}

// Validate checks the configuration without running a query.
func (c ProfileConfig) Validate() error {
	if _, err := c.Steps.Steps(0); err != nil {
		return err
	}
	if c.Interpolation != InterpolateGeodetic && c.Interpolation != InterpolateRay {
		return invalidf("unknown interpolation %d", int(c.Interpolation))
	}
	return c.Classifier.Validate()
}

// SamplePoint is one terrain sample of a profile.
type SamplePoint struct {
	T       float64  // fraction along the ray, 0..1
	Point   GeoPoint // sampled position; Height is the terrain height
	Sight   float64  // expected sight-line height at T
	Flag    VisibilityFlag
	Elapsed float64 // distance from origin along the ray, metres
}

// Profile is the result of one origin-target query.
type Profile struct {
	Origin   GeoPoint
	Target   GeoPoint
	Length   float64
	Samples  []SamplePoint
	Segments []ClassifiedSegment
}

// VisibleLength sums the lengths of visible segments.
func (p Profile) VisibleLength() float64 {
	var total float64
	for _, s := range p.Segments {
		if s.Flag == Visible {
			total += s.Length()
		}
	}
	return total
}

// ProfileEngine samples terrain along a sight line and classifies every
// segment between consecutive samples.
type ProfileEngine struct {
	ellipsoid Ellipsoid
	sampler   *Sampler
	cfg       ProfileConfig
	log       logging.Logger
}

// NewProfileEngine validates cfg and returns an engine on the WGS-84
// ellipsoid.
func NewProfileEngine(sampler *Sampler, cfg ProfileConfig, log logging.Logger) (*ProfileEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ProfileEngine{
		ellipsoid: WGS84,
		sampler:   sampler,
		cfg:       cfg,
		log:       logging.OrNoop(log),
	}, nil
}

// Config returns the engine configuration.
func (e *ProfileEngine) Config() ProfileConfig { return e.cfg }

// Ellipsoid returns the reference ellipsoid the engine works on.
func (e *ProfileEngine) Ellipsoid() Ellipsoid { return e.ellipsoid }

// Compute samples and classifies the sight line from origin to target. A
// zero step count or coincident endpoints yield an empty profile. If the
// terrain cannot be sampled completely the whole profile fails with
// ErrSamplingUnavailable; nothing is classified against placeholder heights.
func (e *ProfileEngine) Compute(ctx context.Context, origin, target CartesianPoint) (Profile, error) {
	if !finite(origin) || !finite(target) {
		return Profile{}, invalidf("profile endpoints must be finite")
	}
	og := e.ellipsoid.ToGeodetic(origin)
	tg := e.ellipsoid.ToGeodetic(target)
	empty := Profile{Origin: og, Target: tg}

	length := Distance(origin, target)
	if length < minRayLength {
		return empty, nil
	}
	ray, err := NewSightRay(origin, target)
	if err != nil {
		return empty, err
	}
	steps, err := e.cfg.Steps.Steps(ray.Length)
	if err != nil {
		return empty, err
	}
	if steps == 0 {
		return empty, nil
	}

	queries := make([]GeoPoint, steps+1)
	rayHeights := make([]float64, steps+1)
	for i := range queries {
		t := float64(i) / float64(steps)
		switch e.cfg.Interpolation {
		case InterpolateRay:
			queries[i] = e.ellipsoid.ToGeodetic(ray.At(t))
			rayHeights[i] = queries[i].Height
		default:
			queries[i] = LerpGeo(og, tg, t)
			rayHeights[i] = e.ellipsoid.ToGeodetic(ray.At(t)).Height
		}
	}

	sampled, err := e.sampler.Sample(ctx, queries)
	if err != nil {
		return empty, err
	}

	cls := e.cfg.Classifier
	samples := make([]SamplePoint, len(sampled))
	segments := make([]ClassifiedSegment, 0, steps)
	prev := e.ellipsoid.ToCartesian(sampled[0])
	for i, s := range sampled {
		t := float64(i) / float64(steps)
		expected := cls.ExpectedHeight(og.Height, tg.Height, t, rayHeights[i])
		flag := cls.Classify(expected, s.Height)
		samples[i] = SamplePoint{T: t, Point: s, Sight: expected, Flag: flag, Elapsed: t * ray.Length}
		if i == 0 {
			continue
		}
		cur := e.ellipsoid.ToCartesian(s)
		segments = append(segments, ClassifiedSegment{Start: prev, End: cur, Flag: flag})
		if flag == Occluded {
			e.log.Debug(ctx, "sight line blocked by terrain",
				logging.Int("sample", i),
				logging.Int("of", steps),
				logging.Float64("terrain_m", s.Height),
				logging.Float64("sight_m", expected),
			)
		}
		prev = cur
	}

	return Profile{
		Origin:   og,
		Target:   tg,
		Length:   ray.Length,
		Samples:  samples,
		Segments: segments,
	}, nil
}
