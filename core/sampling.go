package core

import (
	"context"
	"fmt"
	"math"
	"time"
)

// ElevationProvider is the external terrain service. On success it returns
// exactly one point per query point, in order, with Height replaced by the
// best available terrain elevation.
type ElevationProvider interface {
	Sample(ctx context.Context, points []GeoPoint) ([]GeoPoint, error)
}

// ElevationProviderFunc adapts a function to ElevationProvider.
type ElevationProviderFunc func(ctx context.Context, points []GeoPoint) ([]GeoPoint, error)

func (f ElevationProviderFunc) Sample(ctx context.Context, points []GeoPoint) ([]GeoPoint, error) {
	return f(ctx, points)
}

// Sampler wraps an ElevationProvider and enforces its contract: one batched
// call per request, an optional per-call deadline, and no silent defaults.
// Anything short of a complete, finite answer is ErrSamplingUnavailable.
type Sampler struct {
	provider ElevationProvider
	timeout  time.Duration
	rec      Recorder
}

// SamplerOption customises a Sampler.
type SamplerOption func(*Sampler)

// WithSampleTimeout bounds every provider call.
func WithSampleTimeout(d time.Duration) SamplerOption {
	return func(s *Sampler) { s.timeout = d }
}

// WithSamplerRecorder reports sampling latency and outcome.
func WithSamplerRecorder(r Recorder) SamplerOption {
	return func(s *Sampler) {
		if r != nil {
			s.rec = r
		}
	}
}

// NewSampler builds a Sampler around provider.
func NewSampler(provider ElevationProvider, opts ...SamplerOption) *Sampler {
	s := &Sampler{provider: provider, rec: NoopRecorder()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample queries terrain heights for points. The returned slice has the same
// length and order as points; only Height differs.
func (s *Sampler) Sample(ctx context.Context, points []GeoPoint) ([]GeoPoint, error) {
	if len(points) == 0 {
		return nil, nil
	}
	if s == nil || s.provider == nil {
		return nil, fmt.Errorf("%w: no elevation provider configured", ErrSamplingUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, oracleError(ctx, err)
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	query := make([]GeoPoint, len(points))
	copy(query, points)

	start := time.Now()
	got, err := s.provider.Sample(callCtx, query)
	if err == nil {
		err = checkSamples(points, got)
	}
	s.rec.ObserveSampling(time.Since(start), len(points), err)
	if err != nil {
		// Only an explicit cancel is ErrCancelled; a deadline on ctx or on
		// the call is this batch going unanswered.
		return nil, oracleError(ctx, err)
	}

	out := make([]GeoPoint, len(points))
	for i, p := range points {
		out[i] = p.WithHeight(got[i].Height)
	}
	return out, nil
}

func checkSamples(want, got []GeoPoint) error {
	if len(got) != len(want) {
		return fmt.Errorf("%w: provider returned %d of %d samples", ErrSamplingUnavailable, len(got), len(want))
	}
	for i, g := range got {
		if math.IsNaN(g.Height) || math.IsInf(g.Height, 0) {
			return fmt.Errorf("%w: no terrain height at %v", ErrSamplingUnavailable, want[i])
		}
	}
	return nil
}
