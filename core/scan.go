package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/terrain-visibility/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/terrain-visibility/core"

// ScanMode selects how each ray of a scan is evaluated.
type ScanMode int

const (
	// ModeTerrainProfile runs a terrain profile per ray.
	ModeTerrainProfile ScanMode = iota
	// ModeObjectIntersection casts each ray through the intersection oracle.
	ModeObjectIntersection
)

func (m ScanMode) String() string {
	switch m {
	case ModeTerrainProfile:
		return "terrain"
	case ModeObjectIntersection:
		return "object"
	default:
		return fmt.Sprintf("ScanMode(%d)", int(m))
	}
}

// ParseScanMode accepts "terrain" or "object".
func ParseScanMode(s string) (ScanMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "terrain", "terrain-profile", "profile":
		return ModeTerrainProfile, nil
	case "object", "object-intersection", "intersection":
		return ModeObjectIntersection, nil
	default:
		return 0, invalidf("unknown scan mode %q", s)
	}
}

// ScanStatus summarises how much of a scan was computed.
type ScanStatus int

const (
	ScanComplete ScanStatus = iota
	ScanPartial
	ScanFailed
)

func (s ScanStatus) String() string {
	switch s {
	case ScanComplete:
		return "complete"
	case ScanPartial:
		return "partial"
	case ScanFailed:
		return "failed"
	default:
		return fmt.Sprintf("ScanStatus(%d)", int(s))
	}
}

// RayResult is the outcome of one ray. Err is set, and Segments empty, when
// the ray could not be computed.
type RayResult struct {
	Index    int
	AngleDeg float64
	Target   CartesianPoint
	Segments []ClassifiedSegment
	Err      error
}

// Failed reports whether the ray has no result.
func (r RayResult) Failed() bool { return r.Err != nil }

// ScanResult is the best-effort aggregate of a scan, ordered by ray index
// regardless of completion order.
type ScanResult struct {
	ID     string
	Mode   ScanMode
	Spec   ScanSpec
	Rays   []RayResult
	Failed int
	Status ScanStatus
}

// VisibleFraction is the visible share of the total length of all computed
// segments, or 0 when nothing was computed.
func (r ScanResult) VisibleFraction() float64 {
	var visible, total float64
	for _, ray := range r.Rays {
		for _, s := range ray.Segments {
			l := s.Length()
			total += l
			if s.Flag == Visible {
				visible += l
			}
		}
	}
	if total == 0 {
		return 0
	}
	return visible / total
}

func statusFor(failed, total int) ScanStatus {
	switch {
	case failed == 0:
		return ScanComplete
	case failed >= total:
		return ScanFailed
	default:
		return ScanPartial
	}
}

// DefaultScanConcurrency bounds concurrent rays when no limit is configured.
const DefaultScanConcurrency = 8

// Orchestrator runs scans: it generates the fan, evaluates each ray
// independently on a bounded pool of workers and aggregates the results.
type Orchestrator struct {
	profiles    *ProfileEngine
	oracle      IntersectionOracle
	fan         FanGenerator
	concurrency int
	rayTimeout  time.Duration
	log         logging.Logger
	rec         Recorder
	tracer      trace.Tracer
}

// OrchestratorOption customises an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithIntersectionOracle enables ModeObjectIntersection.
func WithIntersectionOracle(o IntersectionOracle) OrchestratorOption {
	return func(s *Orchestrator) { s.oracle = o }
}

// WithFanGenerator overrides the default LocalFrameFan.
func WithFanGenerator(f FanGenerator) OrchestratorOption {
	return func(s *Orchestrator) {
		if f != nil {
			s.fan = f
		}
	}
}

// WithConcurrency bounds the number of rays evaluated at once.
func WithConcurrency(n int) OrchestratorOption {
	return func(s *Orchestrator) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRayTimeout bounds each ray. A ray that times out is reported as
// ErrSamplingUnavailable for that ray only.
func WithRayTimeout(d time.Duration) OrchestratorOption {
	return func(s *Orchestrator) { s.rayTimeout = d }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l logging.Logger) OrchestratorOption {
	return func(s *Orchestrator) { s.log = logging.OrNoop(l) }
}

// WithRecorder reports ray and scan outcomes.
func WithRecorder(r Recorder) OrchestratorOption {
	return func(s *Orchestrator) {
		if r != nil {
			s.rec = r
		}
	}
}

// NewOrchestrator builds an orchestrator. profiles may be nil when only
// object-intersection scans are run.
func NewOrchestrator(profiles *ProfileEngine, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		profiles:    profiles,
		fan:         LocalFrameFan{Ellipsoid: WGS84},
		concurrency: DefaultScanConcurrency,
		log:         logging.Noop(),
		rec:         NoopRecorder(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Fan returns the configured fan generator.
func (o *Orchestrator) Fan() FanGenerator { return o.fan }

// Profiles returns the profile engine, which may be nil.
func (o *Orchestrator) Profiles() *ProfileEngine { return o.profiles }

// ComputeScan evaluates every ray of spec in the given mode. Invalid input is
// reported before any oracle is called. Failures of individual rays are
// recorded on their RayResult and never abort sibling rays. When ctx is
// cancelled no further rays are started, unstarted rays are marked
// ErrCancelled, and the partial result is returned together with an error
// wrapping ErrCancelled.
func (o *Orchestrator) ComputeScan(ctx context.Context, spec ScanSpec, mode ScanMode, excluded ExclusionSet) (ScanResult, error) {
	switch mode {
	case ModeTerrainProfile:
		if o.profiles == nil {
			return ScanResult{}, invalidf("terrain scan requires a profile engine")
		}
	case ModeObjectIntersection:
		if o.oracle == nil {
			return ScanResult{}, invalidf("object scan requires an intersection oracle")
		}
	default:
		return ScanResult{}, invalidf("unknown scan mode %d", int(mode))
	}
	fan, err := o.fan.Generate(spec)
	if err != nil {
		return ScanResult{}, err
	}

	ctx, scanID := logging.EnsureScanID(ctx)
	log := o.log.With(logging.String("scan_id", scanID), logging.String("mode", mode.String()))
	ctx, span := o.tracer.Start(ctx, "scan", trace.WithAttributes(
		attribute.String("scan.id", scanID),
		attribute.String("scan.mode", mode.String()),
		attribute.Int("scan.rays", len(fan)),
		attribute.Float64("scan.fov_deg", spec.FOVDeg),
		attribute.Float64("scan.radius_m", spec.Radius),
	))
	defer span.End()

	start := time.Now()
	results := make([]RayResult, len(fan))
	for i, ray := range fan {
		results[i] = RayResult{
			Index:    ray.Index,
			AngleDeg: ray.AngleDeg,
			Target:   ray.Target,
			Err:      fmt.Errorf("%w: ray not started", ErrCancelled),
		}
	}

	workers := o.concurrency
	if workers > len(fan) {
		workers = len(fan)
	}
	jobs := make(chan FanRay, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				// Each job owns its index; no two workers write the same slot.
				results[job.Index] = o.runRay(ctx, log, spec.Center, job, mode, excluded)
			}
		}()
	}

feed:
	for _, ray := range fan {
		select {
		case jobs <- ray:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	res := ScanResult{ID: scanID, Mode: mode, Spec: spec, Rays: results}
	for _, r := range results {
		if r.Failed() {
			res.Failed++
		}
	}
	res.Status = statusFor(res.Failed, len(results))
	elapsed := time.Since(start)
	o.rec.ObserveScan(mode, res.Status, elapsed)

	span.SetAttributes(
		attribute.Int("scan.failed_rays", res.Failed),
		attribute.String("scan.status", res.Status.String()),
	)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		log.Info(ctx, "scan cancelled",
			logging.Int("rays", len(results)),
			logging.Int("failed", res.Failed),
		)
		return res, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	log.Info(ctx, "scan finished",
		logging.Int("rays", len(results)),
		logging.Int("failed", res.Failed),
		logging.String("status", res.Status.String()),
		logging.Duration("elapsed", elapsed),
	)
	return res, nil
}

func (o *Orchestrator) runRay(ctx context.Context, log logging.Logger, center CartesianPoint, job FanRay, mode ScanMode, excluded ExclusionSet) RayResult {
	res := RayResult{Index: job.Index, AngleDeg: job.AngleDeg, Target: job.Target}
	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrCancelled, err)
		return res
	}

	o.rec.RaysInFlight(1)
	defer o.rec.RaysInFlight(-1)

	rayCtx, span := o.tracer.Start(ctx, "ray", trace.WithAttributes(
		attribute.Int("ray.index", job.Index),
		attribute.Float64("ray.angle_deg", job.AngleDeg),
	))
	defer span.End()
	if o.rayTimeout > 0 {
		var cancel context.CancelFunc
		rayCtx, cancel = context.WithTimeout(rayCtx, o.rayTimeout)
		defer cancel()
	}

	var err error
	switch mode {
	case ModeObjectIntersection:
		res.Segments, err = o.castRay(rayCtx, center, job.Target, excluded)
	default:
		var p Profile
		p, err = o.profiles.Compute(rayCtx, center, job.Target)
		res.Segments = p.Segments
	}

	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		res.Segments = nil
		res.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, ErrCancelled) {
			log.Warn(ctx, "ray failed",
				logging.Int("ray", job.Index),
				logging.Float64("angle_deg", job.AngleDeg),
				logging.Err(err),
			)
		}
	}
	o.rec.ObserveRay(mode, err)
	return res
}

func (o *Orchestrator) castRay(ctx context.Context, center, target CartesianPoint, excluded ExclusionSet) ([]ClassifiedSegment, error) {
	ray, err := NewSightRay(center, target)
	if err != nil {
		return nil, err
	}
	hit, ok, err := o.oracle.Cast(ctx, ray, excluded)
	if err != nil {
		return nil, oracleError(ctx, err)
	}
	if ok && excluded.Contains(hit.Handle) {
		// An oracle that ignores the exclusion list must not occlude the ray
		// with the caller's own markers.
		ok = false
	}
	return SplitAtHit(ray, hit, ok), nil
}
