// Package session accumulates user picks into visibility queries. A Session
// is owned by one caller and is not safe for concurrent use.
package session

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/terrain-visibility/core"
	"github.com/signalsfoundry/terrain-visibility/internal/logging"
	"github.com/signalsfoundry/terrain-visibility/timectrl"
)

// Kind selects what a completed pair of picks computes.
type Kind int

const (
	// TwoPointProfile computes a terrain profile from the first pick to the
	// second.
	TwoPointProfile Kind = iota
	// SectorScan runs a terrain scan from the first pick, centred on the
	// second, out to the distance between them.
	SectorScan
	// CircleScan runs a full-circle object-intersection scan around the first
	// pick out to the distance between them.
	CircleScan
)

func (k Kind) String() string {
	switch k {
	case TwoPointProfile:
		return "profile"
	case SectorScan:
		return "sector"
	case CircleScan:
		return "circle"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts the names returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "profile":
		return TwoPointProfile, nil
	case "sector":
		return SectorScan, nil
	case "circle":
		return CircleScan, nil
	default:
		return 0, fmt.Errorf("%w: unknown session kind %q", core.ErrInvalidInput, s)
	}
}

// Engines are the kernel components a session drives. Sector and Circle
// are separate orchestrators so each can carry its own fan generator.
type Engines struct {
	Profiles *core.ProfileEngine
	Sector   *core.Orchestrator
	Circle   *core.Orchestrator
}

// Settings are the per-kind scan parameters.
type Settings struct {
	SectorFOV  float64
	SectorRays int
	CircleRays int
	// Exclude is passed to every circle scan so the viewpoint marker does
	// not occlude its own rays.
	Exclude core.ExclusionSet
}

// DefaultSettings are the sector (60°, 120 rays) and circle (3° step)
// defaults.
func DefaultSettings() Settings {
	return Settings{
		SectorFOV:  60,
		SectorRays: 120,
		CircleRays: 120,
	}
}

// Query is a completed computation. Exactly one of Profile or Scan is set
// unless Err is.
type Query struct {
	Kind     Kind
	Origin   core.CartesianPoint
	Target   core.CartesianPoint
	Profile  *core.Profile
	Scan     *core.ScanResult
	Err      error
	At       time.Time
	Duration time.Duration
}

// Listener receives every completed query.
type Listener func(Query)

// Session owns the picks of an in-progress query plus running totals across
// queries.
type Session struct {
	kind      Kind
	eng       Engines
	settings  Settings
	log       logging.Logger
	clock     timectrl.Clock
	picks     []core.CartesianPoint
	pickCount int
	distance  float64
	queries   int
	listeners []Listener
}

// Option customises a Session.
type Option func(*Session)

// WithSettings overrides DefaultSettings.
func WithSettings(s Settings) Option {
	return func(sess *Session) { sess.settings = s }
}

// WithLogger sets the session logger.
func WithLogger(l logging.Logger) Option {
	return func(sess *Session) { sess.log = logging.OrNoop(l) }
}

// WithClock sets the clock that stamps queries.
func WithClock(c timectrl.Clock) Option {
	return func(sess *Session) { sess.clock = timectrl.OrSystem(c) }
}

// New returns a session of the given kind. The engines the kind needs must
// be set.
func New(kind Kind, eng Engines, opts ...Option) (*Session, error) {
	s := &Session{
		kind:     kind,
		eng:      eng,
		settings: DefaultSettings(),
		log:      logging.Noop(),
		clock:    timectrl.System(),
	}
	for _, opt := range opts {
		opt(s)
	}
	switch kind {
	case TwoPointProfile:
		if eng.Profiles == nil {
			return nil, fmt.Errorf("%w: profile session needs a profile engine", core.ErrInvalidInput)
		}
	case SectorScan:
		if eng.Sector == nil {
			return nil, fmt.Errorf("%w: sector session needs an orchestrator", core.ErrInvalidInput)
		}
		if s.settings.SectorFOV <= 0 || s.settings.SectorFOV > 360 || s.settings.SectorRays < 1 {
			return nil, fmt.Errorf("%w: sector settings fov=%v rays=%d", core.ErrInvalidInput, s.settings.SectorFOV, s.settings.SectorRays)
		}
	case CircleScan:
		if eng.Circle == nil {
			return nil, fmt.Errorf("%w: circle session needs an orchestrator", core.ErrInvalidInput)
		}
		if s.settings.CircleRays < 1 {
			return nil, fmt.Errorf("%w: circle settings rays=%d", core.ErrInvalidInput, s.settings.CircleRays)
		}
	default:
		return nil, fmt.Errorf("%w: unknown session kind %d", core.ErrInvalidInput, int(kind))
	}
	return s, nil
}

// Kind returns the session kind.
func (s *Session) Kind() Kind { return s.kind }

// OnQuery registers l to receive completed queries, in registration order.
func (s *Session) OnQuery(l Listener) {
	if l != nil {
		s.listeners = append(s.listeners, l)
	}
}

// Picks returns the picks of the query in progress.
func (s *Session) Picks() []core.CartesianPoint {
	return append([]core.CartesianPoint(nil), s.picks...)
}

// PickCount is the number of picks accepted since the last Reset.
func (s *Session) PickCount() int { return s.pickCount }

// Distance is the summed straight-line distance between consecutive picks
// of each query since the last Reset, in metres.
func (s *Session) Distance() float64 { return s.distance }

// Queries is the number of queries completed since the last Reset.
func (s *Session) Queries() int { return s.queries }

// Reset drops the query in progress and zeroes the running totals.
// Listeners stay registered.
func (s *Session) Reset() {
	s.picks = nil
	s.pickCount = 0
	s.distance = 0
	s.queries = 0
}

// Pick adds a point. The second pick runs the query, delivers it to the
// listeners, clears the picks and returns it with done set. The returned
// error is the query's error, or the reason the pick was rejected.
func (s *Session) Pick(ctx context.Context, p core.CartesianPoint) (q Query, done bool, err error) {
	if math.IsNaN(p.X+p.Y+p.Z) || math.IsInf(p.X+p.Y+p.Z, 0) {
		return Query{}, false, fmt.Errorf("%w: pick is not finite", core.ErrInvalidInput)
	}
	if n := len(s.picks); n > 0 {
		s.distance += core.Distance(s.picks[n-1], p)
	}
	s.picks = append(s.picks, p)
	s.pickCount++
	if len(s.picks) < 2 {
		return Query{}, false, nil
	}

	origin, target := s.picks[0], s.picks[1]
	s.picks = nil
	q = s.run(ctx, origin, target)
	s.queries++
	for _, l := range s.listeners {
		l(q)
	}
	return q, true, q.Err
}

func (s *Session) run(ctx context.Context, origin, target core.CartesianPoint) Query {
	q := Query{Kind: s.kind, Origin: origin, Target: target}
	start := s.clock.Now()
	q.At = start

	radius := core.Distance(origin, target)
	switch s.kind {
	case TwoPointProfile:
		p, err := s.eng.Profiles.Compute(ctx, origin, target)
		if err != nil {
			q.Err = err
			break
		}
		q.Profile = &p
	case SectorScan:
		ref := target
		res, err := s.eng.Sector.ComputeScan(ctx, core.ScanSpec{
			Center:    origin,
			Reference: &ref,
			FOVDeg:    s.settings.SectorFOV,
			Radius:    radius,
			RayCount:  s.settings.SectorRays,
		}, core.ModeTerrainProfile, nil)
		q.Scan, q.Err = scanOrNil(res), err
	case CircleScan:
		res, err := s.eng.Circle.ComputeScan(ctx, core.ScanSpec{
			Center:   origin,
			FOVDeg:   360,
			Radius:   radius,
			RayCount: s.settings.CircleRays,
		}, core.ModeObjectIntersection, s.settings.Exclude)
		q.Scan, q.Err = scanOrNil(res), err
	}
	q.Duration = timectrl.Since(s.clock, start)

	fields := []logging.Field{
		logging.String("kind", s.kind.String()),
		logging.Float64("radius_m", radius),
	}
	if q.Err != nil {
		s.log.Warn(ctx, "session query failed", append(fields, logging.Err(q.Err))...)
	} else {
		s.log.Debug(ctx, "session query completed", fields...)
	}
	return q
}

// scanOrNil drops the zero result ComputeScan returns for rejected input;
// partial results from cancelled scans are kept.
func scanOrNil(res core.ScanResult) *core.ScanResult {
	if len(res.Rays) == 0 {
		return nil
	}
	return &res
}
