package terrainrpc

import (
	"context"
	"fmt"
	"math"

	"github.com/signalsfoundry/terrain-visibility/core"
	"github.com/signalsfoundry/terrain-visibility/internal/logging"
	"github.com/signalsfoundry/terrain-visibility/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultMaxPoints caps the number of points accepted in one request.
const DefaultMaxPoints = 100_000

// PointLookup answers a single height query. Providers that implement it get
// per-point null responses instead of whole-batch failures.
type PointLookup interface {
	HeightAt(lonDeg, latDeg float64) (float64, bool)
}

// Server implements ElevationServer on top of a core.ElevationProvider.
type Server struct {
	provider  core.ElevationProvider
	maxPoints int
	log       logging.Logger
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithMaxPoints overrides DefaultMaxPoints. Non-positive values are ignored.
func WithMaxPoints(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxPoints = n
		}
	}
}

// WithServerLogger sets the fallback logger used outside request scope.
func WithServerLogger(log logging.Logger) ServerOption {
	return func(s *Server) { s.log = logging.OrNoop(log) }
}

// NewServer wraps provider.
func NewServer(provider core.ElevationProvider, opts ...ServerOption) *Server {
	s := &Server{
		provider:  provider,
		maxPoints: DefaultMaxPoints,
		log:       logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ElevationServer = (*Server)(nil)

// Sample implements ElevationServer.
func (s *Server) Sample(ctx context.Context, in *structpb.ListValue) (*structpb.ListValue, error) {
	log := logging.FromContext(ctx, s.log)

	points, err := DecodeQuery(in)
	if err != nil {
		log.Warn(ctx, "rejecting elevation request", logging.Err(err))
		return nil, ToStatusError(err)
	}
	if len(points) > s.maxPoints {
		return nil, ToStatusError(fmt.Errorf("%w: %d exceeds limit %d", ErrTooManyPoints, len(points), s.maxPoints))
	}

	ctx, span := StartChildSpan(ctx, "ElevationService.Sample", attribute.Int("points", len(points)))
	defer span.End()

	heights, err := s.lookup(ctx, points)
	if err != nil {
		span.RecordError(err)
		log.Warn(ctx, "elevation lookup failed", logging.Int("points", len(points)), logging.Err(err))
		return nil, ToStatusError(err)
	}

	missing := 0
	for _, h := range heights {
		if math.IsNaN(h) {
			missing++
		}
	}
	span.SetAttributes(attribute.Int("missing", missing))
	log.Debug(ctx, "elevation request served",
		logging.Int("points", len(points)),
		logging.Int("missing", missing),
	)
	return EncodeHeights(heights), nil
}

func (s *Server) lookup(ctx context.Context, points []core.GeoPoint) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	heights := make([]float64, len(points))
	if pl, ok := s.provider.(PointLookup); ok {
		for i, p := range points {
			h, ok := pl.HeightAt(p.LonDeg, p.LatDeg)
			if !ok {
				h = math.NaN()
			}
			heights[i] = h
		}
		return heights, nil
	}
	if s.provider == nil {
		return nil, fmt.Errorf("%w: no elevation provider configured", core.ErrSamplingUnavailable)
	}
	got, err := s.provider.Sample(ctx, points)
	if err != nil {
		return nil, err
	}
	if len(got) != len(points) {
		return nil, fmt.Errorf("%w: provider returned %d of %d samples", core.ErrSamplingUnavailable, len(got), len(points))
	}
	for i, g := range got {
		heights[i] = g.Height
	}
	return heights, nil
}

// NewGRPCServer builds a grpc.Server with the service registered and the
// standard interceptor chain installed. collector may be nil.
func NewGRPCServer(srv ElevationServer, log logging.Logger, collector *observability.ScanCollector, extra ...grpc.ServerOption) *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	if collector != nil {
		interceptors = append(interceptors, collector.UnaryServerInterceptor())
	}
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	}
	opts = append(opts, extra...)
	gs := grpc.NewServer(opts...)
	RegisterElevationServer(gs, srv)
	return gs
}
