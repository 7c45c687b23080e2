package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/signalsfoundry/terrain-visibility/core"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// ScanCollector bundles Prometheus metrics for visibility queries and the
// RPC/HTTP surfaces that serve them. It implements core.Recorder.
type ScanCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
	HTTPRequests *prometheus.CounterVec

	Rays             *prometheus.CounterVec
	Scans            *prometheus.CounterVec
	ScanDurations    *prometheus.HistogramVec
	SamplingDuration prometheus.Histogram
	SampledPoints    prometheus.Counter
	SamplingFailures prometheus.Counter
	InFlightRays     prometheus.Gauge
}

var _ core.Recorder = (*ScanCollector)(nil)

// NewScanCollector registers scan metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewScanCollector(reg prometheus.Registerer) (*ScanCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_rpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "terrain_rpc_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "terrain_rpc_request_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "terrain_rpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	httpRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "los_http_requests_total",
		Help: "HTTP API requests, labeled by route and status code.",
	}, []string{"route", "code"}), "los_http_requests_total")
	if err != nil {
		return nil, err
	}

	rays, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "los_rays_total",
		Help: "Scan rays evaluated, labeled by scan mode and outcome.",
	}, []string{"mode", "outcome"}), "los_rays_total")
	if err != nil {
		return nil, err
	}

	scans, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "los_scans_total",
		Help: "Scans finished, labeled by scan mode and aggregate status.",
	}, []string{"mode", "status"}), "los_scans_total")
	if err != nil {
		return nil, err
	}

	scanDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "los_scan_duration_seconds",
		Help:    "Wall-clock duration of whole scans.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"mode"}), "los_scan_duration_seconds")
	if err != nil {
		return nil, err
	}

	sampling, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "los_sampling_duration_seconds",
		Help:    "Latency of batched elevation provider calls.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "los_sampling_duration_seconds")
	if err != nil {
		return nil, err
	}

	points, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "los_sampled_points_total",
		Help: "Points requested from the elevation provider.",
	}), "los_sampled_points_total")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "los_sampling_failures_total",
		Help: "Elevation provider calls that did not return a complete answer.",
	}), "los_sampling_failures_total")
	if err != nil {
		return nil, err
	}

	inFlight, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "los_rays_in_flight",
		Help: "Rays currently being evaluated.",
	}), "los_rays_in_flight")
	if err != nil {
		return nil, err
	}

	return &ScanCollector{
		gatherer:         gatherer,
		RPCRequests:      requests,
		RPCDurations:     durations,
		HTTPRequests:     httpRequests,
		Rays:             rays,
		Scans:            scans,
		ScanDurations:    scanDurations,
		SamplingDuration: sampling,
		SampledPoints:    points,
		SamplingFailures: failures,
		InFlightRays:     inFlight,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ScanCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveSampling implements core.Recorder.
func (c *ScanCollector) ObserveSampling(d time.Duration, points int, err error) {
	if c == nil {
		return
	}
	c.SamplingDuration.Observe(d.Seconds())
	c.SampledPoints.Add(float64(points))
	if err != nil {
		c.SamplingFailures.Inc()
	}
}

// ObserveRay implements core.Recorder.
func (c *ScanCollector) ObserveRay(mode core.ScanMode, err error) {
	if c == nil {
		return
	}
	c.Rays.WithLabelValues(mode.String(), Outcome(err)).Inc()
}

// ObserveScan implements core.Recorder.
func (c *ScanCollector) ObserveScan(mode core.ScanMode, status core.ScanStatus, d time.Duration) {
	if c == nil {
		return
	}
	c.Scans.WithLabelValues(mode.String(), status.String()).Inc()
	c.ScanDurations.WithLabelValues(mode.String()).Observe(d.Seconds())
}

// RaysInFlight implements core.Recorder.
func (c *ScanCollector) RaysInFlight(delta int) {
	if c == nil {
		return
	}
	c.InFlightRays.Add(float64(delta))
}

// Outcome maps a kernel error onto a short metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, core.ErrCancelled):
		return "cancelled"
	case errors.Is(err, core.ErrSamplingUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *ScanCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		c.RPCRequests.WithLabelValues(service, method, code).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// InstrumentHTTP counts requests served by next under the given route label.
func (c *ScanCollector) InstrumentHTTP(route string, next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		c.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.code)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// websocket upgrade needs for hijacking.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Handler exposes a ready-to-use /metrics handler.
func (c *ScanCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
