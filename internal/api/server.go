// Package api serves profiles, scans and their history over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/signalsfoundry/terrain-visibility/core"
	"github.com/signalsfoundry/terrain-visibility/internal/history"
	"github.com/signalsfoundry/terrain-visibility/internal/logging"
	"github.com/signalsfoundry/terrain-visibility/internal/observability"
	"github.com/signalsfoundry/terrain-visibility/internal/render"
	"github.com/signalsfoundry/terrain-visibility/session"
	"github.com/signalsfoundry/terrain-visibility/timectrl"
)

// DefaultRequestTimeout bounds a single profile or scan request.
const DefaultRequestTimeout = 60 * time.Second

const maxBodyBytes = 1 << 20

// Server holds the kernel components and optional outputs behind the API.
type Server struct {
	profiles  *core.ProfileEngine
	scans     *core.Orchestrator
	projected *core.Orchestrator

	history *history.Store
	sink    render.Sink
	hub     *render.Hub
	metrics *observability.ScanCollector
	log     logging.Logger
	style   render.Style
	timeout time.Duration
	exclude []core.ObjectHandle
	clock   timectrl.Clock

	sessions        *sessionRegistry
	sessionSettings session.Settings
	maxSessions     int

	profileSchema *validator
	scanSchema    *validator
	sessionSchema *validator
	pickSchema    *validator
}

// Option customises a Server.
type Option func(*Server)

// WithProjectedOrchestrator serves scans that ask for the projected fan.
func WithProjectedOrchestrator(o *core.Orchestrator) Option {
	return func(s *Server) { s.projected = o }
}

// WithHistory persists a summary of every profile and scan.
func WithHistory(h *history.Store) Option {
	return func(s *Server) { s.history = h }
}

// WithSink publishes every rendered layer.
func WithSink(sink render.Sink) Option {
	return func(s *Server) { s.sink = sink }
}

// WithHub serves /v1/stream from hub. The hub is not added to the sink.
func WithHub(hub *render.Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithMetrics instruments every route.
func WithMetrics(c *observability.ScanCollector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithLogger sets the base logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.log = logging.OrNoop(l) }
}

// WithStyle overrides render.DefaultStyle.
func WithStyle(st render.Style) Option {
	return func(s *Server) { s.style = st }
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithDefaultExclusions adds handles excluded from every object scan, such
// as the viewpoint marker.
func WithDefaultExclusions(handles ...core.ObjectHandle) Option {
	return func(s *Server) { s.exclude = append(s.exclude, handles...) }
}

// WithSessionSettings sets the scan parameters of pick sessions. An empty
// Exclude falls back to the default exclusions.
func WithSessionSettings(st session.Settings) Option {
	return func(s *Server) { s.sessionSettings = st }
}

// WithMaxSessions bounds the number of open pick sessions.
func WithMaxSessions(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithClock sets the clock used for history timestamps.
func WithClock(c timectrl.Clock) Option {
	return func(s *Server) { s.clock = timectrl.OrSystem(c) }
}

// NewServer builds a server around the profile engine and default
// orchestrator.
func NewServer(profiles *core.ProfileEngine, scans *core.Orchestrator, opts ...Option) (*Server, error) {
	s := &Server{
		profiles: profiles,
		scans:    scans,
		log:      logging.Noop(),
		style:    render.DefaultStyle(),
		timeout:  DefaultRequestTimeout,
		clock:    timectrl.System(),

		sessionSettings: session.DefaultSettings(),
		maxSessions:     DefaultMaxSessions,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sessions = newSessionRegistry(s.maxSessions)
	var err error
	if s.profileSchema, err = newValidator(profileSchema); err != nil {
		return nil, err
	}
	if s.scanSchema, err = newValidator(scanSchema); err != nil {
		return nil, err
	}
	if s.sessionSchema, err = newValidator(sessionSchema); err != nil {
		return nil, err
	}
	if s.pickSchema, err = newValidator(pickSchema); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)

	r.Handle("/healthz", s.instrument("healthz", http.HandlerFunc(s.handleHealth))).Methods(http.MethodGet)
	r.Handle("/v1/profile", s.instrument("profile", http.HandlerFunc(s.handleProfile))).Methods(http.MethodPost)
	r.Handle("/v1/profile/chart", s.instrument("profile_chart", http.HandlerFunc(s.handleProfileChart))).Methods(http.MethodGet)
	r.Handle("/v1/scans", s.instrument("scan", http.HandlerFunc(s.handleScan))).Methods(http.MethodPost)
	r.Handle("/v1/scans", s.instrument("scan_list", http.HandlerFunc(s.handleListScans))).Methods(http.MethodGet)
	r.Handle("/v1/scans/{id}", s.instrument("scan_get", http.HandlerFunc(s.handleGetScan))).Methods(http.MethodGet)
	r.Handle("/v1/sessions", s.instrument("session_create", http.HandlerFunc(s.handleCreateSession))).Methods(http.MethodPost)
	r.Handle("/v1/sessions/{id}", s.instrument("session_get", http.HandlerFunc(s.handleGetSession))).Methods(http.MethodGet)
	r.Handle("/v1/sessions/{id}", s.instrument("session_delete", http.HandlerFunc(s.handleDeleteSession))).Methods(http.MethodDelete)
	r.Handle("/v1/sessions/{id}/picks", s.instrument("session_pick", http.HandlerFunc(s.handlePick))).Methods(http.MethodPost)
	r.Handle("/v1/sessions/{id}/reset", s.instrument("session_reset", http.HandlerFunc(s.handleResetSession))).Methods(http.MethodPost)
	r.HandleFunc("/v1/stream", s.handleStream).Methods(http.MethodGet)
	return r
}

func (s *Server) instrument(route string, h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return s.metrics.InstrumentHTTP(route, h)
}

// requestIDMiddleware takes X-Request-ID from the caller when present,
// echoes it back, and puts a request-scoped logger on the context.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, reqLog := logging.WithRequestLogger(ctx, s.log.With(
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
		))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		w.Header().Set("X-Request-ID", logging.RequestIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
