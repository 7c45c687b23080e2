package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/signalsfoundry/terrain-visibility/core"
	"github.com/signalsfoundry/terrain-visibility/internal/history"
	"github.com/signalsfoundry/terrain-visibility/internal/render"
	"github.com/signalsfoundry/terrain-visibility/session"
)

// DefaultMaxSessions bounds the number of open pick sessions.
const DefaultMaxSessions = 256

var sessionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["kind"],
	"properties": {
		"kind": {"type": "string", "enum": ["profile", "sector", "circle"]}
	},
	"additionalProperties": false
}`

var pickSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["point"],
	"properties": {
		"point": {"$ref": "#/definitions/geo"}
	},
	"additionalProperties": false,
	"definitions": {"geo": ` + geoDefinition + `}
}`

type sessionRequest struct {
	Kind string `json:"kind"`
}

type pickRequest struct {
	Point core.GeoPoint `json:"point"`
}

// SessionView is the state of one pick session.
type SessionView struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Picks     []core.GeoPoint `json:"picks"`
	PickCount int             `json:"pick_count"`
	DistanceM float64         `json:"distance_m"`
	Queries   int             `json:"queries"`
}

// PickResponse is the body of POST /v1/sessions/{id}/picks. Profile or Scan
// is set once the pick completed a query.
type PickResponse struct {
	Session SessionView      `json:"session"`
	Done    bool             `json:"done"`
	Profile *ProfileResponse `json:"profile,omitempty"`
	Scan    *ScanResponse    `json:"scan,omitempty"`
}

// openSession serialises access to one session.Session, which is not safe
// for concurrent use.
type openSession struct {
	mu   sync.Mutex
	id   string
	sess *session.Session
}

func (o *openSession) view() SessionView {
	picks := o.sess.Picks()
	geo := make([]core.GeoPoint, len(picks))
	for i, p := range picks {
		geo[i] = core.WGS84.ToGeodetic(p)
	}
	return SessionView{
		ID:        o.id,
		Kind:      o.sess.Kind().String(),
		Picks:     geo,
		PickCount: o.sess.PickCount(),
		DistanceM: o.sess.Distance(),
		Queries:   o.sess.Queries(),
	}
}

type sessionRegistry struct {
	mu   sync.Mutex
	max  int
	byID map[string]*openSession
}

func newSessionRegistry(limit int) *sessionRegistry {
	return &sessionRegistry{max: limit, byID: make(map[string]*openSession)}
}

func (r *sessionRegistry) add(sess *session.Session) (*openSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byID) >= r.max {
		return nil, fmt.Errorf("%w: %d sessions open", errTooMany, len(r.byID))
	}
	o := &openSession{id: uuid.NewString(), sess: sess}
	r.byID[o.id] = o
	return o, nil
}

func (r *sessionRegistry) get(id string) (*openSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %q", errNotFound, id)
	}
	return o, nil
}

func (r *sessionRegistry) remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("%w: session %q", errNotFound, id)
	}
	delete(r.byID, id)
	return nil
}

// sessionEngines hands circle sessions the projected orchestrator when one
// is configured, matching the circle scan's Mercator fan.
func (s *Server) sessionEngines() session.Engines {
	circle := s.projected
	if circle == nil {
		circle = s.scans
	}
	return session.Engines{Profiles: s.profiles, Sector: s.scans, Circle: circle}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := s.decode(r, s.sessionSchema, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	kind, err := session.ParseKind(req.Kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	settings := s.sessionSettings
	if settings.Exclude == nil && len(s.exclude) > 0 {
		settings.Exclude = core.NewExclusionSet(s.exclude...)
	}
	sess, err := session.New(kind, s.sessionEngines(),
		session.WithSettings(settings),
		session.WithLogger(s.log),
		session.WithClock(s.clock),
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.sessions.add(sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o.view())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	o, err := s.sessions.get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	writeJSON(w, http.StatusOK, o.view())
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	o, err := s.sessions.get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sess.Reset()
	writeJSON(w, http.StatusOK, o.view())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.remove(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	o, err := s.sessions.get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req pickRequest
	if err := s.decode(r, s.pickSchema, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	q, done, err := o.sess.Pick(ctx, core.WGS84.ToCartesian(req.Point))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := PickResponse{Done: done}
	if done {
		id := uuid.NewString()
		switch {
		case q.Profile != nil:
			layer := render.FromProfile(id, *q.Profile, s.style)
			s.persist(ctx, history.FromProfile(id, *q.Profile, q.At), layer)
			pr := profileResponse(id, *q.Profile, layer)
			resp.Profile = &pr
		case q.Scan != nil:
			layer := render.FromScan(*q.Scan, s.style)
			sum := history.FromScan(*q.Scan, q.At)
			s.persist(ctx, sum, layer)
			resp.Scan = &ScanResponse{Summary: sum, Layer: layer}
		}
	}
	resp.Session = o.view()
	writeJSON(w, http.StatusOK, resp)
}
