package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/signalsfoundry/terrain-visibility/core"
	"github.com/signalsfoundry/terrain-visibility/internal/history"
	"github.com/signalsfoundry/terrain-visibility/internal/logging"
	"github.com/signalsfoundry/terrain-visibility/internal/render"
	"github.com/signalsfoundry/terrain-visibility/model"
)

type profileRequest struct {
	Origin core.GeoPoint `json:"origin"`
	Target core.GeoPoint `json:"target"`
}

type scanRequest struct {
	Center     core.GeoPoint  `json:"center"`
	Reference  *core.GeoPoint `json:"reference,omitempty"`
	AzimuthDeg *float64       `json:"azimuth_deg,omitempty"`
	FOVDeg     float64        `json:"fov_deg"`
	RadiusM    float64        `json:"radius_m"`
	Rays       int            `json:"rays"`
	Mode       string         `json:"mode,omitempty"`
	Fan        string         `json:"fan,omitempty"`
	Exclude    []string       `json:"exclude,omitempty"`
}

// SampleView is one profile sample as served to clients.
type SampleView struct {
	T        float64 `json:"t"`
	Lon      float64 `json:"lon"`
	Lat      float64 `json:"lat"`
	TerrainM float64 `json:"terrain_m"`
	SightM   float64 `json:"sight_m"`
	ElapsedM float64 `json:"elapsed_m"`
	Visible  bool    `json:"visible"`
}

// ProfileResponse is the body of POST /v1/profile.
type ProfileResponse struct {
	ID       string       `json:"id"`
	LengthM  float64      `json:"length_m"`
	VisibleM float64      `json:"visible_m"`
	Samples  []SampleView `json:"samples"`
	Layer    model.Layer  `json:"layer"`
}

// ScanResponse is the body of POST /v1/scans.
type ScanResponse struct {
	Summary history.Summary `json:"summary"`
	Layer   model.Layer     `json:"layer"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := s.decode(r, s.profileSchema, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	id := uuid.NewString()
	p, err := s.computeProfile(ctx, req.Origin, req.Target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	layer := render.FromProfile(id, p, s.style)
	s.persist(ctx, history.FromProfile(id, p, s.clock.Now()), layer)

	if r.URL.Query().Get("format") == "geojson" {
		writeJSON(w, http.StatusOK, render.GeoJSON(layer))
		return
	}

	writeJSON(w, http.StatusOK, profileResponse(id, p, layer))
}

func profileResponse(id string, p core.Profile, layer model.Layer) ProfileResponse {
	samples := make([]SampleView, len(p.Samples))
	for i, sp := range p.Samples {
		samples[i] = SampleView{
			T:        sp.T,
			Lon:      sp.Point.LonDeg,
			Lat:      sp.Point.LatDeg,
			TerrainM: sp.Point.Height,
			SightM:   sp.Sight,
			ElapsedM: sp.Elapsed,
			Visible:  sp.Flag == core.Visible,
		}
	}
	return ProfileResponse{
		ID:       id,
		LengthM:  p.Length,
		VisibleM: p.VisibleLength(),
		Samples:  samples,
		Layer:    layer,
	}
}

func (s *Server) handleProfileChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	origin, err := geoFromQuery(q.Get, "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	target, err := geoFromQuery(q.Get, "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	p, err := s.computeProfile(ctx, origin, target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	title := q.Get("title")
	if title == "" {
		title = "Terrain profile"
	}
	var buf bytes.Buffer
	if err := render.ProfileChart(&buf, title, p); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := s.decode(r, s.scanSchema, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	mode, err := core.ParseScanMode(req.Mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	orch := s.scans
	if req.Fan == "projected" {
		orch = s.projected
	}
	if orch == nil {
		s.writeError(w, r, fmt.Errorf("%w: %q fan", errUnavailable, req.Fan))
		return
	}

	spec := core.ScanSpec{
		Center:     core.WGS84.ToCartesian(req.Center),
		AzimuthDeg: req.AzimuthDeg,
		FOVDeg:     req.FOVDeg,
		Radius:     req.RadiusM,
		RayCount:   req.Rays,
	}
	if req.Reference != nil {
		ref := core.WGS84.ToCartesian(*req.Reference)
		spec.Reference = &ref
	}
	handles := append([]core.ObjectHandle(nil), s.exclude...)
	for _, h := range req.Exclude {
		handles = append(handles, core.ObjectHandle(h))
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	res, err := orch.ComputeScan(ctx, spec, mode, core.NewExclusionSet(handles...))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	layer := render.FromScan(res, s.style)
	sum := history.FromScan(res, s.clock.Now())
	s.persist(ctx, sum, layer)

	if r.URL.Query().Get("format") == "geojson" {
		writeJSON(w, http.StatusOK, render.GeoJSON(layer))
		return
	}
	writeJSON(w, http.StatusOK, ScanResponse{Summary: sum, Layer: layer})
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, r, fmt.Errorf("%w: history", errUnavailable))
		return
	}
	sum, err := s.history.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, r, fmt.Errorf("%w: history", errUnavailable))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit %q", errBadRequest, v))
			return
		}
		limit = n
	}
	list, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeError(w, r, fmt.Errorf("%w: stream", errUnavailable))
		return
	}
	s.hub.ServeHTTP(w, r)
}

func (s *Server) computeProfile(ctx context.Context, origin, target core.GeoPoint) (core.Profile, error) {
	if s.profiles == nil {
		return core.Profile{}, fmt.Errorf("%w: profile engine", errUnavailable)
	}
	return s.profiles.Compute(ctx, core.WGS84.ToCartesian(origin), core.WGS84.ToCartesian(target))
}

// persist records the summary and publishes the layer. Failures are logged;
// the caller already has its result.
func (s *Server) persist(ctx context.Context, sum history.Summary, layer model.Layer) {
	log := logging.FromContext(ctx, s.log)
	if s.history != nil {
		if err := s.history.Record(ctx, sum); err != nil {
			log.Warn(ctx, "failed to record history", logging.String("id", sum.ID), logging.Err(err))
		}
	}
	if s.hub != nil {
		if err := s.hub.Publish(ctx, layer.Clone()); err != nil {
			log.Warn(ctx, "failed to stream layer", logging.String("id", sum.ID), logging.Err(err))
		}
	}
	if s.sink != nil {
		if err := s.sink.Publish(ctx, layer.Clone()); err != nil {
			log.Warn(ctx, "failed to publish layer", logging.String("id", sum.ID), logging.Err(err))
		}
	}
}

func (s *Server) decode(r *http.Request, v *validator, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("%w: body exceeds %d bytes", errBadRequest, maxBodyBytes)
	}
	if !json.Valid(body) {
		return fmt.Errorf("%w: body is not valid JSON", errBadRequest)
	}
	if err := v.Validate(body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func geoFromQuery(get func(string) string, prefix string) (core.GeoPoint, error) {
	var g core.GeoPoint
	fields := []struct {
		name     string
		dst      *float64
		optional bool
	}{
		{prefix + "_lon", &g.LonDeg, false},
		{prefix + "_lat", &g.LatDeg, false},
		{prefix + "_height", &g.Height, true},
	}
	for _, f := range fields {
		raw := get(f.name)
		if raw == "" {
			if f.optional {
				continue
			}
			return g, fmt.Errorf("%w: missing %s", errBadRequest, f.name)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return g, fmt.Errorf("%w: %s=%q", errBadRequest, f.name, raw)
		}
		*f.dst = v
	}
	return g, g.Validate()
}
