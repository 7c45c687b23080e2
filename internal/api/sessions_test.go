package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/signalsfoundry/terrain-visibility/core"
	"github.com/signalsfoundry/terrain-visibility/session"
)

func (f *fixture) openSession(t *testing.T, kind string) SessionView {
	t.Helper()
	resp := f.post(t, "/v1/sessions", `{"kind":"`+kind+`"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create %s session: status = %d", kind, resp.StatusCode)
	}
	var v SessionView
	decodeBody(t, resp, &v)
	if v.ID == "" || v.Kind != kind {
		t.Fatalf("session = %+v", v)
	}
	return v
}

func (f *fixture) pick(t *testing.T, id, point string) PickResponse {
	t.Helper()
	resp := f.post(t, "/v1/sessions/"+id+"/picks", `{"point":`+point+`}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pick: status = %d", resp.StatusCode)
	}
	var got PickResponse
	decodeBody(t, resp, &got)
	return got
}

func TestProfileSessionPicks(t *testing.T) {
	f := newFixture(t)
	v := f.openSession(t, "profile")

	first := f.pick(t, v.ID, `{"lon":10,"lat":45,"height":30}`)
	if first.Done || first.Profile != nil || first.Session.PickCount != 1 || len(first.Session.Picks) != 1 {
		t.Fatalf("first pick = %+v", first)
	}

	second := f.pick(t, v.ID, `{"lon":10.01,"lat":45,"height":30}`)
	if !second.Done || second.Profile == nil || second.Scan != nil {
		t.Fatalf("second pick = %+v", second)
	}
	if len(second.Profile.Samples) != 21 || second.Profile.VisibleM < second.Profile.LengthM-1e-6 {
		t.Fatalf("profile: %d samples, visible %v of %v", len(second.Profile.Samples), second.Profile.VisibleM, second.Profile.LengthM)
	}
	if s := second.Session; s.Queries != 1 || s.PickCount != 2 || len(s.Picks) != 0 || s.DistanceM < 780 || s.DistanceM > 800 {
		t.Fatalf("session after query = %+v", s)
	}

	sum, err := f.store.Get(context.Background(), second.Profile.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if sum.Kind != "profile" || !sum.CreatedAt.Equal(fixtureNow) {
		t.Fatalf("summary = %+v", sum)
	}
	if f.sink.count() != 1 {
		t.Fatalf("sink received %d layers, want 1", f.sink.count())
	}

	resp := f.get(t, "/v1/sessions/"+v.ID)
	var got SessionView
	decodeBody(t, resp, &got)
	if got.Queries != 1 {
		t.Fatalf("GET session = %+v", got)
	}
}

func TestSectorSessionUsesConfiguredSettings(t *testing.T) {
	f := newFixture(t)
	v := f.openSession(t, "sector")

	f.pick(t, v.ID, `{"lon":10,"lat":45,"height":20}`)
	got := f.pick(t, v.ID, `{"lon":10.005,"lat":45,"height":20}`)
	if !got.Done || got.Scan == nil || got.Profile != nil {
		t.Fatalf("pick = %+v", got)
	}
	if got.Scan.Summary.Rays != 7 || got.Scan.Summary.Mode != "terrain" || got.Scan.Summary.Status != "complete" {
		t.Fatalf("summary = %+v", got.Scan.Summary)
	}
	if len(got.Scan.Layer.Rays) != 7 {
		t.Fatalf("layer has %d rays, want 7", len(got.Scan.Layer.Rays))
	}
}

func TestSessionResetAndDelete(t *testing.T) {
	f := newFixture(t)
	v := f.openSession(t, "circle")

	f.pick(t, v.ID, `{"lon":10,"lat":45}`)
	resp := f.post(t, "/v1/sessions/"+v.ID+"/reset", `{}`)
	var reset SessionView
	decodeBody(t, resp, &reset)
	if reset.PickCount != 0 || len(reset.Picks) != 0 || reset.Queries != 0 {
		t.Fatalf("after reset = %+v", reset)
	}

	req, err := http.NewRequest(http.MethodDelete, f.srv.URL+"/v1/sessions/"+v.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", del.StatusCode)
	}
	if resp := f.get(t, "/v1/sessions/"+v.ID); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestSessionErrors(t *testing.T) {
	f := newFixture(t)
	v := f.openSession(t, "profile")

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown kind", "/v1/sessions", `{"kind":"polygon"}`, http.StatusBadRequest},
		{"missing kind", "/v1/sessions", `{}`, http.StatusBadRequest},
		{"unknown session", "/v1/sessions/nope/picks", `{"point":{"lon":10,"lat":45}}`, http.StatusNotFound},
		{"pick out of range", "/v1/sessions/" + v.ID + "/picks", `{"point":{"lon":10,"lat":95}}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if resp := f.post(t, tc.path, tc.body); resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestSessionRegistryLimit(t *testing.T) {
	reg := newSessionRegistry(1)
	sess, err := session.New(session.TwoPointProfile, session.Engines{Profiles: &core.ProfileEngine{}})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	if _, err := reg.add(sess); err != nil {
		t.Fatalf("first add: %v", err)
	}
	_, err = reg.add(sess)
	if !errors.Is(err, errTooMany) || StatusFor(err) != http.StatusTooManyRequests {
		t.Fatalf("second add = %v, want limit error", err)
	}
}
