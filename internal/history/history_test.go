package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signalsfoundry/terrain-visibility/core"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	res := core.ScanResult{
		ID:     "scan-1",
		Mode:   core.ModeObjectIntersection,
		Status: core.ScanPartial,
		Failed: 1,
		Rays: []core.RayResult{
			{Index: 0},
			{Index: 1, Err: core.ErrSamplingUnavailable},
		},
	}
	want := FromScan(res, at)
	if err := s.Record(ctx, want); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.Get(ctx, "scan-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	if got.Mode != "object" || got.Status != "partial" || got.Rays != 2 {
		t.Fatalf("unexpected summary %+v", got)
	}
}

func TestGetUnknown(t *testing.T) {
	s := openStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRecordRejectsEmptyID(t *testing.T) {
	s := openStore(t)
	if err := s.Record(context.Background(), Summary{}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		sum := Summary{
			ID:        fmt.Sprintf("s%d", i),
			Kind:      "scan",
			Mode:      "terrain",
			Rays:      121,
			Status:    "complete",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Record(ctx, sum); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.List(ctx, 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	ids := make([]string, len(got))
	for i, g := range got {
		ids[i] = g.ID
	}
	if diff := cmp.Diff([]string{"s4", "s3", "s2"}, ids); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}

	all, err := s.List(ctx, 0)
	if err != nil || len(all) != 5 {
		t.Fatalf("List(0) = %d, %v", len(all), err)
	}
}

func TestRecordReplaces(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Now().UTC()
	if err := s.Record(ctx, Summary{ID: "x", Kind: "scan", Mode: "terrain", Status: "partial", CreatedAt: at}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(ctx, Summary{ID: "x", Kind: "scan", Mode: "terrain", Status: "complete", CreatedAt: at}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := s.Get(ctx, "x")
	if err != nil || got.Status != "complete" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
}

func TestFromProfile(t *testing.T) {
	a := core.WGS84.ToCartesian(core.GeoPoint{LonDeg: 0, LatDeg: 0})
	b := core.WGS84.ToCartesian(core.GeoPoint{LonDeg: 0.01, LatDeg: 0})
	c := core.WGS84.ToCartesian(core.GeoPoint{LonDeg: 0.02, LatDeg: 0})
	p := core.Profile{
		Length: core.Distance(a, c),
		Segments: []core.ClassifiedSegment{
			{Start: a, End: b, Flag: core.Visible},
			{Start: b, End: c, Flag: core.Occluded},
		},
	}
	sum := FromProfile("p", p, time.Now())
	if sum.Kind != "profile" || sum.Rays != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.VisibleFraction < 0.49 || sum.VisibleFraction > 0.51 {
		t.Fatalf("visible fraction = %v, want ~0.5", sum.VisibleFraction)
	}
}
