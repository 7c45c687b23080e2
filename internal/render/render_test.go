package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/gorilla/websocket"
	minio "github.com/minio/minio-go/v7"
	"github.com/segmentio/kafka-go"
	"github.com/signalsfoundry/terrain-visibility/core"
	"github.com/signalsfoundry/terrain-visibility/internal/logging"
	"github.com/signalsfoundry/terrain-visibility/model"
)

func geo(lon, lat, h float64) core.CartesianPoint {
	return core.WGS84.ToCartesian(core.GeoPoint{LonDeg: lon, LatDeg: lat, Height: h})
}

func sampleProfile() core.Profile {
	a, b, c := geo(10, 45, 100), geo(10.01, 45, 150), geo(10.02, 45, 90)
	return core.Profile{
		Origin: core.GeoPoint{LonDeg: 10, LatDeg: 45, Height: 100},
		Target: core.GeoPoint{LonDeg: 10.02, LatDeg: 45, Height: 90},
		Length: core.Distance(a, c),
		Samples: []core.SamplePoint{
			{T: 0, Point: core.GeoPoint{LonDeg: 10, LatDeg: 45, Height: 100}, Sight: 100, Flag: core.Visible},
			{T: 0.5, Point: core.GeoPoint{LonDeg: 10.01, LatDeg: 45, Height: 150}, Sight: 95, Flag: core.Occluded, Elapsed: 787},
			{T: 1, Point: core.GeoPoint{LonDeg: 10.02, LatDeg: 45, Height: 90}, Sight: 90, Flag: core.Visible, Elapsed: 1574},
		},
		Segments: []core.ClassifiedSegment{
			{Start: a, End: b, Flag: core.Occluded},
			{Start: b, End: c, Flag: core.Visible},
		},
	}
}

func sampleScan() core.ScanResult {
	p := sampleProfile()
	return core.ScanResult{
		ID:     "scan-1",
		Mode:   core.ModeObjectIntersection,
		Status: core.ScanPartial,
		Failed: 1,
		Rays: []core.RayResult{
			{Index: 0, AngleDeg: 0, Segments: p.Segments},
			{Index: 1, AngleDeg: 90, Err: fmt.Errorf("%w: timeout", core.ErrSamplingUnavailable)},
		},
	}
}

func TestFromProfile(t *testing.T) {
	layer := FromProfile("p-1", sampleProfile(), Style{})

	if layer.Kind != model.LayerProfile || layer.ScanID != "p-1" || len(layer.Rays) != 1 {
		t.Fatalf("unexpected layer header: %+v", layer)
	}
	lines := layer.Rays[0].Lines
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0].Visible || lines[0].Color != model.ColorOccluded {
		t.Errorf("first line = %+v, want occluded red", lines[0])
	}
	if !lines[1].Visible || lines[1].Color != model.ColorVisible || lines[1].Width != model.DefaultLineWidth {
		t.Errorf("second line = %+v, want visible green", lines[1])
	}

	want := model.Position{Lon: 10.01, Lat: 45, Height: 150}
	approx := cmpopts.EquateApprox(0, 1e-6)
	if diff := cmp.Diff(want, lines[0].Positions[1], approx); diff != "" {
		t.Errorf("segment end position mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(lines[0].Positions[1], lines[1].Positions[0], approx); diff != "" {
		t.Errorf("consecutive segments do not share a vertex:\n%s", diff)
	}
}

func TestFromScanKeepsFailedRays(t *testing.T) {
	layer := FromScan(sampleScan(), Style{Width: 4})

	if layer.Mode != "object" || layer.Status != "partial" {
		t.Fatalf("mode/status = %q/%q", layer.Mode, layer.Status)
	}
	if len(layer.Rays) != 2 {
		t.Fatalf("rays = %d, want 2", len(layer.Rays))
	}
	if got := layer.Rays[0].Lines[0].Width; got != 4 {
		t.Errorf("width = %v, want 4", got)
	}
	failed := layer.Rays[1]
	if failed.Error == "" || len(failed.Lines) != 0 || failed.AngleDeg != 90 {
		t.Errorf("failed ray = %+v", failed)
	}
}

func TestGeoJSON(t *testing.T) {
	fc := GeoJSON(FromScan(sampleScan(), DefaultStyle()))

	if fc.Type != "FeatureCollection" || len(fc.Features) != 3 {
		t.Fatalf("features = %d, want 3", len(fc.Features))
	}
	first := fc.Features[0]
	if first.Geometry == nil || first.Geometry.Type != "LineString" || len(first.Geometry.Coordinates) != 2 {
		t.Fatalf("first geometry = %+v", first.Geometry)
	}
	if first.Properties["stroke"] != model.ColorOccluded || first.Properties["visible"] != false {
		t.Errorf("first properties = %v", first.Properties)
	}
	last := fc.Features[2]
	if last.Geometry != nil || last.Properties["ray"] != 1 {
		t.Errorf("failed ray feature = %+v", last)
	}
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)
	layer := FromProfile("p-1", sampleProfile(), DefaultStyle())

	for i := 0; i < 2; i++ {
		if err := sink.Publish(context.Background(), layer); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dec := json.NewDecoder(&buf)
	count := 0
	for {
		var got model.Layer
		if err := dec.Decode(&got); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.ScanID != "p-1" || got.LineCount() != 2 {
			t.Errorf("decoded %+v", got)
		}
		count++
	}
	if count != 2 {
		t.Fatalf("documents = %d, want 2", count)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	layers []model.Layer
	err    error
	closed bool
}

func (s *recordingSink) Publish(_ context.Context, l model.Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(l.Rays) > 0 && len(l.Rays[0].Lines) > 0 {
		l.Rays[0].Lines[0].Color = "#000000"
	}
	s.layers = append(s.layers, l)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func TestMultiSinkContinuesAndIsolates(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingSink{err: boom}
	b := &recordingSink{}
	layer := FromProfile("p-1", sampleProfile(), DefaultStyle())

	err := MultiSink{a, b}.Publish(context.Background(), layer)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(b.layers) != 1 {
		t.Fatalf("second sink got %d layers, want 1", len(b.layers))
	}
	if layer.Rays[0].Lines[0].Color != model.ColorOccluded {
		t.Fatalf("sink mutation leaked into caller's layer")
	}
	if err := (MultiSink{a, b}).Close(); err != nil || !a.closed || !b.closed {
		t.Fatalf("Close: err=%v a=%v b=%v", err, a.closed, b.closed)
	}
}

type fakeKafka struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink(t *testing.T) {
	w := &fakeKafka{}
	sink := &KafkaSink{w: w}

	if err := sink.Publish(context.Background(), FromScan(sampleScan(), DefaultStyle())); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "scan-1" {
		t.Errorf("key = %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "scan" {
		t.Errorf("headers = %+v", msg.Headers)
	}
	var got model.Layer
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Rays) != 2 || got.Rays[1].Error == "" {
		t.Errorf("decoded layer = %+v", got)
	}
	if err := sink.Close(); err != nil || !w.closed {
		t.Fatalf("Close: %v", err)
	}
}

type fakePutter struct {
	bucket, object string
	body           []byte
	opts           minio.PutObjectOptions
}

func (f *fakePutter) PutObject(_ context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.bucket, f.object, f.opts = bucket, object, opts
	body, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(body)) != size {
		return minio.UploadInfo{}, fmt.Errorf("size %d != body %d", size, len(body))
	}
	f.body = body
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func TestObjectStoreSink(t *testing.T) {
	put := &fakePutter{}
	sink := &ObjectStoreSink{client: put, bucket: "los", prefix: "scans/"}

	if err := sink.Publish(context.Background(), FromScan(sampleScan(), DefaultStyle())); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if put.bucket != "los" || put.object != "scans/scan-scan-1.geojson" {
		t.Errorf("stored at %s/%s", put.bucket, put.object)
	}
	if put.opts.ContentType != "application/geo+json" {
		t.Errorf("content type = %q", put.opts.ContentType)
	}
	var fc model.FeatureCollection
	if err := json.Unmarshal(put.body, &fc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(fc.Features) != 3 {
		t.Errorf("features = %d, want 3", len(fc.Features))
	}
}

func TestHubBroadcasts(t *testing.T) {
	hub := NewHub(logging.Noop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := hub.Publish(context.Background(), FromProfile("p-9", sampleProfile(), DefaultStyle())); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var got model.Layer
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ScanID != "p-9" || got.LineCount() != 2 {
		t.Fatalf("received %+v", got)
	}
}

func TestHubDropsStalledClientWithoutBlocking(t *testing.T) {
	hub := NewHub(logging.Noop())

	// Neither client has a writer, so nothing drains their queues.
	stalled := &hubClient{send: make(chan []byte, 2)}
	healthy := &hubClient{send: make(chan []byte, 8)}
	for _, c := range []*hubClient{stalled, healthy} {
		if _, ok := hub.add(c); !ok {
			t.Fatal("add refused on an open hub")
		}
	}

	layer := FromProfile("p-1", sampleProfile(), DefaultStyle())
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := hub.Publish(context.Background(), layer); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Publish took %v with a stalled client", elapsed)
	}

	if n := hub.Clients(); n != 1 {
		t.Fatalf("clients = %d, want the stalled one dropped", n)
	}
	queued := 0
	for range stalled.send {
		queued++
	}
	if queued != 2 {
		t.Fatalf("stalled client queue held %d layers before closing, want 2", queued)
	}
	if len(healthy.send) != 3 {
		t.Fatalf("healthy client queued %d layers, want 3", len(healthy.send))
	}

	if err := hub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := hub.add(&hubClient{send: make(chan []byte, 1)}); ok {
		t.Fatal("closed hub accepted a client")
	}
}

func TestProfileChart(t *testing.T) {
	var buf bytes.Buffer
	if err := ProfileChart(&buf, "ridge", sampleProfile()); err != nil {
		t.Fatalf("ProfileChart: %v", err)
	}
	html := buf.String()
	for _, want := range []string{"<html", "ridge", "terrain", "sight line"} {
		if !strings.Contains(html, want) {
			t.Errorf("chart output missing %q", want)
		}
	}

	if err := ProfileChart(&buf, "empty", core.Profile{}); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("empty profile err = %v, want ErrInvalidInput", err)
	}
}
