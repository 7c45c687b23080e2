package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/terrain-visibility/internal/api"
	"github.com/signalsfoundry/terrain-visibility/internal/config"
	"github.com/signalsfoundry/terrain-visibility/internal/logging"
	"github.com/signalsfoundry/terrain-visibility/internal/observability"
)

const flatTiles = `tiles:
  - id: plain
    west: 9.9
    south: 44.9
    east: 10.1
    north: 45.1
    rows: 2
    cols: 2
    heights: [0, 0, 0, 0]
`

func TestLosdServesProfiles(t *testing.T) {
	dir := t.TempDir()
	tiles := filepath.Join(dir, "plain.yaml")
	if err := os.WriteFile(tiles, []byte(flatTiles), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := config.Default()
	cfg.Engine.StepCount = 20
	cfg.Terrain.TileFiles = []string{tiles}
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.Tracing = observability.TracingConfig{}
	cfg.Scan.SectorFOV = 20
	cfg.Scan.SectorRays = 4

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	base := "http://" + lis.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, logging.Noop(), lis)
	}()

	client := &http.Client{Timeout: 5 * time.Second}
	body := `{"origin":{"lon":10,"lat":45,"height":10},"target":{"lon":10.01,"lat":45,"height":10}}`
	resp, err := client.Post(base+"/v1/profile", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/profile: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body %s", resp.StatusCode, raw)
	}
	var out api.ProfileResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Samples) != 21 {
		t.Fatalf("samples = %d, want 21", len(out.Samples))
	}
	if out.VisibleM < out.LengthM-1e-6 {
		t.Fatalf("visible %.2f of %.2f, want fully visible over flat ground", out.VisibleM, out.LengthM)
	}

	sess := postJSON(t, client, base+"/v1/sessions", `{"kind":"sector"}`, http.StatusCreated)
	var view api.SessionView
	if err := json.Unmarshal(sess, &view); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	postJSON(t, client, base+"/v1/sessions/"+view.ID+"/picks", `{"point":{"lon":10,"lat":45,"height":10}}`, http.StatusOK)
	raw := postJSON(t, client, base+"/v1/sessions/"+view.ID+"/picks", `{"point":{"lon":10.004,"lat":45,"height":10}}`, http.StatusOK)
	var pick api.PickResponse
	if err := json.Unmarshal(raw, &pick); err != nil {
		t.Fatalf("decode pick: %v", err)
	}
	if !pick.Done || pick.Scan == nil || pick.Scan.Summary.Rays != 5 {
		t.Fatalf("sector pick = %s, want a 5-ray scan from the configured sector settings", raw)
	}

	metrics, err := client.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	metrics.Body.Close()
	if metrics.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", metrics.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func postJSON(t *testing.T, client *http.Client, url, body string, want int) []byte {
	t.Helper()
	resp, err := client.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	if resp.StatusCode != want {
		t.Fatalf("POST %s: status = %d, want %d, body %s", url, resp.StatusCode, want, raw)
	}
	return raw
}

func TestRunRejectsBadScene(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer lis.Close()

	cfg := config.Default()
	cfg.Tracing = observability.TracingConfig{}
	cfg.Scene.File = filepath.Join(t.TempDir(), "missing.yaml")
	if err := run(context.Background(), cfg, logging.Noop(), lis); err == nil {
		t.Fatal("expected error for missing scene file")
	}
}
