package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signalsfoundry/terrain-visibility/core"
	"github.com/signalsfoundry/terrain-visibility/internal/logging"
	"github.com/signalsfoundry/terrain-visibility/internal/terrainrpc"
)

const tileDoc = `tiles:
  - id: ramp
    west: 7
    south: 46
    east: 8
    north: 47
    rows: 2
    cols: 2
    heights: [100, 200, 100, 200]
`

func TestTerrainServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "ramp.yaml")
	if err := os.WriteFile(path, []byte(tileDoc), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := Config{
		ListenAddress: lis.Addr().String(),
		TileFiles:     []string{path},
		MaxPoints:     100,
		LogLevel:      "warn",
		LogFormat:     "text",
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	runCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(runCtx, cfg, log, lis)
	}()

	client, err := terrainrpc.Dial(cfg.ListenAddress)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	got, err := client.Sample(ctx, []core.GeoPoint{
		{LonDeg: 7, LatDeg: 46.5},
		{LonDeg: 7.5, LatDeg: 46.5},
		{LonDeg: 8, LatDeg: 46.5},
	})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	heights := []float64{got[0].Height, got[1].Height, got[2].Height}
	if diff := cmp.Diff([]float64{100, 150, 200}, heights); diff != "" {
		t.Fatalf("heights mismatch (-want +got):\n%s", diff)
	}

	if _, err := client.Sample(ctx, []core.GeoPoint{{LonDeg: 0, LatDeg: 0}}); !errors.Is(err, core.ErrSamplingUnavailable) {
		t.Fatalf("uncovered point err = %v, want ErrSamplingUnavailable", err)
	}

	stop()
	if err := <-errCh; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}

func TestRunFailsOnMissingTiles(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer lis.Close()

	cfg := Config{TileFiles: []string{filepath.Join(t.TempDir(), "missing.yaml")}}
	if err := run(context.Background(), cfg, logging.Noop(), lis); err == nil {
		t.Fatal("expected error for missing tile file")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a.yaml, ,b.yaml,")
	if diff := cmp.Diff([]string{"a.yaml", "b.yaml"}, got); diff != "" {
		t.Fatalf("splitList mismatch (-want +got):\n%s", diff)
	}
	if splitList("") != nil {
		t.Fatal("empty list should be nil")
	}
}
