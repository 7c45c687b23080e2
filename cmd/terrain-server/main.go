// Command terrain-server serves terrain heights from DEM tile files over the
// terrain.v1.ElevationService gRPC API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/terrain-visibility/internal/logging"
	"github.com/signalsfoundry/terrain-visibility/internal/observability"
	"github.com/signalsfoundry/terrain-visibility/internal/terrainrpc"
	"github.com/signalsfoundry/terrain-visibility/kb"
)

// Config is the server's runtime configuration.
type Config struct {
	ListenAddress  string
	MetricsAddress string
	TileFiles      []string
	MaxPoints      int
	LogLevel       string
	LogFormat      string
	Tracing        observability.TracingConfig
}

func main() {
	grpcAddr := flag.String("grpc-addr", ":50061", "TCP address the elevation gRPC server listens on")
	metricsAddr := flag.String("metrics-addr", ":9091", "HTTP address for Prometheus /metrics (empty disables)")
	tiles := flag.String("tiles", "", "Comma-separated list of YAML/JSON tile files")
	maxPoints := flag.Int("max-points", terrainrpc.DefaultMaxPoints, "Maximum points accepted per request")
	flag.Parse()

	cfg := Config{
		ListenAddress:  *grpcAddr,
		MetricsAddress: *metricsAddr,
		TileFiles:      splitList(*tiles),
		MaxPoints:      *maxPoints,
		LogLevel:       "info",
		LogFormat:      "text",
		Tracing:        observability.TracingConfigFromEnv(observability.DefaultTracingConfig()),
	}
	cfg.Tracing.ServiceName = "terrain-server"

	log := logging.NewFromEnv(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}
	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "terrain server failed", logging.Err(err))
		os.Exit(1)
	}
}

// run serves on lis until ctx is cancelled.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	log = logging.OrNoop(log)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	collector, err := observability.NewScanCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	terrainMetrics, err := observability.NewTerrainCollector(reg)
	if err != nil {
		return fmt.Errorf("init terrain metrics: %w", err)
	}

	store := kb.NewKnowledgeBase()
	store.SetMetricsRecorder(terrainMetrics)
	n, err := store.LoadFiles(cfg.TileFiles...)
	if err != nil {
		return fmt.Errorf("load tiles: %w", err)
	}
	log.Info(ctx, "loaded terrain tiles", logging.Int("count", n), logging.Int("files", len(cfg.TileFiles)))
	unsubscribe := store.Subscribe(func(ev kb.Event) {
		log.Info(context.Background(), "terrain tile changed",
			logging.String("tile", ev.TileID),
			logging.String("event", ev.Type.String()),
		)
	})
	defer unsubscribe()

	server := terrainrpc.NewGRPCServer(
		terrainrpc.NewServer(store, terrainrpc.WithMaxPoints(cfg.MaxPoints), terrainrpc.WithServerLogger(log)),
		log,
		collector,
	)
	metricsSrv := serveMetrics(cfg.MetricsAddress, collector, log)

	errCh := make(chan error, 1)
	log.Info(ctx, "starting elevation gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		errCh <- server.Serve(lis)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	log.Info(context.Background(), "shutting down terrain server")
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		server.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return serveErr
}

func serveMetrics(addr string, collector *observability.ScanCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
