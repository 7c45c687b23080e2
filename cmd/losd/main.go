// Command losd serves terrain line-of-sight profiles and scans over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/terrain-visibility/core"
	"github.com/signalsfoundry/terrain-visibility/internal/api"
	"github.com/signalsfoundry/terrain-visibility/internal/config"
	"github.com/signalsfoundry/terrain-visibility/internal/history"
	"github.com/signalsfoundry/terrain-visibility/internal/logging"
	"github.com/signalsfoundry/terrain-visibility/internal/observability"
	"github.com/signalsfoundry/terrain-visibility/internal/render"
	"github.com/signalsfoundry/terrain-visibility/internal/terrainrpc"
	"github.com/signalsfoundry/terrain-visibility/kb"
	"github.com/signalsfoundry/terrain-visibility/scene"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML/JSON config file (defaults apply when empty)")
	addr := flag.String("http-addr", "", "Override http.addr from the config")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "losd: %v\n", err)
		os.Exit(2)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	cfg.Tracing = observability.TracingConfigFromEnv(cfg.Tracing)

	log := logging.NewFromEnv(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.HTTP.Addr), logging.Err(err))
		os.Exit(1)
	}
	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "losd failed", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the configured components and serves the API on lis until ctx
// is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
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

	provider, closeProvider, err := elevationProvider(ctx, cfg.Terrain, terrainMetrics, log)
	if err != nil {
		return err
	}
	defer closeProvider()

	profileCfg, err := cfg.ProfileConfig()
	if err != nil {
		return err
	}
	sampler := core.NewSampler(provider, cfg.SamplerOptions(collector)...)
	profiles, err := core.NewProfileEngine(sampler, profileCfg, log)
	if err != nil {
		return err
	}

	scanOpts := cfg.ScanOptions(log, collector)
	projectedFan, err := cfg.ProjectedFan()
	if err != nil {
		return err
	}
	projectedOpts := append(append([]core.OrchestratorOption(nil), scanOpts...), core.WithFanGenerator(projectedFan))
	if cfg.Scene.File != "" {
		sc, err := scene.LoadFile(cfg.Scene.File)
		if err != nil {
			return fmt.Errorf("load scene: %w", err)
		}
		log.Info(ctx, "loaded scene", logging.String("file", cfg.Scene.File), logging.Int("objects", len(sc.Objects())))
		scanOpts = append(scanOpts, core.WithIntersectionOracle(sc))
		projectedOpts = append(projectedOpts, core.WithIntersectionOracle(sc))
	}
	scans := core.NewOrchestrator(profiles, scanOpts...)
	projected := core.NewOrchestrator(profiles, projectedOpts...)

	sinks, err := buildSinks(ctx, cfg.Sinks, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Warn(context.Background(), "closing sinks", logging.Err(err))
		}
	}()
	hub := render.NewHub(log)
	defer hub.Close()

	opts := []api.Option{
		api.WithProjectedOrchestrator(projected),
		api.WithHub(hub),
		api.WithMetrics(collector),
		api.WithLogger(log),
		api.WithSessionSettings(cfg.SessionSettings()),
	}
	if len(sinks) > 0 {
		opts = append(opts, api.WithSink(sinks))
	}
	if cfg.Scan.MarkerHandle != "" {
		opts = append(opts, api.WithDefaultExclusions(core.ObjectHandle(cfg.Scan.MarkerHandle)))
	}
	if cfg.History.Path != "" {
		store, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, api.WithHistory(store))
	}

	apiSrv, err := api.NewServer(profiles, scans, opts...)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/", apiSrv.Handler())
	var metricsSrv *http.Server
	if cfg.HTTP.MetricsAddr == "" {
		mux.Handle("/metrics", collector.Handler())
	} else {
		metricsSrv = serveMetrics(cfg.HTTP.MetricsAddr, collector, log)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	log.Info(ctx, "starting LOS HTTP server", logging.String("addr", lis.Addr().String()))
	go func() {
		errCh <- srv.Serve(lis)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	log.Info(context.Background(), "shutting down LOS server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = hub.Close()
	_ = srv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	return serveErr
}

// elevationProvider returns the remote elevation client when configured,
// otherwise a tile store loaded from the configured files.
func elevationProvider(ctx context.Context, cfg config.TerrainConfig, metrics *observability.TerrainCollector, log logging.Logger) (core.ElevationProvider, func(), error) {
	if cfg.Remote != "" {
		client, err := terrainrpc.Dial(cfg.Remote)
		if err != nil {
			return nil, nil, err
		}
		log.Info(ctx, "using remote elevation service", logging.String("addr", cfg.Remote))
		return client, func() { _ = client.Close() }, nil
	}

	store := kb.NewKnowledgeBase()
	store.SetMetricsRecorder(metrics)
	n, err := store.LoadFiles(cfg.TileFiles...)
	if err != nil {
		return nil, nil, fmt.Errorf("load tiles: %w", err)
	}
	if n == 0 {
		log.Warn(ctx, "no terrain tiles loaded; every profile will fail until tiles are configured")
	} else {
		log.Info(ctx, "loaded terrain tiles", logging.Int("count", n))
	}
	return store, func() {}, nil
}

func buildSinks(ctx context.Context, cfg config.SinksConfig, log logging.Logger) (render.MultiSink, error) {
	var sinks render.MultiSink
	if cfg.Stdout {
		// Hide Close so shutting the sinks down leaves stdout open for logs.
		sinks = append(sinks, render.NewWriterSink(struct{ io.Writer }{os.Stdout}))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, render.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		log.Info(ctx, "publishing layers to kafka", logging.String("topic", cfg.Kafka.Topic))
	}
	if cfg.ObjectStore.Endpoint != "" {
		archive, err := render.NewObjectStoreSink(ctx, render.ObjectStoreConfig{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			UseSSL:    cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, archive)
		log.Info(ctx, "archiving layers to object store", logging.String("bucket", cfg.ObjectStore.Bucket))
	}
	return sinks, nil
}

func serveMetrics(addr string, collector *observability.ScanCollector, log logging.Logger) *http.Server {
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
