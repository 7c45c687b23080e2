// Package config loads the YAML (or JSON) configuration shared by the
// commands and turns it into kernel options.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/signalsfoundry/terrain-visibility/core"
	"github.com/signalsfoundry/terrain-visibility/internal/logging"
	"github.com/signalsfoundry/terrain-visibility/internal/observability"
	"github.com/signalsfoundry/terrain-visibility/session"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root document.
type Config struct {
	Engine  EngineConfig                `yaml:"engine" json:"engine"`
	Scan    ScanConfig                  `yaml:"scan" json:"scan"`
	Terrain TerrainConfig               `yaml:"terrain" json:"terrain"`
	Scene   SceneConfig                 `yaml:"scene" json:"scene"`
	Sinks   SinksConfig                 `yaml:"sinks" json:"sinks"`
	History HistoryConfig               `yaml:"history" json:"history"`
	HTTP    HTTPConfig                  `yaml:"http" json:"http"`
	Logging logging.Config              `yaml:"logging" json:"logging"`
	Tracing observability.TracingConfig `yaml:"tracing" json:"tracing"`
}

// EngineConfig configures the profile engine.
type EngineConfig struct {
	StepCount     int     `yaml:"step_count" json:"step_count"`
	StepDistance  float64 `yaml:"step_distance" json:"step_distance"`
	Interpolation string  `yaml:"interpolation" json:"interpolation"`
	SightPolicy   string  `yaml:"sight_policy" json:"sight_policy"`
	Comparator    string  `yaml:"comparator" json:"comparator"`
	Tolerance     float64 `yaml:"tolerance" json:"tolerance"`
	// SampleTimeout bounds each elevation provider call.
	SampleTimeout Duration `yaml:"sample_timeout" json:"sample_timeout"`
}

// ScanConfig configures the scan orchestrator and the default fans.
type ScanConfig struct {
	Concurrency  int      `yaml:"concurrency" json:"concurrency"`
	RayTimeout   Duration `yaml:"ray_timeout" json:"ray_timeout"`
	Fan          string   `yaml:"fan" json:"fan"` // local | projected
	Padding      string   `yaml:"padding" json:"padding"`
	FixedPadding float64  `yaml:"fixed_padding" json:"fixed_padding"`

	SectorFOV    float64 `yaml:"sector_fov" json:"sector_fov"`
	SectorRays   int     `yaml:"sector_rays" json:"sector_rays"`
	CircleStep   float64 `yaml:"circle_step" json:"circle_step"`
	MarkerHandle string  `yaml:"marker_handle" json:"marker_handle"`
}

// TerrainConfig selects the elevation source: local tile files, a remote
// terrain-server, or both (remote wins when set).
type TerrainConfig struct {
	TileFiles []string `yaml:"tile_files" json:"tile_files"`
	Remote    string   `yaml:"remote" json:"remote"`
}

// SceneConfig points at a file of solid objects for intersection scans.
type SceneConfig struct {
	File string `yaml:"file" json:"file"`
}

// SinksConfig enables the optional result sinks.
type SinksConfig struct {
	Kafka       KafkaConfig       `yaml:"kafka" json:"kafka"`
	ObjectStore ObjectStoreConfig `yaml:"object_store" json:"object_store"`
	Stdout      bool              `yaml:"stdout" json:"stdout"`
}

// KafkaConfig enables the Kafka sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

// ObjectStoreConfig enables the MinIO/S3 sink when Endpoint is set.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
}

// HistoryConfig locates the SQLite scan history. An empty path disables it.
type HistoryConfig struct {
	Path string `yaml:"path" json:"path"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr        string `yaml:"addr" json:"addr"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// Duration is a time.Duration that reads "250ms"-style strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: duration %q: %w", ErrInvalidConfig, raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration: 300-sample geodetic profiles,
// a terrain-above comparator, and the local-frame fan.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			StepCount:     core.DefaultSampleCount,
			Interpolation: core.InterpolateGeodetic.String(),
			SightPolicy:   core.SightLinear.String(),
			Comparator:    core.OccludeTerrainAbove.String(),
			Tolerance:     core.DefaultTolerance,
			SampleTimeout: Duration(5 * time.Second),
		},
		Scan: ScanConfig{
			Concurrency:  core.DefaultScanConcurrency,
			RayTimeout:   Duration(10 * time.Second),
			Fan:          "local",
			Padding:      core.PaddingDerived.String(),
			SectorFOV:    60,
			SectorRays:   120,
			CircleStep:   3,
			MarkerHandle: "viewpoint",
		},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Logging: logging.Config{Level: "info", Format: "text"},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load decodes a YAML or JSON document over Default and validates it.
func Load(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile loads path, or returns Default when path is empty.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Validate checks every section that can be checked without I/O.
func (c Config) Validate() error {
	if _, err := c.ProfileConfig(); err != nil {
		return fmt.Errorf("%w: engine: %w", ErrInvalidConfig, err)
	}
	if _, err := c.FanGenerator(); err != nil {
		return fmt.Errorf("%w: scan: %w", ErrInvalidConfig, err)
	}
	if c.Scan.Concurrency < 0 {
		return fmt.Errorf("%w: scan.concurrency must be non-negative", ErrInvalidConfig)
	}
	if c.Scan.SectorFOV <= 0 || c.Scan.SectorFOV > 360 {
		return fmt.Errorf("%w: scan.sector_fov must be in (0, 360]", ErrInvalidConfig)
	}
	if c.Scan.SectorRays <= 0 {
		return fmt.Errorf("%w: scan.sector_rays must be positive", ErrInvalidConfig)
	}
	if c.Scan.CircleStep <= 0 || c.Scan.CircleStep > 360 {
		return fmt.Errorf("%w: scan.circle_step must be in (0, 360]", ErrInvalidConfig)
	}
	if len(c.Sinks.Kafka.Brokers) > 0 && c.Sinks.Kafka.Topic == "" {
		return fmt.Errorf("%w: sinks.kafka.topic is required with brokers", ErrInvalidConfig)
	}
	if c.Sinks.ObjectStore.Endpoint != "" && c.Sinks.ObjectStore.Bucket == "" {
		return fmt.Errorf("%w: sinks.object_store.bucket is required with an endpoint", ErrInvalidConfig)
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("%w: tracing.sample_ratio must be in [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// ProfileConfig converts the engine section.
func (c Config) ProfileConfig() (core.ProfileConfig, error) {
	interp, err := core.ParseInterpolation(c.Engine.Interpolation)
	if err != nil {
		return core.ProfileConfig{}, err
	}
	policy, err := core.ParseSightPolicy(c.Engine.SightPolicy)
	if err != nil {
		return core.ProfileConfig{}, err
	}
	cmp, err := core.ParseOcclusionComparator(c.Engine.Comparator)
	if err != nil {
		return core.ProfileConfig{}, err
	}
	pc := core.ProfileConfig{
		Steps:         core.StepPolicy{Count: c.Engine.StepCount, Distance: c.Engine.StepDistance},
		Interpolation: interp,
		Classifier:    core.Classifier{Policy: policy, Comparator: cmp, Tolerance: c.Engine.Tolerance},
	}
	return pc, pc.Validate()
}

// SamplerOptions returns the options for core.NewSampler.
func (c Config) SamplerOptions(rec core.Recorder) []core.SamplerOption {
	return []core.SamplerOption{
		core.WithSampleTimeout(c.Engine.SampleTimeout.Std()),
		core.WithSamplerRecorder(rec),
	}
}

// FanGenerator builds the configured default fan.
func (c Config) FanGenerator() (core.FanGenerator, error) {
	switch c.Scan.Fan {
	case "", "local":
		return core.LocalFrameFan{Ellipsoid: core.WGS84}, nil
	case "projected":
		return c.ProjectedFan()
	default:
		return nil, fmt.Errorf("unknown fan %q", c.Scan.Fan)
	}
}

// ProjectedFan builds the projected fan used by circle scans regardless of
// the default fan.
func (c Config) ProjectedFan() (core.ProjectedFan, error) {
	mode, err := core.ParsePaddingMode(c.Scan.Padding)
	if err != nil {
		return core.ProjectedFan{}, err
	}
	if c.Scan.FixedPadding < 0 {
		return core.ProjectedFan{}, fmt.Errorf("fixed_padding must be non-negative")
	}
	return core.ProjectedFan{Ellipsoid: core.WGS84, Padding: mode, FixedPadding: c.Scan.FixedPadding}, nil
}

// ScanOptions returns orchestrator options for the scan section. It assumes
// Validate has passed.
func (c Config) ScanOptions(log logging.Logger, rec core.Recorder) []core.OrchestratorOption {
	fan, err := c.FanGenerator()
	if err != nil {
		fan = nil
	}
	return []core.OrchestratorOption{
		core.WithConcurrency(c.Scan.Concurrency),
		core.WithRayTimeout(c.Scan.RayTimeout.Std()),
		core.WithFanGenerator(fan),
		core.WithLogger(log),
		core.WithRecorder(rec),
	}
}

// CircleRayCount is the number of rays a full circle needs at the configured
// angular step.
func (c Config) CircleRayCount() int {
	n := int(360/c.Scan.CircleStep + 0.5)
	if n < 1 {
		return 1
	}
	return n
}

// SessionSettings are the pick-session scan parameters. Circle sessions skip
// the viewpoint marker.
func (c Config) SessionSettings() session.Settings {
	st := session.Settings{
		SectorFOV:  c.Scan.SectorFOV,
		SectorRays: c.Scan.SectorRays,
		CircleRays: c.CircleRayCount(),
	}
	if c.Scan.MarkerHandle != "" {
		st.Exclude = core.NewExclusionSet(core.ObjectHandle(c.Scan.MarkerHandle))
	}
	return st
}
