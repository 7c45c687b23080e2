package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TerrainCollector exposes metrics for the local terrain tile store.
type TerrainCollector struct {
	gatherer prometheus.Gatherer

	LookupDuration  prometheus.Histogram
	TilesLoaded     prometheus.Gauge
	UncoveredPoints prometheus.Counter
	CoverageRatio   prometheus.Gauge
}

// NewTerrainCollector registers tile store metrics against the provided registerer.
func NewTerrainCollector(reg prometheus.Registerer) (*TerrainCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	lookup := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "terrain_lookup_duration_seconds",
		Help:    "Duration of batched height lookups against loaded tiles.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
	lookup, err := registerHistogram(reg, lookup, "terrain_lookup_duration_seconds")
	if err != nil {
		return nil, err
	}

	tiles := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_tiles_loaded",
		Help: "Number of elevation tiles currently held in memory.",
	})
	tiles, err = registerGauge(reg, tiles, "terrain_tiles_loaded")
	if err != nil {
		return nil, err
	}

	uncovered := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "terrain_uncovered_points_total",
		Help: "Cumulative number of queried points that fell outside every tile.",
	})
	uncovered, err = registerCounter(reg, uncovered, "terrain_uncovered_points_total")
	if err != nil {
		return nil, err
	}

	ratio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_last_batch_coverage_ratio",
		Help: "Fraction of points in the most recent lookup that hit a tile.",
	})
	ratio, err = registerGauge(reg, ratio, "terrain_last_batch_coverage_ratio")
	if err != nil {
		return nil, err
	}

	return &TerrainCollector{
		gatherer:        gatherer,
		LookupDuration:  lookup,
		TilesLoaded:     tiles,
		UncoveredPoints: uncovered,
		CoverageRatio:   ratio,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *TerrainCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// SetTileCount updates the loaded tiles gauge.
func (c *TerrainCollector) SetTileCount(count int) {
	if c == nil || c.TilesLoaded == nil {
		return
	}
	c.TilesLoaded.Set(float64(count))
}

// ObserveLookup records one batched lookup of points, uncovered of which had
// no tile.
func (c *TerrainCollector) ObserveLookup(d time.Duration, points, uncovered int) {
	if c == nil {
		return
	}
	if c.LookupDuration != nil {
		c.LookupDuration.Observe(d.Seconds())
	}
	if c.UncoveredPoints != nil && uncovered > 0 {
		c.UncoveredPoints.Add(float64(uncovered))
	}
	if c.CoverageRatio != nil && points > 0 {
		ratio := float64(points-uncovered) / float64(points)
		if ratio < 0 {
			ratio = 0
		}
		c.CoverageRatio.Set(ratio)
	}
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
