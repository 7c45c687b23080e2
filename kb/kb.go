// Package kb holds the in-memory terrain knowledge base: elevation tiles that
// answer batched height queries for the visibility kernel.
package kb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/terrain-visibility/core"
)

var (
	// ErrNoCoverage means at least one queried point lies outside every
	// loaded tile, or only on voids.
	ErrNoCoverage = errors.New("no terrain coverage")
	// ErrInvalidTile is returned for malformed tiles.
	ErrInvalidTile = errors.New("invalid tile")
	// ErrTileNotFound is returned when removing an unknown tile.
	ErrTileNotFound = errors.New("tile not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventTileAdded EventType = iota
	EventTileReplaced
	EventTileRemoved
)

func (e EventType) String() string {
	switch e {
	case EventTileAdded:
		return "added"
	case EventTileReplaced:
		return "replaced"
	case EventTileRemoved:
		return "removed"
	default:
		return fmt.Sprintf("EventType(%d)", int(e))
	}
}

// Event is emitted to subscribers when the tile set changes.
type Event struct {
	Type      EventType
	TileID    string
	SouthWest core.GeoPoint
	NorthEast core.GeoPoint
}

// MetricsRecorder receives lookup statistics. observability.TerrainCollector
// implements it.
type MetricsRecorder interface {
	SetTileCount(count int)
	ObserveLookup(d time.Duration, points, uncovered int)
}

// TileInfo summarises a loaded tile.
type TileInfo struct {
	ID        string
	SouthWest core.GeoPoint
	NorthEast core.GeoPoint
	Rows      int
	Cols      int
}

// KnowledgeBase is an in-memory, thread-safe tile store. It implements
// core.ElevationProvider; when tiles overlap, the most recently added one
// answers.
type KnowledgeBase struct {
	mu sync.RWMutex

	tiles []*Tile // oldest first

	subs    map[int]func(Event)
	nextSub int
	metrics MetricsRecorder
}

var _ core.ElevationProvider = (*KnowledgeBase)(nil)

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{subs: make(map[int]func(Event))}
}

// SetMetricsRecorder attaches a recorder for lookups and tile counts.
func (kb *KnowledgeBase) SetMetricsRecorder(m MetricsRecorder) {
	kb.mu.Lock()
	kb.metrics = m
	n := len(kb.tiles)
	kb.mu.Unlock()
	if m != nil {
		m.SetTileCount(n)
	}
}

// AddTile stores a copy of t as the newest tile. A tile with the same ID is
// replaced and moves to the top.
func (kb *KnowledgeBase) AddTile(t *Tile) error {
	if t == nil {
		return fmt.Errorf("%w: nil tile", ErrInvalidTile)
	}
	if err := t.Validate(); err != nil {
		return err
	}
	stored := t.clone()

	kb.mu.Lock()
	typ := EventTileAdded
	if i := kb.indexLocked(t.ID); i >= 0 {
		kb.tiles = append(kb.tiles[:i], kb.tiles[i+1:]...)
		typ = EventTileReplaced
	}
	kb.tiles = append(kb.tiles, stored)
	subs, metrics, n := kb.snapshotLocked()
	kb.mu.Unlock()

	if metrics != nil {
		metrics.SetTileCount(n)
	}
	sw, ne := stored.Bounds()
	notify(subs, Event{Type: typ, TileID: stored.ID, SouthWest: sw, NorthEast: ne})
	return nil
}

// RemoveTile drops the tile with the given ID.
func (kb *KnowledgeBase) RemoveTile(id string) error {
	kb.mu.Lock()
	i := kb.indexLocked(id)
	if i < 0 {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTileNotFound, id)
	}
	removed := kb.tiles[i]
	kb.tiles = append(kb.tiles[:i], kb.tiles[i+1:]...)
	subs, metrics, n := kb.snapshotLocked()
	kb.mu.Unlock()

	if metrics != nil {
		metrics.SetTileCount(n)
	}
	sw, ne := removed.Bounds()
	notify(subs, Event{Type: EventTileRemoved, TileID: id, SouthWest: sw, NorthEast: ne})
	return nil
}

// ListTiles returns the loaded tiles, oldest first.
func (kb *KnowledgeBase) ListTiles() []TileInfo {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]TileInfo, 0, len(kb.tiles))
	for _, t := range kb.tiles {
		sw, ne := t.Bounds()
		res = append(res, TileInfo{ID: t.ID, SouthWest: sw, NorthEast: ne, Rows: t.Rows, Cols: t.Cols})
	}
	return res
}

// HeightAt returns the terrain height at one position.
func (kb *KnowledgeBase) HeightAt(lon, lat float64) (float64, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.heightLocked(lon, lat)
}

// Sample implements core.ElevationProvider. Either every point is answered
// or the batch fails with ErrNoCoverage; there is no default height.
func (kb *KnowledgeBase) Sample(ctx context.Context, points []core.GeoPoint) ([]core.GeoPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	kb.mu.RLock()
	out := make([]core.GeoPoint, len(points))
	uncovered := 0
	var first core.GeoPoint
	for i, p := range points {
		h, ok := kb.heightLocked(p.LonDeg, p.LatDeg)
		if !ok {
			if uncovered == 0 {
				first = p
			}
			uncovered++
			continue
		}
		out[i] = p.WithHeight(h)
	}
	metrics := kb.metrics
	kb.mu.RUnlock()

	if metrics != nil {
		metrics.ObserveLookup(time.Since(start), len(points), uncovered)
	}
	if uncovered > 0 {
		return nil, fmt.Errorf("%w: %d of %d points, first at %v", ErrNoCoverage, uncovered, len(points), first)
	}
	return out, nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) heightLocked(lon, lat float64) (float64, bool) {
	for i := len(kb.tiles) - 1; i >= 0; i-- {
		if h, ok := kb.tiles[i].HeightAt(lon, lat); ok {
			return h, true
		}
	}
	return 0, false
}

func (kb *KnowledgeBase) indexLocked(id string) int {
	for i, t := range kb.tiles {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (kb *KnowledgeBase) snapshotLocked() ([]func(Event), MetricsRecorder, int) {
	subs := make([]func(Event), 0, len(kb.subs))
	for id := 0; id < kb.nextSub; id++ {
		if fn, ok := kb.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	return subs, kb.metrics, len(kb.tiles)
}

// Notify subscribers outside the lock to avoid deadlocks.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
