// Package model holds the value types handed to presentation sinks. Nothing
// here refers back to kernel state, so a sink may keep or mutate a Layer.
package model

// LayerKind identifies what produced a Layer.
type LayerKind string

const (
	LayerProfile LayerKind = "profile"
	LayerScan    LayerKind = "scan"
)

// Line colours for the two visibility classes.
const (
	ColorVisible  = "#00FF00"
	ColorOccluded = "#FF0000"
)

// DefaultLineWidth is the stroke width, in pixels, of a classified segment.
const DefaultLineWidth = 2.0

// Position is a geodetic coordinate in degrees and metres.
type Position struct {
	Lon    float64 `json:"lon"`
	Lat    float64 `json:"lat"`
	Height float64 `json:"height"`
}

// Polyline is one classified segment.
type Polyline struct {
	Positions [2]Position `json:"positions"`
	Visible   bool        `json:"visible"`
	Color     string      `json:"color"`
	Width     float64     `json:"width"`
}

// RayLines groups the polylines of one ray. Error is set, and Lines empty,
// for rays that could not be computed.
type RayLines struct {
	Index    int        `json:"index"`
	AngleDeg float64    `json:"angle_deg"`
	Lines    []Polyline `json:"lines"`
	Error    string     `json:"error,omitempty"`
}

// Layer is a drawable result: one RayLines for a profile, one per fan ray
// for a scan.
type Layer struct {
	ScanID string     `json:"scan_id"`
	Kind   LayerKind  `json:"kind"`
	Mode   string     `json:"mode,omitempty"`
	Status string     `json:"status,omitempty"`
	Rays   []RayLines `json:"rays"`
}

// LineCount totals the polylines across all rays.
func (l Layer) LineCount() int {
	n := 0
	for _, r := range l.Rays {
		n += len(r.Lines)
	}
	return n
}

// Clone returns a deep copy.
func (l Layer) Clone() Layer {
	out := l
	out.Rays = make([]RayLines, len(l.Rays))
	for i, r := range l.Rays {
		out.Rays[i] = r
		out.Rays[i].Lines = append([]Polyline(nil), r.Lines...)
	}
	return out
}
