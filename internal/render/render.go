// Package render turns kernel results into drawable layers and delivers them
// to presentation sinks.
package render

import (
	"github.com/signalsfoundry/terrain-visibility/core"
	"github.com/signalsfoundry/terrain-visibility/model"
)

// Style controls how classified segments are drawn.
type Style struct {
	VisibleColor  string
	OccludedColor string
	Width         float64
}

// DefaultStyle draws visible segments green and occluded ones red.
func DefaultStyle() Style {
	return Style{
		VisibleColor:  model.ColorVisible,
		OccludedColor: model.ColorOccluded,
		Width:         model.DefaultLineWidth,
	}
}

func (s Style) orDefault() Style {
	d := DefaultStyle()
	if s.VisibleColor == "" {
		s.VisibleColor = d.VisibleColor
	}
	if s.OccludedColor == "" {
		s.OccludedColor = d.OccludedColor
	}
	if s.Width <= 0 {
		s.Width = d.Width
	}
	return s
}

// Polyline draws one segment.
func (s Style) Polyline(seg core.ClassifiedSegment) model.Polyline {
	s = s.orDefault()
	visible := seg.Flag == core.Visible
	color := s.OccludedColor
	if visible {
		color = s.VisibleColor
	}
	return model.Polyline{
		Positions: [2]model.Position{position(seg.Start), position(seg.End)},
		Visible:   visible,
		Color:     color,
		Width:     s.Width,
	}
}

func (s Style) lines(segs []core.ClassifiedSegment) []model.Polyline {
	out := make([]model.Polyline, len(segs))
	for i, seg := range segs {
		out[i] = s.Polyline(seg)
	}
	return out
}

// FromProfile draws a profile as a single ray.
func FromProfile(id string, p core.Profile, style Style) model.Layer {
	return model.Layer{
		ScanID: id,
		Kind:   model.LayerProfile,
		Rays: []model.RayLines{{
			Index: 0,
			Lines: style.lines(p.Segments),
		}},
	}
}

// FromRay draws one scan ray. Failed rays carry the error text and no lines.
func FromRay(r core.RayResult, style Style) model.RayLines {
	out := model.RayLines{Index: r.Index, AngleDeg: r.AngleDeg}
	if r.Err != nil {
		out.Error = r.Err.Error()
		out.Lines = []model.Polyline{}
		return out
	}
	out.Lines = style.lines(r.Segments)
	return out
}

// FromScan draws every ray of a scan in index order.
func FromScan(res core.ScanResult, style Style) model.Layer {
	rays := make([]model.RayLines, len(res.Rays))
	for i, r := range res.Rays {
		rays[i] = FromRay(r, style)
	}
	return model.Layer{
		ScanID: res.ID,
		Kind:   model.LayerScan,
		Mode:   res.Mode.String(),
		Status: res.Status.String(),
		Rays:   rays,
	}
}

// GeoJSON flattens a layer into one LineString feature per polyline, plus a
// geometry-less feature for each failed ray.
func GeoJSON(l model.Layer) model.FeatureCollection {
	fc := model.NewFeatureCollection()
	for _, r := range l.Rays {
		if r.Error != "" {
			fc.Features = append(fc.Features, model.Feature{
				Type: "Feature",
				Properties: map[string]any{
					"scan_id":   l.ScanID,
					"ray":       r.Index,
					"angle_deg": r.AngleDeg,
					"error":     r.Error,
				},
			})
			continue
		}
		for i, line := range r.Lines {
			fc.Features = append(fc.Features, model.Feature{
				Type:     "Feature",
				Geometry: model.LineString(line.Positions[0], line.Positions[1]),
				Properties: map[string]any{
					"scan_id":      l.ScanID,
					"ray":          r.Index,
					"segment":      i,
					"angle_deg":    r.AngleDeg,
					"visible":      line.Visible,
					"stroke":       line.Color,
					"stroke-width": line.Width,
				},
			})
		}
	}
	return fc
}

func position(p core.CartesianPoint) model.Position {
	g := core.WGS84.ToGeodetic(p)
	return model.Position{Lon: g.LonDeg, Lat: g.LatDeg, Height: g.Height}
}
