package model

// FeatureCollection is a GeoJSON (RFC 7946) feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is a GeoJSON feature. Geometry is nil for failed rays.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   *Geometry      `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry is a GeoJSON LineString.
type Geometry struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

// NewFeatureCollection returns an empty collection with its type set.
func NewFeatureCollection() FeatureCollection {
	return FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
}

// LineString builds a GeoJSON LineString geometry from positions.
func LineString(ps ...Position) *Geometry {
	coords := make([][]float64, len(ps))
	for i, p := range ps {
		coords[i] = []float64{p.Lon, p.Lat, p.Height}
	}
	return &Geometry{Type: "LineString", Coordinates: coords}
}
