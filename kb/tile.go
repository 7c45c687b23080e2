package kb

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/terrain-visibility/core"
)

// Tile is a regular longitude/latitude grid of terrain heights. Heights are
// stored row-major starting at the south-west corner; row r lies at latitude
// South + r*(North-South)/(Rows-1). NaN marks a void with no data.
type Tile struct {
	ID      string    `yaml:"id" json:"id"`
	West    float64   `yaml:"west" json:"west"`
	South   float64   `yaml:"south" json:"south"`
	East    float64   `yaml:"east" json:"east"`
	North   float64   `yaml:"north" json:"north"`
	Rows    int       `yaml:"rows" json:"rows"`
	Cols    int       `yaml:"cols" json:"cols"`
	Heights []float64 `yaml:"heights" json:"heights"`
}

// Validate checks the tile geometry and grid size.
func (t *Tile) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: tile id is required", ErrInvalidTile)
	}
	if t.Rows < 2 || t.Cols < 2 {
		return fmt.Errorf("%w: tile %q needs at least 2x2 samples, got %dx%d", ErrInvalidTile, t.ID, t.Rows, t.Cols)
	}
	if !(t.East > t.West) || !(t.North > t.South) {
		return fmt.Errorf("%w: tile %q has empty bounds", ErrInvalidTile, t.ID)
	}
	if t.West < -180 || t.East > 180 || t.South < -90 || t.North > 90 {
		return fmt.Errorf("%w: tile %q bounds outside the globe", ErrInvalidTile, t.ID)
	}
	if len(t.Heights) != t.Rows*t.Cols {
		return fmt.Errorf("%w: tile %q has %d heights, want %d", ErrInvalidTile, t.ID, len(t.Heights), t.Rows*t.Cols)
	}
	for i, h := range t.Heights {
		if math.IsInf(h, 0) {
			return fmt.Errorf("%w: tile %q height %d is infinite", ErrInvalidTile, t.ID, i)
		}
	}
	return nil
}

// Contains reports whether (lon, lat) lies inside the tile bounds.
func (t *Tile) Contains(lon, lat float64) bool {
	return lon >= t.West && lon <= t.East && lat >= t.South && lat <= t.North
}

// HeightAt returns the bilinearly interpolated height at (lon, lat). It
// returns false outside the tile or when any surrounding sample is a void.
func (t *Tile) HeightAt(lon, lat float64) (float64, bool) {
	if !t.Contains(lon, lat) {
		return 0, false
	}
	fx := (lon - t.West) / (t.East - t.West) * float64(t.Cols-1)
	fy := (lat - t.South) / (t.North - t.South) * float64(t.Rows-1)

	c0 := int(math.Floor(fx))
	r0 := int(math.Floor(fy))
	if c0 >= t.Cols-1 {
		c0 = t.Cols - 2
	}
	if r0 >= t.Rows-1 {
		r0 = t.Rows - 2
	}
	dx := fx - float64(c0)
	dy := fy - float64(r0)

	sw := t.at(r0, c0)
	se := t.at(r0, c0+1)
	nw := t.at(r0+1, c0)
	ne := t.at(r0+1, c0+1)
	if math.IsNaN(sw + se + nw + ne) {
		return 0, false
	}
	south := sw + (se-sw)*dx
	north := nw + (ne-nw)*dx
	return south + (north-south)*dy, true
}

func (t *Tile) at(row, col int) float64 {
	return t.Heights[row*t.Cols+col]
}

// Bounds returns the south-west and north-east corners.
func (t *Tile) Bounds() (sw, ne core.GeoPoint) {
	return core.GeoPoint{LonDeg: t.West, LatDeg: t.South}, core.GeoPoint{LonDeg: t.East, LatDeg: t.North}
}

func (t *Tile) clone() *Tile {
	c := *t
	c.Heights = append([]float64(nil), t.Heights...)
	return &c
}

// metresPerDegree is the length of one degree of arc on a sphere with the
// WGS-84 semi-major axis.
var metresPerDegree = core.WGS84.SemiMajor * math.Pi / 180

// FlatTile builds a constant-height tile.
func FlatTile(id string, west, south, east, north, height float64) *Tile {
	return &Tile{
		ID: id, West: west, South: south, East: east, North: north,
		Rows: 2, Cols: 2,
		Heights: []float64{height, height, height, height},
	}
}

// GaussianHill builds an n x n tile of side spanDeg centred on centre, with a
// Gaussian hill of the given peak height and standard deviation sigma
// (metres) on top of the centre height.
func GaussianHill(id string, centre core.GeoPoint, spanDeg float64, n int, peak, sigma float64) *Tile {
	if n < 2 {
		n = 2
	}
	half := spanDeg / 2
	t := &Tile{
		ID:    id,
		West:  centre.LonDeg - half,
		South: centre.LatDeg - half,
		East:  centre.LonDeg + half,
		North: centre.LatDeg + half,
		Rows:  n,
		Cols:  n,
	}
	t.Heights = make([]float64, n*n)
	cosLat := math.Cos(centre.LatDeg * math.Pi / 180)
	for r := 0; r < n; r++ {
		lat := t.South + spanDeg*float64(r)/float64(n-1)
		for c := 0; c < n; c++ {
			lon := t.West + spanDeg*float64(c)/float64(n-1)
			dx := (lon - centre.LonDeg) * metresPerDegree * cosLat
			dy := (lat - centre.LatDeg) * metresPerDegree
			t.Heights[r*n+c] = centre.Height + peak*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
		}
	}
	return t
}
