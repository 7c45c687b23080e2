package scene

import (
	"fmt"
	"io"
	"os"

	"github.com/signalsfoundry/terrain-visibility/core"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

type sceneFile struct {
	Anchor  core.GeoPoint `yaml:"anchor"`
	Objects []objectEntry `yaml:"objects"`
}

type objectEntry struct {
	Handle string       `yaml:"handle"`
	Sphere *sphereEntry `yaml:"sphere"`
	Box    *boxEntry    `yaml:"box"`
}

type sphereEntry struct {
	Center [3]float64 `yaml:"center"`
	Radius float64    `yaml:"radius"`
}

type boxEntry struct {
	Min [3]float64 `yaml:"min"`
	Max [3]float64 `yaml:"max"`
}

func vec(v [3]float64) r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

// Load decodes a scene document: an anchor plus a list of spheres and boxes
// given in local east/north/up metres.
func Load(r io.Reader) (*Scene, error) {
	var doc sceneFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode scene: %w", err)
	}
	if err := doc.Anchor.Validate(); err != nil {
		return nil, fmt.Errorf("scene anchor: %w", err)
	}
	s := New(doc.Anchor)
	for i, o := range doc.Objects {
		var shape Shape
		switch {
		case o.Sphere != nil && o.Box != nil:
			return nil, fmt.Errorf("%w: object %d has both sphere and box", ErrInvalidShape, i)
		case o.Sphere != nil:
			shape = Sphere{Center: vec(o.Sphere.Center), Radius: o.Sphere.Radius}
		case o.Box != nil:
			shape = Box{Min: vec(o.Box.Min), Max: vec(o.Box.Max)}
		default:
			return nil, fmt.Errorf("%w: object %d has no shape", ErrInvalidShape, i)
		}
		if err := s.Add(core.ObjectHandle(o.Handle), shape); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadFile loads a scene from path.
func LoadFile(path string) (*Scene, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scene: %w", err)
	}
	defer f.Close()
	return Load(f)
}
