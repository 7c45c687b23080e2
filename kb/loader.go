package kb

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type tileFile struct {
	Tiles []*Tile `yaml:"tiles"`
}

// LoadTiles decodes a YAML or JSON document of the form {"tiles": [...]}.
// Voids may be written as .nan in YAML.
func LoadTiles(r io.Reader) ([]*Tile, error) {
	var doc tileFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: decode tiles: %w", ErrInvalidTile, err)
	}
	for _, t := range doc.Tiles {
		if t == nil {
			return nil, fmt.Errorf("%w: empty tile entry", ErrInvalidTile)
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Tiles, nil
}

// LoadFiles reads every path and adds its tiles in order, so tiles in later
// files win where they overlap earlier ones.
func (kb *KnowledgeBase) LoadFiles(paths ...string) (int, error) {
	loaded := 0
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return loaded, fmt.Errorf("open tiles %s: %w", path, err)
		}
		tiles, err := LoadTiles(f)
		f.Close()
		if err != nil {
			return loaded, fmt.Errorf("%s: %w", path, err)
		}
		for _, t := range tiles {
			if err := kb.AddTile(t); err != nil {
				return loaded, fmt.Errorf("%s: %w", path, err)
			}
			loaded++
		}
	}
	return loaded, nil
}
