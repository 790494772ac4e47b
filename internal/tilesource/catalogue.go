package tilesource

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalogue is an ordered, name-indexed set of sources.
type Catalogue struct {
	order  []*Source
	byName map[string]*Source
}

type catalogueFile struct {
	Sources []*Source `yaml:"sources"`
}

// NewCatalogue indexes sources by name. A later source replaces an earlier
// one with the same name in place.
func NewCatalogue(sources ...*Source) (*Catalogue, error) {
	c := &Catalogue{byName: make(map[string]*Source, len(sources))}
	for _, s := range sources {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, ok := c.byName[s.Name]; ok {
			for i, prev := range c.order {
				if prev.Name == s.Name {
					c.order[i] = s
				}
			}
		} else {
			c.order = append(c.order, s)
		}
		c.byName[s.Name] = s
	}
	return c, nil
}

// Get returns the source with the given name.
func (c *Catalogue) Get(name string) (*Source, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// Sources returns the sources in catalogue order.
func (c *Catalogue) Sources() []*Source {
	out := make([]*Source, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Catalogue) Len() int {
	return len(c.order)
}

// Decode parses a YAML source list of the form
//
//	sources:
//	  - name: Local
//	    url: http://localhost:8081/{z}/{x}/{y}.png
//	    update: IfModifiedSince
func Decode(data []byte) ([]*Source, error) {
	var f catalogueFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tile source catalogue: %w", err)
	}
	for _, s := range f.Sources {
		s.ApplyDefaults()
	}
	return f.Sources, nil
}

// LoadFile reads a YAML source list from path.
func LoadFile(path string) ([]*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile source catalogue: %w", err)
	}
	return Decode(data)
}

// Load builds the catalogue of built-in sources merged with the optional
// YAML file at path.
func Load(path string) (*Catalogue, error) {
	sources := Builtin()
	if path != "" {
		extra, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, extra...)
	}
	return NewCatalogue(sources...)
}
