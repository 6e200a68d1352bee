// Package catalog maps logical UI concepts ("main-heading", "search-input")
// to ordered selector strategies. A built-in catalog is embedded; a user
// file can replace individual concepts.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ibeckermayer/docprobe/internal/resolve"
)

//go:embed catalog.yaml
var builtin []byte

// ErrUnknownConcept is returned by Get for names not in the catalog.
var ErrUnknownConcept = errors.New("unknown concept")

// Catalog is immutable once built.
type Catalog struct {
	concepts map[string][]resolve.Strategy
}

// Parse reads a catalog from YAML: a mapping of concept name to a list of
// strategies.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string][]resolve.Strategy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	c := &Catalog{concepts: make(map[string][]resolve.Strategy, len(raw))}
	for name, strategies := range raw {
		if len(strategies) == 0 {
			return nil, fmt.Errorf("concept %q has no strategies", name)
		}
		for i, s := range strategies {
			if s.Selector == "" {
				return nil, fmt.Errorf("concept %q strategy %d has no selector", name, i)
			}
			if s.HasText != "" {
				if _, err := regexp.Compile("(?i)" + s.HasText); err != nil {
					return nil, fmt.Errorf("concept %q strategy %d: invalid has_text: %w", name, i, err)
				}
			}
		}
		c.concepts[name] = slices.Clip(strategies)
	}
	return c, nil
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Load returns the embedded catalog with concepts from the file at path
// replacing built-in ones. A missing file is not an error.
func Load(path string) (*Catalog, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return base.Merge(override), nil
}

// Merge returns a catalog where concepts in override replace those in c.
func (c *Catalog) Merge(override *Catalog) *Catalog {
	out := &Catalog{concepts: make(map[string][]resolve.Strategy, len(c.concepts))}
	for k, v := range c.concepts {
		out.concepts[k] = v
	}
	for k, v := range override.concepts {
		out.concepts[k] = v
	}
	return out
}

// Get returns a copy of the strategies for name.
func (c *Catalog) Get(name string) ([]resolve.Strategy, error) {
	s, ok := c.concepts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConcept, name)
	}
	return slices.Clone(s), nil
}

// MustGet is Get for names known to be in the built-in catalog.
func (c *Catalog) MustGet(name string) []resolve.Strategy {
	s, err := c.Get(name)
	if err != nil {
		panic(err)
	}
	return s
}

// Names lists concepts in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.concepts))
	for k := range c.concepts {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
