// Package registry holds the static catalog of integration template bundles.
package registry

import (
	"embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/*.yaml
var catalogFS embed.FS

// ErrUnknownIntegration is returned when an integration id is not in the catalog.
var ErrUnknownIntegration = errors.New("unknown integration")

// Bundle kinds.
const (
	KindIntegration = "integration"
	KindAddon       = "addon"
)

// Bundle is an immutable set of template files and required configuration
// keys for one third-party service.
type Bundle struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Category     string            `yaml:"category"`
	Kind         string            `yaml:"kind"`
	RequiredKeys []string          `yaml:"required_keys"`
	Files        map[string]string `yaml:"files"`
}

// Registry is the read-only catalog, loaded once at process start.
type Registry struct {
	bundles map[string]*Bundle
	order   []string
}

// Load parses the embedded catalog definitions.
func Load() (*Registry, error) {
	entries, err := catalogFS.ReadDir("catalog")
	if err != nil {
		return nil, fmt.Errorf("registry: read catalog: %w", err)
	}

	var bundles []*Bundle
	for _, entry := range entries {
		data, err := catalogFS.ReadFile("catalog/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("registry: read %s: %w", entry.Name(), err)
		}
		var b Bundle
		if err := yaml.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("registry: parse %s: %w", entry.Name(), err)
		}
		if b.ID == "" {
			return nil, fmt.Errorf("registry: %s: bundle id is required", entry.Name())
		}
		if b.Kind == "" {
			b.Kind = KindIntegration
		}
		bundles = append(bundles, &b)
	}
	return New(bundles)
}

// New builds a Registry from in-memory bundles.
func New(bundles []*Bundle) (*Registry, error) {
	r := &Registry{bundles: make(map[string]*Bundle, len(bundles))}
	for _, b := range bundles {
		if _, ok := r.bundles[b.ID]; ok {
			return nil, fmt.Errorf("registry: duplicate bundle id %q", b.ID)
		}
		r.bundles[b.ID] = b
		r.order = append(r.order, b.ID)
	}
	sort.Strings(r.order)
	return r, nil
}

// List returns all bundles ordered by id.
func (r *Registry) List() []*Bundle {
	out := make([]*Bundle, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.bundles[id])
	}
	return out
}

// Get returns the bundle for the given integration id.
func (r *Registry) Get(id string) (*Bundle, error) {
	b, ok := r.bundles[id]
	if !ok {
		return nil, fmt.Errorf("registry: %q: %w", id, ErrUnknownIntegration)
	}
	return b, nil
}

// Categories returns a mapping from category to sorted integration ids.
func (r *Registry) Categories() map[string][]string {
	out := make(map[string][]string)
	for _, id := range r.order {
		b := r.bundles[id]
		out[b.Category] = append(out[b.Category], id)
	}
	return out
}

// Resolve checks that every id exists in the catalog, returning the first
// unknown id wrapped in ErrUnknownIntegration.
func (r *Registry) Resolve(ids []string) ([]*Bundle, error) {
	out := make([]*Bundle, 0, len(ids))
	for _, id := range ids {
		b, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
