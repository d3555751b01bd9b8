// Package competitor holds the set of tracked competitors.
package competitor

import (
	"fmt"
	"strings"

	"github.com/calvin1011/watchtower/internal/intel"
)

// Defaults is the tracked set used when configuration does not override it.
func Defaults() []intel.Competitor {
	return []intel.Competitor{
		{
			Name:       "AppFolio",
			Slug:       "appfolio",
			BlogURL:    "https://www.appfolio.com/blog",
			WebsiteURL: "https://www.appfolio.com",
		},
		{
			Name:       "Buildium",
			Slug:       "buildium",
			BlogURL:    "https://www.buildium.com/blog/",
			WebsiteURL: "https://www.buildium.com",
		},
		{
			Name:       "SmartRent",
			Slug:       "smartrent",
			BlogURL:    "https://smartrent.com/blog/",
			WebsiteURL: "https://smartrent.com",
		},
		{
			Name:       "Entrata",
			Slug:       "entrata",
			BlogURL:    "https://www.entrata.com/blog",
			WebsiteURL: "https://www.entrata.com",
		},
	}
}

// Registry resolves competitors by name or slug.
type Registry struct {
	all    []intel.Competitor
	byName map[string]int
	bySlug map[string]int
}

// NewRegistry validates the list and indexes it. Missing slugs are derived
// from the name.
func NewRegistry(list []intel.Competitor) (*Registry, error) {
	r := &Registry{
		all:    make([]intel.Competitor, 0, len(list)),
		byName: make(map[string]int, len(list)),
		bySlug: make(map[string]int, len(list)),
	}
	for _, c := range list {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			return nil, fmt.Errorf("competitor name is required")
		}
		if c.Slug == "" {
			c.Slug = Slugify(c.Name)
		}
		nameKey := strings.ToLower(c.Name)
		if _, dup := r.byName[nameKey]; dup {
			return nil, fmt.Errorf("duplicate competitor %q", c.Name)
		}
		if _, dup := r.bySlug[c.Slug]; dup {
			return nil, fmt.Errorf("duplicate competitor slug %q", c.Slug)
		}
		r.byName[nameKey] = len(r.all)
		r.bySlug[c.Slug] = len(r.all)
		r.all = append(r.all, c)
	}
	return r, nil
}

// All returns a copy of the tracked competitors in configuration order.
func (r *Registry) All() []intel.Competitor {
	out := make([]intel.Competitor, len(r.all))
	copy(out, r.all)
	return out
}

// Names returns the canonical competitor names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.all))
	for _, c := range r.all {
		names = append(names, c.Name)
	}
	return names
}

// Lookup finds a competitor by case-insensitive name, falling back to slug.
func (r *Registry) Lookup(name string) (intel.Competitor, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if idx, ok := r.byName[key]; ok {
		return r.all[idx], true
	}
	if idx, ok := r.bySlug[key]; ok {
		return r.all[idx], true
	}
	return intel.Competitor{}, false
}

// Slugify lower-cases name and joins alphanumeric runs with dashes.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
