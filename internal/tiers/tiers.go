// Package tiers maps subscription tiers to the ordered Check Units a scan runs.
package tiers

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"complylaw/internal/checks"
	"complylaw/internal/domain"
)

//go:embed tiers.yaml
var defaultTable []byte

type table struct {
	Tiers []struct {
		Name    string   `yaml:"name"`
		Extends string   `yaml:"extends"`
		Checks  []string `yaml:"checks"`
	} `yaml:"tiers"`
}

// Selector is the immutable tier table. Every tier contains all checks of the tiers
// below it, in the same order, followed by its own.
type Selector struct {
	order []domain.Tier
	units map[domain.Tier][]checks.Unit
}

// Default loads the table compiled into the binary.
func Default(reg *checks.Registry) (*Selector, error) {
	return Load(defaultTable, reg)
}

// Load parses a YAML tier table and resolves it against reg. Tiers are listed lowest
// first and each one after the first must extend its predecessor.
func Load(data []byte, reg *checks.Registry) (*Selector, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse tier table: %w", err)
	}
	if len(t.Tiers) == 0 {
		return nil, fmt.Errorf("tier table has no tiers")
	}

	s := &Selector{units: make(map[domain.Tier][]checks.Unit, len(t.Tiers))}
	var prev []checks.Unit
	for i, def := range t.Tiers {
		name := domain.Tier(def.Name)
		if name == "" {
			return nil, fmt.Errorf("tier %d has no name", i)
		}
		if _, dup := s.units[name]; dup {
			return nil, fmt.Errorf("tier %q defined twice", name)
		}
		switch {
		case i == 0 && def.Extends != "":
			return nil, fmt.Errorf("tier %q: lowest tier cannot extend %q: %w", name, def.Extends, domain.ErrTierOrder)
		case i > 0 && domain.Tier(def.Extends) != s.order[i-1]:
			return nil, fmt.Errorf("tier %q must extend %q: %w", name, s.order[i-1], domain.ErrTierOrder)
		}

		units := append([]checks.Unit(nil), prev...)
		seen := make(map[checks.ID]struct{}, len(units)+len(def.Checks))
		for _, u := range units {
			seen[u.ID] = struct{}{}
		}
		for _, raw := range def.Checks {
			id := checks.ID(raw)
			if _, dup := seen[id]; dup {
				continue
			}
			u, ok := reg.Lookup(id)
			if !ok {
				return nil, fmt.Errorf("tier %q: %q: %w", name, raw, domain.ErrUnknownCheck)
			}
			seen[id] = struct{}{}
			units = append(units, u)
		}

		s.order = append(s.order, name)
		s.units[name] = units
		prev = units
	}
	return s, nil
}

// Select returns the units for tier. Unknown tiers get the lowest tier.
func (s *Selector) Select(tier domain.Tier) []checks.Unit {
	units, ok := s.units[tier]
	if !ok {
		units = s.units[s.order[0]]
	}
	return append([]checks.Unit(nil), units...)
}

func (s *Selector) IDs(tier domain.Tier) []checks.ID {
	units := s.Select(tier)
	ids := make([]checks.ID, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	return ids
}

// Tiers lists tier names lowest first.
func (s *Selector) Tiers() []domain.Tier {
	return append([]domain.Tier(nil), s.order...)
}

// Resolve returns tier when it is known and the lowest tier otherwise.
func (s *Selector) Resolve(tier domain.Tier) domain.Tier {
	if _, ok := s.units[tier]; ok {
		return tier
	}
	return s.order[0]
}
