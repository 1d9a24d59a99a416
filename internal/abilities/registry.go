package abilities

import (
	"fmt"
	"strings"
)

// Registry maps stable indices to ability definitions.
type Registry struct {
	abilities []Ability
	byName    map[string]Index
}

// NewRegistry returns a registry holding the built-in abilities.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Index)}
	for _, ability := range Builtins() {
		if _, err := r.Register(ability); err != nil {
			panic(err)
		}
	}
	return r
}

// Register appends an ability and returns its index.
func (r *Registry) Register(ability Ability) (Index, error) {
	name := strings.TrimSpace(ability.Name)
	if name == "" {
		return 0, fmt.Errorf("ability missing name")
	}
	if ability.Execute == nil {
		return 0, fmt.Errorf("ability %q missing execute", name)
	}
	if _, dup := r.byName[name]; dup {
		return 0, fmt.Errorf("duplicate ability %q", name)
	}
	ability.Name = name
	ability.Index = Index(len(r.abilities))
	r.abilities = append(r.abilities, ability)
	r.byName[name] = ability.Index
	return ability.Index, nil
}

// Get returns the ability at idx.
func (r *Registry) Get(idx Index) (*Ability, bool) {
	if r == nil || idx < 0 || int(idx) >= len(r.abilities) {
		return nil, false
	}
	return &r.abilities[idx], true
}

// Lookup resolves a boundary name to its index.
func (r *Registry) Lookup(name string) (Index, bool) {
	if r == nil {
		return 0, false
	}
	idx, ok := r.byName[strings.TrimSpace(name)]
	return idx, ok
}

// Resolve converts ability names into indices, skipping unknown names.
func (r *Registry) Resolve(names []string) ([]int, []string) {
	indices := make([]int, 0, len(names))
	var unknown []string
	for _, name := range names {
		idx, ok := r.Lookup(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		indices = append(indices, int(idx))
	}
	return indices, unknown
}

// Len reports the number of registered abilities.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.abilities)
}
