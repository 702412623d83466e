// Package actions gates, stages and confirms catalog actions.
package actions

import (
	"fmt"

	"maritime-query-engine/internal/common/validation"
	"maritime-query-engine/internal/models"
	"maritime-query-engine/pkg/registry"
)

// Registry is the immutable set of action definitions with their compiled
// payload schemas. It is safe for concurrent use.
type Registry struct {
	defs     map[string]*models.ActionDefinition
	order    []string
	position map[string]int
	schemas  map[string]*validation.Schema
	version  string
}

// LoadRegistry loads the catalog at path (empty selects the embedded one)
// and builds the registry from it.
func LoadRegistry(path string) (*Registry, error) {
	cat, err := registry.LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	r, err := NewRegistry(cat.Definitions())
	if err != nil {
		return nil, err
	}
	r.version = cat.Version
	return r, nil
}

func NewRegistry(defs []*models.ActionDefinition) (*Registry, error) {
	r := &Registry{
		defs:     make(map[string]*models.ActionDefinition, len(defs)),
		position: make(map[string]int, len(defs)),
		schemas:  make(map[string]*validation.Schema, len(defs)),
	}
	for i, d := range defs {
		if _, dup := r.defs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate action %q", d.ID)
		}
		schema, err := validation.Compile(d.PayloadSchema)
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", d.ID, err)
		}
		r.defs[d.ID] = d
		r.order = append(r.order, d.ID)
		r.position[d.ID] = i
		r.schemas[d.ID] = schema
	}
	return r, nil
}

func (r *Registry) Get(id string) (*models.ActionDefinition, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// Position is the catalog index of id, used as the final routing
// tie-break. Unknown ids sort last.
func (r *Registry) Position(id string) int {
	if p, ok := r.position[id]; ok {
		return p
	}
	return len(r.order)
}

// IDs returns the action ids in catalog order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Version() string {
	return r.version
}

func (r *Registry) schema(id string) *validation.Schema {
	return r.schemas[id]
}
