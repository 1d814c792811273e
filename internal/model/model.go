// Package model holds the declarative application model: resources, their
// endpoints and environment, and the builder used to compose them.
package model

import (
	"errors"
	"sort"

	"hostweave/internal/api"
)

// Model is the set of declared resources.
type Model struct {
	resources []*Resource
	byName    map[string]*Resource
	// single-instance kinds -> name of the registered resource
	singletons map[Kind]string
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{
		byName:     make(map[string]*Resource),
		singletons: make(map[Kind]string),
	}
}

func (m *Model) add(r *Resource) error {
	if _, exists := m.byName[r.name]; exists {
		return ResourceNameConflictError{Name: r.name}
	}
	m.resources = append(m.resources, r)
	m.byName[r.name] = r
	return nil
}

// Add registers a resource.
func (m *Model) Add(r *Resource) error { return m.add(r) }

// AddSingleton registers a resource whose kind allows a single instance per
// application. A second registration of the same kind fails with
// DuplicateResourceError.
func (m *Model) AddSingleton(r *Resource) error {
	if existing, taken := m.singletons[r.kind]; taken {
		return DuplicateResourceError{Kind: r.kind, Existing: existing, Name: r.name}
	}
	if err := m.add(r); err != nil {
		return err
	}
	m.singletons[r.kind] = r.name
	return nil
}

// Resources returns all resources in declaration order.
func (m *Model) Resources() []*Resource {
	return append([]*Resource(nil), m.resources...)
}

// Resource looks up a resource by name.
func (m *Model) Resource(name string) (*Resource, bool) {
	r, ok := m.byName[name]
	return r, ok
}

// Single returns the resource registered for a single-instance kind.
func (m *Model) Single(kind Kind) (*Resource, bool) {
	name, ok := m.singletons[kind]
	if !ok {
		return nil, false
	}
	return m.Resource(name)
}

// Names returns resource names sorted alphabetically.
func (m *Model) Names() []string {
	names := make([]string, 0, len(m.resources))
	for _, r := range m.resources {
		names = append(names, r.name)
	}
	sort.Strings(names)
	return names
}

// Builder composes a Model under a fixed execution mode.
type Builder struct {
	mode     api.ExecutionMode
	model    *Model
	builders []*ResourceBuilder
}

// NewBuilder creates a builder for the given execution mode.
func NewBuilder(mode api.ExecutionMode) *Builder {
	return &Builder{mode: mode, model: NewModel()}
}

// Mode returns the execution mode the builder composes for.
func (b *Builder) Mode() api.ExecutionMode { return b.mode }

// Model returns the model under construction.
func (b *Builder) Model() *Model { return b.model }

// AddResource declares a resource and returns a builder for it.
func (b *Builder) AddResource(r *Resource) (*ResourceBuilder, error) {
	if err := b.model.Add(r); err != nil {
		return nil, err
	}
	return b.track(r), nil
}

// AddSingletonResource declares a resource of a single-instance kind.
func (b *Builder) AddSingletonResource(r *Resource) (*ResourceBuilder, error) {
	if err := b.model.AddSingleton(r); err != nil {
		return nil, err
	}
	return b.track(r), nil
}

func (b *Builder) track(r *Resource) *ResourceBuilder {
	rb := &ResourceBuilder{app: b, resource: r}
	b.builders = append(b.builders, rb)
	return rb
}

// Err returns every declaration error recorded by resource builders.
func (b *Builder) Err() error {
	var errs []error
	for _, rb := range b.builders {
		errs = append(errs, rb.errs...)
	}
	return errors.Join(errs...)
}
