package model

import (
	"github.com/google/uuid"

	"hostweave/internal/environment"
)

// Kind identifies a resource type, e.g. "ingress" or "external".
type Kind string

// Resource is an orchestrated entity with endpoints and environment.
type Resource struct {
	name                string
	kind                Kind
	uid                 string
	endpoints           []*Endpoint
	environment         []environment.Producer
	excludeFromManifest bool
	inProcess           bool
}

// NewResource constructs a resource with a fresh UID.
func NewResource(name string, kind Kind) *Resource {
	return &Resource{name: name, kind: kind, uid: uuid.NewString()}
}

func (r *Resource) Name() string { return r.name }
func (r *Resource) Kind() Kind   { return r.kind }
func (r *Resource) UID() string  { return r.uid }

// AddEndpoint declares a new endpoint. Names are unique per resource.
func (r *Resource) AddEndpoint(spec EndpointSpec) (*Endpoint, error) {
	if _, exists := r.Endpoint(spec.Name); exists {
		return nil, EndpointConflictError{Resource: r.name, Endpoint: spec.Name}
	}
	ep := newEndpoint(r.name, spec)
	r.endpoints = append(r.endpoints, ep)
	return ep, nil
}

// Endpoint looks up a declared endpoint by name.
func (r *Resource) Endpoint(name string) (*Endpoint, bool) {
	for _, ep := range r.endpoints {
		if ep.name == name {
			return ep, true
		}
	}
	return nil, false
}

// Endpoints returns the declared endpoints in declaration order.
func (r *Resource) Endpoints() []*Endpoint {
	return append([]*Endpoint(nil), r.endpoints...)
}

// AddEnvironment appends an environment producer.
func (r *Resource) AddEnvironment(p environment.Producer) {
	r.environment = append(r.environment, p)
}

// Environment returns the producers in declaration order.
func (r *Resource) Environment() []environment.Producer {
	return append([]environment.Producer(nil), r.environment...)
}

func (r *Resource) ExcludedFromManifest() bool { return r.excludeFromManifest }

// InProcess reports whether the resource is hosted inside this process.
// Endpoint allocation for in-process resources is left to their host.
func (r *Resource) InProcess() bool { return r.inProcess }

// MarkInProcess flags the resource as hosted inside this process.
func (r *Resource) MarkInProcess() { r.inProcess = true }
