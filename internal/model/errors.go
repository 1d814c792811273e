package model

import (
	"errors"
	"fmt"
)

// ErrAlreadyAllocated is returned when an endpoint is allocated twice.
var ErrAlreadyAllocated = errors.New("endpoint already allocated")

// ErrNotAllocated is returned when an endpoint URL is requested before the
// endpoint has an allocation.
var ErrNotAllocated = errors.New("endpoint not allocated")

// DuplicateResourceError means a second resource of a single-instance kind
// was registered.
type DuplicateResourceError struct {
	Kind     Kind
	Existing string
	Name     string
}

func (e DuplicateResourceError) Error() string {
	return fmt.Sprintf("a resource of kind %q has already been added to this application (existing=%q new=%q)",
		e.Kind, e.Existing, e.Name)
}

// ResourceNameConflictError means two resources share a name.
type ResourceNameConflictError struct {
	Name string
}

func (e ResourceNameConflictError) Error() string {
	return fmt.Sprintf("resource %q is already declared", e.Name)
}

// EndpointConflictError means two endpoints share a name on one resource.
type EndpointConflictError struct {
	Resource string
	Endpoint string
}

func (e EndpointConflictError) Error() string {
	return fmt.Sprintf("endpoint %q already exists on resource %q", e.Endpoint, e.Resource)
}
