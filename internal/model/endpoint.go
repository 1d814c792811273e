package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// EndpointSpec declares a logical listening point of a resource.
// Port and TargetPort are optional; zero means unset.
type EndpointSpec struct {
	Name       string
	Scheme     string
	Port       int
	TargetPort int
	IsProxied  bool
	IsExternal bool
}

// Endpoint is a declared endpoint of a resource. It is mutable until an
// allocation is recorded.
type Endpoint struct {
	resource   string
	name       string
	scheme     string
	port       int
	targetPort int
	proxied    bool
	external   bool
	allocated  *AllocatedEndpoint
}

func newEndpoint(resource string, spec EndpointSpec) *Endpoint {
	scheme := strings.ToLower(strings.TrimSpace(spec.Scheme))
	return &Endpoint{
		resource:   resource,
		name:       spec.Name,
		scheme:     scheme,
		port:       spec.Port,
		targetPort: spec.TargetPort,
		proxied:    spec.IsProxied,
		external:   spec.IsExternal,
	}
}

func (e *Endpoint) Resource() string { return e.resource }
func (e *Endpoint) Name() string     { return e.name }

// Scheme returns the requested URI scheme; empty means the host default.
func (e *Endpoint) Scheme() string { return e.scheme }

// Port returns the requested fixed port, if any.
func (e *Endpoint) Port() (int, bool) { return e.port, e.port > 0 }

// TargetPort returns the port the workload itself listens on, if any.
func (e *Endpoint) TargetPort() (int, bool) { return e.targetPort, e.targetPort > 0 }

func (e *Endpoint) IsProxied() bool  { return e.proxied }
func (e *Endpoint) IsExternal() bool { return e.external }

// SetProxied toggles the proxy flag. It fails once the endpoint is allocated.
func (e *Endpoint) SetProxied(proxied bool) error {
	if e.allocated != nil {
		return fmt.Errorf("endpoint %s/%s: %w", e.resource, e.name, ErrAlreadyAllocated)
	}
	e.proxied = proxied
	return nil
}

// SetScheme sets the URI scheme. It fails once the endpoint is allocated.
func (e *Endpoint) SetScheme(scheme string) error {
	if e.allocated != nil {
		return fmt.Errorf("endpoint %s/%s: %w", e.resource, e.name, ErrAlreadyAllocated)
	}
	e.scheme = strings.ToLower(strings.TrimSpace(scheme))
	return nil
}

// Allocated returns the recorded allocation.
func (e *Endpoint) Allocated() (*AllocatedEndpoint, bool) {
	return e.allocated, e.allocated != nil
}

// Allocate records the concrete address the endpoint resolved to. It may be
// called exactly once.
func (e *Endpoint) Allocate(host string, port int) (*AllocatedEndpoint, error) {
	if e.allocated != nil {
		return nil, fmt.Errorf("endpoint %s/%s: %w", e.resource, e.name, ErrAlreadyAllocated)
	}
	if host == "" || port <= 0 {
		return nil, fmt.Errorf("endpoint %s/%s: invalid allocation %s:%d", e.resource, e.name, host, port)
	}
	e.allocated = &AllocatedEndpoint{Endpoint: e, Host: host, Port: port}
	return e.allocated, nil
}

// URL returns the allocated URL or ErrNotAllocated.
func (e *Endpoint) URL() (string, error) {
	if e.allocated == nil {
		return "", fmt.Errorf("endpoint %s/%s: %w", e.resource, e.name, ErrNotAllocated)
	}
	return e.allocated.URL(), nil
}

// AllocatedEndpoint is the concrete host and port a logical endpoint
// resolved to. Endpoint is a back-reference, not ownership.
type AllocatedEndpoint struct {
	Endpoint *Endpoint
	Host     string
	Port     int
}

// HostPort returns host:port with IPv6 literals bracketed.
func (a *AllocatedEndpoint) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// URL returns scheme://host:port.
func (a *AllocatedEndpoint) URL() string {
	scheme := "http"
	if a.Endpoint != nil && a.Endpoint.scheme != "" {
		scheme = a.Endpoint.scheme
	}
	return scheme + "://" + a.HostPort()
}
