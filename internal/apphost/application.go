package apphost

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"hostweave/internal/api"
	"hostweave/internal/events"
	"hostweave/internal/health"
	"hostweave/internal/model"
	"hostweave/internal/notify"
)

// ResourceTypeExternal is the type label published for external services.
const ResourceTypeExternal = "External"

var (
	// ErrUnknownResource is returned for names not declared in the model.
	ErrUnknownResource = errors.New("apphost: unknown resource")
	// ErrResourceFailed is returned when a waited-on resource fails to start.
	ErrResourceFailed = errors.New("apphost: resource failed to start")
	// ErrUnknownEndpoint is returned for endpoint names a resource does not declare.
	ErrUnknownEndpoint = errors.New("apphost: unknown endpoint")
)

// Application is a built application model ready to start.
type Application struct {
	builder   *Builder
	allocator *PortAllocator
	observed  []string
	externals map[string]string

	mu       sync.Mutex
	started  bool
	stopped  bool
	assigned []int
	cancel   context.CancelFunc
	done     chan struct{}
}

func (a *Application) Model() *model.Model { return a.builder.Model() }
func (a *Application) Mode() api.ExecutionMode { return a.builder.Mode() }
func (a *Application) Notifier() *notify.Service { return a.builder.Notifier }
func (a *Application) Health() *health.Tracker { return a.builder.Health }
func (a *Application) Bus() *events.Bus { return a.builder.Bus }
func (a *Application) Loggers() *notify.LoggerService { return a.builder.Loggers }

// Observed returns the names of resources that publish lifecycle state.
func (a *Application) Observed() []string { return append([]string(nil), a.observed...) }

// Start runs the lifecycle: before-start hooks, endpoint allocation for
// resources not hosted in-process, then after-allocation hooks. On error the
// caller should Stop the application to dispose what was started.
func (a *Application) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("apphost: already started")
	}
	a.started = true
	obsCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	updates := a.builder.Notifier.Watch(64)
	go func() {
		defer close(a.done)
		a.builder.Health.Observe(obsCtx, updates)
	}()

	log.Printf("INFO: starting application in %s mode (%d resources)", a.Mode(), len(a.Model().Resources()))
	err := a.builder.Lifecycle.Start(ctx, a.Model(), a.allocate)
	for _, snap := range a.builder.Notifier.Snapshots() {
		a.builder.Health.Record(snap)
	}
	if err != nil {
		log.Printf("WARN: application start failed: %v", err)
		return err
	}
	log.Printf("INFO: application started")
	return nil
}

// allocate assigns endpoints the orchestrator owns: fixed ports on the
// loopback host, external endpoints from their URL, everything else from the
// port range. In-process resources are skipped; their host allocates.
func (a *Application) allocate(ctx context.Context, m *model.Model) error {
	if a.Mode().IsPublish() {
		return nil
	}
	resources := m.Resources()
	for _, r := range resources {
		if r.InProcess() {
			continue
		}
		for _, ep := range r.Endpoints() {
			if port, fixed := ep.Port(); fixed && !ep.IsExternal() {
				if err := a.allocator.Reserve(port); err != nil {
					return fmt.Errorf("resource %s endpoint %s: %w", r.Name(), ep.Name(), err)
				}
			}
		}
	}

	for _, r := range resources {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.InProcess() {
			continue
		}
		for _, ep := range r.Endpoints() {
			if _, done := ep.Allocated(); done {
				continue
			}
			host := "localhost"
			port, fixed := ep.Port()
			if ext, ok := a.externals[r.Name()]; ok && ep.IsExternal() {
				host = ext
			} else if !fixed {
				p, err := a.allocator.Allocate()
				if err != nil {
					return fmt.Errorf("resource %s endpoint %s: %w", r.Name(), ep.Name(), err)
				}
				port = p
				a.mu.Lock()
				a.assigned = append(a.assigned, p)
				a.mu.Unlock()
			}
			if ep.Scheme() == "" {
				if err := ep.SetScheme("http"); err != nil {
					return err
				}
			}
			if _, err := ep.Allocate(host, port); err != nil {
				return err
			}
		}
		if r.Kind() == KindExternal {
			a.publishRunning(r)
		}
	}
	return nil
}

func (a *Application) publishRunning(r *model.Resource) {
	urls := make([]api.URLSnapshot, 0, len(r.Endpoints()))
	for _, ep := range r.Endpoints() {
		u, err := ep.URL()
		if err != nil {
			continue
		}
		urls = append(urls, api.URLSnapshot{Name: ep.Name(), URL: u})
	}
	a.builder.Notifier.PublishUpdate(r, func(s api.ResourceSnapshot) api.ResourceSnapshot {
		s.ResourceType = ResourceTypeExternal
		s.State = api.StateRunning
		s.URLs = urls
		return s
	})
}

// Stop disposes every lifecycle hook in reverse order. It is safe to call
// more than once and after a failed Start.
func (a *Application) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	cancel, done := a.cancel, a.done
	assigned := a.assigned
	a.assigned = nil
	a.mu.Unlock()

	err := a.builder.Lifecycle.Close(ctx)
	for _, name := range a.observed {
		r, ok := a.Model().Resource(name)
		if !ok || r.Kind() != KindExternal {
			continue
		}
		if snap, ok := a.builder.Notifier.Snapshot(name); ok && snap.State == api.StateRunning {
			a.builder.Notifier.PublishUpdate(r, func(s api.ResourceSnapshot) api.ResourceSnapshot {
				s.State = api.StateFinished
				return s
			})
		}
	}
	for _, p := range assigned {
		a.allocator.Release(p)
	}
	if cancel != nil {
		cancel()
		<-done
	}
	a.builder.Bus.Close()
	if err != nil {
		log.Printf("WARN: application stop: %v", err)
		return err
	}
	log.Printf("INFO: application stopped")
	return nil
}

// URL returns the allocated URL of a resource endpoint.
func (a *Application) URL(resource, endpoint string) (string, error) {
	r, ok := a.Model().Resource(resource)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}
	ep, ok := r.Endpoint(endpoint)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownEndpoint, resource, endpoint)
	}
	return ep.URL()
}

// WaitForResource blocks until the resource is Running. A resource that
// fails to start yields ErrResourceFailed.
func (a *Application) WaitForResource(ctx context.Context, name string) (api.ResourceSnapshot, error) {
	if _, ok := a.Model().Resource(name); !ok {
		return api.ResourceSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	snap, err := a.builder.Notifier.WaitForState(ctx, name, api.StateRunning, api.StateFailedToStart)
	if err != nil {
		return snap, err
	}
	if snap.State == api.StateFailedToStart {
		return snap, fmt.Errorf("%w: %s", ErrResourceFailed, name)
	}
	return snap, nil
}

// WaitForAll waits for every state-publishing resource to be Running.
func (a *Application) WaitForAll(ctx context.Context) error {
	for _, name := range a.observed {
		if _, err := a.WaitForResource(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
