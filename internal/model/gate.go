package model

import (
	"context"
	"errors"
	"fmt"

	"hostweave/internal/api"
	"hostweave/internal/environment"
)

// ResourceBuilder is the fluent declaration API for one resource. Declaration
// errors are recorded and surfaced through Err and Builder.Err.
type ResourceBuilder struct {
	app      *Builder
	resource *Resource
	errs     []error
}

// Resource returns the resource under construction.
func (rb *ResourceBuilder) Resource() *Resource { return rb.resource }

// Mode returns the application's execution mode.
func (rb *ResourceBuilder) Mode() api.ExecutionMode { return rb.app.mode }

// Err returns the declaration errors recorded so far.
func (rb *ResourceBuilder) Err() error { return errors.Join(rb.errs...) }

// RecordError adds a declaration error, e.g. from a specialized builder.
func (rb *ResourceBuilder) RecordError(err error) *ResourceBuilder {
	if err == nil {
		return rb
	}
	return rb.fail(err)
}

func (rb *ResourceBuilder) fail(err error) *ResourceBuilder {
	rb.errs = append(rb.errs, err)
	return rb
}

// WithEndpointSpec declares an endpoint from a full spec.
func (rb *ResourceBuilder) WithEndpointSpec(spec EndpointSpec) *ResourceBuilder {
	if spec.Name == "" {
		spec.Name = spec.Scheme
	}
	if spec.Name == "" {
		return rb.fail(fmt.Errorf("resource %s: endpoint requires a name or scheme", rb.resource.name))
	}
	if _, err := rb.resource.AddEndpoint(spec); err != nil {
		return rb.fail(err)
	}
	return rb
}

// WithEndpoint declares a proxied endpoint. The name defaults to the scheme;
// port 0 leaves the port to be assigned at start.
func (rb *ResourceBuilder) WithEndpoint(name, scheme string, port int) *ResourceBuilder {
	return rb.WithEndpointSpec(EndpointSpec{Name: name, Scheme: scheme, Port: port, IsProxied: true})
}

func (rb *ResourceBuilder) WithHTTPEndpoint(port int) *ResourceBuilder {
	return rb.WithEndpoint("http", "http", port)
}

func (rb *ResourceBuilder) WithHTTPSEndpoint(port int) *ResourceBuilder {
	return rb.WithEndpoint("https", "https", port)
}

// WithEnvironment sets a literal environment variable.
func (rb *ResourceBuilder) WithEnvironment(name, value string) *ResourceBuilder {
	rb.resource.AddEnvironment(environment.String(name, value))
	return rb
}

// WithEnvironmentValue sets an environment variable to a literal or deferred value.
func (rb *ResourceBuilder) WithEnvironmentValue(name string, v environment.Value) *ResourceBuilder {
	rb.resource.AddEnvironment(environment.Var(name, v))
	return rb
}

// WithEnvironmentCallback registers a callback run when the environment is
// materialized.
func (rb *ResourceBuilder) WithEnvironmentCallback(fn func(ctx context.Context, c *environment.CallbackContext) error) *ResourceBuilder {
	rb.resource.AddEnvironment(environment.Callback(fn))
	return rb
}

// WithReference injects service discovery variables for every endpoint of
// target, in the form services__{target}__{endpoint}__0={url}. Values are
// resolved from the target's allocations when the environment is materialized.
func (rb *ResourceBuilder) WithReference(target *Resource) *ResourceBuilder {
	if target == nil {
		return rb.fail(fmt.Errorf("resource %s: reference target is nil", rb.resource.name))
	}
	rb.resource.AddEnvironment(environment.Callback(func(ctx context.Context, c *environment.CallbackContext) error {
		for _, ep := range target.Endpoints() {
			name := fmt.Sprintf("services__%s__%s__0", target.name, ep.name)
			c.Set(name, environment.Deferred(func(ctx context.Context) (string, error) {
				return ep.URL()
			}))
		}
		return nil
	}))
	return rb
}

// ExcludeFromManifest keeps the resource out of publish output.
func (rb *ResourceBuilder) ExcludeFromManifest() *ResourceBuilder {
	rb.resource.excludeFromManifest = true
	return rb
}

// When applies fn only if the application runs in mode. Otherwise the
// resource is left untouched. The same builder is returned either way.
func (rb *ResourceBuilder) When(mode api.ExecutionMode, fn func(*ResourceBuilder)) *ResourceBuilder {
	if fn != nil && rb.app.mode == mode {
		fn(rb)
	}
	return rb
}

// RunWith applies fn only in run mode.
func (rb *ResourceBuilder) RunWith(fn func(*ResourceBuilder)) *ResourceBuilder {
	return rb.When(api.ModeRun, fn)
}

// PublishWith applies fn only in publish mode.
func (rb *ResourceBuilder) PublishWith(fn func(*ResourceBuilder)) *ResourceBuilder {
	return rb.When(api.ModePublish, fn)
}

func (rb *ResourceBuilder) RunWithEndpoint(name, scheme string, port int) *ResourceBuilder {
	return rb.RunWith(func(b *ResourceBuilder) { b.WithEndpoint(name, scheme, port) })
}

func (rb *ResourceBuilder) RunWithEnvironment(name, value string) *ResourceBuilder {
	return rb.RunWith(func(b *ResourceBuilder) { b.WithEnvironment(name, value) })
}

func (rb *ResourceBuilder) PublishWithEnvironment(name, value string) *ResourceBuilder {
	return rb.PublishWith(func(b *ResourceBuilder) { b.WithEnvironment(name, value) })
}

func (rb *ResourceBuilder) RunWithReference(target *Resource) *ResourceBuilder {
	return rb.RunWith(func(b *ResourceBuilder) { b.WithReference(target) })
}

func (rb *ResourceBuilder) PublishWithReference(target *Resource) *ResourceBuilder {
	return rb.PublishWith(func(b *ResourceBuilder) { b.WithReference(target) })
}
