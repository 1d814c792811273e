// Package ingress is a reverse proxy hosted in-process as an application
// resource. Routes and clusters come from code, from configuration, or both;
// destinations are resolved through service-discovery configuration injected
// by resource references.
package ingress

import (
	"context"
	"fmt"
	"sync"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"hostweave/internal/apphost"
	"hostweave/internal/model"
	"hostweave/internal/webhost"
)

// Kind is the single-instance resource kind of the ingress.
const Kind model.Kind = "ingress"

// ResourceType is the label published in state snapshots.
const ResourceType = "Ingress"

// ConfigCompression enables gzip responses when true.
const ConfigCompression = "ingress:compression"

// Builder declares the ingress resource.
type Builder struct {
	*model.ResourceBuilder
	ingress *Ingress
}

// Add declares the application's ingress. Only one ingress may be added; it
// is excluded from the deployment manifest.
func Add(b *apphost.Builder, name string) (*Builder, error) {
	ing := newIngress()
	rb, runner, err := b.AddHostedResource(model.NewResource(name, Kind), webhost.Options{
		ResourceType: ResourceType,
		Strategy:     ing,
	})
	if err != nil {
		return nil, err
	}
	rb.ExcludeFromManifest()
	ing.runner = runner
	return &Builder{ResourceBuilder: rb, ingress: ing}, nil
}

// Ingress returns the host strategy backing this resource.
func (b *Builder) Ingress() *Ingress { return b.ingress }

// WithRoute adds a route. RouteID is required and replaces an earlier route
// with the same ID.
func (b *Builder) WithRoute(r RouteConfig) *Builder {
	if r.RouteID == "" {
		b.RecordError(fmt.Errorf("ingress %s: route requires a RouteID", b.Resource().Name()))
		return b
	}
	b.ingress.mu.Lock()
	b.ingress.memory.Routes[r.RouteID] = r
	b.ingress.mu.Unlock()
	return b
}

// WithCluster adds a cluster. ClusterID is required and replaces an earlier
// cluster with the same ID.
func (b *Builder) WithCluster(c ClusterConfig) *Builder {
	if c.ClusterID == "" {
		b.RecordError(fmt.Errorf("ingress %s: cluster requires a ClusterID", b.Resource().Name()))
		return b
	}
	b.ingress.mu.Lock()
	b.ingress.memory.Clusters[c.ClusterID] = c
	b.ingress.mu.Unlock()
	return b
}

// LoadFromConfiguration reads additional routes and clusters from section
// of the materialized environment, e.g. "ReverseProxy" for variables like
// ReverseProxy__Routes__app1__Match__Path.
func (b *Builder) LoadFromConfiguration(section string) *Builder {
	b.ingress.mu.Lock()
	b.ingress.section = section
	b.ingress.mu.Unlock()
	return b
}

// Ingress configures the embedded host as a reverse proxy.
type Ingress struct {
	runner *webhost.Runner

	mu      sync.Mutex
	memory  Config
	section string
	proxy   *Proxy
}

func newIngress() *Ingress {
	return &Ingress{memory: Config{
		Routes:   make(map[string]RouteConfig),
		Clusters: make(map[string]ClusterConfig),
	}}
}

// Runner returns the runner hosting the ingress.
func (i *Ingress) Runner() *webhost.Runner { return i.runner }

// Proxy returns the proxy built at start, or nil.
func (i *Ingress) Proxy() *Proxy {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.proxy
}

// ConfigureBuilder assembles the routing table and the proxy.
func (i *Ingress) ConfigureBuilder(ctx context.Context, b *webhost.Builder, r *model.Resource) error {
	i.mu.Lock()
	cfg := i.memory.Merge(Config{})
	section := i.section
	i.mu.Unlock()

	if section != "" {
		loaded, err := LoadConfig(b.Config, section)
		if err != nil {
			return err
		}
		cfg = cfg.Merge(loaded)
	}

	proxy, err := NewProxy(cfg, NewResolver(b.Config), b.Logger)
	if err != nil {
		return fmt.Errorf("ingress %s: %w", r.Name(), err)
	}
	b.Logger.Printf("INFO: proxy configured with %d routes and %d clusters", len(cfg.Routes), len(cfg.Clusters))

	if b.Config.GetBool(ConfigCompression) {
		b.Use(gzip.Gzip(gzip.DefaultCompression))
	}

	i.mu.Lock()
	i.proxy = proxy
	i.mu.Unlock()
	return nil
}

// ConfigureApplication mounts the proxy behind every path the engine does
// not otherwise route.
func (i *Ingress) ConfigureApplication(ctx context.Context, app *webhost.App, r *model.Resource) error {
	proxy := i.Proxy()
	if proxy == nil {
		return fmt.Errorf("ingress %s: proxy not configured", r.Name())
	}
	app.Engine.NoRoute(gin.WrapH(proxy))
	return nil
}
