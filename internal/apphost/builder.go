// Package apphost composes resources into a runnable application: it owns
// the event bus, the state notifier, per-resource loggers and the lifecycle
// sequencer, and assigns endpoints for resources it does not host itself.
package apphost

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"hostweave/internal/api"
	"hostweave/internal/events"
	"hostweave/internal/health"
	"hostweave/internal/model"
	"hostweave/internal/notify"
	"hostweave/internal/runtime/lifecycle"
	"hostweave/internal/webhost"
)

// KindExternal marks a service that runs outside the application.
const KindExternal model.Kind = "external"

// Options configures a Builder.
type Options struct {
	Mode api.ExecutionMode
	// LogOutput receives resource log lines; stderr when nil.
	LogOutput io.Writer
	// Ports bounds orchestrator-assigned endpoint ports.
	Ports PortRange
	// DefaultScheme is handed to in-process hosts for endpoints without a
	// scheme.
	DefaultScheme string
}

// Builder declares the resources of an application.
type Builder struct {
	*model.Builder

	Bus       *events.Bus
	Notifier  *notify.Service
	Loggers   *notify.LoggerService
	Lifecycle *lifecycle.Sequencer
	Health    *health.Tracker

	opts      Options
	observed  []string
	externals map[string]*url.URL
}

// NewBuilder creates a builder with its own bus and notifier.
func NewBuilder(opts Options) *Builder {
	if opts.Mode == api.ModeUnknown {
		opts.Mode = api.ModeRun
	}
	if opts.Ports == (PortRange{}) {
		opts.Ports = DefaultPortRange
	}
	bus := events.NewBus()
	return &Builder{
		Builder:   model.NewBuilder(opts.Mode),
		Bus:       bus,
		Notifier:  notify.NewService(bus),
		Loggers:   notify.NewLoggerService(opts.LogOutput, bus),
		Lifecycle: lifecycle.New(),
		Health:    health.NewTracker(),
		opts:      opts,
		externals: make(map[string]*url.URL),
	}
}

// AddHostedResource declares a single-instance resource served by an
// embedded host inside this process and registers its runner with the
// lifecycle. Kind, mode, notifier and loggers in opts are filled in.
func (b *Builder) AddHostedResource(r *model.Resource, opts webhost.Options) (*model.ResourceBuilder, *webhost.Runner, error) {
	rb, err := b.AddSingletonResource(r)
	if err != nil {
		return nil, nil, err
	}
	r.MarkInProcess()

	opts.Kind = r.Kind()
	opts.Mode = b.Mode()
	opts.Notifier = b.Notifier
	opts.Loggers = b.Loggers
	if opts.DefaultScheme == "" {
		opts.DefaultScheme = b.opts.DefaultScheme
	}
	runner, err := webhost.NewRunner(opts)
	if err != nil {
		return nil, nil, err
	}
	b.Lifecycle.Register(runner)
	b.observed = append(b.observed, r.Name())
	return rb, runner, nil
}

// AddExternal declares a service reachable at rawURL. It gets one external
// endpoint named after the URL scheme and reports Running as soon as the
// application starts.
func (b *Builder) AddExternal(name, rawURL string) (*model.ResourceBuilder, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("external %s: invalid url %q", name, rawURL)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("external %s: unsupported scheme %q", name, u.Scheme)
	}
	port, err := portOf(u)
	if err != nil {
		return nil, fmt.Errorf("external %s: %w", name, err)
	}

	rb, err := b.AddResource(model.NewResource(name, KindExternal))
	if err != nil {
		return nil, err
	}
	rb.WithEndpointSpec(model.EndpointSpec{Name: scheme, Scheme: scheme, Port: port, IsExternal: true})
	b.externals[name] = u
	b.observed = append(b.observed, name)
	return rb, nil
}

func portOf(u *url.URL) (int, error) {
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return 0, fmt.Errorf("invalid port %q", p)
		}
		return port, nil
	}
	if strings.EqualFold(u.Scheme, "https") {
		return 443, nil
	}
	return 80, nil
}

// Build validates the declarations and returns the application.
func (b *Builder) Build() (*Application, error) {
	if err := b.Err(); err != nil {
		return nil, fmt.Errorf("invalid application model: %w", err)
	}
	externals := make(map[string]string, len(b.externals))
	for name, u := range b.externals {
		externals[name] = u.Hostname()
	}
	return &Application{
		builder:   b,
		allocator: NewPortAllocator(b.opts.Ports),
		observed:  append([]string(nil), b.observed...),
		externals: externals,
	}, nil
}
