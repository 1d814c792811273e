package webhost

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"hostweave/internal/api"
	"hostweave/internal/environment"
	"hostweave/internal/model"
	"hostweave/internal/notify"
)

// DefaultURLsEnv may list listen URLs; an https entry makes https the default
// scheme for endpoints that do not name one.
const DefaultURLsEnv = "HOSTWEAVE_URLS"

// DefaultEndpointName is the endpoint synthesized when none is declared.
const DefaultEndpointName = "default"

var (
	// ErrNotRunning is returned by URL before the host reaches Running.
	ErrNotRunning = errors.New("webhost: resource is not running")
	// ErrUnknownEndpoint is returned by URL for an undeclared endpoint name.
	ErrUnknownEndpoint = errors.New("webhost: unknown endpoint")
)

// Strategy specializes an in-process host, e.g. by registering reverse-proxy
// routing on the builder and mounting handlers on the application.
type Strategy interface {
	ConfigureBuilder(ctx context.Context, b *Builder, r *model.Resource) error
	ConfigureApplication(ctx context.Context, app *App, r *model.Resource) error
}

// StrategyFuncs adapts two optional callbacks into a Strategy.
type StrategyFuncs struct {
	Builder     func(ctx context.Context, b *Builder, r *model.Resource) error
	Application func(ctx context.Context, app *App, r *model.Resource) error
}

func (s StrategyFuncs) ConfigureBuilder(ctx context.Context, b *Builder, r *model.Resource) error {
	if s.Builder == nil {
		return nil
	}
	return s.Builder(ctx, b, r)
}

func (s StrategyFuncs) ConfigureApplication(ctx context.Context, app *App, r *model.Resource) error {
	if s.Application == nil {
		return nil
	}
	return s.Application(ctx, app, r)
}

// State is the runner's lifecycle state.
type State int

const (
	StateUnstarted State = iota
	StateStarting
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Options configures a Runner.
type Options struct {
	// Kind selects the single resource this runner hosts.
	Kind model.Kind
	// ResourceType is the label published in snapshots.
	ResourceType string
	Mode         api.ExecutionMode
	Notifier     *notify.Service
	Loggers      *notify.LoggerService
	Strategy     Strategy
	// DefaultScheme applies to endpoints without a scheme. When empty it is
	// derived from HOSTWEAVE_URLS.
	DefaultScheme string
}

// Runner owns the lifecycle of one in-process host resource. It implements
// the lifecycle hook contract.
type Runner struct {
	opts Options

	mu       sync.Mutex
	state    State
	resource *model.Resource
	app      *App
}

// NewRunner validates opts and returns an unstarted runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Kind == "" {
		return nil, errors.New("webhost: runner requires a resource kind")
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewService(nil)
	}
	if opts.Loggers == nil {
		opts.Loggers = notify.NewLoggerService(nil, nil)
	}
	if opts.Strategy == nil {
		opts.Strategy = StrategyFuncs{}
	}
	if opts.ResourceType == "" {
		opts.ResourceType = string(opts.Kind)
	}
	return &Runner{opts: opts}, nil
}

func (r *Runner) Name() string { return "webhost/" + string(r.opts.Kind) }

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// App returns the embedded host once built.
func (r *Runner) App() *App {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.app
}

// BeforeStart publishes "Starting" and turns off proxying for every endpoint
// of the hosted resource: the embedded server is itself the listener.
func (r *Runner) BeforeStart(ctx context.Context, m *model.Model) error {
	if r.opts.Mode.IsPublish() {
		return nil
	}
	res, ok := m.Single(r.opts.Kind)
	if !ok {
		return nil
	}

	r.mu.Lock()
	if r.state != StateUnstarted {
		r.mu.Unlock()
		return fmt.Errorf("%s: before start called in state %s", r.Name(), r.state)
	}
	for _, ep := range res.Endpoints() {
		if err := ep.SetProxied(false); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	r.resource = res
	r.state = StateStarting
	r.mu.Unlock()

	r.opts.Notifier.PublishUpdate(res, func(s api.ResourceSnapshot) api.ResourceSnapshot {
		s.ResourceType = r.opts.ResourceType
		s.State = api.StateStarting
		return s
	})
	return nil
}

// AfterEndpointsAllocated builds, starts and reconciles the embedded host.
// Errors are returned unchanged; a partially built host stays attached so
// Close can dispose it.
func (r *Runner) AfterEndpointsAllocated(ctx context.Context, m *model.Model) error {
	if r.opts.Mode.IsPublish() {
		return nil
	}
	if _, ok := m.Single(r.opts.Kind); !ok {
		return nil
	}

	r.mu.Lock()
	if r.state != StateStarting {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%s: after endpoints allocated called in state %s", r.Name(), state)
	}
	res := r.resource
	r.mu.Unlock()

	logger := r.opts.Loggers.Logger(res.Name())
	urls, err := r.start(ctx, res, logger)
	if err != nil {
		logger.Printf("WARN: failed to start: %v", err)
		r.opts.Notifier.PublishUpdate(res, func(s api.ResourceSnapshot) api.ResourceSnapshot {
			s.State = api.StateFailedToStart
			return s
		})
		return err
	}

	r.mu.Lock()
	r.state = StateRunning
	r.mu.Unlock()

	r.opts.Notifier.PublishUpdate(res, func(s api.ResourceSnapshot) api.ResourceSnapshot {
		s.State = api.StateRunning
		s.URLs = urls
		return s
	})
	return nil
}

func (r *Runner) start(ctx context.Context, res *model.Resource, logger *log.Logger) ([]api.URLSnapshot, error) {
	env, err := environment.Materialize(ctx, r.opts.Mode, res.Environment())
	if err != nil {
		return nil, fmt.Errorf("resolve environment for %s: %w", res.Name(), err)
	}

	builder := NewBuilder(logger)
	builder.MergeConfig(env)
	if err := r.opts.Strategy.ConfigureBuilder(ctx, builder, res); err != nil {
		return nil, fmt.Errorf("configure builder for %s: %w", res.Name(), err)
	}

	defaultScheme := r.defaultScheme()
	endpoints := res.Endpoints()
	if len(endpoints) == 0 {
		ep, err := res.AddEndpoint(model.EndpointSpec{Name: DefaultEndpointName, Scheme: defaultScheme})
		if err != nil {
			return nil, err
		}
		endpoints = []*model.Endpoint{ep}
	}
	needHTTPS := defaultScheme == "https"
	for _, ep := range endpoints {
		if ep.Scheme() == "" {
			if err := ep.SetScheme(defaultScheme); err != nil {
				return nil, err
			}
		}
		if ep.Scheme() == "https" {
			needHTTPS = true
		}
	}
	if needHTTPS {
		builder.UseHTTPS()
	}

	app, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build host for %s: %w", res.Name(), err)
	}
	r.mu.Lock()
	r.app = app
	r.mu.Unlock()

	urlMap := NewURLMap()
	for _, ep := range endpoints {
		port, _ := ep.Port()
		u := ListenURL(ep.Scheme(), port)
		if err := urlMap.Add(u, ep.Name()); err != nil {
			return nil, err
		}
		app.AddURL(u)
	}

	if err := r.opts.Strategy.ConfigureApplication(ctx, app, res); err != nil {
		return nil, fmt.Errorf("configure application for %s: %w", res.Name(), err)
	}
	if err := app.Start(ctx); err != nil {
		return nil, fmt.Errorf("start host for %s: %w", res.Name(), err)
	}

	Reconcile(app.Addresses(), urlMap, endpoints, logger)

	snapshots := make([]api.URLSnapshot, 0, len(endpoints))
	for _, ep := range endpoints {
		u, err := ep.URL()
		if err != nil {
			logger.Printf("WARN: endpoint %s was not bound to any address", ep.Name())
			u = ""
		}
		snapshots = append(snapshots, api.URLSnapshot{Name: ep.Name(), URL: u})
	}
	return snapshots, nil
}

func (r *Runner) defaultScheme() string {
	if s := strings.ToLower(strings.TrimSpace(r.opts.DefaultScheme)); s != "" {
		return s
	}
	if strings.Contains(os.Getenv(DefaultURLsEnv), "https://") {
		return "https"
	}
	return "http"
}

// URL returns the allocated URL of the named endpoint once Running.
func (r *Runner) URL(endpoint string) (string, error) {
	r.mu.Lock()
	state, res := r.state, r.resource
	r.mu.Unlock()
	if state != StateRunning {
		return "", ErrNotRunning
	}
	ep, ok := res.Endpoint(endpoint)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}
	return ep.URL()
}

// Close disposes the embedded host. It is a no-op for a runner that never
// reached Starting and safe to call more than once.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateUnstarted || r.state == StateStopped {
		r.mu.Unlock()
		return nil
	}
	wasRunning := r.state == StateRunning
	app, res := r.app, r.resource
	r.state = StateStopped
	r.mu.Unlock()

	var err error
	if app != nil {
		err = app.Close(ctx)
	}
	if wasRunning && res != nil {
		r.opts.Notifier.PublishUpdate(res, func(s api.ResourceSnapshot) api.ResourceSnapshot {
			s.State = api.StateFinished
			return s
		})
	}
	return err
}
