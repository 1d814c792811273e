// Package config reads the app-host declaration file and applies it to an
// application builder.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"hostweave/internal/api"
	"hostweave/internal/apphost"
	"hostweave/internal/ingress"
	"hostweave/internal/model"
)

// Resource kinds accepted in the file.
const (
	KindIngress  = "ingress"
	KindExternal = "external"
)

var (
	// lowercase letters, numbers and hyphens; starts with a letter
	resourceNameRegex = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)
	// environment variable names as accepted by the materializer
	envNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

	validate = validator.New()
)

// File is the app-host declaration.
type File struct {
	Mode          api.ExecutionMode  `yaml:"mode"`
	DefaultScheme string             `yaml:"default_scheme" validate:"omitempty,oneof=http https"`
	Ports         *apphost.PortRange `yaml:"ports"`
	Resources     []Resource         `yaml:"resources" validate:"required,min=1,dive"`
}

// Resource declares one resource.
type Resource struct {
	Name        string            `yaml:"name" validate:"required,max=50"`
	Kind        string            `yaml:"kind" validate:"required,oneof=ingress external"`
	URL         string            `yaml:"url"`
	Endpoints   []Endpoint        `yaml:"endpoints" validate:"dive"`
	References  []string          `yaml:"references"`
	Environment map[string]string `yaml:"environment"`
	// Run and Publish apply only in the matching execution mode.
	Run     *ModeOverrides `yaml:"run"`
	Publish *ModeOverrides `yaml:"publish"`

	// ingress only
	ConfigSection string                           `yaml:"config_section"`
	Routes        map[string]ingress.RouteConfig   `yaml:"routes"`
	Clusters      map[string]ingress.ClusterConfig `yaml:"clusters"`
	Compression   bool                             `yaml:"compression"`
}

// Endpoint declares a listening point.
type Endpoint struct {
	Name       string `yaml:"name"`
	Scheme     string `yaml:"scheme" validate:"omitempty,oneof=http https"`
	Port       int    `yaml:"port" validate:"min=0,max=65535"`
	TargetPort int    `yaml:"target_port" validate:"min=0,max=65535"`
}

// ModeOverrides are declarations gated on the execution mode.
type ModeOverrides struct {
	Environment map[string]string `yaml:"environment"`
	Endpoints   []Endpoint        `yaml:"endpoints" validate:"dive"`
	References  []string          `yaml:"references"`
}

// Load reads and validates an app-host file.
func Load(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read app-host file: %w", err)
	}
	return Parse(content)
}

// Parse parses YAML content into a File with validation.
func Parse(content []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	SetDefaults(&f)
	if err := Validate(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// SetDefaults fills route and cluster IDs from their map keys and endpoint
// names from their schemes.
func SetDefaults(f *File) {
	for i := range f.Resources {
		r := &f.Resources[i]
		r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
		for id, route := range r.Routes {
			if route.RouteID == "" {
				route.RouteID = id
				r.Routes[id] = route
			}
		}
		for id, cluster := range r.Clusters {
			if cluster.ClusterID == "" {
				cluster.ClusterID = id
				r.Clusters[id] = cluster
			}
		}
		defaultEndpointNames(r.Endpoints)
		if r.Run != nil {
			defaultEndpointNames(r.Run.Endpoints)
		}
		if r.Publish != nil {
			defaultEndpointNames(r.Publish.Endpoints)
		}
	}
}

func defaultEndpointNames(eps []Endpoint) {
	for i := range eps {
		if eps[i].Name == "" {
			eps[i].Name = strings.ToLower(eps[i].Scheme)
		}
	}
}

// Validate checks field constraints and cross-resource rules.
func Validate(f *File) error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return err
	}

	names := make(map[string]string, len(f.Resources))
	ingresses := 0
	for _, r := range f.Resources {
		if err := validateName(r.Name); err != nil {
			return err
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("duplicate resource name '%s'", r.Name)
		}
		names[r.Name] = r.Kind
		if r.Kind == KindIngress {
			ingresses++
		}
	}
	if ingresses > 1 {
		return fmt.Errorf("only one ingress resource may be declared")
	}

	for _, r := range f.Resources {
		if err := validateResource(r, names); err != nil {
			return fmt.Errorf("resource '%s': %w", r.Name, err)
		}
	}
	return nil
}

func validateName(name string) error {
	if !resourceNameRegex.MatchString(name) {
		return fmt.Errorf("resource name '%s' must contain only lowercase letters, numbers, and hyphens, and must start with a letter", name)
	}
	return nil
}

func validateResource(r Resource, names map[string]string) error {
	switch r.Kind {
	case KindExternal:
		if r.URL == "" {
			return fmt.Errorf("url is required for external resources")
		}
		if len(r.Routes) > 0 || len(r.Clusters) > 0 || r.ConfigSection != "" || r.Compression {
			return fmt.Errorf("routes, clusters, config_section and compression apply to ingress resources only")
		}
		if len(r.Endpoints) > 0 || (r.Run != nil && len(r.Run.Endpoints) > 0) || (r.Publish != nil && len(r.Publish.Endpoints) > 0) {
			return fmt.Errorf("endpoints apply to ingress resources only; an external endpoint comes from its url")
		}
	case KindIngress:
		if r.URL != "" {
			return fmt.Errorf("url applies to external resources only")
		}
		cfg := ingress.Config{Routes: r.Routes, Clusters: r.Clusters}
		if err := cfg.Validate(); err != nil && r.ConfigSection == "" {
			// with a config section the table is only complete at start
			return err
		}
	}

	if err := validateEndpoints(r.Endpoints); err != nil {
		return err
	}
	if err := validateReferences(r.Name, r.References, names); err != nil {
		return err
	}
	if err := validateEnvironment(r.Environment); err != nil {
		return err
	}
	for _, o := range []*ModeOverrides{r.Run, r.Publish} {
		if o == nil {
			continue
		}
		if err := validateEndpoints(append(append([]Endpoint(nil), r.Endpoints...), o.Endpoints...)); err != nil {
			return err
		}
		if err := validateReferences(r.Name, o.References, names); err != nil {
			return err
		}
		if err := validateEnvironment(o.Environment); err != nil {
			return err
		}
	}
	return nil
}

func validateEndpoints(eps []Endpoint) error {
	seen := make(map[string]struct{}, len(eps))
	for i, ep := range eps {
		if strings.TrimSpace(ep.Name) == "" {
			return fmt.Errorf("endpoint[%d] requires a name or scheme", i)
		}
		if _, dup := seen[ep.Name]; dup {
			return fmt.Errorf("duplicate endpoint name '%s'", ep.Name)
		}
		seen[ep.Name] = struct{}{}
	}
	return nil
}

func validateReferences(self string, refs []string, names map[string]string) error {
	for _, ref := range refs {
		if ref == self {
			return fmt.Errorf("resource cannot reference itself")
		}
		if _, ok := names[ref]; !ok {
			return fmt.Errorf("reference to unknown resource '%s'", ref)
		}
	}
	return nil
}

func validateEnvironment(env map[string]string) error {
	for k := range env {
		if !envNameRegex.MatchString(k) {
			return fmt.Errorf("invalid environment variable name '%s'", k)
		}
	}
	return nil
}

// BuilderOptions returns the builder options the file asks for. mode wins
// over the file's own mode when known.
func (f *File) BuilderOptions(mode api.ExecutionMode) apphost.Options {
	opts := apphost.Options{Mode: f.Mode, DefaultScheme: f.DefaultScheme}
	if mode != api.ModeUnknown {
		opts.Mode = mode
	}
	if f.Ports != nil {
		opts.Ports = *f.Ports
	}
	return opts
}

// Apply declares every resource of the file on b. References are wired
// after all resources exist.
func (f *File) Apply(b *apphost.Builder) error {
	builders := make(map[string]*model.ResourceBuilder, len(f.Resources))
	for _, r := range f.Resources {
		rb, err := declare(b, r)
		if err != nil {
			return fmt.Errorf("resource '%s': %w", r.Name, err)
		}
		builders[r.Name] = rb
	}

	target := func(name string) *model.Resource { return builders[name].Resource() }
	for _, r := range f.Resources {
		rb := builders[r.Name]
		for _, ref := range r.References {
			rb.WithReference(target(ref))
		}
		if o := r.Run; o != nil {
			rb.RunWith(func(rb *model.ResourceBuilder) { applyOverrides(rb, o, target) })
		}
		if o := r.Publish; o != nil {
			rb.PublishWith(func(rb *model.ResourceBuilder) { applyOverrides(rb, o, target) })
		}
	}
	return b.Err()
}

func declare(b *apphost.Builder, r Resource) (*model.ResourceBuilder, error) {
	switch r.Kind {
	case KindExternal:
		rb, err := b.AddExternal(r.Name, r.URL)
		if err != nil {
			return nil, err
		}
		applyEnvironment(rb, r.Environment)
		return rb, nil
	case KindIngress:
		ing, err := ingress.Add(b, r.Name)
		if err != nil {
			return nil, err
		}
		for _, ep := range r.Endpoints {
			ing.WithEndpointSpec(endpointSpec(ep))
		}
		for _, id := range sortedKeys(r.Routes) {
			ing.WithRoute(r.Routes[id])
		}
		for _, id := range sortedKeys(r.Clusters) {
			ing.WithCluster(r.Clusters[id])
		}
		if r.ConfigSection != "" {
			ing.LoadFromConfiguration(r.ConfigSection)
		}
		if r.Compression {
			ing.WithEnvironment("Ingress__Compression", "true")
		}
		applyEnvironment(ing.ResourceBuilder, r.Environment)
		return ing.ResourceBuilder, nil
	default:
		return nil, fmt.Errorf("unsupported kind '%s'", r.Kind)
	}
}

func applyOverrides(rb *model.ResourceBuilder, o *ModeOverrides, target func(string) *model.Resource) {
	for _, ep := range o.Endpoints {
		rb.WithEndpointSpec(endpointSpec(ep))
	}
	for _, ref := range o.References {
		rb.WithReference(target(ref))
	}
	applyEnvironment(rb, o.Environment)
}

func endpointSpec(ep Endpoint) model.EndpointSpec {
	return model.EndpointSpec{
		Name:       ep.Name,
		Scheme:     ep.Scheme,
		Port:       ep.Port,
		TargetPort: ep.TargetPort,
		IsProxied:  true,
	}
}

func applyEnvironment(rb *model.ResourceBuilder, env map[string]string) {
	for _, k := range sortedKeys(env) {
		rb.WithEnvironment(k, env[k])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
