package ingress

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// ErrUnresolvedDestination is returned when a service-discovery address has
// no matching entry in configuration.
var ErrUnresolvedDestination = errors.New("ingress: unresolved destination")

// Resolver maps destination addresses onto concrete URLs using
// configuration keys of the form services:{service}:{endpoint}:{index}.
type Resolver struct {
	config *viper.Viper
}

// NewResolver creates a resolver reading from cfg.
func NewResolver(cfg *viper.Viper) *Resolver {
	return &Resolver{config: cfg}
}

// Resolve returns every concrete URL for address. Literal addresses (with a
// port, or not registered as a service) come back unchanged, except that a
// scheme list like "https+http" is reduced to its first entry.
//
// For "scheme://service" each scheme in the list is tried in order and the
// first with entries wins. "scheme://_endpoint.service" selects a named
// endpoint and must resolve.
func (r *Resolver) Resolve(address string) ([]*url.URL, error) {
	u, err := url.Parse(address)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid destination address %q", address)
	}
	schemes := strings.Split(strings.ToLower(u.Scheme), "+")
	host := u.Hostname()

	if u.Port() != "" {
		lit := *u
		lit.Scheme = schemes[0]
		return []*url.URL{&lit}, nil
	}

	service, endpoint := host, ""
	if strings.HasPrefix(host, "_") {
		if i := strings.IndexByte(host, '.'); i > 1 {
			endpoint, service = host[1:i], host[i+1:]
		}
	}

	var candidates []string
	if endpoint != "" {
		candidates = []string{endpoint}
	} else {
		candidates = schemes
	}
	for _, name := range candidates {
		urls, err := r.lookup(service, name, u)
		if err != nil {
			return nil, err
		}
		if len(urls) > 0 {
			return urls, nil
		}
	}

	if endpoint != "" || len(schemes) > 1 || r.known(service) {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedDestination, address)
	}
	lit := *u
	lit.Scheme = schemes[0]
	return []*url.URL{&lit}, nil
}

func (r *Resolver) known(service string) bool {
	return r.config != nil && r.config.IsSet("services:"+service)
}

// lookup collects services:{service}:{endpoint}:0..n, keeping the path and
// query of the original address.
func (r *Resolver) lookup(service, endpoint string, orig *url.URL) ([]*url.URL, error) {
	if r.config == nil {
		return nil, nil
	}
	var out []*url.URL
	for i := 0; ; i++ {
		key := fmt.Sprintf("services:%s:%s:%d", service, endpoint, i)
		raw := strings.TrimSpace(r.config.GetString(key))
		if raw == "" {
			return out, nil
		}
		resolved, err := url.Parse(raw)
		if err != nil || resolved.Host == "" {
			return nil, fmt.Errorf("invalid service address %s=%q", key, raw)
		}
		if orig.Path != "" && orig.Path != "/" {
			resolved.Path = strings.TrimSuffix(resolved.Path, "/") + orig.Path
		}
		if resolved.RawQuery == "" {
			resolved.RawQuery = orig.RawQuery
		}
		out = append(out, resolved)
	}
}
