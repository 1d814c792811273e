package webhost

import (
	"fmt"
	"log"
	"net"
	"net/url"
	"strconv"
	"strings"

	"hostweave/internal/model"
)

// LoopbackHost is the logical name reported for loopback bindings.
const LoopbackHost = "localhost"

// ListenURL returns the candidate listen URL for an endpoint: a fixed port is
// requested on localhost, otherwise an ephemeral loopback port.
func ListenURL(scheme string, port int) string {
	if port > 0 {
		return fmt.Sprintf("%s://%s:%d", scheme, LoopbackHost, port)
	}
	return scheme + "://127.0.0.1:0/"
}

// CanonicalURL normalizes an address to scheme://host:port/ with lower-case
// scheme and host and an explicit port.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if scheme == "" || host == "" {
		return "", fmt.Errorf("address %q needs a scheme and host", raw)
	}
	port := u.Port()
	if port == "" {
		switch scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("address %q has invalid port", raw)
	}
	return scheme + "://" + net.JoinHostPort(host, port) + "/", nil
}

// withPortZero swaps the port of a canonical URL for 0.
func withPortZero(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return canonical
	}
	return u.Scheme + "://" + net.JoinHostPort(u.Hostname(), "0") + "/"
}

// URLMap maps canonical listen URLs to the endpoint names that requested
// them. Several ephemeral endpoints of the same scheme share one key, so each
// key keeps its names in registration order.
type URLMap struct {
	names map[string][]string
}

func NewURLMap() *URLMap {
	return &URLMap{names: make(map[string][]string)}
}

// Add records that endpoint name requested rawURL.
func (m *URLMap) Add(rawURL, name string) error {
	key, err := CanonicalURL(rawURL)
	if err != nil {
		return err
	}
	m.names[key] = append(m.names[key], name)
	return nil
}

// Lookup returns the endpoint names registered for a canonical URL.
func (m *URLMap) Lookup(canonical string) ([]string, bool) {
	names, ok := m.names[canonical]
	return names, ok
}

func (m *URLMap) Len() int { return len(m.names) }

// Reconcile assigns each bound address to the endpoint that requested it.
// A direct match is tried first, then the port-0 variant for ephemeral
// requests. Loopback literals are reported as localhost. Addresses that match
// nothing are ignored; an endpoint receives at most one allocation and no
// address is assigned twice.
func Reconcile(addresses []string, urls *URLMap, endpoints []*model.Endpoint, logger *log.Logger) []*model.AllocatedEndpoint {
	byName := make(map[string]*model.Endpoint, len(endpoints))
	for _, ep := range endpoints {
		byName[ep.Name()] = ep
	}
	used := make(map[string]struct{})
	var out []*model.AllocatedEndpoint

	for _, addr := range addresses {
		canonical, err := CanonicalURL(addr)
		if err != nil {
			logf(logger, "DEBUG: ignoring unparseable bound address %q: %v", addr, err)
			continue
		}
		if _, seen := used[canonical]; seen {
			continue
		}
		names, ok := urls.Lookup(canonical)
		if !ok {
			names, ok = urls.Lookup(withPortZero(canonical))
		}
		if !ok {
			logf(logger, "DEBUG: bound address %s matches no declared endpoint", addr)
			continue
		}

		var target *model.Endpoint
		for _, name := range names {
			ep, exists := byName[name]
			if !exists {
				continue
			}
			if _, allocated := ep.Allocated(); !allocated {
				target = ep
				break
			}
		}
		if target == nil {
			continue
		}

		u, _ := url.Parse(canonical)
		host := u.Hostname()
		if host == "127.0.0.1" || host == "::1" {
			host = LoopbackHost
		}
		port, _ := strconv.Atoi(u.Port())
		alloc, err := target.Allocate(host, port)
		if err != nil {
			logf(logger, "WARN: %v", err)
			continue
		}
		used[canonical] = struct{}{}
		out = append(out, alloc)
	}
	return out
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger == nil {
		log.Printf(format, args...)
		return
	}
	logger.Printf(format, args...)
}
