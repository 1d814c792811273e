package ingress

import (
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
)

// Proxy routes requests to cluster destinations according to a Config.
type Proxy struct {
	routes    []*route
	logger    *log.Logger
	transport http.RoundTripper
}

type route struct {
	id       string
	order    int
	segments []segment
	literals int
	hosts    []string
	methods  map[string]struct{}
	cluster  *cluster
	rp       *httputil.ReverseProxy
	xforms   []Transform
}

type segmentKind int

const (
	segLiteral segmentKind = iota
	segParam
	segCatchAll
)

type segment struct {
	kind  segmentKind
	value string
}

type cluster struct {
	id      string
	policy  string
	targets []*url.URL
	next    atomic.Uint64
}

// NewProxy validates cfg, resolves every destination and builds the route
// table. logger receives proxy errors.
func NewProxy(cfg Config, resolver *Resolver, logger *log.Logger) (*Proxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &Proxy{logger: logger, transport: http.DefaultTransport}

	clusters := make(map[string]*cluster, len(cfg.Clusters))
	for key, cc := range cfg.Clusters {
		cl, err := buildCluster(clusterID(key, cc), cc, resolver)
		if err != nil {
			return nil, err
		}
		clusters[strings.ToLower(cl.id)] = cl
	}

	for key, rc := range cfg.Routes {
		segs, literals, err := parsePattern(rc.Match.Path)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", routeID(key, rc), err)
		}
		rt := &route{
			id:       routeID(key, rc),
			order:    rc.Order,
			segments: segs,
			literals: literals,
			cluster:  clusters[strings.ToLower(rc.ClusterID)],
			xforms:   rc.Transforms,
		}
		for _, h := range rc.Match.Hosts {
			rt.hosts = append(rt.hosts, strings.ToLower(h))
		}
		if len(rc.Match.Methods) > 0 {
			rt.methods = make(map[string]struct{}, len(rc.Match.Methods))
			for _, m := range rc.Match.Methods {
				rt.methods[strings.ToUpper(m)] = struct{}{}
			}
		}
		rt.rp = p.reverseProxy(rt)
		p.routes = append(p.routes, rt)
	}

	// explicit order first, then the most literal segments, catch-alls last
	sort.SliceStable(p.routes, func(i, j int) bool {
		a, b := p.routes[i], p.routes[j]
		if a.order != b.order {
			return a.order < b.order
		}
		if a.literals != b.literals {
			return a.literals > b.literals
		}
		if a.catchAll() != b.catchAll() {
			return !a.catchAll()
		}
		return a.id < b.id
	})
	return p, nil
}

func buildCluster(id string, cc ClusterConfig, resolver *Resolver) (*cluster, error) {
	names := make([]string, 0, len(cc.Destinations))
	for name := range cc.Destinations {
		names = append(names, name)
	}
	sort.Strings(names)

	cl := &cluster{id: id, policy: cc.LoadBalancingPolicy}
	if cl.policy == "" {
		cl.policy = PolicyRoundRobin
	}
	for _, name := range names {
		urls, err := resolver.Resolve(cc.Destinations[name].Address)
		if err != nil {
			return nil, fmt.Errorf("cluster %s destination %s: %w", id, name, err)
		}
		cl.targets = append(cl.targets, urls...)
	}
	return cl, nil
}

func (c *cluster) pick() *url.URL {
	if len(c.targets) == 0 {
		return nil
	}
	switch c.policy {
	case PolicyFirstAlphabetical:
		return c.targets[0]
	case PolicyRandom:
		return c.targets[rand.IntN(len(c.targets))]
	default:
		n := c.next.Add(1) - 1
		return c.targets[n%uint64(len(c.targets))]
	}
}

func parsePattern(pattern string) ([]segment, int, error) {
	parts := splitPath(pattern)
	segs := make([]segment, 0, len(parts))
	literals := 0
	for i, part := range parts {
		switch {
		case strings.HasPrefix(part, "{*") && strings.HasSuffix(part, "}"):
			if i != len(parts)-1 {
				return nil, 0, fmt.Errorf("catch-all must be the last segment of %q", pattern)
			}
			segs = append(segs, segment{kind: segCatchAll})
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
			segs = append(segs, segment{kind: segParam})
		default:
			segs = append(segs, segment{kind: segLiteral, value: strings.ToLower(part)})
			literals++
		}
	}
	return segs, literals, nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (rt *route) catchAll() bool {
	return len(rt.segments) > 0 && rt.segments[len(rt.segments)-1].kind == segCatchAll
}

func (rt *route) matches(r *http.Request) bool {
	if rt.methods != nil {
		if _, ok := rt.methods[r.Method]; !ok {
			return false
		}
	}
	if len(rt.hosts) > 0 && !matchHost(rt.hosts, r.Host) {
		return false
	}
	parts := splitPath(r.URL.Path)
	for i, seg := range rt.segments {
		if seg.kind == segCatchAll {
			return true
		}
		if i >= len(parts) {
			return false
		}
		if seg.kind == segLiteral && !strings.EqualFold(parts[i], seg.value) {
			return false
		}
	}
	return len(parts) == len(rt.segments)
}

func matchHost(hosts []string, requestHost string) bool {
	host, _ := splitHostPortValue(requestHost)
	host = strings.ToLower(host)
	for _, h := range hosts {
		if h == host {
			return true
		}
		if strings.HasPrefix(h, "*.") && strings.HasSuffix(host, h[1:]) {
			return true
		}
	}
	return false
}

// ServeHTTP proxies r through the first matching route.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, rt := range p.routes {
		if !rt.matches(r) {
			continue
		}
		if rt.cluster == nil || len(rt.cluster.targets) == 0 {
			http.Error(w, "no destinations available", http.StatusServiceUnavailable)
			return
		}
		rt.rp.ServeHTTP(w, r)
		return
	}
	http.NotFound(w, r)
}

func (p *Proxy) reverseProxy(rt *route) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Transport: p.transport,
		ErrorLog:  p.logger,
		Rewrite: func(pr *httputil.ProxyRequest) {
			target := rt.cluster.pick()
			pr.Out.URL.Path = applyPathTransforms(pr.In.URL.Path, rt.xforms)
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			applyHeaderTransforms(pr.Out, rt.xforms)
			applyForwardHeaders(pr.In, pr.Out)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.logger.Printf("WARN: route %s cluster %s: %v", rt.id, rt.cluster.id, err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

func applyPathTransforms(path string, xforms []Transform) string {
	for _, t := range xforms {
		switch {
		case t.PathSet != "":
			path = t.PathSet
		case t.PathRemovePrefix != "":
			prefix := strings.TrimSuffix(t.PathRemovePrefix, "/")
			if len(path) >= len(prefix) && strings.EqualFold(path[:len(prefix)], prefix) {
				// whole segments only: /app1 strips /app1/x but not /app10
				if rest := path[len(prefix):]; rest == "" || rest[0] == '/' {
					path = rest
				}
			}
		case t.PathPrefix != "":
			path = strings.TrimSuffix(t.PathPrefix, "/") + path
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func applyHeaderTransforms(out *http.Request, xforms []Transform) {
	for _, t := range xforms {
		if t.RequestHeader == "" {
			continue
		}
		switch {
		case t.Set != "":
			out.Header.Set(t.RequestHeader, t.Set)
		case t.Append != "":
			out.Header.Add(t.RequestHeader, t.Append)
		default:
			out.Header.Del(t.RequestHeader)
		}
	}
}

// applyForwardHeaders records the client-facing request on the outbound
// request. Values already present on the inbound request are kept; the
// client address is appended to X-Forwarded-For and Forwarded.
func applyForwardHeaders(in, out *http.Request) {
	host, hostPort := splitHostPortValue(in.Host)
	if host == "" {
		host, hostPort = splitHostPortValue(in.URL.Host)
	}

	proto := resolveProto(in)
	forwardHeader(in, out, "X-Forwarded-Proto", proto)
	if host != "" {
		forwardHost := host
		if hostPort != "" {
			forwardHost = net.JoinHostPort(host, hostPort)
		}
		forwardHeader(in, out, "X-Forwarded-Host", forwardHost)
		host = forwardHost
	}
	forwardHeader(in, out, "X-Forwarded-Port", resolvePortHeader(in, proto, hostPort))

	ip := clientIP(in)
	if ip != "" {
		if prior := in.Header.Get("X-Forwarded-For"); prior != "" {
			out.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			out.Header.Set("X-Forwarded-For", ip)
		}
		forwardHeader(in, out, "X-Real-Ip", ip)
	}
	appendForwardedHeader(in, out, proto, host, ip)
}

func splitHostPortValue(value string) (string, string) {
	if value == "" {
		return "", ""
	}
	if strings.Contains(value, ":") {
		if host, port, err := net.SplitHostPort(value); err == nil {
			return host, port
		}
	}
	return value, ""
}

func resolveProto(r *http.Request) string {
	if v := strings.ToLower(r.Header.Get("X-Forwarded-Proto")); v != "" {
		return v
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func resolvePortHeader(r *http.Request, proto, hostPort string) string {
	if v := r.Header.Get("X-Forwarded-Port"); v != "" {
		return v
	}
	if hostPort != "" {
		return hostPort
	}
	if proto == "https" {
		return "443"
	}
	return "80"
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func appendForwardedHeader(in, out *http.Request, proto, host, ip string) {
	parts := []string{fmt.Sprintf("proto=%s", proto)}
	if host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", strings.ToLower(host)))
	}
	if ip != "" {
		parts = append(parts, fmt.Sprintf("for=%s", ip))
	}
	value := strings.Join(parts, ";")
	if prior := in.Header.Get("Forwarded"); prior != "" {
		out.Header.Set("Forwarded", prior+", "+value)
	} else {
		out.Header.Set("Forwarded", value)
	}
}

func forwardHeader(in, out *http.Request, key, value string) {
	if v := in.Header.Get(key); v != "" {
		out.Header.Set(key, v)
		return
	}
	if value != "" {
		out.Header.Set(key, value)
	}
}
