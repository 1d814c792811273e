package ingress

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func newConfig() *viper.Viper {
	return viper.NewWithOptions(viper.KeyDelimiter(":"))
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// echoBackend answers with its name, the path it saw and selected headers.
func echoBackend(t *testing.T, name string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", name)
		w.Header().Set("X-Seen-Path", r.URL.Path)
		w.Header().Set("X-Seen-Forwarded-For", r.Header.Get("X-Forwarded-For"))
		w.Header().Set("X-Seen-Forwarded-Proto", r.Header.Get("X-Forwarded-Proto"))
		w.Header().Set("X-Seen-Forwarded-Host", r.Header.Get("X-Forwarded-Host"))
		w.Header().Set("X-Seen-Forwarded", r.Header.Get("Forwarded"))
		w.Header().Set("X-Seen-Tenant", r.Header.Get("X-Tenant"))
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "hello from %s", name)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestProxyRoutesByLongestPrefixAndStripsPrefix(t *testing.T) {
	app1 := echoBackend(t, "app1")
	app2 := echoBackend(t, "app2")
	fallback := echoBackend(t, "fallback")

	cfg := Config{
		Routes: map[string]RouteConfig{
			"app1": {ClusterID: "c1", Match: RouteMatch{Path: "/app1/{**catch-all}"}, Transforms: []Transform{{PathRemovePrefix: "/app1"}}},
			"app2": {ClusterID: "c2", Match: RouteMatch{Path: "/app2/{**catch-all}"}, Transforms: []Transform{{PathRemovePrefix: "/app2"}}},
			"rest": {ClusterID: "c3", Match: RouteMatch{Path: "/{**catch-all}"}},
		},
		Clusters: map[string]ClusterConfig{
			"c1": {Destinations: map[string]Destination{"d1": {Address: app1.URL}}},
			"c2": {Destinations: map[string]Destination{"d1": {Address: app2.URL}}},
			"c3": {Destinations: map[string]Destination{"d1": {Address: fallback.URL}}},
		},
	}
	proxy, err := NewProxy(cfg, NewResolver(newConfig()), quietLogger())
	require.NoError(t, err)
	front := httptest.NewServer(proxy)
	defer front.Close()

	resp, body := get(t, front.URL+"/app1/items/7")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hello from app1", body)
	require.Equal(t, "/items/7", resp.Header.Get("X-Seen-Path"))

	resp, body = get(t, front.URL+"/APP2")
	require.Equal(t, "hello from app2", body)
	require.Equal(t, "/", resp.Header.Get("X-Seen-Path"))

	resp, body = get(t, front.URL+"/app10/x")
	require.Equal(t, "hello from fallback", body)
	require.Equal(t, "/app10/x", resp.Header.Get("X-Seen-Path"))
}

func TestProxyPassesBackendStatusThrough(t *testing.T) {
	teapot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "short and stout")
	}))
	defer teapot.Close()

	proxy, err := NewProxy(Config{
		Routes:   map[string]RouteConfig{"r": {ClusterID: "c", Match: RouteMatch{Path: "/{**rest}"}}},
		Clusters: map[string]ClusterConfig{"c": {Destinations: map[string]Destination{"d": {Address: teapot.URL}}}},
	}, NewResolver(nil), quietLogger())
	require.NoError(t, err)
	front := httptest.NewServer(proxy)
	defer front.Close()

	resp, body := get(t, front.URL+"/brew")
	require.Equal(t, http.StatusTeapot, resp.StatusCode)
	require.Equal(t, "short and stout", body)
}

func TestProxyUnmatchedAndUnreachable(t *testing.T) {
	proxy, err := NewProxy(Config{
		Routes:   map[string]RouteConfig{"api": {ClusterID: "c", Match: RouteMatch{Path: "/api/{**rest}", Methods: []string{"GET"}}}},
		Clusters: map[string]ClusterConfig{"c": {Destinations: map[string]Destination{"d": {Address: "http://127.0.0.1:1"}}}},
	}, NewResolver(nil), quietLogger())
	require.NoError(t, err)
	front := httptest.NewServer(proxy)
	defer front.Close()

	resp, _ := get(t, front.URL+"/other")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(front.URL+"/api/x", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "method filter")

	resp, _ = get(t, front.URL+"/api/x")
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestProxyRoundRobin(t *testing.T) {
	one := echoBackend(t, "one")
	two := echoBackend(t, "two")
	proxy, err := NewProxy(Config{
		Routes: map[string]RouteConfig{"r": {ClusterID: "c", Match: RouteMatch{Path: "/{**rest}"}}},
		Clusters: map[string]ClusterConfig{"c": {Destinations: map[string]Destination{
			"a": {Address: one.URL},
			"b": {Address: two.URL},
		}}},
	}, NewResolver(nil), quietLogger())
	require.NoError(t, err)
	front := httptest.NewServer(proxy)
	defer front.Close()

	var seen []string
	for i := 0; i < 4; i++ {
		_, body := get(t, front.URL+"/")
		seen = append(seen, strings.TrimPrefix(body, "hello from "))
	}
	require.Equal(t, []string{"one", "two", "one", "two"}, seen)
}

func TestProxyFirstAlphabeticalPolicy(t *testing.T) {
	one := echoBackend(t, "one")
	two := echoBackend(t, "two")
	proxy, err := NewProxy(Config{
		Routes: map[string]RouteConfig{"r": {ClusterID: "c", Match: RouteMatch{Path: "/{**rest}"}}},
		Clusters: map[string]ClusterConfig{"c": {LoadBalancingPolicy: PolicyFirstAlphabetical, Destinations: map[string]Destination{
			"z": {Address: two.URL},
			"a": {Address: one.URL},
		}}},
	}, NewResolver(nil), quietLogger())
	require.NoError(t, err)
	front := httptest.NewServer(proxy)
	defer front.Close()

	for i := 0; i < 3; i++ {
		_, body := get(t, front.URL+"/")
		require.Equal(t, "hello from one", body)
	}
}

func TestProxyForwardHeaders(t *testing.T) {
	backend := echoBackend(t, "app")
	proxy, err := NewProxy(Config{
		Routes: map[string]RouteConfig{"r": {
			ClusterID:  "c",
			Match:      RouteMatch{Path: "/{**rest}"},
			Transforms: []Transform{{RequestHeader: "X-Tenant", Set: "blue"}},
		}},
		Clusters: map[string]ClusterConfig{"c": {Destinations: map[string]Destination{"d": {Address: backend.URL}}}},
	}, NewResolver(nil), quietLogger())
	require.NoError(t, err)
	front := httptest.NewServer(proxy)
	defer front.Close()

	resp, _ := get(t, front.URL+"/")
	frontHost := strings.TrimPrefix(front.URL, "http://")
	require.Equal(t, "127.0.0.1", resp.Header.Get("X-Seen-Forwarded-For"))
	require.Equal(t, "http", resp.Header.Get("X-Seen-Forwarded-Proto"))
	require.Equal(t, frontHost, resp.Header.Get("X-Seen-Forwarded-Host"))
	require.Equal(t, "proto=http;host="+frontHost+";for=127.0.0.1", resp.Header.Get("X-Seen-Forwarded"))
	require.Equal(t, "blue", resp.Header.Get("X-Seen-Tenant"))

	req, _ := http.NewRequest(http.MethodGet, front.URL+"/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("X-Forwarded-Proto", "https")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "203.0.113.9, 127.0.0.1", resp.Header.Get("X-Seen-Forwarded-For"))
	require.Equal(t, "https", resp.Header.Get("X-Seen-Forwarded-Proto"))
}

func TestProxyHostMatch(t *testing.T) {
	backend := echoBackend(t, "tenant")
	proxy, err := NewProxy(Config{
		Routes:   map[string]RouteConfig{"r": {ClusterID: "c", Match: RouteMatch{Path: "/{**rest}", Hosts: []string{"*.example.test"}}}},
		Clusters: map[string]ClusterConfig{"c": {Destinations: map[string]Destination{"d": {Address: backend.URL}}}},
	}, NewResolver(nil), quietLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://nope.invalid/", nil)
	proxy.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	front := httptest.NewServer(proxy)
	defer front.Close()
	req, _ = http.NewRequest(http.MethodGet, front.URL+"/", nil)
	req.Host = "blue.example.test"
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "tenant", resp.Header.Get("X-Backend"))
}

func TestNewProxyRejectsInvalidConfig(t *testing.T) {
	_, err := NewProxy(Config{
		Routes: map[string]RouteConfig{"r": {ClusterID: "missing", Match: RouteMatch{Path: "/"}}},
	}, NewResolver(nil), quietLogger())
	require.ErrorContains(t, err, "unknown cluster")

	_, err = NewProxy(Config{
		Routes:   map[string]RouteConfig{"r": {ClusterID: "c", Match: RouteMatch{Path: "no-slash"}}},
		Clusters: map[string]ClusterConfig{"c": {Destinations: map[string]Destination{"d": {Address: "http://x:1"}}}},
	}, NewResolver(nil), quietLogger())
	require.ErrorContains(t, err, "startswith")

	_, err = NewProxy(Config{
		Routes:   map[string]RouteConfig{"r": {ClusterID: "c", Match: RouteMatch{Path: "/{**a}/b"}}},
		Clusters: map[string]ClusterConfig{"c": {Destinations: map[string]Destination{"d": {Address: "http://x:1"}}}},
	}, NewResolver(nil), quietLogger())
	require.ErrorContains(t, err, "catch-all")

	_, err = NewProxy(Config{
		Clusters: map[string]ClusterConfig{"c": {Destinations: map[string]Destination{}}},
	}, NewResolver(nil), quietLogger())
	require.Error(t, err)
}

func TestResolver(t *testing.T) {
	cfg := newConfig()
	cfg.Set("services:app1:http:0", "http://localhost:5001")
	cfg.Set("services:app1:http:1", "http://localhost:5002")
	cfg.Set("services:app1:https:0", "https://localhost:5443")
	cfg.Set("services:app2:admin:0", "http://localhost:6001")
	r := NewResolver(cfg)

	urls, err := r.Resolve("http://app1")
	require.NoError(t, err)
	require.Len(t, urls, 2)
	require.Equal(t, "http://localhost:5001", urls[0].String())
	require.Equal(t, "http://localhost:5002", urls[1].String())

	urls, err = r.Resolve("https+http://app1")
	require.NoError(t, err)
	require.Equal(t, "https://localhost:5443", urls[0].String())

	urls, err = r.Resolve("https+http://app2")
	require.ErrorIs(t, err, ErrUnresolvedDestination)
	require.Nil(t, urls)

	urls, err = r.Resolve("http://_admin.app2/base")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:6001/base", urls[0].String())

	_, err = r.Resolve("http://_missing.app2")
	require.True(t, errors.Is(err, ErrUnresolvedDestination))

	urls, err = r.Resolve("http://example.test:8080/x")
	require.NoError(t, err)
	require.Equal(t, "http://example.test:8080/x", urls[0].String())

	urls, err = r.Resolve("http://unknown-host")
	require.NoError(t, err)
	require.Equal(t, "http://unknown-host", urls[0].String())

	_, err = r.Resolve("::bad")
	require.Error(t, err)
}

func TestLoadConfigFromFlatKeys(t *testing.T) {
	cfg := newConfig()
	for k, v := range map[string]string{
		"ReverseProxy:Routes:route1:ClusterId":                     "cluster1",
		"ReverseProxy:Routes:route1:Match:Path":                    "/app1/{**catch-all}",
		"ReverseProxy:Routes:route1:Match:Hosts:0":                 "a.test",
		"ReverseProxy:Routes:route1:Match:Hosts:1":                 "b.test",
		"ReverseProxy:Routes:route1:Transforms:0:PathRemovePrefix": "/app1",
		"ReverseProxy:Routes:route1:Order":                         "5",
		"ReverseProxy:Clusters:cluster1:Destinations:d1:Address":   "http://app1",
	} {
		cfg.Set(k, v)
	}

	loaded, err := LoadConfig(cfg, "ReverseProxy")
	require.NoError(t, err)
	require.NoError(t, loaded.Validate())

	route, ok := loaded.Routes["route1"]
	require.True(t, ok)
	require.Equal(t, "cluster1", route.ClusterID)
	require.Equal(t, 5, route.Order)
	require.Equal(t, "/app1/{**catch-all}", route.Match.Path)
	require.Equal(t, []string{"a.test", "b.test"}, route.Match.Hosts)
	require.Len(t, route.Transforms, 1)
	require.Equal(t, "/app1", route.Transforms[0].PathRemovePrefix)
	require.Equal(t, "http://app1", loaded.Clusters["cluster1"].Destinations["d1"].Address)

	empty, err := LoadConfig(cfg, "Missing")
	require.NoError(t, err)
	require.Empty(t, empty.Routes)
}

func TestApplyPathTransforms(t *testing.T) {
	cases := []struct {
		path   string
		xforms []Transform
		want   string
	}{
		{"/app1/x", []Transform{{PathRemovePrefix: "/app1"}}, "/x"},
		{"/app1", []Transform{{PathRemovePrefix: "/app1/"}}, "/"},
		{"/x", []Transform{{PathPrefix: "/api"}}, "/api/x"},
		{"/x", []Transform{{PathSet: "/fixed"}}, "/fixed"},
		{"/v1/x", []Transform{{PathRemovePrefix: "/v1"}, {PathPrefix: "/v2"}}, "/v2/x"},
	}
	for _, tc := range cases {
		if got := applyPathTransforms(tc.path, tc.xforms); got != tc.want {
			t.Fatalf("transform %q: got %q want %q", tc.path, got, tc.want)
		}
	}
}
