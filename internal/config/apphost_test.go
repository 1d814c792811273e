package config

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"hostweave/internal/api"
	"hostweave/internal/apphost"
	"hostweave/internal/ingress"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const sampleFile = `
mode: run
ports:
  start: 18000
  end: 18099
resources:
  - name: app1
    kind: external
    url: http://localhost:5001
  - name: app2
    kind: external
    url: http://localhost:5002
  - name: ingress
    kind: ingress
    endpoints:
      - scheme: http
    references: [app1]
    config_section: ReverseProxy
    environment:
      ReverseProxy__Routes__r1__ClusterId: c1
      ReverseProxy__Routes__r1__Match__Path: /app1/{**catch-all}
      ReverseProxy__Clusters__c1__Destinations__d1__Address: http://app1
    routes:
      r2:
        cluster_id: c2
        match:
          path: /app2/{**catch-all}
        transforms:
          - path_remove_prefix: /app2
    clusters:
      c2:
        destinations:
          d1:
            address: http://app2
    run:
      references: [app2]
      environment:
        Greeting: hello-run
    publish:
      environment:
        Greeting: hello-publish
`

func TestParseSample(t *testing.T) {
	f, err := Parse([]byte(sampleFile))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Mode != api.ModeRun {
		t.Fatalf("expected run mode, got %s", f.Mode)
	}
	if len(f.Resources) != 3 {
		t.Fatalf("expected 3 resources, got %d", len(f.Resources))
	}
	ing := f.Resources[2]
	if ing.Endpoints[0].Name != "http" {
		t.Fatalf("endpoint name should default to scheme, got %q", ing.Endpoints[0].Name)
	}
	if ing.Routes["r2"].RouteID != "r2" || ing.Clusters["c2"].ClusterID != "c2" {
		t.Fatalf("route/cluster IDs should default to their keys: %+v %+v", ing.Routes["r2"], ing.Clusters["c2"])
	}
	if ing.Routes["r2"].Transforms[0].PathRemovePrefix != "/app2" {
		t.Fatalf("transform not parsed: %+v", ing.Routes["r2"].Transforms)
	}

	opts := f.BuilderOptions(api.ModeUnknown)
	if opts.Ports.Start != 18000 || opts.Ports.End != 18099 || opts.Mode != api.ModeRun {
		t.Fatalf("unexpected options %+v", opts)
	}
	if got := f.BuilderOptions(api.ModePublish).Mode; got != api.ModePublish {
		t.Fatalf("explicit mode should win, got %s", got)
	}
}

func TestParseRejectsInvalidFiles(t *testing.T) {
	cases := map[string]string{
		"no resources":       "resources: []",
		"bad kind":           "resources: [{name: a, kind: container}]",
		"bad name":           "resources: [{name: App_1, kind: external, url: 'http://x'}]",
		"duplicate name":     "resources: [{name: a, kind: external, url: 'http://x'}, {name: a, kind: external, url: 'http://y'}]",
		"external no url":    "resources: [{name: a, kind: external}]",
		"unknown reference":  "resources: [{name: a, kind: ingress, references: [b]}]",
		"self reference":     "resources: [{name: a, kind: ingress, references: [a]}]",
		"two ingresses":      "resources: [{name: a, kind: ingress}, {name: b, kind: ingress}]",
		"duplicate endpoint": "resources: [{name: a, kind: ingress, endpoints: [{scheme: http}, {scheme: http}]}]",
		"bad scheme":         "resources: [{name: a, kind: ingress, endpoints: [{scheme: tcp}]}]",
		"bad env name":       "resources: [{name: a, kind: ingress, environment: {'9X': v}}]",
		"route to nowhere":   "resources: [{name: a, kind: ingress, routes: {r: {cluster_id: c, match: {path: /}}}}]",
		"ingress-only field": "resources: [{name: a, kind: external, url: 'http://x', compression: true}]",
		"bad port range":     "ports: {start: 20, end: 10}\nresources: [{name: a, kind: ingress}]",
		"bad mode":           "mode: deploy\nresources: [{name: a, kind: ingress}]",
		"bad yaml":           "resources: [",
	}
	for name, content := range cases {
		if _, err := Parse([]byte(content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseRejectsEndpointsOnExternals(t *testing.T) {
	cases := map[string]string{
		"declared": "resources: [{name: a, kind: external, url: 'http://x', endpoints: [{scheme: https, port: 8443}]}]",
		"run only": "resources: [{name: a, kind: external, url: 'http://x', run: {endpoints: [{scheme: http}]}}]",
		"publish":  "resources: [{name: a, kind: external, url: 'http://x', publish: {endpoints: [{scheme: http}]}}]",
	}
	for name, content := range cases {
		_, err := Parse([]byte(content))
		if err == nil || !strings.Contains(err.Error(), "external endpoint comes from its url") {
			t.Fatalf("%s: expected endpoints to be rejected, got %v", name, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read app-host file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestApplyRunsIngressEndToEnd(t *testing.T) {
	app1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "one:"+r.URL.Path)
	}))
	defer app1.Close()
	app2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "two:"+r.URL.Path)
	}))
	defer app2.Close()

	content := strings.NewReplacer(
		"http://localhost:5001", app1.URL,
		"http://localhost:5002", app2.URL,
	).Replace(sampleFile)
	path := filepath.Join(t.TempDir(), "apphost.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	opts := f.BuilderOptions(api.ModeUnknown)
	opts.LogOutput = io.Discard
	b := apphost.NewBuilder(opts)
	if err := f.Apply(b); err != nil {
		t.Fatalf("apply: %v", err)
	}
	app, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer app.Stop(ctx)
	if err := app.WaitForAll(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	base, err := app.URL("ingress", "http")
	if err != nil {
		t.Fatalf("ingress url: %v", err)
	}
	for path, want := range map[string]string{
		"/app1/a": "one:/app1/a",
		"/app2/b": "two:/b",
	} {
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || string(body) != want {
			t.Fatalf("get %s: status %d body %q, want %q", path, resp.StatusCode, body, want)
		}
	}

	r, ok := app.Model().Resource("ingress")
	if !ok || r.Kind() != ingress.Kind || !r.ExcludedFromManifest() {
		t.Fatalf("unexpected ingress resource %+v", r)
	}
}

func TestApplyHonorsPublishGate(t *testing.T) {
	f, err := Parse([]byte(sampleFile))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b := apphost.NewBuilder(f.BuilderOptions(api.ModePublish))
	if err := f.Apply(b); err != nil {
		t.Fatalf("apply: %v", err)
	}
	r, _ := b.Model().Resource("ingress")
	// three file variables, the app1 reference and the publish-only variable
	if got := len(r.Environment()); got != 5 {
		t.Fatalf("expected 5 environment producers in publish mode, got %d", got)
	}
}
