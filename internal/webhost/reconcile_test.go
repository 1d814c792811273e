package webhost

import (
	"testing"

	"hostweave/internal/model"
)

func endpoints(t *testing.T, specs ...model.EndpointSpec) (*model.Resource, []*model.Endpoint) {
	t.Helper()
	r := model.NewResource("ingress", "ingress")
	for _, s := range specs {
		if _, err := r.AddEndpoint(s); err != nil {
			t.Fatalf("add endpoint: %v", err)
		}
	}
	return r, r.Endpoints()
}

func TestCanonicalURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:0/":      "http://127.0.0.1:0/",
		"HTTP://LocalHost:8001":    "http://localhost:8001/",
		"https://example.com":      "https://example.com:443/",
		"http://example.com/x?y=1": "http://example.com:80/",
		"http://[::1]:5000":        "http://[::1]:5000/",
	}
	for in, want := range cases {
		got, err := CanonicalURL(in)
		if err != nil {
			t.Fatalf("canonical %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("canonical %q: got %q want %q", in, got, want)
		}
	}
	if _, err := CanonicalURL("not a url"); err == nil {
		t.Fatalf("expected error for missing scheme")
	}
}

func TestReconcileFixedAndEphemeral(t *testing.T) {
	_, eps := endpoints(t,
		model.EndpointSpec{Name: "http", Scheme: "http"},
		model.EndpointSpec{Name: "https", Scheme: "https", Port: 8001},
	)
	urls := NewURLMap()
	_ = urls.Add(ListenURL("http", 0), "http")
	_ = urls.Add(ListenURL("https", 8001), "https")

	allocs := Reconcile([]string{
		"http://127.0.0.1:53211",
		"https://localhost:8001",
		"http://127.0.0.1:9999", // diagnostic listener, not declared
	}, urls, eps, nil)

	if len(allocs) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocs))
	}
	httpURL, err := eps[0].URL()
	if err != nil || httpURL != "http://localhost:53211" {
		t.Fatalf("unexpected http allocation %q (%v)", httpURL, err)
	}
	httpsURL, err := eps[1].URL()
	if err != nil || httpsURL != "https://localhost:8001" {
		t.Fatalf("unexpected https allocation %q (%v)", httpsURL, err)
	}
}

func TestReconcileSharedEphemeralPlaceholder(t *testing.T) {
	_, eps := endpoints(t,
		model.EndpointSpec{Name: "public", Scheme: "http"},
		model.EndpointSpec{Name: "admin", Scheme: "http"},
	)
	urls := NewURLMap()
	_ = urls.Add(ListenURL("http", 0), "public")
	_ = urls.Add(ListenURL("http", 0), "admin")

	Reconcile([]string{"http://127.0.0.1:40001", "http://127.0.0.1:40002"}, urls, eps, nil)

	a, okA := eps[0].Allocated()
	b, okB := eps[1].Allocated()
	if !okA || !okB {
		t.Fatalf("expected both endpoints allocated")
	}
	if a.Port == b.Port {
		t.Fatalf("endpoints share port %d", a.Port)
	}
	if a.Port != 40001 || b.Port != 40002 {
		t.Fatalf("expected registration order to be kept, got %d/%d", a.Port, b.Port)
	}
}

func TestReconcileNeverAssignsAddressTwice(t *testing.T) {
	_, eps := endpoints(t,
		model.EndpointSpec{Name: "a", Scheme: "http"},
		model.EndpointSpec{Name: "b", Scheme: "http"},
	)
	urls := NewURLMap()
	_ = urls.Add(ListenURL("http", 0), "a")
	_ = urls.Add(ListenURL("http", 0), "b")

	allocs := Reconcile([]string{"http://127.0.0.1:40001", "http://127.0.0.1:40001/"}, urls, eps, nil)
	if len(allocs) != 1 {
		t.Fatalf("expected a single allocation, got %d", len(allocs))
	}
	if _, ok := eps[1].Allocated(); ok {
		t.Fatalf("second endpoint must stay unallocated")
	}
}

func TestReconcileKeepsNonLoopbackHost(t *testing.T) {
	_, eps := endpoints(t, model.EndpointSpec{Name: "http", Scheme: "http"})
	urls := NewURLMap()
	_ = urls.Add("http://0.0.0.0:0/", "http")

	Reconcile([]string{"http://0.0.0.0:41000"}, urls, eps, nil)
	alloc, ok := eps[0].Allocated()
	if !ok || alloc.Host != "0.0.0.0" {
		t.Fatalf("unexpected allocation %#v", alloc)
	}
}

func TestReconcileIgnoresUnmatched(t *testing.T) {
	_, eps := endpoints(t, model.EndpointSpec{Name: "http", Scheme: "http", Port: 8080})
	urls := NewURLMap()
	_ = urls.Add(ListenURL("http", 8080), "http")

	allocs := Reconcile([]string{"http://127.0.0.1:8081", "::bad::"}, urls, eps, nil)
	if len(allocs) != 0 {
		t.Fatalf("expected no allocations, got %d", len(allocs))
	}
	if _, err := eps[0].URL(); err == nil {
		t.Fatalf("unmatched endpoint must keep no allocation")
	}
}
