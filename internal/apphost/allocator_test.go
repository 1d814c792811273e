package apphost

import "testing"

func TestPortAllocatorWrapsAndExhausts(t *testing.T) {
	a := NewPortAllocator(PortRange{Start: 100, End: 102})
	var got []int
	for i := 0; i < 3; i++ {
		p, err := a.Allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		got = append(got, p)
	}
	if got[0] != 100 || got[1] != 101 || got[2] != 102 {
		t.Fatalf("unexpected ports %v", got)
	}
	if _, err := a.Allocate(); err == nil {
		t.Fatalf("expected exhaustion error")
	}

	a.Release(101)
	p, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	if p != 101 {
		t.Fatalf("expected released port 101, got %d", p)
	}
}

func TestPortAllocatorReserveSkipsPort(t *testing.T) {
	a := NewPortAllocator(PortRange{Start: 200, End: 205})
	if err := a.Reserve(200); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := a.Reserve(200); err == nil {
		t.Fatalf("expected double reserve to fail")
	}
	if err := a.Reserve(9999); err != nil {
		t.Fatalf("out-of-range reserve should be ignored: %v", err)
	}
	p, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p == 200 {
		t.Fatalf("allocator handed out reserved port")
	}
}
