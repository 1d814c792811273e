package apphost

import (
	"fmt"
	"sync"
)

// PortRange defines an inclusive range of ports.
type PortRange struct {
	Start int `mapstructure:"start" yaml:"start" validate:"min=1,max=65535"`
	End   int `mapstructure:"end" yaml:"end" validate:"min=1,max=65535,gtefield=Start"`
}

// DefaultPortRange is used for orchestrator-assigned endpoint ports.
var DefaultPortRange = PortRange{Start: 17000, End: 17999}

// Contains reports whether port lies inside the range.
func (r PortRange) Contains(port int) bool { return port >= r.Start && port <= r.End }

// PortAllocator hands out ports within a range (in-memory).
type PortAllocator struct {
	mu    sync.Mutex
	rng   PortRange
	next  int
	inUse map[int]struct{}
}

func NewPortAllocator(r PortRange) *PortAllocator {
	return &PortAllocator{rng: r, next: r.Start, inUse: make(map[int]struct{})}
}

func (a *PortAllocator) wrap(port int) int {
	if port > a.rng.End {
		return a.rng.Start
	}
	return port
}

// Allocate returns the next free port, wrapping at the end of the range.
func (a *PortAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	port := a.wrap(a.next)
	start := port
	for {
		if _, ok := a.inUse[port]; !ok {
			a.inUse[port] = struct{}{}
			if port >= a.next {
				a.next = port + 1
			}
			return port, nil
		}
		port = a.wrap(port + 1)
		if port == start {
			return 0, fmt.Errorf("no available ports in range %d-%d", a.rng.Start, a.rng.End)
		}
	}
}

// Reserve marks a port that was assigned elsewhere so it won't be handed
// out. Ports outside the range are ignored.
func (a *PortAllocator) Reserve(port int) error {
	if !a.rng.Contains(port) {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.inUse[port]; exists {
		return fmt.Errorf("port %d already reserved", port)
	}
	a.inUse[port] = struct{}{}
	return nil
}

// Release returns a port to the pool.
func (a *PortAllocator) Release(port int) {
	if port <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.inUse[port]; !ok {
		return
	}
	delete(a.inUse, port)
	if port < a.next {
		a.next = port
	}
}
