package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"hostweave/internal/model"
)

// AllocateFunc assigns endpoints owned by the orchestrator between the two
// hook phases.
type AllocateFunc func(ctx context.Context, m *model.Model) error

// Sequencer drives registered hooks through the lifecycle phases in
// registration order and disposes them in reverse order.
type Sequencer struct {
	mu      sync.Mutex
	hooks   []Hook
	started bool
}

// New creates an empty sequencer.
func New() *Sequencer {
	return &Sequencer{}
}

// Register adds a hook. Registration is only allowed before Start is called.
func (s *Sequencer) Register(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		panic("lifecycle: cannot register hook after start")
	}
	s.hooks = append(s.hooks, h)
}

// Hooks returns the registered hooks in registration order.
func (s *Sequencer) Hooks() []Hook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Hook(nil), s.hooks...)
}

// Start runs BeforeStart on every hook, then allocate, then
// AfterEndpointsAllocated on every hook. The first failure aborts the run and
// is returned; disposal is left to Close. A second Start is a no-op.
func (s *Sequencer) Start(ctx context.Context, m *model.Model, allocate AllocateFunc) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	hooks := append([]Hook(nil), s.hooks...)
	s.mu.Unlock()

	for _, h := range hooks {
		if err := h.BeforeStart(ctx, m); err != nil {
			return fmt.Errorf("%s: before start: %w", h.Name(), err)
		}
	}
	if allocate != nil {
		if err := allocate(ctx, m); err != nil {
			return fmt.Errorf("allocate endpoints: %w", err)
		}
	}
	for _, h := range hooks {
		if err := h.AfterEndpointsAllocated(ctx, m); err != nil {
			return fmt.Errorf("%s: after endpoints allocated: %w", h.Name(), err)
		}
	}
	return nil
}

// Close disposes every hook in reverse registration order, regardless of how
// far Start got, and returns the first error. It is safe to call even if
// Start was never invoked.
func (s *Sequencer) Close(ctx context.Context) error {
	s.mu.Lock()
	hooks := append([]Hook(nil), s.hooks...)
	s.mu.Unlock()

	var firstErr error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i].Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: close: %w", hooks[i].Name(), err)
		}
	}
	return firstErr
}
