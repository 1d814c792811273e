// Package notify publishes resource lifecycle snapshots to observers.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hostweave/internal/api"
	"hostweave/internal/events"
	"hostweave/internal/model"
)

// Service stores the latest snapshot per resource and broadcasts every
// update on the event bus. It does not enforce state ordering; callers do.
type Service struct {
	bus *events.Bus

	mu        sync.RWMutex
	snapshots map[string]api.ResourceSnapshot
	waiters   map[*waiter]struct{}
}

// waiter is a pending WaitForState call, matched by PublishUpdate under mu.
type waiter struct {
	name   string
	states []string
	ch     chan api.ResourceSnapshot
}

func (w *waiter) matches(snap api.ResourceSnapshot) bool {
	for _, st := range w.states {
		if snap.State == st {
			return true
		}
	}
	return false
}

// NewService creates a notifier publishing on bus. A nil bus keeps
// snapshots without broadcasting.
func NewService(bus *events.Bus) *Service {
	return &Service{
		bus:       bus,
		snapshots: make(map[string]api.ResourceSnapshot),
		waiters:   make(map[*waiter]struct{}),
	}
}

// PublishUpdate applies update to the resource's current snapshot and
// publishes the result.
func (s *Service) PublishUpdate(r *model.Resource, update func(api.ResourceSnapshot) api.ResourceSnapshot) api.ResourceSnapshot {
	s.mu.Lock()
	prev, ok := s.snapshots[r.Name()]
	if !ok {
		prev = api.ResourceSnapshot{Name: r.Name(), UID: r.UID()}
	}
	next := prev.Clone()
	if update != nil {
		next = update(next).Clone()
	}
	next.Name = r.Name()
	next.UID = r.UID()
	next.UpdatedAt = time.Now().UTC()
	s.snapshots[r.Name()] = next
	for w := range s.waiters {
		if w.name == next.Name && w.matches(next) {
			w.ch <- next.Clone()
			delete(s.waiters, w)
		}
	}
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Topic:   events.TopicResourceState,
			Payload: events.ResourceStateChanged{Snapshot: next.Clone()},
		})
	}
	return next.Clone()
}

// Snapshot returns the latest snapshot for a resource.
func (s *Service) Snapshot(name string) (api.ResourceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[name]
	return snap.Clone(), ok
}

// Snapshots returns all snapshots ordered by resource name.
func (s *Service) Snapshots() []api.ResourceSnapshot {
	s.mu.RLock()
	out := make([]api.ResourceSnapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Watch subscribes to snapshot updates. Release the channel with Unwatch.
func (s *Service) Watch(buffer int) <-chan events.Event {
	if s.bus == nil {
		ch := make(chan events.Event)
		close(ch)
		return ch
	}
	return s.bus.Subscribe(events.TopicResourceState, buffer)
}

// Unwatch releases a channel obtained from Watch.
func (s *Service) Unwatch(ch <-chan events.Event) {
	if s.bus != nil {
		s.bus.Unsubscribe(events.TopicResourceState, ch)
	}
}

// WaitForState blocks until the named resource reports one of states. The
// current snapshot counts; otherwise the first matching update is returned.
func (s *Service) WaitForState(ctx context.Context, name string, states ...string) (api.ResourceSnapshot, error) {
	w := &waiter{name: name, states: states, ch: make(chan api.ResourceSnapshot, 1)}

	s.mu.Lock()
	if snap, ok := s.snapshots[name]; ok && w.matches(snap) {
		s.mu.Unlock()
		return snap.Clone(), nil
	}
	s.waiters[w] = struct{}{}
	s.mu.Unlock()

	select {
	case snap := <-w.ch:
		return snap, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.waiters, w)
		s.mu.Unlock()
		// an update may have matched while the context was ending
		select {
		case snap := <-w.ch:
			return snap, nil
		default:
		}
		return api.ResourceSnapshot{}, fmt.Errorf("wait for resource %s: %w", name, ctx.Err())
	}
}
