package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hostweave/internal/api"
	"hostweave/internal/events"
)

type Level int

const (
	LevelOK Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "ok"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// MarshalText renders the level token in JSON payloads.
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

type Status struct {
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LevelForState maps a resource lifecycle state onto a health level.
func LevelForState(state string) Level {
	switch state {
	case api.StateRunning:
		return LevelOK
	case api.StateFailedToStart:
		return LevelError
	default:
		return LevelWarn
	}
}

// Tracker maintains a thread-safe collection of resource health statuses.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

func NewTracker() *Tracker {
	return &Tracker{statuses: make(map[string]Status)}
}

func (t *Tracker) Set(name string, status Status) {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	t.mu.Lock()
	t.statuses[name] = status
	t.mu.Unlock()
}

func (t *Tracker) Setf(name string, level Level, msg string) {
	t.Set(name, Status{Level: level, Message: msg, UpdatedAt: time.Now().UTC()})
}

func (t *Tracker) Status(name string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.statuses[name]
	return s, ok
}

func (t *Tracker) Snapshot() map[string]Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Status, len(t.statuses))
	for k, v := range t.statuses {
		out[k] = v
	}
	return out
}

func (t *Tracker) Overall() Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	worst := LevelOK
	for _, st := range t.statuses {
		if st.Level > worst {
			worst = st.Level
		}
	}
	return worst
}

// Ready reports whether every required resource is ok. With no names, every
// tracked resource must be ok.
func (t *Tracker) Ready(required ...string) (bool, map[string]Status) {
	snapshot := t.Snapshot()
	if len(required) == 0 {
		for _, st := range snapshot {
			if st.Level > LevelOK {
				return false, snapshot
			}
		}
		return true, snapshot
	}
	ok := true
	for _, name := range required {
		st, exists := snapshot[name]
		if !exists || st.Level > LevelOK {
			ok = false
		}
	}
	return ok, snapshot
}

// Record updates the status of the snapshot's resource. Snapshots older
// than the recorded status are ignored.
func (t *Tracker) Record(snap api.ResourceSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.statuses[snap.Name]; ok && !snap.UpdatedAt.IsZero() && prev.UpdatedAt.After(snap.UpdatedAt) {
		return
	}
	updated := snap.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	t.statuses[snap.Name] = Status{Level: LevelForState(snap.State), Message: snap.State, UpdatedAt: updated}
}

// Observe records every resource state event until ctx is done or the
// channel closes.
func (t *Tracker) Observe(ctx context.Context, updates <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-updates:
			if !ok {
				return
			}
			if payload, ok := evt.Payload.(events.ResourceStateChanged); ok {
				t.Record(payload.Snapshot)
			}
		}
	}
}
