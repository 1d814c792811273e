package notify

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"hostweave/internal/events"
)

// LoggerService hands out one logger per resource name. Lines are written to
// the shared output with a "[name] " prefix and mirrored on the event bus.
type LoggerService struct {
	out io.Writer
	bus *events.Bus

	mu      sync.Mutex
	loggers map[string]*log.Logger
}

// NewLoggerService writes to out (stderr when nil).
func NewLoggerService(out io.Writer, bus *events.Bus) *LoggerService {
	if out == nil {
		out = os.Stderr
	}
	return &LoggerService{out: out, bus: bus, loggers: make(map[string]*log.Logger)}
}

// Logger returns the logger for a resource, creating it on first use.
func (s *LoggerService) Logger(resource string) *log.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.loggers[resource]; ok {
		return l
	}
	w := io.Writer(s.out)
	if s.bus != nil {
		w = io.MultiWriter(s.out, &busWriter{bus: s.bus, resource: resource})
	}
	l := log.New(w, "["+resource+"] ", log.LstdFlags|log.Lmsgprefix)
	s.loggers[resource] = l
	return l
}

type busWriter struct {
	bus      *events.Bus
	resource string
}

func (w *busWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	w.bus.Publish(events.Event{Topic: events.TopicResourceLog, Payload: events.ResourceLogLine{Resource: w.resource, Line: line}})
	return len(p), nil
}
