package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExecutionMode enumerates how the application host is being executed.
type ExecutionMode uint8

const (
	ModeUnknown ExecutionMode = iota
	ModeRun
	ModePublish
)

var modeToString = map[ExecutionMode]string{
	ModeRun:     "run",
	ModePublish: "publish",
}

var modeFromString = map[string]ExecutionMode{
	"run":     ModeRun,
	"publish": ModePublish,
}

// String returns the token representation of the mode.
func (m ExecutionMode) String() string {
	if s, ok := modeToString[m]; ok {
		return s
	}
	return ""
}

// IsRun reports whether resources are actually started.
func (m ExecutionMode) IsRun() bool { return m == ModeRun }

// IsPublish reports whether the host only produces a deployment description.
func (m ExecutionMode) IsPublish() bool { return m == ModePublish }

// MarshalJSON converts the mode enum back to its token.
func (m ExecutionMode) MarshalJSON() ([]byte, error) {
	if m == ModeUnknown {
		return json.Marshal("")
	}
	return json.Marshal(m.String())
}

// UnmarshalJSON parses a mode token.
func (m *ExecutionMode) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	mode, err := ParseExecutionMode(raw)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (m ExecutionMode) MarshalYAML() (interface{}, error) {
	if m == ModeUnknown {
		return nil, nil
	}
	return m.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *ExecutionMode) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	mode, err := ParseExecutionMode(raw)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseExecutionMode converts a token ("run", "publish") into a mode.
// An empty token yields ModeUnknown.
func ParseExecutionMode(raw string) (ExecutionMode, error) {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == "" {
		return ModeUnknown, nil
	}
	if mode, ok := modeFromString[token]; ok {
		return mode, nil
	}
	return ModeUnknown, fmt.Errorf("invalid execution mode '%s'", raw)
}

// Well-known resource lifecycle states published to observers.
const (
	StateStarting      = "Starting"
	StateRunning       = "Running"
	StateFailedToStart = "FailedToStart"
	StateFinished      = "Finished"
)

// URLSnapshot is the reachable URL of one endpoint of a resource.
type URLSnapshot struct {
	Name       string `json:"name" yaml:"name"`
	URL        string `json:"url" yaml:"url"`
	IsInternal bool   `json:"is_internal" yaml:"is_internal"`
}

// ResourceSnapshot is the immutable observable state of a resource.
type ResourceSnapshot struct {
	Name         string        `json:"name" yaml:"name"`
	UID          string        `json:"uid" yaml:"uid"`
	ResourceType string        `json:"resource_type" yaml:"resource_type"`
	State        string        `json:"state" yaml:"state"`
	URLs         []URLSnapshot `json:"urls" yaml:"urls"`
	UpdatedAt    time.Time     `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy so callers can never mutate a published snapshot.
func (s ResourceSnapshot) Clone() ResourceSnapshot {
	out := s
	if s.URLs != nil {
		out.URLs = make([]URLSnapshot, len(s.URLs))
		copy(out.URLs, s.URLs)
	}
	return out
}

// URL returns the reachable URL recorded for the named endpoint.
func (s ResourceSnapshot) URL(endpoint string) (string, bool) {
	for _, u := range s.URLs {
		if u.Name == endpoint {
			return u.URL, true
		}
	}
	return "", false
}
