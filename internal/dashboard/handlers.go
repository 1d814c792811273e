package dashboard

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"hostweave/internal/api"
	"hostweave/internal/apphost"
	"hostweave/internal/events"
	"hostweave/internal/health"
	"hostweave/internal/model"
)

// StateNotStarted is reported for resources that never published a snapshot.
const StateNotStarted = "NotStarted"

const (
	watchBuffer  = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type resourceView struct {
	Name                 string            `json:"name"`
	UID                  string            `json:"uid,omitempty"`
	Kind                 string            `json:"kind"`
	ResourceType         string            `json:"resource_type,omitempty"`
	State                string            `json:"state"`
	Health               string            `json:"health"`
	ExcludedFromManifest bool              `json:"excluded_from_manifest"`
	URLs                 []api.URLSnapshot `json:"urls"`
	UpdatedAt            *time.Time        `json:"updated_at,omitempty"`
}

type watchMessage struct {
	Type     string       `json:"type"`
	Resource resourceView `json:"resource"`
}

func (s *Server) view(r *model.Resource) resourceView {
	v := resourceView{
		Name:                 r.Name(),
		UID:                  r.UID(),
		Kind:                 string(r.Kind()),
		State:                StateNotStarted,
		Health:               "unknown",
		ExcludedFromManifest: r.ExcludedFromManifest(),
		URLs:                 []api.URLSnapshot{},
	}
	if snap, ok := s.app.Notifier().Snapshot(r.Name()); ok {
		s.applySnapshot(&v, snap)
	} else if st, ok := s.app.Health().Status(r.Name()); ok {
		v.Health = st.Level.String()
	}
	return v
}

func (s *Server) applySnapshot(v *resourceView, snap api.ResourceSnapshot) {
	v.ResourceType = snap.ResourceType
	if snap.State != "" {
		v.State = snap.State
	}
	if snap.URLs != nil {
		v.URLs = snap.URLs
	}
	if !snap.UpdatedAt.IsZero() {
		at := snap.UpdatedAt
		v.UpdatedAt = &at
	}
	v.Health = health.LevelForState(snap.State).String()
}

func (s *Server) handleListResources(c *gin.Context) {
	state := c.Query("state")
	out := make([]resourceView, 0)
	for _, r := range s.app.Model().Resources() {
		v := s.view(r)
		if state != "" && v.State != state {
			continue
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"resources": out})
}

func (s *Server) handleGetResource(c *gin.Context) {
	r, ok := s.app.Model().Resource(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}
	c.JSON(http.StatusOK, s.view(r))
}

func (s *Server) handleGetEndpoint(c *gin.Context) {
	name, endpoint := c.Param("name"), c.Param("endpoint")
	url, err := s.app.URL(name, endpoint)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"resource": name, "endpoint": endpoint, "url": url})
	case errors.Is(err, apphost.ErrUnknownResource), errors.Is(err, apphost.ErrUnknownEndpoint):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrNotAllocated):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleHealthLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": s.app.Health().Overall().String()})
}

func (s *Server) handleReadiness(c *gin.Context) {
	ready, snapshot := s.app.Health().Ready(s.app.Observed()...)
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"ready":      ready,
		"status":     s.app.Health().Overall().String(),
		"components": flattenHealth(snapshot),
	})
}

func flattenHealth(snapshot map[string]health.Status) []gin.H {
	components := make([]gin.H, 0, len(snapshot))
	for name, st := range snapshot {
		components = append(components, gin.H{
			"name":       name,
			"level":      st.Level.String(),
			"message":    st.Message,
			"updated_at": st.UpdatedAt,
		})
	}
	return components
}

// handleWatch streams the current snapshots followed by every update.
func (s *Server) handleWatch(c *gin.Context) {
	notifier := s.app.Notifier()
	// subscribe first so no update between the replay and the stream is lost
	updates := notifier.Watch(watchBuffer)
	defer notifier.Unwatch(updates)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("WARN: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(snap api.ResourceSnapshot) error {
		v := resourceView{Name: snap.Name, State: StateNotStarted, URLs: []api.URLSnapshot{}}
		if r, ok := s.app.Model().Resource(snap.Name); ok {
			v.UID = r.UID()
			v.Kind = string(r.Kind())
			v.ExcludedFromManifest = r.ExcludedFromManifest()
		}
		s.applySnapshot(&v, snap)
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(watchMessage{Type: "snapshot", Resource: v})
	}

	for _, snap := range notifier.Snapshots() {
		if err := send(snap); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-s.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "dashboard stopping")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
			return
		case evt, ok := <-updates:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "application stopped")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
				return
			}
			payload, ok := evt.Payload.(events.ResourceStateChanged)
			if !ok {
				continue
			}
			if err := send(payload.Snapshot); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
