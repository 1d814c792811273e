// Package dashboard serves a read-only HTTP API over the resources of a
// running application host.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"hostweave/internal/apphost"
)

const watchPath = "/api/v1/resources/watch"

// Server is the dashboard HTTP server.
type Server struct {
	app    *apphost.Application
	logger *log.Logger
	router *gin.Engine

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
	stopOnce sync.Once
}

// New builds the dashboard for app. A nil logger uses the standard logger.
func New(app *apphost.Application, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	validator, err := newOpenAPIValidator(nil)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	s := &Server{app: app, logger: logger, done: make(chan struct{})}
	s.router = s.setupRoutes(validator)
	return s, nil
}

// Handler returns the HTTP handler serving the dashboard.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes(validator *openAPIValidator) *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithWriter(s.logger.Writer()))
	r.Use(gin.RecoveryWithWriter(s.logger.Writer()))
	// hijacked websocket connections must not be wrapped
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{watchPath})))
	r.Use(validator.Middleware())

	r.GET("/healthz", s.handleHealthLive)
	r.GET("/readyz", s.handleReadiness)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/resources", s.handleListResources)
		v1.GET("/resources/watch", s.handleWatch)
		v1.GET("/resources/:name", s.handleGetResource)
		v1.GET("/resources/:name/endpoints/:endpoint", s.handleGetEndpoint)
	}
	return r
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("dashboard: already started")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("dashboard listen %s: %w", addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	srv := s.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("WARN: dashboard server stopped: %v", err)
		}
	}()
	s.logger.Printf("INFO: dashboard listening on http://%s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop ends open watch streams and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
