// Package webhost runs an embedded HTTP server as an orchestrated resource
// and reconciles its bound addresses back into the endpoint model.
package webhost

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"hostweave/internal/environment"
)

// Builder collects configuration for an embedded host before it is built.
type Builder struct {
	// Config is hierarchical with ":" as the key delimiter.
	Config *viper.Viper
	Logger *log.Logger

	middleware []gin.HandlerFunc
	https      bool
}

// NewBuilder creates a builder whose request and panic logs go to logger.
func NewBuilder(logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.Default()
	}
	return &Builder{
		Config: viper.NewWithOptions(viper.KeyDelimiter(":")),
		Logger: logger,
	}
}

// MergeConfig adds materialized variables to the configuration in order.
// Keys use ":" as the hierarchy separator and compare case-insensitively, so
// the last entry for a key wins.
func (b *Builder) MergeConfig(env environment.Env) {
	for _, e := range env {
		b.Config.Set(e.Key, e.Value)
	}
}

// Use appends middleware installed on the engine ahead of any route.
func (b *Builder) Use(mw ...gin.HandlerFunc) { b.middleware = append(b.middleware, mw...) }

// UseHTTPS enables HTTPS listener configuration.
func (b *Builder) UseHTTPS() { b.https = true }

// HTTPSEnabled reports whether UseHTTPS was called.
func (b *Builder) HTTPSEnabled() bool { return b.https }

// Build creates the host. No socket is opened until Start.
func (b *Builder) Build() (*App, error) {
	var tlsCfg *tls.Config
	if b.https {
		cfg, err := httpsConfig(b.Config)
		if err != nil {
			return nil, err
		}
		tlsCfg = cfg
	}
	w := logWriter{logger: b.Logger}
	engine := gin.New()
	engine.Use(gin.LoggerWithWriter(w), gin.RecoveryWithWriter(w))
	engine.Use(b.middleware...)
	return &App{
		Engine:    engine,
		Config:    b.Config,
		Logger:    b.Logger,
		tlsConfig: tlsCfg,
	}, nil
}

// App is a built embedded host.
type App struct {
	Engine *gin.Engine
	Config *viper.Viper
	Logger *log.Logger

	tlsConfig *tls.Config

	mu        sync.Mutex
	urls      []string
	servers   []*http.Server
	addresses []string
	group     *errgroup.Group
	started   bool
	closed    bool
}

// AddURL registers a listen URL. Must be called before Start.
func (a *App) AddURL(u string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.urls = append(a.urls, u)
}

// URLs returns the registered listen URLs.
func (a *App) URLs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.urls...)
}

// Addresses returns the concrete addresses bound by Start, in registration
// order.
func (a *App) Addresses() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.addresses...)
}

// Start binds every registered URL and begins serving. If any bind fails the
// listeners opened so far are closed and the error is returned.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("webhost: already started")
	}
	if a.closed {
		return errors.New("webhost: already closed")
	}

	type bound struct {
		ln     net.Listener
		secure bool
	}
	var listeners []bound
	release := func() {
		for _, b := range listeners {
			_ = b.ln.Close()
		}
	}

	var lc net.ListenConfig
	var addresses []string
	for _, raw := range a.urls {
		if err := ctx.Err(); err != nil {
			release()
			return err
		}
		u, err := url.Parse(raw)
		if err != nil {
			release()
			return fmt.Errorf("invalid listen url %q: %w", raw, err)
		}
		scheme := strings.ToLower(u.Scheme)
		secure := scheme == "https"
		if secure && a.tlsConfig == nil {
			release()
			return fmt.Errorf("listen url %s requires https configuration", raw)
		}
		reportHost := u.Hostname()
		bindHost := reportHost
		if strings.EqualFold(reportHost, LoopbackHost) {
			bindHost = "127.0.0.1"
		}
		port := u.Port()
		if port == "" {
			port = "0"
		}
		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(bindHost, port))
		if err != nil {
			release()
			return fmt.Errorf("bind %s: %w", raw, err)
		}
		listeners = append(listeners, bound{ln: ln, secure: secure})

		tcp, _ := ln.Addr().(*net.TCPAddr)
		if !strings.EqualFold(reportHost, LoopbackHost) && tcp != nil {
			reportHost = tcp.IP.String()
		}
		actualPort := port
		if tcp != nil {
			actualPort = strconv.Itoa(tcp.Port)
		}
		addresses = append(addresses, scheme+"://"+net.JoinHostPort(reportHost, actualPort))
	}

	g := new(errgroup.Group)
	for i, b := range listeners {
		srv := &http.Server{ReadHeaderTimeout: 30 * time.Second, ErrorLog: a.Logger}
		ln := b.ln
		if b.secure {
			srv.Handler = a.Engine
			srv.TLSConfig = a.tlsConfig.Clone()
			g.Go(func() error { return ignoreClosed(srv.ServeTLS(ln, "", "")) })
		} else {
			srv.Handler = h2c.NewHandler(a.Engine, &http2.Server{})
			g.Go(func() error { return ignoreClosed(srv.Serve(ln)) })
		}
		a.servers = append(a.servers, srv)
		a.Logger.Printf("INFO: listening on %s (requested %s)", addresses[i], a.urls[i])
	}
	a.group = g
	a.addresses = addresses
	a.started = true
	return nil
}

// Close gracefully shuts the host down. It is a no-op if the host never
// started and safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	servers := a.servers
	g := a.group
	a.mu.Unlock()

	var firstErr error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
			_ = srv.Close()
		}
	}
	if g != nil {
		if err := g.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// logWriter routes gin output through a resource logger, one line per call.
type logWriter struct {
	logger *log.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.logger.Print(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
