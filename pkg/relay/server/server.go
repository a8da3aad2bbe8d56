package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yago-123/wormhole/pkg/relay/store"
)

// Websocket sessions outlive any read or write timeout, so only the handshake is bounded
const (
	ServerReadHeaderTimeout = 5 * time.Second
	ServerIdleTimeout       = 10 * time.Second
	MaxHeaderBytes          = 1 << 20
)

type RelayServer struct {
	handlers   *Handler
	router     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	logger     logr.Logger
}

func NewRelay(opts ...Option) *RelayServer {
	cfg := newDefaultConfig()

	for _, opt := range opts {
		opt(cfg)
	}

	s := &RelayServer{
		handlers: newHandler(store.NewMemoryStore[*waiter](), cfg),
		logger:   cfg.logger,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests)

	if cfg.metrics {
		RegisterMetrics()
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	r.GET("/", s.handlers.NewSlotHandler)
	r.GET("/:slot", s.handlers.JoinSlotHandler)

	s.router = r

	return s
}

// Router returns the HTTP handler serving the relay, for embedding or testing
func (s *RelayServer) Router() http.Handler {
	return s.router
}

// Start listens on addr and serves the relay in the background
func (s *RelayServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: ServerReadHeaderTimeout,
		IdleTimeout:       ServerIdleTimeout,
		MaxHeaderBytes:    MaxHeaderBytes,
	}

	go func() {
		if errServe := s.httpServer.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			s.logger.Error(errServe, "Relay server stopped unexpectedly")
		}
	}()

	s.logger.Info("Relay server started", "address", ln.Addr().String())

	return nil
}

// Addr returns the address the relay listens on, nil before Start
func (s *RelayServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down. Hijacked websocket sessions are not waited for
func (s *RelayServer) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *RelayServer) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.V(2).Info("Relay request", "path", c.Request.URL.Path, "remote", c.ClientIP(), "duration", time.Since(start).String())
}
