// Package server exposes a statistics engine over HTTP: the JSON summary and
// history endpoints, the live WebSocket feed, Prometheus metrics and the
// middleware that feeds every request and connection back into the engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/torosent/tickstat/internal/metrics"
	"github.com/torosent/tickstat/internal/tracing"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	defaultPingInterval    = 60 * time.Second
	defaultPingTimeout     = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration

	// PingInterval and PingTimeout control feed keepalive. A feed whose
	// client does not answer a ping within PingTimeout is closed.
	PingInterval time.Duration
	PingTimeout  time.Duration

	// Engine is the statistics engine to serve. When nil the stats
	// endpoints answer 503 and requests are not recorded.
	Engine  *metrics.Engine
	Logger  *zap.Logger
	Tracing *tracing.Provider
}

// Server is the HTTP front end of a statistics engine.
type Server struct {
	opts     Options
	engine   *metrics.Engine
	logger   *zap.Logger
	tracing  *tracing.Provider
	router   *gin.Engine
	registry *prometheus.Registry
	upgrader websocket.Upgrader

	// trackConns is set while Serve owns the listener, so hijacked feed
	// connections are only reported closed if their opening was seen.
	trackConns atomic.Bool
}

// New builds the router and registers every route.
func New(opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Server{
		opts:     opts,
		engine:   opts.Engine,
		logger:   opts.Logger,
		tracing:  opts.Tracing,
		registry: prometheus.NewRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	s.registry.MustRegister(collectors.NewGoCollector())
	if s.engine != nil {
		s.registry.MustRegister(&metrics.PrometheusCollector{Engine: s.engine})
	}

	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.CustomRecoveryWithWriter(io.Discard, s.recoverHandler))
	if s.tracing != nil {
		router.Use(otelgin.Middleware(tracing.DefaultServiceName,
			otelgin.WithTracerProvider(s.tracing.TracerProvider()),
			otelgin.WithPropagators(s.tracing.Propagator()),
			otelgin.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/metrics" }),
		))
	}
	router.Use(s.logRequests(), recordRequests(s.engine))

	router.GET("/api/ping", s.handlePing)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	stats := router.Group("/api/stats", s.requireEngine)
	stats.GET("", s.handleStats)
	stats.GET("/history", s.handleHistory)
	stats.GET("/feed", s.handleFeed)

	router.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "not found")
	})
	return router
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the Prometheus registry behind /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully within the configured timeout. Open feeds end when ctx is
// cancelled or when the engine closes their subscription.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		ConnState:         s.connState,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}

	s.trackConns.Store(true)
	defer s.trackConns.Store(false)

	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	<-errCh
	s.logger.Info("http server stopped")
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) recoverHandler(c *gin.Context, recovered any) {
	s.logger.Error("handler panic",
		zap.String("path", c.Request.URL.Path),
		zap.Any("panic", recovered),
	)
	writeError(c, http.StatusInternalServerError, "internal error")
}
