package server

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/torosent/tickstat/internal/metrics"
)

// unmatchedRoute labels requests that matched no registered route, so unknown
// paths cannot grow the endpoint breakdown.
const unmatchedRoute = "(unmatched)"

// completeKey holds the completion func set by recordRequests.
const completeKey = "tickstat.complete"

// recordRequests reports the start and completion of every request to the
// engine. Endpoints are keyed by method and route template. A handler that
// hijacks the connection completes the request early with completeRequest,
// so a long lived feed counts only its handshake.
func recordRequests(engine *metrics.Engine) gin.HandlerFunc {
	if engine == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		engine.Record(metrics.RequestStarted())

		done := false
		complete := func(status int) {
			if done {
				return
			}
			done = true
			size := c.Writer.Size()
			if size < 0 {
				size = 0
			}
			engine.Record(metrics.RequestCompleted(
				endpointLabel(c),
				status,
				time.Since(start),
				int64(size),
			))
		}
		c.Set(completeKey, complete)

		c.Next()

		complete(c.Writer.Status())
	}
}

// completeRequest records the response for c now with the given status.
// Later completions of the same request are ignored.
func completeRequest(c *gin.Context, status int) {
	if v, ok := c.Get(completeKey); ok {
		if complete, ok := v.(func(int)); ok {
			complete(status)
		}
	}
}

func endpointLabel(c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		route = unmatchedRoute
	}
	return c.Request.Method + " " + route
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if ce := s.logger.Check(zap.DebugLevel, "request"); ce != nil {
			ce.Write(
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", c.Writer.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("client", c.ClientIP()),
			)
		}
	}
}

// connState turns connection lifecycle transitions into engine events.
// Hijacked connections belong to the feed handler, which reports their close.
func (s *Server) connState(_ net.Conn, state http.ConnState) {
	if s.engine == nil {
		return
	}
	switch state {
	case http.StateNew:
		s.engine.Record(metrics.ConnectionOpened())
	case http.StateClosed:
		s.engine.Record(metrics.ConnectionClosed())
	}
}

func (s *Server) requireEngine(c *gin.Context) {
	if s.engine == nil || !s.engine.Enabled() {
		writeError(c, http.StatusServiceUnavailable, "statistics are disabled")
		return
	}
	c.Next()
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
