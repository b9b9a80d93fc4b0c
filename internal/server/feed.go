package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/torosent/tickstat/internal/metrics"
	"github.com/torosent/tickstat/internal/tracing"
)

// errPingTimeout ends a feed whose client stopped answering pings.
var errPingTimeout = errors.New("feed ping timed out")

// handleFeed upgrades to a WebSocket and streams every closed interval
// snapshot matching the optional type filter, one JSON message per snapshot.
func (s *Server) handleFeed(c *gin.Context) {
	var types []metrics.MeasurementType
	if raw := c.Query("type"); raw != "" {
		t, err := metrics.ParseMeasurementType(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		types = append(types, t)
	}

	// Subscribe before the handshake so the client sees every snapshot
	// published after its dial returns.
	sub, err := s.engine.Subscribe(types...)
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.engine.Unsubscribe(sub)
		s.logger.Debug("feed upgrade failed", zap.Error(err))
		return
	}
	completeRequest(c, http.StatusSwitchingProtocols)
	tracked := s.trackConns.Load()

	filter := ""
	if len(types) == 1 {
		filter = string(types[0])
	}
	log := s.logger.With(zap.String("subscriber", sub.ID()), zap.String("type", filter))
	log.Debug("feed opened")

	ctx, span := tracing.StartFeedSpan(c.Request.Context(), s.tracing.Tracer(), sub.ID(), filter)
	err = s.streamFeed(ctx, conn, sub)

	s.engine.Unsubscribe(sub)
	_ = conn.Close()
	if tracked {
		s.engine.Record(metrics.ConnectionClosed())
	}

	tracing.EndSpan(span, err, attribute.Int64("tickstat.dropped_snapshots", int64(sub.Dropped())))
	if err != nil {
		log.Info("feed closed", zap.Error(err), zap.Uint64("dropped", sub.Dropped()))
		return
	}
	log.Debug("feed closed", zap.Uint64("dropped", sub.Dropped()))
}

// streamFeed owns the write side of conn. A reader goroutine consumes control
// frames; the pong handler lifts the read deadline armed by each ping.
func (s *Server) streamFeed(ctx context.Context, conn *websocket.Conn, sub *metrics.Subscriber) error {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Time{})
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				return closeFeed(conn, websocket.CloseNormalClosure, "statistics engine stopped")
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.PingTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}

		case <-ping.C:
			// Arm the deadline before the ping so a fast pong cannot be
			// overtaken by it.
			if err := conn.SetReadDeadline(time.Now().Add(s.opts.PingTimeout)); err != nil {
				return fmt.Errorf("arm ping deadline: %w", err)
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.PingTimeout)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}

		case err := <-readErr:
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				return nil
			case isTimeout(err):
				return errPingTimeout
			default:
				return fmt.Errorf("read: %w", err)
			}

		case <-ctx.Done():
			return closeFeed(conn, websocket.CloseGoingAway, "server shutting down")
		}
	}
}

func closeFeed(conn *websocket.Conn, code int, reason string) error {
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("close feed: %w", err)
	}
	return nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
