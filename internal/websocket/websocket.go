// Package websocket is a client for the live statistics feed.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/torosent/tickstat/internal/metrics"
)

// FeedPath is the server route of the live feed.
const FeedPath = "/api/stats/feed"

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	// ErrFeedClosed is returned by Next once the server ended the feed with
	// a normal or going-away close frame.
	ErrFeedClosed = errors.New("feed closed by server")
)

// Metrics captures feed client counters.
type Metrics struct {
	ConnectionDuration time.Duration
	MessagesReceived   int64
	BytesReceived      int64
	// Skipped counts messages that were not snapshots.
	Skipped int64
	// Missed counts snapshots the server dropped for this subscriber,
	// detected as gaps in the per-type sequence numbers.
	Missed uint64
	Errors int64
}

// Config configures the feed client.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	MaxMessageSize   int64
}

// Client reads interval snapshots from a feed connection.
type Client struct {
	url         string
	headers     http.Header
	dialer      *websocket.Dialer
	maxMessage  int64
	conn        *websocket.Conn
	mu          sync.Mutex
	connectTime time.Time
	lastSeq     map[metrics.MeasurementType]uint64
	messages    int64
	bytes       int64
	skipped     int64
	missed      uint64
	errors      int64
}

// NewClient creates a feed client. Connect must be called before Next.
func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1024 * 1024
	}

	return &Client{
		url:     cfg.URL,
		headers: cfg.Headers,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		maxMessage: cfg.MaxMessageSize,
		lastSeq:    make(map[metrics.MeasurementType]uint64),
	}
}

// Connect performs the WebSocket handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return ErrAlreadyConnected
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		c.errors++
		if resp != nil {
			return fmt.Errorf("feed dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("feed dial failed: %w", err)
	}
	conn.SetReadLimit(c.maxMessage)

	c.conn = conn
	c.connectTime = time.Now()
	return nil
}

// Next blocks until the next snapshot arrives. Messages that are not
// snapshots are skipped. Cancelling ctx interrupts the read and leaves the
// connection unusable; call Close afterwards.
func (c *Client) Next(ctx context.Context) (metrics.Snapshot, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return metrics.Snapshot{}, ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return metrics.Snapshot{}, c.readError(ctx, err)
		}

		c.mu.Lock()
		c.messages++
		c.bytes += int64(len(data))
		c.mu.Unlock()

		if msgType != websocket.TextMessage || !isSnapshot(data) {
			c.mu.Lock()
			c.skipped++
			c.mu.Unlock()
			continue
		}

		var snap metrics.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			c.mu.Lock()
			c.errors++
			c.mu.Unlock()
			return metrics.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
		}
		snap.Duration = time.Duration(snap.DurationMs * float64(time.Millisecond))
		c.track(snap)
		return snap, nil
	}
}

func (c *Client) readError(ctx context.Context, err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) &&
		(closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
		if closeErr.Text != "" {
			return fmt.Errorf("%w: %s", ErrFeedClosed, closeErr.Text)
		}
		return ErrFeedClosed
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
	return fmt.Errorf("read message: %w", err)
}

// isSnapshot checks the message shape without a full decode.
func isSnapshot(data []byte) bool {
	if !gjson.ValidBytes(data) {
		return false
	}
	fields := gjson.GetManyBytes(data, "type", "seq")
	return fields[0].Type == gjson.String && fields[1].Type == gjson.Number
}

func (c *Client) track(snap metrics.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastSeq[snap.Type]; ok && snap.Seq > last+1 {
		c.missed += snap.Seq - last - 1
	}
	c.lastSeq[snap.Type] = snap.Seq
}

// Close sends a normal close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	closeErr := c.conn.Close()
	c.conn = nil

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return closeErr
}

// Metrics returns the current counters.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	var duration time.Duration
	if !c.connectTime.IsZero() {
		duration = time.Since(c.connectTime)
	}
	return Metrics{
		ConnectionDuration: duration,
		MessagesReceived:   c.messages,
		BytesReceived:      c.bytes,
		Skipped:            c.skipped,
		Missed:             c.missed,
		Errors:             c.errors,
	}
}

// FeedURL turns a server address into the feed URL. http and https bases are
// mapped to ws and wss; a base without a path gets the feed route.
func FeedURL(base, measurementType string) (string, error) {
	if !strings.Contains(base, "://") {
		base = "ws://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported feed url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("feed url %q has no host", base)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = FeedPath
	}
	if measurementType != "" {
		q := u.Query()
		q.Set("type", measurementType)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
