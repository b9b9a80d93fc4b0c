package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/tickstat/internal/metrics"
)

// Helper function to create a test WebSocket server
func createTestWSServer(handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func closeNormally(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second))
	// Wait for the client to answer the close frame.
	_, _, _ = conn.ReadMessage()
}

func connect(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client := NewClient(Config{URL: wsURL(server)})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestFeedNextDecodesSnapshots(t *testing.T) {
	server := createTestWSServer(func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"seq":1,"type":"times","start":"2024-01-01T00:00:00Z","duration_ms":1000,"count":3,"sum":60,"min":10,"max":30,"mean":20,"p99":30}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"seq":1,"type":"responses","duration_ms":1000,"count":3,"codes":{"200":3},"bytes":42}`))
		closeNormally(conn, "")
	})
	defer server.Close()

	client := connect(t, server)
	ctx := context.Background()

	snap, err := client.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if snap.Type != metrics.TypeTimes || snap.Seq != 1 {
		t.Errorf("expected times seq 1, got %s seq %d", snap.Type, snap.Seq)
	}
	if snap.Count != 3 || snap.Sum != 60 || snap.Min != 10 || snap.Max != 30 || snap.P99 != 30 {
		t.Errorf("unexpected stats %+v", snap.Stats)
	}
	if snap.Duration != time.Second {
		t.Errorf("expected 1s duration, got %s", snap.Duration)
	}

	snap, err = client.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if snap.Codes["200"] != 3 || snap.Bytes != 42 {
		t.Errorf("expected codes and bytes on responses snapshot, got %v / %d", snap.Codes, snap.Bytes)
	}

	if _, err := client.Next(ctx); !errors.Is(err, ErrFeedClosed) {
		t.Errorf("expected ErrFeedClosed, got %v", err)
	}
}

func TestFeedNextSkipsOtherMessages(t *testing.T) {
	server := createTestWSServer(func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":"world"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"seq":7,"type":"memory","count":1,"sum":1024}`))
		closeNormally(conn, "")
	})
	defer server.Close()

	client := connect(t, server)

	snap, err := client.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if snap.Type != metrics.TypeMemory || snap.Seq != 7 {
		t.Errorf("expected memory seq 7, got %s seq %d", snap.Type, snap.Seq)
	}

	m := client.Metrics()
	if m.Skipped != 3 {
		t.Errorf("expected 3 skipped messages, got %d", m.Skipped)
	}
	if m.MessagesReceived != 4 {
		t.Errorf("expected 4 messages received, got %d", m.MessagesReceived)
	}
}

func TestFeedMissedSnapshots(t *testing.T) {
	server := createTestWSServer(func(conn *websocket.Conn) {
		for _, msg := range []string{
			`{"seq":1,"type":"requests"}`,
			`{"seq":1,"type":"times"}`,
			`{"seq":2,"type":"requests"}`,
			`{"seq":5,"type":"requests"}`,
			`{"seq":3,"type":"times"}`,
		} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
		closeNormally(conn, "")
	})
	defer server.Close()

	client := connect(t, server)
	for i := 0; i < 5; i++ {
		if _, err := client.Next(context.Background()); err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
	}

	if got := client.Metrics().Missed; got != 3 {
		t.Errorf("expected 3 missed snapshots, got %d", got)
	}
}

func TestFeedClosedWithReason(t *testing.T) {
	server := createTestWSServer(func(conn *websocket.Conn) {
		closeNormally(conn, "statistics engine stopped")
	})
	defer server.Close()

	client := connect(t, server)
	_, err := client.Next(context.Background())
	if !errors.Is(err, ErrFeedClosed) {
		t.Fatalf("expected ErrFeedClosed, got %v", err)
	}
	if !strings.Contains(err.Error(), "statistics engine stopped") {
		t.Errorf("expected close reason in error, got %v", err)
	}
}

func TestFeedContextCancellation(t *testing.T) {
	server := createTestWSServer(func(conn *websocket.Conn) {
		// Never send anything.
		_, _, _ = conn.ReadMessage()
	})
	defer server.Close()

	client := connect(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestFeedConnectionError(t *testing.T) {
	client := NewClient(Config{
		URL:              "ws://127.0.0.1:1/api/stats/feed",
		HandshakeTimeout: 500 * time.Millisecond,
	})
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected connection error")
	}
	if client.Metrics().Errors != 1 {
		t.Errorf("expected 1 error, got %d", client.Metrics().Errors)
	}
}

func TestFeedRejectedHandshake(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unknown measurement type"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(Config{URL: wsURL(server)})
	err := client.Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Errorf("expected handshake failure with status 400, got %v", err)
	}
}

func TestFeedNextWithoutConnect(t *testing.T) {
	client := NewClient(Config{URL: "ws://localhost:8080/api/stats/feed"})
	if _, err := client.Next(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close without connect should succeed, got %v", err)
	}
}

func TestFeedMultipleConnectError(t *testing.T) {
	server := createTestWSServer(func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})
	defer server.Close()

	client := connect(t, server)
	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestFeedCustomHeaders(t *testing.T) {
	received := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("Traceparent")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	headers := http.Header{}
	headers.Set("Traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	client := NewClient(Config{URL: wsURL(server), Headers: headers})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if got := <-received; got != headers.Get("Traceparent") {
		t.Errorf("expected traceparent header to be sent, got %q", got)
	}
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(Config{URL: "ws://localhost:8080"})
	if client.dialer.HandshakeTimeout != 10*time.Second {
		t.Errorf("expected default handshake timeout 10s, got %v", client.dialer.HandshakeTimeout)
	}
	if client.maxMessage != 1024*1024 {
		t.Errorf("expected default max message size 1MB, got %d", client.maxMessage)
	}
}

func TestFeedURL(t *testing.T) {
	tests := []struct {
		base    string
		typ     string
		want    string
		wantErr bool
	}{
		{"http://localhost:8080", "", "ws://localhost:8080/api/stats/feed", false},
		{"https://stats.example.com/", "times", "wss://stats.example.com/api/stats/feed?type=times", false},
		{"localhost:9000", "memory", "ws://localhost:9000/api/stats/feed?type=memory", false},
		{"ws://host:1/custom/feed", "", "ws://host:1/custom/feed", false},
		{"ftp://host", "", "", true},
		{"http://", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := FeedURL(tt.base, tt.typ)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("FeedURL error: %v", err)
			}
			if got != tt.want {
				t.Errorf("FeedURL(%q, %q) = %q, want %q", tt.base, tt.typ, got, tt.want)
			}
		})
	}
}
