package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// ChatServer is a fake chat server. Every accepted connection is handed to
// the test through Accept.
type ChatServer struct {
	*httptest.Server

	upgrader websocket.Upgrader
	conns    chan *ServerConn
	reject   atomic.Bool
}

type ServerConn struct {
	Room string

	ws      *websocket.Conn
	writeMu sync.Mutex
	frames  chan map[string]any
	closed  chan struct{}
}

func NewChatServer(t *testing.T) *ChatServer {
	s := &ChatServer{
		conns: make(chan *ServerConn, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWs)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Server.Close)
	return s
}

// URL returns the websocket endpoint.
func (s *ChatServer) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http") + "/ws"
}

// SetReject makes the server refuse upgrades.
func (s *ChatServer) SetReject(reject bool) {
	s.reject.Store(reject)
}

func (s *ChatServer) serveWs(w http.ResponseWriter, r *http.Request) {
	if s.reject.Load() {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &ServerConn{
		Room:   r.URL.Query().Get("room"),
		ws:     ws,
		frames: make(chan map[string]any, 64),
		closed: make(chan struct{}),
	}
	s.conns <- c

	go func() {
		defer close(c.closed)
		for {
			var f map[string]any
			if err := ws.ReadJSON(&f); err != nil {
				return
			}
			c.frames <- f
		}
	}()
}

// Accept waits for the next client connection.
func (s *ChatServer) Accept(t *testing.T) *ServerConn {
	t.Helper()
	select {
	case c := <-s.conns:
		t.Cleanup(c.Close)
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for client connection")
		return nil
	}
}

func (c *ServerConn) Send(t *testing.T, v any) {
	t.Helper()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(v); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func (c *ServerConn) SendRaw(t *testing.T, data string) {
	t.Helper()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// NextFrame waits for the next frame sent by the client.
func (c *ServerConn) NextFrame(t *testing.T) map[string]any {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for client frame")
		return nil
	}
}

// NoFrame asserts that the client sends nothing within d.
func (c *ServerConn) NoFrame(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case f := <-c.frames:
		raw, _ := json.Marshal(f)
		t.Fatalf("unexpected client frame: %s", raw)
	case <-time.After(d):
	}
}

// Closed is closed once the client side of the connection is gone.
func (c *ServerConn) Closed() <-chan struct{} {
	return c.closed
}

func (c *ServerConn) Close() {
	c.ws.Close()
}
