// Package conn owns the websocket connection to the chat server: its
// lifecycle state machine, keepalive, frame routing and decoding.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/roomchat/internal/pipeline"
	"github.com/npezzotti/roomchat/internal/roomid"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/npezzotti/roomchat/internal/types"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	sendBuffer    = 256
	pendingBuffer = 256
	eventBuffer   = 256
)

var (
	ErrManagerClosed = errors.New("connection manager closed")
	ErrSendQueueFull = errors.New("send queue full")
)

type Manager struct {
	log      zerolog.Logger
	endpoint *url.URL
	dialer   *websocket.Dialer
	pipeline *pipeline.Pipeline
	stats    stats.StatsProvider

	// openMu serializes Open so that only one dial is in flight.
	openMu sync.Mutex

	mu         sync.Mutex
	state      types.ConnectionState
	roomID     string
	current    *transport
	nextID     uint64
	dialCancel context.CancelFunc
	closed     bool

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

type Option func(*Manager)

func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

func NewManager(endpoint string, p *pipeline.Pipeline, su stats.StatsProvider, logger zerolog.Logger, opts ...Option) (*Manager, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("endpoint must be ws or wss, got %q", endpoint)
	}

	m := &Manager{
		log:      logger.With().Str("component", "conn").Logger(),
		endpoint: u,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		pipeline: p,
		stats:    su,
		state:    types.StateIdle,
		events:   make(chan Event, eventBuffer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Events is closed by Close once every goroutine has exited.
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) State() types.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) RoomID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomID
}

func (m *Manager) roomURL(roomID string) string {
	u := *m.endpoint
	q := u.Query()
	q.Set("room", roomID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Open connects to roomID. A live transport from an earlier Open is torn
// down and drained first, so re-opening the same room is how callers
// reconnect.
func (m *Manager) Open(ctx context.Context, roomID string) error {
	if !roomid.IsValid(roomID) {
		return fmt.Errorf("open: %w", types.ErrInvalidRoomIdentifier)
	}

	m.openMu.Lock()
	defer m.openMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	prev := m.current
	m.current = nil
	m.mu.Unlock()

	if prev != nil {
		m.log.Debug().Uint64("transport", prev.id).Msg("replacing transport")
		prev.shutdown()
		<-prev.done
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.roomID = roomID
	m.dialCancel = cancel
	m.state = types.StateConnecting
	m.mu.Unlock()
	m.emit(Event{Type: EventStateChanged, State: types.StateConnecting})

	ws, _, err := m.dialer.DialContext(dialCtx, m.roomURL(roomID), nil)

	m.mu.Lock()
	m.dialCancel = nil
	if err != nil {
		m.state = types.StateClosed
		m.mu.Unlock()

		err = fmt.Errorf("dial: %w: %w", types.ErrTransportClosed, err)
		m.log.Warn().Err(err).Str("room", roomID).Msg("connect failed")
		m.emit(Event{Type: EventStateChanged, State: types.StateClosed, Err: err})
		return err
	}
	if m.closed {
		m.mu.Unlock()
		ws.Close()
		return ErrManagerClosed
	}

	m.nextID++
	t := newTransport(m.nextID, ws)
	m.current = t
	m.state = types.StateOpen
	m.wg.Add(3)
	m.mu.Unlock()

	m.log.Info().Str("room", roomID).Uint64("transport", t.id).Msg("connected")
	m.emit(Event{Type: EventStateChanged, State: types.StateOpen})

	go m.writePump(t)
	go m.sequence(t)
	go m.readPump(t)

	return nil
}

// Send encodes plaintext and queues it as a chat frame. Nothing is written
// if the manager is not open or encoding fails.
func (m *Manager) Send(ctx context.Context, plaintext string) error {
	t := m.openTransport()
	if t == nil {
		return types.ErrNotConnected
	}

	c, err := m.pipeline.Encode(ctx, plaintext)
	if err != nil {
		m.stats.Incr(stats.SendFailures)
		return err
	}

	data, err := json.Marshal(chatFrame{Type: FrameChat, Message: string(c)})
	if err != nil {
		return fmt.Errorf("marshal chat frame: %w", err)
	}

	if err := m.enqueue(t, data); err != nil {
		m.stats.Incr(stats.SendFailures)
		return err
	}

	m.stats.Incr(stats.MessagesSent)
	return nil
}

// SendTyping puts a typing signal on the wire. Typing payloads are never
// encrypted.
func (m *Manager) SendTyping(typing bool) error {
	t := m.openTransport()
	if t == nil {
		return types.ErrNotConnected
	}

	data, err := json.Marshal(typingFrame{Type: FrameTyping, Typing: typing})
	if err != nil {
		return fmt.Errorf("marshal typing frame: %w", err)
	}

	if err := m.enqueue(t, data); err != nil {
		return err
	}

	m.stats.Incr(stats.TypingSignalsSent)
	return nil
}

func (m *Manager) openTransport() *transport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != types.StateOpen {
		return nil
	}
	return m.current
}

func (m *Manager) enqueue(t *transport, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// the transport may have gone away while the caller was encoding
	if m.current != t || m.state != types.StateOpen || t.stopped() {
		return types.ErrNotConnected
	}

	select {
	case t.send <- data:
		return nil
	default:
		m.log.Warn().Uint64("transport", t.id).Msg("send queue full")
		return ErrSendQueueFull
	}
}

// Close releases the live transport and waits for every goroutine the
// manager started. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	if m.dialCancel != nil {
		m.dialCancel()
	}
	m.mu.Unlock()

	// wait out an in-flight Open
	m.openMu.Lock()
	m.mu.Lock()
	t := m.current
	m.mu.Unlock()
	m.openMu.Unlock()

	if t != nil {
		t.shutdown()
	}
	m.wg.Wait()

	close(m.events)
	m.log.Debug().Msg("connection manager closed")
	return nil
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// emitFrom drops events of a transport that has been shut down.
func (m *Manager) emitFrom(t *transport, ev Event) {
	if t.stopped() {
		return
	}
	select {
	case m.events <- ev:
	case <-t.stop:
	case <-m.done:
	}
}

func (m *Manager) transportClosed(t *transport) {
	t.shutdown()

	m.mu.Lock()
	if m.current != t {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.state = types.StateClosed
	m.mu.Unlock()

	err := types.ErrTransportClosed
	if cause := t.err(); cause != nil {
		err = fmt.Errorf("%w: %w", types.ErrTransportClosed, cause)
	}

	m.log.Info().Err(err).Uint64("transport", t.id).Msg("disconnected")
	m.emit(Event{Type: EventStateChanged, State: types.StateClosed, Err: err})
}
