package conn

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// inbound holds the place of one received frame until its decode finishes.
// A nil result means the frame was dropped.
type inbound struct {
	result chan *Event
}

func newInbound() *inbound {
	return &inbound{result: make(chan *Event, 1)}
}

func resolved(ev *Event) *inbound {
	p := newInbound()
	p.result <- ev
	return p
}

// transport is one websocket connection and the goroutines serving it.
type transport struct {
	id      uint64
	ws      *websocket.Conn
	send    chan []byte
	pending chan *inbound
	ctx     context.Context
	cancel  context.CancelFunc
	stop    chan struct{}
	// done is closed once the sequencer has drained and exited
	done chan struct{}

	once     sync.Once
	errMu    sync.Mutex
	closeErr error
}

func newTransport(id uint64, ws *websocket.Conn) *transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &transport{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		pending: make(chan *inbound, pendingBuffer),
		ctx:     ctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (t *transport) shutdown() {
	t.once.Do(func() {
		close(t.stop)
		t.cancel()
		t.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.ws.Close()
	})
}

func (t *transport) stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

func (t *transport) setErr(err error) {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.closeErr == nil {
		t.closeErr = err
	}
}

func (t *transport) err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.closeErr
}
