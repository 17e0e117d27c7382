package conn

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/roomchat/internal/pipeline"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/npezzotti/roomchat/internal/types"
)

func (m *Manager) writePump(t *transport) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		t.ws.Close()
		m.wg.Done()
		m.log.Debug().Uint64("transport", t.id).Msg("write exiting")
	}()

	for {
		select {
		case data := <-t.send:
			if !m.write(t, websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !m.write(t, websocket.PingMessage, nil) {
				return
			}
		case <-t.stop:
			return
		}
	}
}

func (m *Manager) write(t *transport, msgType int, data []byte) bool {
	t.ws.SetWriteDeadline(time.Now().Add(writeWait))

	if err := t.ws.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			m.log.Warn().Err(err).Uint64("transport", t.id).Msg("write message")
		}
		t.setErr(err)
		return false
	}

	return true
}

// readPump hands every frame to the sequencer in receipt order.
func (m *Manager) readPump(t *transport) {
	defer func() {
		close(t.pending)
		m.wg.Done()
		m.log.Debug().Uint64("transport", t.id).Msg("read exiting")
	}()

	t.ws.SetReadLimit(maxMessageSize)
	t.ws.SetReadDeadline(time.Now().Add(pongWait))
	t.ws.SetPongHandler(func(string) error { t.ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := t.ws.ReadMessage()
		if err != nil {
			if !t.stopped() {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					m.log.Warn().Err(err).Uint64("transport", t.id).Msg("read message")
				}
				t.setErr(err)
			}
			return
		}

		m.stats.Incr(stats.FramesReceived)
		p := m.route(t, raw)
		if p == nil {
			continue
		}

		select {
		case t.pending <- p:
		case <-t.stop:
			return
		}
	}
}

// route parses one frame and starts whatever decoding it needs. It returns
// nil for frames that are ignored.
func (m *Manager) route(t *transport, raw []byte) *inbound {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		m.log.Warn().Err(err).Uint64("transport", t.id).Msg("error parsing frame")
		m.stats.Incr(stats.FramesDropped)
		return nil
	}

	switch f.Type {
	case FrameChat:
		ts := parseTimestamp(f.Timestamp)
		return m.decodeAsync(t, func() *Event {
			text, err := m.pipeline.Decode(t.ctx, pipeline.Ciphertext(f.Message))
			if err != nil {
				m.dropped(t, f.Type, err)
				return nil
			}
			return &Event{
				Type: EventMessage,
				Message: types.ChatMessage{
					Username:  f.Username,
					Message:   text,
					Timestamp: ts,
				},
			}
		})
	case FrameUserCount:
		return m.decodeAsync(t, func() *Event {
			n, err := m.pipeline.DecodeCount(t.ctx, pipeline.Ciphertext(f.Message))
			if err != nil {
				m.dropped(t, f.Type, err)
				return nil
			}
			return &Event{Type: EventOccupancy, Occupancy: n}
		})
	case FrameTyping:
		return resolved(&Event{
			Type:   EventTyping,
			Typing: types.TypingSignal{Username: f.Username, Typing: f.Typing},
		})
	default:
		m.log.Debug().Str("type", f.Type).Uint64("transport", t.id).Msg("ignoring unknown frame")
		m.stats.Incr(stats.FramesDropped)
		return nil
	}
}

func (m *Manager) decodeAsync(t *transport, decode func() *Event) *inbound {
	p := newInbound()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		p.result <- decode()
	}()
	return p
}

func (m *Manager) dropped(t *transport, frameType string, err error) {
	if t.stopped() {
		return
	}
	m.log.Warn().Err(err).Str("type", frameType).Uint64("transport", t.id).Msg("dropping undecodable frame")
	m.stats.Incr(stats.DecodeFailures)
	m.stats.Incr(stats.FramesDropped)
}

// sequence emits decoded frames strictly in the order they were read,
// whatever order their decodes complete in. Once the read side is gone it
// reports the transport closed.
func (m *Manager) sequence(t *transport) {
	defer func() {
		close(t.done)
		m.wg.Done()
	}()

	for p := range t.pending {
		ev := <-p.result
		if ev == nil {
			continue
		}
		m.emitFrom(t, *ev)
	}

	m.transportClosed(t)
}
