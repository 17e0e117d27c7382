package conn

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/npezzotti/roomchat/internal/types"
)

const (
	FrameChat      = "chat"
	FrameTyping    = "typing"
	FrameUserCount = "user_count"
)

// inboundFrame is the union of every frame the server sends. Which fields
// are meaningful depends on Type.
type inboundFrame struct {
	Type      string          `json:"type"`
	Username  string          `json:"username,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	Typing    bool            `json:"typing,omitempty"`
}

type chatFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type typingFrame struct {
	Type   string `json:"type"`
	Typing bool   `json:"typing"`
}

type EventType int

const (
	EventStateChanged EventType = iota
	EventMessage
	EventOccupancy
	EventTyping
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventMessage:
		return "message"
	case EventOccupancy:
		return "occupancy"
	case EventTyping:
		return "typing"
	default:
		return "unknown"
	}
}

// Event is what the manager publishes. Only the fields matching Type are set.
type Event struct {
	Type      EventType
	State     types.ConnectionState
	Err       error
	Message   types.ChatMessage
	Occupancy int
	Typing    types.TypingSignal
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// parseTimestamp accepts Unix milliseconds or an RFC 3339 string and falls
// back to the receipt time.
func parseTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Now()
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return Now()
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC()
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}

	return Now()
}
