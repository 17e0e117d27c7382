package session

import (
	"github.com/npezzotti/roomchat/internal/types"
)

type EventKind int

const (
	EventMessageAppended EventKind = iota
	EventOccupancyChanged
	EventPresenceChanged
	EventConnectionStateChanged
	EventNotice
)

func (k EventKind) String() string {
	switch k {
	case EventMessageAppended:
		return "message_appended"
	case EventOccupancyChanged:
		return "occupancy_changed"
	case EventPresenceChanged:
		return "presence_changed"
	case EventConnectionStateChanged:
		return "connection_state_changed"
	case EventNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// Event is one entry of the session's ordered event stream.
type Event struct {
	Kind      EventKind
	Message   types.ChatMessage
	Occupancy int
	// Typing lists the remote users currently typing.
	Typing []string
	State  types.ConnectionState
	Err    error
	Notice string
}

const (
	NoticeConnected       = "Connected to chat room."
	NoticeDisconnected    = "Disconnected from chat room. Attempting to reconnect..."
	NoticeInvalidRoom     = "Invalid Room ID. Couldn't connect!"
	NoticeRoomUnavailable = "Could not connect to the room. Please try again."
	NoticeNotConnected    = "Not connected to a chat room."
	NoticeSendFailed      = "Message could not be sent. Please try again."
)

// Snapshot is a point in time copy of the session state.
type Snapshot struct {
	RoomID    string                `json:"room_id"`
	Username  string                `json:"username"`
	State     types.ConnectionState `json:"state"`
	Occupancy int                   `json:"occupancy"`
	Typing    []string              `json:"typing"`
	Messages  []types.ChatMessage   `json:"messages"`
}
