package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/npezzotti/roomchat/internal/session"
	"github.com/npezzotti/roomchat/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestPrinter_render(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.Local)

	tcases := []struct {
		name   string
		event  session.Event
		expect string
	}{
		{
			name:   "message",
			event:  session.Event{Kind: session.EventMessageAppended, Message: types.ChatMessage{Username: "B", Message: "hi", Timestamp: ts}},
			expect: "[12:30] B: hi\n",
		},
		{
			name:   "occupancy",
			event:  session.Event{Kind: session.EventOccupancyChanged, Occupancy: 3},
			expect: "* 3 in room\n",
		},
		{
			name:   "typing",
			event:  session.Event{Kind: session.EventPresenceChanged, Typing: []string{"B", "C"}},
			expect: "* B, C is typing...\n",
		},
		{
			name:   "typing skips local name",
			event:  session.Event{Kind: session.EventPresenceChanged, Typing: []string{"A"}},
			expect: "",
		},
		{
			name:   "nobody typing",
			event:  session.Event{Kind: session.EventPresenceChanged},
			expect: "",
		},
		{
			name:   "notice",
			event:  session.Event{Kind: session.EventNotice, Notice: session.NoticeConnected},
			expect: "* Connected to chat room.\n",
		},
		{
			name:   "state change is silent",
			event:  session.Event{Kind: session.EventConnectionStateChanged, State: types.StateOpen},
			expect: "",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			p := newPrinter(buf, "A")

			events := make(chan session.Event, 1)
			events <- tc.event
			close(events)
			p.render(events)

			assert.Equal(t, tc.expect, buf.String())
		})
	}
}
