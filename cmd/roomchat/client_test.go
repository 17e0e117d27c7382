package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/roomchat/internal/config"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/npezzotti/roomchat/internal/testutil"
	"github.com/npezzotti/roomchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	createdRoom = "aaa-bbbb-ccc?hs=111"
	friendRoom  = "xyz-abcd-efg?hs=456"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type clientFixture struct {
	svc  *testutil.RoomService
	chat *testutil.ChatServer
	out  *lockedBuffer
	c    *chatClient
}

func newClientFixture(t *testing.T) *clientFixture {
	t.Helper()
	svc := testutil.NewRoomService(t)
	chat := testutil.NewChatServer(t)

	cfg, err := config.NewConfig(chat.URL(), svc.URL, "A",
		config.WithAutoReconnect(false),
		config.WithQuietInterval(300*time.Millisecond),
	)
	require.NoError(t, err)

	su := stats.NewStatsUpdater()
	stats.RegisterAll(su)
	su.Run()

	out := &lockedBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	c, err := newChatClient(ctx, cfg, su, newPrinter(out, "A"), testutil.TestLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		cancel()
		su.Stop()
	})
	return &clientFixture{svc: svc, chat: chat, out: out, c: c}
}

func (f *clientFixture) waitOutput(t *testing.T, want string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return strings.Contains(f.out.String(), want)
	}, 2*time.Second, 10*time.Millisecond, "expected output to contain %q, got %q", want, f.out.String())
}

func TestChatClient_CreateThenJoin(t *testing.T) {
	f := newClientFixture(t)
	f.svc.SetRoomID(createdRoom)

	require.NoError(t, f.c.createRoom(context.Background()))
	first := f.c.current()
	sc1 := f.chat.Accept(t)
	assert.Equal(t, createdRoom, sc1.Room)

	assert.True(t, f.c.handleLine(context.Background(), "/join "+friendRoom))
	sc2 := f.chat.Accept(t)
	assert.Equal(t, friendRoom, sc2.Room)

	next := f.c.current()
	assert.NotSame(t, first, next, "expected a new session for the new room")
	assert.Equal(t, friendRoom, next.RoomID())
	assert.Empty(t, first.Messages())

	select {
	case <-sc1.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("expected the previous room's connection to be released")
	}

	assert.Eventually(t, func() bool {
		return next.State() == types.StateOpen
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, friendRoom, f.c.Snapshot().RoomID)

	f.c.handleLine(context.Background(), "/room")
	f.waitOutput(t, "* room: "+friendRoom)
}

func TestChatClient_JoinSameOrInvalidKeepsSession(t *testing.T) {
	f := newClientFixture(t)

	require.NoError(t, f.c.join(context.Background(), friendRoom))
	f.chat.Accept(t)
	first := f.c.current()

	f.c.handleLine(context.Background(), "/join not-a-room")
	f.waitOutput(t, "Invalid Room ID")
	assert.Same(t, first, f.c.current())

	f.c.handleLine(context.Background(), "/join "+friendRoom)
	sc := f.chat.Accept(t)
	assert.Equal(t, friendRoom, sc.Room)
	assert.Same(t, first, f.c.current(), "expected the same room to reconnect in place")
}

func TestChatClient_HandleLine(t *testing.T) {
	f := newClientFixture(t)

	f.c.handleLine(context.Background(), "/room")
	f.waitOutput(t, "* not in a room")

	require.NoError(t, f.c.join(context.Background(), friendRoom))
	sc := f.chat.Accept(t)
	assert.Eventually(t, func() bool {
		return f.c.current().State() == types.StateOpen
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, f.c.handleLine(context.Background(), "   "))
	sc.NoFrame(t, 50*time.Millisecond)

	assert.True(t, f.c.handleLine(context.Background(), "hello"))
	assert.Equal(t, map[string]any{"type": "typing", "typing": true}, sc.NextFrame(t))
	frame := sc.NextFrame(t)
	assert.Equal(t, "chat", frame["type"])
	assert.Equal(t, map[string]any{"type": "typing", "typing": false}, sc.NextFrame(t))

	assert.False(t, f.c.handleLine(context.Background(), "/quit"))
}
