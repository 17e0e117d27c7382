// Package session is the room session engine. It obtains a room, drives the
// connection manager, and merges everything that happens into one ordered
// event stream for the presentation layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/npezzotti/roomchat/internal/conn"
	"github.com/npezzotti/roomchat/internal/presence"
	"github.com/npezzotti/roomchat/internal/roomid"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/npezzotti/roomchat/internal/types"
	"github.com/rs/zerolog"
	"github.com/teris-io/shortid"
)

var (
	ErrRoomAlreadyAssigned = errors.New("session already holds a different room")
	ErrNoRoom              = errors.New("session has no room")
	ErrEmptyMessage        = errors.New("empty message")
	ErrAlreadyRunning      = errors.New("session already running")
)

const (
	eventBuffer  = 256
	noticeBuffer = 16
)

type RoomCreator interface {
	CreateRoom(ctx context.Context) (string, error)
}

// Connector is the part of conn.Manager the session drives.
type Connector interface {
	Open(ctx context.Context, roomID string) error
	Send(ctx context.Context, plaintext string) error
	SendTyping(typing bool) error
	Events() <-chan conn.Event
	Close() error
}

type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime of zero retries until the session is closed.
	MaxElapsedTime time.Duration
}

type Options struct {
	Username      string
	QuietInterval time.Duration
	AutoReconnect bool
	Backoff       BackoffConfig
}

type Session struct {
	log      zerolog.Logger
	rooms    RoomCreator
	mgr      Connector
	presence *presence.Tracker
	stats    stats.StatsProvider
	opts     Options

	mu           sync.RWMutex
	roomID       string
	state        types.ConnectionState
	messages     []types.ChatMessage
	occupancy    int
	reconnecting bool
	closed       bool

	events  chan Event
	notices chan string

	// ctx is cancelled by Close and bounds reconnect attempts
	ctx       context.Context
	cancel    context.CancelFunc
	stop      chan struct{}
	done      chan struct{}
	running   atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(rooms RoomCreator, mgr Connector, su stats.StatsProvider, logger zerolog.Logger, opts Options) *Session {
	id, err := shortid.Generate()
	if err != nil {
		id = "unknown"
	}
	logger = logger.With().Str("session", id).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		log:     logger,
		rooms:   rooms,
		mgr:     mgr,
		stats:   su,
		opts:    opts,
		state:   types.StateIdle,
		events:  make(chan Event, eventBuffer),
		notices: make(chan string, noticeBuffer),
		ctx:     ctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.presence = presence.NewTracker(opts.Username, mgr.SendTyping, logger, presence.WithQuietInterval(opts.QuietInterval))

	return s
}

// Events is the merged stream. It is closed when Run returns.
func (s *Session) Events() <-chan Event {
	return s.events
}

// CreateRoom asks the room service for a new room and connects to it.
func (s *Session) CreateRoom(ctx context.Context) error {
	s.mu.RLock()
	assigned := s.roomID != ""
	s.mu.RUnlock()
	if assigned {
		return ErrRoomAlreadyAssigned
	}

	id, err := s.rooms.CreateRoom(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("create room")
		s.notify(NoticeRoomUnavailable)
		return err
	}
	if !roomid.IsValid(id) {
		s.log.Warn().Str("room", id).Msg("room service returned a malformed id")
		s.notify(NoticeRoomUnavailable)
		return fmt.Errorf("%w: malformed room id %q", types.ErrRoomCreationFailed, id)
	}

	fresh, err := s.assign(id)
	if err != nil {
		return err
	}
	return s.open(ctx, id, fresh)
}

// JoinRoom validates a user supplied identifier and connects to it. An
// invalid identifier never reaches the network.
func (s *Session) JoinRoom(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("join: %w", types.ErrInvalidRoomIdentifier)
	}
	if !roomid.IsValid(id) {
		s.notify(NoticeInvalidRoom)
		return fmt.Errorf("join %q: %w", id, types.ErrInvalidRoomIdentifier)
	}

	fresh, err := s.assign(id)
	if err != nil {
		return err
	}
	return s.open(ctx, id, fresh)
}

// Reconnect re-opens the connection to the session's room.
func (s *Session) Reconnect(ctx context.Context) error {
	id := s.RoomID()
	if id == "" {
		return ErrNoRoom
	}

	if err := s.mgr.Open(ctx, id); err != nil {
		return err
	}
	s.stats.Incr(stats.Reconnects)
	return nil
}

// assign binds id to the session. fresh reports whether the session held
// no room before.
func (s *Session) assign(id string) (fresh bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.roomID != "" && s.roomID != id {
		return false, ErrRoomAlreadyAssigned
	}
	fresh = s.roomID == ""
	s.roomID = id
	return fresh, nil
}

// open connects to id. A room that never reached Open is released again so
// the session can try another one.
func (s *Session) open(ctx context.Context, id string, fresh bool) error {
	if err := s.mgr.Open(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("room", id).Msg("open room")
		s.notify(NoticeRoomUnavailable)
		if fresh {
			s.mu.Lock()
			if s.roomID == id {
				s.roomID = ""
			}
			s.mu.Unlock()
		}
		return err
	}
	return nil
}

// SendMessage encodes and sends text. On failure the caller keeps the text
// and decides whether to retry.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	err := s.mgr.Send(ctx, text)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrNotConnected):
		s.notify(NoticeNotConnected)
	default:
		s.log.Warn().Err(err).Msg("send message")
		s.notify(NoticeSendFailed)
	}
	return err
}

// NotifyTyping reports a local keystroke. It does nothing unless connected.
func (s *Session) NotifyTyping() {
	if s.State() != types.StateOpen {
		return
	}
	s.presence.OnKeystroke()
}

func (s *Session) notify(notice string) {
	select {
	case s.notices <- notice:
	default:
		s.log.Debug().Str("notice", notice).Msg("notice queue full")
	}
}

// Run processes connection events until ctx is done or the session is
// closed. State is only ever mutated from here.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		close(s.events)
		close(s.done)
	}()

	events := s.mgr.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handle(ctx, ev)
		case notice := <-s.notices:
			s.publish(ctx, Event{Kind: EventNotice, Notice: notice})
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		}
	}
}

func (s *Session) handle(ctx context.Context, ev conn.Event) {
	switch ev.Type {
	case conn.EventStateChanged:
		s.mu.Lock()
		prev := s.state
		s.state = ev.State
		s.mu.Unlock()

		s.publish(ctx, Event{Kind: EventConnectionStateChanged, State: ev.State, Err: ev.Err})

		switch ev.State {
		case types.StateOpen:
			s.publish(ctx, Event{Kind: EventNotice, Notice: NoticeConnected})
		case types.StateClosed:
			if s.presence.Reset() {
				s.publish(ctx, Event{Kind: EventPresenceChanged, Typing: s.presence.Typing()})
			}
			if prev == types.StateOpen && !s.isClosed() {
				s.publish(ctx, Event{Kind: EventNotice, Notice: NoticeDisconnected, Err: ev.Err})
				if s.opts.AutoReconnect {
					s.startReconnect()
				}
			}
		}
	case conn.EventMessage:
		s.mu.Lock()
		s.messages = append(s.messages, ev.Message)
		s.mu.Unlock()
		s.publish(ctx, Event{Kind: EventMessageAppended, Message: ev.Message})
	case conn.EventOccupancy:
		s.mu.Lock()
		s.occupancy = ev.Occupancy
		s.mu.Unlock()
		s.publish(ctx, Event{Kind: EventOccupancyChanged, Occupancy: ev.Occupancy})
	case conn.EventTyping:
		if s.presence.ApplyRemote(ev.Typing) {
			s.publish(ctx, Event{Kind: EventPresenceChanged, Typing: s.presence.Typing()})
		}
	}
}

func (s *Session) publish(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	case <-s.stop:
	}
}

func (s *Session) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if s.opts.Backoff.InitialInterval > 0 {
		b.InitialInterval = s.opts.Backoff.InitialInterval
	}
	if s.opts.Backoff.MaxInterval > 0 {
		b.MaxInterval = s.opts.Backoff.MaxInterval
	}
	b.MaxElapsedTime = s.opts.Backoff.MaxElapsedTime
	b.Reset()

	return backoff.WithContext(b, s.ctx)
}

// startReconnect re-opens the room under exponential backoff. At most one
// reconnect loop runs at a time.
func (s *Session) startReconnect() {
	s.mu.Lock()
	if s.reconnecting || s.closed || s.roomID == "" {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	id := s.roomID
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.reconnecting = false
			s.mu.Unlock()
			s.wg.Done()
		}()

		op := func() error {
			err := s.mgr.Open(s.ctx, id)
			if errors.Is(err, types.ErrInvalidRoomIdentifier) || errors.Is(err, conn.ErrManagerClosed) {
				return backoff.Permanent(err)
			}
			return err
		}
		notify := func(err error, next time.Duration) {
			s.log.Info().Err(err).Dur("retry_in", next).Str("room", id).Msg("reconnect failed")
		}

		if err := backoff.RetryNotify(op, s.newBackOff(), notify); err != nil {
			if !s.isClosed() {
				s.log.Warn().Err(err).Str("room", id).Msg("giving up reconnecting")
			}
			return
		}

		s.stats.Incr(stats.Reconnects)
		s.log.Info().Str("room", id).Msg("reconnected")
	}()
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close tears the session down: the transport is released, timers are
// stopped and the message log is discarded. It is safe to call more than
// once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		close(s.stop)
		err = s.mgr.Close()
		s.presence.Stop()
		s.wg.Wait()
		if s.running.Load() {
			<-s.done
		}

		s.mu.Lock()
		s.messages = nil
		s.mu.Unlock()
		s.log.Debug().Msg("session closed")
	})
	return err
}

func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

func (s *Session) Username() string {
	return s.opts.Username
}

func (s *Session) State() types.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Occupancy() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.occupancy
}

// Messages returns a copy of the log in receipt order.
func (s *Session) Messages() []types.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.ChatMessage(nil), s.messages...)
}

func (s *Session) Typing() []string {
	return s.presence.Typing()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		RoomID:    s.roomID,
		Username:  s.opts.Username,
		State:     s.state,
		Occupancy: s.occupancy,
		Typing:    s.presence.Typing(),
		Messages:  append([]types.ChatMessage{}, s.messages...),
	}
}
