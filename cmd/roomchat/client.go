package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/npezzotti/roomchat/internal/config"
	"github.com/npezzotti/roomchat/internal/conn"
	"github.com/npezzotti/roomchat/internal/pipeline"
	"github.com/npezzotti/roomchat/internal/roomid"
	"github.com/npezzotti/roomchat/internal/roomservice"
	"github.com/npezzotti/roomchat/internal/session"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/rs/zerolog"
)

// chatClient drives one session at a time. Moving to another room replaces
// the session and its connection manager.
type chatClient struct {
	ctx   context.Context
	log   zerolog.Logger
	cfg   *config.Config
	stats stats.StatsProvider
	rooms *roomservice.Client
	p     *printer

	mu       sync.Mutex
	sess     *session.Session
	rendered chan struct{}
}

func newChatClient(ctx context.Context, cfg *config.Config, su stats.StatsProvider, p *printer, logger zerolog.Logger) (*chatClient, error) {
	rooms, err := roomservice.NewClient(cfg.ServiceURL, logger)
	if err != nil {
		return nil, fmt.Errorf("room service: %w", err)
	}

	c := &chatClient{
		ctx:   ctx,
		log:   logger,
		cfg:   cfg,
		stats: su,
		rooms: rooms,
		p:     p,
	}
	if err := c.replace(); err != nil {
		return nil, err
	}
	return c, nil
}

// replace closes the current session, if any, and starts a fresh one.
func (c *chatClient) replace() error {
	mgr, err := conn.NewManager(c.cfg.WSEndpoint, pipeline.New(c.rooms), c.stats, c.log)
	if err != nil {
		return fmt.Errorf("connection manager: %w", err)
	}

	sess := session.New(c.rooms, mgr, c.stats, c.log, session.Options{
		Username:      c.cfg.Username,
		QuietInterval: c.cfg.QuietInterval,
		AutoReconnect: c.cfg.AutoReconnect,
		Backoff: session.BackoffConfig{
			InitialInterval: c.cfg.InitialBackoff,
			MaxInterval:     c.cfg.MaxBackoff,
			MaxElapsedTime:  c.cfg.MaxReconnectFor,
		},
	})

	c.Close()

	rendered := make(chan struct{})
	go sess.Run(c.ctx)
	go func() {
		defer close(rendered)
		c.p.render(sess.Events())
	}()

	c.mu.Lock()
	c.sess, c.rendered = sess, rendered
	c.mu.Unlock()
	return nil
}

func (c *chatClient) current() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *chatClient) Snapshot() session.Snapshot {
	sess := c.current()
	if sess == nil {
		return session.Snapshot{}
	}
	return sess.Snapshot()
}

func (c *chatClient) createRoom(ctx context.Context) error {
	return c.current().CreateRoom(ctx)
}

// join connects to id, leaving the current room first when it differs.
func (c *chatClient) join(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	sess := c.current()

	if cur := sess.RoomID(); cur != "" && cur != id && roomid.IsValid(id) {
		c.log.Info().Str("from", cur).Str("to", id).Msg("switching room")
		if err := c.replace(); err != nil {
			return err
		}
		sess = c.current()
	}
	return sess.JoinRoom(ctx, id)
}

// Close tears down the current session and waits for its output.
func (c *chatClient) Close() {
	c.mu.Lock()
	sess, rendered := c.sess, c.rendered
	c.sess, c.rendered = nil, nil
	c.mu.Unlock()

	if sess == nil {
		return
	}
	sess.Close()
	<-rendered
}

// handleLine runs one line of input. It reports false when the user quits.
func (c *chatClient) handleLine(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "/quit":
		return false
	case "/room":
		if id := c.current().RoomID(); id != "" {
			c.p.info("room: %s", id)
		} else {
			c.p.info("not in a room")
		}
	case "/join":
		if err := c.join(ctx, arg); err != nil {
			c.log.Debug().Err(err).Msg("join")
		}
	case "/reconnect":
		if err := c.current().Reconnect(ctx); err != nil {
			c.p.info("reconnect: %v", err)
		}
	case "/help":
		c.p.info("commands: /room /join <id> /reconnect /quit")
	default:
		sess := c.current()
		if strings.TrimSpace(line) == "" {
			return true
		}
		// input arrives a line at a time, so a line counts as one keystroke
		sess.NotifyTyping()
		if err := sess.SendMessage(ctx, line); err != nil {
			c.log.Debug().Err(err).Msg("send")
		}
	}
	return true
}
