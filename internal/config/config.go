package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	EnvWSURL      = "ROOMCHAT_WS_URL"
	EnvServiceURL = "ROOMCHAT_SERVICE_URL"
	EnvName       = "ROOMCHAT_NAME"
	EnvDebugAddr  = "ROOMCHAT_DEBUG_ADDR"

	DefaultQuietInterval   = 3 * time.Second
	DefaultInitialBackoff  = 500 * time.Millisecond
	DefaultMaxBackoff      = 10 * time.Second
	DefaultMaxReconnectFor = 0
)

type Config struct {
	WSEndpoint string
	ServiceURL string
	Username   string

	// DebugAddr is where the status server listens. Empty disables it.
	DebugAddr      string
	AllowedOrigins []string

	AutoReconnect   bool
	QuietInterval   time.Duration
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	MaxReconnectFor time.Duration
}

type Option func(*Config)

func WithDebugAddr(addr string) Option {
	return func(c *Config) { c.DebugAddr = addr }
}

func WithAllowedOrigins(origins []string) Option {
	return func(c *Config) { c.AllowedOrigins = origins }
}

func WithAutoReconnect(enabled bool) Option {
	return func(c *Config) { c.AutoReconnect = enabled }
}

func WithQuietInterval(d time.Duration) Option {
	return func(c *Config) { c.QuietInterval = d }
}

// WithBackoff sets the reconnect bounds. A maxElapsed of zero retries until
// the session is closed.
func WithBackoff(initial, max, maxElapsed time.Duration) Option {
	return func(c *Config) {
		c.InitialBackoff = initial
		c.MaxBackoff = max
		c.MaxReconnectFor = maxElapsed
	}
}

func NewConfig(wsEndpoint, serviceURL, username string, opts ...Option) (*Config, error) {
	if wsEndpoint == "" {
		return nil, fmt.Errorf("websocket endpoint cannot be empty")
	}
	if serviceURL == "" {
		return nil, fmt.Errorf("room service url cannot be empty")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}

	if err := checkURL(wsEndpoint, "ws", "wss"); err != nil {
		return nil, fmt.Errorf("websocket endpoint: %w", err)
	}
	if err := checkURL(serviceURL, "http", "https"); err != nil {
		return nil, fmt.Errorf("room service url: %w", err)
	}

	cfg := &Config{
		WSEndpoint:      wsEndpoint,
		ServiceURL:      strings.TrimRight(serviceURL, "/"),
		Username:        username,
		AutoReconnect:   true,
		QuietInterval:   DefaultQuietInterval,
		InitialBackoff:  DefaultInitialBackoff,
		MaxBackoff:      DefaultMaxBackoff,
		MaxReconnectFor: DefaultMaxReconnectFor,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.QuietInterval <= 0 {
		return nil, fmt.Errorf("typing quiet interval must be positive")
	}
	if cfg.InitialBackoff <= 0 || cfg.MaxBackoff < cfg.InitialBackoff {
		return nil, fmt.Errorf("invalid backoff bounds %s..%s", cfg.InitialBackoff, cfg.MaxBackoff)
	}
	if cfg.MaxReconnectFor < 0 {
		return nil, fmt.Errorf("max reconnect time cannot be negative")
	}

	return cfg, nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("missing host in %q", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}
