// Package presence tracks typing state: the debounced state of the local
// user and the last reported flag of every remote user.
package presence

import (
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/roomchat/internal/types"
	"github.com/rs/zerolog"
)

// DefaultQuietInterval is how long the local user may pause before a
// stopped typing signal goes out.
const DefaultQuietInterval = 3 * time.Second

// SignalFunc puts a typing signal on the wire.
type SignalFunc func(typing bool) error

type Option func(*Tracker)

func WithQuietInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.quiet = d
		}
	}
}

type Tracker struct {
	log    zerolog.Logger
	local  string
	quiet  time.Duration
	send   SignalFunc
	timers *timerRegistry

	mu     sync.Mutex
	typing bool
	// gen invalidates timer callbacks that lost a race with a re-arm.
	gen    uint64
	remote map[string]bool
}

func NewTracker(local string, send SignalFunc, logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		log:    logger.With().Str("component", "presence").Logger(),
		local:  local,
		quiet:  DefaultQuietInterval,
		send:   send,
		timers: newTimerRegistry(),
		remote: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

// OnKeystroke signals typing=true on the first keystroke after a quiet
// period and re-arms the quiet timer on every call.
func (t *Tracker) OnKeystroke() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.typing {
		t.typing = true
		t.emit(true)
	}

	t.gen++
	gen := t.gen
	t.timers.replace(t.local, t.quiet, func() { t.onTimerExpire(gen) })
}

func (t *Tracker) onTimerExpire(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen || !t.typing {
		return
	}

	t.typing = false
	t.emit(false)
}

func (t *Tracker) emit(typing bool) {
	if err := t.send(typing); err != nil {
		t.log.Debug().Err(err).Bool("typing", typing).Msg("typing signal not sent")
	}
}

func (t *Tracker) IsTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// ApplyRemote records a signal from another user and reports whether the
// visible presence changed. Signals carrying the local name are ignored.
func (t *Tracker) ApplyRemote(sig types.TypingSignal) bool {
	if sig.Username == "" || sig.Username == t.local {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.remote[sig.Username]
	t.remote[sig.Username] = sig.Typing
	return (!ok && sig.Typing) || (ok && prev != sig.Typing)
}

// Typing returns the sorted names of remote users currently typing.
func (t *Tracker) Typing() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.remote))
	for name, typing := range t.remote {
		if typing {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	return names
}

func (t *Tracker) Remote() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]bool, len(t.remote))
	for name, typing := range t.remote {
		out[name] = typing
	}
	return out
}

// Reset is called when the transport goes away. Remote flags flip to false,
// and the local timer is dropped without emitting anything.
func (t *Tracker) Reset() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.timers.cancel(t.local)
	t.gen++
	t.typing = false

	changed := false
	for name, typing := range t.remote {
		if typing {
			t.remote[name] = false
			changed = true
		}
	}

	return changed
}

func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	t.typing = false
	t.timers.cancelAll()
}
