package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/npezzotti/roomchat/internal/session"
)

type printer struct {
	mu    sync.Mutex
	out   io.Writer
	local string
}

func newPrinter(out io.Writer, local string) *printer {
	return &printer{out: out, local: local}
}

func (p *printer) info(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "* "+format+"\n", args...)
}

func (p *printer) render(events <-chan session.Event) {
	for ev := range events {
		p.event(ev)
	}
}

func (p *printer) event(ev session.Event) {
	switch ev.Kind {
	case session.EventMessageAppended:
		p.mu.Lock()
		fmt.Fprintf(p.out, "[%s] %s: %s\n", ev.Message.Timestamp.Local().Format("15:04"), ev.Message.Username, ev.Message.Message)
		p.mu.Unlock()
	case session.EventOccupancyChanged:
		p.info("%d in room", ev.Occupancy)
	case session.EventPresenceChanged:
		names := make([]string, 0, len(ev.Typing))
		for _, n := range ev.Typing {
			if n != p.local {
				names = append(names, n)
			}
		}
		if len(names) > 0 {
			p.info("%s is typing...", strings.Join(names, ", "))
		}
	case session.EventNotice:
		p.info("%s", ev.Notice)
	}
}
