package presence

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/roomchat/internal/testutil"
	"github.com/npezzotti/roomchat/internal/types"
	"github.com/stretchr/testify/assert"
)

const testQuiet = 80 * time.Millisecond

type signalRecorder struct {
	mu      sync.Mutex
	signals []bool
	err     error
}

func (r *signalRecorder) send(typing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, typing)
	return r.err
}

func (r *signalRecorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.signals...)
}

func newTestTracker(t *testing.T, rec *signalRecorder) *Tracker {
	tr := NewTracker("alice", rec.send, testutil.TestLogger(t), WithQuietInterval(testQuiet))
	t.Cleanup(tr.Stop)
	return tr
}

func TestOnKeystroke_SingleTrueSignal(t *testing.T) {
	rec := &signalRecorder{}
	tr := newTestTracker(t, rec)

	for i := 0; i < 10; i++ {
		tr.OnKeystroke()
		time.Sleep(testQuiet / 10)
	}

	assert.Equal(t, []bool{true}, rec.get(), "expected a single typing=true while keystrokes continue")
	assert.True(t, tr.IsTyping())

	assert.Eventually(t, func() bool { return len(rec.get()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.get(), "expected exactly one typing=false after the quiet interval")
	assert.False(t, tr.IsTyping())

	time.Sleep(2 * testQuiet)
	assert.Len(t, rec.get(), 2, "expected no further signals once quiet")
}

func TestOnKeystroke_RetypeAfterQuiet(t *testing.T) {
	rec := &signalRecorder{}
	tr := newTestTracker(t, rec)

	tr.OnKeystroke()
	assert.Eventually(t, func() bool { return len(rec.get()) == 2 }, time.Second, 5*time.Millisecond)

	tr.OnKeystroke()
	tr.OnKeystroke()
	assert.Eventually(t, func() bool { return len(rec.get()) == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{true, false, true, false}, rec.get())
}

func TestOnKeystroke_SingleLiveTimer(t *testing.T) {
	rec := &signalRecorder{}
	tr := newTestTracker(t, rec)

	for i := 0; i < 5; i++ {
		tr.OnKeystroke()
	}
	assert.Equal(t, 1, tr.timers.len(), "expected exactly one live timer")
}

func TestOnKeystroke_SendErrorKeepsState(t *testing.T) {
	rec := &signalRecorder{err: errors.New("not connected")}
	tr := newTestTracker(t, rec)

	tr.OnKeystroke()
	assert.True(t, tr.IsTyping(), "expected state to transition even when the signal could not be sent")
}

func TestStop_CancelsTimer(t *testing.T) {
	rec := &signalRecorder{}
	tr := newTestTracker(t, rec)

	tr.OnKeystroke()
	tr.Stop()

	time.Sleep(2 * testQuiet)
	assert.Equal(t, []bool{true}, rec.get(), "expected no typing=false after Stop")
	assert.Equal(t, 0, tr.timers.len())
}

func TestApplyRemote(t *testing.T) {
	rec := &signalRecorder{}
	tr := newTestTracker(t, rec)

	assert.True(t, tr.ApplyRemote(types.TypingSignal{Username: "bob", Typing: true}))
	assert.False(t, tr.ApplyRemote(types.TypingSignal{Username: "bob", Typing: true}), "expected repeated flag to be no change")
	assert.True(t, tr.ApplyRemote(types.TypingSignal{Username: "carol", Typing: true}))
	assert.Equal(t, []string{"bob", "carol"}, tr.Typing())

	assert.True(t, tr.ApplyRemote(types.TypingSignal{Username: "bob", Typing: false}))
	assert.Equal(t, []string{"carol"}, tr.Typing())
	assert.Contains(t, tr.Remote(), "bob", "expected stopped typers to stay in the map")

	assert.False(t, tr.ApplyRemote(types.TypingSignal{Username: "dave", Typing: false}), "expected first false to be invisible")
	assert.Empty(t, rec.get(), "expected remote signals never to be re-emitted")
}

func TestApplyRemote_IgnoresLocalUser(t *testing.T) {
	tr := newTestTracker(t, &signalRecorder{})

	assert.False(t, tr.ApplyRemote(types.TypingSignal{Username: "alice", Typing: true}))
	assert.False(t, tr.ApplyRemote(types.TypingSignal{Username: "", Typing: true}))
	assert.Empty(t, tr.Typing())
	assert.NotContains(t, tr.Remote(), "alice")
}

func TestReset(t *testing.T) {
	rec := &signalRecorder{}
	tr := newTestTracker(t, rec)

	tr.ApplyRemote(types.TypingSignal{Username: "bob", Typing: true})
	tr.OnKeystroke()

	assert.True(t, tr.Reset(), "expected reset to report a presence change")
	assert.Empty(t, tr.Typing())
	assert.Equal(t, map[string]bool{"bob": false}, tr.Remote())
	assert.False(t, tr.IsTyping())

	time.Sleep(2 * testQuiet)
	assert.Equal(t, []bool{true}, rec.get(), "expected reset to drop the pending typing=false")

	assert.False(t, tr.Reset(), "expected second reset to be a no-op")
}

func TestTimerRegistry(t *testing.T) {
	r := newTimerRegistry()

	fired := make(chan string, 4)
	r.replace("a", time.Hour, func() { fired <- "old" })
	r.replace("a", 5*time.Millisecond, func() { fired <- "new" })
	assert.Equal(t, 1, r.len())

	select {
	case got := <-fired:
		assert.Equal(t, "new", got, "expected replaced timer never to fire")
	case <-time.After(time.Second):
		t.Fatal("expected replacement timer to fire")
	}
	assert.Eventually(t, func() bool { return r.len() == 0 }, time.Second, time.Millisecond)

	r.replace("b", time.Hour, func() { fired <- "b" })
	assert.True(t, r.cancel("b"))
	assert.False(t, r.cancel("b"))

	r.replace("c", time.Hour, func() {})
	r.replace("d", time.Hour, func() {})
	r.cancelAll()
	assert.Equal(t, 0, r.len())
}
