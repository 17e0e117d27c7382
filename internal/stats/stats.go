package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	FramesReceived    = "FramesReceived"
	FramesDropped     = "FramesDropped"
	DecodeFailures    = "DecodeFailures"
	MessagesSent      = "MessagesSent"
	SendFailures      = "SendFailures"
	TypingSignalsSent = "TypingSignalsSent"
	Reconnects        = "Reconnects"
)

// SessionMetrics lists every counter a session reports.
var SessionMetrics = []string{
	FramesReceived,
	FramesDropped,
	DecodeFailures,
	MessagesSent,
	SendFailures,
	TypingSignalsSent,
	Reconnects,
}

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

type metricsUpdateReq struct {
	name  string
	value int
}

// ServeHTTP renders the counters in the same shape as /debug/vars.
func (su *StatsUpdater) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a new stats updater instance. The map is not
// published globally so several sessions can live in one process.
func NewStatsUpdater() *StatsUpdater {
	su := &StatsUpdater{
		vars:       new(expvar.Map).Init(),
		updateChan: make(chan *metricsUpdateReq, 512),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *StatsUpdater) updateMetrics() {
	defer close(su.done)

	for {
		select {
		case req := <-su.updateChan:
			su.apply(req)
		case <-su.stop:
			for {
				select {
				case req := <-su.updateChan:
					su.apply(req)
				default:
					return
				}
			}
		}
	}
}

func (su *StatsUpdater) apply(req *metricsUpdateReq) {
	metric := su.vars.Get(req.name)
	if metric == nil {
		panic("metric not found: " + req.name)
	}

	metric.(*expvar.Int).Add(int64(req.value))
}

func (su *StatsUpdater) send(req *metricsUpdateReq) {
	select {
	case su.updateChan <- req:
	case <-su.stop:
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.send(&metricsUpdateReq{name: name, value: 1})
}

func (su *StatsUpdater) Decr(name string) {
	su.send(&metricsUpdateReq{name: name, value: -1})
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

// Value returns the current value of a counter, or 0 if it is unknown.
func (su *StatsUpdater) Value(name string) int64 {
	if v, ok := su.vars.Get(name).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop drains pending updates and waits for the updater to exit.
// Run must have been called.
func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() { close(su.stop) })
	<-su.done
}

// RegisterAll registers the session counters on p.
func RegisterAll(p StatsProvider) {
	for _, name := range SessionMetrics {
		p.RegisterMetric(name)
	}
}
