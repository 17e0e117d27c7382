package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/roomchat/internal/config"
	"github.com/npezzotti/roomchat/internal/session"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/npezzotti/roomchat/internal/testutil"
	"github.com/npezzotti/roomchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	snap session.Snapshot
}

func (f *fakeSession) Snapshot() session.Snapshot {
	return f.snap
}

func newTestServer(t *testing.T, snap session.Snapshot) *StatusServer {
	t.Helper()
	su := stats.NewStatsUpdater()
	stats.RegisterAll(su)
	su.Run()
	t.Cleanup(su.Stop)
	su.Incr(stats.FramesReceived)

	cfg := &config.Config{AllowedOrigins: []string{"http://localhost:3000"}}
	return NewStatusServer(testutil.TestLogger(t), &fakeSession{snap: snap}, su, cfg)
}

func serve(s *StatusServer, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func Test_healthCheck(t *testing.T) {
	s := newTestServer(t, session.Snapshot{State: types.StateOpen})

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok","state":"open"}`, rr.Body.String())
}

func Test_session(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newTestServer(t, session.Snapshot{
		RoomID:    "xyz-abcd-efg?hs=456",
		Username:  "A",
		State:     types.StateOpen,
		Occupancy: 2,
		Typing:    []string{"B"},
		Messages:  []types.ChatMessage{{Username: "B", Message: "hi", Timestamp: ts}},
	})

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{
		"room_id": "xyz-abcd-efg?hs=456",
		"username": "A",
		"state": "open",
		"occupancy": 2,
		"typing": ["B"],
		"messages": [{"username": "B", "message": "hi", "timestamp": "2024-05-01T12:00:00Z"}]
	}`, rr.Body.String())
}

func Test_debugVars(t *testing.T) {
	s := newTestServer(t, session.Snapshot{})

	assert.Eventually(t, func() bool {
		rr := serve(s, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
		if rr.Code != http.StatusOK {
			return false
		}
		var vars map[string]int64
		if err := json.Unmarshal(rr.Body.Bytes(), &vars); err != nil {
			return false
		}
		return vars[stats.FramesReceived] == 1
	}, time.Second, 10*time.Millisecond)
}

func Test_notFound(t *testing.T) {
	s := newTestServer(t, session.Snapshot{})

	rr := serve(s, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"status_code":404,"message":"not found"}`, rr.Body.String())
}

func Test_cors(t *testing.T) {
	s := newTestServer(t, session.Snapshot{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := serve(s, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rr = serve(s, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestErrorHandler_PanicRecovery(t *testing.T) {
	s := &StatusServer{log: testutil.TestLogger(t)}

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s.errorHandler(panicHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.JSONEq(t, `{"status_code":500,"message":"internal server error"}`, rr.Body.String())
}

func Test_errorHandler_NoPanic(t *testing.T) {
	s := &StatusServer{log: testutil.TestLogger(t)}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s.errorHandler(okHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func TestApiError(t *testing.T) {
	cause := errors.New("boom")
	err := NewInternalServerError(cause)

	assert.Equal(t, "internal server error: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "not found", NewNotFoundError().Error())
}
