package api

import (
	"encoding/json"
	"net/http"

	"github.com/npezzotti/roomchat/internal/types"
)

type HealthResponse struct {
	Status string                `json:"status"`
	State  types.ConnectionState `json:"state"`
}

func (s *StatusServer) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *StatusServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, HealthResponse{
		Status: "ok",
		State:  s.sess.Snapshot().State,
	})
}

func (s *StatusServer) session(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	s.writeJson(w, http.StatusOK, s.sess.Snapshot())
}

func (s *StatusServer) notFound(w http.ResponseWriter, r *http.Request) {
	errResp := NewNotFoundError()
	s.writeJson(w, errResp.StatusCode, errResp)
}
