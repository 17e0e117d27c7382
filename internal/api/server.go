// Package api serves a read-only view of a running session for browser UIs
// and local tooling.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/roomchat/internal/config"
	"github.com/npezzotti/roomchat/internal/session"
	"github.com/rs/zerolog"
)

type SessionReader interface {
	Snapshot() session.Snapshot
}

type StatusServer struct {
	log   zerolog.Logger
	sess  SessionReader
	stats http.Handler
	srv   *http.Server
}

func NewStatusServer(logger zerolog.Logger, sess SessionReader, stats http.Handler, cfg *config.Config) *StatusServer {
	s := &StatusServer{
		log:   logger.With().Str("component", "status").Logger(),
		sess:  sess,
		stats: stats,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /api/session", s.session)
	mux.Handle("GET /debug/vars", s.stats)
	mux.HandleFunc("/", s.notFound)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(mux)

	h = s.errorHandler(h)
	h = handlers.LoggingHandler(s.log, h)

	s.srv = &http.Server{
		Addr:              cfg.DebugAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *StatusServer) Handler() http.Handler {
	return s.srv.Handler
}

// Start blocks until the server stops. A clean Shutdown returns nil.
func (s *StatusServer) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting status server")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down status server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}

	return nil
}
