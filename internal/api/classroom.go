package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-classroom/internal/config"
	"github.com/npezzotti/go-classroom/internal/server"
	"github.com/npezzotti/go-classroom/internal/store"
)

type ClassroomApp struct {
	log            *log.Logger
	store          store.ClassroomStore
	mux            *http.Server
	ss             *server.SignalServer
	signingKey     []byte
	allowedOrigins []string
}

func NewClassroomApp(mux *http.ServeMux, logger *log.Logger, ss *server.SignalServer, st store.ClassroomStore, cfg *config.Config) *ClassroomApp {
	s := &ClassroomApp{
		log:            logger,
		store:          st,
		ss:             ss,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	mux.Handle("GET /api/metrics", http.HandlerFunc(s.metrics))
	mux.Handle("GET /api/history", s.authMiddleware(s.history))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *ClassroomApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ClassroomApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
