package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/persona/internal/config"
	"github.com/lazypower/persona/internal/engine"
	"github.com/lazypower/persona/internal/store"
)

// Server is the persona HTTP API server.
type Server struct {
	db      *store.DB
	engine  *engine.Engine
	limiter *RateLimiter
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server over the given database and engine. A zero rate limit
// in cfg disables per-client limiting.
func New(db *store.DB, eng *engine.Engine, cfg config.ServerConfig, version string) *Server {
	s := &Server{
		db:      db,
		engine:  eng,
		version: version,
		started: time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}

			r.Post("/profiles", s.handleCreateProfile)
			r.Get("/profiles", s.handleListProfiles)
			r.Route("/profiles/{profileID}", func(r chi.Router) {
				r.Get("/", s.handleGetProfile)
				r.Delete("/", s.handleDeleteProfile)
				r.Get("/chats", s.handleListChats)
				r.Post("/chats", s.handleStartChat)
				r.Get("/memories", s.handleRecall)
				r.Post("/memories", s.handleRemember)
				r.Post("/style", s.handleAdjustStyle)
				r.Get("/context", s.handleGetContext)
			})
			r.Route("/chats/{chatID}", func(r chi.Router) {
				r.Get("/", s.handleGetChat)
				r.Post("/messages", s.handleSendMessage)
				r.Post("/messages/{index}/feedback", s.handleFeedback)
				r.Post("/extract", s.handleExtract)
				r.Post("/interview", s.handleInterview)
			})
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}
