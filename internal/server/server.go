// Package server implements the HTTP admin and read API in front of the
// competition core: pool connectivity, relay fleet management, and
// read-only team, roster, competition, and leaderboard views.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/config"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/relay"
)

const version = "1.0.0"

// Server is the HTTP front of the core.
type Server struct {
	cfg       *config.Config
	pool      *relay.Pool
	router    *chi.Mux
	startedAt time.Time

	// Optional — set before Start() is called.
	teams        TeamAPI
	competitions CompetitionAPI
	leaderboards LeaderboardAPI
}

// New creates a Server over a running pool.
func New(cfg *config.Config, pool *relay.Pool) *Server {
	s := &Server{
		cfg:       cfg,
		pool:      pool,
		startedAt: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// SetTeamAPI attaches the team and roster read endpoints.
func (s *Server) SetTeamAPI(t TeamAPI) { s.teams = t }

// SetCompetitionAPI attaches the competition read endpoints.
func (s *Server) SetCompetitionAPI(c CompetitionAPI) { s.competitions = c }

// SetLeaderboardAPI attaches the leaderboard endpoint.
func (s *Server) SetLeaderboardAPI(l LeaderboardAPI) { s.leaderboards = l }

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	addr := ":" + s.cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting HTTP server", "addr", addr)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
	}
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Health check.
	r.Get("/api/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, map[string]string{"status": "ok", "version": version}, http.StatusOK)
	})

	// Pool connectivity, used to gate queries on minimum connectivity.
	r.Get("/api/status", s.handleStatus)

	// Relay fleet management.
	r.Get("/api/relays", s.handleGetRelays)
	r.Post("/api/relays", s.handleAddRelay)
	r.Delete("/api/relays", s.handleRemoveRelay)
	r.Post("/api/relays/test", s.handleTestRelay)

	// Read-only views over the relay data.
	r.Get("/api/teams", s.handleDiscoverTeams)
	r.Get("/api/teams/{captain}/{dtag}", s.handleGetTeam)
	r.Get("/api/teams/{captain}/{dtag}/members", s.handleGetMembers)
	r.Get("/api/teams/{captain}/{dtag}/competitions", s.handleGetCompetitions)
	r.Get("/api/teams/{captain}/{dtag}/leaderboard", s.handleLeaderboard)

	// Root — basic info page.
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "runstr core - decentralized fitness competitions over Nostr relays.\n\nUptime: %s\n", time.Since(s.startedAt).Round(time.Second))
	})

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.pool.Status()
	jsonResponse(w, map[string]any{
		"relay_count":     st.RelayCount,
		"connected_count": st.ConnectedCount,
		"uptime_secs":     int(time.Since(s.startedAt).Seconds()),
	}, http.StatusOK)
}

// ─── Utility functions ────────────────────────────────────────────────────────

func jsonResponse(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// loggingMiddleware logs each HTTP request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}

// corsMiddleware allows browser clients to hit the read API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
