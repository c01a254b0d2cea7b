package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/competition"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/leaderboard"
	"github.com/RUNSTR-LLC/RUNSTR-sub002/internal/team"
)

// TeamAPI serves team and roster reads. *team.Service satisfies it.
type TeamAPI interface {
	Discover(ctx context.Context, includeDeleted bool) ([]team.Team, error)
	GetTeam(ctx context.Context, captain, dtag string) (*team.Team, error)
	GetList(ctx context.Context, captain, teamDTag string) (*team.List, error)
}

// CompetitionAPI serves competition reads. *competition.Service
// satisfies it.
type CompetitionAPI interface {
	QueryForTeam(ctx context.Context, teamDTag string) ([]competition.League, []competition.Event, error)
}

// LeaderboardAPI computes leaderboards. *leaderboard.Service satisfies
// it.
type LeaderboardAPI interface {
	ForCompetition(ctx context.Context, captain, teamDTag, competitionID string) (leaderboard.Leaderboard, error)
}

// ─── Read handlers ────────────────────────────────────────────────────────────

func (s *Server) handleDiscoverTeams(w http.ResponseWriter, r *http.Request) {
	if s.teams == nil {
		http.Error(w, "team service not available", http.StatusServiceUnavailable)
		return
	}
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	teams, err := s.teams.Discover(r.Context(), includeDeleted)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if teams == nil {
		teams = []team.Team{}
	}
	jsonResponse(w, teams, http.StatusOK)
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	if s.teams == nil {
		http.Error(w, "team service not available", http.StatusServiceUnavailable)
		return
	}
	t, err := s.teams.GetTeam(r.Context(), chi.URLParam(r, "captain"), chi.URLParam(r, "dtag"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if t == nil {
		http.NotFound(w, r)
		return
	}
	jsonResponse(w, t, http.StatusOK)
}

func (s *Server) handleGetMembers(w http.ResponseWriter, r *http.Request) {
	if s.teams == nil {
		http.Error(w, "team service not available", http.StatusServiceUnavailable)
		return
	}
	list, err := s.teams.GetList(r.Context(), chi.URLParam(r, "captain"), chi.URLParam(r, "dtag"))
	if errors.Is(err, team.ErrListNotFound) {
		// A missing list is "no roster yet", never an empty roster.
		http.Error(w, "membership list not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, list, http.StatusOK)
}

func (s *Server) handleGetCompetitions(w http.ResponseWriter, r *http.Request) {
	if s.competitions == nil {
		http.Error(w, "competition service not available", http.StatusServiceUnavailable)
		return
	}
	leagues, events, err := s.competitions.QueryForTeam(r.Context(), chi.URLParam(r, "dtag"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if leagues == nil {
		leagues = []competition.League{}
	}
	if events == nil {
		events = []competition.Event{}
	}
	jsonResponse(w, map[string]any{"leagues": leagues, "events": events}, http.StatusOK)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.leaderboards == nil {
		http.Error(w, "leaderboard service not available", http.StatusServiceUnavailable)
		return
	}
	competitionID := r.URL.Query().Get("competition")
	if competitionID == "" {
		http.Error(w, "competition query parameter required", http.StatusBadRequest)
		return
	}
	lb, err := s.leaderboards.ForCompetition(r.Context(),
		chi.URLParam(r, "captain"), chi.URLParam(r, "dtag"), competitionID)
	if errors.Is(err, leaderboard.ErrCompetitionNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	// Partial connectivity is not an error; decorate so callers can warn.
	st := s.pool.Status()
	jsonResponse(w, map[string]any{
		"leaderboard":      lb,
		"connected_relays": st.ConnectedCount,
		"total_relays":     st.RelayCount,
	}, http.StatusOK)
}
