package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ─── Relay fleet handlers ─────────────────────────────────────────────────────

func (s *Server) handleGetRelays(w http.ResponseWriter, r *http.Request) {
	statuses := s.pool.RelayStatuses()
	jsonResponse(w, statuses, http.StatusOK)
}

func (s *Server) handleAddRelay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		http.Error(w, "invalid request: url required", http.StatusBadRequest)
		return
	}
	url := strings.TrimSpace(req.URL)
	if !strings.HasPrefix(url, "wss://") && !strings.HasPrefix(url, "ws://") {
		http.Error(w, "invalid relay URL: must start with wss:// or ws://", http.StatusBadRequest)
		return
	}
	added := s.pool.AddRelay(url)
	if added {
		slog.Info("relay added via admin", "relay", url)
	}
	jsonResponse(w, map[string]any{
		"added":   added,
		"url":     url,
		"message": map[bool]string{true: "relay added", false: "relay already configured"}[added],
	}, http.StatusOK)
}

func (s *Server) handleRemoveRelay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		http.Error(w, "invalid request: url required", http.StatusBadRequest)
		return
	}
	url := strings.TrimSpace(req.URL)
	removed := s.pool.RemoveRelay(url)
	if removed {
		slog.Info("relay removed via admin", "relay", url)
	}
	jsonResponse(w, map[string]any{
		"removed": removed,
		"url":     url,
		"message": map[bool]string{true: "relay removed", false: "relay not found"}[removed],
	}, http.StatusOK)
}

func (s *Server) handleTestRelay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		http.Error(w, "invalid request: url required", http.StatusBadRequest)
		return
	}
	url := strings.TrimSpace(req.URL)
	start := time.Now()
	err := s.pool.TestRelay(r.Context(), url)
	latencyMs := time.Since(start).Milliseconds()
	if err != nil {
		jsonResponse(w, map[string]any{
			"ok":      false,
			"url":     url,
			"error":   err.Error(),
			"latency": latencyMs,
		}, http.StatusOK)
		return
	}
	jsonResponse(w, map[string]any{
		"ok":      true,
		"url":     url,
		"latency": latencyMs,
	}, http.StatusOK)
}
