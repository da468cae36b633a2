// Package api provides the HTTP API for playing and watching a race.
// GET endpoints are public (read-only observation).
// Click and buy are public input, rate limited per client IP.
// POST /speed requires a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/talgya/campaign/internal/economy"
	"github.com/talgya/campaign/internal/engine"
	"github.com/talgya/campaign/internal/persistence"
	"github.com/talgya/campaign/internal/session"
)

const (
	maxSSEConns   = 2
	sseCatchUp    = 50
	sseHeartbeat  = 15 * time.Second
	defaultEvents = 50
	maxEvents     = 500
)

// Server serves one session over HTTP.
type Server struct {
	Session  *session.Session
	Eng      *engine.Engine
	DB       *persistence.DB // nil disables history
	Port     int
	AdminKey string // Bearer token for POST /speed. Empty = speed is read-only.
	RelayKey string // Bearer token for the SSE stream. Empty = stream is public.

	// ClickLimiter throttles click and buy per IP. Nil gets a default.
	ClickLimiter *RateLimiter

	// Active SSE connection count (atomic).
	sseConns int32

	srv *http.Server
}

// Routes builds the handler tree without starting a listener.
func (s *Server) Routes() http.Handler {
	if s.ClickLimiter == nil {
		s.ClickLimiter = NewRateLimiter(20, 40)
	}

	mux := http.NewServeMux()

	// Public observation.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/producers", s.handleProducers)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/history/", s.handleHistoryEvents)

	// Player input.
	mux.HandleFunc("/api/v1/click", RateLimitMiddleware(s.ClickLimiter, s.handleClick))
	mux.HandleFunc("/api/v1/buy", RateLimitMiddleware(s.ClickLimiter, s.handleBuy))

	// SSE streaming endpoint.
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// Admin endpoints (POST requires bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	handler := s.Routes()
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "relay_auth", s.RelayKey != "", "history", s.DB != nil)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Periodic cleanup of idle rate-limit entries.
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for range t.C {
			if n := s.ClickLimiter.Cleanup(); n > 0 {
				slog.Debug("rate limiter cleanup", "removed", n)
			}
		}
	}()
}

// Shutdown stops the listener started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CAMPAIGN_CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CAMPAIGN_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerMatches reports whether the request carries key as a bearer token.
func bearerMatches(r *http.Request, key string) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == key
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no CAMPAIGN_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !bearerMatches(r, s.AdminKey) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

type statusResponse struct {
	session.Snapshot
	Speed   float64 `json:"speed"`
	Running bool    `json:"running"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Snapshot: s.Session.Status()}
	if s.Eng != nil {
		resp.Speed = s.Eng.Speed()
		resp.Running = s.Eng.Running()
	}
	writeJSON(w, resp)
}

func (s *Server) handleProducers(w http.ResponseWriter, r *http.Request) {
	snap := s.Session.Snapshot()
	producers := snap.Producers
	if producers == nil {
		producers = []session.ProducerView{}
	}
	writeJSON(w, producers)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	credited, err := s.Session.Click()
	snap := s.Session.Status()
	if errors.Is(err, session.ErrGameOver) {
		writeErrorJSON(w, http.StatusConflict, map[string]any{
			"error": err.Error(),
			"state": snap.State,
		})
		return
	}

	writeJSON(w, map[string]any{
		"credited":     credited,
		"player_votes": snap.PlayerVotes,
		"state":        snap.State,
	})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Producer string `json:"producer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Producer == "" {
		writeError(w, http.StatusBadRequest, "producer is required")
		return
	}

	res, err := s.Session.Buy(req.Producer)
	snap := s.Session.Snapshot()
	if errors.Is(err, session.ErrGameOver) {
		writeErrorJSON(w, http.StatusConflict, map[string]any{
			"error": err.Error(),
			"state": snap.State,
		})
		return
	}
	if res == economy.PurchaseUnknownType {
		writeErrorJSON(w, http.StatusNotFound, map[string]any{
			"error":  fmt.Sprintf("unknown producer %q", req.Producer),
			"result": res,
		})
		return
	}

	owned := 0
	for _, p := range snap.Producers {
		if p.ID == req.Producer {
			owned = p.Owned
			break
		}
	}
	writeJSON(w, map[string]any{
		"result":       res,
		"success":      res == economy.PurchaseOK,
		"owned":        owned,
		"player_votes": snap.PlayerVotes,
		"state":        snap.State,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEvents
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxEvents {
			limit = n
		}
	}

	events := s.Session.Events(0)

	// Optional category filter.
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := make([]session.Event, 0, len(events))
		for _, e := range events {
			if e.Category == category {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	start := 0
	if len(events) > limit {
		start = len(events) - limit
	}

	writeJSON(w, events[start:])
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Session.Stats())
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		writeError(w, http.StatusServiceUnavailable, "no engine attached")
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "history disabled (no database)")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	results, err := s.DB.RecentResults(limit)
	if err != nil {
		slog.Error("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	record, err := s.DB.Record()
	if err != nil {
		slog.Error("record query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if results == nil {
		results = []session.Result{}
	}

	writeJSON(w, map[string]any{
		"record":   record,
		"sessions": results,
	})
}

// handleHistoryEvents serves GET /api/v1/history/:id/events.
func (s *Server) handleHistoryEvents(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "history disabled (no database)")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/history/")
	id, tail, _ := strings.Cut(rest, "/")
	if id == "" || tail != "events" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	events, err := s.DB.SessionEvents(id)
	if err != nil {
		slog.Error("session events query failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "no events for session")
		return
	}
	writeJSON(w, events)
}

// handleStream provides an SSE endpoint for real-time event streaming.
// Limits concurrent connections; requires the relay key when one is set.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.RelayKey != "" && !bearerMatches(r, s.RelayKey) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Connection limit.
	current := atomic.AddInt32(&s.sseConns, 1)
	if current > maxSSEConns {
		atomic.AddInt32(&s.sseConns, -1)
		http.Error(w, "too many SSE connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.sseConns, -1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before the catch-up read so nothing falls between the two.
	subID, ch := s.Session.Subscribe()
	defer s.Session.Unsubscribe(subID)

	var lastSeq uint64
	for _, e := range s.Session.Events(sseCatchUp) {
		writeSSEEvent(w, e)
		lastSeq = e.Seq
	}
	flusher.Flush()

	slog.Info("SSE client connected", "sub_id", subID)

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Seq <= lastSeq {
				continue
			}
			writeSSEEvent(w, e)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "sub_id", subID)
			return
		}
	}
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(w http.ResponseWriter, e session.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Category, data)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func writeErrorJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeErrorJSON(w, code, map[string]string{"error": msg})
}
