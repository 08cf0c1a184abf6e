// Package api exposes the read-only query accessors over HTTP, the
// action endpoints that delegate to the engine's public actions, and the
// live event stream over WebSocket. Handlers stay thin: validation and
// auth beyond the shared key belong to an upstream layer.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lowlandworks/pixelvale/internal/engine"
	"github.com/lowlandworks/pixelvale/internal/world"
)

// Server serves the world over HTTP.
type Server struct {
	Game      *engine.Game
	Loop      *engine.Loop
	Port      int
	SharedKey      string        // required on POST endpoints when non-empty
	QueueSize      int           // per-subscriber stream buffer
	HeartbeatEvery time.Duration // stream keepalive cadence

	startedAt time.Time
	httpSrv   *http.Server
}

// Start begins serving in a goroutine.
func (s *Server) Start() {
	mux := s.routes()

	addr := fmt.Sprintf(":%d", s.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	slog.Info("HTTP API starting", "addr", addr, "auth", s.SharedKey != "")

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// routes builds the handler tree.
func (s *Server) routes() *http.ServeMux {
	s.startedAt = time.Now()
	if s.QueueSize <= 0 {
		s.QueueSize = 64
	}

	mux := http.NewServeMux()

	// Read-only accessors.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/agents/{id}", s.handleAgent)
	mux.HandleFunc("GET /api/v1/agents/nearby", s.handleNearby)
	mux.HandleFunc("GET /api/v1/trees", s.handleTrees)
	mux.HandleFunc("GET /api/v1/buildings", s.handleBuildings)
	mux.HandleFunc("GET /api/v1/clock", s.handleClock)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/chronicle", s.handleChronicle)

	// Live event stream.
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	// Actions. These call the same engine entry points NPCs use.
	mux.HandleFunc("POST /api/v1/join", s.authed(s.handleJoin))
	mux.HandleFunc("POST /api/v1/agents/{id}/move", s.authed(s.handleMove))
	mux.HandleFunc("POST /api/v1/agents/{id}/say", s.authed(s.handleSay))
	mux.HandleFunc("POST /api/v1/agents/{id}/greet", s.authed(s.handleGreet))
	mux.HandleFunc("POST /api/v1/agents/{id}/accept", s.authed(s.handleAccept))
	mux.HandleFunc("POST /api/v1/agents/{id}/activity", s.authed(s.handleActivity))
	mux.HandleFunc("POST /api/v1/agents/{id}/chop", s.authed(s.handleChop))
	mux.HandleFunc("POST /api/v1/agents/{id}/build", s.authed(s.handleBuild))
	mux.HandleFunc("POST /api/v1/agents/{id}/contribute", s.authed(s.handleContribute))
	mux.HandleFunc("POST /api/v1/agents/{id}/sell", s.authed(s.handleSell))

	return mux
}

// Close shuts the listener down.
func (s *Server) Close() {
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
	}
}

// authed enforces the shared key when one is configured.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.SharedKey != "" && r.Header.Get("X-Api-Key") != s.SharedKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// actionError maps engine failures onto HTTP statuses.
func actionError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if err == world.ErrAgentNotFound {
		status = http.StatusNotFound
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Game.Clock.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"agents":      s.Game.World.Count(),
		"trees":       s.Game.Trees.Count(),
		"buildings":   len(s.Game.Buildings.All()),
		"tick":        s.Loop.Tick(),
		"running":     s.Loop.Running(),
		"subscribers": s.Game.Bus.SubscriberCount(),
		"uptime":      humanize.Time(s.startedAt),
		"day":         st.Day,
		"month":       st.Month,
		"year":        st.Year,
		"weather":     st.Weather,
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Game.World.Agents())
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.Game.World.GetAgent(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, errX := strconv.ParseFloat(q.Get("x"), 64)
	y, errY := strconv.ParseFloat(q.Get("y"), 64)
	radius, errR := strconv.ParseFloat(q.Get("radius"), 64)
	if errX != nil || errY != nil || errR != nil {
		writeError(w, http.StatusBadRequest, "x, y, radius required")
		return
	}
	agents := s.Game.World.NearbyAgents(world.Position{X: x, Y: y}, radius, q.Get("exclude"))
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleTrees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Game.Trees.All())
}

func (s *Server) handleBuildings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Game.Buildings.All())
}

func (s *Server) handleClock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Game.Clock.Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	evs, err := s.Game.Store.RecentEvents(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "event query failed")
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleChronicle(w http.ResponseWriter, r *http.Request) {
	text, err := s.Game.Store.LatestChronicle()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "chronicle query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"chronicle": text})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	a, err := s.Game.Join(req.Name)
	if err != nil {
		actionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "x and y required")
		return
	}
	if err := s.Game.Move(r.PathValue("id"), req.X, req.Y); err != nil {
		actionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}
	msg, err := s.Game.Say(r.PathValue("id"), req.Text)
	if err != nil {
		actionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleGreet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OtherID string `json:"other_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OtherID == "" {
		writeError(w, http.StatusBadRequest, "other_id required")
		return
	}
	c, err := s.Game.Greet(r.PathValue("id"), req.OtherID)
	if err != nil {
		actionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id required")
		return
	}
	if err := s.Game.Accept(req.ConversationID, r.PathValue("id")); err != nil {
		actionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind required")
		return
	}
	if err := s.Game.StartActivity(r.PathValue("id"), world.InteractableKind(req.Kind)); err != nil {
		actionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleChop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "x and y required")
		return
	}
	wood, err := s.Game.Chop(r.PathValue("id"), req.X, req.Y)
	if err != nil {
		actionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"wood": wood})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "x and y required")
		return
	}
	b, err := s.Game.Build(r.PathValue("id"), req.X, req.Y)
	if err != nil {
		actionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuildingID string `json:"building_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BuildingID == "" {
		writeError(w, http.StatusBadRequest, "building_id required")
		return
	}
	b, err := s.Game.Contribute(r.PathValue("id"), req.BuildingID)
	if err != nil {
		actionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "amount required")
		return
	}
	earned, err := s.Game.Sell(r.PathValue("id"), req.Amount)
	if err != nil {
		actionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"earned": earned})
}
