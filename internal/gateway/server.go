// Package gateway exposes the game over HTTP and WebSocket: lobby
// endpoints for creating and joining sessions, and a per-player socket
// that drives a session engine.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/jamblive/jamblive/internal/engine"
	"github.com/jamblive/jamblive/internal/models"
	"github.com/jamblive/jamblive/internal/realtime"
	"github.com/jamblive/jamblive/internal/scorecard"
	"github.com/jamblive/jamblive/internal/store"
)

// Config holds HTTP and socket tuning.
type Config struct {
	Addr           string
	AllowedOrigins []string

	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	CommandTimeout time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns the default server tuning.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		AllowedOrigins: []string{"*"},
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		CommandTimeout: 5 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Server serves the lobby API and upgrades players onto session engines.
type Server struct {
	cfg       Config
	store     *store.Gateway
	channel   *realtime.Channel
	engineCfg engine.Config
	clock     clockwork.Clock
	upgrader  websocket.Upgrader

	mu          sync.RWMutex
	connections map[uuid.UUID]map[*Connection]bool
}

// NewServer builds a server over shared store and channel handles.
func NewServer(cfg Config, gw *store.Gateway, channel *realtime.Channel, engineCfg engine.Config, clock clockwork.Clock) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Server{
		cfg:       cfg,
		store:     gw,
		channel:   channel,
		engineCfg: engineCfg,
		clock:     clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		connections: make(map[uuid.UUID]map[*Connection]bool),
	}
}

// Handler returns the CORS-wrapped route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("POST /sessions/join", s.handleJoinSession)
	mux.HandleFunc("POST /sessions/{id}/start", s.handleStartGame)
	mux.HandleFunc("POST /sessions/{id}/leave", s.handleLeaveSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(mux)
}

// ListenAndServe blocks serving the API until the context is cancelled,
// then drains open connections.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: 0, // WebSocket writes manage their own deadlines
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeAll()
	}()

	log.Info().Str("addr", s.cfg.Addr).Msg("gateway listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) register(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connections[c.sessionID] == nil {
		s.connections[c.sessionID] = make(map[*Connection]bool)
	}
	s.connections[c.sessionID][c] = true
}

func (s *Server) unregister(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conns, ok := s.connections[c.sessionID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(s.connections, c.sessionID)
		}
	}
}

func (s *Server) closeAll() {
	s.mu.RLock()
	var all []*Connection
	for _, conns := range s.connections {
		for c := range conns {
			all = append(all, c)
		}
	}
	s.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HostName string `json:"host_name"`
		DiceMode string `json:"dice_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HostName == "" {
		writeError(w, http.StatusBadRequest, "host_name is required")
		return
	}
	mode := models.DiceModeVirtual
	if req.DiceMode != "" {
		mode = models.DiceMode(req.DiceMode)
	}

	session, player, err := s.store.CreateSession(r.Context(), req.HostName, mode)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session": session,
		"player":  player,
	})
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JoinCode    string `json:"join_code"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JoinCode == "" || req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "join_code and display_name are required")
		return
	}

	session, player, err := s.store.JoinSession(r.Context(), req.JoinCode, req.DisplayName)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": session,
		"player":  player,
	})
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	session, err := s.store.StartGame(r.Context(), sessionID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLeaveSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	var req struct {
		PlayerID uuid.UUID `json:"player_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "player_id is required")
		return
	}
	if err := s.store.LeaveSession(r.Context(), sessionID, req.PlayerID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	snapshot, err := s.buildSnapshot(r.Context(), nil, sessionID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.URL.Query().Get("session_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session_id")
		return
	}
	playerID, err := uuid.Parse(r.URL.Query().Get("player_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player_id")
		return
	}
	player, err := s.store.GetPlayer(r.Context(), playerID)
	if err != nil || player.SessionID != sessionID {
		writeError(w, http.StatusNotFound, "player not in session")
		return
	}

	eng := engine.NewEngine(s.engineCfg, s.store, s.channel, s.clock, sessionID, playerID)
	if err := eng.Start(r.Context()); err != nil {
		log.Error().Err(err).Msg("failed to start session engine")
		writeError(w, http.StatusServiceUnavailable, "session engine unavailable")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		eng.Close()
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newConnection(s, ws, eng, sessionID, playerID)
	conn.start()
	conn.pushSnapshot(r.Context())

	log.Info().
		Str("connection_id", conn.id.String()).
		Str("session_id", sessionID.String()).
		Str("player_id", playerID.String()).
		Msg("websocket connection established")
}

// buildSnapshot assembles the full session view. eng may be nil for
// lobby reads with no live attachment.
func (s *Server) buildSnapshot(ctx context.Context, eng *engine.Engine, sessionID uuid.UUID) (*Snapshot, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	players, err := s.store.GetPlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	states, err := s.store.GetPlayerStates(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		SessionID:     session.ID,
		JoinCode:      session.JoinCode,
		Status:        string(session.Status),
		DiceMode:      string(session.DiceMode),
		CurrentTurnID: session.CurrentTurnID,
		WinnerID:      session.WinnerID,
	}
	if eng != nil {
		coord := eng.Coordinator()
		snapshot.Phase = string(coord.Phase())
		snapshot.Connection = string(eng.ConnectionState())
		snapshot.Fillable = coord.FillableCells()
		snapshot.RecentActions = coord.RecentActions()
	}

	for _, p := range players {
		view := PlayerView{
			ID:               p.ID,
			DisplayName:      p.DisplayName,
			TurnIndex:        p.TurnIndex,
			IsHost:           p.IsHost,
			ConnectionStatus: string(p.ConnectionStatus),
		}
		if st, ok := states[p.ID]; ok {
			view.Dice = st.Dice[:]
			view.Locked = st.Locked[:]
			view.RollsRemaining = st.RollsRemaining
			view.Scorecard = st.Scorecard
			view.Announcement = st.Announcement
			view.GrandTotal = scorecard.GrandTotal(st.Scorecard)
		}
		snapshot.Players = append(snapshot.Players, view)
	}
	return snapshot, nil
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrSessionFull):
		writeError(w, http.StatusConflict, "session is full")
	case errors.Is(err, store.ErrSessionStarted):
		writeError(w, http.StatusConflict, "session already started")
	case errors.Is(err, store.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, "session already completed")
	default:
		log.Error().Err(err).Msg("store request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
