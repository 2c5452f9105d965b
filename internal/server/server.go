// Package server is the view-facing surface: a small JSON API for viewer
// intents and a websocket feed of state commits and marker frames.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"trail-svr/internal/controller"
	"trail-svr/internal/motion"
)

// Controller is the part of controller.Controller the view drives.
type Controller interface {
	State() controller.State
	SetActiveDevice(id string)
	RefreshNow()
	SetAutoRefresh(enabled bool, interval time.Duration)
	ClearLocalData(deviceID string)
}

type Server struct {
	ctrl     Controller
	hub      *hub
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(ctrl Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")
	return &Server{
		ctrl: ctrl,
		hub:  newHub(logger),
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

type envelope struct {
	Type     string            `json:"type"`
	State    *controller.State `json:"state,omitempty"`
	DeviceID string            `json:"device_id,omitempty"`
	Position *motion.Position  `json:"position,omitempty"`
}

// PublishState pushes a full state snapshot to every viewer.
func (s *Server) PublishState(st controller.State) {
	s.send(envelope{Type: "state", State: &st})
}

// PublishMarker pushes one animation frame of the live marker.
func (s *Server) PublishMarker(deviceID string, p motion.Position) {
	s.send(envelope{Type: "marker", DeviceID: deviceID, Position: &p})
}

func (s *Server) send(e envelope) {
	if s.hub.count() == 0 {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		s.log.Error("encode viewer message", "type", e.Type, "err", err)
		return
	}
	s.hub.broadcast(b)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/device", s.handleDevice)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auto-refresh", s.handleAutoRefresh)
	mux.HandleFunc("DELETE /api/devices/{id}/cache", s.handleClear)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Start serves the viewer API on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		s.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("viewer API listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.State())
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	id := strings.TrimSpace(body.ID)
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	s.ctrl.SetActiveDevice(id)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.ctrl.State().DeviceID == "" {
		writeError(w, http.StatusConflict, "no active device")
		return
	}
	s.ctrl.RefreshNow()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleAutoRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled    bool  `json:"enabled"`
		IntervalMS int64 `json:"interval_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.IntervalMS < 0 {
		writeError(w, http.StatusBadRequest, "interval_ms must not be negative")
		return
	}
	s.ctrl.SetAutoRefresh(body.Enabled, time.Duration(body.IntervalMS)*time.Millisecond)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	s.ctrl.ClearLocalData(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	// new viewers start from the current snapshot
	st := s.ctrl.State()
	if b, err := json.Marshal(envelope{Type: "state", State: &st}); err == nil {
		c.send <- b
	}
	s.hub.add(c)
	go c.writePump()
	go c.readPump(s.hub)
}
