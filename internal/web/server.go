package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/scenehub/scenehub/internal/config"
	"github.com/scenehub/scenehub/internal/hub"
	"github.com/scenehub/scenehub/internal/logger"
	"github.com/scenehub/scenehub/internal/protocol"
	"github.com/scenehub/scenehub/internal/session"
)

// Server exposes the realtime socket endpoint and the small REST surface
// around it.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	sessions *session.Coordinator
	router   *httprouter.Router
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates a server around an already started hub.
func NewServer(cfg *config.Config, h *hub.Hub, sessions *session.Coordinator) *Server {
	s := &Server{
		cfg:      cfg,
		hub:      h,
		sessions: sessions,
		router:   httprouter.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Identity is asserted in the authenticate frame, not the
			// HTTP request, so cross-origin upgrades are fine.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/ws", s.handleSocket)
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/api/v1/users", s.handleUsers)
	s.router.GET("/api/v1/sessions/:id", s.handleSession)
	s.router.POST("/api/v1/events", s.handleEventIngest)
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}

	logger.Info("Realtime server listening on %s", s.cfg.Addr())

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the HTTP listener down. Live socket connections are closed by
// the hub, not here.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// handleSocket upgrades the connection and runs the handshake before any
// pump starts; a connection that fails it never reaches the hub.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade websocket: %v", err)
		return
	}

	client, err := s.handshake(conn)
	if err != nil {
		logger.Debug("Handshake failed from %s: %v", r.RemoteAddr, err)
		return
	}

	go client.writePump()
	go client.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stats := s.hub.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"connections": stats.Connections,
		"users":       stats.Users,
		"sessions":    s.sessions.Count(),
		"entities":    stats.Entities,
		"uptime":      stats.Uptime.String(),
		"time":        time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"users": s.hub.ConnectedUsers(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	snap, ok := s.sessions.Get(ps.ByName("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

type eventRequest struct {
	Type        protocol.Type          `json:"type"`
	Data        map[string]interface{} `json:"data"`
	TargetUsers []string               `json:"target_users,omitempty"`
}

// relayTypes are the server-originated message types the ingest endpoint
// accepts from engine collaborators. Everything clients send themselves is
// rejected here.
var relayTypes = map[protocol.Type]bool{
	protocol.TypeWorkflowProgress:  true,
	protocol.TypeWorkflowCompleted: true,
	protocol.TypeWorkflowError:     true,
	protocol.TypeCommandExecuting:  true,
	protocol.TypeCommandResult:     true,
	protocol.TypeObjectAdded:       true,
	protocol.TypeObjectDeleted:     true,
	protocol.TypeSystemStatus:      true,
}

// handleEventIngest lets engine processes push notifications to clients
// without holding a socket. Progress events also land in the session record.
func (s *Server) handleEventIngest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !relayTypes[req.Type] {
		http.Error(w, fmt.Sprintf("type %q cannot be ingested", req.Type), http.StatusBadRequest)
		return
	}

	msg := protocol.NewSystemMessage(req.Type, req.Data)
	msg.TargetUsers = req.TargetUsers

	if req.Type == protocol.TypeWorkflowProgress {
		s.recordProgress(msg)
	}

	s.hub.BroadcastMessage(msg)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{"message_id": msg.ID})
}

func (s *Server) recordProgress(msg *protocol.Message) {
	var payload protocol.WorkflowProgressPayload
	if err := msg.DecodeData(&payload); err != nil {
		logger.Debug("Unusable workflow_progress event: %v", err)
		return
	}
	if payload.SessionID == "" {
		return
	}

	status := session.Status(payload.Status)
	if status == "" {
		status = session.StatusRunning
	}
	if !s.sessions.UpdateProgress(payload.SessionID, payload.CurrentStep, payload.TotalSteps, payload.Progress, status) {
		logger.Warn("Progress event for unknown session %s", payload.SessionID)
	}
}
