package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/markatally/agentloop/internal/agent"
	"github.com/markatally/agentloop/internal/events"
	"github.com/markatally/agentloop/internal/logger"
)

// Server exposes the agent over HTTP: a websocket event stream plus a small
// REST surface for sessions.
type Server struct {
	addr       string
	httpServer *http.Server
	agent      *agent.Agent
	hub        *Hub
	log        *logger.Logger
}

// NewServer creates a web server bound to the agent
func NewServer(addr string, ag *agent.Agent) *Server {
	return &Server{
		addr:  addr,
		agent: ag,
		hub:   NewHub(),
		log:   logger.Global().WithPrefix("web"),
	}
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	router := httprouter.New()

	router.GET("/healthz", s.handleHealth)
	router.GET("/ws", s.handleWebSocket)

	router.GET("/api/sessions", s.handleListSessions)
	router.GET("/api/sessions/:id", s.handleGetSession)
	router.DELETE("/api/sessions/:id", s.handleDeleteSession)
	router.POST("/api/sessions/:id/messages", s.handlePostMessage)

	return router
}

// Start begins serving; it returns once the listener is up
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Minute, // turns stream for a while
	}

	go s.hub.Run()

	go func() {
		s.log.Info("listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop() error {
	s.hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade websocket: %v", err)
		return
	}

	client := NewClient(s.hub, conn, s.agent)
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	list, err := s.agent.Sessions().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": list})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	sess, err := s.agent.Sessions().Get(params.ByName("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       sess.ID,
		"title":    sess.Title,
		"messages": sess.History(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if err := s.agent.ClearSession(params.ByName("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// postMessageRequest is the REST form of a chat message
type postMessageRequest struct {
	UserID  string `json:"user_id,omitempty"`
	Content string `json:"content"`
}

// handlePostMessage runs a full turn synchronously and returns its result.
// Incremental events go to websocket subscribers via the hub; the HTTP
// response carries the final outcome.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("malformed request body: %w", err))
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("content is required"))
		return
	}

	sessionID := params.ByName("id")
	if sessionID == "new" {
		sessionID = ""
	}

	sink := events.SinkFunc(func(ev events.Event) error {
		s.hub.Broadcast(eventMessage(ev))
		return nil
	})

	sess, result, err := s.agent.HandleMessage(r.Context(), sessionID, req.UserID, req.Content, sink)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    sess.ID,
		"content":       result.Content,
		"finish_reason": result.FinishReason,
		"steps_taken":   result.StepsTaken,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
