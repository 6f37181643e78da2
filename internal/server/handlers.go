package server

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/relay"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const maxJoinBodySize = 1 << 20

//go:embed static/index.html
var indexHTML []byte

// Server holds the HTTP handlers and the state they share.
type Server struct {
	cfg      Config
	relay    *relay.Relay
	logger   *slog.Logger
	origins  *originPolicy
	upgrader websocket.Upgrader
	pumps    sync.WaitGroup
}

// New returns a Server serving rl with the given configuration.
func New(cfg Config, rl *relay.Relay, logger *slog.Logger) *Server {
	cfg = cfg.Sanitize()
	s := &Server{
		cfg:     cfg,
		relay:   rl,
		logger:  logger,
		origins: newOriginPolicy(cfg.AllowedOrigins, logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// JoinRoomHandler handles POST /join-room. It creates the room on first use
// or checks the password and username against the existing one. The
// WebSocket registration that follows repeats the username check.
func (s *Server) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJoinRequest(w, r)
	if err != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Detail: err.Error()})
		return
	}

	roomID, username := *req.RoomID, *req.UserID
	outcome, err := s.relay.TryJoin(roomID, username, *req.Password)
	switch {
	case errors.Is(err, relay.ErrWrongPassword):
		s.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Detail: "Wrong password"})
	case errors.Is(err, relay.ErrUsernameTaken):
		s.writeJSON(w, http.StatusConflict, ErrorResponse{Detail: "Username already taken"})
	case err != nil:
		s.logger.Error("Join request failed", "room", roomID, "user", username, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Detail: "Internal server error"})
	case outcome == relay.RoomCreated:
		s.writeJSON(w, http.StatusOK, JoinResponse{Message: fmt.Sprintf("Room %s created successfully", roomID)})
	default:
		s.writeJSON(w, http.StatusOK, JoinResponse{Message: fmt.Sprintf("User %s can join room %s", username, roomID)})
	}
}

func decodeJoinRequest(w http.ResponseWriter, r *http.Request) (JoinRequest, error) {
	var req JoinRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJoinBodySize))
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}

	switch {
	case req.UserID == nil:
		return req, errors.New("field UserId is required")
	case req.RoomID == nil:
		return req, errors.New("field roomId is required")
	case req.Password == nil:
		return req, errors.New("field password is required")
	}
	return req, nil
}

// WebSocketHandler handles GET /ws/{room_id}/{user_id}. It upgrades the
// connection, registers it with the relay and starts the client's pumps. A
// refused registration is closed with a policy-violation frame.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomID, username := vars["room_id"], vars["user_id"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.cfg, r.RemoteAddr, s.logger)
	session, err := s.relay.Register(roomID, username, client)
	if err != nil {
		s.rejectConnection(conn, err)
		return
	}
	client.session = session

	s.pumps.Add(2)
	go func() {
		defer s.pumps.Done()
		client.writePump()
	}()
	go func() {
		defer s.pumps.Done()
		client.readPump()
	}()
}

// rejectConnection closes a socket whose registration failed.
func (s *Server) rejectConnection(conn *websocket.Conn, err error) {
	reason := "Registration failed"
	switch {
	case errors.Is(err, relay.ErrUsernameTaken):
		reason = "Username already taken"
	case errors.Is(err, relay.ErrRoomNotFound):
		reason = "Room not found"
	}

	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if werr := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); werr != nil && !isExpectedCloseError(werr) {
		s.logger.Warn("Error writing close message", "addr", conn.RemoteAddr().String(), "error", werr)
	}
	if cerr := conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
		s.logger.Warn("Error closing rejected connection", "error", cerr)
	}
}

// HealthHandler reports liveness and current room and connection counts.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Rooms:       s.relay.RoomCount(),
		Connections: s.relay.TotalConnections(),
	})
}

// IndexHandler serves the single-page chat client.
func (s *Server) IndexHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(indexHTML); err != nil {
		s.logger.Warn("Error writing HTML response", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Error writing JSON response", "status", status, "error", err)
	}
}
