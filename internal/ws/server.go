package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"chatsync/internal/channels"

	"github.com/gorilla/websocket"
)

// ServerConnectionID stamps events injected over HTTP, the way the backend
// publishes on behalf of nobody in particular.
const ServerConnectionID = "server"

type Server struct {
	hub      *Hub
	upgrader *websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:    hub,
		logger: logger,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Dev broker, any origin.
			},
		},
	}
}

// Routes mounts the websocket endpoint and the HTTP publish endpoint.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleConnections)
	mux.HandleFunc("/publish", s.HandlePublish)
	return mux
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("error upgrading to websocket", "error", err)
		return
	}

	c := NewConnection(s.hub, conn)
	s.logger.Debug("connection opened", "connection", c.ID(), "remote", r.RemoteAddr)
	if err := c.Handle(r.Context()); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Warn("connection closed", "connection", c.ID(), "error", err)
		return
	}
	s.logger.Debug("connection closed", "connection", c.ID())
}

type publishRequest struct {
	Channel string             `json:"channel"`
	Name    channels.EventName `json:"name"`
	Data    json.RawMessage    `json:"data"`
}

type publishResponse struct {
	Delivered int `json:"delivered"`
}

// HandlePublish injects one event, as the backend does after a mutation.
func (s *Server) HandlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	delivered, err := s.hub.Publish(channels.Envelope{
		Channel:      req.Channel,
		Name:         req.Name,
		Data:         req.Data,
		ConnectionID: ServerConnectionID,
	})
	if err != nil {
		var unknown *channels.UnknownTopicError
		if errors.Is(err, ErrUnknownChannel) || errors.As(err, &unknown) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("publish failed", "channel", req.Channel, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(publishResponse{Delivered: delivered}); err != nil {
		s.logger.Error("error writing response", "error", err)
	}
}
