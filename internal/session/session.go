package session

import (
	"strings"
	"sync"
)

// Identity is the signed-in user as seen by the sync layer.
type Identity interface {
	CurrentUserID() string
	// ConnectionID is the id the transport stamps on events this client
	// publishes. It is empty until the transport is connected.
	ConnectionID() string
	IsAuthenticated() bool
}

// Navigator is the router of the client.
type Navigator interface {
	Push(path string)
	CurrentPath() string
}

const HomePath = "/home"

// DMPath is the route of the direct conversation with a user.
func DMPath(userID string) string {
	return "/dm/" + userID
}

// GroupPath is the route of a group conversation.
func GroupPath(groupID string) string {
	return "/chat/" + groupID
}

// DMChannelPath is the route of a direct channel opened by its channel id.
func DMChannelPath(channelID string) string {
	return "/dm/channel/" + channelID
}

// ActiveConversation splits the current path into a conversation kind
// ("dm", "dm-channel" or "chat") and its id.
func ActiveConversation(path string) (kind, id string) {
	switch {
	case strings.HasPrefix(path, "/dm/channel/"):
		return "dm-channel", strings.TrimPrefix(path, "/dm/channel/")
	case strings.HasPrefix(path, "/dm/"):
		return "dm", strings.TrimPrefix(path, "/dm/")
	case strings.HasPrefix(path, "/chat/"):
		return "chat", strings.TrimPrefix(path, "/chat/")
	}
	return "", ""
}

// Static is an Identity fixed for the lifetime of a session. The connection
// id is filled in once the transport reports it.
type Static struct {
	UserID string

	mu     sync.RWMutex
	connID string
}

func NewStatic(userID string) *Static {
	return &Static{UserID: userID}
}

func (s *Static) CurrentUserID() string {
	return s.UserID
}

func (s *Static) ConnectionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connID
}

func (s *Static) SetConnectionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connID = id
}

func (s *Static) IsAuthenticated() bool {
	return s.UserID != ""
}

// History is an in-memory Navigator keeping every pushed path.
type History struct {
	mu    sync.Mutex
	paths []string
}

func NewHistory(start string) *History {
	return &History{paths: []string{start}}
}

func (h *History) Push(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paths = append(h.paths, path)
}

func (h *History) CurrentPath() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.paths) == 0 {
		return ""
	}
	return h.paths[len(h.paths)-1]
}

// Pushed returns the paths pushed after the start path.
func (h *History) Pushed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.paths) <= 1 {
		return nil
	}
	return append([]string(nil), h.paths[1:]...)
}
