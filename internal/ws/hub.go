package ws

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"chatsync/internal/channels"

	"github.com/google/uuid"
)

var (
	ErrUnknownChannel    = errors.New("channel does not belong to any topic")
	ErrUnknownConnection = errors.New("connection is not joined")
)

// Hub is a small pub/sub broker: connections attach to channels and every
// event published on a channel reaches all of its attached connections,
// the publisher included.
type Hub struct {
	registry *channels.Registry
	logger   *slog.Logger

	// Map of connectionID -> outbound frames
	connections map[string]chan Frame

	// Map of channel -> attached connection ids
	members map[string]map[string]struct{}

	mu sync.RWMutex
}

type HubOption func(*Hub)

func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = l }
}

func NewHub(registry *channels.Registry, opts ...HubOption) *Hub {
	h := &Hub{
		registry:    registry,
		logger:      slog.Default(),
		connections: make(map[string]chan Frame),
		members:     make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join registers a new connection and returns its id and outbound queue.
func (h *Hub) Join() (string, chan Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Frame, 100)
	h.connections[id] = ch
	return id, ch
}

func (h *Hub) Leave(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.connections[connID]; ok {
		close(ch)
		delete(h.connections, connID)
	}

	for name, conns := range h.members {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.members, name)
		}
	}
}

func (h *Hub) Attach(connID, channel string) error {
	if _, ok := h.registry.TopicOf(channel); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[connID]; !ok {
		return ErrUnknownConnection
	}
	conns, ok := h.members[channel]
	if !ok {
		conns = make(map[string]struct{})
		h.members[channel] = conns
	}
	conns[connID] = struct{}{}
	return nil
}

func (h *Hub) Detach(connID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.members[channel]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(h.members, channel)
	}
}

// Publish fans env out to the channel's connections and returns how many
// got it. Only event names declared by the channel's topic are accepted.
func (h *Hub) Publish(env channels.Envelope) (int, error) {
	topic, ok := h.registry.TopicOf(env.Channel)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownChannel, env.Channel)
	}
	if _, err := topic.Schema(env.Name); err != nil {
		return 0, err
	}
	frame, err := EventFrame(env)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for connID := range h.members[env.Channel] {
		select {
		case h.connections[connID] <- frame:
			delivered++
		default:
			h.logger.Warn("dropping event for slow connection", "connection", connID, "channel", env.Channel)
		}
	}
	return delivered, nil
}

// Channels lists channels with at least one attached connection.
func (h *Hub) Channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.members))
	for name := range h.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Members is the number of connections attached to channel.
func (h *Hub) Members(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members[channel])
}
