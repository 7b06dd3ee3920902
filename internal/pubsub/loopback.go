package pubsub

import (
	"context"
	"errors"
	"sort"
	"sync"

	"chatsync/internal/channels"
)

var ErrTransportClosed = errors.New("transport closed")

// Loopback is an in-process Transport. Events published on it come back to
// its own subscribers stamped with its connection id; Deliver injects events
// from other connections.
type Loopback struct {
	connID string
	events chan channels.Envelope

	mu       sync.Mutex
	attached map[string]int
	log      []string
	closed   bool
}

func NewLoopback(connID string, buffer int) *Loopback {
	return &Loopback{
		connID:   connID,
		events:   make(chan channels.Envelope, buffer),
		attached: make(map[string]int),
	}
}

func (l *Loopback) ConnectionID() string {
	return l.connID
}

func (l *Loopback) Attach(_ context.Context, channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrTransportClosed
	}
	l.attached[channel]++
	l.log = append(l.log, "attach "+channel)
	return nil
}

func (l *Loopback) Detach(_ context.Context, channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.attached[channel] > 0 {
		l.attached[channel]--
	}
	if l.attached[channel] == 0 {
		delete(l.attached, channel)
	}
	l.log = append(l.log, "detach "+channel)
	return nil
}

func (l *Loopback) Events() <-chan channels.Envelope {
	return l.events
}

// Deliver queues env when its channel is attached. It reports whether the
// event was queued.
func (l *Loopback) Deliver(env channels.Envelope) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.attached[env.Channel] == 0 {
		return false
	}
	select {
	case l.events <- env:
		return true
	default:
		return false
	}
}

func (l *Loopback) Publish(_ context.Context, channel string, name channels.EventName, data any) error {
	l.Deliver(channels.Envelope{
		Channel:      channel,
		Name:         name,
		Data:         data,
		ConnectionID: l.connID,
	})
	return nil
}

// Attached lists attached channels in lexical order.
func (l *Loopback) Attached() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.attached))
	for name := range l.attached {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Log returns the attach and detach calls in order.
func (l *Loopback) Log() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.log...)
}

func (l *Loopback) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.events)
}
