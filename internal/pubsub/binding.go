package pubsub

import (
	"context"
	"slices"
	"sync"

	"chatsync/internal/channels"
)

// Binding keeps one subscription in step with changing key arguments, the way
// a view re-subscribes when its route or session changes.
type Binding struct {
	manager *Manager
	topic   channels.TopicID
	handler Handler

	mu      sync.Mutex
	bound   bool
	args    []string
	enabled bool
	sub     *Subscription
}

func (m *Manager) Bind(topic channels.TopicID, handler Handler) *Binding {
	return &Binding{manager: m, topic: topic, handler: handler}
}

// Update re-subscribes when args or enabled changed. The old subscription is
// closed before the new one is opened.
func (b *Binding) Update(ctx context.Context, enabled bool, args ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bound && b.enabled == enabled && slices.Equal(b.args, args) {
		return nil
	}

	if err := b.sub.Close(); err != nil {
		b.manager.logger.Warn("closing stale subscription", "channel", b.sub.Channel(), "error", err)
	}
	b.sub = nil
	b.bound = false

	sub, err := b.manager.Subscribe(ctx, b.topic, args, enabled, b.handler)
	if err != nil {
		return err
	}
	b.sub = sub
	b.args = slices.Clone(args)
	b.enabled = enabled
	b.bound = true
	return nil
}

// Channel is the channel currently bound, or empty.
func (b *Binding) Channel() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return ""
	}
	return b.sub.Channel()
}

func (b *Binding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.sub.Close()
	b.sub = nil
	b.bound = false
	return err
}
