package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"chatsync/internal/channels"

	"github.com/google/uuid"
)

var ErrStaleSubscription = errors.New("subscription is closed")

// Handler receives decoded events of one subscription. Handlers of a manager
// run one at a time on the dispatch goroutine.
type Handler func(channels.Event)

// Manager routes transport events to the handlers subscribed to their channel.
type Manager struct {
	registry  *channels.Registry
	transport Transport
	logger    *slog.Logger

	mu        sync.Mutex
	byChannel map[string][]*Subscription
}

type ManagerOption func(*Manager)

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

func NewManager(registry *channels.Registry, transport Transport, opts ...ManagerOption) (*Manager, error) {
	if registry == nil {
		return nil, &channels.ConfigurationError{Reason: "channel registry is nil"}
	}
	if transport == nil {
		return nil, &channels.ConfigurationError{Reason: "transport is not initialized"}
	}
	m := &Manager{
		registry:  registry,
		transport: transport,
		logger:    slog.Default(),
		byChannel: make(map[string][]*Subscription),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) Registry() *channels.Registry {
	return m.registry
}

func (m *Manager) Transport() Transport {
	return m.transport
}

// Subscribe binds handler to the channel derived from topic and args. A
// disabled subscription returns an inert handle and touches nothing.
func (m *Manager) Subscribe(ctx context.Context, topic channels.TopicID, args []string, enabled bool, handler Handler) (*Subscription, error) {
	if !enabled {
		return &Subscription{}, nil
	}

	t, err := m.registry.Topic(topic)
	if err != nil {
		return nil, err
	}
	name, err := t.ChannelName(args...)
	if err != nil {
		return nil, err
	}

	s := &Subscription{
		id:      uuid.NewString(),
		topic:   t,
		channel: name,
		handler: handler,
		manager: m,
		logger:  m.logger,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.byChannel[name]) == 0 {
		if err := m.transport.Attach(ctx, name); err != nil {
			return nil, fmt.Errorf("attach %s: %w", name, err)
		}
	}
	m.byChannel[name] = append(m.byChannel[name], s)
	s.live.Store(true)

	m.logger.Debug("subscribed", "channel", name, "subscription", s.id)
	return s, nil
}

// Unsubscribe closes a handle. It is safe to call more than once.
func (m *Manager) Unsubscribe(s *Subscription) error {
	return s.Close()
}

// With runs fn while holding a subscription and releases it on every return
// path, including panics.
func (m *Manager) With(ctx context.Context, topic channels.TopicID, args []string, enabled bool, handler Handler, fn func(context.Context) error) error {
	s, err := m.Subscribe(ctx, topic, args, enabled, handler)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(ctx)
}

func (m *Manager) remove(s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.byChannel[s.channel]
	for i, other := range subs {
		if other == s {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) > 0 {
		m.byChannel[s.channel] = subs
		return nil
	}

	delete(m.byChannel, s.channel)
	if err := m.transport.Detach(context.Background(), s.channel); err != nil {
		return fmt.Errorf("detach %s: %w", s.channel, err)
	}
	return nil
}

// Channels lists channels with at least one live subscription.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.byChannel))
	for name := range m.byChannel {
		names = append(names, name)
	}
	return names
}

// Dispatch decodes one envelope and hands it to the live subscriptions of its
// channel. Undeclared or malformed events stop here.
func (m *Manager) Dispatch(env channels.Envelope) {
	m.mu.Lock()
	subs := append([]*Subscription(nil), m.byChannel[env.Channel]...)
	m.mu.Unlock()

	if len(subs) == 0 {
		m.logger.Debug("dropping event for unsubscribed channel", "channel", env.Channel, "event", env.Name)
		return
	}

	ev, err := subs[0].topic.Decode(env)
	if err != nil {
		m.logger.Warn("discarding event", "channel", env.Channel, "event", env.Name, "error", err)
		return
	}

	for _, s := range subs {
		if err := s.deliver(ev); err != nil && !errors.Is(err, ErrStaleSubscription) {
			m.logger.Error("handler failed", "channel", env.Channel, "event", env.Name, "error", err)
		}
	}
}

// Run dispatches transport events until ctx is done or the transport closes.
func (m *Manager) Run(ctx context.Context) error {
	events := m.transport.Events()
	for {
		select {
		case env, ok := <-events:
			if !ok {
				return nil
			}
			m.Dispatch(env)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Subscription is the disposable handle returned by Subscribe.
type Subscription struct {
	id      string
	topic   *channels.Topic
	channel string
	handler Handler
	manager *Manager
	logger  *slog.Logger

	live atomic.Bool
	once sync.Once
	err  error
}

func (s *Subscription) ID() string {
	return s.id
}

// Channel is empty for a disabled subscription.
func (s *Subscription) Channel() string {
	return s.channel
}

func (s *Subscription) Active() bool {
	return s != nil && s.live.Load()
}

// Close stops delivery at once and detaches the channel when this was its
// last subscription.
func (s *Subscription) Close() error {
	if s == nil || s.manager == nil {
		return nil
	}
	s.once.Do(func() {
		s.live.Store(false)
		s.err = s.manager.remove(s)
		s.logger.Debug("unsubscribed", "channel", s.channel, "subscription", s.id)
	})
	return s.err
}

func (s *Subscription) deliver(ev channels.Event) (err error) {
	if !s.live.Load() {
		return ErrStaleSubscription
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	s.handler(ev)
	return nil
}
