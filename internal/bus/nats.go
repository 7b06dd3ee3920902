package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/channels"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

var ErrClosed = errors.New("bus transport closed")

// NATS is a pubsub.Transport over core NATS subjects.
type NATS struct {
	nc     *nats.Conn
	connID string
	relay  *relay
	own    bool

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// ConnectNATS dials the servers and owns the connection.
func ConnectNATS(url, name string, opts ...Option) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	n := NewNATS(nc, opts...)
	n.own = true
	return n, nil
}

// NewNATS wraps an existing connection. Close leaves nc open.
func NewNATS(nc *nats.Conn, opts ...Option) *NATS {
	return &NATS{
		nc:     nc,
		connID: uuid.NewString(),
		relay:  newRelay(newOptions(opts)),
		subs:   make(map[string]*nats.Subscription),
	}
}

func (n *NATS) ConnectionID() string {
	return n.connID
}

func (n *NATS) Events() <-chan channels.Envelope {
	return n.relay.events
}

func (n *NATS) Attach(_ context.Context, channel string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.relay.closed() {
		return ErrClosed
	}
	if _, ok := n.subs[channel]; ok {
		return nil
	}
	sub, err := n.nc.Subscribe(n.relay.subject(channel), func(msg *nats.Msg) {
		n.relay.push(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", channel, err)
	}
	n.subs[channel] = sub
	return nil
}

func (n *NATS) Detach(_ context.Context, channel string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub, ok := n.subs[channel]
	if !ok {
		return nil
	}
	delete(n.subs, channel)
	return sub.Unsubscribe()
}

func (n *NATS) Publish(ctx context.Context, channel string, name channels.EventName, data any) error {
	if n.relay.closed() {
		return ErrClosed
	}
	payload, err := encode(name, data, n.connID)
	if err != nil {
		return err
	}
	if err := n.nc.Publish(n.relay.subject(channel), payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", channel, err)
	}
	if _, ok := ctx.Deadline(); ok {
		return n.nc.FlushWithContext(ctx)
	}
	return nil
}

func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.relay.close()
	for channel, sub := range n.subs {
		_ = sub.Unsubscribe()
		delete(n.subs, channel)
	}
	if n.own {
		return n.nc.Drain()
	}
	return nil
}
