package bus

import (
	"context"
	"fmt"
	"time"

	"chatsync/internal/channels"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis is a pubsub.Transport over Redis pub/sub.
type Redis struct {
	rdb    *redis.Client
	ps     *redis.PubSub
	connID string
	relay  *relay
	done   chan struct{}
}

func ConnectRedis(ctx context.Context, cfg RedisConfig, opts ...Option) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	r := &Redis{
		rdb:    rdb,
		ps:     rdb.Subscribe(ctx),
		connID: uuid.NewString(),
		relay:  newRelay(newOptions(opts)),
		done:   make(chan struct{}),
	}
	go r.receive()
	return r, nil
}

func (r *Redis) ConnectionID() string {
	return r.connID
}

func (r *Redis) Events() <-chan channels.Envelope {
	return r.relay.events
}

func (r *Redis) Attach(ctx context.Context, channel string) error {
	if r.relay.closed() {
		return ErrClosed
	}
	if err := r.ps.Subscribe(ctx, r.relay.subject(channel)); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	return nil
}

func (r *Redis) Detach(ctx context.Context, channel string) error {
	if r.relay.closed() {
		return nil
	}
	if err := r.ps.Unsubscribe(ctx, r.relay.subject(channel)); err != nil {
		return fmt.Errorf("redis unsubscribe %s: %w", channel, err)
	}
	return nil
}

func (r *Redis) Publish(ctx context.Context, channel string, name channels.EventName, data any) error {
	if r.relay.closed() {
		return ErrClosed
	}
	payload, err := encode(name, data, r.connID)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.relay.subject(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

func (r *Redis) receive() {
	defer close(r.done)
	for msg := range r.ps.Channel() {
		r.relay.push(msg.Channel, []byte(msg.Payload))
	}
}

func (r *Redis) Close() error {
	r.relay.close()
	err := r.ps.Close()
	<-r.done
	if cerr := r.rdb.Close(); err == nil {
		err = cerr
	}
	return err
}
