package commands

import (
	"context"
	"fmt"
	"log/slog"

	"chatsync/internal/bus"
	"chatsync/internal/config"
	"chatsync/internal/pubsub"
	"chatsync/internal/ws"
)

// Conn is a connected transport that can publish and must be closed.
type Conn interface {
	pubsub.Transport
	pubsub.Publisher
	Close() error
}

// Connect opens the transport selected by cfg.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Conn, error) {
	var (
		conn Conn
		err  error
	)
	switch cfg.Transport {
	case config.TransportWS:
		conn, err = ws.Dial(ctx, cfg.WSURL, ws.WithClientLogger(logger))
	case config.TransportNATS:
		conn, err = bus.ConnectNATS(cfg.NATSURL, "chatsync", bus.WithLogger(logger))
	case config.TransportRedis:
		conn, err = bus.ConnectRedis(ctx, bus.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}, bus.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
