package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatsync/internal/channels"

	"github.com/gorilla/websocket"
)

var ErrClientClosed = errors.New("websocket client closed")

const handshakeTimeout = 10 * time.Second

// Client is a pubsub.Transport and pubsub.Publisher over the broker
// websocket.
type Client struct {
	conn   *websocket.Conn
	connID string
	logger *slog.Logger

	events  chan channels.Envelope
	closing chan struct{}
	done    chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

type ClientOption func(*Client)

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// Dial connects to the broker and waits for it to assign a connection id.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(handshakeTimeout)
	}
	_ = conn.SetReadDeadline(deadline)
	var hello Frame
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read connected frame: %w", err)
	}
	if hello.Type != FrameConnected || hello.ConnectionID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("expected %q frame, got %q", FrameConnected, hello.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:    conn,
		connID:  hello.ConnectionID,
		logger:  slog.Default(),
		events:  make(chan channels.Envelope, 64),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()
	return c, nil
}

func (c *Client) ConnectionID() string {
	return c.connID
}

func (c *Client) Events() <-chan channels.Envelope {
	return c.events
}

func (c *Client) Attach(ctx context.Context, channel string) error {
	return c.write(ctx, Frame{Type: FrameAttach, Channel: channel})
}

func (c *Client) Detach(ctx context.Context, channel string) error {
	return c.write(ctx, Frame{Type: FrameDetach, Channel: channel})
}

func (c *Client) Publish(ctx context.Context, channel string, name channels.EventName, data any) error {
	raw, err := marshalData(data)
	if err != nil {
		return err
	}
	return c.write(ctx, Frame{Type: FramePublish, Channel: channel, Name: name, Data: raw})
}

// Err is the error that ended the read loop, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
		<-c.done
	})
	return err
}

func (c *Client) write(ctx context.Context, f Frame) error {
	select {
	case <-c.closing:
		return ErrClientClosed
	case <-c.done:
		return ErrClientClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.closing:
			default:
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
				c.logger.Warn("websocket read failed", "connection", c.connID, "error", err)
			}
			return
		}

		switch f.Type {
		case FrameEvent:
			select {
			case c.events <- f.Envelope():
			case <-c.closing:
				return
			}
		case FrameError:
			c.logger.Warn("broker rejected frame", "channel", f.Channel, "error", f.Error)
		default:
			c.logger.Debug("ignoring frame", "type", f.Type)
		}
	}
}
