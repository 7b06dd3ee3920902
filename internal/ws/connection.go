package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chatsync/internal/channels"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type messageHub interface {
	Join() (string, chan Frame)
	Leave(connID string)
	Attach(connID, channel string) error
	Detach(connID, channel string)
	Publish(env channels.Envelope) (int, error)
}

// Connection serves one broker websocket.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	connID     string
	fromClient chan Frame
	fromServer chan Frame
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
) *Connection {
	connID, fromServer := hub.Join()
	return &Connection{
		ws:         ws,
		hub:        hub,
		connID:     connID,
		fromClient: make(chan Frame),
		fromServer: fromServer,
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) ID() string {
	return c.connID
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(c.connID)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	}()

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg Frame
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	if err := c.ws.WriteJSON(Frame{Type: FrameConnected, ConnectionID: c.connID}); err != nil {
		return err
	}

	for {
		select {
		case msg := <-c.fromClient:
			if reply, ok := c.processClientMessage(msg); ok {
				if err := c.ws.WriteJSON(reply); err != nil {
					return err
				}
			}
		case msg, ok := <-c.fromServer:
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processClientMessage applies a client frame and returns the error frame to
// send back, if any.
func (c *Connection) processClientMessage(msg Frame) (Frame, bool) {
	var err error
	switch msg.Type {
	case FrameAttach:
		err = c.hub.Attach(c.connID, msg.Channel)
	case FrameDetach:
		c.hub.Detach(c.connID, msg.Channel)
	case FramePublish:
		env := msg.Envelope()
		env.ConnectionID = c.connID
		_, err = c.hub.Publish(env)
	default:
		err = fmt.Errorf("unexpected frame type %q", msg.Type)
	}

	if err != nil {
		return errorFrame(msg.Channel, err), true
	}
	return Frame{}, false
}
