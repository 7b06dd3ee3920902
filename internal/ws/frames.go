package ws

import (
	"encoding/json"
	"fmt"

	"chatsync/internal/channels"
)

type FrameType string

const (
	// Server to client.
	FrameConnected FrameType = "connected"
	FrameEvent     FrameType = "event"
	FrameError     FrameType = "error"

	// Client to server.
	FrameAttach  FrameType = "attach"
	FrameDetach  FrameType = "detach"
	FramePublish FrameType = "publish"
)

// Frame is the JSON message exchanged over the broker websocket.
type Frame struct {
	Type         FrameType          `json:"type"`
	Channel      string             `json:"channel,omitempty"`
	Name         channels.EventName `json:"name,omitempty"`
	Data         json.RawMessage    `json:"data,omitempty"`
	ConnectionID string             `json:"connectionId,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Envelope converts an event frame into what the subscription manager
// consumes. The payload stays raw until its topic decodes it.
func (f Frame) Envelope() channels.Envelope {
	env := channels.Envelope{
		Channel:      f.Channel,
		Name:         f.Name,
		ConnectionID: f.ConnectionID,
	}
	if len(f.Data) > 0 {
		env.Data = f.Data
	}
	return env
}

// EventFrame builds the frame that carries env to subscribers.
func EventFrame(env channels.Envelope) (Frame, error) {
	data, err := marshalData(env.Data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:         FrameEvent,
		Channel:      env.Channel,
		Name:         env.Name,
		Data:         data,
		ConnectionID: env.ConnectionID,
	}, nil
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return raw, nil
}

func errorFrame(channel string, err error) Frame {
	return Frame{Type: FrameError, Channel: channel, Error: err.Error()}
}
