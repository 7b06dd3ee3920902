package channels

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"chatsync/internal/models"

	"github.com/mitchellh/mapstructure"
)

type EventName string

const (
	EventGroupCreated   EventName = "group_created"
	EventGroupUpdated   EventName = "group_updated"
	EventGroupRemoved   EventName = "group_removed"
	EventGroupDeleted   EventName = "group_deleted"
	EventMessageSent    EventName = "message_sent"
	EventMessageUpdated EventName = "message_updated"
	EventMessageDeleted EventName = "message_deleted"
	EventTyping         EventName = "typing"
	EventOpenDM         EventName = "open_dm"
	EventCloseDM        EventName = "close_dm"
)

var (
	errMissingAuthor   = errors.New("missing author_id")
	errMissingReceiver = errors.New("missing receiver_id")
	errMissingGroup    = errors.New("missing group_id")
	errMissingChannel  = errors.New("missing channel_id")
)

// Envelope is an inbound event exactly as the transport delivered it.
type Envelope struct {
	Channel      string    `json:"channel"`
	Name         EventName `json:"name"`
	Data         any       `json:"data"`
	ConnectionID string    `json:"connectionId"`
}

// Event is an envelope whose payload passed the schema of its topic.
// Payload holds one of the payload types declared below.
type Event struct {
	Topic        TopicID
	Name         EventName
	Channel      string
	ConnectionID string
	Payload      any
}

// GroupRef carries the id of a removed or deleted group.
type GroupRef struct {
	ID string `json:"id" mapstructure:"id"`
}

// MessageSent is a confirmed message plus the nonce of its optimistic twin.
type MessageSent struct {
	models.Message `mapstructure:",squash"`
	Receiver       *models.UserInfo `json:"receiver,omitempty" mapstructure:"receiver"`
}

// MessageRef identifies a message inside its conversation.
type MessageRef struct {
	ID         string `json:"id" mapstructure:"id"`
	AuthorID   string `json:"author_id,omitempty" mapstructure:"author_id"`
	ReceiverID string `json:"receiver_id,omitempty" mapstructure:"receiver_id"`
	GroupID    string `json:"group_id,omitempty" mapstructure:"group_id"`
}

type MessageUpdated struct {
	MessageRef `mapstructure:",squash"`
	Content    string `json:"content" mapstructure:"content"`
}

type MessageDeleted struct {
	MessageRef `mapstructure:",squash"`
}

type Typing struct {
	User models.UserInfo `json:"user" mapstructure:"user"`
}

// CloseDM names the closed direct channel. Older servers send id instead of
// channel_id.
type CloseDM struct {
	ChannelID string `json:"channel_id,omitempty" mapstructure:"channel_id"`
	ID        string `json:"id,omitempty" mapstructure:"id"`
}

func (c CloseDM) Channel() string {
	if c.ChannelID != "" {
		return c.ChannelID
	}
	return c.ID
}

func requireGroupRef(p GroupRef) error {
	if p.ID == "" {
		return models.ErrMissingID
	}
	return nil
}

func requireDirectMessage(p MessageSent) error {
	switch {
	case p.ID == "":
		return models.ErrMissingID
	case p.AuthorID == "":
		return errMissingAuthor
	case p.ReceiverID == "":
		return errMissingReceiver
	}
	return nil
}

func requireGroupMessage(p MessageSent) error {
	switch {
	case p.ID == "":
		return models.ErrMissingID
	case p.AuthorID == "":
		return errMissingAuthor
	case p.GroupID == "":
		return errMissingGroup
	}
	return nil
}

func (r MessageRef) requireDirect() error {
	switch {
	case r.ID == "":
		return models.ErrMissingID
	case r.AuthorID == "":
		return errMissingAuthor
	case r.ReceiverID == "":
		return errMissingReceiver
	}
	return nil
}

func (r MessageRef) requireGroup() error {
	switch {
	case r.ID == "":
		return models.ErrMissingID
	case r.GroupID == "":
		return errMissingGroup
	}
	return nil
}

func requireTyping(p Typing) error {
	return p.User.Validate()
}

func requireCloseDM(p CloseDM) error {
	if p.Channel() == "" {
		return errMissingChannel
	}
	return nil
}

// Schema decodes and validates the payload of one declared event.
type Schema struct {
	payloadType reflect.Type
	decode      func(data any) (any, error)
}

// PayloadType is the Go type every decoded payload of this schema has.
func (s Schema) PayloadType() reflect.Type {
	return s.payloadType
}

func (s Schema) Decode(data any) (any, error) {
	return s.decode(data)
}

// payload builds the schema for T. The tag-to-type mapping is fixed when the
// registry is built, so a handler can type-switch on the payload safely.
func payload[T any](validate func(T) error) Schema {
	return Schema{
		payloadType: reflect.TypeOf((*T)(nil)).Elem(),
		decode: func(data any) (any, error) {
			var out T
			if err := decodeInto(data, &out); err != nil {
				return nil, err
			}
			if validate != nil {
				if err := validate(out); err != nil {
					return nil, err
				}
			}
			return out, nil
		},
	}
}

func decodeInto[T any](data any, out *T) error {
	switch v := data.(type) {
	case nil:
		return errors.New("empty payload")
	case T:
		*out = v
		return nil
	case *T:
		if v == nil {
			return errors.New("empty payload")
		}
		*out = *v
		return nil
	case json.RawMessage:
		return decodeJSON(v, out)
	case []byte:
		return decodeJSON(v, out)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: false,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			unixMillisToTimeHook,
			jsonNumberHook,
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}

// decodeJSON keeps numbers as json.Number so int64 fields such as the nonce
// survive without a float64 round trip.
func decodeJSON[T any](raw []byte, out *T) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic map[string]any
	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if generic == nil {
		return errors.New("empty payload")
	}
	return decodeInto(generic, out)
}

func jsonNumberHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	n, ok := data.(json.Number)
	if !ok {
		return data, nil
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return n.Int64()
	case reflect.Float32, reflect.Float64:
		return n.Float64()
	case reflect.String:
		return n.String(), nil
	}
	return data, nil
}

// unixMillisToTimeHook accepts numeric timestamps in milliseconds.
func unixMillisToTimeHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if t != reflect.TypeOf((*time.Time)(nil)).Elem() {
		return data, nil
	}
	switch v := data.(type) {
	case float64:
		return time.UnixMilli(int64(v)), nil
	case int64:
		return time.UnixMilli(v), nil
	case int:
		return time.UnixMilli(int64(v)), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(n), nil
	}
	return data, nil
}
