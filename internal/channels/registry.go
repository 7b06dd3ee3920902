package channels

import (
	"fmt"
	"sort"
	"strings"

	"chatsync/internal/models"
)

type TopicID string

const (
	TopicPrivate TopicID = "private"
	TopicDM      TopicID = "dm"
	TopicChat    TopicID = "chat"
)

// Topic is a family of channels sharing a key function and an event schema set.
type Topic struct {
	ID     TopicID
	prefix string
	arity  int
	key    func(args []string) []string
	events map[EventName]Schema
}

// Key applies the topic's key function to already validated arguments.
func (t *Topic) Key(args ...string) ([]string, error) {
	if len(args) != t.arity {
		return nil, &ConfigurationError{
			Topic:  t.ID,
			Reason: fmt.Sprintf("expected %d key arguments, got %d", t.arity, len(args)),
		}
	}
	for i, a := range args {
		if a == "" {
			return nil, &ConfigurationError{
				Topic:  t.ID,
				Reason: fmt.Sprintf("key argument %d is empty", i),
			}
		}
	}
	return t.key(args), nil
}

// ChannelName returns the wire-level channel name for the given arguments.
func (t *Topic) ChannelName(args ...string) (string, error) {
	parts, err := t.Key(args...)
	if err != nil {
		return "", err
	}
	return t.prefix + strings.Join(parts, ":"), nil
}

// Owns reports whether a channel name belongs to this topic.
func (t *Topic) Owns(channel string) bool {
	if t.prefix != "" {
		return strings.HasPrefix(channel, t.prefix)
	}
	return strings.HasPrefix(channel, "dm-")
}

// Schema returns the payload schema of a declared event.
func (t *Topic) Schema(name EventName) (Schema, error) {
	s, ok := t.events[name]
	if !ok {
		return Schema{}, &UnknownTopicError{Topic: t.ID, Event: name}
	}
	return s, nil
}

// Events lists the declared event names in lexical order.
func (t *Topic) Events() []EventName {
	names := make([]EventName, 0, len(t.events))
	for n := range t.events {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Decode validates an envelope against the topic and returns the typed event.
func (t *Topic) Decode(env Envelope) (Event, error) {
	s, err := t.Schema(env.Name)
	if err != nil {
		return Event{}, err
	}
	p, err := s.Decode(env.Data)
	if err != nil {
		return Event{}, &MalformedEventError{Topic: t.ID, Event: env.Name, Err: err}
	}
	return Event{
		Topic:        t.ID,
		Name:         env.Name,
		Channel:      env.Channel,
		ConnectionID: env.ConnectionID,
		Payload:      p,
	}, nil
}

// Registry is the closed set of topics known to the client.
type Registry struct {
	topics map[TopicID]*Topic
}

// Topic returns a registered topic or a ConfigurationError.
func (r *Registry) Topic(id TopicID) (*Topic, error) {
	t, ok := r.topics[id]
	if !ok {
		return nil, &ConfigurationError{Topic: id, Reason: "topic is not registered"}
	}
	return t, nil
}

// MustTopic is Topic for statically known ids.
func (r *Registry) MustTopic(id TopicID) *Topic {
	t, err := r.Topic(id)
	if err != nil {
		panic(err)
	}
	return t
}

// ChannelName resolves a topic and its arguments in one step.
func (r *Registry) ChannelName(id TopicID, args ...string) (string, error) {
	t, err := r.Topic(id)
	if err != nil {
		return "", err
	}
	return t.ChannelName(args...)
}

// TopicOf finds the topic that owns a channel name.
func (r *Registry) TopicOf(channel string) (*Topic, bool) {
	for _, t := range r.topics {
		if t.Owns(channel) {
			return t, true
		}
	}
	return nil, false
}

var defaultRegistry = &Registry{
	topics: map[TopicID]*Topic{
		// Private channel per user.
		TopicPrivate: {
			ID:     TopicPrivate,
			prefix: "private:",
			arity:  1,
			key:    func(args []string) []string { return []string{args[0]} },
			events: map[EventName]Schema{
				EventGroupCreated: payload(models.Group.Validate),
				EventGroupRemoved: payload(requireGroupRef),
				EventMessageSent:  payload(requireDirectMessage),
				EventOpenDM:       payload(models.DirectChannel.Validate),
				EventCloseDM:      payload(requireCloseDM),
			},
		},
		TopicDM: {
			ID:    TopicDM,
			arity: 2,
			key: func(args []string) []string {
				return []string{DMChannelName(args[0], args[1])}
			},
			events: map[EventName]Schema{
				EventTyping:         payload(requireTyping),
				EventMessageUpdated: payload(func(p MessageUpdated) error { return p.requireDirect() }),
				EventMessageDeleted: payload(func(p MessageDeleted) error { return p.requireDirect() }),
			},
		},
		TopicChat: {
			ID:     TopicChat,
			prefix: "chat:",
			arity:  1,
			key:    func(args []string) []string { return []string{args[0]} },
			events: map[EventName]Schema{
				EventTyping:         payload(requireTyping),
				EventMessageSent:    payload(requireGroupMessage),
				EventMessageUpdated: payload(func(p MessageUpdated) error { return p.requireGroup() }),
				EventMessageDeleted: payload(func(p MessageDeleted) error { return p.requireGroup() }),
				EventGroupUpdated:   payload(models.Group.Validate),
				EventGroupDeleted:   payload(requireGroupRef),
			},
		},
	},
}

// Default returns the registry with the private, dm and chat topics.
func Default() *Registry {
	return defaultRegistry
}
