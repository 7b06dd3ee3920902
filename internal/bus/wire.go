// Package bus carries channel events over a message broker shared with the
// backend: NATS subjects or Redis pub/sub channels.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"chatsync/internal/channels"
)

// DefaultPrefix namespaces broker subjects and channels.
const DefaultPrefix = "chatsync."

// wireEvent is the broker payload. The channel travels as the subject.
type wireEvent struct {
	Name         channels.EventName `json:"name"`
	Data         json.RawMessage    `json:"data,omitempty"`
	ConnectionID string             `json:"connectionId"`
}

func encode(name channels.EventName, data any, connID string) ([]byte, error) {
	var raw json.RawMessage
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event data: %w", err)
		}
		raw = b
	}
	return json.Marshal(wireEvent{Name: name, Data: raw, ConnectionID: connID})
}

func decode(channel string, payload []byte) (channels.Envelope, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return channels.Envelope{}, fmt.Errorf("invalid broker payload on %s: %w", channel, err)
	}
	env := channels.Envelope{Channel: channel, Name: w.Name, ConnectionID: w.ConnectionID}
	if len(w.Data) > 0 {
		env.Data = w.Data
	}
	return env, nil
}

type Option func(*options)

type options struct {
	prefix string
	logger *slog.Logger
	buffer int
}

func WithPrefix(p string) Option {
	return func(o *options) { o.prefix = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{prefix: DefaultPrefix, logger: slog.Default(), buffer: 64}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// relay moves events from broker callbacks to the single Events channel.
// Callbacks never touch Events directly, so closing it cannot race with them.
type relay struct {
	prefix string
	logger *slog.Logger
	inbox  chan channels.Envelope
	events chan channels.Envelope
	done   chan struct{}
	once   sync.Once
}

func newRelay(o options) *relay {
	r := &relay{
		prefix: o.prefix,
		logger: o.logger,
		inbox:  make(chan channels.Envelope, o.buffer),
		events: make(chan channels.Envelope),
		done:   make(chan struct{}),
	}
	go r.pump()
	return r
}

func (r *relay) subject(channel string) string {
	return r.prefix + channel
}

func (r *relay) channel(subject string) (string, bool) {
	return strings.CutPrefix(subject, r.prefix)
}

// push decodes a broker message and queues it.
func (r *relay) push(subject string, payload []byte) {
	channel, ok := r.channel(subject)
	if !ok {
		r.logger.Warn("message outside prefix", "subject", subject)
		return
	}
	env, err := decode(channel, payload)
	if err != nil {
		r.logger.Warn("discarding broker message", "subject", subject, "error", err)
		return
	}
	select {
	case r.inbox <- env:
	case <-r.done:
	}
}

func (r *relay) pump() {
	defer close(r.events)
	for {
		select {
		case env := <-r.inbox:
			select {
			case r.events <- env:
			case <-r.done:
				return
			}
		case <-r.done:
			return
		}
	}
}

func (r *relay) closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *relay) close() {
	r.once.Do(func() { close(r.done) })
}
