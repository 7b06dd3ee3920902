package realtime

import (
	"context"
	"fmt"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/channels"
	"chatsync/internal/models"
	"chatsync/internal/pubsub"
	"chatsync/internal/typing"
	"chatsync/internal/unread"
)

// View is one open conversation: its channel subscription and the users
// typing in it.
type View struct {
	engine *Engine
	kind   unread.Kind
	id     string
	key    cache.Key[[]models.Message]
	typing *typing.Aggregator
	sub    *pubsub.Subscription
}

type ViewOption func(*viewOptions)

type viewOptions struct {
	onTyping func([]models.UserInfo)
}

// OnTyping is called whenever the typing set of the view changes.
func OnTyping(fn func([]models.UserInfo)) ViewOption {
	return func(o *viewOptions) { o.onTyping = fn }
}

// OpenDM opens the direct conversation with userID.
func (e *Engine) OpenDM(ctx context.Context, userID string, opts ...ViewOption) (*View, error) {
	me := e.identity.CurrentUserID()
	return e.open(ctx, unread.Direct, userID, cache.DMMessages(userID), channels.TopicDM, []string{me, userID}, opts)
}

// OpenGroup opens the conversation of groupID.
func (e *Engine) OpenGroup(ctx context.Context, groupID string, opts ...ViewOption) (*View, error) {
	return e.open(ctx, unread.Group, groupID, cache.GroupMessages(groupID), channels.TopicChat, []string{groupID}, opts)
}

func (e *Engine) open(ctx context.Context, kind unread.Kind, id string, key cache.Key[[]models.Message], topic channels.TopicID, args []string, opts []ViewOption) (*View, error) {
	var o viewOptions
	for _, opt := range opts {
		opt(&o)
	}

	v := &View{engine: e, kind: kind, id: id, key: key}
	typingOpts := []typing.Option{typing.WithClock(e.clock), typing.WithTTL(e.typingTTL)}
	if o.onTyping != nil {
		typingOpts = append(typingOpts, typing.OnChange(o.onTyping))
	}
	v.typing = typing.New(e.identity.CurrentUserID(), typingOpts...)

	sub, err := e.manager.Subscribe(ctx, topic, args, e.identity.IsAuthenticated(), v.handle)
	if err != nil {
		v.typing.Close()
		return nil, fmt.Errorf("open %s %s: %w", topic, id, err)
	}
	v.sub = sub
	return v, nil
}

func (v *View) handle(ev channels.Event) {
	if t, ok := ev.Payload.(channels.Typing); ok {
		v.typing.Observe(t.User)
		return
	}
	v.engine.handle(ev)
}

// Channel is the subscribed channel, empty when signed out.
func (v *View) Channel() string {
	return v.sub.Channel()
}

// Messages returns the cached messages of the conversation, oldest first.
func (v *View) Messages() []models.Message {
	msgs, _ := cache.Get(v.engine.store, v.key)
	return msgs
}

func (v *View) Typing() []models.UserInfo {
	return v.typing.Typing()
}

// UnreadMarker places the unread separator for one render of the message list.
func (v *View) UnreadMarker() *unread.Marker {
	return unread.NewMarker(unread.LastRead(v.engine.store, v.kind, v.id), v.Messages())
}

// UnreadCount is the number of cached messages newer than the read mark.
func (v *View) UnreadCount() int {
	return unread.Count(unread.LastRead(v.engine.store, v.kind, v.id), v.Messages())
}

// Checkout marks the conversation read up to lastRead.
func (v *View) Checkout(lastRead time.Time) {
	unread.Checkout(v.kind, v.id, lastRead).Apply(v.engine.store, nil)
}

// NotifyTyping tells the other participants the local user is typing.
func (v *View) NotifyTyping(ctx context.Context) error {
	pub, ok := v.engine.manager.Transport().(pubsub.Publisher)
	if !ok || v.sub.Channel() == "" {
		return nil
	}
	user := models.UserInfo{ID: v.engine.identity.CurrentUserID()}
	return pub.Publish(ctx, v.sub.Channel(), channels.EventTyping, channels.Typing{User: user})
}

// Close releases the subscription and forgets the typing set.
func (v *View) Close() error {
	v.typing.Close()
	return v.sub.Close()
}
