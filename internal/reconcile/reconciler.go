package reconcile

import (
	"fmt"
	"log/slog"

	"chatsync/internal/cache"
	"chatsync/internal/channels"
	"chatsync/internal/content"
	"chatsync/internal/models"
	"chatsync/internal/session"
)

const (
	SkippedSelfEcho  = "self-echo"
	SkippedEphemeral = "ephemeral"
	SkippedInvalid   = "invalid"
)

// selfActions are the events whose effect the initiator already applied
// optimistically.
var selfActions = map[channels.EventName]bool{
	channels.EventGroupCreated: true,
	channels.EventGroupRemoved: true,
	channels.EventMessageSent:  true,
}

// Reconciler turns decoded events into cache patches. It reads the cache and
// the current route but writes neither.
type Reconciler struct {
	identity  session.Identity
	navigator session.Navigator
	logger    *slog.Logger
}

type Option func(*Reconciler)

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func New(identity session.Identity, navigator session.Navigator, opts ...Option) *Reconciler {
	r := &Reconciler{
		identity:  identity,
		navigator: navigator,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile computes the patch for ev. It never panics; anything unexpected
// yields an empty patch.
func (r *Reconciler) Reconcile(snap cache.Snapshot, ev channels.Event) (p Patch) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reconcile failed", "channel", ev.Channel, "event", ev.Name, "error", fmt.Sprint(rec))
			p = skip(SkippedInvalid)
		}
	}()

	if selfActions[ev.Name] && ev.ConnectionID != "" && ev.ConnectionID == r.identity.ConnectionID() {
		return skip(SkippedSelfEcho)
	}

	switch payload := ev.Payload.(type) {
	case models.Group:
		switch ev.Name {
		case channels.EventGroupCreated:
			return Patch{Ops: []Op{op(cache.Groups, func(l []models.Group) []models.Group {
				return insertGroup(l, sanitizeGroup(payload))
			})}}
		case channels.EventGroupUpdated:
			return Patch{Ops: []Op{op(cache.Groups, func(l []models.Group) []models.Group {
				return mergeGroup(l, sanitizeGroup(payload))
			})}}
		}
	case channels.GroupRef:
		return r.leaveGroup(payload.ID)
	case channels.MessageSent:
		return r.messageSent(snap, ev.Topic, payload)
	case channels.MessageUpdated:
		key, ok := r.messagesKey(ev.Topic, payload.MessageRef)
		if !ok {
			break
		}
		text := content.Sanitize(payload.Content)
		return Patch{Ops: []Op{op(key, func(l []models.Message) []models.Message {
			return updateContent(l, payload.ID, text)
		})}}
	case channels.MessageDeleted:
		key, ok := r.messagesKey(ev.Topic, payload.MessageRef)
		if !ok {
			break
		}
		return Patch{Ops: []Op{op(key, func(l []models.Message) []models.Message {
			return removeMessage(l, payload.ID)
		})}}
	case models.DirectChannel:
		ch := payload
		ch.Receiver.Name = content.Sanitize(ch.Receiver.Name)
		return Patch{Ops: []Op{op(cache.DMChannels, func(l []models.DirectChannel) []models.DirectChannel {
			return prependChannel(l, ch)
		})}}
	case channels.CloseDM:
		return r.closeDM(snap, payload.Channel())
	case channels.Typing:
		return skip(SkippedEphemeral)
	}

	r.logger.Warn("no reconcile rule", "channel", ev.Channel, "event", ev.Name, "payload", fmt.Sprintf("%T", ev.Payload))
	return skip(SkippedInvalid)
}

// ConfirmSent is the op for a send confirmed by the request path rather than
// by a channel event.
func ConfirmSent(key cache.Key[[]models.Message], nonce int64, msg models.Message) Op {
	msg = content.SanitizeMessage(msg)
	return op(key, func(l []models.Message) []models.Message {
		return confirmMessage(l, &nonce, msg)
	})
}

// Optimistic inserts a locally sent message that still carries its nonce.
func Optimistic(key cache.Key[[]models.Message], msg models.Message) Op {
	return op(key, func(l []models.Message) []models.Message {
		return appendPending(l, msg)
	})
}

func (r *Reconciler) messageSent(snap cache.Snapshot, topic channels.TopicID, p channels.MessageSent) Patch {
	msg := content.SanitizeMessage(p.Message)
	nonce := p.Nonce

	var (
		key    cache.Key[[]models.Message]
		unread Op
		ok     bool
	)
	switch topic {
	case channels.TopicPrivate:
		key, ok = r.messagesKey(topic, channels.MessageRef{AuthorID: msg.AuthorID, ReceiverID: msg.ReceiverID})
		if ok {
			unread = r.directUnread(snap, r.peer(msg.AuthorID, msg.ReceiverID))
		}
	case channels.TopicChat:
		key, ok = cache.GroupMessages(msg.GroupID), msg.GroupID != ""
		unread = r.groupUnread(msg.GroupID)
	}
	if !ok {
		return skip(SkippedInvalid)
	}

	patch := Patch{Ops: []Op{op(key, func(l []models.Message) []models.Message {
		return confirmMessage(l, nonce, msg)
	})}}

	if msg.AuthorID != r.identity.CurrentUserID() && unread.Update != nil && !known(snap, key, nonce, msg.ID) {
		patch.Ops = append(patch.Ops, unread)
	}
	return patch
}

// known reports whether the message is already cached, either as its
// optimistic twin or under its id.
func known(snap cache.Snapshot, key cache.Key[[]models.Message], nonce *int64, id string) bool {
	msgs, ok := cache.Get(snap, key)
	if !ok {
		return false
	}
	return indexByNonce(msgs, nonce) >= 0 || indexByID(msgs, id) >= 0
}

func (r *Reconciler) directUnread(snap cache.Snapshot, peer string) Op {
	if r.isActive("dm", peer) {
		return Op{}
	}
	if list, ok := cache.Get(snap, cache.DMChannels); ok {
		if ch, ok := channelWith(list, peer); ok && r.isActive("dm-channel", ch.ID) {
			return Op{}
		}
	}
	return op(cache.DMChannels, func(l []models.DirectChannel) []models.DirectChannel {
		return mapChannels(l,
			func(c models.DirectChannel) bool { return c.ReceiverID == peer },
			func(c *models.DirectChannel) { c.UnreadMessages++ },
		)
	})
}

func (r *Reconciler) groupUnread(groupID string) Op {
	if r.isActive("chat", groupID) {
		return Op{}
	}
	return op(cache.Groups, func(l []models.Group) []models.Group {
		return mapGroups(l, groupID, func(g *models.Group) { g.UnreadMessages++ })
	})
}

func (r *Reconciler) leaveGroup(groupID string) Patch {
	p := Patch{Ops: []Op{
		op(cache.Groups, func(l []models.Group) []models.Group { return removeGroup(l, groupID) }),
	}}
	if r.isActive("chat", groupID) {
		p.Redirect = session.HomePath
	}
	return p
}

func (r *Reconciler) closeDM(snap cache.Snapshot, channelID string) Patch {
	p := Patch{Ops: []Op{
		op(cache.DMChannels, func(l []models.DirectChannel) []models.DirectChannel {
			return removeChannel(l, channelID)
		}),
	}}

	active := r.isActive("dm-channel", channelID)
	if !active {
		if list, ok := cache.Get(snap, cache.DMChannels); ok {
			if ch, ok := channelByID(list, channelID); ok {
				active = r.isActive("dm", ch.ReceiverID)
			}
		}
	}
	if active {
		p.Redirect = session.HomePath
	}
	return p
}

// messagesKey resolves the conversation a message belongs to. Direct
// conversations are keyed by the other participant.
func (r *Reconciler) messagesKey(topic channels.TopicID, ref channels.MessageRef) (cache.Key[[]models.Message], bool) {
	switch topic {
	case channels.TopicPrivate, channels.TopicDM:
		peer := r.peer(ref.AuthorID, ref.ReceiverID)
		if peer == "" {
			return cache.Key[[]models.Message]{}, false
		}
		return cache.DMMessages(peer), true
	case channels.TopicChat:
		if ref.GroupID == "" {
			return cache.Key[[]models.Message]{}, false
		}
		return cache.GroupMessages(ref.GroupID), true
	}
	return cache.Key[[]models.Message]{}, false
}

func (r *Reconciler) peer(authorID, receiverID string) string {
	if authorID == r.identity.CurrentUserID() {
		return receiverID
	}
	return authorID
}

func (r *Reconciler) isActive(kind, id string) bool {
	if r.navigator == nil || id == "" {
		return false
	}
	k, active := session.ActiveConversation(r.navigator.CurrentPath())
	return k == kind && active == id
}

func sanitizeGroup(g models.Group) models.Group {
	g.Name = content.Sanitize(g.Name)
	return g
}
