// Package realtime wires the sync layer together for one signed-in session:
// subscriptions feed the reconciler, patches land in the cache, and typing
// signals go to the open view.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/channels"
	"chatsync/internal/clock"
	"chatsync/internal/content"
	"chatsync/internal/models"
	"chatsync/internal/pubsub"
	"chatsync/internal/reconcile"
	"chatsync/internal/session"
	"chatsync/internal/typing"

	"github.com/google/uuid"
)

var ErrEmptyMessage = errors.New("message is empty")

// Engine is the per-session sync coordinator.
type Engine struct {
	manager    *pubsub.Manager
	store      cache.Store
	identity   session.Identity
	navigator  session.Navigator
	ui         *session.UI
	reconciler *reconcile.Reconciler
	clock      clock.Clock
	typingTTL  time.Duration
	logger     *slog.Logger
	onPatch    func(channels.Event, reconcile.Patch)

	private *pubsub.Binding
	nonce   atomic.Int64
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithTypingTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.typingTTL = ttl }
}

// WithUI sets the page-level UI coordinator used by OpenProfile.
func WithUI(ui *session.UI) Option {
	return func(e *Engine) { e.ui = ui }
}

// OnPatch observes every reconciled event after its patch was applied.
func OnPatch(fn func(channels.Event, reconcile.Patch)) Option {
	return func(e *Engine) { e.onPatch = fn }
}

func New(manager *pubsub.Manager, store cache.Store, identity session.Identity, navigator session.Navigator, opts ...Option) (*Engine, error) {
	if manager == nil {
		return nil, &channels.ConfigurationError{Reason: "subscription manager is nil"}
	}
	if store == nil {
		return nil, &channels.ConfigurationError{Reason: "cache is nil"}
	}
	if identity == nil {
		return nil, &channels.ConfigurationError{Reason: "identity is nil"}
	}

	e := &Engine{
		manager:   manager,
		store:     store,
		identity:  identity,
		navigator: navigator,
		clock:     clock.Real(),
		typingTTL: typing.DefaultTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.reconciler = reconcile.New(identity, navigator, reconcile.WithLogger(e.logger))
	e.private = manager.Bind(channels.TopicPrivate, e.handle)
	// Nonces travel as JSON numbers and must stay exact in a float64.
	e.nonce.Store(e.clock.Now().UnixMilli())
	return e, nil
}

// Start binds the private channel of the signed-in user. Calling it again
// after the identity changed re-binds.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.private.Update(ctx, e.identity.IsAuthenticated(), e.identity.CurrentUserID()); err != nil {
		return fmt.Errorf("subscribe private channel: %w", err)
	}
	return nil
}

// Run dispatches events until ctx is done or the transport closes.
func (e *Engine) Run(ctx context.Context) error {
	return e.manager.Run(ctx)
}

// Stop releases the private channel and resets page-level UI state.
func (e *Engine) Stop() error {
	if e.ui != nil {
		e.ui.Reset()
	}
	return e.private.Close()
}

func (e *Engine) handle(ev channels.Event) {
	patch := e.reconciler.Reconcile(e.store, ev)
	patch.Apply(e.store, e.navigator)

	if patch.Skipped != "" {
		e.logger.Debug("event skipped", "channel", ev.Channel, "event", ev.Name, "reason", patch.Skipped)
	} else {
		e.logger.Debug("event applied", "channel", ev.Channel, "event", ev.Name, "keys", strings.Join(patch.Keys(), ","))
	}
	if e.onPatch != nil {
		e.onPatch(ev, patch)
	}
}

func (e *Engine) nextNonce() int64 {
	return e.nonce.Add(1)
}

// SendDirect stores msg to receiverID as pending. When the transport can
// publish, the message is published on both private channels and confirmed
// locally; otherwise it stays pending until ConfirmSent.
func (e *Engine) SendDirect(ctx context.Context, receiverID, text string) (models.Message, error) {
	msg := e.draft(text)
	msg.ReceiverID = receiverID
	key := cache.DMMessages(receiverID)
	if err := e.send(ctx, key, msg, func(pub pubsub.Publisher, confirmed channels.MessageSent) error {
		for _, uid := range []string{receiverID, e.identity.CurrentUserID()} {
			name, err := e.manager.Registry().ChannelName(channels.TopicPrivate, uid)
			if err != nil {
				return err
			}
			if err := pub.Publish(ctx, name, channels.EventMessageSent, confirmed); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// SendGroup is SendDirect for a group conversation.
func (e *Engine) SendGroup(ctx context.Context, groupID, text string) (models.Message, error) {
	msg := e.draft(text)
	msg.GroupID = groupID
	key := cache.GroupMessages(groupID)
	if err := e.send(ctx, key, msg, func(pub pubsub.Publisher, confirmed channels.MessageSent) error {
		name, err := e.manager.Registry().ChannelName(channels.TopicChat, groupID)
		if err != nil {
			return err
		}
		return pub.Publish(ctx, name, channels.EventMessageSent, confirmed)
	}); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (e *Engine) draft(text string) models.Message {
	nonce := e.nextNonce()
	return models.Message{
		AuthorID:  e.identity.CurrentUserID(),
		Content:   content.Sanitize(text),
		Timestamp: e.clock.Now(),
		Nonce:     &nonce,
	}
}

func (e *Engine) send(ctx context.Context, key cache.Key[[]models.Message], msg models.Message, publish func(pubsub.Publisher, channels.MessageSent) error) error {
	if strings.TrimSpace(msg.Content) == "" {
		return ErrEmptyMessage
	}
	if !e.identity.IsAuthenticated() {
		return &channels.ConfigurationError{Reason: "not signed in"}
	}

	reconcile.Patch{Ops: []reconcile.Op{reconcile.Optimistic(key, msg)}}.Apply(e.store, nil)

	pub, ok := e.manager.Transport().(pubsub.Publisher)
	if !ok {
		return nil
	}
	confirmed := msg
	confirmed.ID = uuid.NewString()
	if err := publish(pub, channels.MessageSent{Message: confirmed}); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	e.ConfirmSent(key, *msg.Nonce, confirmed)
	return nil
}

// ConfirmSent replaces the pending message carrying nonce with its confirmed
// form, as returned by the send request.
func (e *Engine) ConfirmSent(key cache.Key[[]models.Message], nonce int64, msg models.Message) {
	reconcile.Patch{Ops: []reconcile.Op{reconcile.ConfirmSent(key, nonce, msg)}}.Apply(e.store, nil)
}

// OpenProfile shows the profile of userID in the session's modal.
func (e *Engine) OpenProfile(userID string) {
	if e.ui == nil {
		e.logger.Warn("no UI coordinator, ignoring profile request", "user", userID)
		return
	}
	e.ui.SetModal(session.Modal{Type: session.ModalUserProfile, UserID: userID})
}
