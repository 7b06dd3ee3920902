package reconcile

import (
	"testing"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/channels"
	"chatsync/internal/models"
	"chatsync/internal/session"

	"github.com/stretchr/testify/require"
)

const (
	localUser = "u1"
	localConn = "conn-local"
)

type fixture struct {
	store *cache.Memory
	nav   *session.History
	rec   *Reconciler
}

func newFixture(t *testing.T, path string) *fixture {
	t.Helper()
	store, err := cache.NewMemory()
	require.NoError(t, err)
	id := session.NewStatic(localUser)
	id.SetConnectionID(localConn)
	nav := session.NewHistory(path)
	return &fixture{store: store, nav: nav, rec: New(id, nav)}
}

func (f *fixture) apply(ev channels.Event) Patch {
	p := f.rec.Reconcile(f.store, ev)
	p.Apply(f.store, f.nav)
	return p
}

func nonce(n int64) *int64 {
	return &n
}

func ts(sec int) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}

func TestReconcile_NonceReplacesOptimisticEntry(t *testing.T) {
	f := newFixture(t, "/dm/u2")
	key := cache.DMMessages("u2")
	cache.Put(f.store, key, []models.Message{
		{ID: "98", AuthorID: "u2", ReceiverID: localUser, Content: "hey", Timestamp: ts(1)},
	})

	// Sent locally: the optimistic entry shows up first.
	Patch{Ops: []Op{Optimistic(key, models.Message{
		ID: "tmp-42", AuthorID: localUser, ReceiverID: "u2", Content: "hello", Timestamp: ts(2), Nonce: nonce(42),
	})}}.Apply(f.store, f.nav)

	msgs, _ := cache.Get(f.store, key)
	require.Len(t, msgs, 2)
	require.True(t, msgs[1].IsPending())

	ev, err := channels.Default().MustTopic(channels.TopicPrivate).Decode(channels.Envelope{
		Channel:      "private:u1",
		Name:         channels.EventMessageSent,
		ConnectionID: "conn-other-tab",
		Data: map[string]any{
			"id":          "99",
			"author_id":   localUser,
			"receiver_id": "u2",
			"content":     "hello",
			"timestamp":   "1970-01-01T00:00:03Z",
			"nonce":       float64(42),
		},
	})
	require.NoError(t, err)
	f.apply(ev)

	msgs, _ = cache.Get(f.store, key)
	require.Len(t, msgs, 2)
	require.Equal(t, "98", msgs[0].ID)
	require.Equal(t, "99", msgs[1].ID)
	require.Nil(t, msgs[1].Nonce)
	require.Equal(t, ts(3), msgs[1].Timestamp.UTC())
}

func TestReconcile_GroupNonceKeepsPosition(t *testing.T) {
	f := newFixture(t, "/chat/g1")
	key := cache.GroupMessages("g1")
	cache.Put(f.store, key, []models.Message{
		{ID: "tmp", AuthorID: localUser, GroupID: "g1", Content: "first", Nonce: nonce(7)},
		{ID: "50", AuthorID: "u3", GroupID: "g1", Content: "second"},
	})

	f.apply(channels.Event{
		Topic:        channels.TopicChat,
		Name:         channels.EventMessageSent,
		ConnectionID: "conn-server",
		Payload: channels.MessageSent{Message: models.Message{
			ID: "49", AuthorID: localUser, GroupID: "g1", Content: "first", Nonce: nonce(7),
		}},
	})

	msgs, _ := cache.Get(f.store, key)
	require.Equal(t, []string{"49", "50"}, []string{msgs[0].ID, msgs[1].ID})
	require.False(t, msgs[0].IsPending())
}

func TestReconcile_SelfEchoNeverMutates(t *testing.T) {
	f := newFixture(t, "/chat/g1")
	cache.Put(f.store, cache.Groups, []models.Group{{ID: "g1", Name: "Gophers"}})
	cache.Put(f.store, cache.GroupMessages("g1"), []models.Message{})

	writes := 0
	stop := f.store.Watch(func(string, any) { writes++ })
	defer stop()

	for _, ev := range []channels.Event{
		{Topic: channels.TopicPrivate, Name: channels.EventGroupCreated, Payload: models.Group{ID: "g2", Name: "New"}},
		{Topic: channels.TopicPrivate, Name: channels.EventGroupRemoved, Payload: channels.GroupRef{ID: "g1"}},
		{Topic: channels.TopicChat, Name: channels.EventMessageSent, Payload: channels.MessageSent{
			Message: models.Message{ID: "1", AuthorID: localUser, GroupID: "g1", Content: "x", Nonce: nonce(1)},
		}},
	} {
		ev.ConnectionID = localConn
		p := f.apply(ev)
		require.True(t, p.Empty(), ev.Name)
		require.Equal(t, SkippedSelfEcho, p.Skipped)
	}

	require.Zero(t, writes)
	require.Empty(t, f.nav.Pushed())
}

func TestReconcile_SelfConnectionStillAppliesOtherEvents(t *testing.T) {
	f := newFixture(t, "/home")
	cache.Put(f.store, cache.DMChannels, []models.DirectChannel{})

	f.apply(channels.Event{
		Topic:        channels.TopicPrivate,
		Name:         channels.EventOpenDM,
		ConnectionID: localConn,
		Payload:      models.DirectChannel{ID: "c1", ReceiverID: "u2"},
	})

	list, _ := cache.Get(f.store, cache.DMChannels)
	require.Len(t, list, 1)
}

func TestReconcile_NonceWithoutMatchUpserts(t *testing.T) {
	f := newFixture(t, "/chat/g1")
	key := cache.GroupMessages("g1")
	cache.Put(f.store, key, []models.Message{{ID: "1", AuthorID: "u3", GroupID: "g1"}})

	sent := func(id string, n *int64, text string) channels.Event {
		return channels.Event{
			Topic:        channels.TopicChat,
			Name:         channels.EventMessageSent,
			ConnectionID: "conn-phone",
			Payload: channels.MessageSent{Message: models.Message{
				ID: id, AuthorID: localUser, GroupID: "g1", Content: text, Nonce: n,
			}},
		}
	}

	// Reloaded page: no optimistic entry left.
	f.apply(sent("2", nonce(5), "a"))
	// Duplicate delivery of the same confirmation.
	f.apply(sent("2", nonce(5), "a"))
	// A second device reused the nonce for another message.
	f.apply(sent("3", nonce(5), "b"))

	msgs, _ := cache.Get(f.store, key)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		require.Nil(t, m.Nonce)
	}
	require.Equal(t, "b", msgs[2].Content)
}

func TestReconcile_MessageUpdated(t *testing.T) {
	f := newFixture(t, "/dm/u2")
	key := cache.DMMessages("u2")
	cache.Put(f.store, key, []models.Message{
		{ID: "1", AuthorID: "u2", ReceiverID: localUser, Content: "helo", Timestamp: ts(1)},
	})

	update := func(id, text string) channels.Event {
		return channels.Event{
			Topic: channels.TopicDM,
			Name:  channels.EventMessageUpdated,
			Payload: channels.MessageUpdated{
				MessageRef: channels.MessageRef{ID: id, AuthorID: "u2", ReceiverID: localUser},
				Content:    text,
			},
		}
	}

	f.apply(update("1", "hello <script>x()</script>"))
	f.apply(update("404", "ghost"))

	msgs, _ := cache.Get(f.store, key)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello ", msgs[0].Content)
	require.Equal(t, ts(1), msgs[0].Timestamp)

	// A conversation that was never loaded is not created.
	f.apply(channels.Event{
		Topic: channels.TopicDM,
		Name:  channels.EventMessageUpdated,
		Payload: channels.MessageUpdated{
			MessageRef: channels.MessageRef{ID: "1", AuthorID: "u9", ReceiverID: localUser},
			Content:    "x",
		},
	})
	_, ok := f.store.Get(cache.DMMessages("u9").String())
	require.False(t, ok)
}

func TestReconcile_MessageDeletedIsIdempotent(t *testing.T) {
	f := newFixture(t, "/chat/g1")
	key := cache.GroupMessages("g1")
	cache.Put(f.store, key, []models.Message{
		{ID: "1", GroupID: "g1"},
		{ID: "2", GroupID: "g1"},
	})

	del := channels.Event{
		Topic:   channels.TopicChat,
		Name:    channels.EventMessageDeleted,
		Payload: channels.MessageDeleted{MessageRef: channels.MessageRef{ID: "1", GroupID: "g1"}},
	}

	f.apply(del)
	once, _ := cache.Get(f.store, key)
	f.apply(del)
	twice, _ := cache.Get(f.store, key)

	require.Equal(t, once, twice)
	require.Len(t, twice, 1)
	require.Equal(t, "2", twice[0].ID)
}

func TestReconcile_OpenDM(t *testing.T) {
	f := newFixture(t, "/home")

	open := channels.Event{
		Topic:   channels.TopicPrivate,
		Name:    channels.EventOpenDM,
		Payload: models.DirectChannel{ID: "c2", ReceiverID: "u3", Receiver: models.UserInfo{ID: "u3", Name: "Carol"}},
	}

	// Not loaded yet.
	f.apply(open)
	_, ok := f.store.Get(cache.DMChannels.String())
	require.False(t, ok)

	cache.Put(f.store, cache.DMChannels, []models.DirectChannel{{ID: "c1", ReceiverID: "u2"}})
	f.apply(open)
	f.apply(open)

	list, _ := cache.Get(f.store, cache.DMChannels)
	require.Len(t, list, 2)
	require.Equal(t, "c2", list[0].ID)
	require.Equal(t, "c1", list[1].ID)
}

func TestReconcile_CloseActiveDM(t *testing.T) {
	f := newFixture(t, session.DMChannelPath("C1"))
	cache.Put(f.store, cache.DMChannels, []models.DirectChannel{
		{ID: "C1", ReceiverID: "u2"},
		{ID: "C2", ReceiverID: "u3"},
	})

	ev, err := channels.Default().MustTopic(channels.TopicPrivate).Decode(channels.Envelope{
		Channel: "private:u1",
		Name:    channels.EventCloseDM,
		Data:    map[string]any{"channel_id": "C1"},
	})
	require.NoError(t, err)
	p := f.apply(ev)

	require.Equal(t, session.HomePath, p.Redirect)
	require.Equal(t, []string{"/home"}, f.nav.Pushed())

	list, _ := cache.Get(f.store, cache.DMChannels)
	require.Len(t, list, 1)
	require.Equal(t, "C2", list[0].ID)
}

func TestReconcile_CloseDMRedirects(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		redirect bool
	}{
		{"active by channel", "/dm/channel/C1", true},
		{"active by user", "/dm/u2", true},
		{"other conversation", "/dm/u3", false},
		{"home", "/home", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.path)
			cache.Put(f.store, cache.DMChannels, []models.DirectChannel{
				{ID: "C1", ReceiverID: "u2"},
				{ID: "C2", ReceiverID: "u3"},
			})

			f.apply(channels.Event{
				Topic:   channels.TopicPrivate,
				Name:    channels.EventCloseDM,
				Payload: channels.CloseDM{ID: "C1"},
			})

			if tt.redirect {
				require.Equal(t, []string{"/home"}, f.nav.Pushed())
			} else {
				require.Empty(t, f.nav.Pushed())
			}
		})
	}
}

func TestReconcile_Groups(t *testing.T) {
	f := newFixture(t, "/chat/g1")
	last := ts(10)
	cache.Put(f.store, cache.Groups, []models.Group{
		{ID: "g1", Name: "Gophers", OwnerID: "u2", UnreadMessages: 3, LastRead: &last},
	})

	f.apply(channels.Event{
		Topic:        channels.TopicPrivate,
		Name:         channels.EventGroupCreated,
		ConnectionID: "conn-server",
		Payload:      models.Group{ID: "g2", Name: "Rustaceans"},
	})
	f.apply(channels.Event{
		Topic:   channels.TopicChat,
		Name:    channels.EventGroupUpdated,
		Payload: models.Group{ID: "g1", Name: "<b>Go</b>phers<script>x</script>", Icon: "abc"},
	})

	groups, _ := cache.Get(f.store, cache.Groups)
	require.Len(t, groups, 2)
	require.Equal(t, "<b>Go</b>phers", groups[0].Name)
	require.Equal(t, "abc", groups[0].Icon)
	require.Equal(t, "u2", groups[0].OwnerID)
	require.Equal(t, 3, groups[0].UnreadMessages)
	require.Equal(t, &last, groups[0].LastRead)

	p := f.apply(channels.Event{
		Topic:   channels.TopicChat,
		Name:    channels.EventGroupDeleted,
		Payload: channels.GroupRef{ID: "g1"},
	})
	require.Equal(t, session.HomePath, p.Redirect)

	p = f.apply(channels.Event{
		Topic:        channels.TopicPrivate,
		Name:         channels.EventGroupRemoved,
		ConnectionID: "conn-server",
		Payload:      channels.GroupRef{ID: "g2"},
	})
	require.Empty(t, p.Redirect)

	groups, _ = cache.Get(f.store, cache.Groups)
	require.Empty(t, groups)
	require.Equal(t, []string{"/home"}, f.nav.Pushed())
}

func TestReconcile_UnreadCounters(t *testing.T) {
	dm := func(id, author, receiver string) channels.Event {
		return channels.Event{
			Topic:        channels.TopicPrivate,
			Name:         channels.EventMessageSent,
			ConnectionID: "conn-server",
			Payload: channels.MessageSent{Message: models.Message{
				ID: id, AuthorID: author, ReceiverID: receiver, Content: "hi",
			}},
		}
	}
	unread := func(f *fixture) int {
		list, _ := cache.Get(f.store, cache.DMChannels)
		return list[0].UnreadMessages
	}
	seed := func(f *fixture) {
		cache.Put(f.store, cache.DMChannels, []models.DirectChannel{{ID: "C1", ReceiverID: "u2"}})
		cache.Put(f.store, cache.DMMessages("u2"), []models.Message{})
	}

	t.Run("inactive conversation", func(t *testing.T) {
		f := newFixture(t, "/home")
		seed(f)
		f.apply(dm("1", "u2", localUser))
		f.apply(dm("2", "u2", localUser))
		// Redelivery of a known message does not count twice.
		f.apply(dm("2", "u2", localUser))
		require.Equal(t, 2, unread(f))
	})

	t.Run("active conversation", func(t *testing.T) {
		f := newFixture(t, "/dm/u2")
		seed(f)
		f.apply(dm("1", "u2", localUser))
		require.Zero(t, unread(f))

		f = newFixture(t, "/dm/channel/C1")
		seed(f)
		f.apply(dm("1", "u2", localUser))
		require.Zero(t, unread(f))
	})

	t.Run("own message from another device", func(t *testing.T) {
		f := newFixture(t, "/home")
		seed(f)
		f.apply(dm("1", localUser, "u2"))
		require.Zero(t, unread(f))

		msgs, _ := cache.Get(f.store, cache.DMMessages("u2"))
		require.Len(t, msgs, 1)
	})

	t.Run("group", func(t *testing.T) {
		f := newFixture(t, "/chat/g2")
		cache.Put(f.store, cache.Groups, []models.Group{{ID: "g1"}, {ID: "g2"}})
		for _, g := range []string{"g1", "g2"} {
			f.apply(channels.Event{
				Topic:        channels.TopicChat,
				Name:         channels.EventMessageSent,
				ConnectionID: "conn-server",
				Payload: channels.MessageSent{Message: models.Message{
					ID: "m-" + g, AuthorID: "u3", GroupID: g,
				}},
			})
		}
		groups, _ := cache.Get(f.store, cache.Groups)
		require.Equal(t, 1, groups[0].UnreadMessages)
		require.Zero(t, groups[1].UnreadMessages)
	})
}

func TestReconcile_SanitizesInboundMessages(t *testing.T) {
	f := newFixture(t, "/chat/g1")
	key := cache.GroupMessages("g1")
	cache.Put(f.store, key, []models.Message{})

	f.apply(channels.Event{
		Topic:        channels.TopicChat,
		Name:         channels.EventMessageSent,
		ConnectionID: "conn-server",
		Payload: channels.MessageSent{Message: models.Message{
			ID:       "1",
			AuthorID: "u3",
			GroupID:  "g1",
			Content:  `<a href="javascript:alert(1)">click</a>`,
			Author:   &models.UserInfo{ID: "u3", Name: "<script>x</script>Eve"},
		}},
	})

	msgs, _ := cache.Get(f.store, key)
	require.Equal(t, "click", msgs[0].Content)
	require.Equal(t, "Eve", msgs[0].Author.Name)

	// Plain text is stored exactly as sent.
	text := `if a < b && c > d then "ok"`
	f.apply(channels.Event{
		Topic:        channels.TopicChat,
		Name:         channels.EventMessageSent,
		ConnectionID: "conn-server",
		Payload: channels.MessageSent{Message: models.Message{
			ID: "2", AuthorID: "u3", GroupID: "g1", Content: text,
		}},
	})
	f.apply(channels.Event{
		Topic:   channels.TopicChat,
		Name:    channels.EventMessageUpdated,
		Payload: channels.MessageUpdated{MessageRef: channels.MessageRef{ID: "1", GroupID: "g1"}, Content: "Tom & Jerry"},
	})

	msgs, _ = cache.Get(f.store, key)
	require.Equal(t, "Tom & Jerry", msgs[0].Content)
	require.Equal(t, text, msgs[1].Content)
}

func TestReconcile_NoOps(t *testing.T) {
	f := newFixture(t, "/chat/g1")

	p := f.rec.Reconcile(f.store, channels.Event{
		Topic:   channels.TopicChat,
		Name:    channels.EventTyping,
		Payload: channels.Typing{User: models.UserInfo{ID: "u2"}},
	})
	require.True(t, p.Empty())
	require.Equal(t, SkippedEphemeral, p.Skipped)

	p = f.rec.Reconcile(f.store, channels.Event{
		Topic:   channels.TopicChat,
		Name:    channels.EventMessageSent,
		Payload: "not a message",
	})
	require.True(t, p.Empty())
	require.Equal(t, SkippedInvalid, p.Skipped)

	p = f.rec.Reconcile(f.store, channels.Event{
		Topic:   channels.TopicChat,
		Name:    channels.EventMessageSent,
		Payload: channels.MessageSent{Message: models.Message{ID: "1", AuthorID: "u2"}},
	})
	require.True(t, p.Empty())
}

func TestConfirmSent(t *testing.T) {
	f := newFixture(t, "/dm/u2")
	key := cache.DMMessages("u2")
	cache.Put(f.store, key, []models.Message{})

	Patch{Ops: []Op{
		Optimistic(key, models.Message{ID: "tmp", AuthorID: localUser, ReceiverID: "u2", Nonce: nonce(3)}),
		Optimistic(key, models.Message{ID: "tmp", AuthorID: localUser, ReceiverID: "u2", Nonce: nonce(3)}),
	}}.Apply(f.store, nil)

	msgs, _ := cache.Get(f.store, key)
	require.Len(t, msgs, 1)

	p := Patch{Ops: []Op{ConfirmSent(key, 3, models.Message{ID: "77", AuthorID: localUser, ReceiverID: "u2", Content: "ok"})}}
	require.Equal(t, []string{key.String()}, p.Keys())
	p.Apply(f.store, nil)

	msgs, _ = cache.Get(f.store, key)
	require.Len(t, msgs, 1)
	require.Equal(t, "77", msgs[0].ID)
	require.False(t, msgs[0].IsPending())
}
