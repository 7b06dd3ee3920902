package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatsync/internal/channels"
	"chatsync/internal/models"

	"github.com/stretchr/testify/require"
)

func startBroker(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(channels.Default())
	srv := httptest.NewServer(NewServer(hub, nil).Routes())
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func nextEvent(t *testing.T, c *Client) channels.Envelope {
	t.Helper()
	select {
	case env, ok := <-c.Events():
		require.True(t, ok, "events closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return channels.Envelope{}
}

// waitMembers polls until attach frames were processed by the broker.
func waitMembers(t *testing.T, hub *Hub, channel string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Members(channel) == n }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_PublishSubscribe(t *testing.T) {
	hub, srv := startBroker(t)
	alice := dial(t, srv)
	bob := dial(t, srv)
	require.NotEqual(t, alice.ConnectionID(), bob.ConnectionID())

	ctx := context.Background()
	require.NoError(t, alice.Attach(ctx, "chat:7"))
	require.NoError(t, bob.Attach(ctx, "chat:7"))
	waitMembers(t, hub, "chat:7", 2)

	require.NoError(t, bob.Publish(ctx, "chat:7", channels.EventTyping, channels.Typing{
		User: models.UserInfo{ID: "u2", Name: "Bob"},
	}))

	for _, c := range []*Client{alice, bob} {
		env := nextEvent(t, c)
		require.Equal(t, "chat:7", env.Channel)
		require.Equal(t, bob.ConnectionID(), env.ConnectionID)

		ev, err := channels.Default().MustTopic(channels.TopicChat).Decode(env)
		require.NoError(t, err)
		require.Equal(t, "Bob", ev.Payload.(channels.Typing).User.Name)
	}

	require.NoError(t, alice.Detach(ctx, "chat:7"))
	waitMembers(t, hub, "chat:7", 1)
}

func TestClient_HTTPPublish(t *testing.T) {
	hub, srv := startBroker(t)
	c := dial(t, srv)
	require.NoError(t, c.Attach(context.Background(), "private:u1"))
	waitMembers(t, hub, "private:u1", 1)

	body, _ := json.Marshal(map[string]any{
		"channel": "private:u1",
		"name":    "close_dm",
		"data":    map[string]any{"channel_id": "C1"},
	})
	resp, err := http.Post(srv.URL+"/publish", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out publishResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, 1, out.Delivered)

	env := nextEvent(t, c)
	require.Equal(t, ServerConnectionID, env.ConnectionID)
	require.Equal(t, channels.EventCloseDM, env.Name)

	bad, _ := json.Marshal(map[string]any{"channel": "private:u1", "name": "reaction_added"})
	resp2, err := http.Post(srv.URL+"/publish", "application/json", bytes.NewReader(bad))
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestClient_Close(t *testing.T) {
	_, srv := startBroker(t)
	c := dial(t, srv)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, ok := <-c.Events()
	require.False(t, ok)
	require.NoError(t, c.Err())
	require.ErrorIs(t, c.Attach(context.Background(), "chat:7"), ErrClientClosed)
}
