package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chatsync/internal/channels"
	"chatsync/internal/config"
	brokerhttp "chatsync/internal/http"
	"chatsync/internal/models"
	"chatsync/internal/storage"
	"chatsync/internal/ws"

	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startBroker(t *testing.T) (*ws.Hub, string) {
	t.Helper()
	hub := ws.NewHub(channels.Default())
	srv := httptest.NewServer(brokerhttp.NewBrokerServer(hub, "", nil).Handler())
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestPublishURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"ws://localhost:8080/ws", "http://localhost:8080/publish", false},
		{"wss://chat.example.com/ws", "https://chat.example.com/publish", false},
		{"ws://localhost:8080/sync/ws", "http://localhost:8080/sync/publish", false},
		{"http://localhost:8080/ws", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := PublishURL(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestChannel(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Channel(&out, "dm", []string{"u1", "u2"}))
	require.NoError(t, Channel(&out, "chat", []string{"g1"}))
	require.Equal(t, channels.DMChannelName("u1", "u2")+"\nchat:g1\n", out.String())

	var cfgErr *channels.ConfigurationError
	require.ErrorAs(t, Channel(&out, "dm", []string{"u1"}), &cfgErr)
	require.ErrorAs(t, Channel(&out, "presence", nil), &cfgErr)
}

func TestPublish_Broker(t *testing.T) {
	hub, wsURL := startBroker(t)
	cfg := &config.Config{Transport: config.TransportWS, WSURL: wsURL}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := ws.Dial(ctx, wsURL)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	require.NoError(t, client.Attach(ctx, "chat:g1"))
	require.Eventually(t, func() bool { return hub.Members("chat:g1") == 1 }, time.Second, 5*time.Millisecond)

	var out bytes.Buffer
	err = Publish(ctx, cfg, slog.Default(), &out, "chat:g1", channels.EventGroupDeleted, json.RawMessage(`{"id":"g1"}`))
	require.NoError(t, err)
	require.Contains(t, out.String(), "to 1 connection(s)")

	env := <-client.Events()
	require.Equal(t, channels.EventGroupDeleted, env.Name)
}

func TestPublish_Rejects(t *testing.T) {
	cfg := &config.Config{Transport: config.TransportWS, WSURL: "ws://127.0.0.1:1/ws"}
	ctx := context.Background()
	var out bytes.Buffer

	require.ErrorContains(t, Publish(ctx, cfg, slog.Default(), &out, "presence:u1", channels.EventTyping, nil), "unknown channel")

	var unknown *channels.UnknownTopicError
	require.ErrorAs(t, Publish(ctx, cfg, slog.Default(), &out, "chat:g1", channels.EventOpenDM, nil), &unknown)

	require.ErrorContains(t, Publish(ctx, cfg, slog.Default(), &out, "chat:g1", channels.EventGroupDeleted, json.RawMessage(`{`)), "not valid JSON")
	require.Empty(t, out.String())
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, &config.Config{ListenAddr: "127.0.0.1:0"}, slog.Default())
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestSync_PersistsEvents(t *testing.T) {
	hub, wsURL := startBroker(t)
	cfg := &config.Config{
		Transport: config.TransportWS,
		WSURL:     wsURL,
		UserID:    "u1",
		CacheFile: filepath.Join(t.TempDir(), "cache.db"),
		TypingTTL: time.Second,
	}
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Sync(ctx, cfg, logger, SyncOptions{Groups: []string{"g1"}})
	}()

	require.Eventually(t, func() bool {
		return hub.Members("private:u1") == 1 && hub.Members("chat:g1") == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err := hub.Publish(channels.Envelope{
		Channel:      "private:u1",
		Name:         channels.EventGroupCreated,
		Data:         models.Group{ID: "g1", Name: "Gophers", OwnerID: "u2"},
		ConnectionID: ws.ServerConnectionID,
	})
	require.NoError(t, err)
	_, err = hub.Publish(channels.Envelope{
		Channel:      "chat:g1",
		Name:         channels.EventTyping,
		Data:         channels.Typing{User: models.UserInfo{ID: "u2", Name: "Bob"}},
		ConnectionID: "conn-bob",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		out := logs.String()
		return strings.Contains(out, "event=group_created") && strings.Contains(out, "users=Bob")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Sync did not stop")
	}

	store, err := storage.NewBboltStorage(cfg.CacheFile)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	values, err := store.Load()
	require.NoError(t, err)
	groups, ok := values["groups"].([]models.Group)
	require.True(t, ok)
	require.Equal(t, "Gophers", groups[0].Name)
}
