package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chatsync/internal/cache"
	"chatsync/internal/channels"
	"chatsync/internal/config"
	"chatsync/internal/models"
	"chatsync/internal/pubsub"
	"chatsync/internal/realtime"
	"chatsync/internal/reconcile"
	"chatsync/internal/session"
	"chatsync/internal/storage"

	"golang.org/x/sync/errgroup"
)

var ErrTransportClosed = errors.New("transport closed")

type SyncOptions struct {
	// DMs and Groups are the conversations to open views for.
	DMs    []string
	Groups []string
}

// Sync connects as cfg.UserID, keeps the on-disk cache in step with the event
// stream and logs what changes until ctx is done.
func Sync(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts SyncOptions) error {
	store, err := storage.NewBboltStorage(cfg.CacheFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := store.BindUser(cfg.UserID); err != nil {
		return err
	}

	mem, err := cache.NewMemory(cache.WithPersister(store), cache.WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Info("cache loaded", "file", cfg.CacheFile, "keys", len(mem.Keys()))

	conn, err := Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	identity := session.NewStatic(cfg.UserID)
	identity.SetConnectionID(conn.ConnectionID())

	manager, err := pubsub.NewManager(channels.Default(), conn, pubsub.WithLogger(logger))
	if err != nil {
		return err
	}

	ui := session.NewUI(func(m session.Modal) {
		logger.Info("modal changed", "type", m.Type, "user", m.UserID)
	})
	engine, err := realtime.New(manager, mem, identity, session.NewHistory(session.HomePath),
		realtime.WithLogger(logger),
		realtime.WithTypingTTL(cfg.TypingTTL),
		realtime.WithUI(ui),
		realtime.OnPatch(func(ev channels.Event, p reconcile.Patch) {
			if p.Skipped != "" {
				return
			}
			logger.Info("synced", "channel", ev.Channel, "event", ev.Name, "keys", strings.Join(p.Keys(), ","))
		}),
	)
	if err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = engine.Stop() }()

	var views []*realtime.View
	defer func() {
		for _, v := range views {
			_ = v.Close()
		}
	}()
	open := func(kind, id string, fn func(context.Context, string, ...realtime.ViewOption) (*realtime.View, error)) error {
		v, err := fn(ctx, id, realtime.OnTyping(func(users []models.UserInfo) {
			logger.Info("typing", "conversation", kind+"/"+id, "users", userNames(users))
		}))
		if err != nil {
			return fmt.Errorf("open %s %s: %w", kind, id, err)
		}
		views = append(views, v)
		logger.Info("view opened", "conversation", kind+"/"+id, "channel", v.Channel(), "unread_from", v.UnreadMarker().Index(), "unread", v.UnreadCount())
		return nil
	}
	for _, id := range opts.DMs {
		if err := open("dm", id, engine.OpenDM); err != nil {
			return err
		}
	}
	for _, id := range opts.Groups {
		if err := open("chat", id, engine.OpenGroup); err != nil {
			return err
		}
	}

	logger.Info("syncing", "user", cfg.UserID, "transport", cfg.Transport, "connection", conn.ConnectionID())

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := engine.Run(gCtx); err != nil {
			return err
		}
		if err := gCtx.Err(); err != nil {
			return err
		}
		return ErrTransportClosed
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down sync")
		_ = conn.Close()
		return nil
	})
	return g.Wait()
}

func userNames(users []models.UserInfo) string {
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Name
		if names[i] == "" {
			names[i] = u.ID
		}
	}
	return strings.Join(names, ",")
}
