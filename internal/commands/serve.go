package commands

import (
	"context"
	"log/slog"
	"time"

	"chatsync/internal/channels"
	"chatsync/internal/config"
	brokerhttp "chatsync/internal/http"
	"chatsync/internal/ws"

	"golang.org/x/sync/errgroup"
)

// Serve runs the development websocket broker until ctx is done.
func Serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	hub := ws.NewHub(channels.Default(), ws.WithHubLogger(logger))
	server := brokerhttp.NewBrokerServer(hub, cfg.ListenAddr, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down broker")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("broker shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}
