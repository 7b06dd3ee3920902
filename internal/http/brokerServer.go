package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"chatsync/internal/ws"
)

// BrokerServer serves the development pub/sub broker: the websocket endpoint
// clients sync over and the HTTP endpoint events are injected through.
type BrokerServer struct {
	server *http.Server
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewBrokerServer(hub *ws.Hub, addr string, logger *slog.Logger) *BrokerServer {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	server := ws.NewServer(hub, logger)

	mux := http.NewServeMux()
	mux.Handle("/", server.Routes())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return &BrokerServer{
		logger: logger,
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *BrokerServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *BrokerServer) Start() error {
	s.logger.Info("broker started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *BrokerServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
