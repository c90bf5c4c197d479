// --- File: pushrelay/service.go ---

// Package pushrelay assembles the relay service: HTTP surface, CORS
// policy, and lifecycle around the shared base server.
package pushrelay

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

type Wrapper struct {
	*microservice.BaseServer
	logger *slog.Logger
}

// New assembles the service around an already-constructed relay core.
func New(
	cfg *config.Config,
	relay api.Relay,
	counter *api.CounterAPI,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. API
	relayAPI := api.NewRelayAPI(relay, logger)

	// Register Routes
	mux := baseServer.Mux()

	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	// OPTIONS preflight for the browser-reachable endpoints.
	preflight := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	mux.Handle("OPTIONS /register", preflight)
	mux.Handle("OPTIONS /unregister", preflight)

	mux.Handle("POST /register", corsMiddleware(http.HandlerFunc(relayAPI.Register)))
	mux.Handle("POST /unregister", corsMiddleware(http.HandlerFunc(relayAPI.Unregister)))

	// The callback is listener-to-relay traffic, not browser traffic.
	mux.Handle("POST /callback", http.HandlerFunc(relayAPI.Callback))

	mux.Handle("GET /counter", http.HandlerFunc(counter.Count))
	mux.Handle("GET /{$}", http.HandlerFunc(relayAPI.Health))

	return &Wrapper{
		BaseServer: baseServer,
		logger:     logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		return err
	}
	w.logger.Info("Service shutdown complete.")
	return nil
}
