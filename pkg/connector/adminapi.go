// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aiku/slack-zulip-bridge/pkg/bridgedb"
)

// bridgeLister is the read side of the store the admin API needs.
type bridgeLister interface {
	GetAll(ctx context.Context) ([]*bridgedb.Bridge, error)
}

// adminAPI serves read-only bridge state, a health check and metrics.
type adminAPI struct {
	store    bridgeLister
	gatherer prometheus.Gatherer
	log      zerolog.Logger
}

func newAdminRouter(store bridgeLister, gatherer prometheus.Gatherer, log zerolog.Logger) http.Handler {
	api := &adminAPI{store: store, gatherer: gatherer, log: log}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", api.handleHealth)
	r.Get("/api/bridges", api.handleListBridges)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func (api *adminAPI) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

type listBridgesResponse struct {
	Bridges []*bridgedb.Bridge `json:"bridges"`
}

func (api *adminAPI) handleListBridges(w http.ResponseWriter, r *http.Request) {
	bridges, err := api.store.GetAll(r.Context())
	if err != nil {
		api.log.Err(err).Msg("Failed to list bridges")
		http.Error(w, "failed to list bridges", http.StatusInternalServerError)
		return
	}
	if bridges == nil {
		bridges = []*bridgedb.Bridge{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(listBridgesResponse{Bridges: bridges}); err != nil {
		api.log.Warn().Err(err).Msg("Failed to write bridge list response")
	}
}

// serveAdminAPI listens on addr until ctx is cancelled.
func serveAdminAPI(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("Starting admin API")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
