// ABOUTME: Wires the store, change feed, broadcaster, correlator, and session hub together
// ABOUTME: Owns process lifecycle: Run blocks until the context ends, Shutdown drains

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wireline/chatrelay/internal/auth"
	"github.com/wireline/chatrelay/internal/broadcast"
	"github.com/wireline/chatrelay/internal/config"
	"github.com/wireline/chatrelay/internal/correlator"
	"github.com/wireline/chatrelay/internal/feed"
	"github.com/wireline/chatrelay/internal/registry"
	"github.com/wireline/chatrelay/internal/session"
	"github.com/wireline/chatrelay/internal/store"
)

// shutdownTimeout bounds how long Shutdown waits for in-flight work.
const shutdownTimeout = 10 * time.Second

// Server is the assembled relay process.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	store       *store.MongoStore
	registry    *registry.Registry
	broadcaster *broadcast.Broadcaster
	correlator  *correlator.Correlator
	watcher     *feed.Watcher
	hub         *session.Hub

	httpServer *http.Server
}

// New connects to the store and wires every component. Nothing runs
// until Run is called.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewMongoStore(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	reg := registry.New(logger)
	b := broadcast.New(logger)
	corr := correlator.New(cfg.Relay.SweepInterval, logger)

	source := feed.NewMongoSource(st.Messages(), logger)
	watcher := feed.NewWatcher(source, b, corr, feed.Config{
		TransientBackoff:   cfg.Relay.TransientBackoff,
		ResubscribeBackoff: cfg.Relay.ResubscribeBackoff,
	}, logger)

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	processor := session.NewStoreProcessor(st, logger)
	hub := session.NewHub(verifier, reg, b, corr, st, processor, cfg.Relay.RequestTimeout, logger)

	s := &Server{
		cfg:         cfg,
		logger:      logger.With("component", "server"),
		store:       st,
		registry:    reg,
		broadcaster: b,
		correlator:  corr,
		watcher:     watcher,
		hub:         hub,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", handleHealth(hub, reg, corr))

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Run starts the change feed watcher and the HTTP listener, then blocks
// until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		_ = s.watcher.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Server.HTTPAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err := s.Shutdown(shutdownCtx)
	<-watcherDone
	return err
}

// Shutdown stops accepting connections, cancels every pending request,
// and disconnects from the store.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping http server: %w", err))
	}

	s.correlator.Close()
	s.broadcaster.Close()

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}

	s.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// handleHealth reports liveness plus a few gauges useful when eyeballing
// a deployment.
func handleHealth(hub *session.Hub, reg *registry.Registry, corr *correlator.Correlator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":           "ok",
			"connections":      hub.ActiveConnections(),
			"bound_threads":    reg.Len(),
			"pending_requests": corr.PendingCount(),
		})
	}
}
