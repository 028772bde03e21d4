package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vasu1712/scenyx-relay/internal/api/dms"
	relayapi "github.com/Vasu1712/scenyx-relay/internal/api/relay"
	"github.com/Vasu1712/scenyx-relay/internal/auth"
	"github.com/Vasu1712/scenyx-relay/internal/config"
	"github.com/Vasu1712/scenyx-relay/internal/logging"
	"github.com/Vasu1712/scenyx-relay/internal/metrics"
	"github.com/Vasu1712/scenyx-relay/internal/middleware"
	"github.com/Vasu1712/scenyx-relay/internal/relay"
	"github.com/Vasu1712/scenyx-relay/internal/storage"
	"github.com/Vasu1712/scenyx-relay/internal/storage/driver"
	"github.com/Vasu1712/scenyx-relay/internal/ws"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("relay stopped", logging.Err(err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := driver.Open(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Store.SeedDemo {
		if _, _, err := storage.SeedDemo(ctx, store, log); err != nil {
			return err
		}
	}

	registry := ws.NewRegistry()
	m := metrics.New(registry.Len, registry.Users)
	gate := relay.NewGate(store, cfg.Relay.StrictRecipient)
	engine := relay.NewEngine(registry, gate, store, log, m, relay.Config{
		PingInterval:  cfg.Relay.PingInterval,
		WriteWait:     cfg.Relay.WriteWait,
		MaxFrameBytes: cfg.Relay.MaxFrameBytes,
		SendBuffer:    cfg.Relay.SendBuffer,
		FrameRate:     cfg.Relay.FrameRate,
		FrameBurst:    cfg.Relay.FrameBurst,
	})
	resolver := auth.NewResolver(auth.NewVerifier(cfg.Auth.Secret), cfg.Auth.SessionCookie)

	router := mux.NewRouter()
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	relayapi.RegisterRelayRoutes(router, relayapi.NewRelayHandler(engine, resolver, cfg.Service.AllowOrigin, log))
	dms.RegisterDMRoutes(router, &dms.DMHandler{
		Store:    store,
		Gate:     gate,
		Engine:   engine,
		Issuer:   auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL),
		Resolver: resolver,
	})

	srv := &http.Server{
		Addr:              cfg.Service.Addr,
		Handler:           middleware.RequestLogger(log)(middleware.CORS(cfg.Service.AllowOrigin)(router)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server started", slog.String("addr", cfg.Service.Addr), slog.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownWait)
		defer cancel()
		// Hijacked websocket connections are not tracked by the HTTP server
		return errors.Join(srv.Shutdown(shutdownCtx), engine.Shutdown(shutdownCtx))
	})
	return g.Wait()
}
