package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/wetbench/wetbench/core/assets"
	"github.com/wetbench/wetbench/core/infra/bus"
	"github.com/wetbench/wetbench/core/infra/config"
	infraMetrics "github.com/wetbench/wetbench/core/infra/metrics"
	"github.com/wetbench/wetbench/core/locks"
)

func main() {
	log.Println("wetbench lockd starting...")

	cfg := config.Load()

	store, err := locks.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to Redis lock store: %v", err)
	}
	defer store.Close()

	var publisher bus.Publisher = bus.Noop{}
	if cfg.NatsURL != "" {
		natsPub, err := bus.NewNatsPublisher(cfg.NatsURL)
		if err != nil {
			// Events are notification only; the lock core stays correct
			// without them.
			log.Printf("lock events disabled (could not connect NATS %s): %v", cfg.NatsURL, err)
		} else {
			publisher = natsPub
			defer natsPub.Close()
		}
	}

	opts := []locks.Option{
		locks.WithMetrics(infraMetrics.NewProm("wetbench")),
		locks.WithEvents(publisher),
		locks.WithStaleAfter(cfg.StaleAfter),
		locks.WithSweepInterval(cfg.SweepInterval),
	}
	if cfg.AssetCatalogPath != "" {
		catalog, err := assets.LoadCatalog(cfg.AssetCatalogPath)
		if err != nil {
			log.Fatalf("failed to load asset catalog (%s): %v", cfg.AssetCatalogPath, err)
		}
		log.Printf("loaded %d assets from %s", catalog.Len(), cfg.AssetCatalogPath)
		opts = append(opts, locks.WithMatcher(assets.NewCatalogMatcher(catalog)))
	}

	manager := locks.NewManager(store, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.RebuildIndex(ctx); err != nil {
		log.Fatalf("failed to reconcile reservation index: %v", err)
	}

	go manager.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(manager.GetSystemStatus())
	})
	mux.Handle("/metrics", infraMetrics.Handler())

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("lockd status on %s/status", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("lockd server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("wetbench lockd shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
