package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medview.org/internal/access"
	"medview.org/internal/cache"
	"medview.org/internal/httpapi"
	"medview.org/internal/obs"
	"medview.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("MEDVIEW_COMMIT"))

	var store access.Store
	var probe httpapi.ReadyProbe
	if dsn := os.Getenv("MEDVIEW_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		// Demo mode: empty in-memory store, no durable state.
		log.Print("MEDVIEW_PG_DSN not set, using in-memory store")
		store = access.NewInMemory()
	}

	engine, err := access.NewEngine(store)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	results := cache.New(cache.Config{TTL: resultTTL()})

	api := httpapi.New(probe, version, store, engine, results, os.Getenv("MEDVIEW_ADMIN_JWT_SECRET"))

	srv := &http.Server{
		Addr:              listenAddr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting medview-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func listenAddr() string {
	if addr := os.Getenv("MEDVIEW_LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

func resultTTL() time.Duration {
	if raw := os.Getenv("MEDVIEW_RESULT_CACHE_TTL"); raw != "" {
		if ttl, err := time.ParseDuration(raw); err == nil && ttl > 0 {
			return ttl
		}
		log.Printf("ignoring invalid MEDVIEW_RESULT_CACHE_TTL %q", os.Getenv("MEDVIEW_RESULT_CACHE_TTL"))
	}
	return time.Minute
}
