package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carebase.org/internal/accountability"
	"carebase.org/internal/authz"
	"carebase.org/internal/claims"
	"carebase.org/internal/event"
	"carebase.org/internal/httpapi"
	"carebase.org/internal/obs"
	"carebase.org/internal/store/pg"
	"carebase.org/internal/stream"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var opts []httpapi.Option
	probe := httpapi.ReadyProbe{}

	feed := stream.New()
	opts = append(opts, httpapi.WithFeed(feed))

	if dsn := os.Getenv("CAREBASE_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		probe.DB = store.DB()

		engine := authz.NewEngine(store)
		seedCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := engine.EnsureBuiltins(seedCtx); err != nil {
			cancel()
			log.Fatalf("seed permission catalog: %v", err)
		}
		cancel()

		issuer, err := claims.NewIssuer(store, engine)
		if err != nil {
			log.Fatalf("claims issuer: %v", err)
		}
		events, err := event.NewService(store, event.WithPublisher(feed))
		if err != nil {
			log.Fatalf("event service: %v", err)
		}
		acc, err := accountability.NewService(store)
		if err != nil {
			log.Fatalf("accountability service: %v", err)
		}

		opts = append(opts,
			httpapi.WithIssuer(issuer),
			httpapi.WithEventService(events),
			httpapi.WithAccountability(acc),
		)
	}

	api := httpapi.New(probe, version, opts...)

	addr := os.Getenv("CAREBASE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second, // SSE subscribers hold the connection
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting carebase-api %s on %s", version, srv.Addr)

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
