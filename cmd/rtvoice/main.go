package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/rtvoice/internal/app"
	"github.com/ent0n29/rtvoice/internal/config"
	"github.com/ent0n29/rtvoice/internal/policy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Printf("cleanup failed: %v", err)
		}
	}()

	provider := "openai"
	if cfg.RealtimeAzure {
		provider = "azure"
	}
	log.Printf("realtime provider: %s target=%q key=%s", provider, cfg.RealtimeDeployment, policy.MaskKey(cfg.RealtimeAPIKey))
	log.Printf("capture source: %s playback sink: %q", cfg.CaptureSource, cfg.PlaybackSink)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if built.Runner.Running() {
			if err := built.Runner.Stop(shutdownCtx); err != nil {
				log.Printf("session stop failed: %v", err)
			}
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
			_ = httpServer.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("listen error: %v", err)
	}
	log.Printf("shutdown complete")
}
