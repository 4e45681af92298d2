// Command cotext-server runs the relay: the WebSocket endpoint and the
// two collaborator HTTP endpoints from spec.md §6.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cotext/internal/config"
	"cotext/internal/logx"
	"cotext/internal/relay"
)

func main() {
	cfg := config.Load()
	logx.Init()

	logx.Info("starting cotext relay on port %s (origin=%s)", cfg.Port, cfg.AllowedOrigin)

	srv := relay.NewServer(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.StartCleaner(ctx)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logx.Info("shutting down relay")
		cancel()
		srv.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("relay: server error: %v", err)
	}
}
