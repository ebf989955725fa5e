// Package main runs the banking TCP server: a line-oriented JSON protocol
// on the main port plus a read-only admin HTTP endpoint.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/appbancaria/banca/internal/app"
	"github.com/appbancaria/banca/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// A positional argument overrides the configured port. Invalid values
	// fall back with a warning instead of aborting.
	if len(os.Args) > 1 {
		if port, ok := config.ParsePort(os.Args[1]); ok {
			cfg.Port = port
		} else {
			log.Printf("Ignoring invalid port argument %q, using %d", os.Args[1], cfg.Port)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := application.Stop(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
