// Package main is the entry point for the zigcheck server: HTTP API, build
// orchestrator and recovery scheduler in one process.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"zigcheck/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to config file (default: zigcheck.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("zigcheck stopped: %v", err)
	}
	log.Printf("zigcheck %s exited properly", version)
}
