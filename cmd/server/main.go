package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"payledger/internal/app/server"
	"payledger/internal/platform/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg); err != nil {
		stop()
		log.Fatalf("server: %v", err)
	}
}
