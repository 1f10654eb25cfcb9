package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/linqra/linqra/core/controlplane/gateway"
	"github.com/linqra/linqra/core/infra/config"
)

func main() {
	log.Println("linqra gateway starting...")
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gateway.Run(ctx, cfg); err != nil {
		log.Fatalf("gateway error: %v", err)
	}
}
