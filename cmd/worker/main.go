package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := initializeWorker()
	if err != nil {
		log.Fatalf("failed to wire worker application: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("worker application stopped with error: %v", err)
	}
}
