package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"knowledge_server/server/ingest/app"
)

func main() {
	cfg := app.LoadConfig()
	worker, err := app.NewWorker(cfg)
	if err != nil {
		log.Fatalf("initialize worker: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("start ingest worker")
	if err := worker.Run(ctx); err != nil {
		log.Fatalf("run ingest worker: %v", err)
	}
}
