package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Learath2/libtw2/internal/app"
	"github.com/Learath2/libtw2/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("%v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunServer(ctx, cfg); err != nil {
		log.Fatalf("%v", err)
	}
}
