package main

import (
	"context"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/pavel-fokin/grayavatar/internal/server"
	"github.com/pavel-fokin/grayavatar/internal/shutdown"
)

func main() {
	_ = godotenv.Load()

	cfg := server.Config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	srv, err := server.New(&cfg)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	g := shutdown.New(context.Background(), 30*time.Second)
	g.Go(srv.ListenAndServe)
	g.Go(srv.RunSweepers)
	g.OnShutdown(srv.Shutdown)

	if err := g.Wait(); err != nil {
		log.Fatalf("server stopped with error: %v", err)
	}
}
