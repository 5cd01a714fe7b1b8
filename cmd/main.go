package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lingodoc/lingodoc/internal/config"
	"github.com/lingodoc/lingodoc/internal/engine"
	"github.com/lingodoc/lingodoc/internal/service"
	"github.com/lingodoc/lingodoc/pkg/log"
)

func main() {
	// Optional .env for local development; real deployments set env vars.
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.LogLevel))

	eng, err := engine.NewCommandEngine(cfg.Engine.Bin, cfg.Engine.WorkDir)
	if err != nil {
		log.Fatal("Failed to initialize engine: %v", err)
	}

	svc, err := service.New(cfg, eng)
	if err != nil {
		log.Fatal("Failed to build service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		log.Fatal("Service exited: %v", err)
	}
}
