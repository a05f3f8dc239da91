package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"content-regions/config"
	"content-regions/server"
	"content-regions/services"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := services.NewServiceFactory(cfg).CreateServices(ctx)
	if err != nil {
		log.Fatalf("Failed to create services: %v", err)
	}

	srv := server.NewServer(cfg, container)
	runErr := srv.Start(ctx)

	if err := container.Close(); err != nil {
		container.Logger.Error("failed to release services", err)
	}
	if runErr != nil {
		log.Printf("Server failed: %v", runErr)
		os.Exit(1)
	}
}
