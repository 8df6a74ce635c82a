package main

import (
	"log"

	"github.com/alkime/companion/internal/config"
	"github.com/alkime/companion/internal/history"
	"github.com/alkime/companion/internal/logger"
	"github.com/alkime/companion/internal/server"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup structured logging
	slogger := logger.SetupLogger(cfg)

	slogger.Info("Starting companion history server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	srv := server.New(cfg, slogger, history.NewStore())
	if err := server.Run(srv); err != nil {
		slogger.Error("Failed to start server", "error", err)
		log.Fatalf("Fatal: %v", err)
	}
}
