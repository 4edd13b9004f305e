package main

import (
	"log"
	"time"

	"github.com/savora/go-order-lifecycle/internal/config"
	"github.com/savora/go-order-lifecycle/internal/devserver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	srv := devserver.New(devserver.Config{StatusStep: 10 * time.Second})
	log.Printf("[devserver] listening on %s", cfg.DevServerAddr)
	if err := srv.Router().Run(cfg.DevServerAddr); err != nil {
		log.Fatalf("devserver: %v", err)
	}
}
