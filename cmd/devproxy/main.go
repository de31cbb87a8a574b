package main

import (
	"log"
	"os"

	"github.com/numera-app/edge/internal/cache"
	"github.com/numera-app/edge/internal/config"
	"github.com/numera-app/edge/internal/devproxy"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.LogLevel != "" {
		lvl, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			log.Fatalf("Invalid log level: %v", err)
		}
		logrus.SetLevel(lvl)
	}

	ttl, _ := cfg.GetCacheTTL()
	maxAge, _ := cfg.GetCacheMaxAge()
	store := cache.NewWithDefaults(ttl, maxAge)

	server, err := devproxy.New(cfg, store)
	if err != nil {
		log.Fatalf("Failed to create dev proxy: %v", err)
	}

	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
