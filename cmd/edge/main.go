package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/numera-app/edge/internal/api"
	"github.com/numera-app/edge/internal/cache"
	"github.com/numera-app/edge/internal/config"
	"github.com/numera-app/edge/internal/proxy"

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

	server, err := proxy.New(cfg, store)
	if err != nil {
		log.Fatalf("Failed to create proxy server: %v", err)
	}

	if cfg.Warmup.Enabled {
		opts, err := cfg.CacheOptions()
		if err != nil {
			log.Fatalf("Invalid cache options: %v", err)
		}
		tokens := api.Tokens{
			AccessToken:  cfg.Warmup.AccessToken,
			RefreshToken: cfg.Warmup.RefreshToken,
		}
		client, err := api.New(cfg.Upstream.BaseURL, store, tokens, opts)
		if err != nil {
			log.Fatalf("Failed to create backend client: %v", err)
		}
		go warmup(client)
	}

	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// warmup pre-fetches today's reading so the first visitor after a deploy
// gets a cache hit
func warmup(client *api.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	today := time.Now().Format("2006-01-02")
	if _, err := client.DailyReading(ctx, today); err != nil {
		logrus.Warnf("Cache warmup failed: %v", err)
		return
	}
	logrus.Infof("Warmed daily reading cache for %s", today)
}
