// Copyright 2025 ModelArena
// SPDX-License-Identifier: Apache-2.0

// Command orchestrator runs the comparison service: HTTP API, provider
// registry, Redis-backed admission control and the fan-out engine.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"modelarena/core/auth"
	"modelarena/core/orchestrator"
	"modelarena/core/orchestrator/cache"
	"modelarena/core/orchestrator/cost"
	"modelarena/core/orchestrator/llm"
	"modelarena/core/orchestrator/llm/anthropic"
	"modelarena/core/orchestrator/llm/bedrock"
	"modelarena/core/orchestrator/llm/openai"
	"modelarena/core/orchestrator/ratelimit"
	"modelarena/core/shared/config"
	"modelarena/core/shared/logger"
	"modelarena/core/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLog := logger.New("main")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	var comparisonStore orchestrator.Store
	if cfg.PostgresDSN != "" {
		db, err := store.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer db.Close()

		pg := store.NewPostgresStore(db)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("failed to ensure schema: %v", err)
		}
		comparisonStore = pg
	} else {
		appLog.Warn("", "", "no postgres dsn configured, using in-memory store", nil)
		comparisonStore = store.NewMemoryStore()
	}

	providers, err := buildProviders(cfg.Providers)
	if err != nil {
		log.Fatalf("failed to build providers: %v", err)
	}
	registry, err := llm.NewRegistry(providers...)
	if err != nil {
		log.Fatalf("failed to build registry: %v", err)
	}
	registry.StartPeriodicHealthCheck(context.Background(), 30*time.Second)

	limiter := ratelimit.New(redisClient, map[ratelimit.Scope]ratelimit.Rule{
		ratelimit.ScopeUser:  {Limit: cfg.RateLimit.UserLimit, Window: cfg.RateLimit.UserWindow},
		ratelimit.ScopeGroup: {Limit: cfg.RateLimit.GroupLimit, Window: cfg.RateLimit.GroupWindow},
	})

	ledger := cost.NewLedger(redisClient,
		cost.WithBudget(cfg.Budget.PerUserUSD),
		cost.WithHorizon(cfg.Budget.Horizon),
	)

	fpCache := cache.New(redisClient,
		cache.WithResultTTL(cfg.Cache.ResultTTL),
		cache.WithReserveTTL(cfg.Cache.ReserveTTL),
	)

	orch := orchestrator.New(
		registry, limiter, ledger, fpCache, comparisonStore,
		orchestrator.NewLogPublisher(logger.New("events")),
		orchestrator.EngineConfig{
			AttemptTimeout: cfg.AttemptTimeout,
			QueryDeadline:  cfg.QueryDeadline,
		},
	)

	server := orchestrator.NewServer(orch, auth.NewJWTResolver(cfg.JWTSecret))

	appLog.Info("", "", "orchestrator listening", map[string]interface{}{
		"addr":   cfg.ListenAddr,
		"models": registry.Models(),
	})
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, server.Router()))
}

// buildProviders constructs the enabled adapters from configuration.
func buildProviders(configs []config.ProviderConfig) ([]llm.Provider, error) {
	var providers []llm.Provider
	for _, pc := range configs {
		if !pc.Enabled {
			continue
		}
		switch pc.Type {
		case "anthropic":
			p, err := anthropic.NewProvider(anthropic.Config{
				APIKey:  pc.APIKey,
				BaseURL: pc.BaseURL,
				Model:   pc.Model,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case "openai":
			p, err := openai.NewProvider(openai.Config{
				APIKey:  pc.APIKey,
				BaseURL: pc.BaseURL,
				Model:   pc.Model,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case "bedrock":
			p, err := bedrock.NewProvider(bedrock.Config{
				Region: pc.Region,
				Model:  pc.Model,
			})
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		default:
			log.Printf("skipping provider with unknown type %q", pc.Type)
		}
	}
	return providers, nil
}
