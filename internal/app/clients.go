package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/repairguide-backend/internal/config"
	"github.com/yungbote/repairguide-backend/internal/gateway"
	"github.com/yungbote/repairguide-backend/internal/gateway/gemini"
	"github.com/yungbote/repairguide-backend/internal/gateway/mock"
	"github.com/yungbote/repairguide-backend/internal/gateway/openai"
	"github.com/yungbote/repairguide-backend/internal/observability"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
	"github.com/yungbote/repairguide-backend/internal/session"
)

type Clients struct {
	Redis   redis.UniversalClient
	KV      session.KV
	Gateway gateway.Gateway

	closers []func() error
}

func wireClients(ctx context.Context, log *logger.Logger, cfg *config.Config, metrics *observability.Metrics) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	// Redis
	if needsRedis(cfg) {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return Clients{}, fmt.Errorf("ping redis %s: %w", cfg.Store.RedisAddr, err)
		}
		c.Redis = rdb
		c.closers = append(c.closers, rdb.Close)
	}

	// Session store
	if cfg.Store.Type == "redis" {
		c.KV = session.NewRedisKV(c.Redis, cfg.Store.KeyPrefix, cfg.Session.TTL.Duration)
	} else {
		c.KV = session.NewMemoryKV(cfg.Session.TTL.Duration)
	}

	// Gateway
	gw, closeGW, err := wireGateway(log, cfg)
	if err != nil {
		c.Close()
		return Clients{}, err
	}
	if closeGW != nil {
		c.closers = append(c.closers, closeGW)
	}
	c.Gateway = gateway.Instrument(gw, cfg.Gateway.Provider, metrics, log)
	return c, nil
}

func wireGateway(log *logger.Logger, cfg *config.Config) (gateway.Gateway, func() error, error) {
	prompts := gateway.Prompts{Language: cfg.Gateway.Language, TopicCount: cfg.Gateway.TopicCount}
	switch strings.ToLower(cfg.Gateway.Provider) {
	case "gemini":
		g := gemini.New(gemini.Config{
			TextModel:  cfg.Gateway.Gemini.TextModel,
			ImageModel: cfg.Gateway.Gemini.ImageModel,
			Endpoint:   cfg.Gateway.Gemini.Endpoint,
			MaxClients: cfg.Gateway.Gemini.MaxClients,
			Prompts:    prompts,
		}, log)
		return g, g.Close, nil
	case "openai":
		return openai.New(openai.Config{
			BaseURL:          cfg.Gateway.OpenAI.BaseURL,
			TextModel:        cfg.Gateway.OpenAI.TextModel,
			ImageModel:       cfg.Gateway.OpenAI.ImageModel,
			ImageSize:        cfg.Gateway.OpenAI.ImageSize,
			MaxResponseBytes: cfg.Gateway.OpenAI.MaxResponseBytes,
			Timeout:          cfg.Gateway.Timeout.Duration,
			Prompts:          prompts,
		}, log), nil, nil
	case "mock":
		log.Warn("Using the offline mock gateway")
		return mock.New(prompts), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown gateway provider %q", cfg.Gateway.Provider)
	}
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Store.Type == "redis" || cfg.Realtime.Bus == "redis"
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
	c.closers = nil
}
