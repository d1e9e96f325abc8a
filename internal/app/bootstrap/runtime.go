// Package bootstrap turns configuration into the collaborators cmd/api wires
// together. Every builder degrades to an in-process implementation when its
// backing service is not configured.
package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/kine-assistant/internal/config"
	"github.com/wolfman30/kine-assistant/internal/exercises"
	"github.com/wolfman30/kine-assistant/internal/gateway"
	"github.com/wolfman30/kine-assistant/internal/inflight"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

// guardMargin is added to the gateway timeout so a Redis guard never expires
// while its call can still be running.
const guardMargin = 30 * time.Second

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildGuard returns the Redis guard when Redis is up so duplicate requests
// are refused across replicas, else a process-local guard.
func BuildGuard(cfg *appconfig.Config, redisClient *redis.Client) inflight.Guard {
	if redisClient == nil {
		return inflight.NewMemoryGuard()
	}
	timeout := 120 * time.Second
	if cfg != nil && cfg.GatewayTimeout > 0 {
		timeout = cfg.GatewayTimeout
	}
	return inflight.NewRedisGuard(redisClient, timeout+guardMargin)
}

// BuildSessionStore keeps exercise sessions in Redis when available.
func BuildSessionStore(cfg *appconfig.Config, redisClient *redis.Client) exercises.SessionStore {
	if redisClient == nil {
		return exercises.NewMemorySessionStore()
	}
	var ttl time.Duration
	if cfg != nil {
		ttl = cfg.SessionTTL
	}
	return exercises.NewRedisSessionStore(redisClient, ttl)
}

// BuildGateway returns a client for one external service, or nil when its URL
// is empty.
func BuildGateway(cfg *appconfig.Config, name, baseURL, apiKey string, metrics gateway.LatencyObserver) (*gateway.Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, nil
	}
	gwCfg := gateway.Config{
		Name:    name,
		BaseURL: baseURL,
		APIKey:  apiKey,
		Metrics: metrics,
	}
	if cfg != nil {
		gwCfg.Timeout = cfg.GatewayTimeout
		gwCfg.MaxFailures = cfg.BreakerMaxFailures
	}
	return gateway.NewClient(gwCfg)
}
