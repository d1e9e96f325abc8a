package inflight

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const guardKeyPrefix = "kine:inflight:"

// releaseScript deletes the key only if it still holds our token, so an
// expired holder cannot free a lock taken after it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares holds across API replicas. Holds expire after ttl in
// case the holder dies mid-call.
type RedisGuard struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &RedisGuard{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("kine.internal.inflight"),
	}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	ctx, span := g.tracer.Start(ctx, "inflight.acquire")
	defer span.End()

	redisKey := guardKeyPrefix + key
	token := uuid.NewString()
	ok, err := g.redis.SetNX(ctx, redisKey, token, g.ttl).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("inflight: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrInFlight
	}

	return func() {
		// The request context may already be cancelled when releasing.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		releaseCtx, releaseSpan := g.tracer.Start(releaseCtx, "inflight.release")
		defer releaseSpan.End()
		if err := releaseScript.Run(releaseCtx, g.redis, []string{redisKey}, token).Err(); err != nil {
			releaseSpan.RecordError(err)
		}
	}, nil
}
