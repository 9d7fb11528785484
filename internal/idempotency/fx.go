package idempotency

import (
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/orderlens/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("idempotency",
	fx.Provide(New),
)

// New builds the idempotency store. Redis when configured, otherwise an
// in-process fallback that does not survive restarts.
func New(cfg config.Config, log *zap.Logger) Store {
	if !cfg.RedisEnabled() {
		log.Warn("redis not configured, idempotency markers are process-local")
		return NewMemoryStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisStore(client, "idem")
}
