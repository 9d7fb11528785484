package export

import (
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/orderlens/internal/config"
	"github.com/smallbiznis/orderlens/internal/export/service"
	"github.com/smallbiznis/orderlens/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("export",
	fx.Provide(NewRunLocker),
	fx.Provide(service.NewService),
)

// NewRunLocker serializes export runs across instances through Redis
// when configured; otherwise the job status check is the only guard.
func NewRunLocker(cfg config.Config, log *zap.Logger) *ratelimit.Locker {
	if !cfg.RedisEnabled() {
		log.Warn("redis not configured, concurrent export runs guarded by job status only")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return ratelimit.NewLocker(client)
}
