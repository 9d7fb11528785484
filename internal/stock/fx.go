package stock

import (
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/orderlens/internal/config"
	stockdomain "github.com/smallbiznis/orderlens/internal/stock/domain"
	"github.com/smallbiznis/orderlens/internal/stock/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("stock",
	fx.Provide(NewConflictWindow),
	fx.Provide(service.NewService),
)

// NewConflictWindow shares the window across instances through Redis
// when configured; otherwise markers are process-local.
func NewConflictWindow(cfg config.Config, log *zap.Logger) stockdomain.ConflictWindow {
	if !cfg.RedisEnabled() {
		log.Warn("redis not configured, stock conflict window is process-local")
		return service.NewMemoryConflictWindow(cfg.StockConflictWindow, cfg.StockConflictTTL)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return service.NewRedisConflictWindow(client, cfg.StockConflictWindow, cfg.StockConflictTTL)
}
