package backpressure

import (
	"github.com/smallbiznis/orderlens/internal/config"
	obsmetrics "github.com/smallbiznis/orderlens/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ControllerParam struct {
	fx.In

	Log         *zap.Logger
	Cfg         config.Config
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func provideController(p ControllerParam) *Controller {
	return NewController(p.Log, p.HTTPMetrics.Inflight(), p.Cfg.BackpressureMaxInflight)
}

var Module = fx.Module("backpressure",
	fx.Provide(provideController),
)
