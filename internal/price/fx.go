package price

import (
	"github.com/smallbiznis/orderlens/internal/price/service"
	"go.uber.org/fx"
)

var Module = fx.Module("price",
	fx.Provide(service.NewService),
)
