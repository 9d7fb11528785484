package search

import (
	"github.com/smallbiznis/orderlens/internal/search/service"
	"go.uber.org/fx"
)

var Module = fx.Module("search",
	fx.Provide(service.NewService),
)
