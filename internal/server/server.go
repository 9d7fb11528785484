package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/orderlens/internal/aggregation"
	aggdomain "github.com/smallbiznis/orderlens/internal/aggregation/domain"
	"github.com/smallbiznis/orderlens/internal/backpressure"
	"github.com/smallbiznis/orderlens/internal/catalog"
	"github.com/smallbiznis/orderlens/internal/config"
	"github.com/smallbiznis/orderlens/internal/export"
	exportdomain "github.com/smallbiznis/orderlens/internal/export/domain"
	"github.com/smallbiznis/orderlens/internal/idempotency"
	"github.com/smallbiznis/orderlens/internal/ingest"
	ingestdomain "github.com/smallbiznis/orderlens/internal/ingest/domain"
	"github.com/smallbiznis/orderlens/internal/observability"
	obsmiddleware "github.com/smallbiznis/orderlens/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/orderlens/internal/observability/metrics"
	obstracing "github.com/smallbiznis/orderlens/internal/observability/tracing"
	"github.com/smallbiznis/orderlens/internal/price"
	pricedomain "github.com/smallbiznis/orderlens/internal/price/domain"
	"github.com/smallbiznis/orderlens/internal/ratelimit"
	"github.com/smallbiznis/orderlens/internal/search"
	searchdomain "github.com/smallbiznis/orderlens/internal/search/domain"
	"github.com/smallbiznis/orderlens/internal/stock"
	stockdomain "github.com/smallbiznis/orderlens/internal/stock/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	backpressure.Module,
	catalog.Module,
	idempotency.Module,
	ratelimit.Module,
	ingest.Module,
	aggregation.Module,
	search.Module,
	export.Module,
	stock.Module,
	price.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	ingestSvc      ingestdomain.Service
	aggregationSvc aggdomain.Service
	searchSvc      searchdomain.Service
	exportSvc      exportdomain.Service
	stockSvc       stockdomain.Service
	priceSvc       pricedomain.Service
	idem           idempotency.Store
	loadCtrl       *backpressure.Controller
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	IngestSvc      ingestdomain.Service
	AggregationSvc aggdomain.Service
	SearchSvc      searchdomain.Service
	ExportSvc      exportdomain.Service
	StockSvc       stockdomain.Service
	PriceSvc       pricedomain.Service
	Idem           idempotency.Store
	LoadCtrl       *backpressure.Controller `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		ingestSvc:      p.IngestSvc,
		aggregationSvc: p.AggregationSvc,
		searchSvc:      p.SearchSvc,
		exportSvc:      p.ExportSvc,
		stockSvc:       p.StockSvc,
		priceSvc:       p.PriceSvc,
		idem:           p.Idem,
		loadCtrl:       p.LoadCtrl,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.TenantContext())
	shed := backpressure.GinMiddleware(s.loadCtrl)

	// -------- Ingest --------
	api.POST("/ingest/orders", shed, s.IngestOrders)
	api.POST("/ingest/orders/complete", s.CompleteIngest)
	api.GET("/ingest/status/:key", s.IngestStatus)
	api.POST("/ingest/upload-token", s.CreateUploadToken)

	// -------- Aggregation --------
	api.GET("/metrics/sales", s.GetSalesMetrics)
	api.POST("/materialized-views/invalidate", s.InvalidateMaterializedViews)

	// -------- Search --------
	api.GET("/orders/search", s.SearchOrders)
	api.GET("/orders/search/ndjson", s.SearchOrdersNDJSON)

	// -------- Export --------
	api.POST("/reports/export", shed, s.CreateExport)
	api.GET("/reports/export/:id/stream", shed, s.StreamExport)
	api.GET("/reports/export/:id/status", s.ExportStatus)
	api.GET("/reports/export/:id/download", s.DownloadExport)

	// -------- Stock --------
	api.PUT("/stock/bulk_update", s.BulkUpdateStock)
	api.GET("/products/:id/stock", s.GetProductStock)
	api.GET("/products/:id/stock/events", s.ListStockEvents)

	// -------- Price Events --------
	api.POST("/products/:id/price-event", s.ProcessPriceEvent)
	api.GET("/products/:id/price-anomalies", s.ListPriceAnomalies)
	api.GET("/products/:id/rate-limit", s.GetPriceRateLimit)
	api.POST("/products/:id/reset-rate-limit", s.ResetPriceRateLimit)

	// -------- Backpressure --------
	api.GET("/backpressure", s.BackpressureStatus)
}
