package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	rowsIngested     metric.Int64Counter
	rowsFailed       metric.Int64Counter
	exportBytes      metric.Int64Counter
	stockConflicts   metric.Int64Counter
	cacheLookups     metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "orderlens"
	}
	meter := provider.Meter(name)

	rowsIngested, err := meter.Int64Counter("orderlens_ingest_rows_total")
	if err != nil {
		return nil, err
	}
	rowsFailed, err := meter.Int64Counter("orderlens_ingest_rows_failed_total")
	if err != nil {
		return nil, err
	}
	exportBytes, err := meter.Int64Counter("orderlens_export_bytes_total")
	if err != nil {
		return nil, err
	}
	stockConflicts, err := meter.Int64Counter("orderlens_stock_conflicts_total")
	if err != nil {
		return nil, err
	}
	cacheLookups, err := meter.Int64Counter("orderlens_cache_lookups_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("orderlens_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("orderlens_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		rowsIngested:     rowsIngested,
		rowsFailed:       rowsFailed,
		exportBytes:      exportBytes,
		stockConflicts:   stockConflicts,
		cacheLookups:     cacheLookups,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordIngestRows counts inserted and failed rows for a chunk.
func (m *Metrics) RecordIngestRows(ctx context.Context, inserted, failed int64) {
	if m == nil {
		return
	}
	if inserted > 0 {
		m.rowsIngested.Add(ctx, inserted)
	}
	if failed > 0 {
		m.rowsFailed.Add(ctx, failed)
	}
}

// RecordExportBytes counts bytes written by export streams.
func (m *Metrics) RecordExportBytes(ctx context.Context, format string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("format", strings.TrimSpace(format)))
	m.exportBytes.Add(ctx, n, metric.WithAttributes(attrs...))
}

// RecordStockConflict counts detected concurrent stock updates by strategy.
func (m *Metrics) RecordStockConflict(ctx context.Context, strategy string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("strategy", strings.TrimSpace(strategy)))
	m.stockConflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCacheLookup counts materialized-view and resolver cache outcomes.
func (m *Metrics) RecordCacheLookup(ctx context.Context, cacheName string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	attrs := FilterAttributes(
		attribute.String("cache", strings.TrimSpace(cacheName)),
		attribute.String("outcome", outcome),
	)
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint": {},
	"format":   {},
	"strategy": {},
	"cache":    {},
	"outcome":  {},
	"reason":   {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
