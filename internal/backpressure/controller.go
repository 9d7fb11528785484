// Package backpressure gates heavy endpoints on server load.
package backpressure

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

const (
	defaultMaxInflight = 100
	defaultRetryAfter  = 5 * time.Second
)

// Status is one load check snapshot.
type Status struct {
	Healthy           bool     `json:"healthy"`
	InflightRequests  int64    `json:"inflight_requests"`
	MaxInflight       int64    `json:"max_inflight"`
	Reasons           []string `json:"reasons,omitempty"`
	RetryAfterSeconds int      `json:"retry_after_seconds,omitempty"`
}

// Controller compares the in-flight request gauge against the configured
// ceiling. The gauge is injected, not read from a global registry.
type Controller struct {
	log         *zap.Logger
	inflight    prometheus.Gauge
	maxInflight int64
	retryAfter  time.Duration
}

func NewController(log *zap.Logger, inflight prometheus.Gauge, maxInflight int64) *Controller {
	if maxInflight <= 0 {
		maxInflight = defaultMaxInflight
	}
	return &Controller{
		log:         log.Named("backpressure"),
		inflight:    inflight,
		maxInflight: maxInflight,
		retryAfter:  defaultRetryAfter,
	}
}

// Check reports whether the server should accept more heavy work.
func (c *Controller) Check() Status {
	status := Status{
		Healthy:     true,
		MaxInflight: c.maxInflight,
	}
	if c == nil || c.inflight == nil {
		return status
	}

	status.InflightRequests = c.read()
	if status.InflightRequests >= c.maxInflight {
		status.Healthy = false
		status.Reasons = append(status.Reasons, "too_many_inflight_requests")
		status.RetryAfterSeconds = int(c.retryAfter.Seconds())
		c.log.Warn("backpressure engaged",
			zap.Int64("inflight", status.InflightRequests),
			zap.Int64("max_inflight", c.maxInflight),
		)
	}
	return status
}

func (c *Controller) read() int64 {
	var m dto.Metric
	if err := c.inflight.Write(&m); err != nil {
		return 0
	}
	return int64(math.Round(m.GetGauge().GetValue()))
}
