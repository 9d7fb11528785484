package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	aggdomain "github.com/smallbiznis/orderlens/internal/aggregation/domain"
)

func (s *Server) GetSalesMetrics(c *gin.Context) {
	groupBy, err := aggdomain.ParseGroupBy(c.DefaultQuery("group_by", string(aggdomain.GroupByDay)))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	precision, err := aggdomain.ParsePrecision(c.DefaultQuery("precision", string(aggdomain.PrecisionExact)))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	start, err := parseOptionalTime(c.Query("start_date"), false)
	if err != nil {
		AbortWithError(c, newValidationError("start_date", "invalid_time", "start_date must be RFC3339 or YYYY-MM-DD"))
		return
	}
	end, err := parseOptionalTime(c.Query("end_date"), true)
	if err != nil {
		AbortWithError(c, newValidationError("end_date", "invalid_time", "end_date must be RFC3339 or YYYY-MM-DD"))
		return
	}
	if start == nil || end == nil {
		AbortWithError(c, aggdomain.ErrInvalidDateRange)
		return
	}

	result, err := s.aggregationSvc.SalesMetrics(c.Request.Context(), aggdomain.MetricsRequest{
		GroupBy:   groupBy,
		Start:     *start,
		End:       *end,
		Precision: precision,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) InvalidateMaterializedViews(c *gin.Context) {
	deleted, err := s.aggregationSvc.Invalidate(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": deleted})
}
