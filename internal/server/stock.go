package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	stockdomain "github.com/smallbiznis/orderlens/internal/stock/domain"
)

func (s *Server) BulkUpdateStock(c *gin.Context) {
	var req stockdomain.BulkUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.stockSvc.BulkUpdate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Success && result.SuccessfulUpdates > 0 {
		status = http.StatusMultiStatus
	} else if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}

func (s *Server) GetProductStock(c *gin.Context) {
	productID, err := parsePathInt64(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "product id must be a positive integer"))
		return
	}

	stock, err := s.stockSvc.Stock(c.Request.Context(), productID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stock)
}

func (s *Server) ListStockEvents(c *gin.Context) {
	productID, err := parsePathInt64(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "product id must be a positive integer"))
		return
	}

	filter := stockdomain.EventsFilter{EventType: c.Query("event_type")}
	if limit, err := parseOptionalInt(c.Query("limit")); err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_int", "limit must be an integer"))
		return
	} else if limit != nil {
		filter.Limit = *limit
	}

	events, err := s.stockSvc.Events(c.Request.Context(), productID, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"events":     events,
		"count":      len(events),
	})
}
