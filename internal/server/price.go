package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	pricedomain "github.com/smallbiznis/orderlens/internal/price/domain"
)

type priceEventRequest struct {
	Price decimal.Decimal `json:"price"`
}

func (s *Server) ProcessPriceEvent(c *gin.Context) {
	productID, err := parsePathInt64(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "product id must be a positive integer"))
		return
	}
	key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
	if key == "" {
		AbortWithError(c, pricedomain.ErrInvalidIdempotencyKey)
		return
	}

	var req priceEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.priceSvc.ProcessEvent(c.Request.Context(), pricedomain.EventRequest{
		ProductID:      productID,
		IdempotencyKey: key,
		Price:          req.Price,
	})
	if err != nil {
		s.attachRateLimitHeaders(c, productID, err)
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// attachRateLimitHeaders adds Retry-After on 429 replies.
func (s *Server) attachRateLimitHeaders(c *gin.Context, productID int64, err error) {
	if !errors.Is(err, pricedomain.ErrRateLimited) {
		return
	}
	info, infoErr := s.priceSvc.RateLimitInfo(c.Request.Context(), productID)
	if infoErr != nil || info == nil {
		return
	}
	c.Header("Retry-After", strconv.FormatInt(int64(info.RetryAfter.Seconds()), 10))
	c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
}

func (s *Server) ListPriceAnomalies(c *gin.Context) {
	productID, err := parsePathInt64(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "product id must be a positive integer"))
		return
	}

	filter := pricedomain.AnomaliesFilter{}
	if hours, err := parseOptionalInt(c.Query("hours")); err != nil {
		AbortWithError(c, newValidationError("hours", "invalid_int", "hours must be an integer"))
		return
	} else if hours != nil {
		filter.Hours = *hours
	}
	if limit, err := parseOptionalInt(c.Query("limit")); err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_int", "limit must be an integer"))
		return
	} else if limit != nil {
		filter.Limit = *limit
	}

	records, err := s.priceSvc.Anomalies(c.Request.Context(), productID, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"anomalies":  records,
		"count":      len(records),
	})
}

func (s *Server) GetPriceRateLimit(c *gin.Context) {
	productID, err := parsePathInt64(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "product id must be a positive integer"))
		return
	}

	info, err := s.priceSvc.RateLimitInfo(c.Request.Context(), productID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) ResetPriceRateLimit(c *gin.Context) {
	productID, err := parsePathInt64(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "product id must be a positive integer"))
		return
	}

	if err := s.priceSvc.ResetRateLimit(c.Request.Context(), productID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true, "product_id": productID})
}
