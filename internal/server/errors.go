package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	aggdomain "github.com/smallbiznis/orderlens/internal/aggregation/domain"
	catalogdomain "github.com/smallbiznis/orderlens/internal/catalog/domain"
	exportdomain "github.com/smallbiznis/orderlens/internal/export/domain"
	ingestdomain "github.com/smallbiznis/orderlens/internal/ingest/domain"
	pricedomain "github.com/smallbiznis/orderlens/internal/price/domain"
	searchdomain "github.com/smallbiznis/orderlens/internal/search/domain"
	stockdomain "github.com/smallbiznis/orderlens/internal/stock/domain"
	tenantdomain "github.com/smallbiznis/orderlens/internal/tenant/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, exportdomain.ErrJobNotReady):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ingestdomain.ErrJobFailed),
		errors.Is(err, exportdomain.ErrJobFailed):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "job_failed",
			Message: err.Error(),
		}
	case errors.Is(err, pricedomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limit_exceeded",
			Message: "rate limit exceeded",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ingestdomain.ErrInvalidTenant),
		errors.Is(err, ingestdomain.ErrInvalidIdempotencyKey),
		errors.Is(err, ingestdomain.ErrEmptyChunk),
		errors.Is(err, ingestdomain.ErrChunkTooLarge),
		errors.Is(err, aggdomain.ErrInvalidGroupBy),
		errors.Is(err, aggdomain.ErrInvalidPrecision),
		errors.Is(err, aggdomain.ErrInvalidDateRange),
		errors.Is(err, aggdomain.ErrInvalidTenant),
		errors.Is(err, searchdomain.ErrInvalidTenant),
		errors.Is(err, exportdomain.ErrInvalidFormat),
		errors.Is(err, exportdomain.ErrInvalidTenant),
		errors.Is(err, stockdomain.ErrInvalidTenant),
		errors.Is(err, stockdomain.ErrInvalidStrategy),
		errors.Is(err, stockdomain.ErrInvalidEvent),
		errors.Is(err, stockdomain.ErrNoEvents),
		errors.Is(err, pricedomain.ErrInvalidTenant),
		errors.Is(err, pricedomain.ErrInvalidIdempotencyKey),
		errors.Is(err, pricedomain.ErrInvalidPrice):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ingestdomain.ErrJobNotFound),
		errors.Is(err, exportdomain.ErrJobNotFound),
		errors.Is(err, catalogdomain.ErrProductNotFound),
		errors.Is(err, catalogdomain.ErrCustomerNotFound),
		errors.Is(err, tenantdomain.ErrTenantNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog keeps request logs grep-able without coupling the
// logger to domain packages.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status == http.StatusBadRequest:
		code := payload.Type
		if len(payload.Errors) > 0 {
			code = payload.Errors[0].Code
		}
		return "validation_error", code
	case status < http.StatusInternalServerError:
		return payload.Type, payload.Type
	default:
		return "internal_error", "internal_error"
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
