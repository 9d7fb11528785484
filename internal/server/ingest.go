package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	ingestdomain "github.com/smallbiznis/orderlens/internal/ingest/domain"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type ingestChunkRequest struct {
	Rows []ingestdomain.OrderRow `json:"rows"`
}

func (s *Server) IngestOrders(c *gin.Context) {
	key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
	if key == "" {
		AbortWithError(c, newValidationError("idempotency_key", "missing_idempotency_key", "Idempotency-Key header is required"))
		return
	}

	var req ingestChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.ingestSvc.ProcessChunk(c.Request.Context(), ingestdomain.ProcessChunkRequest{
		IdempotencyKey: key,
		Rows:           req.Rows,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type completeIngestRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) CompleteIngest(c *gin.Context) {
	var req completeIngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status, err := s.ingestSvc.Complete(c.Request.Context(), req.IdempotencyKey)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) IngestStatus(c *gin.Context) {
	status, err := s.ingestSvc.Status(c.Request.Context(), c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// CreateUploadToken hands out a short-lived token clients present when
// splitting one logical upload across chunked requests.
func (s *Server) CreateUploadToken(c *gin.Context) {
	token := uuid.NewString()
	if err := s.idem.Set(c.Request.Context(), "upload_token:"+token, time.Now().UTC().Format(time.RFC3339), time.Hour); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"upload_token": token,
		"expires_in":   int(time.Hour.Seconds()),
	})
}
