package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/orderlens/internal/backpressure"
)

func (s *Server) BackpressureStatus(c *gin.Context) {
	if s.loadCtrl == nil {
		c.JSON(http.StatusOK, backpressure.Status{Healthy: true})
		return
	}
	c.JSON(http.StatusOK, s.loadCtrl.Check())
}
