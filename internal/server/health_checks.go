package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	healthCheckTriggerAPI  = "api"
	defaultHealthCheckList = 20
	maxHealthCheckList     = 100
)

func (s *Server) ListHealthChecks(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"), defaultHealthCheckList, maxHealthCheckList)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	reports, err := s.healthSvc.List(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": reports})
}

func (s *Server) LatestHealthCheck(c *gin.Context) {
	report, err := s.healthSvc.Latest(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

// RunHealthCheck runs the invariant audit inline and returns its report.
func (s *Server) RunHealthCheck(c *gin.Context) {
	report, err := s.healthSvc.Run(c.Request.Context(), healthCheckTriggerAPI)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}
