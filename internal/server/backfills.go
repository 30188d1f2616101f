package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/caseledger/internal/authorization"
	backfilldomain "github.com/smallbiznis/caseledger/internal/backfill/domain"
)

func (s *Server) ListBackfills(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.backfillSvc.List()})
}

func (s *Server) RunBackfill(c *gin.Context) {
	op, err := backfilldomain.ParseOperation(c.Param("op"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.authorizeOperatorWithContext(c, authorization.ObjectBackfill, backfillAction(op)); err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.backfillSvc.Run(c.Request.Context(), strings.TrimSpace(c.Param("migrationId")), op)
	if err != nil {
		var partial *backfilldomain.PartialRunError
		if errors.As(err, &partial) && stats != nil {
			c.JSON(http.StatusMultiStatus, gin.H{"data": stats, "error": errorPayload{Type: "backfill_partial_run", Message: err.Error()}})
			return
		}
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func backfillAction(op backfilldomain.Operation) string {
	switch op {
	case backfilldomain.OperationUp:
		return authorization.ActionBackfillUp
	case backfilldomain.OperationDown:
		return authorization.ActionBackfillDown
	default:
		return authorization.ActionBackfillDryRun
	}
}
