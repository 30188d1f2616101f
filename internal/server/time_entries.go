package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/caseledger/internal/audit/domain"
	obscontext "github.com/smallbiznis/caseledger/internal/observability/context"
	timeentrydomain "github.com/smallbiznis/caseledger/internal/timeentry/domain"
)

const (
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
)

func (s *Server) SubmitTimeEntry(c *gin.Context) {
	var cmd timeentrydomain.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		cmd.IdempotencyKey = strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
	}

	ctx := obscontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeEmployee), strings.TrimSpace(cmd.EmployeeID))
	if caseID := strings.TrimSpace(cmd.CaseID); caseID != "" {
		ctx = obscontext.WithCaseID(ctx, caseID)
	}

	result, err := s.entrySvc.Submit(ctx, cmd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.Replayed {
		c.Header(HeaderIdempotentReplayed, "true")
		c.JSON(http.StatusOK, gin.H{"data": result})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": result})
}
