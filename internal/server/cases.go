package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/caseledger/internal/authorization"
	obscontext "github.com/smallbiznis/caseledger/internal/observability/context"
	reconciledomain "github.com/smallbiznis/caseledger/internal/reconcile/domain"
)

const (
	defaultReconciliationLimit = 20
	maxReconciliationLimit     = 200
)

type reconcileCaseRequest struct {
	Mode string `json:"mode"`
}

func caseContext(c *gin.Context) (string, bool) {
	caseID := strings.TrimSpace(c.Param("caseId"))
	if caseID == "" {
		return "", false
	}
	c.Request = c.Request.WithContext(obscontext.WithCaseID(c.Request.Context(), caseID))
	return caseID, true
}

func (s *Server) GetCase(c *gin.Context) {
	caseID, ok := caseContext(c)
	if !ok {
		AbortWithError(c, newValidationError("case_id", "invalid_case_id", "invalid case id"))
		return
	}

	view, err := s.ledgerSvc.GetCase(c.Request.Context(), caseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) GetCaseDrift(c *gin.Context) {
	caseID, ok := caseContext(c)
	if !ok {
		AbortWithError(c, newValidationError("case_id", "invalid_case_id", "invalid case id"))
		return
	}

	drift, err := s.driftSvc.DetectDrift(c.Request.Context(), caseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": drift})
}

// ReconcileCase takes the mode from the query string or the JSON body.
// Execute needs a stronger grant than a dry run.
func (s *Server) ReconcileCase(c *gin.Context) {
	caseID, ok := caseContext(c)
	if !ok {
		AbortWithError(c, newValidationError("case_id", "invalid_case_id", "invalid case id"))
		return
	}

	rawMode := c.Query("mode")
	if rawMode == "" && c.Request.ContentLength > 0 {
		var req reconcileCaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		rawMode = req.Mode
	}

	mode, err := reconciledomain.ParseMode(rawMode)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	action := authorization.ActionReconcileDryRun
	if mode == reconciledomain.ModeExecute {
		action = authorization.ActionReconcileExecute
	}
	if err := s.authorizeOperatorWithContext(c, authorization.ObjectReconcile, action); err != nil {
		AbortWithError(c, err)
		return
	}

	record, err := s.reconcileSvc.Reconcile(c.Request.Context(), caseID, mode)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": record})
}

func (s *Server) ListReconciliations(c *gin.Context) {
	caseID, ok := caseContext(c)
	if !ok {
		AbortWithError(c, newValidationError("case_id", "invalid_case_id", "invalid case id"))
		return
	}
	limit, err := parseLimit(c.Query("limit"), defaultReconciliationLimit, maxReconciliationLimit)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	runs, err := s.reconcileSvc.ListRuns(c.Request.Context(), caseID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runs})
}
