package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/caseledger/internal/audit/domain"
	"github.com/smallbiznis/caseledger/internal/authorization"
	backfilldomain "github.com/smallbiznis/caseledger/internal/backfill/domain"
	driftdomain "github.com/smallbiznis/caseledger/internal/drift/domain"
	healthcheckdomain "github.com/smallbiznis/caseledger/internal/healthcheck/domain"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	reconciledomain "github.com/smallbiznis/caseledger/internal/reconcile/domain"
	timeentrydomain "github.com/smallbiznis/caseledger/internal/timeentry/domain"
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
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		lastErr := c.Errors.Last()
		if lastErr == nil || c.Writer.Written() {
			return
		}
		status, payload := mapError(lastErr.Err)
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
	return &ValidationErrors{Errors: []ValidationError{{Field: field, Code: code, Message: message}}}
}

// fieldErrors are domain sentinels reported as a 400 against one field.
var fieldErrors = []struct {
	err   error
	field string
}{
	{ErrInvalidRequest, "request"},
	{ledgerdomain.ErrInvalidCaseID, "case_id"},
	{ledgerdomain.ErrInvalidEmployeeID, "employee_id"},
	{ledgerdomain.ErrServiceNotInCase, "service_id"},
	{driftdomain.ErrInvalidCaseID, "case_id"},
	{reconciledomain.ErrInvalidCaseID, "case_id"},
	{reconciledomain.ErrInvalidMode, "mode"},
	{backfilldomain.ErrInvalidOperation, "op"},
	{auditdomain.ErrInvalidPageToken, "page_token"},
	{auditdomain.ErrInvalidTimeRange, "start_at"},
}

type statusRule struct {
	status  int
	kind    string
	message string
	match   []error
}

// statusRules are checked in order; the first rule with a matching
// sentinel decides the response.
var statusRules = []statusRule{
	{http.StatusUnauthorized, "unauthorized", "unauthorized", []error{
		ErrUnauthorized, authorization.ErrInvalidActor,
	}},
	{http.StatusForbidden, "forbidden", "forbidden", []error{
		ErrForbidden, authorization.ErrForbidden, authorization.ErrInvalidRole,
	}},
	{http.StatusConflict, "conflict", "", []error{
		ErrConflict,
		ledgerdomain.ErrVersionConflict,
		reconciledomain.ErrTransactionConflict,
		reconciledomain.ErrCaseLocked,
		timeentrydomain.ErrTransactionConflict,
	}},
	{http.StatusNotFound, "not_found", "not found", []error{
		ErrNotFound,
		ledgerdomain.ErrCaseNotFound,
		ledgerdomain.ErrServiceNotFound,
		healthcheckdomain.ErrReportNotFound,
		backfilldomain.ErrUnknownMigration,
		gorm.ErrRecordNotFound,
	}},
	{http.StatusTooManyRequests, "rate_limited", "too many requests", []error{ErrRateLimited}},
	{http.StatusServiceUnavailable, "service_unavailable", "service unavailable", []error{ErrServiceUnavailable}},
	{http.StatusInternalServerError, "backup_write_failure", "reconciliation backup could not be written", []error{
		reconciledomain.ErrBackupWriteFailure,
	}},
}

func validationPayload(errs ...ValidationError) errorPayload {
	return errorPayload{Type: "validation_error", Message: "validation error", Errors: errs}
}

func mapError(err error) (int, errorPayload) {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, validationPayload(vErr.Errors...)
	}
	var entryErr *timeentrydomain.ValidationError
	if errors.As(err, &entryErr) {
		return http.StatusBadRequest, validationPayload(ValidationError{
			Field: entryErr.Field, Code: entryErr.Code, Message: entryErr.Message,
		})
	}
	for _, fe := range fieldErrors {
		if errors.Is(err, fe.err) {
			return http.StatusBadRequest, validationPayload(ValidationError{
				Field: fe.field, Code: fe.err.Error(), Message: "invalid value",
			})
		}
	}

	for _, rule := range statusRules {
		for _, target := range rule.match {
			if !errors.Is(err, target) {
				continue
			}
			message := rule.message
			if message == "" {
				// conflicts name the lost race so clients know what to retry
				message = err.Error()
			}
			return rule.status, errorPayload{Type: rule.kind, Message: message}
		}
	}
	return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
}

// classifyErrorForLog reports the response type and the first field code.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, payload.Type
}
