package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/caseledger/internal/audit/domain"
	"github.com/smallbiznis/caseledger/internal/authorization"
	obscontext "github.com/smallbiznis/caseledger/internal/observability/context"
)

// The upstream auth gateway asserts who the operator is.
const (
	HeaderOperatorID   = "X-Operator-Id"
	HeaderOperatorRole = "X-Operator-Role"

	contextOperatorKey = "operator"
)

// OperatorRequired rejects admin calls that arrive without an operator role
// and stamps the operator as the actor for logs and audit rows.
func (s *Server) OperatorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderOperatorRole)))
		if role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		operator := authorization.Operator{
			ID:   strings.TrimSpace(c.GetHeader(HeaderOperatorID)),
			Role: role,
		}
		c.Set(contextOperatorKey, operator)

		actorID := operator.ID
		if actorID == "" {
			actorID = role
		}
		ctx := obscontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeOperator), actorID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func operatorFromContext(c *gin.Context) (authorization.Operator, bool) {
	if c == nil {
		return authorization.Operator{}, false
	}
	value, ok := c.Get(contextOperatorKey)
	if !ok {
		return authorization.Operator{}, false
	}
	operator, ok := value.(authorization.Operator)
	return operator, ok
}
