package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) authorizeOperator(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeOperatorWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeOperatorWithContext(c *gin.Context, object string, action string) error {
	operator, ok := operatorFromContext(c)
	if !ok {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), operator, strings.TrimSpace(object), strings.TrimSpace(action))
}
