package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/caseledger/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// HeaderRequestID carries the correlation id in and out of the API.
const HeaderRequestID = "X-Request-Id"

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	// Logger defaults to the global zap logger.
	Logger          *zap.Logger
	Debug           bool
	ErrorClassifier func(err error) (errorType string, errorCode string)
}

// Routes logged at debug regardless of outcome.
var quietRoutes = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

const entryIntakeRoute = "/api/time-entries"

// GinMiddleware seeds the request context with correlation ids and emits one
// http_request line per request once the handler chain has finished.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		ctx := obscontext.WithRequestID(c.Request.Context(), requestIDFor(c))
		if caseID := strings.TrimSpace(c.Param("caseId")); caseID != "" {
			ctx = obscontext.WithCaseID(ctx, caseID)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()

		var errorType, errorCode string
		lastErr := c.Errors.Last()
		if lastErr != nil && cfg.ErrorClassifier != nil {
			errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
		}

		base := cfg.Logger
		if base == nil {
			base = zap.L()
		}
		// handlers may have enriched the context with actor and case ids
		log := WithContext(c.Request.Context(), base)
		ce := log.Check(requestLevel(route, status, errorType), "http_request")
		if ce == nil {
			return
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(started)),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if lastErr != nil {
			fields = append(fields, zap.String("error_type", errorType), zap.String("error_code", errorCode))
			if cfg.Debug {
				fields = append(fields, zap.String("error", lastErr.Error()))
			}
		}
		ce.Write(fields...)
	}
}

func requestIDFor(c *gin.Context) string {
	id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
	if id == "" {
		id = uuid.NewString()
	}
	c.Set("request_id", id)
	c.Header(HeaderRequestID, id)
	return id
}

func requestLevel(route string, status int, errorType string) zapcore.Level {
	if _, ok := quietRoutes[route]; ok {
		return zapcore.DebugLevel
	}
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case route == entryIntakeRoute && errorType == "validation_error":
		// client retries of the same bad entry would otherwise flood info
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
