// Package httpapi is the out-of-core HTTP translator in front of the
// Execute Agent Service (spec.md §1 non-goals: "HTTP/CLI/SDK surfaces" are
// explicitly out of core scope, but SPEC_FULL.md still specifies this
// ambient surface). Grounded on the teacher's
// internal/orchestrator/api/{router,handlers,middleware}.go. Request
// logging and OTel tracing are not reimplemented here: they're already
// owned by internal/common/httpmw (RequestLogger, OtelTracing), shared
// with any other HTTP surface this module grows.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kdlbs/agentorc/internal/common/errors"
	"github.com/kdlbs/agentorc/internal/common/logging"
	"go.uber.org/zap"
)

// Recovery converts a panic in a handler into a 500 AppError response
// instead of crashing the process.
func Recovery(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"kind":    errors.KindInternal,
					"message": "an internal server error occurred",
				})
			}
		}()
		c.Next()
	}
}

// CORS allows any origin; this service sits behind a trusted gateway in
// production and never receives browser credentials directly.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// writeAppError renders an *errors.AppError (or wraps a plain error into
// one) as the handler's JSON response.
func writeAppError(c *gin.Context, err error) {
	appErr := errors.Wrap(err, err.Error())
	c.JSON(appErr.HTTPStatus, appErr)
}
