package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger logs one line per request. The voter-facing paths embed the private
// key and the bulletin token, so for those the route pattern is logged
// instead of the concrete path.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		clientIP := c.ClientIP()
		method := c.Request.Method

		c.Next()

		path := c.Request.URL.Path
		if fp := c.FullPath(); fp != "" &&
			(strings.HasPrefix(path, "/vote/") || strings.HasPrefix(path, "/get_bulletin/")) {
			path = fp
		}
		statusCode := c.Writer.Status()
		latency := time.Since(start)

		logger.Info("request",
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("client_ip", clientIP),
		)
	}
}
