package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Middleware logs one line per handled request. Server errors are logged at
// error level, client errors at warn and everything else at debug.
func Middleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		begin := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := zapcore.DebugLevel
		switch {
		case status >= 500:
			level = zapcore.ErrorLevel
		case status >= 400:
			level = zapcore.WarnLevel
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int("size", c.Writer.Size()),
			zap.Duration("elapsed", time.Since(begin)),
			zap.String("remoteAddr", c.ClientIP()),
		}
		if rid := c.GetString("requestID"); rid != "" {
			fields = append(fields, zap.String("requestID", rid))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if ce := log.Check(level, "handled request"); ce != nil {
			ce.Write(fields...)
		}
	}
}
