package middleware

import (
	"time"

	"github.com/HeoJunHyoung/linkfolio-backend-sub000/pkg/logger"
	"github.com/gin-gonic/gin"
)

// LoggingMiddleware logs all incoming requests with timing
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		rawQuery := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		method := c.Request.Method
		clientIP := c.ClientIP()

		userID, _ := c.Get("userId")
		var userIDVal int64
		if id, ok := userID.(int64); ok {
			userIDVal = id
		}

		event := logger.Log.Info()
		if status >= 400 {
			event = logger.Log.Warn()
		}
		if status >= 500 {
			event = logger.Log.Error()
		}

		event.
			Str("method", method).
			Str("path", path).
			Str("query", rawQuery).
			Int("status", status).
			Dur("latency", latency).
			Str("ip", clientIP).
			Int64("user_id", userIDVal).
			Int("body_size", c.Writer.Size()).
			Msg("request")
	}
}
