package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/HeoJunHyoung/linkfolio-backend-sub000/pkg/errors"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/pkg/logger"
	"github.com/gin-gonic/gin"
)

// ErrorHandlerMiddleware handles errors and panics. No error class may
// terminate the process; only the specific request fails.
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error().
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", stack).
					Msg("Panic recovered")

				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   "Internal Server Error",
					"message": "An unexpected error occurred",
				})
				c.Abort()
			}
		}()

		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err

			if appErr, ok := err.(*errors.AppError); ok {
				c.JSON(appErr.Code, gin.H{
					"error": appErr.Message,
				})
				return
			}

			logger.Error().Err(err).Msg("Unhandled request error")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Internal Server Error",
			})
		}
	}
}
