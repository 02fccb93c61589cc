package handler

import (
	"time"

	"pasta/chat/internal/logging"

	"github.com/gin-gonic/gin"
)

// requestLogger logs one line per request. The raw path is left out since it carries
// the user's message.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debugw("request",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
