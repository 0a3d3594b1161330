package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"filevault-backend/internal/shared/telemetry"
)

// Context keys handlers may set to enrich the access log.
const (
	FileIDKey        = "fileId"
	UploadOutcomeKey = "uploadOutcome"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		fileID, _ := c.Get(FileIDKey)
		outcome, _ := c.Get(UploadOutcomeKey)

		telemetry.Info("request.complete", map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": float64(latency.Microseconds()) / 1000.0,
			"user_id":     UserIDFromContext(c),
			"file_id":     fileID,
			"outcome":     outcome,
			"bytes_out":   c.Writer.Size(),
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		})
	}
}
