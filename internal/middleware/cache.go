package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// ImmutableCache marks responses as cacheable forever. Uploaded recordings
// get a fresh name per upload and are never rewritten.
func ImmutableCache(maxAgeSeconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", fmt.Sprintf("private, max-age=%d, immutable", maxAgeSeconds))
		c.Header("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}
