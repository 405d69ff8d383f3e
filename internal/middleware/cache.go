package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// CacheControl lets clients reuse a response for maxAgeSeconds. Responses
// are per user, so shared caches must not store them.
func CacheControl(maxAgeSeconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", fmt.Sprintf("private, max-age=%d", maxAgeSeconds))
		c.Next()
	}
}

// NoStore marks live state such as a running test as never cacheable.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
