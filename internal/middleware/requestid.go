// requestid.go assigns every request a correlation identifier. Change sets
// recorded during a request carry this ID in their request_id column, so a
// stored change can be traced back to the exact API call that produced it.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request identifier on the wire.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key handlers read the identifier from.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware reuses an inbound X-Request-ID when the caller (or an
// upstream proxy) supplied one, and mints a UUID otherwise. The ID is stored
// in the gin context and echoed in the response header. Must run before the
// logging middleware and the handlers that stamp change sets.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
