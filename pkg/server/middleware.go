package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// requestIDMiddleware tags each request with the caller's X-Request-ID or a new uuid.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// accessLogMiddleware writes one line per request once it completes.
func (s *Server) accessLogMiddleware() gin.HandlerFunc {
	access := s.logger.Named("access")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		access.Infof("%s %s status=%d duration=%s request_id=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(),
			time.Since(start).Round(time.Microsecond), requestID(c))
	}
}

// metricsMiddleware records request counts and latency by route pattern.
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.metrics.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// bodyLimitMiddleware caps the bytes read from a request body. Reading past the cap
// fails with *http.MaxBytesError, which handlers report as 400.
func bodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// recoveryMiddleware turns a handler panic into a 500.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(s.logger.Writer(), func(c *gin.Context, recovered any) {
		s.logger.Errorf("panic serving %s %s: %v (request_id=%s)",
			c.Request.Method, c.Request.URL.Path, recovered, requestID(c))
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
	})
}
