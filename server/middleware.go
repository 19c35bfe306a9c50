package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// observe logs every request and records its latency.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		d := time.Since(start)
		s.opts.Metrics.ObserveHTTPRequest(c.Request.Method, route, strconv.Itoa(status), d)

		args := []any{"method", c.Request.Method, "route", route, "status", status, "duration", d, "client", c.ClientIP()}
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Error("http.request", args...)
		case status >= http.StatusBadRequest:
			s.logger.Warn("http.request", args...)
		default:
			s.logger.Debug("http.request", args...)
		}
	}
}

// recovery turns handler panics into a 500 response.
func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		s.logger.Error("http.panic", "route", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}
