package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Promptonauts/artdash/pkg/observability"
)

const HeaderRequestID = "X-Request-ID"

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(observability.FieldRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func requestIDOf(c *gin.Context) string {
	return c.GetString(observability.FieldRequestID)
}

// requestLogger returns the server logger tagged with the request id.
func (s *Server) requestLogger(c *gin.Context) *slog.Logger {
	return s.logger.With(observability.FieldRequestID, requestIDOf(c))
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		s.requestLogger(c).Error("panic while serving request",
			"path", c.Request.URL.Path, observability.FieldError, fmt.Sprint(recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, envelope("error", "Internal server error"))
	})
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(c.Request.Context(), level, "request",
			observability.FieldRequestID, requestIDOf(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			observability.FieldStatus, status,
			observability.FieldDuration, time.Since(start),
			"bytes", c.Writer.Size(),
		)
	}
}

// instrument records per-route request counts, errors and latency. Routes are
// keyed by their pattern so /v1/builds/:id is one series.
func (s *Server) instrument() gin.HandlerFunc {
	inFlight := s.metrics.Gauge(observability.MetricHTTPInFlight)
	return func(c *gin.Context) {
		inFlight.Inc()
		defer inFlight.Dec()
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		s.metrics.Counter(observability.Name(observability.MetricHTTPRequests, c.Request.Method, route, status)).Inc()
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.metrics.Counter(observability.Name(observability.MetricHTTPErrors, c.Request.Method, route)).Inc()
		}
		s.metrics.Histogram(observability.Name(observability.MetricHTTPLatencyMs, route)).
			Observe(float64(time.Since(start).Microseconds()) / 1000)
	}
}
