// Observability middleware: request metrics, logging and the metrics route
package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annoserv/annostore/internal/logger"
)

// observe records per-request metrics and a structured log line. The route
// template, not the raw path, labels the metrics to keep cardinality
// bounded.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		s.met.HTTPRequestsInFlight.Inc()
		defer s.met.HTTPRequestsInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		duration := time.Since(start)
		status := c.Writer.Status()

		s.met.RecordHTTPRequest(route, strconv.Itoa(status), duration)
		logger.LogRequest(s.log, c.Request.Method, c.Request.URL.Path, status, duration)
	}
}

// metricsHandler exposes the given registry in Prometheus text format.
func metricsHandler(reg *prometheus.Registry) gin.HandlerFunc {
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
