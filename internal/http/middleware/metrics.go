package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-ledger/internal/metrics"
)

// Metrics считает запросы и латентность по шаблону маршрута, а не по пути,
// чтобы id платежей не раздували кардинальность.
func Metrics(m *metrics.LedgerMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start).Seconds())
	}
}
