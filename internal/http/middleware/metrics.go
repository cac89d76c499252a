package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/coursebuilder/internal/observability"
)

// Metrics records request count and latency per route. Event streams are
// counted but kept out of the latency histogram, their duration is the
// subscriber's session length.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		m.ApiInflightInc()
		defer m.ApiInflightDec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		if isEventStream(c) {
			m.ObserveAPIStream(c.Request.Method, route, status)
			return
		}
		m.ObserveAPI(c.Request.Method, route, status, time.Since(start))
	}
}
