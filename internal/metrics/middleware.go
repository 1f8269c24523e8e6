package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPMetricsMiddleware пишет длительность и счетчик запросов по паре
// метод/маршрут. Запросы мимо зарегистрированных маршрутов сводятся в
// одну метку, чтобы не раздувать кардинальность по произвольным путям.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method

		c.Next()

		elapsed := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestDuration.WithLabelValues(method, route, status).Observe(elapsed)
		HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	}
}
