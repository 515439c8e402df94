package middleware

import (
	"strconv"
	"time"

	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/metrics"

	"github.com/gin-gonic/gin"
)

/**
 * HTTP请求统计中间件
 * @description
 * - 统计本地状态服务收到的请求数量
 * - 区分成功和失败的请求
 * - 为健康检查接口提供请求数据
 */
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		statusCode := c.Writer.Status()
		// 路由模板，未匹配的请求记为 unknown
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		metrics.ObserveHTTPRequest(route, strconv.Itoa(statusCode), statusCode >= 400)
		logger.Debugf("%s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, statusCode, time.Since(start))
	}
}
