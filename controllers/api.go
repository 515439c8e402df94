package controllers

import (
	"pkgkeeper/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type APIController struct {
	server *services.Server
}

/**
 * Create new API controller instance
 * @param {*services.Server} server - Status server answering health and check requests
 * @returns {*APIController} New API controller instance
 */
func NewAPIController(server *services.Server) *APIController {
	return &APIController{
		server: server,
	}
}

/**
 * Register all API routes to Gin engine
 * @param {*gin.Engine} r - Gin router instance
 * @description
 * - Registers health, check and Prometheus metrics routes
 */
func (a *APIController) RegisterRoutes(r *gin.Engine) {
	r.POST("/api/v1/check", a.Check)
	r.GET("/healthz", a.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// @Summary 执行包检查
// @Description 检查所有本地包的快照和迁移状态，不完整的快照会使检查失败
// @Tags System
// @Produce json
// @Success 200 {object} models.CheckResponse
// @Router /api/v1/check [post]
func (a *APIController) Check(c *gin.Context) {
	response := a.server.Check()
	c.JSON(200, response)
}

// @Summary 业务就绪探针
// @Description 返回服务版本、启动时间、健康状态和关键指标统计结果
// @Tags System
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Router /healthz [get]
func (a *APIController) Healthz(c *gin.Context) {
	response := a.server.GetHealthz()
	c.JSON(200, response)
}
