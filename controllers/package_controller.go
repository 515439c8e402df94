package controllers

import (
	"errors"
	"net/http"

	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/migration"
	"pkgkeeper/internal/models"
	"pkgkeeper/internal/rollback"
	"pkgkeeper/internal/rpc"
	"pkgkeeper/services"

	"github.com/gin-gonic/gin"
)

type PackageController struct {
	server *services.Server
}

/**
 * Create new Package controller instance
 * @param {*services.Server} server - Status server owning the package manager
 * @returns {*PackageController} New Package controller instance
 */
func NewPackageController(server *services.Server) *PackageController {
	return &PackageController{
		server: server,
	}
}

/**
 * Register all package API routes to Gin engine
 * @param {*gin.Engine} r - Gin router instance
 * @description
 * - Registers routes for:
 *   - Package listing and details
 *   - Snapshots and applied migrations
 *   - Remote upgrade and rollback
 */
func (p *PackageController) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	api.GET("/packages", p.ListPackages)
	api.GET("/packages/:alias", p.GetPackage)
	api.GET("/packages/:alias/snapshots", p.ListSnapshots)
	api.GET("/packages/:alias/migrations", p.ListMigrations)
	api.POST("/packages/:alias/upgrade", p.UpgradePackage)
	api.POST("/packages/:alias/rollback", p.RollbackPackage)
}

type upgradeRequest struct {
	Version string `json:"version"`
}

type rollbackRequest struct {
	To string `json:"to"`
}

type migrationFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type rollbackResponse struct {
	Alias           string             `json:"alias"`
	Version         string             `json:"version"`
	RestoredVersion string             `json:"restoredVersion"`
	Reverted        []string           `json:"reverted"`
	Failures        []migrationFailure `json:"failures"`
	FilesRestored   []string           `json:"filesRestored"`
	FilesRemoved    []string           `json:"filesRemoved"`
	Degraded        bool               `json:"degraded"`
}

func toRollbackResponse(res *rollback.Result) rollbackResponse {
	resp := rollbackResponse{
		Alias:           res.Alias,
		Version:         res.Version,
		RestoredVersion: res.RestoredVersion,
		Reverted:        res.Reverted,
		Failures:        []migrationFailure{},
		FilesRestored:   res.FilesRestored,
		FilesRemoved:    res.FilesRemoved,
		Degraded:        res.Degraded(),
	}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, migrationFailure{ID: f.ID, Error: f.Err.Error()})
	}
	return resp
}

/**
 * Write an error response with a stable code
 * @param {*gin.Context} g - Request context
 * @param {string} op - Operation prefix of the code
 * @param {error} err - Error to map
 */
func writeError(g *gin.Context, op string, err error) {
	status, code := http.StatusInternalServerError, op+".failed"
	var remote *rpc.RemoteError
	switch {
	case errors.Is(err, services.ErrPackageNotFound):
		status, code = http.StatusNotFound, "package.not_found"
	case errors.Is(err, rollback.ErrNoSuchSnapshot):
		status, code = http.StatusNotFound, "snapshot.not_found"
	case errors.Is(err, rollback.ErrIncompleteSnapshot):
		status, code = http.StatusConflict, "snapshot.incomplete"
	case errors.Is(err, services.ErrNotNewer), errors.Is(err, migration.ErrUnknownMigration):
		status, code = http.StatusConflict, op+".rejected"
	case errors.As(err, &remote):
		status, code = http.StatusBadGateway, "repository.rejected"
	case rpc.IsTransportError(err):
		status, code = http.StatusBadGateway, "repository.unreachable"
	}
	if status >= 500 {
		logger.Errorf("%s failed: %v", op, err)
	}
	g.JSON(status, models.ErrorResponse{Code: code, Message: err.Error()})
}

// @Summary 获取包列表
// @Description 获取所有本地包信息，按别名排序
// @Tags Packages
// @Produce json
// @Success 200 {array} models.LocalPackage
// @Router /api/v1/packages [get]
func (p *PackageController) ListPackages(g *gin.Context) {
	pkgs, err := p.server.Packages().List()
	if err != nil {
		writeError(g, "package.list", err)
		return
	}
	g.JSON(http.StatusOK, pkgs)
}

// @Summary 获取包详情
// @Tags Packages
// @Param alias path string true "包别名"
// @Success 200 {object} models.LocalPackage
// @Failure 404 {object} map[string]string "{"code": "package.not_found"}"
// @Router /api/v1/packages/{alias} [get]
func (p *PackageController) GetPackage(g *gin.Context) {
	pkg, err := p.server.Packages().Get(g.Param("alias"))
	if err != nil {
		writeError(g, "package.get", err)
		return
	}
	g.JSON(http.StatusOK, pkg)
}

// @Summary 获取快照列表
// @Description 按版本升序列出包的回滚快照，complete=false 表示快照缺少清单
// @Tags Packages
// @Param alias path string true "包别名"
// @Success 200 {array} models.SnapshotInfo
// @Router /api/v1/packages/{alias}/snapshots [get]
func (p *PackageController) ListSnapshots(g *gin.Context) {
	snaps, err := p.server.Packages().Snapshots(g.Param("alias"))
	if err != nil {
		writeError(g, "snapshot.list", err)
		return
	}
	if snaps == nil {
		g.JSON(http.StatusOK, []interface{}{})
		return
	}
	g.JSON(http.StatusOK, snaps)
}

// @Summary 获取已应用迁移
// @Tags Packages
// @Param alias path string true "包别名"
// @Success 200 {array} string
// @Router /api/v1/packages/{alias}/migrations [get]
func (p *PackageController) ListMigrations(g *gin.Context) {
	alias := g.Param("alias")
	if _, err := p.server.Packages().Get(alias); err != nil {
		writeError(g, "migration.list", err)
		return
	}
	applied, err := p.server.Packages().Migrations(alias)
	if err != nil {
		writeError(g, "migration.list", err)
		return
	}
	if applied == nil {
		applied = []string{}
	}
	g.JSON(http.StatusOK, applied)
}

// @Summary 升级包
// @Description 从包所属仓库下载升级包并应用，version 为空时升级到最新版本
// @Tags Packages
// @Param alias path string true "包别名"
// @Success 200 {object} models.RollbackManifest
// @Failure 409 {object} map[string]string "{"code": "package.upgrade.rejected"}"
// @Router /api/v1/packages/{alias}/upgrade [post]
func (p *PackageController) UpgradePackage(g *gin.Context) {
	var req upgradeRequest
	if g.Request.ContentLength > 0 {
		if err := g.ShouldBindJSON(&req); err != nil {
			g.JSON(http.StatusBadRequest, models.ErrorResponse{Code: "request.invalid", Message: err.Error()})
			return
		}
	}
	alias := g.Param("alias")
	pm := p.server.Packages()
	err := p.server.Exclusive(func() error {
		bundle, err := pm.FetchUpgrade(g.Request.Context(), alias, req.Version)
		if err != nil {
			return err
		}
		manifest, err := pm.Upgrade(g.Request.Context(), alias, bundle)
		if err != nil {
			return err
		}
		g.JSON(http.StatusOK, manifest)
		return nil
	})
	if err != nil {
		writeError(g, "package.upgrade", err)
	}
}

// @Summary 回滚包
// @Description 按快照回滚包；to 为空时只撤销最近一次升级
// @Tags Packages
// @Param alias path string true "包别名"
// @Success 200 {array} rollbackResponse
// @Failure 404 {object} map[string]string "{"code": "snapshot.not_found"}"
// @Failure 409 {object} map[string]string "{"code": "snapshot.incomplete"}"
// @Router /api/v1/packages/{alias}/rollback [post]
func (p *PackageController) RollbackPackage(g *gin.Context) {
	var req rollbackRequest
	if g.Request.ContentLength > 0 {
		if err := g.ShouldBindJSON(&req); err != nil {
			g.JSON(http.StatusBadRequest, models.ErrorResponse{Code: "request.invalid", Message: err.Error()})
			return
		}
	}
	alias := g.Param("alias")
	err := p.server.Exclusive(func() error {
		results, err := p.server.Packages().Rollback(g.Request.Context(), alias, req.To)
		if err != nil {
			return err
		}
		resp := make([]rollbackResponse, 0, len(results))
		for _, res := range results {
			resp = append(resp, toRollbackResponse(res))
		}
		g.JSON(http.StatusOK, resp)
		return nil
	})
	if err != nil {
		writeError(g, "package.rollback", err)
	}
}
