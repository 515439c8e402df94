package models

import (
	"time"
)

// PackageCheckResult 包检查结果
// @Description 单个包的版本、快照与迁移状态
type PackageCheckResult struct {
	Alias      string   `json:"alias" example:"demo" description:"包别名"`
	Version    string   `json:"version" example:"1.1.0" description:"当前版本"`
	Repo       string   `json:"repo" example:"main" description:"所属仓库"`
	Snapshots  int      `json:"snapshots" example:"2" description:"快照数"`
	Incomplete []string `json:"incomplete" description:"缺少清单的快照版本"`
	Migrations int      `json:"migrations" example:"3" description:"已应用迁移数"`
	Healthy    bool     `json:"healthy" example:"true" description:"是否健康"`
	Error      string   `json:"error,omitempty" description:"检查失败原因"`
}

// CheckResponse 检查API响应结构
// @Description 系统检查API响应数据结构
type CheckResponse struct {
	Timestamp     time.Time            `json:"timestamp" example:"2024-01-01T10:00:00Z" description:"检查时间戳"`
	Packages      []PackageCheckResult `json:"packages" description:"包检查结果列表"`
	OverallStatus string               `json:"overallStatus" example:"healthy" description:"总体状态"`
	TotalChecks   int                  `json:"totalChecks" example:"10" description:"总检查项数"`
	PassedChecks  int                  `json:"passedChecks" example:"8" description:"通过检查项数"`
	FailedChecks  int                  `json:"failedChecks" example:"2" description:"失败检查项数"`
}
