package services

import (
	"sync"
	"time"

	"pkgkeeper/internal/config"
	"pkgkeeper/internal/env"
	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/metrics"
	"pkgkeeper/internal/models"
)

/**
 * Local status server state
 * @description
 * - Answers health and check requests about the packages of one working copy
 * - Serializes mutating requests so they never overlap with each other
 */
type Server struct {
	cfg       *config.AppConfig
	packages  *PackageManager
	startTime time.Time
	mu        sync.Mutex
}

/**
 * Create new server instance
 * @param {config.AppConfig} cfg - Application configuration
 * @param {*PackageManager} packages - Package manager of the working copy
 * @returns {Server} Returns new server instance
 */
func NewServer(cfg *config.AppConfig, packages *PackageManager) *Server {
	return &Server{
		cfg:       cfg,
		packages:  packages,
		startTime: time.Now(),
	}
}

func (s *Server) Config() *config.AppConfig {
	return s.cfg
}

func (s *Server) Packages() *PackageManager {
	return s.packages
}

// Exclusive runs fn while no other mutating request is in progress.
func (s *Server) Exclusive(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

/**
 * Run a check of every local package
 * @returns {models.CheckResponse} Per package results and overall status
 * @description
 * - A package fails the check when it has an incomplete snapshot, or when
 *   its snapshots or migration ledger cannot be read
 * - An incomplete snapshot needs an operator, rollback refuses to pass it
 */
func (s *Server) Check() models.CheckResponse {
	response := models.CheckResponse{
		Timestamp: time.Now(),
		Packages:  []models.PackageCheckResult{},
	}
	pkgs, err := s.packages.List()
	if err != nil {
		logger.Errorf("Check: list packages failed: %v", err)
		response.OverallStatus = "error"
		return response
	}

	for _, pkg := range pkgs {
		result := models.PackageCheckResult{
			Alias:      pkg.Alias,
			Version:    pkg.Version,
			Repo:       pkg.Repo,
			Incomplete: []string{},
			Healthy:    true,
		}
		snaps, err := s.packages.Snapshots(pkg.Alias)
		if err != nil {
			result.Healthy = false
			result.Error = err.Error()
		}
		result.Snapshots = len(snaps)
		for _, snap := range snaps {
			if !snap.Complete {
				result.Incomplete = append(result.Incomplete, snap.Version)
				result.Healthy = false
			}
		}
		applied, err := s.packages.Migrations(pkg.Alias)
		if err != nil {
			result.Healthy = false
			result.Error = err.Error()
		}
		result.Migrations = len(applied)

		response.TotalChecks++
		if result.Healthy {
			response.PassedChecks++
		} else {
			response.FailedChecks++
		}
		response.Packages = append(response.Packages, result)
	}

	// 计算总体状态
	switch {
	case response.FailedChecks == 0:
		response.OverallStatus = "healthy"
	case response.PassedChecks == 0:
		response.OverallStatus = "error"
	default:
		response.OverallStatus = "warning"
	}
	return response
}

/**
* Get health check response for the server
* @returns {models.HealthResponse} Returns health check response with server status and metrics
* @description
* - Calculates server uptime from start time
* - Counts local packages and their snapshots
 */
func (s *Server) GetHealthz() models.HealthResponse {
	uptime := time.Since(s.startTime)

	packages, snapshots, incomplete := 0, 0, 0
	if pkgs, err := s.packages.List(); err == nil {
		packages = len(pkgs)
		for _, pkg := range pkgs {
			snaps, err := s.packages.Snapshots(pkg.Alias)
			if err != nil {
				continue
			}
			for _, snap := range snaps {
				snapshots++
				if !snap.Complete {
					incomplete++
				}
			}
		}
	} else {
		logger.Warnf("Healthz: list packages failed: %v", err)
	}

	return models.HealthResponse{
		Version:   env.Version,
		StartTime: s.startTime.Format(time.RFC3339),
		Status:    "UP",
		Uptime:    uptime.String(),
		Metrics: models.Metrics{
			TotalRequests:       metrics.GetTotalRequestCount(),
			ErrorRequests:       metrics.GetTotalErrorCount(),
			Packages:            packages,
			Snapshots:           snapshots,
			IncompleteSnapshots: incomplete,
		},
	}
}
