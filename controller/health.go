// Package controller hosts the non-relay HTTP surface: health and status.
package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/proxed/gateway/common"
	"github.com/proxed/gateway/model"
	"github.com/proxed/gateway/relay/breaker"
)

// StartTime is stamped at process start for uptime reporting.
var StartTime = time.Now()

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// dependencyStatus is one entry in the health report.
type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// GetHealth reports gateway health. The database is load-bearing: when it is
// down the report is unhealthy and the status code 503. Redis outages and
// open breakers only degrade the report, traffic still flows.
func GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	overall := statusHealthy
	deps := gin.H{}

	db := dependencyStatus{Status: statusHealthy}
	if err := model.PingDB(); err != nil {
		db = dependencyStatus{Status: statusUnhealthy, Error: err.Error()}
		overall = statusUnhealthy
	}
	deps["database"] = db

	if common.IsRedisEnabled() {
		rd := dependencyStatus{Status: statusHealthy}
		if err := common.PingRedis(ctx); err != nil {
			rd = dependencyStatus{Status: statusDegraded, Error: err.Error()}
			if overall == statusHealthy {
				overall = statusDegraded
			}
		}
		deps["redis"] = rd
	}

	breakers := gin.H{}
	for _, snap := range breaker.Snapshots() {
		entry := gin.H{
			"state":    snap.State,
			"failures": snap.Failures,
		}
		if !snap.LastFailure.IsZero() {
			entry["last_failure"] = snap.LastFailure.UTC().Format(time.RFC3339)
		}
		if !snap.NextRetry.IsZero() {
			entry["next_retry"] = snap.NextRetry.UTC().Format(time.RFC3339)
		}
		breakers[snap.Name] = entry

		if snap.State != breaker.StateClosed.String() && overall == statusHealthy {
			overall = statusDegraded
		}
	}

	code := http.StatusOK
	if overall == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":         overall,
		"uptime_seconds": int64(time.Since(StartTime).Seconds()),
		"dependencies":   deps,
		"breakers":       breakers,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
