// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verdict

import (
	"github.com/gin-gonic/gin"

	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/middleware"
)

// RegisterRoutes registers all verdict routes with the router group.
//
// Description:
//
//	Registers all /v1/verdict/* endpoints. The group should already have
//	APIKeyAuth applied; per-route role requirements are added here. The
//	rate limiter, when non-nil, covers the two ingestion endpoints only.
//
// Ingestion Endpoints:
//
//	POST /v1/verdict/forecasts - Submit a forecast (forecaster)
//	POST /v1/verdict/outcomes - Record an observed outcome (collector)
//
// Reconciliation and Aggregation Endpoints:
//
//	POST /v1/verdict/resolve - Resolve a forecast against an outcome (governance)
//	POST /v1/verdict/metrics/compute - Compute a scoped skill metric (governance)
//	GET  /v1/verdict/metrics - List a scope's metric series
//
// Stability Gate Endpoints:
//
//	POST /v1/verdict/windows - Open an observation window (governance)
//	POST /v1/verdict/windows/:id/evaluate - Run one cycle (governance)
//	POST /v1/verdict/windows/:id/clear - Clear an eligible window (governance)
//	GET  /v1/verdict/windows/:id - Window status
//
// Read and Audit Endpoints:
//
//	GET  /v1/verdict/forecasts/:id - Get forecast by ID
//	GET  /v1/verdict/outcomes/:id - Get outcome by ID
//	GET  /v1/verdict/pairs/:id - Get pair by ID
//	GET  /v1/verdict/audit/verify - Verify ledger hash chains
//	GET  /v1/verdict/evidence/sources - List the evidence allow-list
//	GET  /v1/verdict/health - Health check
//	GET  /v1/verdict/ready - Readiness check
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, limiter *middleware.RateLimiter) {
	verdict := rg.Group("/verdict")

	ingest := verdict.Group("")
	if limiter != nil {
		ingest.Use(limiter.Middleware())
	}
	ingest.POST("/forecasts", middleware.RequireRole(middleware.RoleForecaster), handlers.HandleSubmitForecast)
	ingest.POST("/outcomes", middleware.RequireRole(middleware.RoleCollector), handlers.HandleRecordOutcome)

	governance := middleware.RequireRole(middleware.RoleGovernance)
	verdict.POST("/resolve", governance, handlers.HandleResolve)
	verdict.POST("/metrics/compute", governance, handlers.HandleComputeMetrics)
	verdict.POST("/windows", governance, handlers.HandleOpenWindow)
	verdict.POST("/windows/:id/evaluate", governance, handlers.HandleEvaluateCycle)
	verdict.POST("/windows/:id/clear", governance, handlers.HandleClearWindow)

	verdict.GET("/metrics", handlers.HandleMetricSeries)
	verdict.GET("/windows/:id", handlers.HandleWindowStatus)
	verdict.GET("/forecasts/:id", handlers.HandleGetForecast)
	verdict.GET("/outcomes/:id", handlers.HandleGetOutcome)
	verdict.GET("/pairs/:id", handlers.HandleGetPair)
	verdict.GET("/audit/verify", handlers.HandleVerifyChains)
	verdict.GET("/evidence/sources", handlers.HandleEvidenceSources)
	verdict.GET("/health", handlers.HandleHealth)
	verdict.GET("/ready", handlers.HandleReady)
}
