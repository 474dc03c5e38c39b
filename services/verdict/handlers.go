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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/evidence"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/gate"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/ledger"
)

// Handlers contains the HTTP handlers for the verdict service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// writeError maps service errors onto the HTTP error taxonomy.
//
// Every handler funnels through here so the mapping stays in one place:
// validation 400, unknown records 404, evidence independence 403,
// already-resolved and gate-state conflicts 409, everything else 500.
func writeError(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError
	errCode := "INTERNAL"

	switch {
	case errors.Is(err, ErrValidation):
		statusCode = http.StatusBadRequest
		errCode = "VALIDATION_ERROR"
	case errors.Is(err, ErrOutcomeMismatch):
		statusCode = http.StatusBadRequest
		errCode = "OUTCOME_MISMATCH"
	case errors.Is(err, evidence.ErrIndependenceViolation):
		statusCode = http.StatusForbidden
		errCode = "EVIDENCE_INDEPENDENCE_VIOLATION"
	case errors.Is(err, ledger.ErrAlreadyResolved):
		statusCode = http.StatusConflict
		errCode = "ALREADY_RESOLVED"
	case errors.Is(err, ledger.ErrNotFound):
		statusCode = http.StatusNotFound
		errCode = "NOT_FOUND"
	case errors.Is(err, gate.ErrWindowClosed):
		statusCode = http.StatusConflict
		errCode = "WINDOW_CLOSED"
	case errors.Is(err, gate.ErrNotEligible):
		statusCode = http.StatusConflict
		errCode = "NOT_ELIGIBLE"
	case errors.Is(err, gate.ErrEvaluationInProgress):
		statusCode = http.StatusConflict
		errCode = "EVALUATION_IN_PROGRESS"
	case errors.Is(err, gate.ErrCycleGap):
		statusCode = http.StatusConflict
		errCode = "CYCLE_GAP"
	}

	c.JSON(statusCode, ErrorResponse{
		Error: err.Error(),
		Code:  errCode,
	})
}

// HandleSubmitForecast handles POST /v1/verdict/forecasts.
//
// Response:
//
//	200 OK: SubmitForecastResponse (Duplicate=true for an idempotent replay)
//	400 Bad Request: Validation error
func (h *Handlers) HandleSubmitForecast(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSubmitForecast")

	var req SubmitForecastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.SubmitForecast(c.Request.Context(), req)
	if err != nil {
		logger.Warn("Forecast submission failed", "error", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleRecordOutcome handles POST /v1/verdict/outcomes.
//
// Response:
//
//	200 OK: RecordOutcomeResponse
//	400 Bad Request: Validation error
//	403 Forbidden: Evidence source not causally independent
func (h *Handlers) HandleRecordOutcome(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRecordOutcome")

	var req RecordOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.RecordOutcome(c.Request.Context(), req)
	if err != nil {
		logger.Warn("Outcome recording failed", "error", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleResolve handles POST /v1/verdict/resolve.
//
// Response:
//
//	200 OK: ResolveResponse
//	404 Not Found: Unknown forecast or outcome id
//	409 Conflict: Forecast already resolved
func (h *Handlers) HandleResolve(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResolve")

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.Resolve(c.Request.Context(), req)
	if err != nil {
		logger.Warn("Resolution failed",
			"forecast_id", req.ForecastID, "outcome_id", req.OutcomeID, "error", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleComputeMetrics handles POST /v1/verdict/metrics/compute.
func (h *Handlers) HandleComputeMetrics(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleComputeMetrics")

	var req ComputeMetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.ComputeMetrics(c.Request.Context(), req)
	if err != nil {
		logger.Error("Metric computation failed", "error", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleMetricSeries handles GET /v1/verdict/metrics.
//
// Query params: scope_kind (required), scope_value, limit (default 50).
func (h *Handlers) HandleMetricSeries(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_REQUEST",
			})
			return
		}
		limit = n
	}

	resp, err := h.svc.MetricSeries(c.Request.Context(), c.Query("scope_kind"), c.Query("scope_value"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleOpenWindow handles POST /v1/verdict/windows.
func (h *Handlers) HandleOpenWindow(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleOpenWindow")

	var req OpenWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.OpenWindow(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleEvaluateCycle handles POST /v1/verdict/windows/:id/evaluate.
//
// Response:
//
//	200 OK: WindowResponse (idempotent for an already-evaluated cycle)
//	409 Conflict: Window closed, evaluation in progress, or cycle gap
func (h *Handlers) HandleEvaluateCycle(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEvaluateCycle")

	var req EvaluateCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.EvaluateCycle(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		logger.Warn("Cycle evaluation failed", "window_id", c.Param("id"), "error", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleClearWindow handles POST /v1/verdict/windows/:id/clear.
func (h *Handlers) HandleClearWindow(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleClearWindow")

	var req ClearWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.ClearWindow(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleWindowStatus handles GET /v1/verdict/windows/:id.
func (h *Handlers) HandleWindowStatus(c *gin.Context) {
	resp, err := h.svc.WindowStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleGetForecast handles GET /v1/verdict/forecasts/:id.
func (h *Handlers) HandleGetForecast(c *gin.Context) {
	f, err := h.svc.GetForecast(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

// HandleGetOutcome handles GET /v1/verdict/outcomes/:id.
func (h *Handlers) HandleGetOutcome(c *gin.Context) {
	o, err := h.svc.GetOutcome(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// HandleGetPair handles GET /v1/verdict/pairs/:id.
func (h *Handlers) HandleGetPair(c *gin.Context) {
	p, err := h.svc.GetPair(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// HandleVerifyChains handles GET /v1/verdict/audit/verify.
func (h *Handlers) HandleVerifyChains(c *gin.Context) {
	resp, err := h.svc.VerifyChains(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleEvidenceSources handles GET /v1/verdict/evidence/sources.
func (h *Handlers) HandleEvidenceSources(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.EvidenceSources())
}

// HandleHealth handles GET /v1/verdict/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/verdict/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	storageOK := h.svc.Store() != nil
	resp := ReadyResponse{Ready: storageOK, StorageOK: storageOK}
	if !resp.Ready {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
