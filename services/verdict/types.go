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
	"encoding/json"
	"time"

	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/datatypes"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/evidence"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/ledger"
)

// SubmitForecastRequest is the request body for POST /v1/verdict/forecasts.
type SubmitForecastRequest struct {
	// Kind is the forecast kind (regime, price-direction, ...). Required.
	Kind string `json:"kind" binding:"required"`

	// Source identifies the producing agent or model. Required.
	Source string `json:"source" binding:"required"`

	// Domain is the asset or subject the forecast is about. Required.
	Domain string `json:"domain" binding:"required"`

	// Value is the predicted value (text or categorical). Required.
	Value string `json:"value" binding:"required"`

	// Probability is the forecaster's probability in [0,1]. Required;
	// pointer so an explicit 0 survives binding.
	Probability *float64 `json:"probability" binding:"required"`

	// Confidence is an optional confidence in [0,1].
	Confidence *float64 `json:"confidence"`

	// Horizon is the forecast horizon as a Go duration string ("24h").
	// Required, must be positive.
	Horizon string `json:"horizon" binding:"required"`

	// SnapshotRef is the hex digest of the system state the forecast was
	// conditioned on. Required.
	SnapshotRef string `json:"snapshot_ref" binding:"required"`

	// ModelID and ModelVersion identify the producing model. Optional.
	ModelID      string `json:"model_id"`
	ModelVersion string `json:"model_version"`
}

// SubmitForecastResponse is the response for POST /v1/verdict/forecasts.
type SubmitForecastResponse struct {
	// ForecastID is the ledger id of the forecast. For a duplicate
	// submission this is the id of the original record.
	ForecastID string `json:"forecast_id"`

	// ContentHash is the forecast's canonical content hash.
	ContentHash string `json:"content_hash"`

	// Duplicate is true when an identical payload was already in the
	// ledger and no new record was created.
	Duplicate bool `json:"duplicate"`

	// ValidUntil is the end of the forecast's validity window.
	ValidUntil time.Time `json:"valid_until"`
}

// RecordOutcomeRequest is the request body for POST /v1/verdict/outcomes.
type RecordOutcomeRequest struct {
	// Kind mirrors the forecast kinds. Required.
	Kind string `json:"kind" binding:"required"`

	// Domain is the observed subject. Required.
	Domain string `json:"domain" binding:"required"`

	// Value is the observed value. Required.
	Value string `json:"value" binding:"required"`

	// ObservedAt is when the realization was observed. Defaults to now.
	ObservedAt time.Time `json:"observed_at"`

	// EvidenceSource identifies where the observation came from. Must be
	// on the causally-independent allow-list. Required.
	EvidenceSource string `json:"evidence_source" binding:"required"`

	// EvidencePayload is the raw supporting evidence. Optional.
	EvidencePayload json.RawMessage `json:"evidence_payload"`
}

// RecordOutcomeResponse is the response for POST /v1/verdict/outcomes.
type RecordOutcomeResponse struct {
	OutcomeID   string `json:"outcome_id"`
	ContentHash string `json:"content_hash"`
	Duplicate   bool   `json:"duplicate"`
}

// ResolveRequest is the request body for POST /v1/verdict/resolve.
type ResolveRequest struct {
	ForecastID string `json:"forecast_id" binding:"required"`
	OutcomeID  string `json:"outcome_id" binding:"required"`

	// AlignmentMethod selects how forecast and outcome values are
	// compared. Default: "exact".
	AlignmentMethod string `json:"alignment_method"`
}

// ResolveResponse is the response for POST /v1/verdict/resolve.
type ResolveResponse struct {
	Pair datatypes.Pair `json:"pair"`

	// ResolutionStatus is the forecast's final status.
	ResolutionStatus datatypes.ResolutionStatus `json:"resolution_status"`
}

// ComputeMetricsRequest is the request body for POST /v1/verdict/metrics/compute.
type ComputeMetricsRequest struct {
	// ScopeKind selects the rollup slice: global, agent, domain, kind,
	// model, or period. Required.
	ScopeKind string `json:"scope_kind" binding:"required"`

	// ScopeValue is the slice value; empty for global and period scopes.
	ScopeValue string `json:"scope_value"`

	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
}

// MetricResponse wraps one computed metric.
type MetricResponse struct {
	Metric datatypes.Metric `json:"metric"`
}

// MetricSeriesResponse is the response for GET /v1/verdict/metrics.
type MetricSeriesResponse struct {
	Scope   string             `json:"scope"`
	Metrics []datatypes.Metric `json:"metrics"`
}

// OpenWindowRequest is the request body for POST /v1/verdict/windows.
type OpenWindowRequest struct {
	ScopeKind  string `json:"scope_kind" binding:"required"`
	ScopeValue string `json:"scope_value"`

	// FrozenParams is the parameter set that must not change for the
	// window's duration. Required.
	FrozenParams map[string]string `json:"frozen_params" binding:"required"`

	// MinCycles is the consecutive stable cycles required for
	// eligibility. Required, >= 1.
	MinCycles int `json:"min_cycles" binding:"required"`

	// Tolerance is the maximum Brier-mean deviation from the rolling
	// baseline counted as stable. Required, > 0.
	Tolerance float64 `json:"tolerance" binding:"required"`

	// CycleBudget bounds one evaluation, as a Go duration string.
	// Default: "30s".
	CycleBudget string `json:"cycle_budget"`
}

// EvaluateCycleRequest is the request body for
// POST /v1/verdict/windows/:id/evaluate.
type EvaluateCycleRequest struct {
	// Cycle is the 1-based cycle number. Evaluation is idempotent per
	// cycle number. Required.
	Cycle int `json:"cycle" binding:"required"`

	// Params is the current value of the frozen parameter set.
	Params map[string]string `json:"params" binding:"required"`

	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
}

// ClearWindowRequest is the request body for
// POST /v1/verdict/windows/:id/clear.
type ClearWindowRequest struct {
	// Reason is the governance justification recorded on the window.
	Reason string `json:"reason" binding:"required"`
}

// WindowResponse is the response for the window endpoints.
type WindowResponse struct {
	Window datatypes.Window `json:"window"`

	// Eligible is true once the window has proven stability for its
	// configured minimum run of cycles.
	Eligible bool `json:"eligible"`
}

// AuditResponse is the response for GET /v1/verdict/audit/verify.
type AuditResponse struct {
	// Valid is true when every ledger chain verified end to end.
	Valid bool `json:"valid"`

	Chains []ledger.ChainReport `json:"chains"`
}

// EvidenceSourcesResponse lists the evidence allow-list.
type EvidenceSourcesResponse struct {
	Sources []evidence.Source `json:"sources"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// HealthResponse is the response for GET /v1/verdict/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is the response for GET /v1/verdict/ready.
type ReadyResponse struct {
	Ready bool `json:"ready"`

	// StorageOK reports whether the ledger store is open.
	StorageOK bool `json:"storage_ok"`
}
