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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/datatypes"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/evidence"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/ledger"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/middleware"
	storage "github.com/ArbiterAI/ArbiterFOSS/services/verdict/storage/badger"
)

var snapshotRef = strings.Repeat("ab", 32)

// Per-role API keys for the test router.
const (
	keyForecaster = "test-forecaster-key"
	keyCollector  = "test-collector-key"
	keyGovernance = "test-governance-key"
	keyAdmin      = "test-admin-key"
)

var testEpoch = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	store := ledger.New(db)
	t.Cleanup(func() { _ = store.Close() })

	registry, err := evidence.NewRegistry(nil)
	require.NoError(t, err)

	tick := testEpoch
	svc, err := NewService(Config{
		Store:    store,
		Registry: registry,
		Now: func() time.Time {
			tick = tick.Add(time.Second)
			return tick
		},
	})
	require.NoError(t, err)

	router := gin.New()
	v1 := router.Group("/v1")
	v1.Use(middleware.APIKeyAuth(map[string]middleware.Role{
		keyForecaster: middleware.RoleForecaster,
		keyCollector:  middleware.RoleCollector,
		keyGovernance: middleware.RoleGovernance,
		keyAdmin:      middleware.RoleAdmin,
	}))
	RegisterRoutes(v1, NewHandlers(svc), nil)
	return router
}

// do performs one request against the router and decodes the JSON reply.
func do(t *testing.T, router *gin.Engine, method, path, apiKey string, body, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(middleware.APIKeyHeader, apiKey)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if out != nil && w.Code < 500 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w
}

func submitForecastReq(p float64) SubmitForecastRequest {
	return SubmitForecastRequest{
		Kind:        "price-direction",
		Source:      "regime-agent",
		Domain:      "btc-usd",
		Value:       "BULL",
		Probability: &p,
		Horizon:     "24h",
		SnapshotRef: snapshotRef,
	}
}

// =============================================================================
// End-to-end lifecycle
// =============================================================================

// TestForecastLifecycle walks one forecast from submission through outcome,
// resolution, aggregation, and audit.
func TestForecastLifecycle(t *testing.T) {
	router := newTestRouter(t)

	// Submit as forecaster. Domain is sanitized to upper case.
	var submitted SubmitForecastResponse
	w := do(t, router, http.MethodPost, "/v1/verdict/forecasts", keyForecaster, submitForecastReq(0.7), &submitted)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, submitted.ForecastID)
	assert.False(t, submitted.Duplicate)
	assert.Len(t, submitted.ContentHash, 64)

	var fetched datatypes.Forecast
	w = do(t, router, http.MethodGet, "/v1/verdict/forecasts/"+submitted.ForecastID, keyForecaster, nil, &fetched)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "BTC-USD", fetched.Domain)
	assert.Equal(t, datatypes.ResolutionPending, fetched.Resolution)

	// Record the realized outcome inside the validity window.
	var recorded RecordOutcomeResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/outcomes", keyCollector, RecordOutcomeRequest{
		Kind:           "price-direction",
		Domain:         "BTC-USD",
		Value:          "BULL",
		ObservedAt:     fetched.MadeAt.Add(2 * time.Hour),
		EvidenceSource: "independent-price-feed",
	}, &recorded)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Resolve as governance.
	var resolved ResolveResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/resolve", keyGovernance, ResolveRequest{
		ForecastID: submitted.ForecastID,
		OutcomeID:  recorded.OutcomeID,
	}, &resolved)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, datatypes.ResolutionCorrect, resolved.ResolutionStatus)
	assert.True(t, resolved.Pair.Hit)
	assert.True(t, resolved.Pair.WithinWindow)
	assert.InDelta(t, 0.09, resolved.Pair.Brier, 1e-12)
	assert.InDelta(t, 0.3567, resolved.Pair.LogScore, 1e-4)
	assert.Equal(t, 2*time.Hour, resolved.Pair.LeadTime)

	// A second resolution attempt conflicts.
	var errResp ErrorResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/resolve", keyGovernance, ResolveRequest{
		ForecastID: submitted.ForecastID,
		OutcomeID:  recorded.OutcomeID,
	}, &errResp)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_RESOLVED", errResp.Code)

	// Aggregate the period containing the forecast.
	var metric MetricResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/metrics/compute", keyGovernance, ComputeMetricsRequest{
		ScopeKind:   "domain",
		ScopeValue:  "BTC-USD",
		PeriodStart: fetched.MadeAt.Add(-time.Hour),
		PeriodEnd:   fetched.MadeAt.Add(time.Hour),
	}, &metric)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, metric.Metric.ResolvedCount)
	require.NotNil(t, metric.Metric.BrierMean)
	assert.InDelta(t, 0.09, *metric.Metric.BrierMean, 1e-12)
	require.NotNil(t, metric.Metric.HitRate)
	assert.InDelta(t, 1.0, *metric.Metric.HitRate, 1e-12)

	// The ledger chains verify end to end.
	var audit AuditResponse
	w = do(t, router, http.MethodGet, "/v1/verdict/audit/verify", keyGovernance, nil, &audit)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, audit.Valid)
	assert.Len(t, audit.Chains, 3)
}

// TestSubmitForecastDuplicate verifies an identical resubmission in the
// same instant returns the original record id with Duplicate set.
func TestSubmitForecastDuplicate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	store := ledger.New(db)
	t.Cleanup(func() { _ = store.Close() })
	registry, err := evidence.NewRegistry(nil)
	require.NoError(t, err)

	// Fixed clock: a retried submission carries the same made-at and the
	// same content hash.
	svc, err := NewService(Config{
		Store:    store,
		Registry: registry,
		Now:      func() time.Time { return testEpoch },
	})
	require.NoError(t, err)

	router := gin.New()
	v1 := router.Group("/v1")
	v1.Use(middleware.APIKeyAuth(map[string]middleware.Role{keyForecaster: middleware.RoleForecaster}))
	RegisterRoutes(v1, NewHandlers(svc), nil)

	var first SubmitForecastResponse
	w := do(t, router, http.MethodPost, "/v1/verdict/forecasts", keyForecaster, submitForecastReq(0.7), &first)
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, first.Duplicate)

	var second SubmitForecastResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/forecasts", keyForecaster, submitForecastReq(0.7), &second)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ForecastID, second.ForecastID)
	assert.Equal(t, first.ContentHash, second.ContentHash)

	// A changed probability is a distinct forecast, not a duplicate.
	var third SubmitForecastResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/forecasts", keyForecaster, submitForecastReq(0.8), &third)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, third.Duplicate)
	assert.NotEqual(t, first.ForecastID, third.ForecastID)
}

func TestSubmitForecastValidation(t *testing.T) {
	router := newTestRouter(t)

	bad := submitForecastReq(1.5)
	var errResp ErrorResponse
	w := do(t, router, http.MethodPost, "/v1/verdict/forecasts", keyForecaster, bad, &errResp)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errResp.Code)

	bad = submitForecastReq(0.7)
	bad.SnapshotRef = "not-a-digest"
	w = do(t, router, http.MethodPost, "/v1/verdict/forecasts", keyForecaster, bad, &errResp)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bad = submitForecastReq(0.7)
	bad.Horizon = "-24h"
	w = do(t, router, http.MethodPost, "/v1/verdict/forecasts", keyForecaster, bad, &errResp)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Missing required fields fail binding.
	w = do(t, router, http.MethodPost, "/v1/verdict/forecasts", keyForecaster, map[string]string{"kind": "regime"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errResp.Code)
}

// =============================================================================
// Evidence independence
// =============================================================================

// TestEvidenceIndependenceNoBypass verifies forecast-derived evidence is
// rejected for every credential, including admin.
func TestEvidenceIndependenceNoBypass(t *testing.T) {
	router := newTestRouter(t)

	outcome := RecordOutcomeRequest{
		Kind:           "price-direction",
		Domain:         "BTC-USD",
		Value:          "BULL",
		EvidenceSource: "regime-model-state",
	}

	for _, key := range []string{keyCollector, keyAdmin} {
		var errResp ErrorResponse
		w := do(t, router, http.MethodPost, "/v1/verdict/outcomes", key, outcome, &errResp)
		assert.Equal(t, http.StatusForbidden, w.Code, "key %s", key)
		assert.Equal(t, "EVIDENCE_INDEPENDENCE_VIOLATION", errResp.Code, "key %s", key)
	}

	// Unknown sources are denied by default.
	outcome.EvidenceSource = "my-new-feed"
	var errResp ErrorResponse
	w := do(t, router, http.MethodPost, "/v1/verdict/outcomes", keyAdmin, outcome, &errResp)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "EVIDENCE_INDEPENDENCE_VIOLATION", errResp.Code)
}

// =============================================================================
// Authn and authz
// =============================================================================

func TestAuthRequired(t *testing.T) {
	router := newTestRouter(t)

	var errResp ErrorResponse
	w := do(t, router, http.MethodPost, "/v1/verdict/forecasts", "", submitForecastReq(0.7), &errResp)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errResp.Code)

	w = do(t, router, http.MethodPost, "/v1/verdict/forecasts", "wrong-key", submitForecastReq(0.7), &errResp)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoleEnforcement(t *testing.T) {
	router := newTestRouter(t)

	// A collector key cannot submit forecasts.
	var errResp ErrorResponse
	w := do(t, router, http.MethodPost, "/v1/verdict/forecasts", keyCollector, submitForecastReq(0.7), &errResp)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errResp.Code)

	// A forecaster key cannot resolve.
	w = do(t, router, http.MethodPost, "/v1/verdict/resolve", keyForecaster, ResolveRequest{
		ForecastID: "x", OutcomeID: "y",
	}, &errResp)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Admin satisfies every role requirement.
	var resp SubmitForecastResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/forecasts", keyAdmin, submitForecastReq(0.7), &resp)
	assert.Equal(t, http.StatusOK, w.Code)
}

// =============================================================================
// Mismatches and unknowns
// =============================================================================

func TestResolveOutcomeMismatch(t *testing.T) {
	router := newTestRouter(t)

	var submitted SubmitForecastResponse
	w := do(t, router, http.MethodPost, "/v1/verdict/forecasts", keyForecaster, submitForecastReq(0.7), &submitted)
	require.Equal(t, http.StatusOK, w.Code)

	var recorded RecordOutcomeResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/outcomes", keyCollector, RecordOutcomeRequest{
		Kind:           "price-direction",
		Domain:         "ETH-USD",
		Value:          "BULL",
		EvidenceSource: "independent-price-feed",
	}, &recorded)
	require.Equal(t, http.StatusOK, w.Code)

	var errResp ErrorResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/resolve", keyGovernance, ResolveRequest{
		ForecastID: submitted.ForecastID,
		OutcomeID:  recorded.OutcomeID,
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "OUTCOME_MISMATCH", errResp.Code)

	// The forecast stays pending after the mismatch.
	var fetched datatypes.Forecast
	w = do(t, router, http.MethodGet, "/v1/verdict/forecasts/"+submitted.ForecastID, keyForecaster, nil, &fetched)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, datatypes.ResolutionPending, fetched.Resolution)
}

func TestResolveUnknownForecast(t *testing.T) {
	router := newTestRouter(t)
	var errResp ErrorResponse
	w := do(t, router, http.MethodPost, "/v1/verdict/resolve", keyGovernance, ResolveRequest{
		ForecastID: "missing", OutcomeID: "missing",
	}, &errResp)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errResp.Code)
}

// TestResolveExpired verifies an outcome observed after the validity
// window resolves as expired with no hit.
func TestResolveExpired(t *testing.T) {
	router := newTestRouter(t)

	var submitted SubmitForecastResponse
	w := do(t, router, http.MethodPost, "/v1/verdict/forecasts", keyForecaster, submitForecastReq(0.7), &submitted)
	require.Equal(t, http.StatusOK, w.Code)

	var recorded RecordOutcomeResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/outcomes", keyCollector, RecordOutcomeRequest{
		Kind:           "price-direction",
		Domain:         "BTC-USD",
		Value:          "BULL",
		ObservedAt:     submitted.ValidUntil.Add(time.Hour),
		EvidenceSource: "independent-price-feed",
	}, &recorded)
	require.Equal(t, http.StatusOK, w.Code)

	var resolved ResolveResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/resolve", keyGovernance, ResolveRequest{
		ForecastID: submitted.ForecastID,
		OutcomeID:  recorded.OutcomeID,
	}, &resolved)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, datatypes.ResolutionExpired, resolved.ResolutionStatus)
	assert.False(t, resolved.Pair.WithinWindow)
	assert.False(t, resolved.Pair.Hit)
}

// =============================================================================
// Windows over HTTP
// =============================================================================

func TestWindowLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	params := map[string]string{"model": "regime-v3"}

	var opened WindowResponse
	w := do(t, router, http.MethodPost, "/v1/verdict/windows", keyGovernance, OpenWindowRequest{
		ScopeKind:    "domain",
		ScopeValue:   "BTC-USD",
		FrozenParams: params,
		MinCycles:    1,
		Tolerance:    0.05,
	}, &opened)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, datatypes.WindowInitiated, opened.Window.Status)
	assert.False(t, opened.Eligible)

	// Seed one resolved forecast for the cycle period.
	var submitted SubmitForecastResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/forecasts", keyForecaster, submitForecastReq(0.7), &submitted)
	require.Equal(t, http.StatusOK, w.Code)
	madeAt := submitted.ValidUntil.Add(-24 * time.Hour)

	var recorded RecordOutcomeResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/outcomes", keyCollector, RecordOutcomeRequest{
		Kind:           "price-direction",
		Domain:         "BTC-USD",
		Value:          "BULL",
		ObservedAt:     madeAt.Add(time.Hour),
		EvidenceSource: "independent-price-feed",
	}, &recorded)
	require.Equal(t, http.StatusOK, w.Code)

	var resolved ResolveResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/resolve", keyGovernance, ResolveRequest{
		ForecastID: submitted.ForecastID,
		OutcomeID:  recorded.OutcomeID,
	}, &resolved)
	require.Equal(t, http.StatusOK, w.Code)

	var evaluated WindowResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/windows/"+opened.Window.ID+"/evaluate", keyGovernance, EvaluateCycleRequest{
		Cycle:       1,
		Params:      params,
		PeriodStart: madeAt.Add(-time.Hour),
		PeriodEnd:   madeAt.Add(time.Hour),
	}, &evaluated)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, datatypes.WindowEligible, evaluated.Window.Status)
	assert.True(t, evaluated.Eligible)

	var cleared WindowResponse
	w = do(t, router, http.MethodPost, "/v1/verdict/windows/"+opened.Window.ID+"/clear", keyGovernance, ClearWindowRequest{
		Reason: "promotion approved",
	}, &cleared)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, datatypes.WindowCleared, cleared.Window.Status)

	var status WindowResponse
	w = do(t, router, http.MethodGet, "/v1/verdict/windows/"+opened.Window.ID, keyForecaster, nil, &status)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, datatypes.WindowCleared, status.Window.Status)
}

// =============================================================================
// Plumbing
// =============================================================================

func TestHealthAndReady(t *testing.T) {
	router := newTestRouter(t)

	var health HealthResponse
	w := do(t, router, http.MethodGet, "/v1/verdict/health", keyForecaster, nil, &health)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, ServiceVersion, health.Version)

	var ready ReadyResponse
	w = do(t, router, http.MethodGet, "/v1/verdict/ready", keyForecaster, nil, &ready)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ready.Ready)
	assert.True(t, ready.StorageOK)
}

func TestEvidenceSourcesEndpoint(t *testing.T) {
	router := newTestRouter(t)

	var resp EvidenceSourcesResponse
	w := do(t, router, http.MethodGet, "/v1/verdict/evidence/sources", keyForecaster, nil, &resp)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, resp.Sources)
	ids := make([]string, 0, len(resp.Sources))
	for _, s := range resp.Sources {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, strings.Join(ids, ","), "independent-price-feed")
}

func TestRequestIDEcho(t *testing.T) {
	router := newTestRouter(t)

	var body bytes.Buffer
	require.NoError(t, json.NewEncoder(&body).Encode(submitForecastReq(0.7)))
	req := httptest.NewRequest(http.MethodPost, "/v1/verdict/forecasts", &body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.APIKeyHeader, keyForecaster)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}
