// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verdict is the forecast verification and skill-scoring service.
//
// It owns four collaborating parts: the append-only forecast and outcome
// ledgers, the reconciliation engine that scores forecasts against
// independently observed outcomes, the skill metrics aggregator, and the
// stability gate. Data flows one way through them: forecasters write
// forecasts, evidence collectors write outcomes, reconciliation writes
// pairs, aggregation writes metrics, and the gate reads metrics to decide
// eligibility for an external governance process.
package verdict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ArbiterAI/ArbiterFOSS/pkg/validation"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/aggregate"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/datatypes"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/evidence"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/gate"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/hashing"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/ledger"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/observability"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/scoring"
)

// ServiceVersion is the verdict service version.
const ServiceVersion = "0.1.0"

// DefaultCycleBudget bounds one stability-gate cycle evaluation when the
// caller does not set one.
const DefaultCycleBudget = 30 * time.Second

// Service implements the verdict operations over the ledger store.
//
// Thread Safety: safe for concurrent use. Ledger appends are independent
// inserts deduplicated by content hash; resolution runs in a single
// serializable transaction; gate evaluation is single-writer per window.
type Service struct {
	store    *ledger.Store
	registry *evidence.Registry
	agg      *aggregate.Aggregator
	gate     *gate.Gate
	metrics  *observability.VerdictMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// Config wires a Service. Store and Registry are required; the rest
// default sensibly.
type Config struct {
	Store    *ledger.Store
	Registry *evidence.Registry
	Metrics  *observability.VerdictMetrics
	Logger   *slog.Logger

	// Now is the clock used for every timestamp the service writes.
	// Injectable so resolution and cycle evaluation are deterministic in
	// tests. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates the verdict service and its aggregator and gate.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("verdict: store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("verdict: evidence registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	agg := aggregate.New(cfg.Store, logger, now)
	return &Service{
		store:    cfg.Store,
		registry: cfg.Registry,
		agg:      agg,
		gate:     gate.New(cfg.Store, agg, logger, now),
		metrics:  cfg.Metrics,
		logger:   logger,
		now:      now,
	}, nil
}

// Store exposes the underlying ledger store for health checks.
func (s *Service) Store() *ledger.Store { return s.store }

// =============================================================================
// Ingestion
// =============================================================================

// SubmitForecast validates and appends one forecast.
//
// Description:
//
//	Validation happens entirely before persistence; a rejected forecast
//	leaves no trace. An identical payload already in the ledger is not an
//	error: the original record's id comes back with Duplicate set, so
//	concurrent retries are idempotent.
func (s *Service) SubmitForecast(ctx context.Context, req SubmitForecastRequest) (SubmitForecastResponse, error) {
	f, err := s.buildForecast(req)
	if err != nil {
		s.countAppend("forecast", "rejected")
		return SubmitForecastResponse{}, err
	}

	stored, created, err := s.store.AppendForecast(ctx, f)
	if err != nil {
		return SubmitForecastResponse{}, fmt.Errorf("append forecast: %w", err)
	}
	if created {
		s.countAppend("forecast", "created")
		s.logger.Info("forecast submitted",
			slog.String("forecast_id", stored.ID),
			slog.String("source", stored.Source),
			slog.String("domain", stored.Domain),
			slog.String("kind", string(stored.Kind)))
	} else {
		s.countAppend("forecast", "duplicate")
	}

	return SubmitForecastResponse{
		ForecastID:  stored.ID,
		ContentHash: stored.ContentHash,
		Duplicate:   !created,
		ValidUntil:  stored.ValidUntil,
	}, nil
}

func (s *Service) buildForecast(req SubmitForecastRequest) (datatypes.Forecast, error) {
	var zero datatypes.Forecast

	kind := datatypes.ForecastKind(req.Kind)
	if !kind.Valid() {
		return zero, fmt.Errorf("%w: unknown forecast kind %q", ErrValidation, req.Kind)
	}
	if err := validation.ValidateSourceID(req.Source); err != nil {
		return zero, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	domain, err := validation.SanitizeDomain(req.Domain)
	if err != nil {
		return zero, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	if strings.TrimSpace(req.Value) == "" {
		return zero, fmt.Errorf("%w: value is required", ErrValidation)
	}
	if req.Probability == nil {
		return zero, fmt.Errorf("%w: probability is required", ErrValidation)
	}
	if err := validation.ValidateProbability("probability", *req.Probability); err != nil {
		return zero, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	if req.Confidence != nil {
		if err := validation.ValidateProbability("confidence", *req.Confidence); err != nil {
			return zero, fmt.Errorf("%w: %s", ErrValidation, err)
		}
	}
	horizon, err := datatypes.ParseHorizon(req.Horizon)
	if err != nil {
		return zero, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	if !hashing.IsHexDigest(req.SnapshotRef) {
		return zero, fmt.Errorf("%w: snapshot_ref must be a 64-char hex digest", ErrValidation)
	}

	madeAt := s.now().UTC()
	return datatypes.Forecast{
		ID:           uuid.NewString(),
		Kind:         kind,
		Source:       req.Source,
		Domain:       domain,
		Value:        strings.TrimSpace(req.Value),
		Probability:  *req.Probability,
		Confidence:   req.Confidence,
		Horizon:      horizon,
		MadeAt:       madeAt,
		ValidFrom:    madeAt,
		ValidUntil:   madeAt.Add(horizon),
		SnapshotRef:  strings.ToLower(req.SnapshotRef),
		ModelID:      req.ModelID,
		ModelVersion: req.ModelVersion,
	}, nil
}

// RecordOutcome validates and appends one observed outcome.
//
// The evidence-independence check runs for every caller identically;
// there is deliberately no role or credential parameter here, so elevated
// callers have no path around it.
func (s *Service) RecordOutcome(ctx context.Context, req RecordOutcomeRequest) (RecordOutcomeResponse, error) {
	kind := datatypes.ForecastKind(req.Kind)
	if !kind.Valid() {
		s.countAppend("outcome", "rejected")
		return RecordOutcomeResponse{}, fmt.Errorf("%w: unknown outcome kind %q", ErrValidation, req.Kind)
	}
	domain, err := validation.SanitizeDomain(req.Domain)
	if err != nil {
		s.countAppend("outcome", "rejected")
		return RecordOutcomeResponse{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	if strings.TrimSpace(req.Value) == "" {
		s.countAppend("outcome", "rejected")
		return RecordOutcomeResponse{}, fmt.Errorf("%w: value is required", ErrValidation)
	}
	if err := validation.ValidateSourceID(req.EvidenceSource); err != nil {
		s.countAppend("outcome", "rejected")
		return RecordOutcomeResponse{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	if err := s.registry.Check(req.EvidenceSource); err != nil {
		s.countAppend("outcome", "rejected")
		if s.metrics != nil {
			s.metrics.EvidenceRejectionsTotal.WithLabelValues(req.EvidenceSource).Inc()
		}
		s.logger.Warn("outcome rejected by evidence check",
			slog.String("evidence_source", req.EvidenceSource),
			slog.String("domain", domain))
		return RecordOutcomeResponse{}, err
	}

	observedAt := req.ObservedAt
	if observedAt.IsZero() {
		observedAt = s.now()
	}

	o := datatypes.Outcome{
		ID:              uuid.NewString(),
		Kind:            kind,
		Domain:          domain,
		Value:           strings.TrimSpace(req.Value),
		ObservedAt:      observedAt.UTC(),
		EvidenceSource:  req.EvidenceSource,
		EvidencePayload: req.EvidencePayload,
	}

	stored, created, err := s.store.AppendOutcome(ctx, o)
	if err != nil {
		return RecordOutcomeResponse{}, fmt.Errorf("append outcome: %w", err)
	}
	if created {
		s.countAppend("outcome", "created")
		s.logger.Info("outcome recorded",
			slog.String("outcome_id", stored.ID),
			slog.String("domain", stored.Domain),
			slog.String("evidence_source", stored.EvidenceSource))
	} else {
		s.countAppend("outcome", "duplicate")
	}

	return RecordOutcomeResponse{
		OutcomeID:   stored.ID,
		ContentHash: stored.ContentHash,
		Duplicate:   !created,
	}, nil
}

// =============================================================================
// Reconciliation
// =============================================================================

// Resolve scores one forecast against one outcome.
//
// Description:
//
//	The load-verify-score-write sequence runs inside a single
//	serializable ledger transaction, so concurrent resolutions of the
//	same forecast can never produce two pairs; the losing caller
//	observes ErrAlreadyResolved. An outcome observed outside the
//	forecast's validity window still produces a pair, marked
//	WithinWindow=false, and the forecast resolves as expired.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (ResolveResponse, error) {
	aligner, err := scoring.AlignerFor(req.AlignmentMethod)
	if err != nil {
		return ResolveResponse{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}

	pair, err := s.store.ResolveForecast(ctx, req.ForecastID, req.OutcomeID, s.scoreFunc(aligner))
	if err != nil {
		s.countResolution(err)
		return ResolveResponse{}, err
	}

	status := datatypes.ResolutionIncorrect
	switch {
	case !pair.WithinWindow:
		status = datatypes.ResolutionExpired
	case pair.Hit:
		status = datatypes.ResolutionCorrect
	}
	if s.metrics != nil {
		s.metrics.ResolutionsTotal.WithLabelValues(string(status)).Inc()
	}
	s.logger.Info("forecast resolved",
		slog.String("forecast_id", req.ForecastID),
		slog.String("outcome_id", req.OutcomeID),
		slog.String("pair_id", pair.ID),
		slog.String("status", string(status)),
		slog.Float64("brier", pair.Brier))

	return ResolveResponse{Pair: pair, ResolutionStatus: status}, nil
}

// scoreFunc builds the pure scoring step run inside the resolution
// transaction. It must not touch the store; the transaction owns all
// reads and writes.
func (s *Service) scoreFunc(aligner scoring.Aligner) ledger.ScoreFunc {
	return func(f datatypes.Forecast, o datatypes.Outcome) (datatypes.Pair, datatypes.ResolutionStatus, error) {
		if f.Kind != o.Kind || f.Domain != o.Domain {
			return datatypes.Pair{}, "", fmt.Errorf("%w: forecast is %s/%s, outcome is %s/%s",
				ErrOutcomeMismatch, f.Kind, f.Domain, o.Kind, o.Domain)
		}
		if err := s.registry.Check(o.EvidenceSource); err != nil {
			// The collector surface already enforced this; re-checking
			// here keeps a tampered or legacy outcome from resolving.
			return datatypes.Pair{}, "", err
		}

		alignment := aligner.Align(f.Value, o.Value)
		indicator := 0.0
		if alignment >= 0.5 {
			indicator = 1.0
		}
		within := f.InWindow(o.ObservedAt)

		pair := datatypes.Pair{
			ID:              uuid.NewString(),
			AlignmentMethod: aligner.Name(),
			AlignmentScore:  alignment,
			Brier:           scoring.Brier(f.Probability, indicator),
			LogScore:        scoring.LogScore(f.Probability, indicator),
			Hit:             within && indicator >= 0.5,
			LeadTime:        o.ObservedAt.Sub(f.MadeAt),
			WithinWindow:    within,
			CreatedAt:       s.now().UTC(),
		}

		status := datatypes.ResolutionIncorrect
		switch {
		case !within:
			status = datatypes.ResolutionExpired
		case indicator >= 0.5:
			status = datatypes.ResolutionCorrect
		}
		return pair, status, nil
	}
}

// =============================================================================
// Aggregation and gate
// =============================================================================

// ComputeMetrics runs one scoped skill rollup and appends it to the
// metric series.
func (s *Service) ComputeMetrics(ctx context.Context, req ComputeMetricsRequest) (MetricResponse, error) {
	scope, err := datatypes.ParseScope(req.ScopeKind, req.ScopeValue)
	if err != nil {
		return MetricResponse{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	if !req.PeriodEnd.After(req.PeriodStart) {
		return MetricResponse{}, fmt.Errorf("%w: period_end must be after period_start", ErrValidation)
	}

	started := s.now()
	m, err := s.agg.Compute(ctx, scope, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return MetricResponse{}, err
	}
	if s.metrics != nil {
		s.metrics.AggregationDurationSeconds.WithLabelValues(string(scope.Kind)).
			Observe(s.now().Sub(started).Seconds())
		if m.Drift.Flagged {
			s.metrics.DriftFlagsTotal.WithLabelValues(string(scope.Kind), string(m.Drift.Direction)).Inc()
		}
	}
	return MetricResponse{Metric: m}, nil
}

// MetricSeries returns the most recent metrics for a scope, oldest first.
func (s *Service) MetricSeries(ctx context.Context, scopeKind, scopeValue string, limit int) (MetricSeriesResponse, error) {
	scope, err := datatypes.ParseScope(scopeKind, scopeValue)
	if err != nil {
		return MetricSeriesResponse{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	ms, err := s.store.MetricsForScope(ctx, scope, limit)
	if err != nil {
		return MetricSeriesResponse{}, err
	}
	return MetricSeriesResponse{Scope: scope.Key(), Metrics: ms}, nil
}

// OpenWindow opens a stability observation window.
func (s *Service) OpenWindow(ctx context.Context, req OpenWindowRequest) (WindowResponse, error) {
	scope, err := datatypes.ParseScope(req.ScopeKind, req.ScopeValue)
	if err != nil {
		return WindowResponse{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	budget := DefaultCycleBudget
	if req.CycleBudget != "" {
		budget, err = time.ParseDuration(req.CycleBudget)
		if err != nil || budget <= 0 {
			return WindowResponse{}, fmt.Errorf("%w: cycle_budget must be a positive duration", ErrValidation)
		}
	}

	w, err := s.gate.OpenWindow(ctx, scope, req.FrozenParams, req.MinCycles, req.Tolerance, budget)
	if err != nil {
		return WindowResponse{}, err
	}
	if s.metrics != nil {
		s.metrics.ActiveWindows.Inc()
	}
	return WindowResponse{Window: w, Eligible: w.Eligible()}, nil
}

// EvaluateCycle runs one stability-gate cycle for the window.
func (s *Service) EvaluateCycle(ctx context.Context, windowID string, req EvaluateCycleRequest) (WindowResponse, error) {
	if !req.PeriodEnd.After(req.PeriodStart) {
		return WindowResponse{}, fmt.Errorf("%w: period_end must be after period_start", ErrValidation)
	}

	w, err := s.gate.EvaluateCycle(ctx, windowID, req.Cycle, req.Params, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return WindowResponse{}, err
	}
	if s.metrics != nil {
		switch w.Status {
		case datatypes.WindowRolledBack:
			s.metrics.GateCyclesTotal.WithLabelValues("rolled_back").Inc()
			s.metrics.ActiveWindows.Dec()
		case datatypes.WindowEvaluated, datatypes.WindowEligible:
			outcome := "stable"
			if w.ConsecutiveStable == 0 {
				outcome = "failed"
			}
			s.metrics.GateCyclesTotal.WithLabelValues(outcome).Inc()
		}
	}
	return WindowResponse{Window: w, Eligible: w.Eligible()}, nil
}

// ClearWindow transitions an eligible window to cleared. External
// governance action; the gate itself never clears.
func (s *Service) ClearWindow(ctx context.Context, windowID, reason string) (WindowResponse, error) {
	w, err := s.gate.Clear(ctx, windowID, reason)
	if err != nil {
		return WindowResponse{}, err
	}
	if s.metrics != nil {
		s.metrics.ActiveWindows.Dec()
	}
	return WindowResponse{Window: w, Eligible: w.Eligible()}, nil
}

// WindowStatus returns a window's control state.
func (s *Service) WindowStatus(ctx context.Context, windowID string) (WindowResponse, error) {
	w, err := s.gate.Status(ctx, windowID)
	if err != nil {
		return WindowResponse{}, err
	}
	return WindowResponse{Window: w, Eligible: w.Eligible()}, nil
}

// =============================================================================
// Read surface
// =============================================================================

// GetForecast returns one forecast by id.
func (s *Service) GetForecast(ctx context.Context, id string) (datatypes.Forecast, error) {
	return s.store.GetForecast(ctx, id)
}

// GetOutcome returns one outcome by id.
func (s *Service) GetOutcome(ctx context.Context, id string) (datatypes.Outcome, error) {
	return s.store.GetOutcome(ctx, id)
}

// GetPair returns one reconciliation pair by id.
func (s *Service) GetPair(ctx context.Context, id string) (datatypes.Pair, error) {
	return s.store.GetPair(ctx, id)
}

// VerifyChains recomputes every ledger hash chain and reports breaks.
func (s *Service) VerifyChains(ctx context.Context) (AuditResponse, error) {
	reports, err := s.store.VerifyChains(ctx)
	if err != nil {
		return AuditResponse{}, err
	}
	resp := AuditResponse{Valid: true, Chains: reports}
	for _, r := range reports {
		if !r.Valid {
			resp.Valid = false
			break
		}
	}
	return resp, nil
}

// EvidenceSources lists the evidence allow-list.
func (s *Service) EvidenceSources() EvidenceSourcesResponse {
	return EvidenceSourcesResponse{Sources: s.registry.Sources()}
}

func (s *Service) countAppend(kind, result string) {
	if s.metrics != nil {
		s.metrics.LedgerAppendsTotal.WithLabelValues(kind, result).Inc()
	}
}

func (s *Service) countResolution(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil:
	case isAlreadyResolved(err):
		s.metrics.ResolutionsTotal.WithLabelValues("already_resolved").Inc()
	default:
		s.metrics.ResolutionsTotal.WithLabelValues("error").Inc()
	}
}

func isAlreadyResolved(err error) bool {
	return errors.Is(err, ledger.ErrAlreadyResolved)
}
