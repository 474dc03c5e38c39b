// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the persisted record types of the verdict
// service: forecasts, outcomes, reconciliation pairs, skill metrics, and
// stability-gate observation windows.
//
// Forecast, Outcome, and Pair are append-only ledger records. Nothing in
// the public service interface can update or delete them; the only mutable
// fields are a forecast's resolution fields, written exactly once by the
// reconciliation engine. Metric records form an append-only time series.
// Window records are control state and are the one deliberately mutable
// record kind.
package datatypes

import (
	"encoding/json"
	"fmt"
	"time"
)

// ForecastKind enumerates what a forecast predicts.
type ForecastKind string

const (
	KindRegime         ForecastKind = "regime"
	KindPriceDirection ForecastKind = "price-direction"
	KindPriceTarget    ForecastKind = "price-target"
	KindVolatility     ForecastKind = "volatility"
	KindMacroEvent     ForecastKind = "macro-event"
	KindNarrative      ForecastKind = "narrative"
	KindSignal         ForecastKind = "signal"
	KindCustom         ForecastKind = "custom"
)

// Valid reports whether k is a known forecast kind.
func (k ForecastKind) Valid() bool {
	switch k {
	case KindRegime, KindPriceDirection, KindPriceTarget, KindVolatility,
		KindMacroEvent, KindNarrative, KindSignal, KindCustom:
		return true
	}
	return false
}

// ResolutionStatus is the lifecycle state of a forecast.
type ResolutionStatus string

const (
	ResolutionPending       ResolutionStatus = "pending"
	ResolutionCorrect       ResolutionStatus = "correct"
	ResolutionIncorrect     ResolutionStatus = "incorrect"
	ResolutionPartial       ResolutionStatus = "partial"
	ResolutionIndeterminate ResolutionStatus = "indeterminate"
	ResolutionExpired       ResolutionStatus = "expired"
)

// Terminal reports whether the status is a final resolution state.
func (s ResolutionStatus) Terminal() bool {
	return s != ResolutionPending
}

// Forecast is one submitted prediction. Every field except the resolution
// fields (ResolutionStatus, ResolvedAt, OutcomeID) is immutable once the
// record is appended.
type Forecast struct {
	ID           string           `json:"id"`
	Kind         ForecastKind     `json:"kind"`
	Source       string           `json:"source"`
	Domain       string           `json:"domain"`
	Value        string           `json:"value"`
	Probability  float64          `json:"probability"`
	Confidence   *float64         `json:"confidence,omitempty"`
	Horizon      time.Duration    `json:"horizon"`
	MadeAt       time.Time        `json:"made_at"`
	ValidFrom    time.Time        `json:"valid_from"`
	ValidUntil   time.Time        `json:"valid_until"`
	SnapshotRef  string           `json:"snapshot_ref"`
	ModelID      string           `json:"model_id,omitempty"`
	ModelVersion string           `json:"model_version,omitempty"`
	ContentHash  string           `json:"content_hash"`
	ChainHash    string           `json:"chain_hash"`
	Resolution   ResolutionStatus `json:"resolution_status"`
	ResolvedAt   *time.Time       `json:"resolved_at,omitempty"`
	OutcomeID    string           `json:"outcome_id,omitempty"`
}

// InWindow reports whether t falls inside the forecast's validity window.
// The window is inclusive on both ends.
func (f Forecast) InWindow(t time.Time) bool {
	return !t.Before(f.ValidFrom) && !t.After(f.ValidUntil)
}

// Outcome is one independently observed realization of a domain's state.
// Immutable once appended.
type Outcome struct {
	ID              string          `json:"id"`
	Kind            ForecastKind    `json:"kind"`
	Domain          string          `json:"domain"`
	Value           string          `json:"value"`
	ObservedAt      time.Time       `json:"observed_at"`
	EvidenceSource  string          `json:"evidence_source"`
	EvidencePayload json.RawMessage `json:"evidence_payload,omitempty"`
	ContentHash     string          `json:"content_hash"`
	ChainHash       string          `json:"chain_hash"`
}

// Pair links one forecast to one outcome with its scores. At most one Pair
// per forecast ever exists; the reconciliation engine enforces this inside
// a single transaction. Immutable once appended.
type Pair struct {
	ID              string        `json:"id"`
	ForecastID      string        `json:"forecast_id"`
	OutcomeID       string        `json:"outcome_id"`
	AlignmentMethod string        `json:"alignment_method"`
	AlignmentScore  float64       `json:"alignment_score"`
	Brier           float64       `json:"brier_score"`
	LogScore        float64       `json:"log_score"`
	Hit             bool          `json:"hit_rate_contribution"`
	LeadTime        time.Duration `json:"lead_time"`
	WithinWindow    bool          `json:"within_window"`
	CreatedAt       time.Time     `json:"created_at"`
	ContentHash     string        `json:"content_hash"`
	ChainHash       string        `json:"chain_hash"`
}

// DriftDirection labels how a metric moved versus its predecessor.
type DriftDirection string

const (
	DriftStable    DriftDirection = "stable"
	DriftImproving DriftDirection = "improving"
	DriftDegrading DriftDirection = "degrading"
)

// Drift describes a metric's movement relative to the immediately
// preceding metric of the same scope.
type Drift struct {
	Flagged   bool           `json:"flagged"`
	Direction DriftDirection `json:"direction"`
	// Magnitude is the absolute Brier delta that triggered the flag.
	Magnitude float64 `json:"magnitude"`
}

// Metric is one scoped, timestamped skill rollup. Score fields are nil
// when ResolvedCount is zero: an empty sample has no score, and the
// aggregator never fabricates one.
type Metric struct {
	ID            string    `json:"id"`
	Scope         Scope     `json:"scope"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	ComputedAt    time.Time `json:"computed_at"`
	ForecastCount int       `json:"forecast_count"`
	ResolvedCount int       `json:"resolved_count"`

	BrierMean        *float64 `json:"brier_mean"`
	BrierStdDev      *float64 `json:"brier_stddev"`
	LogScoreMean     *float64 `json:"log_score_mean"`
	LogScoreStdDev   *float64 `json:"log_score_stddev"`
	HitRate          *float64 `json:"hit_rate"`
	HitRateLow       *float64 `json:"hit_rate_low"`
	HitRateHigh      *float64 `json:"hit_rate_high"`
	CalibrationError *float64 `json:"calibration_error"`

	Drift       Drift  `json:"drift"`
	ContentHash string `json:"content_hash"`
}

// WindowStatus is the stability-gate state machine position.
type WindowStatus string

const (
	WindowInitiated  WindowStatus = "initiated"
	WindowInProgress WindowStatus = "in_progress"
	WindowEvaluated  WindowStatus = "evaluated"
	WindowEligible   WindowStatus = "eligible"
	WindowCleared    WindowStatus = "cleared"
	WindowRolledBack WindowStatus = "rolled_back"
)

// Active reports whether the window can still accept cycle evaluations.
func (s WindowStatus) Active() bool {
	switch s {
	case WindowInitiated, WindowInProgress, WindowEvaluated:
		return true
	}
	return false
}

// Window is the stability-gate control state for one observation window.
type Window struct {
	ID    string `json:"id"`
	Scope Scope  `json:"scope"`

	CycleNumber       int     `json:"cycle_number"`
	ConsecutiveStable int     `json:"consecutive_stable"`
	MinCycles         int     `json:"min_cycles"`
	Tolerance         float64 `json:"tolerance"`

	// FrozenParamsHash identifies every parameter expected to remain
	// unchanged for the window's duration. Recomputed each cycle; any
	// difference rolls the window back.
	FrozenParamsHash string `json:"frozen_params_hash"`

	// BaselineBrier is the rolling baseline the variance check compares
	// against: the mean of prior stable cycles' Brier means. Nil until the
	// first cycle with a scored metric.
	BaselineBrier  *float64 `json:"baseline_brier"`
	BaselineCycles int      `json:"baseline_cycles"`

	// LastMetricID is the metric produced by the most recent evaluation.
	LastMetricID string `json:"last_metric_id,omitempty"`

	// CycleBudget bounds one evaluation's execution time. Exceeding it is
	// a failed cycle, not a hang.
	CycleBudget time.Duration `json:"cycle_budget"`

	Status WindowStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Eligible reports whether the window has proven stability for the
// configured minimum run of consecutive cycles.
func (w Window) Eligible() bool {
	return w.Status == WindowEligible || w.Status == WindowCleared
}

// AlignmentExact is the default alignment method: the forecast value must
// equal the outcome value byte-for-byte.
const AlignmentExact = "exact"

// ParseHorizon parses a duration string and rejects non-positive values.
func ParseHorizon(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse horizon: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("horizon must be positive, got %s", d)
	}
	return d, nil
}
