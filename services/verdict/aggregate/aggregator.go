// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregate computes scoped skill-metric rollups from the forecast
// and pair ledgers.
//
// Every computation appends a new Metric record; the resulting per-scope
// time series is what drift detection compares against. An empty sample
// produces a metric whose score fields are all nil. The aggregator never
// substitutes zero for "no data".
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/datatypes"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/hashing"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/ledger"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/scoring"
)

// Aggregator computes and persists skill metrics.
//
// Thread Safety: safe for concurrent use. Each computation reads from a
// single Badger snapshot, so concurrently appended forecasts or pairs are
// either fully visible or fully invisible to it.
type Aggregator struct {
	store  *ledger.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Aggregator over the given ledger store. The clock is
// injectable for tests; pass nil for time.Now.
func New(store *ledger.Store, logger *slog.Logger, now func() time.Time) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: store, logger: logger, now: now}
}

// =============================================================================
// Computation
// =============================================================================

// Compute builds one Metric for the scope over [start, end), appends it to
// the metric ledger, and returns it.
//
// Description:
//
//	Selects every forecast whose made_at falls in the period and matches
//	the scope, joins each to its reconciliation pair where one exists, and
//	rolls the pair scores up into Brier mean/stddev, log-score
//	mean/stddev, hit rate with Wilson 95% bounds, and calibration error
//	over ten equal-width reliability bins. Drift is judged against the
//	immediately preceding metric of the same scope.
//
// Inputs:
//
//	ctx   - cancellation; honored between ledger reads.
//	scope - which slice of the ledger to roll up.
//	start - period start, inclusive.
//	end   - period end, exclusive.
//
// Outputs:
//
//	The appended Metric, or an error if the ledger could not be read or
//	the metric could not be persisted.
func (a *Aggregator) Compute(ctx context.Context, scope datatypes.Scope, start, end time.Time) (datatypes.Metric, error) {
	if !end.After(start) {
		return datatypes.Metric{}, fmt.Errorf("aggregate: period end %s not after start %s", end, start)
	}

	snap, err := a.store.SnapshotPeriod(ctx, scope, start.UnixNano(), end.UnixNano())
	if err != nil {
		return datatypes.Metric{}, fmt.Errorf("aggregate: snapshot period: %w", err)
	}

	var (
		briers  []float64
		logs    []float64
		hits    int
		samples []scoring.Sample
	)
	for _, rf := range snap.Resolved {
		briers = append(briers, rf.Pair.Brier)
		logs = append(logs, rf.Pair.LogScore)
		if rf.Pair.Hit {
			hits++
		}
		samples = append(samples, scoring.Sample{Probability: rf.Forecast.Probability, Hit: rf.Pair.Hit})
	}

	m := datatypes.Metric{
		ID:            uuid.NewString(),
		Scope:         scope,
		PeriodStart:   start.UTC(),
		PeriodEnd:     end.UTC(),
		ComputedAt:    a.now().UTC(),
		ForecastCount: snap.ForecastCount,
		ResolvedCount: len(briers),
	}

	if len(briers) > 0 {
		m.BrierMean = ptr(scoring.Mean(briers))
		m.BrierStdDev = ptr(scoring.StdDev(briers))
		m.LogScoreMean = ptr(scoring.Mean(logs))
		m.LogScoreStdDev = ptr(scoring.StdDev(logs))
		m.HitRate = ptr(float64(hits) / float64(len(briers)))
		low, high := scoring.WilsonBounds(hits, len(briers))
		m.HitRateLow = ptr(low)
		m.HitRateHigh = ptr(high)
		if ce, ok := scoring.CalibrationError(samples); ok {
			m.CalibrationError = ptr(ce)
		}
	}

	m.Drift = a.drift(ctx, m)
	m.ContentHash = metricContentHash(m)

	if err := a.store.AppendMetric(ctx, m); err != nil {
		return datatypes.Metric{}, fmt.Errorf("aggregate: append metric: %w", err)
	}

	a.logger.Info("computed skill metric",
		slog.String("metric_id", m.ID),
		slog.String("scope", m.Scope.Key()),
		slog.Int("forecasts", m.ForecastCount),
		slog.Int("resolved", m.ResolvedCount),
		slog.Bool("drift_flagged", m.Drift.Flagged),
	)
	return m, nil
}

// drift compares the new metric against the immediately preceding metric
// of the same scope. No predecessor, or no scored Brier on either side,
// means stable and unflagged.
func (a *Aggregator) drift(ctx context.Context, m datatypes.Metric) datatypes.Drift {
	d := datatypes.Drift{Direction: datatypes.DriftStable}

	prev, err := a.store.LatestMetric(ctx, m.Scope)
	if errors.Is(err, ledger.ErrNotFound) {
		return d
	}
	if err != nil {
		// A read failure must not block the rollup; record it and treat
		// the cycle as having no usable predecessor.
		a.logger.Warn("drift comparison skipped",
			slog.String("scope", m.Scope.Key()),
			slog.String("error", err.Error()))
		return d
	}
	if prev.BrierMean == nil || m.BrierMean == nil {
		return d
	}

	delta := *m.BrierMean - *prev.BrierMean
	if math.Abs(delta) > scoring.DriftBrierThreshold {
		d.Flagged = true
		d.Magnitude = math.Abs(delta)
		if delta > 0 {
			d.Direction = datatypes.DriftDegrading
		} else {
			d.Direction = datatypes.DriftImproving
		}
		return d
	}

	// Brier within tolerance; a large hit-rate swing still flags, with
	// direction taken from the sign of the swing (lower hit rate degrades).
	if prev.HitRate != nil && m.HitRate != nil {
		hitDelta := *m.HitRate - *prev.HitRate
		if math.Abs(hitDelta) > scoring.DriftHitRateThreshold {
			d.Flagged = true
			d.Magnitude = math.Abs(hitDelta)
			if hitDelta < 0 {
				d.Direction = datatypes.DriftDegrading
			} else {
				d.Direction = datatypes.DriftImproving
			}
		}
	}
	return d
}

// metricContentHash covers the identity and every score field of the
// metric. Nil score fields hash as absent, not as zero.
func metricContentHash(m datatypes.Metric) string {
	fields := []hashing.Field{
		hashing.String("scope", m.Scope.Key()),
		hashing.Time("period_start", m.PeriodStart),
		hashing.Time("period_end", m.PeriodEnd),
		hashing.Time("computed_at", m.ComputedAt),
		hashing.Float("forecast_count", float64(m.ForecastCount)),
		hashing.Float("resolved_count", float64(m.ResolvedCount)),
	}
	appendOpt := func(key string, v *float64) {
		if v != nil {
			fields = append(fields, hashing.Float(key, *v))
		}
	}
	appendOpt("brier_mean", m.BrierMean)
	appendOpt("brier_stddev", m.BrierStdDev)
	appendOpt("log_score_mean", m.LogScoreMean)
	appendOpt("log_score_stddev", m.LogScoreStdDev)
	appendOpt("hit_rate", m.HitRate)
	appendOpt("calibration_error", m.CalibrationError)
	return hashing.ContentHash("metric", fields)
}

func ptr(v float64) *float64 { return &v }
