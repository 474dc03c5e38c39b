// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gate implements the stability gate: a control loop over
// successive skill metrics that decides whether a scope has been stable
// for enough consecutive cycles to be eligible for a governance change.
//
// The gate only computes eligibility. Clearing an eligible window is a
// separate action taken by an external governance process; nothing in
// this package self-authorizes a change. All ambiguity fails closed: a
// cycle with no scored metric, a frozen-parameter change, or a variance
// breach never advances the stable counter.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/aggregate"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/datatypes"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/hashing"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/ledger"
)

var (
	// ErrWindowClosed is returned when a cycle evaluation targets a window
	// that is rolled back or cleared.
	ErrWindowClosed = errors.New("window is no longer active")

	// ErrNotEligible is returned by Clear when the window has not reached
	// the eligible state.
	ErrNotEligible = errors.New("window is not eligible")

	// ErrEvaluationInProgress is returned when another evaluation already
	// holds the window's single-writer slot.
	ErrEvaluationInProgress = errors.New("cycle evaluation already in progress")

	// ErrCycleGap is returned when the requested cycle number is not the
	// next cycle for the window.
	ErrCycleGap = errors.New("cycle number out of sequence")
)

// Gate drives stability windows over the metric series.
//
// Thread Safety: safe for concurrent use. Each window has a weighted
// semaphore of capacity one, so two evaluations of the same window never
// run concurrently; the consecutive-stable counter is only ever advanced
// by the slot holder.
type Gate struct {
	store  *ledger.Store
	agg    *aggregate.Aggregator
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	slots map[string]*semaphore.Weighted
}

// New creates a Gate. The clock is injectable for tests; pass nil for
// time.Now.
func New(store *ledger.Store, agg *aggregate.Aggregator, logger *slog.Logger, now func() time.Time) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{
		store:  store,
		agg:    agg,
		logger: logger,
		now:    now,
		slots:  make(map[string]*semaphore.Weighted),
	}
}

// HashParams canonicalizes and hashes the parameter set that must stay
// frozen for a window's duration (scoring weights, thresholds, model
// pins). The same map always produces the same digest regardless of
// iteration order.
func HashParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]hashing.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, hashing.String(k, params[k]))
	}
	return hashing.ContentHash("window-params", fields)
}

// =============================================================================
// Window lifecycle
// =============================================================================

// OpenWindow creates a new observation window for the scope.
//
// Inputs:
//
//	scope     - the metric scope the window observes.
//	params    - the frozen parameter set; hashed and pinned to the window.
//	minCycles - consecutive stable cycles required for eligibility, >= 1.
//	tolerance - maximum |Brier mean - rolling baseline| counted as stable.
//	budget    - per-cycle execution budget; overrun is a failed cycle.
func (g *Gate) OpenWindow(ctx context.Context, scope datatypes.Scope, params map[string]string, minCycles int, tolerance float64, budget time.Duration) (datatypes.Window, error) {
	if minCycles < 1 {
		return datatypes.Window{}, fmt.Errorf("gate: min cycles must be >= 1, got %d", minCycles)
	}
	if tolerance <= 0 {
		return datatypes.Window{}, fmt.Errorf("gate: tolerance must be positive, got %g", tolerance)
	}
	if budget <= 0 {
		return datatypes.Window{}, fmt.Errorf("gate: cycle budget must be positive, got %s", budget)
	}

	now := g.now().UTC()
	w := datatypes.Window{
		ID:               uuid.NewString(),
		Scope:            scope,
		MinCycles:        minCycles,
		Tolerance:        tolerance,
		FrozenParamsHash: HashParams(params),
		CycleBudget:      budget,
		Status:           datatypes.WindowInitiated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := g.store.CreateWindow(ctx, w); err != nil {
		return datatypes.Window{}, fmt.Errorf("gate: create window: %w", err)
	}
	g.logger.Info("opened stability window",
		slog.String("window_id", w.ID),
		slog.String("scope", scope.Key()),
		slog.Int("min_cycles", minCycles),
		slog.Float64("tolerance", tolerance),
	)
	return w, nil
}

// Status returns the window's current control state.
func (g *Gate) Status(ctx context.Context, windowID string) (datatypes.Window, error) {
	return g.store.GetWindow(ctx, windowID)
}

// Clear transitions an eligible window to cleared. This is the external
// governance action; it is the only path out of eligible.
func (g *Gate) Clear(ctx context.Context, windowID, reason string) (datatypes.Window, error) {
	w, err := g.store.UpdateWindow(ctx, windowID, func(w *datatypes.Window) error {
		if w.Status != datatypes.WindowEligible {
			return fmt.Errorf("%w: status is %s", ErrNotEligible, w.Status)
		}
		w.Status = datatypes.WindowCleared
		w.Reason = reason
		w.UpdatedAt = g.now().UTC()
		return nil
	})
	if err != nil {
		return datatypes.Window{}, err
	}
	g.logger.Info("cleared stability window",
		slog.String("window_id", w.ID), slog.String("reason", reason))
	return w, nil
}

// =============================================================================
// Cycle evaluation
// =============================================================================

// EvaluateCycle runs one observation cycle for the window.
//
// Description:
//
//	Acquires the window's single-writer slot, recomputes the frozen
//	parameter hash from the supplied params, invokes the aggregator for
//	the window's scope over [periodStart, periodEnd) under the window's
//	cycle budget, and compares the new metric's Brier mean against the
//	rolling baseline. Both checks passing advances the consecutive-stable
//	counter; a parameter-hash mismatch or a variance breach resets the
//	counter and rolls the window back. A budget overrun or an unscored
//	metric is a failed cycle: the counter resets but the window stays
//	active and the cycle may be retried.
//
//	Evaluation is idempotent per cycle number: re-submitting a cycle the
//	window has already evaluated returns the current state unchanged, and
//	a cycle number that skips ahead is rejected.
func (g *Gate) EvaluateCycle(ctx context.Context, windowID string, cycle int, params map[string]string, periodStart, periodEnd time.Time) (datatypes.Window, error) {
	if cycle < 1 {
		return datatypes.Window{}, fmt.Errorf("gate: cycle number must be >= 1, got %d", cycle)
	}

	slot := g.slot(windowID)
	if !slot.TryAcquire(1) {
		return datatypes.Window{}, ErrEvaluationInProgress
	}
	defer slot.Release(1)

	w, err := g.store.GetWindow(ctx, windowID)
	if err != nil {
		return datatypes.Window{}, err
	}
	if cycle <= w.CycleNumber {
		// Already evaluated; idempotent replay.
		return w, nil
	}
	if !w.Status.Active() {
		return w, fmt.Errorf("%w: status is %s", ErrWindowClosed, w.Status)
	}
	if cycle != w.CycleNumber+1 {
		return w, fmt.Errorf("%w: window is at cycle %d, got %d", ErrCycleGap, w.CycleNumber, cycle)
	}

	// Frozen-parameter check runs before any metric work: a changed
	// parameter invalidates the whole window, not just this cycle.
	if got := HashParams(params); got != w.FrozenParamsHash {
		return g.rollBack(ctx, windowID, cycle, "frozen parameter hash changed")
	}

	if _, err := g.store.UpdateWindow(ctx, windowID, func(w *datatypes.Window) error {
		w.Status = datatypes.WindowInProgress
		w.UpdatedAt = g.now().UTC()
		return nil
	}); err != nil {
		return datatypes.Window{}, err
	}

	cycleCtx, cancel := context.WithTimeout(ctx, w.CycleBudget)
	metric, aggErr := g.agg.Compute(cycleCtx, w.Scope, periodStart, periodEnd)
	cancel()

	switch {
	case errors.Is(aggErr, context.DeadlineExceeded):
		return g.failCycle(ctx, windowID, cycle, "", "cycle budget exceeded")
	case aggErr != nil:
		return datatypes.Window{}, fmt.Errorf("gate: cycle %d aggregation: %w", cycle, aggErr)
	case metric.BrierMean == nil:
		// No scored pairs in the period. Eligibility never advances on
		// missing data.
		return g.failCycle(ctx, windowID, cycle, metric.ID, "no scored metric for cycle")
	}

	return g.applyVariance(ctx, windowID, cycle, metric)
}

// applyVariance runs the rolling-baseline check and advances or rolls
// back the window accordingly.
func (g *Gate) applyVariance(ctx context.Context, windowID string, cycle int, metric datatypes.Metric) (datatypes.Window, error) {
	brier := *metric.BrierMean

	w, err := g.store.UpdateWindow(ctx, windowID, func(w *datatypes.Window) error {
		now := g.now().UTC()
		w.CycleNumber = cycle
		w.LastMetricID = metric.ID
		w.UpdatedAt = now

		if w.BaselineBrier != nil {
			delta := brier - *w.BaselineBrier
			if delta < 0 {
				delta = -delta
			}
			if delta > w.Tolerance {
				w.ConsecutiveStable = 0
				w.Status = datatypes.WindowRolledBack
				w.Reason = fmt.Sprintf("brier variance %.6f exceeds tolerance %.6f at cycle %d", delta, w.Tolerance, cycle)
				return nil
			}
		}

		// Stable cycle: fold this cycle's Brier mean into the rolling
		// baseline. The first scored cycle seeds the baseline and counts
		// toward the stable run.
		if w.BaselineBrier == nil {
			w.BaselineBrier = &brier
			w.BaselineCycles = 1
		} else {
			next := (*w.BaselineBrier*float64(w.BaselineCycles) + brier) / float64(w.BaselineCycles+1)
			w.BaselineBrier = &next
			w.BaselineCycles++
		}
		w.ConsecutiveStable++
		if w.ConsecutiveStable >= w.MinCycles {
			w.Status = datatypes.WindowEligible
			w.Reason = fmt.Sprintf("%d consecutive stable cycles", w.ConsecutiveStable)
		} else {
			w.Status = datatypes.WindowEvaluated
			w.Reason = ""
		}
		return nil
	})
	if err != nil {
		return datatypes.Window{}, err
	}

	g.logger.Info("evaluated stability cycle",
		slog.String("window_id", w.ID),
		slog.Int("cycle", cycle),
		slog.String("status", string(w.Status)),
		slog.Int("consecutive_stable", w.ConsecutiveStable),
		slog.Float64("brier_mean", brier),
	)
	return w, nil
}

// failCycle records a failed cycle: counter reset, window still active.
func (g *Gate) failCycle(ctx context.Context, windowID string, cycle int, metricID, reason string) (datatypes.Window, error) {
	w, err := g.store.UpdateWindow(ctx, windowID, func(w *datatypes.Window) error {
		w.CycleNumber = cycle
		w.ConsecutiveStable = 0
		w.Status = datatypes.WindowEvaluated
		w.Reason = reason
		if metricID != "" {
			w.LastMetricID = metricID
		}
		w.UpdatedAt = g.now().UTC()
		return nil
	})
	if err != nil {
		return datatypes.Window{}, err
	}
	g.logger.Warn("stability cycle failed",
		slog.String("window_id", windowID),
		slog.Int("cycle", cycle),
		slog.String("reason", reason))
	return w, nil
}

// rollBack terminates the window. Rolled-back windows accept no further
// evaluations; a new window must be opened.
func (g *Gate) rollBack(ctx context.Context, windowID string, cycle int, reason string) (datatypes.Window, error) {
	w, err := g.store.UpdateWindow(ctx, windowID, func(w *datatypes.Window) error {
		w.CycleNumber = cycle
		w.ConsecutiveStable = 0
		w.Status = datatypes.WindowRolledBack
		w.Reason = reason
		w.UpdatedAt = g.now().UTC()
		return nil
	})
	if err != nil {
		return datatypes.Window{}, err
	}
	g.logger.Warn("stability window rolled back",
		slog.String("window_id", windowID),
		slog.Int("cycle", cycle),
		slog.String("reason", reason))
	return w, nil
}

func (g *Gate) slot(windowID string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[windowID]
	if !ok {
		s = semaphore.NewWeighted(1)
		g.slots[windowID] = s
	}
	return s
}
