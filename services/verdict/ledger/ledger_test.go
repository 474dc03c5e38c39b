// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/datatypes"
	storage "github.com/ArbiterAI/ArbiterFOSS/services/verdict/storage/badger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	s := New(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testForecast(domain, value string, p float64) datatypes.Forecast {
	madeAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return datatypes.Forecast{
		ID:          uuid.NewString(),
		Kind:        datatypes.KindPriceDirection,
		Source:      "regime-agent",
		Domain:      domain,
		Value:       value,
		Probability: p,
		Horizon:     24 * time.Hour,
		MadeAt:      madeAt,
		ValidFrom:   madeAt,
		ValidUntil:  madeAt.Add(24 * time.Hour),
	}
}

func testOutcome(domain, value string, observedAt time.Time) datatypes.Outcome {
	return datatypes.Outcome{
		ID:             uuid.NewString(),
		Kind:           datatypes.KindPriceDirection,
		Domain:         domain,
		Value:          value,
		ObservedAt:     observedAt,
		EvidenceSource: "independent-price-feed",
	}
}

// simpleScore is a minimal scoring step for resolution tests.
func simpleScore(f datatypes.Forecast, o datatypes.Outcome) (datatypes.Pair, datatypes.ResolutionStatus, error) {
	hit := f.Value == o.Value
	status := datatypes.ResolutionIncorrect
	if hit {
		status = datatypes.ResolutionCorrect
	}
	return datatypes.Pair{
		ID:              uuid.NewString(),
		AlignmentMethod: datatypes.AlignmentExact,
		Hit:             hit,
		WithinWindow:    true,
		CreatedAt:       o.ObservedAt,
	}, status, nil
}

// =============================================================================
// Forecast ledger
// =============================================================================

func TestAppendForecastAssignsHashes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stored, created, err := s.AppendForecast(ctx, testForecast("BTC-USD", "BULL", 0.7))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, stored.ContentHash, 64)
	assert.Len(t, stored.ChainHash, 64)
	assert.Equal(t, datatypes.ResolutionPending, stored.Resolution)

	got, err := s.GetForecast(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ContentHash, got.ContentHash)
}

// TestAppendForecastIdempotent verifies an identical payload returns the
// original record instead of creating a second one.
func TestAppendForecastIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.AppendForecast(ctx, testForecast("BTC-USD", "BULL", 0.7))
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := s.AppendForecast(ctx, testForecast("BTC-USD", "BULL", 0.7))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// A different payload is a new record.
	third, created, err := s.AppendForecast(ctx, testForecast("BTC-USD", "BEAR", 0.7))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

// TestAppendForecastConcurrent verifies concurrent appends all land despite
// racing on the chain head: the losing transactions retry instead of
// surfacing a conflict to the caller.
func TestAppendForecastConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	createds := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := s.AppendForecast(ctx, testForecast("BTC-USD", fmt.Sprintf("BULL-%d", i), 0.7))
			errs[i], createds[i] = err, created
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.True(t, createds[i])
	}

	// Every append extended the chain, and the chain is intact.
	reports, err := s.VerifyChains(ctx)
	require.NoError(t, err)
	for _, r := range reports {
		assert.True(t, r.Valid)
		if r.Kind == "forecast" {
			assert.Equal(t, n, r.Records)
		}
	}
}

// TestAppendForecastConcurrentDuplicates verifies a racing identical
// submission comes back as the idempotent duplicate, not an error.
func TestAppendForecastConcurrentDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	ids := make([]string, n)
	createds := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, created, err := s.AppendForecast(ctx, testForecast("BTC-USD", "BULL", 0.7))
			errs[i], ids[i], createds[i] = err, stored.ID, created
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
		if createds[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

// TestAppendOutcomeConcurrent covers the same chain-head race on the
// outcome ledger.
func TestAppendOutcomeConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	observedAt := time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.AppendOutcome(ctx, testOutcome("BTC-USD", fmt.Sprintf("BULL-%d", i), observedAt))
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
}

func TestGetForecastNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetForecast(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestForecastsInPeriod(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		f := testForecast("BTC-USD", fmt.Sprintf("V%d", i), 0.5)
		f.MadeAt = base.Add(time.Duration(i) * time.Hour)
		_, _, err := s.AppendForecast(ctx, f)
		require.NoError(t, err)
	}
	other := testForecast("ETH-USD", "BULL", 0.5)
	other.MadeAt = base.Add(time.Hour)
	_, _, err := s.AppendForecast(ctx, other)
	require.NoError(t, err)

	scope := datatypes.Scope{Kind: datatypes.ScopeDomain, Value: "BTC-USD"}
	// [base+1h, base+4h) picks hours 1, 2, 3.
	got, err := s.ForecastsInPeriod(ctx, scope,
		base.Add(time.Hour).UnixNano(), base.Add(4*time.Hour).UnixNano())
	require.NoError(t, err)
	assert.Len(t, got, 3)
	for _, f := range got {
		assert.Equal(t, "BTC-USD", f.Domain)
	}

	all, err := s.ForecastsInPeriod(ctx, datatypes.Scope{Kind: datatypes.ScopeGlobal},
		base.UnixNano(), base.Add(24*time.Hour).UnixNano())
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

// TestSnapshotPeriod verifies the rollup read joins forecasts to their
// pairs inside one transaction: the count covers every in-scope forecast,
// the join only the resolved ones.
func TestSnapshotPeriod(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var resolvedIDs []string
	for i := 0; i < 4; i++ {
		f := testForecast("BTC-USD", fmt.Sprintf("V%d", i), 0.6)
		f.MadeAt = base.Add(time.Duration(i) * time.Hour)
		stored, _, err := s.AppendForecast(ctx, f)
		require.NoError(t, err)
		if i%2 != 0 {
			continue
		}
		o, _, err := s.AppendOutcome(ctx, testOutcome("BTC-USD", fmt.Sprintf("V%d", i), f.MadeAt.Add(time.Hour)))
		require.NoError(t, err)
		_, err = s.ResolveForecast(ctx, stored.ID, o.ID, simpleScore)
		require.NoError(t, err)
		resolvedIDs = append(resolvedIDs, stored.ID)
	}
	outOfScope := testForecast("ETH-USD", "BULL", 0.6)
	outOfScope.MadeAt = base.Add(time.Hour)
	_, _, err := s.AppendForecast(ctx, outOfScope)
	require.NoError(t, err)

	scope := datatypes.Scope{Kind: datatypes.ScopeDomain, Value: "BTC-USD"}
	snap, err := s.SnapshotPeriod(ctx, scope, base.UnixNano(), base.Add(24*time.Hour).UnixNano())
	require.NoError(t, err)
	assert.Equal(t, 4, snap.ForecastCount)
	require.Len(t, snap.Resolved, 2)
	var gotIDs []string
	for _, rf := range snap.Resolved {
		gotIDs = append(gotIDs, rf.Forecast.ID)
		assert.Equal(t, rf.Forecast.ID, rf.Pair.ForecastID)
		assert.True(t, rf.Pair.Hit)
	}
	assert.ElementsMatch(t, resolvedIDs, gotIDs)

	// A period past every forecast is empty, not an error.
	empty, err := s.SnapshotPeriod(ctx, scope,
		base.Add(48*time.Hour).UnixNano(), base.Add(72*time.Hour).UnixNano())
	require.NoError(t, err)
	assert.Zero(t, empty.ForecastCount)
	assert.Empty(t, empty.Resolved)
}

// =============================================================================
// Outcome ledger
// =============================================================================

func TestAppendOutcomeIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	observed := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)

	first, created, err := s.AppendOutcome(ctx, testOutcome("BTC-USD", "BULL", observed))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, first.ChainHash, 64)

	second, created, err := s.AppendOutcome(ctx, testOutcome("BTC-USD", "BULL", observed))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

// =============================================================================
// Resolution
// =============================================================================

func TestResolveForecast(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f, _, err := s.AppendForecast(ctx, testForecast("BTC-USD", "BULL", 0.7))
	require.NoError(t, err)
	o, _, err := s.AppendOutcome(ctx, testOutcome("BTC-USD", "BULL", f.MadeAt.Add(time.Hour)))
	require.NoError(t, err)

	pair, err := s.ResolveForecast(ctx, f.ID, o.ID, simpleScore)
	require.NoError(t, err)
	assert.Equal(t, f.ID, pair.ForecastID)
	assert.Equal(t, o.ID, pair.OutcomeID)
	assert.True(t, pair.Hit)
	assert.Len(t, pair.ChainHash, 64)

	resolved, err := s.GetForecast(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.ResolutionCorrect, resolved.Resolution)
	assert.Equal(t, o.ID, resolved.OutcomeID)
	require.NotNil(t, resolved.ResolvedAt)

	byForecast, err := s.PairByForecast(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, pair.ID, byForecast.ID)
}

func TestResolveForecastTwice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f, _, err := s.AppendForecast(ctx, testForecast("BTC-USD", "BULL", 0.7))
	require.NoError(t, err)
	o, _, err := s.AppendOutcome(ctx, testOutcome("BTC-USD", "BULL", f.MadeAt.Add(time.Hour)))
	require.NoError(t, err)

	_, err = s.ResolveForecast(ctx, f.ID, o.ID, simpleScore)
	require.NoError(t, err)

	_, err = s.ResolveForecast(ctx, f.ID, o.ID, simpleScore)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

// TestResolveForecastConcurrent verifies that racing resolutions yield
// exactly one pair and every loser observes ErrAlreadyResolved.
func TestResolveForecastConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f, _, err := s.AppendForecast(ctx, testForecast("BTC-USD", "BULL", 0.7))
	require.NoError(t, err)
	o, _, err := s.AppendOutcome(ctx, testOutcome("BTC-USD", "BULL", f.MadeAt.Add(time.Hour)))
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ResolveForecast(ctx, f.ID, o.ID, simpleScore)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		default:
			assert.ErrorIs(t, err, ErrAlreadyResolved)
		}
	}
	assert.Equal(t, 1, winners)

	// Exactly one pair exists for the forecast.
	pair, err := s.PairByForecast(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, pair.ForecastID)
}

func TestResolveForecastUnknownIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f, _, err := s.AppendForecast(ctx, testForecast("BTC-USD", "BULL", 0.7))
	require.NoError(t, err)

	_, err = s.ResolveForecast(ctx, "missing", "also-missing", simpleScore)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ResolveForecast(ctx, f.ID, "missing", simpleScore)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Metric series
// =============================================================================

func TestMetricSeries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := datatypes.Scope{Kind: datatypes.ScopeDomain, Value: "BTC-USD"}

	_, err := s.LatestMetric(ctx, scope)
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		m := datatypes.Metric{
			ID:         uuid.NewString(),
			Scope:      scope,
			ComputedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.AppendMetric(ctx, m))
		ids = append(ids, m.ID)
	}

	latest, err := s.LatestMetric(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, ids[2], latest.ID)

	series, err := s.MetricsForScope(ctx, scope, 10)
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, ids, []string{series[0].ID, series[1].ID, series[2].ID})

	tail, err := s.MetricsForScope(ctx, scope, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, ids[1], tail[0].ID)

	// A different scope's series is untouched.
	other, err := s.MetricsForScope(ctx, datatypes.Scope{Kind: datatypes.ScopeGlobal}, 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

// =============================================================================
// Windows
// =============================================================================

func TestWindowUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := datatypes.Window{
		ID:        uuid.NewString(),
		Scope:     datatypes.Scope{Kind: datatypes.ScopeGlobal},
		MinCycles: 2,
		Status:    datatypes.WindowInitiated,
	}
	require.NoError(t, s.CreateWindow(ctx, w))

	updated, err := s.UpdateWindow(ctx, w.ID, func(w *datatypes.Window) error {
		w.CycleNumber = 1
		w.Status = datatypes.WindowEvaluated
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CycleNumber)

	got, err := s.GetWindow(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.WindowEvaluated, got.Status)

	_, err = s.GetWindow(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Chain verification
// =============================================================================

func TestVerifyChainsClean(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f, _, err := s.AppendForecast(ctx, testForecast("BTC-USD", "BULL", 0.7))
	require.NoError(t, err)
	o, _, err := s.AppendOutcome(ctx, testOutcome("BTC-USD", "BULL", f.MadeAt.Add(time.Hour)))
	require.NoError(t, err)
	_, err = s.ResolveForecast(ctx, f.ID, o.ID, simpleScore)
	require.NoError(t, err)

	reports, err := s.VerifyChains(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	for _, r := range reports {
		assert.True(t, r.Valid, r.Kind)
		assert.Equal(t, 1, r.Records, r.Kind)
	}
}

// TestVerifyChainsResolutionPreservesChain verifies the resolution-field
// rewrite of a forecast does not break its content hash: the hash covers
// only the immutable identity fields.
func TestVerifyChainsResolutionPreservesChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f, _, err := s.AppendForecast(ctx, testForecast("BTC-USD", fmt.Sprintf("V%d", i), 0.6))
		require.NoError(t, err)
		o, _, err := s.AppendOutcome(ctx, testOutcome("BTC-USD", fmt.Sprintf("V%d", i), f.MadeAt.Add(time.Hour)))
		require.NoError(t, err)
		_, err = s.ResolveForecast(ctx, f.ID, o.ID, simpleScore)
		require.NoError(t, err)
	}

	reports, err := s.VerifyChains(ctx)
	require.NoError(t, err)
	for _, r := range reports {
		assert.True(t, r.Valid, r.Kind)
		assert.Equal(t, 3, r.Records, r.Kind)
	}
}

// TestVerifyChainsDetectsTamper mutates a stored forecast behind the
// ledger's back and expects verification to name it.
func TestVerifyChainsDetectsTamper(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	f, _, err := s.AppendForecast(ctx, testForecast("BTC-USD", "BULL", 0.7))
	require.NoError(t, err)

	// Rewrite the record with a changed probability, bypassing the
	// append path.
	tampered, err := s.GetForecast(ctx, f.ID)
	require.NoError(t, err)
	tampered.Probability = 0.99
	require.NoError(t, s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, prefixForecast+tampered.ID, tampered)
	}))

	reports, err := s.VerifyChains(ctx)
	require.NoError(t, err)
	for _, r := range reports {
		if r.Kind != "forecast" {
			continue
		}
		assert.False(t, r.Valid)
		assert.Equal(t, f.ID, r.BrokenAt)
	}
}
