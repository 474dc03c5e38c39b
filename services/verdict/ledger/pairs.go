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
	"encoding/json"
	"errors"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/datatypes"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/hashing"
)

// ScoreFunc computes the reconciliation result for a forecast/outcome pair.
// It runs inside the resolution transaction, possibly more than once after
// a conflict retry, so it must not touch the store and must tolerate being
// re-invoked; reading a clock is fine. Returning an error aborts the
// resolution with nothing persisted.
type ScoreFunc func(f datatypes.Forecast, o datatypes.Outcome) (datatypes.Pair, datatypes.ResolutionStatus, error)

// pairContentHash computes the identity digest of a pair.
func pairContentHash(p datatypes.Pair) string {
	return hashing.ContentHash("pair", []hashing.Field{
		hashing.String("forecast_id", p.ForecastID),
		hashing.String("outcome_id", p.OutcomeID),
		hashing.String("alignment_method", p.AlignmentMethod),
		hashing.Float("alignment_score", p.AlignmentScore),
		hashing.Float("brier_score", p.Brier),
		hashing.Float("log_score", p.LogScore),
		hashing.Time("created_at", p.CreatedAt),
	})
}

// ResolveForecast runs the reconciliation critical section.
//
// Description:
//
//	Executes "load forecast, verify not resolved, score, write Pair,
//	update forecast" as one serializable transaction. Concurrent attempts
//	against the same forecast cannot both commit: BadgerDB aborts the
//	loser, whose retried transaction then observes the winner's terminal
//	status and reports ErrAlreadyResolved instead of corrupting state. A
//	crash between Pair creation and the forecast update is impossible by
//	construction — both writes commit or neither does.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	forecastID - Forecast to resolve. Must exist and be pending.
//	outcomeID - Outcome providing ground truth. Must exist.
//	score - Pure scoring function invoked inside the transaction.
//
// Outputs:
//
//	datatypes.Pair - The stored pair record.
//	error - ErrNotFound, ErrAlreadyResolved, the score function's error,
//	or a storage failure.
//
// Thread Safety: Safe for concurrent use; this is the one operation in the
// system that needs a true critical section.
func (s *Store) ResolveForecast(ctx context.Context, forecastID, outcomeID string, score ScoreFunc) (datatypes.Pair, error) {
	var stored datatypes.Pair

	err := s.update(ctx, func(txn *badger.Txn) error {
		var f datatypes.Forecast
		if err := getJSON(txn, prefixForecast+forecastID, &f); err != nil {
			return err
		}
		if f.Resolution.Terminal() {
			return ErrAlreadyResolved
		}
		if _, err := getString(txn, prefixPairByForecast+forecastID); err == nil {
			return ErrAlreadyResolved
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		var o datatypes.Outcome
		if err := getJSON(txn, prefixOutcome+outcomeID, &o); err != nil {
			return err
		}

		pair, status, err := score(f, o)
		if err != nil {
			return err
		}
		pair.ForecastID = forecastID
		pair.OutcomeID = outcomeID
		pair.ContentHash = pairContentHash(pair)

		head, headErr := loadHead(txn, keyPairHead)
		if headErr != nil {
			return headErr
		}
		pair.ChainHash = hashing.ChainHash(head.Hash, pair.ContentHash)
		next := chainHead{Seq: head.Seq + 1, Hash: pair.ChainHash}

		if err := setJSON(txn, prefixPair+pair.ID, pair); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixPairByForecast+forecastID), []byte(pair.ID)); err != nil {
			return err
		}
		if err := txn.Set([]byte(seqKey(prefixPairSeq, next.Seq)), []byte(pair.ID)); err != nil {
			return err
		}
		if err := setJSON(txn, keyPairHead, next); err != nil {
			return err
		}

		resolvedAt := pair.CreatedAt
		f.Resolution = status
		f.ResolvedAt = &resolvedAt
		f.OutcomeID = outcomeID
		if err := setJSON(txn, prefixForecast+forecastID, f); err != nil {
			return err
		}

		stored = pair
		return nil
	})

	if err != nil {
		return datatypes.Pair{}, err
	}
	return stored, nil
}

// GetPair returns one pair by id.
func (s *Store) GetPair(ctx context.Context, id string) (datatypes.Pair, error) {
	var p datatypes.Pair
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, prefixPair+id, &p)
	})
	return p, err
}

// PairByForecast returns the pair resolved against the given forecast, or
// ErrNotFound if the forecast is unresolved.
func (s *Store) PairByForecast(ctx context.Context, forecastID string) (datatypes.Pair, error) {
	var p datatypes.Pair
	err := s.view(ctx, func(txn *badger.Txn) error {
		pairID, err := getString(txn, prefixPairByForecast+forecastID)
		if err != nil {
			return err
		}
		return getJSON(txn, prefixPair+pairID, &p)
	})
	return p, err
}

// ResolvedForecast joins one forecast to its reconciliation pair.
type ResolvedForecast struct {
	Forecast datatypes.Forecast
	Pair     datatypes.Pair
}

// PeriodSnapshot is one scope's slice of the ledgers over a period: how
// many forecasts fall in it, and each resolved forecast joined to its pair.
type PeriodSnapshot struct {
	ForecastCount int
	Resolved      []ResolvedForecast
}

// SnapshotPeriod selects the scope's forecasts whose made-at falls in
// [start, end) and joins each to its pair, all inside a single read
// transaction. A resolution committing while the rollup runs is either
// fully visible or fully invisible, never half of each.
func (s *Store) SnapshotPeriod(ctx context.Context, scope datatypes.Scope, start, end int64) (PeriodSnapshot, error) {
	var snap PeriodSnapshot
	err := s.view(ctx, func(txn *badger.Txn) error {
		snap = PeriodSnapshot{}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixForecast)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var f datatypes.Forecast
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &f)
			}); err != nil {
				return err
			}
			at := f.MadeAt.UnixNano()
			if at < start || at >= end || !scope.Matches(f) {
				continue
			}
			snap.ForecastCount++

			pairID, err := getString(txn, prefixPairByForecast+f.ID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			var p datatypes.Pair
			if err := getJSON(txn, prefixPair+pairID, &p); err != nil {
				return err
			}
			snap.Resolved = append(snap.Resolved, ResolvedForecast{Forecast: f, Pair: p})
		}
		return nil
	})
	return snap, err
}
