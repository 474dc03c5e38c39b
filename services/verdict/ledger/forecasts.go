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

// forecastContentHash computes the identity digest of a forecast over its
// identifying fields (kind, source, domain, value, probability, made-at).
// This is the collision surface for idempotent deduplication.
func forecastContentHash(f datatypes.Forecast) string {
	return hashing.ContentHash("forecast", []hashing.Field{
		hashing.String("kind", string(f.Kind)),
		hashing.String("source", f.Source),
		hashing.String("domain", f.Domain),
		hashing.String("value", f.Value),
		hashing.Float("probability", f.Probability),
		hashing.Time("made_at", f.MadeAt),
	})
}

// AppendForecast appends one forecast to the ledger.
//
// Description:
//
//	Computes the forecast's content hash and, in a single transaction,
//	either returns the pre-existing record with the same hash (idempotent
//	duplicate, not an error) or appends the record with a fresh chain
//	link. The caller supplies a fully validated forecast with ID,
//	timestamps, and pending resolution status already set.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	f - The forecast to append. ContentHash and ChainHash are overwritten.
//
// Outputs:
//
//	datatypes.Forecast - The stored record (the existing one on duplicate).
//	bool - True if the record was newly appended; false on duplicate.
//	error - Storage failure.
func (s *Store) AppendForecast(ctx context.Context, f datatypes.Forecast) (datatypes.Forecast, bool, error) {
	f.ContentHash = forecastContentHash(f)
	f.Resolution = datatypes.ResolutionPending

	var (
		stored  datatypes.Forecast
		created bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		// The transaction re-runs after a conflict; a racing identical
		// submission must come back as the duplicate, not as created.
		stored, created = datatypes.Forecast{}, false

		existingID, err := getString(txn, prefixForecastHash+f.ContentHash)
		if err == nil {
			return getJSON(txn, prefixForecast+existingID, &stored)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		head, headErr := loadHead(txn, keyForecastHead)
		if headErr != nil {
			return headErr
		}
		f.ChainHash = hashing.ChainHash(head.Hash, f.ContentHash)
		next := chainHead{Seq: head.Seq + 1, Hash: f.ChainHash}

		if err := setJSON(txn, prefixForecast+f.ID, f); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixForecastHash+f.ContentHash), []byte(f.ID)); err != nil {
			return err
		}
		if err := txn.Set([]byte(seqKey(prefixForecastSeq, next.Seq)), []byte(f.ID)); err != nil {
			return err
		}
		if err := setJSON(txn, keyForecastHead, next); err != nil {
			return err
		}
		stored = f
		created = true
		return nil
	})
	if err != nil {
		return datatypes.Forecast{}, false, err
	}
	return stored, created, nil
}

// GetForecast returns one forecast by id.
func (s *Store) GetForecast(ctx context.Context, id string) (datatypes.Forecast, error) {
	var f datatypes.Forecast
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, prefixForecast+id, &f)
	})
	return f, err
}

// ForecastsInPeriod returns every forecast whose made-at timestamp falls in
// [start, end) and that matches the scope. The read runs against one
// snapshot transaction, so concurrent appends neither block nor are seen.
func (s *Store) ForecastsInPeriod(ctx context.Context, scope datatypes.Scope, start, end int64) ([]datatypes.Forecast, error) {
	var out []datatypes.Forecast
	err := s.view(ctx, func(txn *badger.Txn) error {
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
			if at < start || at >= end {
				continue
			}
			if !scope.Matches(f) {
				continue
			}
			out = append(out, f)
		}
		return nil
	})
	return out, err
}
