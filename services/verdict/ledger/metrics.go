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
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/datatypes"
)

// metricSeriesKey orders the metric time series per scope by computation
// time. Nanosecond timestamps plus the record id make keys unique even for
// same-instant computations.
func metricSeriesKey(m datatypes.Metric) string {
	return fmt.Sprintf("%s%s:%020d:%s", prefixMetric, m.Scope.Key(), m.ComputedAt.UnixNano(), m.ID)
}

// AppendMetric appends one metric to its scope's time series and advances
// the latest-metric pointer. Prior records are never touched; the series
// is the drift-comparison history and must stay append-only.
func (s *Store) AppendMetric(ctx context.Context, m datatypes.Metric) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if err := setJSON(txn, metricSeriesKey(m), m); err != nil {
			return err
		}
		return txn.Set([]byte(prefixMetricLatest+m.Scope.Key()), []byte(metricSeriesKey(m)))
	})
}

// LatestMetric returns the most recent metric for a scope, or ErrNotFound
// if none has been computed yet.
func (s *Store) LatestMetric(ctx context.Context, scope datatypes.Scope) (datatypes.Metric, error) {
	var m datatypes.Metric
	err := s.view(ctx, func(txn *badger.Txn) error {
		seriesKey, err := getString(txn, prefixMetricLatest+scope.Key())
		if err != nil {
			return err
		}
		return getJSON(txn, seriesKey, &m)
	})
	return m, err
}

// MetricsForScope returns the scope's metric series in computation order,
// newest last. A non-positive limit returns the full series.
func (s *Store) MetricsForScope(ctx context.Context, scope datatypes.Scope, limit int) ([]datatypes.Metric, error) {
	var out []datatypes.Metric
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixMetric + scope.Key() + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var m datatypes.Metric
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
