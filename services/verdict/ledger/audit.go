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

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/datatypes"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/hashing"
)

// ChainReport is the result of verifying one record kind's hash chain.
type ChainReport struct {
	Kind     string `json:"kind"`
	Records  int    `json:"records"`
	Valid    bool   `json:"valid"`
	BrokenAt string `json:"broken_at,omitempty"` // record id of the first break
	Detail   string `json:"detail,omitempty"`
}

// VerifyChains walks every ledger chain in append order, recomputing each
// record's content hash from its stored fields and each chain link from
// its predecessor, and reports the first break per chain.
//
// Description:
//
//	This is the tamper-evidence surface consumed by external audit
//	tooling. A mutated field changes the recomputed content hash; a
//	removed or reordered record changes every subsequent chain hash.
//	Verification reads from one snapshot transaction per chain, so it
//	neither blocks nor is blocked by ongoing appends.
//
// Outputs:
//
//	[]ChainReport - One report per record kind (forecast, outcome, pair).
//	error - Storage failure only; a broken chain is reported, not returned.
func (s *Store) VerifyChains(ctx context.Context) ([]ChainReport, error) {
	reports := make([]ChainReport, 0, 3)

	forecastReport, err := s.verifyChain(ctx, "forecast", prefixForecastSeq,
		func(txn *badger.Txn, id string) (contentHash, chainHash string, err error) {
			var f datatypes.Forecast
			if err := getJSON(txn, prefixForecast+id, &f); err != nil {
				return "", "", err
			}
			return forecastContentHash(f), f.ChainHash, nil
		})
	if err != nil {
		return nil, err
	}
	reports = append(reports, forecastReport)

	outcomeReport, err := s.verifyChain(ctx, "outcome", prefixOutcomeSeq,
		func(txn *badger.Txn, id string) (string, string, error) {
			var o datatypes.Outcome
			if err := getJSON(txn, prefixOutcome+id, &o); err != nil {
				return "", "", err
			}
			return outcomeContentHash(o), o.ChainHash, nil
		})
	if err != nil {
		return nil, err
	}
	reports = append(reports, outcomeReport)

	pairReport, err := s.verifyChain(ctx, "pair", prefixPairSeq,
		func(txn *badger.Txn, id string) (string, string, error) {
			var p datatypes.Pair
			if err := getJSON(txn, prefixPair+id, &p); err != nil {
				return "", "", err
			}
			return pairContentHash(p), p.ChainHash, nil
		})
	if err != nil {
		return nil, err
	}
	reports = append(reports, pairReport)

	return reports, nil
}

// hashesAt loads one record and returns its recomputed content hash and
// its stored chain hash.
type hashesAt func(txn *badger.Txn, id string) (contentHash, chainHash string, err error)

func (s *Store) verifyChain(ctx context.Context, kind, seqPrefix string, load hashesAt) (ChainReport, error) {
	report := ChainReport{Kind: kind, Valid: true}

	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(seqPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		prev := ""
		for it.Rewind(); it.Valid(); it.Next() {
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}

			contentHash, storedChain, err := load(txn, id)
			if err != nil {
				return fmt.Errorf("load %s %s: %w", kind, id, err)
			}

			expected := hashing.ChainHash(prev, contentHash)
			if expected != storedChain {
				report.Valid = false
				report.BrokenAt = id
				report.Detail = fmt.Sprintf("%s: %s record %s", ErrChainBroken, kind, id)
				return nil
			}
			prev = storedChain
			report.Records++
		}
		return nil
	})
	if err != nil {
		return ChainReport{}, err
	}
	return report, nil
}
