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
	"errors"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/datatypes"
	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/hashing"
)

// outcomeContentHash computes the identity digest of an outcome.
func outcomeContentHash(o datatypes.Outcome) string {
	return hashing.ContentHash("outcome", []hashing.Field{
		hashing.String("kind", string(o.Kind)),
		hashing.String("domain", o.Domain),
		hashing.String("value", o.Value),
		hashing.Time("observed_at", o.ObservedAt),
		hashing.String("evidence_source", o.EvidenceSource),
	})
}

// AppendOutcome appends one outcome to the ledger.
//
// The evidence independence check must have passed before this is invoked;
// the ledger persists blindly. Content-hash collisions are idempotent
// duplicates, mirroring forecasts.
func (s *Store) AppendOutcome(ctx context.Context, o datatypes.Outcome) (datatypes.Outcome, bool, error) {
	o.ContentHash = outcomeContentHash(o)

	var (
		stored  datatypes.Outcome
		created bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		// Reset on conflict retry so a racing identical submission reports
		// the duplicate.
		stored, created = datatypes.Outcome{}, false

		existingID, err := getString(txn, prefixOutcomeHash+o.ContentHash)
		if err == nil {
			return getJSON(txn, prefixOutcome+existingID, &stored)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		head, headErr := loadHead(txn, keyOutcomeHead)
		if headErr != nil {
			return headErr
		}
		o.ChainHash = hashing.ChainHash(head.Hash, o.ContentHash)
		next := chainHead{Seq: head.Seq + 1, Hash: o.ChainHash}

		if err := setJSON(txn, prefixOutcome+o.ID, o); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixOutcomeHash+o.ContentHash), []byte(o.ID)); err != nil {
			return err
		}
		if err := txn.Set([]byte(seqKey(prefixOutcomeSeq, next.Seq)), []byte(o.ID)); err != nil {
			return err
		}
		if err := setJSON(txn, keyOutcomeHead, next); err != nil {
			return err
		}
		stored = o
		created = true
		return nil
	})
	if err != nil {
		return datatypes.Outcome{}, false, err
	}
	return stored, created, nil
}

// GetOutcome returns one outcome by id.
func (s *Store) GetOutcome(ctx context.Context, id string) (datatypes.Outcome, error) {
	var o datatypes.Outcome
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, prefixOutcome+id, &o)
	})
	return o, err
}
