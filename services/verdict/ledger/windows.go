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

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ArbiterAI/ArbiterFOSS/services/verdict/datatypes"
)

// CreateWindow persists a new observation window.
func (s *Store) CreateWindow(ctx context.Context, w datatypes.Window) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, prefixWindow+w.ID, w)
	})
}

// GetWindow returns one window by id.
func (s *Store) GetWindow(ctx context.Context, id string) (datatypes.Window, error) {
	var w datatypes.Window
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, prefixWindow+id, &w)
	})
	return w, err
}

// UpdateWindow applies fn to the stored window inside one transaction.
// Window records are gate control state, the one deliberately mutable
// record kind; every transition still goes through this single
// read-modify-write path so concurrent evaluators cannot interleave.
func (s *Store) UpdateWindow(ctx context.Context, id string, fn func(w *datatypes.Window) error) (datatypes.Window, error) {
	var updated datatypes.Window
	err := s.update(ctx, func(txn *badger.Txn) error {
		var w datatypes.Window
		if err := getJSON(txn, prefixWindow+id, &w); err != nil {
			return err
		}
		if err := fn(&w); err != nil {
			return err
		}
		if err := setJSON(txn, prefixWindow+id, w); err != nil {
			return err
		}
		updated = w
		return nil
	})
	return updated, err
}
