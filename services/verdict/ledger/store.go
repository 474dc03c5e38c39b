// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger persists the verdict record kinds in BadgerDB.
//
// Forecast, Outcome, and Pair stores are append-only by construction: the
// package exports no update or delete entry points for them. The single
// mutation the system ever performs — writing a forecast's resolution
// fields — happens inside ResolveForecast's transaction and is unreachable
// any other way. Metric records append to a per-scope time series. Window
// records are gate control state and go through a transactional
// read-modify-write.
//
// # Key Layout
//
//	fc:<id>          Forecast record (JSON)
//	fch:<hash>       content hash -> forecast id (idempotency index)
//	fcq:<seq>        append sequence -> forecast id (chain order)
//	fchead           chain head {seq, hash}
//	oc:* / och:* / ocq:* / ochead    same layout for outcomes
//	pr:* / prq:* / prhead            same layout for pairs
//	prf:<forecastID> forecast id -> pair id (1:1 index)
//	mt:<scope>:<nanos>:<id>          metric series, ordered per scope
//	mtl:<scope>      latest metric id per scope
//	wd:<id>          window record (JSON)
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	storage "github.com/ArbiterAI/ArbiterFOSS/services/verdict/storage/badger"
)

// Sentinel errors for ledger operations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyResolved indicates a second resolution attempt against a
	// forecast that already has a terminal status or a pair record.
	ErrAlreadyResolved = errors.New("forecast already resolved")

	// ErrChainBroken indicates audit verification found a record whose
	// content or chain hash does not match its fields.
	ErrChainBroken = errors.New("hash chain broken")
)

// Key prefixes. Records are JSON values under typed prefixes; indexes map
// back to record ids.
const (
	prefixForecast     = "fc:"
	prefixForecastHash = "fch:"
	prefixForecastSeq  = "fcq:"
	keyForecastHead    = "fchead"

	prefixOutcome     = "oc:"
	prefixOutcomeHash = "och:"
	prefixOutcomeSeq  = "ocq:"
	keyOutcomeHead    = "ochead"

	prefixPair           = "pr:"
	prefixPairSeq        = "prq:"
	keyPairHead          = "prhead"
	prefixPairByForecast = "prf:"

	prefixMetric       = "mt:"
	prefixMetricLatest = "mtl:"

	prefixWindow = "wd:"
)

// chainHead tracks the tail of one record kind's hash chain.
type chainHead struct {
	Seq  uint64 `json:"seq"`
	Hash string `json:"hash"`
}

// Store persists verdict records. Safe for concurrent use; all invariants
// are enforced inside BadgerDB transactions, not by external locking.
type Store struct {
	db *storage.DB
}

// New wraps an open BadgerDB in a Store.
func New(db *storage.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying database for lifecycle management.
func (s *Store) DB() *storage.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// getJSON loads and unmarshals one record inside a transaction.
func getJSON(txn *badger.Txn, key string, out any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, out); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}

// setJSON marshals and writes one record inside a transaction.
func setJSON(txn *badger.Txn, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := txn.Set([]byte(key), raw); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// getString loads a plain string value (index entry) inside a transaction.
func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	var out string
	err = item.Value(func(val []byte) error {
		out = string(val)
		return nil
	})
	return out, err
}

// loadHead reads a chain head, returning the zero head for a fresh chain.
func loadHead(txn *badger.Txn, key string) (chainHead, error) {
	var head chainHead
	err := getJSON(txn, key, &head)
	if errors.Is(err, ErrNotFound) {
		return chainHead{}, nil
	}
	return head, err
}

// seqKey formats an append sequence number so keys sort in append order.
func seqKey(prefix string, seq uint64) string {
	return fmt.Sprintf("%s%016d", prefix, seq)
}

// view runs fn in a read-only snapshot transaction.
func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	return s.db.WithReadTxn(ctx, fn)
}

// update runs fn in a read-write serializable transaction, retrying on
// optimistic-concurrency conflicts.
//
// Every append of a record kind reads and advances that kind's chain head,
// so two concurrent appends always collide on the head key and BadgerDB
// aborts one of them with ErrConflict. A conflict means another
// transaction committed, so retrying always makes progress; fn re-runs
// from a fresh snapshot and must reset any state it captures. The loop is
// bounded by the caller's context, which WithTxn checks before each
// attempt.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for {
		err := s.db.WithTxn(ctx, fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}
