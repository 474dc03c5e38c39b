// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hashing provides canonical serialization and content hashing for
// ledger records.
//
// Every record kind (forecast, outcome, pair, metric, window) is hashed
// through the same code path so that a digest computed here is reproducible
// by any external auditor given the same fields. There is exactly one
// serialization scheme; write sites must never hash ad hoc.
//
// # Canonical Form
//
// Fields are serialized as "key=value" pairs, sorted by key, joined with
// "\n", and prefixed with the record kind:
//
//	forecast\ndomain=BTC-USD\nkind=price-direction\n...
//
// Keys and values are percent-escaped for '\n', '=' and '%' so the encoding
// is unambiguous. Timestamps must be passed as RFC 3339 UTC strings and
// floats via FormatFloat to keep the form stable across platforms.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Field is one key/value pair included in a content hash.
type Field struct {
	Key   string
	Value string
}

// String builds a Field from a string value.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Float builds a Field from a float64 value using the shortest
// round-trippable representation.
func Float(key string, value float64) Field {
	return Field{Key: key, Value: strconv.FormatFloat(value, 'g', -1, 64)}
}

// Time builds a Field from a timestamp, normalized to RFC 3339 UTC with
// nanosecond precision.
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.UTC().Format(time.RFC3339Nano)}
}

// escaper makes the canonical form unambiguous regardless of field content.
var escaper = strings.NewReplacer("%", "%25", "\n", "%0A", "=", "%3D")

// Canonical returns the canonical serialization of a record.
//
// Description:
//
//	Sorts fields by key, escapes keys and values, and joins them into a
//	single deterministic string prefixed with the record kind. Two records
//	with the same kind and fields always produce an identical canonical
//	form, independent of field order at the call site.
//
// Inputs:
//
//	kind - Record kind label (e.g. "forecast"). Must be non-empty.
//	fields - Fields to include. Duplicate keys are kept in sorted order.
//
// Outputs:
//
//	string - The canonical serialization.
func Canonical(kind string, fields []Field) string {
	sorted := make([]Field, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	b.WriteString(escaper.Replace(kind))
	for _, f := range sorted {
		b.WriteByte('\n')
		b.WriteString(escaper.Replace(f.Key))
		b.WriteByte('=')
		b.WriteString(escaper.Replace(f.Value))
	}
	return b.String()
}

// ContentHash returns the hex-encoded SHA-256 digest of a record's
// canonical form.
//
// Description:
//
//	This is the globally unique identity digest stored on every record.
//	Records submitted twice with identical identifying fields collide here,
//	which the ledgers treat as an idempotent duplicate.
//
// Inputs:
//
//	kind - Record kind label.
//	fields - Identifying fields of the record.
//
// Outputs:
//
//	string - 64 hex characters.
func ContentHash(kind string, fields []Field) string {
	sum := sha256.Sum256([]byte(Canonical(kind, fields)))
	return hex.EncodeToString(sum[:])
}

// ChainHash links a record's content hash to the previous record of the
// same kind, forming a tamper-evident chain.
//
// Description:
//
//	Computes SHA-256 over "prev\ncontent". The first record of a chain uses
//	an empty previous hash. Any mutation of an earlier record changes every
//	subsequent chain hash, which the audit verifier detects.
//
// Inputs:
//
//	prev - Chain hash of the preceding record, or "" for the genesis record.
//	contentHash - Content hash of the current record.
//
// Outputs:
//
//	string - 64 hex characters.
func ChainHash(prev, contentHash string) string {
	sum := sha256.Sum256([]byte(prev + "\n" + contentHash))
	return hex.EncodeToString(sum[:])
}

// IsHexDigest reports whether s looks like a hex-encoded SHA-256 digest.
// Used to validate snapshot references before accepting a forecast.
func IsHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
