// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"strings"
)

// ScopeKind is the closed set of rollup scopes. Filter construction
// switches exhaustively over this type; adding a kind without extending
// Matches is a compile-away bug the tests catch.
type ScopeKind string

const (
	ScopeGlobal ScopeKind = "global"
	ScopeAgent  ScopeKind = "agent"
	ScopeDomain ScopeKind = "domain"
	ScopeKindOf ScopeKind = "kind"
	ScopeModel  ScopeKind = "model"
	ScopePeriod ScopeKind = "period"
)

// Scope selects which forecasts a metric rolls up.
type Scope struct {
	Kind  ScopeKind `json:"kind"`
	Value string    `json:"value,omitempty"`
}

// ParseScope builds a Scope from kind and value strings.
//
// Global and period scopes take no value; every other kind requires one.
func ParseScope(kind, value string) (Scope, error) {
	k := ScopeKind(strings.ToLower(strings.TrimSpace(kind)))
	value = strings.TrimSpace(value)
	switch k {
	case ScopeGlobal, ScopePeriod:
		if value != "" {
			return Scope{}, fmt.Errorf("scope %q takes no value", k)
		}
		return Scope{Kind: k}, nil
	case ScopeAgent, ScopeDomain, ScopeKindOf, ScopeModel:
		if value == "" {
			return Scope{}, fmt.Errorf("scope %q requires a value", k)
		}
		return Scope{Kind: k, Value: value}, nil
	default:
		return Scope{}, fmt.Errorf("unknown scope kind %q", kind)
	}
}

// Matches reports whether a forecast falls inside the scope. The period
// bounds are applied separately by the aggregator; period and global
// scopes therefore match every forecast here.
func (s Scope) Matches(f Forecast) bool {
	switch s.Kind {
	case ScopeGlobal, ScopePeriod:
		return true
	case ScopeAgent:
		return f.Source == s.Value
	case ScopeDomain:
		return f.Domain == s.Value
	case ScopeKindOf:
		return string(f.Kind) == s.Value
	case ScopeModel:
		return f.ModelID == s.Value
	default:
		return false
	}
}

// Key returns the stable storage key segment for the scope, used to order
// the metric time series per scope.
func (s Scope) Key() string {
	if s.Value == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + "/" + s.Value
}

// String implements fmt.Stringer.
func (s Scope) String() string {
	return s.Key()
}
