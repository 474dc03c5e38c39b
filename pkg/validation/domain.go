// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for caller-provided inputs that end up in
// database keys, log lines, or canonical hashes. Using these validators keeps
// malformed identifiers out of the ledgers entirely instead of relying on
// downstream checks.
package validation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// domainPattern matches valid domain symbols.
// Allows: uppercase letters, digits, dots (BRK.A), hyphens (BTC-USD)
// Max length: 20 characters (covers asset pairs and macro series codes)
var domainPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,19}$`)

// sourcePattern matches agent, model, and evidence source identifiers.
// Lowercase slug form: letters, digits, dots, hyphens, underscores.
var sourcePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,63}$`)

// ValidateDomain validates a domain symbol (asset pair or subject code).
//
// Valid domains:
//   - 1-20 characters
//   - Uppercase letters A-Z
//   - Digits 0-9
//   - Dots (.) for class shares like BRK.A
//   - Hyphens (-) for pairs like BTC-USD
//
// Returns an error if the domain is invalid.
//
// Example:
//
//	if err := validation.ValidateDomain(domain); err != nil {
//	    return nil, fmt.Errorf("invalid domain: %w", err)
//	}
func ValidateDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("domain cannot be empty")
	}
	if !domainPattern.MatchString(domain) {
		return fmt.Errorf("invalid domain format: %q (must be 1-20 uppercase alphanumeric chars, dots, or hyphens)", domain)
	}
	return nil
}

// SanitizeDomain normalizes and validates a domain symbol.
// Returns the uppercase domain if valid, or an error if invalid.
func SanitizeDomain(domain string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(domain))
	if err := ValidateDomain(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateSourceID validates an agent, model, or evidence source identifier.
//
// Source identifiers are lowercase slugs (1-64 chars) so they can be used
// directly as metric label values and database key segments.
func ValidateSourceID(source string) error {
	if source == "" {
		return fmt.Errorf("source identifier cannot be empty")
	}
	if !sourcePattern.MatchString(source) {
		return fmt.Errorf("invalid source identifier: %q (must be 1-64 lowercase alphanumeric chars, dots, underscores, or hyphens)", source)
	}
	return nil
}

// ValidateProbability validates that p is a real number in [0, 1].
//
// NaN and infinities are rejected; they would otherwise poison every
// downstream score computed from the value.
func ValidateProbability(name string, p float64) error {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return fmt.Errorf("%s must be a finite number", name)
	}
	if p < 0 || p > 1 {
		return fmt.Errorf("%s must be in [0, 1], got %v", name, p)
	}
	return nil
}
