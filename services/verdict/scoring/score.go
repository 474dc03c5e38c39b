// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scoring implements the forecast accuracy math: alignment,
// Brier score, log score, calibration error, and drift detection.
//
// Everything here is pure computation with no shared state. The formulas
// are exact and deterministic so an external auditor can recompute any
// stored score from the ledger records alone.
package scoring

import (
	"fmt"
	"math"
	"strings"
)

// Epsilon clamps probabilities before taking logarithms so a zero or one
// probability forecast yields a large but finite penalty.
const Epsilon = 0.001

// DriftBrierThreshold is the absolute Brier delta versus the preceding
// metric beyond which drift is flagged.
const DriftBrierThreshold = 0.02

// DriftHitRateThreshold is the absolute hit-rate delta beyond which drift
// is flagged.
const DriftHitRateThreshold = 0.05

// Aligner decides whether a forecast value matched an outcome value.
// The default is exact matching; non-binary methods can be registered for
// future forecast kinds without touching the reconciliation engine.
type Aligner interface {
	// Name is the method identifier stored on the Pair record.
	Name() string

	// Align returns the alignment score in [0, 1]. For binary methods the
	// score is exactly 0 or 1.
	Align(forecastValue, outcomeValue string) float64
}

// ExactAligner matches values byte-for-byte after trimming whitespace.
type ExactAligner struct{}

// Name returns "exact".
func (ExactAligner) Name() string { return "exact" }

// Align returns 1 if the trimmed values are equal, else 0.
func (ExactAligner) Align(forecastValue, outcomeValue string) float64 {
	if strings.TrimSpace(forecastValue) == strings.TrimSpace(outcomeValue) {
		return 1
	}
	return 0
}

// AlignerFor returns the aligner registered under name, defaulting to
// exact matching for an empty name.
func AlignerFor(name string) (Aligner, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "exact":
		return ExactAligner{}, nil
	default:
		return nil, fmt.Errorf("unknown alignment method %q", name)
	}
}

// Brier returns the Brier score (probability − indicator)².
// Lower is better; 0 is a perfectly confident correct forecast.
func Brier(probability, indicator float64) float64 {
	d := probability - indicator
	return d * d
}

// LogScore returns the negative log-likelihood of the realized outcome
// under the forecast probability, clamped by Epsilon.
//
//	indicator=1: −ln(max(p, ε))
//	indicator=0: −ln(max(1−p, ε))
//
// The clamp keeps a zero/one-probability forecast at −ln(0.001) ≈ 6.9078
// instead of +Inf.
func LogScore(probability, indicator float64) float64 {
	p := probability
	if indicator < 0.5 {
		p = 1 - probability
	}
	return -math.Log(math.Max(p, Epsilon))
}

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
// Callers are responsible for never reporting a mean of an empty sample.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the sample standard deviation of xs (n−1 denominator),
// or 0 for fewer than two samples.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// WilsonBounds returns the 95% Wilson score interval for hits out of n
// trials. Returns (0, 0) for n == 0.
func WilsonBounds(hits, n int) (low, high float64) {
	if n == 0 {
		return 0, 0
	}
	const z = 1.959963984540054 // 97.5th percentile of the standard normal
	nf := float64(n)
	p := float64(hits) / nf
	z2 := z * z
	denom := 1 + z2/nf
	center := p + z2/(2*nf)
	margin := z * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf))
	low = (center - margin) / denom
	high = (center + margin) / denom
	return math.Max(0, low), math.Min(1, high)
}
