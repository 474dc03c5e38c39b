// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scoring

// CalibrationBins is the fixed reliability-diagram binning: ten equal-width
// probability bins. The scheme is deliberately pinned so calibration error
// values are comparable across metric records and reimplementations.
const CalibrationBins = 10

// Sample is one resolved forecast for calibration purposes.
type Sample struct {
	// Probability is the stated forecast probability.
	Probability float64

	// Hit reports whether the forecast value matched the outcome.
	Hit bool
}

// bin aggregates the samples falling into one probability interval.
type bin struct {
	count   int
	sumProb float64
	hits    int
}

// CalibrationError computes the reliability-diagram calibration error:
// bucket samples into ten equal-width probability bins, compare each bin's
// mean stated probability to its empirical hit frequency, and return the
// sample-weighted mean absolute difference across non-empty bins.
//
// Returns (0, false) for an empty sample; an empty sample has no
// calibration, and callers must not report one.
func CalibrationError(samples []Sample) (float64, bool) {
	if len(samples) == 0 {
		return 0, false
	}

	var bins [CalibrationBins]bin
	for _, s := range samples {
		idx := int(s.Probability * CalibrationBins)
		if idx >= CalibrationBins {
			idx = CalibrationBins - 1 // p == 1.0 lands in the top bin
		}
		if idx < 0 {
			idx = 0
		}
		bins[idx].count++
		bins[idx].sumProb += s.Probability
		if s.Hit {
			bins[idx].hits++
		}
	}

	var weighted float64
	for _, b := range bins {
		if b.count == 0 {
			continue
		}
		meanProb := b.sumProb / float64(b.count)
		freq := float64(b.hits) / float64(b.count)
		gap := meanProb - freq
		if gap < 0 {
			gap = -gap
		}
		weighted += gap * float64(b.count)
	}
	return weighted / float64(len(samples)), true
}
