// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the verdict service.
//
// Metrics are exposed via the /metrics endpoint. All metric operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "arbiter"

// Subsystem for verdict metrics.
const verdictSubsystem = "verdict"

// VerdictMetrics holds the Prometheus metrics for ledger and gate
// operations. Initialize once at startup via NewVerdictMetrics().
type VerdictMetrics struct {
	// LedgerAppendsTotal counts ledger appends.
	// Labels: kind (forecast, outcome, pair, metric), result (created, duplicate, rejected)
	LedgerAppendsTotal *prometheus.CounterVec

	// EvidenceRejectionsTotal counts outcome submissions rejected by the
	// evidence-independence check.
	// Labels: source
	EvidenceRejectionsTotal *prometheus.CounterVec

	// ResolutionsTotal counts resolution attempts.
	// Labels: status (correct, incorrect, expired, already_resolved, error)
	ResolutionsTotal *prometheus.CounterVec

	// AggregationDurationSeconds measures metric computation latency.
	// Labels: scope_kind
	AggregationDurationSeconds *prometheus.HistogramVec

	// DriftFlagsTotal counts metrics flagged for drift.
	// Labels: scope_kind, direction (improving, degrading)
	DriftFlagsTotal *prometheus.CounterVec

	// GateCyclesTotal counts stability-gate cycle evaluations.
	// Labels: outcome (stable, failed, rolled_back)
	GateCyclesTotal *prometheus.CounterVec

	// ActiveWindows tracks currently active observation windows.
	ActiveWindows prometheus.Gauge
}

// NewVerdictMetrics creates and registers the verdict metrics with the
// given registerer. Pass nil to register with the default registry.
func NewVerdictMetrics(reg prometheus.Registerer) *VerdictMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &VerdictMetrics{
		LedgerAppendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: verdictSubsystem,
			Name:      "ledger_appends_total",
			Help:      "Ledger append operations by record kind and result.",
		}, []string{"kind", "result"}),

		EvidenceRejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: verdictSubsystem,
			Name:      "evidence_rejections_total",
			Help:      "Outcome submissions rejected by the evidence-independence check.",
		}, []string{"source"}),

		ResolutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: verdictSubsystem,
			Name:      "resolutions_total",
			Help:      "Forecast resolution attempts by final status.",
		}, []string{"status"}),

		AggregationDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: verdictSubsystem,
			Name:      "aggregation_duration_seconds",
			Help:      "Skill metric computation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scope_kind"}),

		DriftFlagsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: verdictSubsystem,
			Name:      "drift_flags_total",
			Help:      "Skill metrics flagged for drift versus their predecessor.",
		}, []string{"scope_kind", "direction"}),

		GateCyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: verdictSubsystem,
			Name:      "gate_cycles_total",
			Help:      "Stability-gate cycle evaluations by outcome.",
		}, []string{"outcome"}),

		ActiveWindows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: verdictSubsystem,
			Name:      "active_windows",
			Help:      "Observation windows currently accepting cycle evaluations.",
		}),
	}
}
