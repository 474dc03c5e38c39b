// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ArbiterAI/ArbiterFOSS/services/verdict"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	metricScopeKind  string
	metricScopeValue string
	metricStart      string
	metricEnd        string
	metricLimit      int

	windowScopeKind  string
	windowScopeValue string
	windowParams     map[string]string
	windowMinCycles  int
	windowTolerance  float64
	windowBudget     string

	cycleNumber int
	cycleParams map[string]string
	cycleStart  string
	cycleEnd    string

	clearReason string
)

func parsePeriod(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--start must be RFC 3339: %w", err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--end must be RFC 3339: %w", err)
	}
	return s, e, nil
}

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Compute and list skill metrics",
}

var metricsComputeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute a scoped skill metric rollup",
	Example: `  arbiter metrics compute --scope-kind domain --scope-value BTC-USD \
    --start 2026-08-01T00:00:00Z --end 2026-09-01T00:00:00Z`,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, end, err := parsePeriod(metricStart, metricEnd)
		if err != nil {
			return err
		}
		req := verdict.ComputeMetricsRequest{
			ScopeKind:   metricScopeKind,
			ScopeValue:  metricScopeValue,
			PeriodStart: start,
			PeriodEnd:   end,
		}
		var resp verdict.MetricResponse
		if err := callServer("POST", "/v1/verdict/metrics/compute", req, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var metricsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a scope's metric series, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		q.Set("scope_kind", metricScopeKind)
		if metricScopeValue != "" {
			q.Set("scope_value", metricScopeValue)
		}
		q.Set("limit", strconv.Itoa(metricLimit))
		var resp verdict.MetricSeriesResponse
		if err := callServer("GET", "/v1/verdict/metrics?"+q.Encode(), nil, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Drive stability observation windows",
	Long: `Stability windows watch successive skill metrics for a scope. A
window becomes eligible after the configured run of consecutive stable
cycles under an unchanged frozen parameter set; clearing an eligible
window is the explicit governance action.`,
}

var windowOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open an observation window",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := verdict.OpenWindowRequest{
			ScopeKind:    windowScopeKind,
			ScopeValue:   windowScopeValue,
			FrozenParams: windowParams,
			MinCycles:    windowMinCycles,
			Tolerance:    windowTolerance,
			CycleBudget:  windowBudget,
		}
		var resp verdict.WindowResponse
		if err := callServer("POST", "/v1/verdict/windows", req, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var windowEvaluateCmd = &cobra.Command{
	Use:   "evaluate <window-id>",
	Short: "Run one stability cycle for a window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, end, err := parsePeriod(cycleStart, cycleEnd)
		if err != nil {
			return err
		}
		req := verdict.EvaluateCycleRequest{
			Cycle:       cycleNumber,
			Params:      cycleParams,
			PeriodStart: start,
			PeriodEnd:   end,
		}
		var resp verdict.WindowResponse
		if err := callServer("POST", "/v1/verdict/windows/"+args[0]+"/evaluate", req, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var windowClearCmd = &cobra.Command{
	Use:   "clear <window-id>",
	Short: "Clear an eligible window (governance action)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := verdict.ClearWindowRequest{Reason: clearReason}
		var resp verdict.WindowResponse
		if err := callServer("POST", "/v1/verdict/windows/"+args[0]+"/clear", req, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var windowStatusCmd = &cobra.Command{
	Use:   "status <window-id>",
	Short: "Show a window's control state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp verdict.WindowResponse
		if err := callServer("GET", "/v1/verdict/windows/"+args[0], nil, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify the ledger hash chains",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp verdict.AuditResponse
		if err := callServer("GET", "/v1/verdict/audit/verify", nil, &resp); err != nil {
			return err
		}
		if err := printJSON(resp); err != nil {
			return err
		}
		if !resp.Valid {
			return fmt.Errorf("ledger chain verification failed")
		}
		return nil
	},
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	metricsComputeCmd.Flags().StringVar(&metricScopeKind, "scope-kind", "global", "Scope kind (global, agent, domain, kind, model, period)")
	metricsComputeCmd.Flags().StringVar(&metricScopeValue, "scope-value", "", "Scope value; empty for global")
	metricsComputeCmd.Flags().StringVar(&metricStart, "start", "", "Period start (RFC 3339)")
	metricsComputeCmd.Flags().StringVar(&metricEnd, "end", "", "Period end (RFC 3339)")
	_ = metricsComputeCmd.MarkFlagRequired("start")
	_ = metricsComputeCmd.MarkFlagRequired("end")

	metricsListCmd.Flags().StringVar(&metricScopeKind, "scope-kind", "global", "Scope kind")
	metricsListCmd.Flags().StringVar(&metricScopeValue, "scope-value", "", "Scope value")
	metricsListCmd.Flags().IntVar(&metricLimit, "limit", 20, "Maximum metrics to return")

	metricsCmd.AddCommand(metricsComputeCmd)
	metricsCmd.AddCommand(metricsListCmd)

	windowOpenCmd.Flags().StringVar(&windowScopeKind, "scope-kind", "global", "Scope kind")
	windowOpenCmd.Flags().StringVar(&windowScopeValue, "scope-value", "", "Scope value")
	windowOpenCmd.Flags().StringToStringVar(&windowParams, "param", nil, "Frozen parameter as key=value (repeatable)")
	windowOpenCmd.Flags().IntVar(&windowMinCycles, "min-cycles", 2, "Consecutive stable cycles required")
	windowOpenCmd.Flags().Float64Var(&windowTolerance, "tolerance", 0.02, "Brier-mean deviation tolerance")
	windowOpenCmd.Flags().StringVar(&windowBudget, "budget", "", "Cycle execution budget, e.g. 30s")

	windowEvaluateCmd.Flags().IntVar(&cycleNumber, "cycle", 0, "1-based cycle number")
	windowEvaluateCmd.Flags().StringToStringVar(&cycleParams, "param", nil, "Current parameter as key=value (repeatable)")
	windowEvaluateCmd.Flags().StringVar(&cycleStart, "start", "", "Cycle period start (RFC 3339)")
	windowEvaluateCmd.Flags().StringVar(&cycleEnd, "end", "", "Cycle period end (RFC 3339)")
	_ = windowEvaluateCmd.MarkFlagRequired("cycle")
	_ = windowEvaluateCmd.MarkFlagRequired("start")
	_ = windowEvaluateCmd.MarkFlagRequired("end")

	windowClearCmd.Flags().StringVar(&clearReason, "reason", "", "Governance justification")
	_ = windowClearCmd.MarkFlagRequired("reason")

	windowCmd.AddCommand(windowOpenCmd)
	windowCmd.AddCommand(windowEvaluateCmd)
	windowCmd.AddCommand(windowClearCmd)
	windowCmd.AddCommand(windowStatusCmd)

	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(windowCmd)
	rootCmd.AddCommand(auditCmd)
}
