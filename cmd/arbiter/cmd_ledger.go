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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ArbiterAI/ArbiterFOSS/services/verdict"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	forecastKind        string
	forecastSource      string
	forecastDomain      string
	forecastValue       string
	forecastProbability float64
	forecastConfidence  float64
	forecastHorizon     string
	forecastSnapshot    string
	forecastModelID     string
	forecastModelVer    string

	outcomeKind     string
	outcomeDomain   string
	outcomeValue    string
	outcomeSource   string
	outcomePayload  string
	outcomeObserved string

	resolveForecastID string
	resolveOutcomeID  string
	resolveAlignment  string
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Submit and inspect forecasts",
}

var forecastSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a forecast to the ledger",
	Example: `  arbiter forecast submit --kind price-direction --source regime-agent \
    --domain BTC-USD --value BULL --probability 0.7 --horizon 24h \
    --snapshot-ref <64-char-hex>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := verdict.SubmitForecastRequest{
			Kind:         forecastKind,
			Source:       forecastSource,
			Domain:       forecastDomain,
			Value:        forecastValue,
			Probability:  &forecastProbability,
			Horizon:      forecastHorizon,
			SnapshotRef:  forecastSnapshot,
			ModelID:      forecastModelID,
			ModelVersion: forecastModelVer,
		}
		if cmd.Flags().Changed("confidence") {
			req.Confidence = &forecastConfidence
		}
		var resp verdict.SubmitForecastResponse
		if err := callServer("POST", "/v1/verdict/forecasts", req, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var forecastGetCmd = &cobra.Command{
	Use:   "get <forecast-id>",
	Short: "Fetch a forecast by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp json.RawMessage
		if err := callServer("GET", "/v1/verdict/forecasts/"+args[0], nil, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Record and inspect observed outcomes",
}

var outcomeRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record an independently observed outcome",
	Example: `  arbiter outcome record --kind price-direction --domain BTC-USD \
    --value BULL --evidence-source independent-price-feed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := verdict.RecordOutcomeRequest{
			Kind:           outcomeKind,
			Domain:         outcomeDomain,
			Value:          outcomeValue,
			EvidenceSource: outcomeSource,
		}
		if outcomePayload != "" {
			if !json.Valid([]byte(outcomePayload)) {
				return fmt.Errorf("--payload must be valid JSON")
			}
			req.EvidencePayload = json.RawMessage(outcomePayload)
		}
		if outcomeObserved != "" {
			if err := req.ObservedAt.UnmarshalText([]byte(outcomeObserved)); err != nil {
				return fmt.Errorf("--observed-at must be RFC 3339: %w", err)
			}
		}
		var resp verdict.RecordOutcomeResponse
		if err := callServer("POST", "/v1/verdict/outcomes", req, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var outcomeGetCmd = &cobra.Command{
	Use:   "get <outcome-id>",
	Short: "Fetch an outcome by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp json.RawMessage
		if err := callServer("GET", "/v1/verdict/outcomes/"+args[0], nil, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a forecast against an outcome",
	Long: `Scores one forecast against one recorded outcome and writes the
immutable reconciliation pair. A forecast resolves at most once; a second
attempt reports the conflict instead of creating another pair.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := verdict.ResolveRequest{
			ForecastID:      resolveForecastID,
			OutcomeID:       resolveOutcomeID,
			AlignmentMethod: resolveAlignment,
		}
		var resp verdict.ResolveResponse
		if err := callServer("POST", "/v1/verdict/resolve", req, &resp); err != nil {
			return err
		}
		return printJSON(resp)
	},
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	forecastSubmitCmd.Flags().StringVar(&forecastKind, "kind", "", "Forecast kind (regime, price-direction, ...)")
	forecastSubmitCmd.Flags().StringVar(&forecastSource, "source", "", "Producing agent or model id")
	forecastSubmitCmd.Flags().StringVar(&forecastDomain, "domain", "", "Asset or subject, e.g. BTC-USD")
	forecastSubmitCmd.Flags().StringVar(&forecastValue, "value", "", "Predicted value")
	forecastSubmitCmd.Flags().Float64Var(&forecastProbability, "probability", 0, "Probability in [0,1]")
	forecastSubmitCmd.Flags().Float64Var(&forecastConfidence, "confidence", 0, "Optional confidence in [0,1]")
	forecastSubmitCmd.Flags().StringVar(&forecastHorizon, "horizon", "", "Horizon duration, e.g. 24h")
	forecastSubmitCmd.Flags().StringVar(&forecastSnapshot, "snapshot-ref", "", "Hex digest of the conditioning state")
	forecastSubmitCmd.Flags().StringVar(&forecastModelID, "model-id", "", "Producing model id")
	forecastSubmitCmd.Flags().StringVar(&forecastModelVer, "model-version", "", "Producing model version")
	for _, f := range []string{"kind", "source", "domain", "value", "probability", "horizon", "snapshot-ref"} {
		_ = forecastSubmitCmd.MarkFlagRequired(f)
	}
	forecastCmd.AddCommand(forecastSubmitCmd)
	forecastCmd.AddCommand(forecastGetCmd)

	outcomeRecordCmd.Flags().StringVar(&outcomeKind, "kind", "", "Outcome kind (mirrors forecast kinds)")
	outcomeRecordCmd.Flags().StringVar(&outcomeDomain, "domain", "", "Observed subject")
	outcomeRecordCmd.Flags().StringVar(&outcomeValue, "value", "", "Observed value")
	outcomeRecordCmd.Flags().StringVar(&outcomeSource, "evidence-source", "", "Allow-listed evidence source id")
	outcomeRecordCmd.Flags().StringVar(&outcomePayload, "payload", "", "Raw evidence payload (JSON)")
	outcomeRecordCmd.Flags().StringVar(&outcomeObserved, "observed-at", "", "Observation time (RFC 3339, default now)")
	for _, f := range []string{"kind", "domain", "value", "evidence-source"} {
		_ = outcomeRecordCmd.MarkFlagRequired(f)
	}
	outcomeCmd.AddCommand(outcomeRecordCmd)
	outcomeCmd.AddCommand(outcomeGetCmd)

	resolveCmd.Flags().StringVar(&resolveForecastID, "forecast", "", "Forecast id")
	resolveCmd.Flags().StringVar(&resolveOutcomeID, "outcome", "", "Outcome id")
	resolveCmd.Flags().StringVar(&resolveAlignment, "alignment", "", "Alignment method (default exact)")
	_ = resolveCmd.MarkFlagRequired("forecast")
	_ = resolveCmd.MarkFlagRequired("outcome")

	rootCmd.AddCommand(forecastCmd)
	rootCmd.AddCommand(outcomeCmd)
	rootCmd.AddCommand(resolveCmd)
}
