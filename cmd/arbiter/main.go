// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// arbiter is the command-line client for the verdict server.
//
// The server address comes from ARBITER_VERDICT_URL (default
// http://localhost:12300) and the API key from ARBITER_API_KEY.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "arbiter",
	Short: "Forecast verification and skill scoring",
	Long: `arbiter drives the verdict server: submit forecasts, record
independently observed outcomes, resolve forecasts into scored pairs,
roll up skill metrics, and run stability windows.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

// =============================================================================
// HTTP client helpers
// =============================================================================

func serverURL() string {
	if u := os.Getenv("ARBITER_VERDICT_URL"); u != "" {
		return u
	}
	return "http://localhost:12300"
}

var httpClient = &http.Client{Timeout: 60 * time.Second}

// callServer sends one request and decodes the JSON response into out.
// Non-2xx responses come back as errors carrying the server's error body.
func callServer(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, serverURL()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("ARBITER_API_KEY"); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call verdict server: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("%s (%s, HTTP %d)", errBody.Error, errBody.Code, resp.StatusCode)
		}
		return fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// printJSON pretty-prints a response payload to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
