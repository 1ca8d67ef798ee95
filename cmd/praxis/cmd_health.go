// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/praxislearn/praxis/pkg/ux"
	"github.com/spf13/cobra"
)

// tutorHealthReport mirrors the tutor's /health response body.
type tutorHealthReport struct {
	Status              string `json:"status"`
	DeepSeekConfigured  bool   `json:"deepSeekConfigured"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Message             string `json:"message"`
}

// runHealthCommand queries the tutor's health endpoint and reports the
// model gateway state. Exits 1 when the gateway is unavailable so the
// command can back readiness checks in scripts.
func runHealthCommand(cmd *cobra.Command, args []string) {
	baseURL := getTutorBaseURL(cmd)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report, healthy, err := fetchTutorHealth(ctx, http.DefaultClient, baseURL)
	if err != nil {
		ux.Error(fmt.Sprintf("Tutor unreachable at %s: %v", baseURL, err))
		os.Exit(1)
	}

	if healthJSONOutput {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
		if !healthy {
			os.Exit(1)
		}
		return
	}

	if healthy {
		ux.Success(fmt.Sprintf("Tutor is %s (%s)", report.Status, baseURL))
	} else {
		ux.Error(fmt.Sprintf("Tutor is %s (%s)", report.Status, baseURL))
	}
	if report.Message != "" {
		ux.Info(report.Message)
	}
	if report.ConsecutiveFailures > 0 {
		ux.Warning(fmt.Sprintf("Consecutive gateway failures: %d", report.ConsecutiveFailures))
	}
	if !report.DeepSeekConfigured {
		ux.Muted("No gateway API key configured; the tutor is running in fallback mode.")
	}

	if !healthy {
		os.Exit(1)
	}
}

// fetchTutorHealth GETs /health and decodes the report. The boolean result
// reflects the HTTP status: the server answers 503 once the gateway is
// authoritatively down, 200 otherwise (including still-checking states).
func fetchTutorHealth(ctx context.Context, client *http.Client, baseURL string) (*tutorHealthReport, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("http get: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			cliLogger.Error("failed to close response body", "error", err)
		}
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, false, fmt.Errorf("read response: %w", err)
	}

	var report tutorHealthReport
	if err := json.Unmarshal(bodyBytes, &report); err != nil {
		return nil, false, fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}

	return &report, resp.StatusCode == http.StatusOK, nil
}
