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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/praxislearn/praxis/pkg/ux"
	"github.com/praxislearn/praxis/services/tutor/datatypes"
	"github.com/spf13/cobra"
)

// runMemoryShowCommand prints a learner's stored memory profile.
func runMemoryShowCommand(cmd *cobra.Command, args []string) {
	baseURL := getTutorBaseURL(cmd)
	learnerID := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	memory, raw, err := fetchUserMemory(ctx, http.DefaultClient, baseURL, learnerID)
	if err != nil {
		log.Fatalf("Memory lookup failed: %v", err)
	}

	if memoryJSONOutput {
		fmt.Println(string(raw))
		return
	}

	ux.Title(fmt.Sprintf("Learner: %s", memory.UserID))
	ux.Info(fmt.Sprintf("Comprehension level: %.2f", memory.ComprehensionLevel))
	ux.Info(fmt.Sprintf("Preferences: format=%s technical_level=%d",
		orUnset(memory.Preferences.Format), memory.Preferences.TechnicalLevel))
	ux.Info(fmt.Sprintf("Interactions: %d | Misconceptions: %d",
		len(memory.Interactions), len(memory.Misconceptions)))

	printConceptExposure(memory.ConceptExposure)
}

// printConceptExposure lists tracked concepts, strongest first.
func printConceptExposure(exposure map[string]*datatypes.ConceptRecord) {
	if len(exposure) == 0 {
		ux.Muted("No concepts tracked yet.")
		return
	}

	type conceptRow struct {
		name   string
		record *datatypes.ConceptRecord
	}
	rows := make([]conceptRow, 0, len(exposure))
	for name, record := range exposure {
		if record != nil {
			rows = append(rows, conceptRow{name, record})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].record.Confidence != rows[j].record.Confidence {
			return rows[i].record.Confidence > rows[j].record.Confidence
		}
		return rows[i].name < rows[j].name
	})

	mastered := 0
	fmt.Println()
	for i, row := range rows {
		if row.record.Confidence >= 0.8 {
			mastered++
		}
		// Keep long profiles readable; full detail is available via --json.
		if i < 15 {
			status := ux.IconPending
			if row.record.Confidence >= 0.8 {
				status = ux.IconSuccess
			}
			ux.ConceptStatus(row.name, status,
				fmt.Sprintf("confidence %.2f, seen %dx", row.record.Confidence, row.record.ExposureCount))
		}
	}
	if len(rows) > 15 {
		ux.Muted(fmt.Sprintf("... and %d more (use --json for the full profile)", len(rows)-15))
	}

	struggling := 0
	for _, row := range rows {
		if row.record.Confidence < 0.4 {
			struggling++
		}
	}
	ux.Summary(mastered, struggling, len(rows))
}

// runMemoryAnalyticsCommand prints derived learning analytics.
func runMemoryAnalyticsCommand(cmd *cobra.Command, args []string) {
	baseURL := getTutorBaseURL(cmd)
	learnerID := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	analytics, raw, err := fetchLearningAnalytics(ctx, http.DefaultClient, baseURL, learnerID)
	if err != nil {
		log.Fatalf("Analytics lookup failed: %v", err)
	}

	if memoryJSONOutput {
		fmt.Println(string(raw))
		return
	}

	ux.Title(fmt.Sprintf("Analytics: %s", analytics.UserID))
	ux.Info(fmt.Sprintf("Interactions: %d | Concepts tracked: %d | Learning rate: %.2f",
		analytics.TotalInteractions, analytics.ConceptsTracked, analytics.LearningRate))
	if len(analytics.Mastered) > 0 {
		ux.Success("Mastered: " + strings.Join(analytics.Mastered, ", "))
	}
	if len(analytics.Struggling) > 0 {
		ux.Warning("Struggling: " + strings.Join(analytics.Struggling, ", "))
	}
	if len(analytics.ReviewDue) > 0 {
		ux.Info("Review due: " + strings.Join(analytics.ReviewDue, ", "))
	}
}

// runMemoryFeedbackCommand records a 1-5 rating for an interaction.
func runMemoryFeedbackCommand(cmd *cobra.Command, args []string) {
	baseURL := getTutorBaseURL(cmd)
	learnerID, interactionID := args[0], args[1]

	rating, err := strconv.Atoi(args[2])
	if err != nil || rating < 1 || rating > 5 {
		log.Fatalf("Rating must be an integer from 1 to 5, got %q", args[2])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := postFeedback(ctx, http.DefaultClient, baseURL, learnerID, datatypes.FeedbackRequest{
		InteractionID: interactionID,
		Rating:        rating,
	}); err != nil {
		log.Fatalf("Feedback failed: %v", err)
	}

	ux.Success(fmt.Sprintf("Recorded rating %d for interaction %s", rating, interactionID))
}

// =============================================================================
// HTTP helpers
// =============================================================================

// fetchUserMemory GETs /v1/memory/{learner} and returns both the decoded
// memory and the raw body (for --json passthrough).
func fetchUserMemory(ctx context.Context, client *http.Client, baseURL, learnerID string) (*datatypes.UserMemory, []byte, error) {
	raw, err := getJSON(ctx, client,
		fmt.Sprintf("%s/v1/memory/%s", baseURL, url.PathEscape(learnerID)))
	if err != nil {
		return nil, nil, err
	}

	var memory datatypes.UserMemory
	if err := json.Unmarshal(raw, &memory); err != nil {
		return nil, nil, fmt.Errorf("parse memory: %w", err)
	}
	return &memory, raw, nil
}

// fetchLearningAnalytics GETs /v1/memory/{learner}/analytics.
func fetchLearningAnalytics(ctx context.Context, client *http.Client, baseURL, learnerID string) (*datatypes.LearningAnalytics, []byte, error) {
	raw, err := getJSON(ctx, client,
		fmt.Sprintf("%s/v1/memory/%s/analytics", baseURL, url.PathEscape(learnerID)))
	if err != nil {
		return nil, nil, err
	}

	var analytics datatypes.LearningAnalytics
	if err := json.Unmarshal(raw, &analytics); err != nil {
		return nil, nil, fmt.Errorf("parse analytics: %w", err)
	}
	return &analytics, raw, nil
}

// postFeedback POSTs a rating to /v1/memory/{learner}/feedback.
func postFeedback(ctx context.Context, client *http.Client, baseURL, learnerID string, feedback datatypes.FeedbackRequest) error {
	postBody, err := json.Marshal(feedback)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	targetURL := fmt.Sprintf("%s/v1/memory/%s/feedback", baseURL, url.PathEscape(learnerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewBuffer(postBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			cliLogger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

// getJSON GETs a URL and returns the body, treating non-200 as an error.
func getJSON(ctx context.Context, client *http.Client, targetURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			cliLogger.Error("failed to close response body", "error", err)
		}
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(bodyBytes))
	}
	return bodyBytes, nil
}

func orUnset(s string) string {
	if s == "" {
		return "unset"
	}
	return s
}
