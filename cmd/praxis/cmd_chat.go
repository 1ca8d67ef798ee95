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
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/praxislearn/praxis/pkg/ux"
	"github.com/praxislearn/praxis/services/tutor/datatypes"
	"github.com/spf13/cobra"
)

// runChatCommand starts an interactive streaming tutoring session.
//
// SIGINT/SIGTERM cancel the session context so the runner can print the
// session summary (with the resumable session ID) before exiting.
func runChatCommand(cmd *cobra.Command, args []string) {
	baseURL := getTutorBaseURL(cmd)

	resumeSessionID, _ := cmd.Flags().GetString("resume")
	learnerFlag, _ := cmd.Flags().GetString("learner")
	anonymous, _ := cmd.Flags().GetBool("anonymous")
	skipVerify, _ := cmd.Flags().GetBool("no-verify")

	runner := NewTeachChatRunner(TeachChatRunnerConfig{
		BaseURL:    baseURL,
		LearnerID:  resolveLearnerID(learnerFlag),
		SessionID:  resumeSessionID,
		Anonymous:  anonymous,
		SkipVerify: skipVerify,
	})
	defer func() {
		if err := runner.Close(); err != nil {
			cliLogger.Error("failed to close chat runner", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Chat session failed: %v", err)
	}
}

// runAskCommand sends a one-shot question to the non-streaming teach
// endpoint and prints the reply with its teaching metadata.
func runAskCommand(cmd *cobra.Command, args []string) {
	baseURL := getTutorBaseURL(cmd)
	question := strings.Join(args, " ")

	learnerFlag, _ := cmd.Flags().GetString("learner")
	sessionID, _ := cmd.Flags().GetString("session")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	resp, err := postTeach(ctx, baseURL, datatypes.TeachRequest{
		UserID:    resolveLearnerID(learnerFlag),
		SessionID: sessionID,
		Message:   question,
	})
	if err != nil {
		log.Fatalf("Ask failed: %v", err)
	}

	ui := ux.NewChatUI()
	ui.Response(resp.Message)
	ui.Metadata(&ux.TeachMetadata{
		DetectedConcepts:   resp.DetectedConcepts,
		SuggestedFollowups: resp.SuggestedFollowups,
	})
	if resp.SessionID != "" {
		ux.Muted(fmt.Sprintf("Session: %s (continue with 'praxis chat --resume %s')",
			resp.SessionID, resp.SessionID))
	}
}

// postTeach POSTs a TeachRequest to /v1/teach and decodes the response.
func postTeach(ctx context.Context, baseURL string, req datatypes.TeachRequest) (*datatypes.TeachResponse, error) {
	postBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	targetURL := fmt.Sprintf("%s/v1/teach", baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewBuffer(postBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http post: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			cliLogger.Error("failed to close response body", "error", err)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(bodyBytes))
	}

	var teachResp datatypes.TeachResponse
	if err := json.Unmarshal(bodyBytes, &teachResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &teachResp, nil
}
