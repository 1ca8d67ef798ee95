// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main contains the TeachChatRunner implementation.
//
// This file implements the ChatRunner interface for streaming tutoring
// sessions. It coordinates the TeachStreamService (HTTP/SSE), ChatUI
// (display), and InputReader (user input).
package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/praxislearn/praxis/pkg/ux"
)

// =============================================================================
// TeachChatRunner Implementation
// =============================================================================

// TeachChatRunner implements ChatRunner for streaming tutoring chat.
//
// # Description
//
// TeachChatRunner manages the interactive tutoring loop. It follows a
// single-responsibility pattern: input reading is delegated to
// InputReader, service communication to TeachStreamService, and display
// to ux.ChatUI. The runner itself only handles coordination and control
// flow.
//
// After each answer it shows the hash chain verification outcome and
// accumulates session statistics (messages, tokens, concepts covered)
// for the end-of-session summary.
//
// # Thread Safety
//
// Run is not designed for concurrent calls. Close is thread-safe and
// idempotent.
//
// # Limitations
//
//   - Single use: cannot restart after Run completes
//   - Stdin reads cannot be interrupted mid-line (OS limitation)
type TeachChatRunner struct {
	service          TeachStreamService
	ui               ux.ChatUI
	input            InputReader
	mode             ux.ChatMode
	learnerID        string
	initialSessionID string
	serverURL        string
	sessionStartTime time.Time
	sessionStats     ux.SessionStats
	coveredConcepts  map[string]bool
	closed           bool
	mu               sync.Mutex
}

// TeachChatRunnerConfig configures a production TeachChatRunner.
type TeachChatRunnerConfig struct {
	BaseURL     string              // Tutor server URL (required)
	LearnerID   string              // Learner identity (required unless Anonymous)
	SessionID   string              // Session ID to resume (optional)
	Anonymous   bool                // Chat without a learner profile
	SkipVerify  bool                // Disable hash chain verification
	Personality ux.PersonalityLevel // Output styling (optional)
}

// NewTeachChatRunner creates a tutoring chat runner with production
// dependencies: real HTTP streaming service, terminal UI, stdin reader.
//
// Use NewTeachChatRunnerWithDeps for tests.
func NewTeachChatRunner(config TeachChatRunnerConfig) ChatRunner {
	learnerID := config.LearnerID
	mode := ux.ChatModeAdaptive
	if config.Anonymous {
		learnerID = "anonymous"
		mode = ux.ChatModeAnonymous
	}

	service := NewTeachStreamService(TeachStreamServiceConfig{
		BaseURL:     config.BaseURL,
		LearnerID:   learnerID,
		SessionID:   config.SessionID,
		Personality: config.Personality,
		SkipVerify:  config.SkipVerify,
	})

	return &TeachChatRunner{
		service:          service,
		ui:               ux.NewChatUI(),
		input:            NewStdinReader(),
		mode:             mode,
		learnerID:        learnerID,
		initialSessionID: config.SessionID,
		serverURL:        config.BaseURL,
		coveredConcepts:  make(map[string]bool),
	}
}

// NewTeachChatRunnerWithDeps creates a tutoring chat runner with injected
// dependencies for testing. Returns the concrete type so tests can inspect
// accumulated state.
func NewTeachChatRunnerWithDeps(
	service TeachStreamService,
	ui ux.ChatUI,
	input InputReader,
	learnerID string,
) *TeachChatRunner {
	return &TeachChatRunner{
		service:         service,
		ui:              ui,
		input:           input,
		mode:            ux.ChatModeAdaptive,
		learnerID:       learnerID,
		coveredConcepts: make(map[string]bool),
	}
}

// Run executes the interactive tutoring loop.
//
// # Description
//
// The loop:
//  1. Displays the chat header with learner profile stats (best effort)
//  2. Prompts for input
//  3. Checks for exit commands ("exit", "quit") and EOF
//  4. Streams the message exchange, rendering tokens as they arrive
//  5. Shows the integrity verification outcome
//  6. Repeats until exit or context cancellation
//
// On context cancellation the session summary is still printed and the
// context's error is returned, so callers can distinguish a Ctrl+C exit
// from a normal one.
//
// # Outputs
//
//   - error: nil on normal exit, context.Canceled on shutdown, or a
//     fatal input error
func (r *TeachChatRunner) Run(ctx context.Context) error {
	r.sessionStartTime = time.Now()

	// Profile stats are cosmetic; a fresh learner has none yet.
	var stats *ux.LearnerStats
	if r.mode == ux.ChatModeAdaptive {
		var err error
		stats, err = r.service.GetLearnerStats(ctx)
		if err != nil {
			cliLogger.Debug("no learner stats for header",
				"learner_id", r.learnerID,
				"error", err,
			)
		}
	}

	r.ui.HeaderWithConfig(ux.HeaderConfig{
		Mode:         r.mode,
		LearnerID:    r.learnerID,
		SessionID:    r.initialSessionID,
		ServerURL:    r.serverURL,
		LearnerStats: stats,
	})

	for {
		select {
		case <-ctx.Done():
			return r.handleShutdown(ctx)
		default:
		}

		fmt.Print(r.ui.Prompt())
		input, err := r.input.ReadLine()
		if err != nil {
			if err == io.EOF {
				r.displaySessionEndWithStats()
				return nil
			}
			cliLogger.Error("failed to read input", "error", err)
			return fmt.Errorf("read input: %w", err)
		}

		if input == "" {
			continue
		}

		if isExitCommand(input) {
			r.displaySessionEndWithStats()
			return nil
		}

		if err := r.handleMessage(ctx, input); err != nil {
			if ctx.Err() != nil {
				return r.handleShutdown(ctx)
			}
			// Non-fatal: display and keep the session alive.
			r.ui.Error(err)
			continue
		}
	}
}

// handleMessage streams a single exchange and records its statistics.
func (r *TeachChatRunner) handleMessage(ctx context.Context, message string) error {
	result, integrity, err := r.service.SendMessage(ctx, message)
	if err != nil {
		return err
	}

	r.accumulateStats(result)
	r.ui.Integrity(integrity)
	fmt.Println()

	return nil
}

// accumulateStats folds one exchange into the session totals.
func (r *TeachChatRunner) accumulateStats(result *ux.StreamResult) {
	r.sessionStats.MessageCount++
	r.sessionStats.TotalTokens += result.TotalTokens
	r.sessionStats.ThinkingTokens += result.ThinkingTokens

	if result.Metadata != nil {
		for _, concept := range result.Metadata.DetectedConcepts {
			if !r.coveredConcepts[concept] {
				r.coveredConcepts[concept] = true
				r.sessionStats.ConceptsCovered = append(r.sessionStats.ConceptsCovered, concept)
			}
		}
	}

	if r.sessionStats.MessageCount == 1 {
		r.sessionStats.FirstResponseLatency = result.TimeToFirstToken()
	}
}

// displaySessionEndWithStats finalizes duration and prints the summary.
func (r *TeachChatRunner) displaySessionEndWithStats() {
	r.sessionStats.Duration = time.Since(r.sessionStartTime)
	r.ui.SessionEndRich(r.service.GetSessionID(), &r.sessionStats)
}

// handleShutdown runs on context cancellation: log the resumable session,
// print the summary, and propagate the context error.
func (r *TeachChatRunner) handleShutdown(ctx context.Context) error {
	sessionID := r.service.GetSessionID()
	if sessionID != "" {
		cliLogger.Info("session preserved for resume",
			"session_id", sessionID,
		)
	}

	fmt.Println() // new line after interrupted input
	r.displaySessionEndWithStats()

	return ctx.Err()
}

// Close releases resources held by the runner. Idempotent.
func (r *TeachChatRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	return r.service.Close()
}

var _ ChatRunner = (*TeachChatRunner)(nil)
