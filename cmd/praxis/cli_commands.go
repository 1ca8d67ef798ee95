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
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/spf13/cobra"
)

// defaultServerURL is used when neither --server nor PRAXIS_SERVER_URL is set.
// It matches the tutor server's default TUTOR_PORT.
const defaultServerURL = "http://localhost:12190"

// cliVersion is stamped at build time via
// -ldflags "-X main.cliVersion=v1.2.3".
var cliVersion = "dev"

var (
	rootCmd = &cobra.Command{
		Use:   "praxis",
		Short: "A CLI for the Praxis adaptive tutoring service",
		Long: `Praxis is a terminal client for an adaptive AI tutor.

The tutor remembers what each learner has seen, picks a teaching strategy
per message, and streams its answers. This CLI is the thin client side:
it opens streaming chat sessions, asks one-shot questions, and inspects
the learner memory the server has accumulated.`,
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the tutor a single question (non-streaming)",
		Long: `Sends one question to the tutor's teach endpoint and prints the full
reply once it is ready, along with detected concepts and suggested
follow-up questions. Use 'praxis chat' for an interactive session.`,
		Args: cobra.MinimumNArgs(1),
		Run:  runAskCommand,
	}

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive tutoring session",
		Long: `Starts a streaming chat session with the tutor.

Responses stream token by token and every stream carries a hash chain
that the client verifies independently; the verification outcome is
shown after each answer. Sessions persist server-side, so a session ID
printed at exit can be resumed later with --resume.

Type 'exit' or 'quit' (or press Ctrl+D) to end the session.`,
		Run: runChatCommand,
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check the tutor server's health",
		Long: `Queries the tutor's /health endpoint and reports the model gateway
state. Exits non-zero when the gateway is unavailable, which makes the
command usable from scripts and readiness probes.`,
		Run: runHealthCommand,
	}

	memoryCmd = &cobra.Command{
		Use:   "memory",
		Short: "Inspect and update stored learner memory",
	}

	memoryShowCmd = &cobra.Command{
		Use:   "show [learner-id]",
		Short: "Show a learner's stored memory profile",
		Args:  cobra.ExactArgs(1),
		Run:   runMemoryShowCommand,
	}

	memoryAnalyticsCmd = &cobra.Command{
		Use:   "analytics [learner-id]",
		Short: "Show derived learning analytics for a learner",
		Args:  cobra.ExactArgs(1),
		Run:   runMemoryAnalyticsCommand,
	}

	memoryFeedbackCmd = &cobra.Command{
		Use:   "feedback [learner-id] [interaction-id] [rating 1-5]",
		Short: "Record a 1-5 rating for a past interaction",
		Args:  cobra.ExactArgs(3),
		Run:   runMemoryFeedbackCommand,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the praxis CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("praxis %s\n", cliVersion)
		},
	}

	// health command flags
	healthJSONOutput bool

	// memory command flags
	memoryJSONOutput bool
)

func init() {
	rootCmd.PersistentFlags().String("server", "",
		"Tutor server URL (default: PRAXIS_SERVER_URL or "+defaultServerURL+")")

	chatCmd.Flags().String("resume", "",
		"Resume a conversation using a specific session ID.")
	chatCmd.Flags().String("learner", "",
		"Learner ID for memory lookup (default: PRAXIS_LEARNER_ID or OS username).")
	chatCmd.Flags().Bool("anonymous", false,
		"Chat without a learner profile; nothing is remembered.")
	chatCmd.Flags().Bool("no-verify", false,
		"Skip client-side hash chain verification of streamed responses.")

	askCmd.Flags().String("learner", "",
		"Learner ID for memory lookup (default: PRAXIS_LEARNER_ID or OS username).")
	askCmd.Flags().String("session", "",
		"Session ID to continue an existing conversation.")

	healthCmd.Flags().BoolVar(&healthJSONOutput, "json", false,
		"Output raw JSON for scripting")

	memoryShowCmd.Flags().BoolVar(&memoryJSONOutput, "json", false,
		"Output raw JSON for scripting")
	memoryAnalyticsCmd.Flags().BoolVar(&memoryJSONOutput, "json", false,
		"Output raw JSON for scripting")

	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memoryAnalyticsCmd)
	memoryCmd.AddCommand(memoryFeedbackCmd)

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(versionCmd)
}

// getTutorBaseURL resolves the server URL: flag, then env, then default.
// Trailing slashes are stripped so endpoint paths can be appended directly.
func getTutorBaseURL(cmd *cobra.Command) string {
	if cmd != nil {
		if flagURL, err := cmd.Flags().GetString("server"); err == nil && flagURL != "" {
			return strings.TrimRight(flagURL, "/")
		}
		if flagURL, err := cmd.Root().PersistentFlags().GetString("server"); err == nil && flagURL != "" {
			return strings.TrimRight(flagURL, "/")
		}
	}
	if envURL := os.Getenv("PRAXIS_SERVER_URL"); envURL != "" {
		return strings.TrimRight(envURL, "/")
	}
	return defaultServerURL
}

// resolveLearnerID resolves the learner identity: flag, then
// PRAXIS_LEARNER_ID, then the OS username.
func resolveLearnerID(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envID := os.Getenv("PRAXIS_LEARNER_ID"); envID != "" {
		return envID
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "anonymous"
}
