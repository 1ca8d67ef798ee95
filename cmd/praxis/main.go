// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command praxis is the terminal client for the Praxis tutoring service.
//
// It talks to a running tutor server over HTTP: interactive streaming chat,
// one-shot questions, learner memory inspection, and health checks.
//
//	praxis chat                      # interactive tutoring session
//	praxis chat --resume sess-abc    # resume a previous session
//	praxis ask "what is a closure?"  # one-shot question
//	praxis memory show learner-1     # inspect stored learner memory
//	praxis health                    # tutor server health
//
// The server address comes from --server, then PRAXIS_SERVER_URL, then
// http://localhost:12190.
package main

import (
	"log"

	"github.com/praxislearn/praxis/pkg/logging"
)

// cliLogger is the shared CLI logger. File logging is enabled lazily in
// init() so every subcommand gets the same destination.
var cliLogger *logging.Logger

func main() {
	defer func() {
		if cliLogger != nil {
			_ = cliLogger.Close()
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	cliLogger = logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  "~/.praxis/logs",
		Service: "cli",
		Quiet:   true, // stderr stays clean for chat output
	})
}
