// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main contains the ChatRunner abstraction for the praxis CLI.
//
// This file defines the interfaces for running interactive chat sessions.
// The concrete tutoring implementation lives in chat_runner_tutor.go;
// service communication lives in streaming_service.go.
package main

import (
	"bufio"
	"context"
	"os"
	"strings"
)

// =============================================================================
// Interfaces
// =============================================================================

// ChatRunner manages an interactive chat session lifecycle.
//
// # Description
//
// ChatRunner abstracts the chat loop so commands can construct a runner,
// hand it a context wired to signal handling, and block on Run. The runner
// owns coordination only: reading input is delegated to an InputReader,
// server communication to a TeachStreamService, and display to ux.ChatUI.
//
// # Examples
//
//	runner := NewTeachChatRunner(TeachChatRunnerConfig{
//	    BaseURL:   "http://localhost:12190",
//	    LearnerID: "student-42",
//	})
//	defer runner.Close()
//
//	ctx, cancel := context.WithCancel(context.Background())
//	go func() {
//	    sigCh := make(chan os.Signal, 1)
//	    signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
//	    <-sigCh
//	    cancel()
//	}()
//	if err := runner.Run(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
//
// # Limitations
//
//   - Single use: a runner cannot be restarted after Run returns
//
// # Assumptions
//
//   - Caller sets up context cancellation for graceful shutdown
//   - Close is called after Run returns, typically via defer
type ChatRunner interface {
	// Run executes the interactive chat loop.
	//
	// Blocks until the user exits ("exit"/"quit"/EOF), the context is
	// cancelled, or a fatal error occurs. Returns nil on normal exit and
	// context.Canceled on shutdown.
	Run(ctx context.Context) error

	// Close releases resources held by the runner. Idempotent.
	Close() error
}

// InputReader abstracts reading user input lines.
//
// # Description
//
// Injectable input source for the chat loop. Production code uses
// StdinReader; tests inject a scripted reader.
//
// # Limitations
//
//   - ReadLine blocks; stdin reads cannot be interrupted mid-line
type InputReader interface {
	// ReadLine reads one line of input, trimmed of surrounding
	// whitespace. Returns io.EOF when the input source is exhausted.
	ReadLine() (string, error)
}

// =============================================================================
// Stdin Reader
// =============================================================================

// StdinReader reads lines from standard input.
//
// Works for both terminals and piped input, which makes scripted sessions
// ("echo 'question' | praxis chat") behave the same as interactive ones.
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader creates an InputReader backed by os.Stdin.
func NewStdinReader() InputReader {
	return &StdinReader{reader: bufio.NewReader(os.Stdin)}
}

// ReadLine reads a single newline-terminated line from stdin.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// isExitCommand reports whether the input ends the chat session.
func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit":
		return true
	}
	return false
}
