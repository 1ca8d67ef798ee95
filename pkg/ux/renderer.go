// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Praxis CLI.
//
// This file contains renderers that display streaming events to users.
//
// Single Responsibility:
//
//	Renderers ONLY render. They receive events via On* callbacks and
//	produce output. They do not read streams or parse wire formats.
//
// Renderer Implementations:
//
//   - terminalStreamRenderer: Interactive terminal output with spinners
//   - bufferStreamRenderer: In-memory capture for testing
package ux

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Stream Renderer Interface
// =============================================================================

// StreamRenderer renders streaming teach events to an output destination.
type StreamRenderer interface {
	// OnStatus renders a status update (e.g., "Analyzing question...").
	//
	// In interactive mode, may start or update a spinner.
	// In machine mode, prints "STATUS: message".
	//
	// Thread-safe. May be called concurrently with other methods.
	OnStatus(ctx context.Context, message string)

	// OnToken renders a single token from the tutor's response.
	//
	// In interactive mode, prints immediately for streaming effect.
	// In machine mode, buffers until Finalize().
	//
	// Tokens should be rendered in order; out-of-order rendering
	// may produce garbled output.
	OnToken(ctx context.Context, token string)

	// OnThinking renders thinking/reasoning tokens.
	//
	// May be styled differently (muted) or hidden based on config.
	// In machine mode, buffers until Finalize().
	OnThinking(ctx context.Context, content string)

	// OnMetadata renders teaching metadata: detected concepts, suggested
	// followups, and the selected strategy.
	//
	// Called when the metadata event arrives (typically before tokens).
	// Concepts are shown immediately; followups are held until OnDone so
	// they appear after the answer.
	OnMetadata(ctx context.Context, metadata *TeachMetadata)

	// OnDone signals stream completion with optional session ID.
	//
	// Stops spinners, flushes buffers, prints final newlines and any
	// suggested followups. This is typically the last On* method called
	// (unless OnError).
	OnDone(ctx context.Context, sessionID string)

	// OnError renders an error that occurred during streaming.
	//
	// Stops spinners and displays error message.
	// After OnError, only Finalize() should be called.
	OnError(ctx context.Context, err error)

	// Finalize performs cleanup (stop spinners, flush output).
	//
	// MUST be called when streaming ends, even if abnormally.
	// Safe to call multiple times; subsequent calls are no-ops.
	// Typically called with defer immediately after creating renderer.
	Finalize()

	// Result returns the accumulated result after streaming completes.
	//
	// Contains the full answer, metadata, session ID, and metrics.
	// May be called before Finalize() to get partial results.
	Result() *StreamResult
}

// =============================================================================
// Terminal Stream Renderer
// =============================================================================

// terminalStreamRenderer renders streaming events to an interactive terminal.
//
// This is the primary renderer for user-facing output. It provides a rich
// experience with spinners, colors, and real-time token streaming.
//
// Features:
//   - Spinners for status updates (stops automatically when tokens arrive)
//   - Real-time token streaming (each token printed as it arrives)
//   - Styled output based on personality level
//   - Inline concept display for teaching responses
//   - Followup suggestions after the answer completes
//   - Muted styling for thinking/reasoning content
//
// Personality Modes:
//
//   - PersonalityFull: Rich styling with colors, boxes, and icons
//   - PersonalityMinimal: Plain text with basic formatting
//   - PersonalityMachine: KEY: value format for scripting
//
// Thread Safety:
//
//	All methods are protected by a mutex. Safe for concurrent calls.
//
// Fields:
//   - writer: Output destination (typically os.Stdout)
//   - personality: Controls output styling
//   - spinner: Current spinner instance (nil if not spinning)
//   - result: Accumulated result with metrics
//   - answerBuilder: Accumulates token content
//   - thinkingBuilder: Accumulates thinking content
//   - hasWrittenToken: Tracks if first token has been written
//   - finalized: Prevents operations after Finalize()
type terminalStreamRenderer struct {
	writer      io.Writer
	personality PersonalityLevel
	spinner     *Spinner
	result      *StreamResult
	mu          sync.Mutex

	// State tracking
	answerBuilder   strings.Builder
	thinkingBuilder strings.Builder
	hasWrittenToken bool
	finalized       bool
}

// NewTerminalStreamRenderer creates a renderer for interactive terminal output.
//
// Parameters:
//   - w: The output writer. If nil, defaults to os.Stdout.
//   - personality: Controls output styling. Use GetPersonality().Level for
//     the user's configured personality, or hardcode for specific behavior.
//
// Returns:
//
//	A StreamRenderer that displays events interactively. The returned renderer
//	has an Id and CreatedAt already set on its internal result.
//
// Example:
//
//	// Use user's configured personality
//	renderer := NewTerminalStreamRenderer(os.Stdout, GetPersonality().Level)
//	defer renderer.Finalize()
//
//	// Force machine-readable output
//	renderer := NewTerminalStreamRenderer(os.Stdout, PersonalityMachine)
func NewTerminalStreamRenderer(w io.Writer, personality PersonalityLevel) StreamRenderer {
	if w == nil {
		w = os.Stdout
	}
	return &terminalStreamRenderer{
		writer:      w,
		personality: personality,
		result: &StreamResult{
			Id:        uuid.New().String(),
			CreatedAt: time.Now().UnixMilli(),
		},
	}
}

// OnStatus renders a status update message.
//
// Behavior by personality:
//   - PersonalityFull/Minimal: Starts or updates a spinner with the message.
//     The spinner runs until the first token arrives or stream ends.
//   - PersonalityMachine: Prints "STATUS: {message}\n" immediately.
//
// Side Effects:
//   - Increments TotalEvents in result
//   - May start/update spinner (interactive modes)
//   - May print to writer (machine mode)
func (r *terminalStreamRenderer) OnStatus(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.TotalEvents++

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "STATUS: %s\n", message)
		return
	}

	// Start or update spinner
	if r.spinner == nil {
		r.spinner = NewSpinner(message)
		r.spinner.Start()
	} else {
		r.spinner.UpdateMessage(message)
	}
}

// OnToken renders a single token from the tutor's response.
//
// Behavior by personality:
//   - PersonalityFull/Minimal: Prints the token immediately to the writer,
//     creating a streaming effect. Stops any running spinner on first token.
//   - PersonalityMachine: Buffers the token. All tokens are printed as a
//     single "ANSWER: {content}" line when OnDone is called.
//
// Side Effects:
//   - Sets FirstTokenAt on first call (for time-to-first-token metrics)
//   - Stops spinner on first call (interactive modes)
//   - Increments TotalTokens and TotalEvents in result
//   - Appends to answer buffer
func (r *terminalStreamRenderer) OnToken(ctx context.Context, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	// Track first token timing
	if !r.hasWrittenToken {
		r.result.FirstTokenAt = time.Now().UnixMilli()
		r.hasWrittenToken = true

		// Stop spinner when first token arrives
		if r.spinner != nil {
			r.spinner.Stop()
			r.spinner = nil
			if r.personality != PersonalityMachine {
				fmt.Fprintln(r.writer) // New line after spinner
			}
		}
	}

	r.answerBuilder.WriteString(token)
	r.result.TotalTokens++
	r.result.TotalEvents++

	if r.personality == PersonalityMachine {
		// In machine mode, buffer until done
		return
	}

	// Print token immediately for streaming effect
	fmt.Fprint(r.writer, token)
}

// OnThinking renders thinking/reasoning tokens.
//
// Thinking tokens represent the model's internal reasoning process. They are
// displayed differently from answer tokens to distinguish reasoning from
// output.
//
// Behavior by personality:
//   - PersonalityFull/Minimal: Prints thinking in muted styling inline.
//     Stops any running spinner before printing.
//   - PersonalityMachine: Buffers thinking. Printed as "THINKING: {content}"
//     when OnDone is called.
//
// Side Effects:
//   - Stops spinner if running (interactive modes)
//   - Increments ThinkingTokens and TotalEvents in result
//   - Appends to thinking buffer
func (r *terminalStreamRenderer) OnThinking(ctx context.Context, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.thinkingBuilder.WriteString(content)
	r.result.ThinkingTokens++
	r.result.TotalEvents++

	if r.personality == PersonalityMachine {
		// Buffer in machine mode
		return
	}

	// In interactive mode, show thinking inline (muted)
	// Stop spinner if running
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
		fmt.Fprintln(r.writer)
	}

	// Print thinking content in muted style
	fmt.Fprint(r.writer, Styles.Muted.Render(content))
}

// OnMetadata renders teaching metadata.
//
// Detected concepts are displayed as they arrive, giving the student
// immediate visibility into what the tutor recognized in their question.
// Suggested followups are held in the result and printed by OnDone so
// they appear after the answer instead of before it.
//
// Behavior by personality:
//   - PersonalityFull: Displays concepts on a muted line with the strategy
//     approach. Stops any running spinner beforehand.
//   - PersonalityMinimal: Displays a plain "Concepts: a, b" line.
//   - PersonalityMachine: Prints "CONCEPT: {name}" per concept and
//     "STRATEGY: {approach} confidence={c}" immediately.
//
// Side Effects:
//   - Sets Metadata in result
//   - Stops spinner if running (interactive modes)
//   - Increments TotalEvents in result
//   - Prints to writer immediately (concepts and strategy)
func (r *terminalStreamRenderer) OnMetadata(ctx context.Context, metadata *TeachMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.Metadata = metadata
	r.result.TotalEvents++

	if metadata == nil {
		return
	}

	if r.personality == PersonalityMachine {
		for _, concept := range metadata.DetectedConcepts {
			fmt.Fprintf(r.writer, "CONCEPT: %s\n", concept)
		}
		if metadata.Strategy != nil {
			fmt.Fprintf(r.writer, "STRATEGY: %s confidence=%.2f\n",
				metadata.Strategy.Approach, metadata.Strategy.Confidence)
		}
		return
	}

	if len(metadata.DetectedConcepts) == 0 {
		return
	}

	// Stop spinner if running to show concepts
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}

	if r.personality == PersonalityMinimal {
		fmt.Fprintf(r.writer, "Concepts: %s\n", strings.Join(metadata.DetectedConcepts, ", "))
		return
	}

	// Full personality - muted concept line with strategy approach
	line := fmt.Sprintf("Concepts: %s", strings.Join(metadata.DetectedConcepts, ", "))
	if metadata.Strategy != nil && metadata.Strategy.Approach != "" {
		line = fmt.Sprintf("%s | Approach: %s", line, metadata.Strategy.Approach)
	}
	fmt.Fprintln(r.writer, Styles.Muted.Render(line))
}

// OnDone signals successful stream completion.
//
// This method is called when the stream ends normally (not due to error).
// It finalizes output, flushes buffers, and records the session ID.
//
// Behavior by personality:
//   - PersonalityFull: Stops any spinner, ensures output ends with a
//     newline, then prints suggested followups if the metadata carried any.
//   - PersonalityMinimal: Same, without the followup styling.
//   - PersonalityMachine: Prints buffered answer as "ANSWER: {content}",
//     buffered thinking as "THINKING: {content}", followups as
//     "FOLLOWUP: {text}", session as "SESSION: {id}", and finally "DONE".
//
// Side Effects:
//   - Sets SessionID and CompletedAt in result
//   - Stops spinner if running
//   - Increments TotalEvents in result
//
// After Calling:
//
//	Only Finalize() and Result() should be called. Further On* calls are ignored.
func (r *terminalStreamRenderer) OnDone(ctx context.Context, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.SessionID = sessionID
	r.result.CompletedAt = time.Now().UnixMilli()
	r.result.TotalEvents++

	// Stop spinner if still running
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}

	if r.personality == PersonalityMachine {
		// Print buffered answer
		answer := r.answerBuilder.String()
		if answer != "" {
			fmt.Fprintf(r.writer, "ANSWER: %s\n", answer)
		}
		thinking := r.thinkingBuilder.String()
		if thinking != "" {
			fmt.Fprintf(r.writer, "THINKING: %s\n", thinking)
		}
		if r.result.Metadata != nil {
			for _, followup := range r.result.Metadata.SuggestedFollowups {
				fmt.Fprintf(r.writer, "FOLLOWUP: %s\n", followup)
			}
		}
		if sessionID != "" {
			fmt.Fprintf(r.writer, "SESSION: %s\n", sessionID)
		}
		fmt.Fprintln(r.writer, "DONE")
		return
	}

	// Ensure we end with a newline
	answer := r.answerBuilder.String()
	if answer != "" && !strings.HasSuffix(answer, "\n") {
		fmt.Fprintln(r.writer)
	}

	// Suggested followups appear after the answer
	if r.result.Metadata != nil && len(r.result.Metadata.SuggestedFollowups) > 0 {
		fmt.Fprintln(r.writer)
		if r.personality == PersonalityMinimal {
			fmt.Fprintln(r.writer, "Ask next:")
			for _, followup := range r.result.Metadata.SuggestedFollowups {
				fmt.Fprintf(r.writer, "  - %s\n", followup)
			}
		} else {
			fmt.Fprintln(r.writer, Styles.Subtitle.Render("Ask next:"))
			for _, followup := range r.result.Metadata.SuggestedFollowups {
				fmt.Fprintf(r.writer, "  %s %s\n", IconArrow.Render(), followup)
			}
		}
	}
}

// OnError renders an error that occurred during streaming.
//
// Behavior by personality:
//   - PersonalityFull: Displays error with error icon and red styling.
//   - PersonalityMinimal: Displays error with error icon.
//   - PersonalityMachine: Prints "ERROR: {message}".
//
// Side Effects:
//   - Sets Error and CompletedAt in result
//   - Stops spinner if running
//   - Increments TotalEvents in result
//
// After Calling:
//
//	Only Finalize() and Result() should be called. Further On* calls are ignored.
func (r *terminalStreamRenderer) OnError(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.Error = err.Error()
	r.result.CompletedAt = time.Now().UnixMilli()
	r.result.TotalEvents++

	// Stop spinner
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "ERROR: %v\n", err)
	} else {
		fmt.Fprintf(r.writer, "\n%s %s\n",
			IconError.Render(),
			Styles.Error.Render(fmt.Sprintf("Stream error: %v", err)))
	}
}

// Finalize performs cleanup and marks the renderer as complete.
//
// This method MUST be called when streaming ends, regardless of whether
// it ended normally (OnDone) or with an error (OnError). It's safe to call
// multiple times; subsequent calls are no-ops.
//
// Side Effects:
//   - Sets finalized flag to true
//   - Stops spinner if running
//   - Populates Answer and Thinking in result from builders
//   - Sets CompletedAt if zero
func (r *terminalStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true

	// Stop spinner if still running
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}

	// Finalize result
	r.result.Answer = r.answerBuilder.String()
	r.result.Thinking = r.thinkingBuilder.String()
	if r.result.CompletedAt == 0 {
		r.result.CompletedAt = time.Now().UnixMilli()
	}
}

// Result returns the accumulated StreamResult.
//
// May be called before Finalize() to get partial results during streaming.
// Returns a copy; modifications do not affect the renderer's internal state.
func (r *terminalStreamRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Copy result to avoid race conditions
	result := *r.result
	result.Answer = r.answerBuilder.String()
	result.Thinking = r.thinkingBuilder.String()
	return &result
}

// =============================================================================
// Buffer Stream Renderer (for testing)
// =============================================================================

// bufferStreamRenderer renders to an in-memory buffer for testing.
//
// This renderer captures all events without side effects, making it ideal
// for unit tests where you need to verify renderer behavior without
// terminal output.
//
// Fields:
//   - result: Accumulated result with metrics
//   - events: Slice of all captured events (in order)
//   - answerBuilder: Accumulates token content
//   - thinkingBuilder: Accumulates thinking content
//   - finalized: Prevents operations after Finalize()
type bufferStreamRenderer struct {
	result    *StreamResult
	events    []StreamEvent
	mu        sync.Mutex
	finalized bool

	answerBuilder   strings.Builder
	thinkingBuilder strings.Builder
}

// NewBufferStreamRenderer creates a renderer that buffers events to memory.
//
// Example:
//
//	renderer := NewBufferStreamRenderer()
//	defer renderer.Finalize()
//
//	renderer.OnToken(ctx, "Hello")
//	renderer.OnToken(ctx, " world")
//	renderer.OnDone(ctx, "sess-123")
//
//	result := renderer.Result()
//	if result.Answer != "Hello world" {
//	    t.Error("unexpected answer")
//	}
//
//	// Inspect individual events
//	bufRenderer := renderer.(*bufferStreamRenderer)
//	events := bufRenderer.Events()
//	if len(events) != 3 {
//	    t.Errorf("expected 3 events, got %d", len(events))
//	}
func NewBufferStreamRenderer() StreamRenderer {
	return &bufferStreamRenderer{
		result: &StreamResult{
			Id:        uuid.New().String(),
			CreatedAt: time.Now().UnixMilli(),
		},
		events: make([]StreamEvent, 0),
	}
}

// OnStatus captures a status event to the buffer.
func (r *bufferStreamRenderer) OnStatus(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.events = append(r.events, NewStatusEvent(message))
	r.result.TotalEvents++
}

// OnToken captures a token event to the buffer.
func (r *bufferStreamRenderer) OnToken(ctx context.Context, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	if r.result.FirstTokenAt == 0 {
		r.result.FirstTokenAt = time.Now().UnixMilli()
	}

	r.answerBuilder.WriteString(token)
	r.events = append(r.events, NewTokenEvent(token))
	r.result.TotalTokens++
	r.result.TotalEvents++
}

// OnThinking captures a thinking event to the buffer.
func (r *bufferStreamRenderer) OnThinking(ctx context.Context, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.thinkingBuilder.WriteString(content)
	r.events = append(r.events, NewThinkingEvent(content))
	r.result.ThinkingTokens++
	r.result.TotalEvents++
}

// OnMetadata captures a metadata event to the buffer.
func (r *bufferStreamRenderer) OnMetadata(ctx context.Context, metadata *TeachMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.Metadata = metadata
	r.events = append(r.events, NewMetadataEvent(metadata))
	r.result.TotalEvents++
}

// OnDone captures a done event to the buffer.
func (r *bufferStreamRenderer) OnDone(ctx context.Context, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.SessionID = sessionID
	r.result.CompletedAt = time.Now().UnixMilli()
	r.events = append(r.events, NewDoneEvent(sessionID))
	r.result.TotalEvents++
}

// OnError captures an error event to the buffer.
func (r *bufferStreamRenderer) OnError(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}

	r.result.Error = err.Error()
	r.result.CompletedAt = time.Now().UnixMilli()
	r.events = append(r.events, NewErrorEvent(err.Error()))
	r.result.TotalEvents++
}

// Finalize marks the buffer renderer as complete.
//
// Finalizes the answer and thinking buffers into the result.
// Safe to call multiple times.
func (r *bufferStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true

	r.result.Answer = r.answerBuilder.String()
	r.result.Thinking = r.thinkingBuilder.String()
	if r.result.CompletedAt == 0 {
		r.result.CompletedAt = time.Now().UnixMilli()
	}
}

// Result returns the accumulated StreamResult.
//
// Returns a copy of the result to prevent race conditions.
func (r *bufferStreamRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := *r.result
	result.Answer = r.answerBuilder.String()
	result.Thinking = r.thinkingBuilder.String()
	return &result
}

// Events returns all captured events for testing inspection.
//
// This method is specific to bufferStreamRenderer and not part of the
// StreamRenderer interface. Cast the renderer to access it.
//
// Returns a copy to prevent race conditions.
func (r *bufferStreamRenderer) Events() []StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Return a copy to avoid race conditions
	events := make([]StreamEvent, len(r.events))
	copy(events, r.events)
	return events
}

// =============================================================================
// Convenience Functions
// =============================================================================

// RenderStreamToResult is a convenience function that reads a stream and
// returns the aggregated result.
//
// This function combines StreamReader and internal buffering into a single
// call. Use for simple cases where you just need the final result without
// custom rendering.
//
// Example:
//
//	reader := NewSSEStreamReader(NewSSEParser())
//	result, err := RenderStreamToResult(ctx, reader, httpResp.Body)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.Answer)
func RenderStreamToResult(ctx context.Context, reader StreamReader, source io.Reader) (*StreamResult, error) {
	return reader.ReadAll(ctx, source)
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var _ StreamRenderer = (*terminalStreamRenderer)(nil)
var _ StreamRenderer = (*bufferStreamRenderer)(nil)
