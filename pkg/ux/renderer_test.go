// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

// =============================================================================
// Terminal Stream Renderer Tests
// =============================================================================

func TestNewTerminalStreamRenderer(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewTerminalStreamRenderer(&buf, PersonalityMachine)
	defer renderer.Finalize()

	if renderer == nil {
		t.Fatal("NewTerminalStreamRenderer returned nil")
	}

	result := renderer.Result()
	if result.Id == "" {
		t.Error("expected result Id to be set")
	}
	if result.CreatedAt == 0 {
		t.Error("expected result CreatedAt to be set")
	}
}

func TestTerminalRenderer_MachineMode_Status(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewTerminalStreamRenderer(&buf, PersonalityMachine)
	defer renderer.Finalize()

	renderer.OnStatus(context.Background(), "Analyzing question...")

	if got := buf.String(); got != "STATUS: Analyzing question...\n" {
		t.Errorf("unexpected status output: %q", got)
	}
}

func TestTerminalRenderer_MachineMode_BuffersTokensUntilDone(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewTerminalStreamRenderer(&buf, PersonalityMachine)
	defer renderer.Finalize()

	ctx := context.Background()
	renderer.OnToken(ctx, "Recursion ")
	renderer.OnToken(ctx, "is self-reference.")

	if buf.Len() != 0 {
		t.Errorf("machine mode should buffer tokens, got %q", buf.String())
	}

	renderer.OnDone(ctx, "sess-1")

	output := buf.String()
	if !strings.Contains(output, "ANSWER: Recursion is self-reference.\n") {
		t.Errorf("expected buffered ANSWER line, got %q", output)
	}
	if !strings.Contains(output, "SESSION: sess-1\n") {
		t.Errorf("expected SESSION line, got %q", output)
	}
	if !strings.Contains(output, "DONE\n") {
		t.Errorf("expected DONE line, got %q", output)
	}
}

func TestTerminalRenderer_MachineMode_Thinking(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewTerminalStreamRenderer(&buf, PersonalityMachine)
	defer renderer.Finalize()

	ctx := context.Background()
	renderer.OnThinking(ctx, "an analogy might help")
	renderer.OnToken(ctx, "Think of nesting dolls.")
	renderer.OnDone(ctx, "")

	output := buf.String()
	if !strings.Contains(output, "THINKING: an analogy might help\n") {
		t.Errorf("expected THINKING line, got %q", output)
	}
}

func TestTerminalRenderer_MachineMode_Metadata(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewTerminalStreamRenderer(&buf, PersonalityMachine)
	defer renderer.Finalize()

	ctx := context.Background()
	renderer.OnMetadata(ctx, &TeachMetadata{
		DetectedConcepts:   []string{"recursion", "base case"},
		SuggestedFollowups: []string{"What is tail recursion?"},
		Strategy:           &StrategyInfo{Approach: "socratic", Confidence: 0.8},
	})

	output := buf.String()
	if !strings.Contains(output, "CONCEPT: recursion\n") {
		t.Errorf("expected CONCEPT line, got %q", output)
	}
	if !strings.Contains(output, "CONCEPT: base case\n") {
		t.Errorf("expected second CONCEPT line, got %q", output)
	}
	if !strings.Contains(output, "STRATEGY: socratic confidence=0.80\n") {
		t.Errorf("expected STRATEGY line, got %q", output)
	}
	// Followups are held until OnDone
	if strings.Contains(output, "FOLLOWUP:") {
		t.Errorf("followups should be held until done, got %q", output)
	}

	renderer.OnDone(ctx, "")
	if !strings.Contains(buf.String(), "FOLLOWUP: What is tail recursion?\n") {
		t.Errorf("expected FOLLOWUP after done, got %q", buf.String())
	}
}

func TestTerminalRenderer_MachineMode_Error(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewTerminalStreamRenderer(&buf, PersonalityMachine)
	defer renderer.Finalize()

	renderer.OnError(context.Background(), errors.New("model unavailable"))

	if got := buf.String(); got != "ERROR: model unavailable\n" {
		t.Errorf("unexpected error output: %q", got)
	}

	result := renderer.Result()
	if result.Error != "model unavailable" {
		t.Errorf("expected error in result, got %q", result.Error)
	}
}

func TestTerminalRenderer_MinimalMode_StreamsTokens(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewTerminalStreamRenderer(&buf, PersonalityMinimal)
	defer renderer.Finalize()

	ctx := context.Background()
	renderer.OnToken(ctx, "Recursion ")
	renderer.OnToken(ctx, "is self-reference.")

	// Interactive modes print tokens immediately
	if got := buf.String(); got != "Recursion is self-reference." {
		t.Errorf("expected streamed tokens, got %q", got)
	}
}

func TestTerminalRenderer_MinimalMode_FollowupsAfterDone(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewTerminalStreamRenderer(&buf, PersonalityMinimal)
	defer renderer.Finalize()

	ctx := context.Background()
	renderer.OnMetadata(ctx, &TeachMetadata{
		DetectedConcepts:   []string{"recursion"},
		SuggestedFollowups: []string{"What is a base case?"},
	})
	renderer.OnToken(ctx, "Recursion is self-reference.")
	renderer.OnDone(ctx, "sess-1")

	output := buf.String()
	conceptsIdx := strings.Index(output, "Concepts: recursion")
	answerIdx := strings.Index(output, "Recursion is self-reference.")
	followupIdx := strings.Index(output, "What is a base case?")

	if conceptsIdx == -1 {
		t.Fatalf("expected concepts line, got %q", output)
	}
	if answerIdx == -1 {
		t.Fatalf("expected answer, got %q", output)
	}
	if followupIdx == -1 {
		t.Fatalf("expected followup, got %q", output)
	}
	if !(conceptsIdx < answerIdx && answerIdx < followupIdx) {
		t.Errorf("expected concepts before answer before followups, got %q", output)
	}
	if !strings.Contains(output, "Ask next:") {
		t.Errorf("expected followup header, got %q", output)
	}
}

func TestTerminalRenderer_TracksMetrics(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewTerminalStreamRenderer(&buf, PersonalityMachine)
	defer renderer.Finalize()

	ctx := context.Background()
	renderer.OnStatus(ctx, "Analyzing...")
	renderer.OnThinking(ctx, "hmm")
	renderer.OnToken(ctx, "a")
	renderer.OnToken(ctx, "b")
	renderer.OnDone(ctx, "sess-1")

	result := renderer.Result()
	if result.TotalEvents != 5 {
		t.Errorf("expected 5 events, got %d", result.TotalEvents)
	}
	if result.TotalTokens != 2 {
		t.Errorf("expected 2 tokens, got %d", result.TotalTokens)
	}
	if result.ThinkingTokens != 1 {
		t.Errorf("expected 1 thinking token, got %d", result.ThinkingTokens)
	}
	if result.FirstTokenAt == 0 {
		t.Error("expected FirstTokenAt to be set")
	}
	if result.SessionID != "sess-1" {
		t.Errorf("expected session sess-1, got %q", result.SessionID)
	}
}

func TestTerminalRenderer_IgnoresEventsAfterFinalize(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewTerminalStreamRenderer(&buf, PersonalityMachine)

	renderer.Finalize()
	renderer.OnToken(context.Background(), "late token")
	renderer.OnStatus(context.Background(), "late status")

	if buf.Len() != 0 {
		t.Errorf("expected no output after finalize, got %q", buf.String())
	}
	if renderer.Result().TotalTokens != 0 {
		t.Error("expected no tokens counted after finalize")
	}
}

func TestTerminalRenderer_FinalizeIdempotent(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewTerminalStreamRenderer(&buf, PersonalityMachine)

	renderer.OnToken(context.Background(), "a")
	renderer.Finalize()
	renderer.Finalize()

	result := renderer.Result()
	if result.Answer != "a" {
		t.Errorf("expected answer 'a', got %q", result.Answer)
	}
	if result.CompletedAt == 0 {
		t.Error("expected CompletedAt to be set")
	}
}

func TestTerminalRenderer_ResultReturnsCopy(t *testing.T) {
	var buf bytes.Buffer
	renderer := NewTerminalStreamRenderer(&buf, PersonalityMachine)
	defer renderer.Finalize()

	renderer.OnToken(context.Background(), "a")

	first := renderer.Result()
	first.Answer = "mutated"

	second := renderer.Result()
	if second.Answer != "a" {
		t.Errorf("Result must return a copy, got %q", second.Answer)
	}
}

// =============================================================================
// Buffer Stream Renderer Tests
// =============================================================================

func TestBufferRenderer_CapturesEvents(t *testing.T) {
	renderer := NewBufferStreamRenderer()
	defer renderer.Finalize()

	ctx := context.Background()
	renderer.OnStatus(ctx, "Analyzing...")
	renderer.OnToken(ctx, "Hello")
	renderer.OnToken(ctx, " world")
	renderer.OnDone(ctx, "sess-123")

	bufRenderer := renderer.(*bufferStreamRenderer)
	events := bufRenderer.Events()

	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Type != StreamEventStatus {
		t.Errorf("expected status first, got %v", events[0].Type)
	}
	if events[1].Type != StreamEventToken || events[1].Content != "Hello" {
		t.Errorf("unexpected second event: %+v", events[1])
	}
	if events[3].Type != StreamEventDone || events[3].SessionID != "sess-123" {
		t.Errorf("unexpected final event: %+v", events[3])
	}
}

func TestBufferRenderer_AggregatesAnswer(t *testing.T) {
	renderer := NewBufferStreamRenderer()

	ctx := context.Background()
	renderer.OnToken(ctx, "Hello")
	renderer.OnToken(ctx, " world")
	renderer.OnDone(ctx, "sess-123")
	renderer.Finalize()

	result := renderer.Result()
	if result.Answer != "Hello world" {
		t.Errorf("expected 'Hello world', got %q", result.Answer)
	}
	if result.TotalTokens != 2 {
		t.Errorf("expected 2 tokens, got %d", result.TotalTokens)
	}
	if result.SessionID != "sess-123" {
		t.Errorf("expected session sess-123, got %q", result.SessionID)
	}
}

func TestBufferRenderer_CapturesMetadataAndThinking(t *testing.T) {
	renderer := NewBufferStreamRenderer()
	defer renderer.Finalize()

	ctx := context.Background()
	renderer.OnThinking(ctx, "reasoning step")
	renderer.OnMetadata(ctx, &TeachMetadata{DetectedConcepts: []string{"recursion"}})

	result := renderer.Result()
	if result.Thinking != "reasoning step" {
		t.Errorf("unexpected thinking: %q", result.Thinking)
	}
	if result.Metadata == nil || len(result.Metadata.DetectedConcepts) != 1 {
		t.Errorf("expected metadata with 1 concept, got %+v", result.Metadata)
	}
}

func TestBufferRenderer_CapturesError(t *testing.T) {
	renderer := NewBufferStreamRenderer()
	defer renderer.Finalize()

	renderer.OnError(context.Background(), errors.New("stream failed"))

	result := renderer.Result()
	if !result.HasError() {
		t.Error("expected HasError true")
	}
	if result.Error != "stream failed" {
		t.Errorf("unexpected error: %q", result.Error)
	}

	events := renderer.(*bufferStreamRenderer).Events()
	if len(events) != 1 || events[0].Type != StreamEventError {
		t.Errorf("expected single error event, got %+v", events)
	}
}

func TestBufferRenderer_IgnoresEventsAfterFinalize(t *testing.T) {
	renderer := NewBufferStreamRenderer()

	renderer.OnToken(context.Background(), "a")
	renderer.Finalize()
	renderer.OnToken(context.Background(), "late")

	result := renderer.Result()
	if result.Answer != "a" {
		t.Errorf("expected 'a', got %q", result.Answer)
	}
	if len(renderer.(*bufferStreamRenderer).Events()) != 1 {
		t.Error("expected no events captured after finalize")
	}
}

func TestBufferRenderer_EventsReturnsCopy(t *testing.T) {
	renderer := NewBufferStreamRenderer()
	defer renderer.Finalize()

	renderer.OnToken(context.Background(), "a")

	bufRenderer := renderer.(*bufferStreamRenderer)
	events := bufRenderer.Events()
	events[0].Content = "mutated"

	if bufRenderer.Events()[0].Content != "a" {
		t.Error("Events must return a copy")
	}
}

// =============================================================================
// Convenience Function Tests
// =============================================================================

func TestRenderStreamToResult(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"type":"token","content":"Hello"}`,
		`data: {"type":"done","session_id":"sess-1"}`,
	}, "\n")

	reader := NewSSEStreamReader(NewSSEParser())
	result, err := RenderStreamToResult(context.Background(), reader, strings.NewReader(stream))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Answer != "Hello" {
		t.Errorf("expected 'Hello', got %q", result.Answer)
	}
	if result.SessionID != "sess-1" {
		t.Errorf("expected session sess-1, got %q", result.SessionID)
	}
}
