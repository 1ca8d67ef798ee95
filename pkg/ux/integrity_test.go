// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"strings"
	"testing"
)

// buildChain constructs a valid hash chain over the given events, filling
// Hash and PrevHash the way the server does during streaming.
func buildChain(events []StreamEvent) []StreamEvent {
	computer := NewSHA256HashComputer()
	prevHash := ""
	for i := range events {
		events[i].PrevHash = prevHash
		events[i].Hash = computer.ComputeEventHash(events[i])
		prevHash = events[i].Hash
	}
	return events
}

// =============================================================================
// SHA256HashComputer Tests
// =============================================================================

func TestSHA256HashComputer_ComputeContentHash(t *testing.T) {
	computer := NewSHA256HashComputer()

	hash := computer.ComputeContentHash("The answer is 42.")

	if len(hash) != 64 {
		t.Errorf("expected 64-character hash, got %d characters", len(hash))
	}
	if hash != computer.ComputeContentHash("The answer is 42.") {
		t.Error("hash must be deterministic")
	}
	if hash == computer.ComputeContentHash("different content") {
		t.Error("different content must produce different hashes")
	}
}

func TestSHA256HashComputer_ComputeContentHash_Empty(t *testing.T) {
	computer := NewSHA256HashComputer()

	hash := computer.ComputeContentHash("")
	if len(hash) != 64 {
		t.Errorf("empty content should still hash, got %d characters", len(hash))
	}
}

func TestSHA256HashComputer_ComputeEventHash_Deterministic(t *testing.T) {
	computer := NewSHA256HashComputer()
	event := StreamEvent{
		Id:        "evt-1",
		Type:      StreamEventToken,
		CreatedAt: 1700000000000,
		Content:   "Hello",
	}

	first := computer.ComputeEventHash(event)
	second := computer.ComputeEventHash(event)

	if first != second {
		t.Error("event hash must be deterministic")
	}
	if len(first) != 64 {
		t.Errorf("expected 64-character hash, got %d characters", len(first))
	}
}

func TestSHA256HashComputer_ComputeEventHash_IgnoresStoredHash(t *testing.T) {
	computer := NewSHA256HashComputer()
	event := StreamEvent{
		Id:        "evt-1",
		Type:      StreamEventToken,
		CreatedAt: 1700000000000,
		Content:   "Hello",
	}

	without := computer.ComputeEventHash(event)
	event.Hash = "some-stored-hash"
	with := computer.ComputeEventHash(event)

	if without != with {
		t.Error("stored Hash field must not affect the computed hash")
	}
}

func TestSHA256HashComputer_ComputeEventHash_SensitiveToContent(t *testing.T) {
	computer := NewSHA256HashComputer()
	event := StreamEvent{
		Id:        "evt-1",
		Type:      StreamEventToken,
		CreatedAt: 1700000000000,
		Content:   "Hello",
	}

	original := computer.ComputeEventHash(event)
	event.Content = "Hello!"
	modified := computer.ComputeEventHash(event)

	if original == modified {
		t.Error("content change must change the hash")
	}
}

func TestSHA256HashComputer_ComputeEventHash_IncludesMetadata(t *testing.T) {
	computer := NewSHA256HashComputer()
	event := StreamEvent{
		Id:        "evt-1",
		Type:      StreamEventMetadata,
		CreatedAt: 1700000000000,
	}

	without := computer.ComputeEventHash(event)
	event.Metadata = &TeachMetadata{DetectedConcepts: []string{"recursion"}}
	with := computer.ComputeEventHash(event)

	if without == with {
		t.Error("metadata must be included in the hash input")
	}
}

// =============================================================================
// FullChainVerifier Tests
// =============================================================================

func TestFullChainVerifier_EmptyChain(t *testing.T) {
	verifier := NewFullChainVerifier()

	result := verifier.Verify(nil)

	if !result.Valid {
		t.Error("empty chain should be valid")
	}
	if result.ChainLength != 0 {
		t.Errorf("expected chain length 0, got %d", result.ChainLength)
	}
	if result.InvalidEventIndex != -1 {
		t.Errorf("expected invalid index -1, got %d", result.InvalidEventIndex)
	}
}

func TestFullChainVerifier_ValidChain(t *testing.T) {
	events := buildChain([]StreamEvent{
		{Id: "evt-1", Type: StreamEventStatus, CreatedAt: 1000, Message: "Analyzing..."},
		{Id: "evt-2", Type: StreamEventToken, CreatedAt: 1001, Content: "Recursion "},
		{Id: "evt-3", Type: StreamEventToken, CreatedAt: 1002, Content: "is self-reference."},
		{Id: "evt-4", Type: StreamEventDone, CreatedAt: 1003, SessionID: "sess-1"},
	})

	verifier := NewFullChainVerifier()
	result := verifier.Verify(events)

	if !result.Valid {
		t.Fatalf("expected valid chain, got error: %s", result.ErrorMessage)
	}
	if result.ChainLength != 4 {
		t.Errorf("expected chain length 4, got %d", result.ChainLength)
	}
	if result.FinalHash != events[3].Hash {
		t.Errorf("expected final hash %q, got %q", events[3].Hash, result.FinalHash)
	}
}

func TestFullChainVerifier_FirstEventNonEmptyPrevHash(t *testing.T) {
	events := buildChain([]StreamEvent{
		{Id: "evt-1", Type: StreamEventToken, CreatedAt: 1000, Content: "a"},
	})
	events[0].PrevHash = "unexpected"

	verifier := NewFullChainVerifier()
	result := verifier.Verify(events)

	if result.Valid {
		t.Fatal("expected invalid chain")
	}
	if result.InvalidEventIndex != 0 {
		t.Errorf("expected failure at event 0, got %d", result.InvalidEventIndex)
	}
	if !strings.Contains(result.ErrorMessage, "empty PrevHash") {
		t.Errorf("unexpected error message: %q", result.ErrorMessage)
	}
}

func TestFullChainVerifier_BrokenLink(t *testing.T) {
	events := buildChain([]StreamEvent{
		{Id: "evt-1", Type: StreamEventToken, CreatedAt: 1000, Content: "a"},
		{Id: "evt-2", Type: StreamEventToken, CreatedAt: 1001, Content: "b"},
		{Id: "evt-3", Type: StreamEventDone, CreatedAt: 1002},
	})
	// Break the link between events 1 and 2
	events[2].PrevHash = "tampered"

	verifier := NewFullChainVerifier()
	result := verifier.Verify(events)

	if result.Valid {
		t.Fatal("expected invalid chain")
	}
	if result.InvalidEventIndex != 2 {
		t.Errorf("expected failure at event 2, got %d", result.InvalidEventIndex)
	}
	if !strings.Contains(result.ErrorMessage, "chain broken at event 2") {
		t.Errorf("unexpected error message: %q", result.ErrorMessage)
	}
}

func TestFullChainVerifier_TamperedContent(t *testing.T) {
	events := buildChain([]StreamEvent{
		{Id: "evt-1", Type: StreamEventToken, CreatedAt: 1000, Content: "The answer is 42."},
		{Id: "evt-2", Type: StreamEventDone, CreatedAt: 1001},
	})
	// Modify content after hashing; the stored hash no longer matches
	events[0].Content = "The answer is 43."

	verifier := NewFullChainVerifier()
	result := verifier.Verify(events)

	if result.Valid {
		t.Fatal("expected invalid chain after content tampering")
	}
	if result.InvalidEventIndex != 0 {
		t.Errorf("expected failure at event 0, got %d", result.InvalidEventIndex)
	}
	if !strings.Contains(result.ErrorMessage, "hash mismatch") {
		t.Errorf("unexpected error message: %q", result.ErrorMessage)
	}
}

func TestFullChainVerifier_SingleEvent(t *testing.T) {
	events := buildChain([]StreamEvent{
		{Id: "evt-1", Type: StreamEventDone, CreatedAt: 1000, SessionID: "sess-1"},
	})

	verifier := NewFullChainVerifier()
	result := verifier.Verify(events)

	if !result.Valid {
		t.Fatalf("expected valid single-event chain, got: %s", result.ErrorMessage)
	}
}

func TestFullChainVerifier_ChainWithMetadata(t *testing.T) {
	events := buildChain([]StreamEvent{
		{Id: "evt-1", Type: StreamEventToken, CreatedAt: 1000, Content: "a"},
		{Id: "evt-2", Type: StreamEventMetadata, CreatedAt: 1001, Metadata: &TeachMetadata{
			DetectedConcepts:   []string{"recursion"},
			SuggestedFollowups: []string{"What is a base case?"},
			Strategy:           &StrategyInfo{Approach: "socratic", Confidence: 0.8},
		}},
		{Id: "evt-3", Type: StreamEventDone, CreatedAt: 1002},
	})

	verifier := NewFullChainVerifier()
	result := verifier.Verify(events)

	if !result.Valid {
		t.Fatalf("expected valid chain with metadata event, got: %s", result.ErrorMessage)
	}
}

// =============================================================================
// IntegrityInfo Tests
// =============================================================================

func TestNewIntegrityInfo(t *testing.T) {
	result := &StreamResult{
		ChainHash:   "chain-tip",
		ContentHash: "content",
		TotalEvents: 9,
	}

	info := NewIntegrityInfo(result, true)

	if info.ChainHash != "chain-tip" {
		t.Errorf("unexpected chain hash: %q", info.ChainHash)
	}
	if info.ChainLength != 9 {
		t.Errorf("unexpected chain length: %d", info.ChainLength)
	}
	if !info.IntegrityVerified {
		t.Error("expected verified flag")
	}
	if info.VerifiedAt == 0 {
		t.Error("expected VerifiedAt to be set")
	}
	if info.TurnHashes == nil {
		t.Error("expected initialized TurnHashes map")
	}
}

func TestNewIntegrityInfoFromVerification(t *testing.T) {
	verification := &ChainVerificationResult{
		Valid:        false,
		ChainLength:  3,
		FinalHash:    "final",
		ErrorMessage: "chain broken at event 2",
	}

	info := NewIntegrityInfoFromVerification(verification)

	if info.IntegrityVerified {
		t.Error("expected unverified")
	}
	if info.VerificationError != "chain broken at event 2" {
		t.Errorf("unexpected verification error: %q", info.VerificationError)
	}
	if info.ChainHash != "final" {
		t.Errorf("unexpected chain hash: %q", info.ChainHash)
	}
}

func TestIntegrityInfo_TurnHashes(t *testing.T) {
	info := &IntegrityInfo{TurnHashes: make(map[int]string)}

	info.AddTurnHash(1, "What is recursion?", "Recursion is self-reference.")

	hash, ok := info.GetTurnHash(1)
	if !ok {
		t.Fatal("expected turn hash for turn 1")
	}
	if len(hash) != 64 {
		t.Errorf("expected 64-character hash, got %d characters", len(hash))
	}

	if _, ok := info.GetTurnHash(2); ok {
		t.Error("expected no hash for turn 2")
	}
}

func TestIntegrityInfo_AddTurnHash_Deterministic(t *testing.T) {
	a := &IntegrityInfo{TurnHashes: make(map[int]string)}
	b := &IntegrityInfo{TurnHashes: make(map[int]string)}

	a.AddTurnHash(1, "question", "answer")
	b.AddTurnHash(1, "question", "answer")

	hashA, _ := a.GetTurnHash(1)
	hashB, _ := b.GetTurnHash(1)
	if hashA != hashB {
		t.Error("same turn content must produce the same hash")
	}
}

func TestIntegrityInfo_FormatForDisplay_Verified(t *testing.T) {
	info := &IntegrityInfo{
		IntegrityVerified: true,
		ChainLength:       42,
		ChainHash:         strings.Repeat("a", 64),
	}

	display := info.FormatForDisplay()

	if !strings.Contains(display, "✓ Verified") {
		t.Errorf("expected verified marker, got %q", display)
	}
	if !strings.Contains(display, "Chain: 42 events") {
		t.Errorf("expected chain length, got %q", display)
	}
	if !strings.Contains(display, "aaaaaaaa...aaaa") {
		t.Errorf("expected truncated hash, got %q", display)
	}
}

func TestIntegrityInfo_FormatForDisplay_Failed(t *testing.T) {
	info := &IntegrityInfo{IntegrityVerified: false}

	display := info.FormatForDisplay()

	if !strings.Contains(display, "✗ FAILED") {
		t.Errorf("expected failure marker, got %q", display)
	}
	if !strings.Contains(display, "Hash: N/A") {
		t.Errorf("expected N/A hash, got %q", display)
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestTruncateHash(t *testing.T) {
	tests := []struct {
		name string
		hash string
		want string
	}{
		{"empty", "", ""},
		{"short", "abc123", "abc123"},
		{"exactly 16", "0123456789abcdef", "0123456789abcdef"},
		{"full hash", strings.Repeat("ab", 32), "abababab...abab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateHash(tt.hash); got != tt.want {
				t.Errorf("truncateHash(%q) = %q, want %q", tt.hash, got, tt.want)
			}
		})
	}
}

func TestSecureHashEqual(t *testing.T) {
	if !secureHashEqual("abc", "abc") {
		t.Error("expected equal hashes to match")
	}
	if secureHashEqual("abc", "abd") {
		t.Error("expected different hashes to differ")
	}
	if secureHashEqual("abc", "abcd") {
		t.Error("expected different-length hashes to differ")
	}
}
