// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Praxis CLI.
//
// This file contains hash chain verification for streaming responses.
// The hash chain provides tamper-evident logging for tutoring conversations.
//
// Hash Chain Design:
//
//	Each StreamEvent has a Hash computed from its fields and a PrevHash
//	linking to the previous event. This creates a chain similar to blockchain:
//
//	Event[0] → Event[1] → Event[2] → ... → Event[N]
//	  Hash₀     Hash₁     Hash₂           HashN
//	    ↑         ↑         ↑               ↑
//	    └─────────┴─────────┴───────────────┘
//	           Each PrevHash links to previous Hash
//
// If any event is modified, its hash changes, breaking the chain.
package ux

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// secureHashEqual performs constant-time comparison of two hash strings.
// This prevents timing attacks where an attacker could determine how many
// leading characters of a hash are correct by measuring response times.
func secureHashEqual(a, b string) bool {
	// subtle.ConstantTimeCompare returns 1 if equal, 0 if not
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// =============================================================================
// Interfaces
// =============================================================================

// ChainVerifier verifies the integrity of an event hash chain.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ChainVerifier interface {
	// Verify checks the integrity of a sequence of stream events.
	//
	// # Description
	//
	// Verifies that the hash chain is unbroken and valid.
	//
	// # Inputs
	//
	//   - events: Ordered list of stream events from the session
	//
	// # Outputs
	//
	//   - *ChainVerificationResult: Detailed verification results
	//
	// # Examples
	//
	//   verifier := NewFullChainVerifier()
	//   result := verifier.Verify(events)
	//   if !result.Valid {
	//       log.Warn("chain broken", "error", result.ErrorMessage)
	//   }
	//
	// # Limitations
	//
	//   - Implementation-specific verification depth
	//
	// # Assumptions
	//
	//   - Events are in chronological order
	//   - First event has empty PrevHash
	Verify(events []StreamEvent) *ChainVerificationResult
}

// HashComputer computes cryptographic hashes.
//
// # Description
//
// Abstracts hash computation for testability and algorithm flexibility.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type HashComputer interface {
	// ComputeEventHash computes the hash for a stream event.
	//
	// # Description
	//
	// Computes the hash over the event's envelope and content fields.
	// The format must match the server-side computation exactly:
	//
	//	SHA256(Id|Type|CreatedAt|PrevHash|Content|Message|Error|SessionID|metadataJSON)
	//
	// # Inputs
	//
	//   - event: The event to hash. The Hash field itself is excluded.
	//
	// # Outputs
	//
	//   - string: 64-character lowercase hex hash
	//
	// # Examples
	//
	//   computer := NewSHA256HashComputer()
	//   hash := computer.ComputeEventHash(event)
	//
	// # Limitations
	//
	//   - Hash algorithm is implementation-specific
	//
	// # Assumptions
	//
	//   - The event's Metadata serializes deterministically
	ComputeEventHash(event StreamEvent) string

	// ComputeContentHash computes a simple hash of content.
	//
	// # Description
	//
	// Computes SHA256 hash of the provided content string.
	//
	// # Inputs
	//
	//   - content: The content to hash
	//
	// # Outputs
	//
	//   - string: 64-character hex hash
	//
	// # Examples
	//
	//   hash := computer.ComputeContentHash("The answer is 42.")
	//
	// # Limitations
	//
	//   - Empty content produces a valid hash
	//
	// # Assumptions
	//
	//   - Content is valid UTF-8
	ComputeContentHash(content string) string
}

// =============================================================================
// Structs
// =============================================================================

// IntegrityInfo contains hash chain and integrity verification information.
//
// # Description
//
// Aggregates the verification state of a conversation for display and
// persistence: the final chain hash, the content hash of the answer,
// per-turn hashes, and the verification outcome.
//
// # Thread Safety
//
// Not safe for concurrent mutation. Build fully, then share read-only.
type IntegrityInfo struct {
	ChainHash         string         `json:"chain_hash"`
	ContentHash       string         `json:"content_hash"`
	TurnHashes        map[int]string `json:"turn_hashes,omitempty"`
	ChainLength       int            `json:"chain_length"`
	IntegrityVerified bool           `json:"integrity_verified"`
	VerificationError string         `json:"verification_error,omitempty"`
	VerifiedAt        int64          `json:"verified_at,omitempty"`
}

// ChainVerificationResult contains detailed results from chain verification.
//
// # Description
//
// Returned by ChainVerifier.Verify to provide detailed information about
// the verification process, including where any failures occurred.
//
// # Fields
//
//   - Valid: Whether the entire chain is valid
//   - ChainLength: Number of events verified
//   - FinalHash: The hash of the last event in the chain
//   - InvalidEventIndex: Index of first invalid event (-1 if all valid)
//   - ExpectedHash: What the hash should have been (if invalid)
//   - ActualHash: What the hash actually was (if invalid)
//   - ErrorMessage: Human-readable error description
//
// # Thread Safety
//
// Immutable after creation. Safe for concurrent read access.
type ChainVerificationResult struct {
	Valid             bool   `json:"valid"`
	ChainLength       int    `json:"chain_length"`
	FinalHash         string `json:"final_hash,omitempty"`
	InvalidEventIndex int    `json:"invalid_event_index"`
	ExpectedHash      string `json:"expected_hash,omitempty"`
	ActualHash        string `json:"actual_hash,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

// fullChainVerifier verifies chains by recomputing all hashes.
//
// # Description
//
// Complete verification that recomputes each event's hash from its fields
// and verifies both hash correctness and chain links.
//
// # Thread Safety
//
// Thread-safe if hashComputer is thread-safe.
type fullChainVerifier struct {
	hashComputer HashComputer
}

// sha256HashComputer computes hashes using SHA-256.
//
// # Description
//
// Production implementation of HashComputer using SHA-256. Stateless.
//
// # Thread Safety
//
// Thread-safe. No shared state.
type sha256HashComputer struct{}

// =============================================================================
// Constructor Functions
// =============================================================================

// NewIntegrityInfo creates an IntegrityInfo from a StreamResult.
//
// # Description
//
// Extracts hash chain information from a completed stream result.
// This is the primary way to create IntegrityInfo after streaming.
//
// # Inputs
//
//   - result: The completed StreamResult containing hash chain data
//   - verified: Whether the chain has been verified
//
// # Outputs
//
//   - *IntegrityInfo: Populated integrity information
//
// # Limitations
//
//   - TurnHashes are not populated by this function
//
// # Assumptions
//
//   - result is non-nil and contains valid hash data
func NewIntegrityInfo(result *StreamResult, verified bool) *IntegrityInfo {
	return &IntegrityInfo{
		ChainHash:         result.ChainHash,
		ContentHash:       result.ContentHash,
		ChainLength:       result.TotalEvents,
		IntegrityVerified: verified,
		VerifiedAt:        time.Now().UnixMilli(),
		TurnHashes:        make(map[int]string),
	}
}

// NewIntegrityInfoFromVerification creates IntegrityInfo from verification result.
//
// # Description
//
// Creates an IntegrityInfo with verification results populated.
// Use after calling Verify on a ChainVerifier.
//
// # Inputs
//
//   - verification: Result from ChainVerifier.Verify
//
// # Outputs
//
//   - *IntegrityInfo: Populated with verification results
//
// # Limitations
//
//   - ContentHash is not set (not available in verification result)
//
// # Assumptions
//
//   - verification is non-nil
func NewIntegrityInfoFromVerification(verification *ChainVerificationResult) *IntegrityInfo {
	return &IntegrityInfo{
		ChainHash:         verification.FinalHash,
		ChainLength:       verification.ChainLength,
		IntegrityVerified: verification.Valid,
		VerificationError: verification.ErrorMessage,
		VerifiedAt:        time.Now().UnixMilli(),
		TurnHashes:        make(map[int]string),
	}
}

// NewFullChainVerifier creates a verifier that recomputes all hashes.
//
// # Description
//
// Creates a comprehensive verifier that recomputes each event's hash
// and verifies both hash correctness and chain links.
//
// # Outputs
//
//   - ChainVerifier: Full verification implementation
//
// # Limitations
//
//   - Slower than link-only verification (O(n) hash computations)
//
// # Assumptions
//
//   - Events carry the fields they were hashed with server-side
func NewFullChainVerifier() ChainVerifier {
	return &fullChainVerifier{
		hashComputer: NewSHA256HashComputer(),
	}
}

// NewSHA256HashComputer creates a hash computer using SHA-256.
func NewSHA256HashComputer() HashComputer {
	return &sha256HashComputer{}
}

// =============================================================================
// IntegrityInfo Methods
// =============================================================================

// AddTurnHash adds a hash for a conversation turn.
//
// # Description
//
// Computes and stores a hash for a question/answer turn. The hash is
// computed from the concatenation of question and answer.
//
// # Inputs
//
//   - turnNumber: 1-indexed turn number
//   - question: The student's question
//   - answer: The tutor's answer
//
// # Limitations
//
//   - Overwrites existing hash for the same turn number
//
// # Assumptions
//
//   - TurnHashes map is initialized
func (i *IntegrityInfo) AddTurnHash(turnNumber int, question, answer string) {
	computer := NewSHA256HashComputer()
	content := question + answer
	i.TurnHashes[turnNumber] = computer.ComputeContentHash(content)
}

// GetTurnHash returns the hash for a specific turn.
//
// Returns the stored hash and true, or empty string and false when the
// turn has no recorded hash.
func (i *IntegrityInfo) GetTurnHash(turnNumber int) (string, bool) {
	hash, ok := i.TurnHashes[turnNumber]
	return hash, ok
}

// FormatForDisplay returns a single-line summary of the integrity state.
//
// # Description
//
// Produces a display string like:
//
//	✓ Verified | Chain: 42 events | Hash: a1b2c3d4...f9e0
//
// # Outputs
//
//   - string: Human-readable integrity summary
func (i *IntegrityInfo) FormatForDisplay() string {
	status := "✓ Verified"
	if !i.IntegrityVerified {
		status = "✗ FAILED"
	}

	hashDisplay := truncateHash(i.ChainHash)
	if i.ChainHash == "" {
		hashDisplay = "N/A"
	}

	return fmt.Sprintf("%s | Chain: %d events | Hash: %s",
		status, i.ChainLength, hashDisplay)
}

// =============================================================================
// fullChainVerifier Methods
// =============================================================================

// Verify checks hash correctness and chain links for all events.
//
// # Description
//
// Walks the event list in order. For each event it verifies that PrevHash
// links to the previous event's Hash, then recomputes the event's own hash
// and compares it with the stored value. Both comparisons are constant-time.
//
// # Inputs
//
//   - events: Ordered stream events with Hash and PrevHash populated
//
// # Outputs
//
//   - *ChainVerificationResult: Valid=true when the whole chain holds
//
// # Limitations
//
//   - Stops at the first invalid event
//
// # Assumptions
//
//   - An empty event list is a valid (empty) chain
func (v *fullChainVerifier) Verify(events []StreamEvent) *ChainVerificationResult {
	result := &ChainVerificationResult{
		Valid:             true,
		ChainLength:       len(events),
		InvalidEventIndex: -1,
	}

	if len(events) == 0 {
		return result
	}

	// First event should have empty PrevHash
	if events[0].PrevHash != "" {
		result.Valid = false
		result.InvalidEventIndex = 0
		result.ExpectedHash = ""
		result.ActualHash = events[0].PrevHash
		result.ErrorMessage = "first event should have empty PrevHash"
		return result
	}

	// Walk the chain verifying both hash computation and chain links
	prevHash := ""
	for i, event := range events {
		// Verify PrevHash links correctly (constant-time comparison to prevent timing attacks)
		if !secureHashEqual(event.PrevHash, prevHash) {
			result.Valid = false
			result.InvalidEventIndex = i
			result.ExpectedHash = prevHash
			result.ActualHash = event.PrevHash
			result.ErrorMessage = fmt.Sprintf(
				"chain broken at event %d: expected PrevHash %s, got %s",
				i, truncateHash(prevHash), truncateHash(event.PrevHash),
			)
			return result
		}

		// Recompute hash from the event fields
		computedHash := v.hashComputer.ComputeEventHash(event)
		// Constant-time comparison to prevent timing attacks
		if !secureHashEqual(computedHash, event.Hash) {
			result.Valid = false
			result.InvalidEventIndex = i
			result.ExpectedHash = computedHash
			result.ActualHash = event.Hash
			result.ErrorMessage = fmt.Sprintf(
				"hash mismatch at event %d: computed %s, stored %s (content may have been modified)",
				i, truncateHash(computedHash), truncateHash(event.Hash),
			)
			return result
		}

		prevHash = event.Hash
	}

	result.FinalHash = events[len(events)-1].Hash
	return result
}

// =============================================================================
// sha256HashComputer Methods
// =============================================================================

// ComputeEventHash computes the SHA-256 hash for a stream event.
//
// # Description
//
// Hashes all envelope and content fields, matching the server-side
// computation exactly:
//
//	SHA256(Id|Type|CreatedAt|PrevHash|Content|Message|Error|SessionID|metadataJSON)
//
// Metadata is serialized to JSON so both sides hash identical bytes.
//
// # Inputs
//
//   - event: The event to hash (Hash field is ignored)
//
// # Outputs
//
//   - string: 64-character lowercase hexadecimal hash
//
// # Limitations
//
//   - Format must match server-side computation exactly
//
// # Assumptions
//
//   - Metadata field order matches the server's struct declaration
func (c *sha256HashComputer) ComputeEventHash(event StreamEvent) string {
	// Serialize metadata for consistent hashing
	metadataJSON := ""
	if event.Metadata != nil {
		if data, err := json.Marshal(event.Metadata); err == nil {
			metadataJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		event.SessionID,
		metadataJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// ComputeContentHash computes the SHA-256 hash of content.
//
// Simple SHA-256 of the provided string. Used for answer content hashes
// and per-turn hashes.
func (c *sha256HashComputer) ComputeContentHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// =============================================================================
// Helper Functions
// =============================================================================

// truncateHash returns a truncated hash for display in error messages.
//
// Shows first 8 and last 4 characters with "..." in between. Full 64-char
// hashes are unwieldy in error messages. Returns the original string when
// it is 16 characters or fewer.
func truncateHash(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:8] + "..." + hash[len(hash)-4:]
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var _ ChainVerifier = (*fullChainVerifier)(nil)
var _ HashComputer = (*sha256HashComputer)(nil)
