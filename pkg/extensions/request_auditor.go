// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"time"
)

// =============================================================================
// HTTP Capture Types
// =============================================================================

// HTTPHeaders is a simplified header map for audit capture.
type HTTPHeaders map[string]string

// Get returns the value for a header key, or "" when absent.
func (h HTTPHeaders) Get(key string) string {
	return h[key]
}

// Set stores a header value.
func (h HTTPHeaders) Set(key, value string) {
	h[key] = value
}

// AuditableRequest contains raw request data for audit capture.
//
// Passed to CaptureRequest() to give hosted implementations access to the
// raw bytes for hashing, encryption, and storage. The open source service
// does NOT compute hashes here; that is the implementation's responsibility.
//
// Example:
//
//	req := &AuditableRequest{
//	    Method:    "POST",
//	    Path:      "/v1/teach",
//	    Headers:   HTTPHeaders{"Content-Type": "application/json"},
//	    Body:      rawRequestBytes,
//	    UserID:    authInfo.UserID,
//	    SessionID: sessionID,
//	    RequestID: requestID,
//	    Timestamp: time.Now().UTC(),
//	}
//	auditID, err := auditor.CaptureRequest(ctx, req)
type AuditableRequest struct {
	// Method is the HTTP method (GET, POST, etc.)
	Method string

	// Path is the request path (e.g., "/v1/teach")
	Path string

	// Headers contains the HTTP request headers.
	// Sensitive headers (Authorization) should be redacted by caller.
	Headers HTTPHeaders

	// Body is the raw request body bytes.
	Body []byte

	// UserID identifies who made the request.
	// Extracted from AuthInfo by the handler.
	UserID string

	// SessionID is the teaching session identifier (if applicable).
	SessionID string

	// RequestID is the unique identifier for this request.
	RequestID string

	// Timestamp is when the request was received (always UTC).
	Timestamp time.Time
}

// AuditableResponse contains raw response data for audit capture.
//
// The auditID from CaptureRequest() links the request and response together.
//
// # Streaming Responses
//
// For streaming endpoints (SSE), the handler accumulates all chunks and
// passes the concatenated body to CaptureResponse() at the end of the
// stream.
type AuditableResponse struct {
	// StatusCode is the HTTP response status code.
	StatusCode int

	// Headers contains the HTTP response headers.
	Headers HTTPHeaders

	// Body is the raw response body bytes.
	// For streaming responses, this is all chunks concatenated.
	Body []byte

	// Timestamp is when the response was sent (always UTC).
	Timestamp time.Time
}

// =============================================================================
// Hash Chain Types
// =============================================================================

// HashChainEntry represents a single entry in a tamper-evident audit chain.
//
// Hash chains provide cryptographic proof of the order and integrity of a
// teaching transcript. Each entry's hash incorporates the previous entry's
// hash, so any insertion, deletion, or modification of historical turns
// breaks the chain.
//
// # Chain Structure
//
// Entry N hash = SHA256(Entry N-1 hash + Entry N content)
//
// Example:
//
//	entry := HashChainEntry{
//	    SessionID:    "sess-123",
//	    SequenceNum:  5,
//	    ContentHash:  "abc123...",
//	    PreviousHash: "def456...",
//	    ChainHash:    "ghi789...",
//	    Timestamp:    time.Now().UTC(),
//	    ContentType:  "teaching_turn",
//	    Metadata: NewMetadata().
//	        Set("user_id", "learner-456").
//	        Set("request_id", "req-789"),
//	}
type HashChainEntry struct {
	// SessionID identifies the chain this entry belongs to.
	// Each session has its own independent hash chain.
	SessionID string

	// SequenceNum is the position in the chain (1-indexed).
	SequenceNum int

	// ContentHash is the hash of the content being recorded.
	// For teaching turns: SHA256(question + answer)
	ContentHash string

	// PreviousHash is the ChainHash of the preceding entry.
	// Empty string for the first entry in a chain (SequenceNum == 1).
	PreviousHash string

	// ChainHash is the cumulative hash incorporating all previous entries.
	// ChainHash = SHA256(PreviousHash + ContentHash)
	ChainHash string

	// Timestamp is when this entry was created (always UTC).
	Timestamp time.Time

	// ContentType describes what kind of content was hashed.
	// Examples: "teaching_turn", "request", "response"
	ContentType string

	// Metadata contains additional context about the entry.
	// May include: user_id, request_id, turn_number.
	Metadata Metadata
}

// ChainVerificationResult contains the outcome of hash chain verification.
type ChainVerificationResult struct {
	// IsValid is true if the entire chain is intact.
	IsValid bool

	// TotalEntries is the number of entries verified.
	TotalEntries int

	// BreakPoint is the sequence number where integrity failed.
	// Only meaningful when IsValid is false.
	// Zero means the chain is valid or empty.
	BreakPoint int

	// ExpectedHash is what the hash should be at BreakPoint.
	ExpectedHash string

	// ActualHash is what the hash actually was at BreakPoint.
	ActualHash string

	// Message provides human-readable verification status.
	Message string
}

// =============================================================================
// RequestAuditor Interface
// =============================================================================

// RequestAuditor provides tamper-evident audit logging via hash chains.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Description
//
// Teaching transcripts are evidence: of what a learner asked, what the
// system told them, and in what order. The RequestAuditor captures raw
// request and response payloads, and maintains per-session hash chains that
// detect after-the-fact tampering with stored transcripts.
//
// # Open Source Behavior
//
// The default NopRequestAuditor accepts all entries and always reports
// chains as valid. The service functions without cryptographic audit
// infrastructure.
//
// # Hosted Implementation
//
// Hosted versions persist chains to append-only storage (object lock
// buckets, ledger databases). Institutions use chain verification when a
// transcript's integrity is questioned.
//
// # Limitations
//
//   - Cannot prevent real-time tampering (only detect after the fact)
//   - Chain verification requires all entries (no partial verification)
//   - Storage grows linearly with entries
type RequestAuditor interface {
	// CaptureRequest records the raw request for audit purposes.
	//
	// # Description
	//
	// Called at the START of request processing with the raw request body.
	// Returns an auditID that must be passed to CaptureResponse to link the
	// pair. NopRequestAuditor returns "".
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeout control.
	//   - req: Raw request data including body bytes.
	//
	// # Outputs
	//
	//   - string: Audit ID to pass to CaptureResponse.
	//   - error: Non-nil if capture failed.
	CaptureRequest(ctx context.Context, req *AuditableRequest) (auditID string, err error)

	// CaptureResponse records the raw response for audit purposes.
	//
	// Called at the END of request processing. For streaming endpoints,
	// accumulate all chunks and call this once when the stream finishes.
	CaptureResponse(ctx context.Context, auditID string, resp *AuditableResponse) error

	// RecordEntry adds a new entry to the hash chain.
	//
	// Implementations should verify chain continuity (PreviousHash matches
	// the stored last entry) before accepting. Entries for the same session
	// must be serialized by the caller to maintain chain order.
	RecordEntry(ctx context.Context, entry HashChainEntry) error

	// GetLastEntry retrieves the most recent entry for a session.
	//
	// Returns nil (not an error) for sessions with no recorded entries.
	// Callers use the result to compute PreviousHash and SequenceNum for
	// the next entry:
	//
	//	lastEntry, err := auditor.GetLastEntry(ctx, sessionID)
	//	if lastEntry != nil {
	//	    newEntry.PreviousHash = lastEntry.ChainHash
	//	    newEntry.SequenceNum = lastEntry.SequenceNum + 1
	//	} else {
	//	    newEntry.SequenceNum = 1
	//	}
	GetLastEntry(ctx context.Context, sessionID string) (*HashChainEntry, error)

	// VerifyChain validates the integrity of a session's hash chain.
	//
	// Retrieves all entries for a session and verifies that each entry's
	// ChainHash correctly incorporates the previous entry's hash. Empty
	// chains are considered valid.
	VerifyChain(ctx context.Context, sessionID string) (*ChainVerificationResult, error)

	// GetChainLength returns the number of entries in a session's chain
	// without loading or verifying them. Returns 0 for unknown sessions.
	GetChainLength(ctx context.Context, sessionID string) (int, error)
}

// =============================================================================
// No-Op Implementation
// =============================================================================

// NopRequestAuditor is the default auditor for open source.
//
// It accepts all operations without persisting anything.
//
// Thread-safe: This implementation has no mutable state.
//
// Example:
//
//	auditor := &NopRequestAuditor{}
//	auditID, _ := auditor.CaptureRequest(ctx, req)
//	// auditID == "" (no tracking)
//	auditor.CaptureResponse(ctx, auditID, resp)
//	// No-op, nothing stored
type NopRequestAuditor struct{}

// CaptureRequest accepts the request without storing it and returns an
// empty auditID.
func (a *NopRequestAuditor) CaptureRequest(_ context.Context, _ *AuditableRequest) (string, error) {
	return "", nil
}

// CaptureResponse accepts the response without storing it.
func (a *NopRequestAuditor) CaptureResponse(_ context.Context, _ string, _ *AuditableResponse) error {
	return nil
}

// RecordEntry accepts the entry without storing it.
func (a *NopRequestAuditor) RecordEntry(_ context.Context, _ HashChainEntry) error {
	return nil
}

// GetLastEntry returns nil, matching the behavior for an empty chain.
func (a *NopRequestAuditor) GetLastEntry(_ context.Context, _ string) (*HashChainEntry, error) {
	return nil, nil
}

// VerifyChain reports an empty, valid chain.
func (a *NopRequestAuditor) VerifyChain(_ context.Context, _ string) (*ChainVerificationResult, error) {
	return &ChainVerificationResult{
		IsValid:      true,
		TotalEntries: 0,
		Message:      "no chain recorded",
	}, nil
}

// GetChainLength returns zero, matching the behavior for an empty chain.
func (a *NopRequestAuditor) GetChainLength(_ context.Context, _ string) (int, error) {
	return 0, nil
}

// Compile-time interface compliance check.
var _ RequestAuditor = (*NopRequestAuditor)(nil)
