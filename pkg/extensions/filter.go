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
	"errors"
)

// ErrMessageBlocked is returned when a message is rejected by the filter.
// Hosted implementations should wrap this error with the reason.
//
// Example:
//
//	if containsPII(question) {
//	    return "", fmt.Errorf("question contains PII: %w", ErrMessageBlocked)
//	}
var ErrMessageBlocked = errors.New("message blocked by filter")

// FilterResult contains the outcome of a filter operation.
//
// Provides detailed information about what the filter did, useful for
// debugging, audit trails, and learner feedback.
//
// Example:
//
//	result := FilterResult{
//	    Original:    "My student ID is 882401, explain recursion",
//	    Filtered:    "My student ID is [REDACTED], explain recursion",
//	    WasModified: true,
//	    Detections: []Detection{
//	        {Type: "student_id", Location: "position 14-20", Action: "redacted"},
//	    },
//	}
type FilterResult struct {
	// Original is the input message before filtering.
	Original string

	// Filtered is the message after filtering transformations.
	// If WasModified is false, this equals Original.
	Filtered string

	// WasModified indicates if any transformations were applied.
	WasModified bool

	// WasBlocked indicates if the message was completely rejected.
	// If true, Filtered should not be used.
	WasBlocked bool

	// BlockReason explains why the message was blocked (if WasBlocked).
	BlockReason string

	// Detections lists what the filter found in the message.
	// Useful for audit logging and debugging.
	Detections []Detection
}

// Detection describes a single item found by the filter.
type Detection struct {
	// Type categorizes what was detected.
	// Common types: "ssn", "student_id", "email", "phone", "api_key",
	// "profanity", "pii", "secret", "prompt_injection"
	Type string

	// Location describes where in the message the item was found.
	// Format is implementation-specific (e.g., "characters 10-20", "line 3")
	Location string

	// Action describes what was done with the detected item.
	// Values: "redacted", "masked", "replaced", "blocked", "flagged"
	Action string

	// Original is the detected content (only populated in debug mode).
	// WARNING: This may contain sensitive data, handle carefully.
	Original string

	// Replacement is what the content was replaced with (if Action is "replaced").
	Replacement string
}

// MessageFilter transforms messages before and after LLM processing.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Filter Pipeline
//
// Messages flow through filters at three points:
//
//  1. FilterInput: Learner question before the LLM
//     - Remove PII from learner messages
//     - Block policy violations
//     - Detect prompt injection attempts
//
//  2. FilterOutput: Generated explanation before returning to the learner
//     - Remove leaked secrets from responses
//     - Age-appropriate content enforcement
//
//  3. FilterContext: Profile and strategy context before prompt injection
//     - Strip sensitive profile fields from prompts
//
// # Open Source Behavior
//
// The default NopMessageFilter passes all messages through unchanged.
//
// # Blocking vs Transforming
//
// Filters can either transform content and allow it through (e.g., redact a
// student ID) or block the entire message (e.g., policy violation). To
// block, return a FilterResult with WasBlocked=true and BlockReason set;
// the caller should then surface ErrMessageBlocked.
type MessageFilter interface {
	// FilterInput processes a learner question before LLM inference.
	//
	// If WasBlocked is true, the caller should:
	//  1. Log the block via AuditLogger
	//  2. Return ErrMessageBlocked to the learner
	//  3. NOT send the message to the LLM
	FilterInput(ctx context.Context, message string) (*FilterResult, error)

	// FilterOutput processes a generated explanation before returning it
	// to the learner.
	FilterOutput(ctx context.Context, message string) (*FilterResult, error)

	// FilterContext processes profile or strategy context before it is
	// injected into the system prompt.
	FilterContext(ctx context.Context, contextMsg string) (*FilterResult, error)
}

// NopMessageFilter is the default message filter for open source.
//
// It passes all messages through unchanged without any transformation
// or blocking.
//
// Thread-safe: This implementation has no mutable state.
type NopMessageFilter struct{}

// FilterInput returns the message unchanged.
func (f *NopMessageFilter) FilterInput(ctx context.Context, message string) (*FilterResult, error) {
	return &FilterResult{
		Original:    message,
		Filtered:    message,
		WasModified: false,
		WasBlocked:  false,
		Detections:  nil,
	}, nil
}

// FilterOutput returns the message unchanged.
func (f *NopMessageFilter) FilterOutput(ctx context.Context, message string) (*FilterResult, error) {
	return &FilterResult{
		Original:    message,
		Filtered:    message,
		WasModified: false,
		WasBlocked:  false,
		Detections:  nil,
	}, nil
}

// FilterContext returns the context unchanged.
func (f *NopMessageFilter) FilterContext(ctx context.Context, contextMsg string) (*FilterResult, error) {
	return &FilterResult{
		Original:    contextMsg,
		Filtered:    contextMsg,
		WasModified: false,
		WasBlocked:  false,
		Detections:  nil,
	}, nil
}

// Compile-time interface compliance check.
var _ MessageFilter = (*NopMessageFilter)(nil)
