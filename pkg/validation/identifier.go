// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// storage keys, vector search filters, or subprocess calls. Using these
// validators prevents injection attacks (GraphQL filter injection, key
// collisions, path traversal).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// userIDPattern matches valid learner identifiers.
// Allows: letters, digits, hyphens, underscores, dots (email-like IDs and
// UUIDs both pass). Max length: 128 characters.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@\-]{0,127}$`)

// conceptPattern matches valid concept labels.
// Allows: lowercase letters, digits, spaces, hyphens (e.g. "base case",
// "big-o notation"). Max length: 64 characters.
var conceptPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9 \-]{0,63}$`)

// ValidateUserID validates a learner identifier before it is used in a
// storage key or a vector search filter.
//
// Valid user IDs:
//   - 1-128 characters
//   - Letters, digits
//   - Dots (.), underscores (_), at signs (@) for email-like IDs
//   - Hyphens (-) for UUIDs
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateUserID(userID); err != nil {
//	    return nil, fmt.Errorf("invalid user id: %w", err)
//	}
//	// Safe to use as a storage key
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}

	if !userIDPattern.MatchString(userID) {
		return fmt.Errorf("invalid user id format: %q (must be 1-128 alphanumeric chars, dots, underscores, at signs, or hyphens)", userID)
	}

	return nil
}

// ValidateConceptLabel validates a concept label before it is used in a
// search filter or progress key.
//
// Valid concept labels:
//   - 1-64 characters
//   - Lowercase letters a-z
//   - Digits 0-9
//   - Spaces for multi-word concepts like "base case"
//   - Hyphens (-) for terms like "big-o notation"
//
// Returns an error if the label is invalid.
func ValidateConceptLabel(concept string) error {
	if concept == "" {
		return fmt.Errorf("concept label cannot be empty")
	}

	if !conceptPattern.MatchString(concept) {
		return fmt.Errorf("invalid concept label: %q (must be 1-64 lowercase alphanumeric chars, spaces, or hyphens)", concept)
	}

	return nil
}

// ValidateConceptLabels validates multiple concept labels.
// Returns an error listing all invalid labels if any fail validation.
func ValidateConceptLabels(concepts []string) error {
	var invalid []string
	for _, c := range concepts {
		if err := ValidateConceptLabel(c); err != nil {
			invalid = append(invalid, c)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid concept labels: %v", invalid)
	}
	return nil
}

// SanitizeConceptLabel normalizes and validates a concept label.
// Returns the lowercase trimmed label if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	safeConcept, err := validation.SanitizeConceptLabel(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeConcept is lowercase and validated
func SanitizeConceptLabel(concept string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(concept))
	if err := ValidateConceptLabel(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
