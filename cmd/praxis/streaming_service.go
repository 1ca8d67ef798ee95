// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main contains the praxis CLI streaming teach service.
//
// This file defines the TeachStreamService interface and its HTTP/SSE
// implementation for the tutor's streaming teach endpoint. It follows the
// layered streaming architecture:
//
//	HTTP Response Body → SSEParser → SSEStreamReader → StreamRenderer → StreamResult
//
// The service additionally verifies the event hash chain the server emits,
// so a tampered or truncated stream is surfaced to the user after every
// answer.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/praxislearn/praxis/pkg/ux"
	"github.com/praxislearn/praxis/services/tutor/datatypes"
)

// =============================================================================
// Interfaces
// =============================================================================

// HTTPClient abstracts the HTTP operations the service needs.
//
// Injectable for testing; production code wraps *http.Client.
type HTTPClient interface {
	// Post sends a POST request with the given body and content type.
	// The caller must close the response body.
	Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error)

	// Get sends a GET request. The caller must close the response body.
	Get(ctx context.Context, url string) (*http.Response, error)
}

// TeachStreamService defines the contract for streaming tutoring exchanges.
//
// # Description
//
// SendMessage delivers one student message and streams the tutor's reply
// token by token, rendering in real time. The returned StreamResult holds
// the accumulated answer and metrics; the IntegrityInfo holds the outcome
// of the client-side hash chain verification (nil when verification is
// disabled).
//
// # Examples
//
//	service := NewTeachStreamService(TeachStreamServiceConfig{
//	    BaseURL:   "http://localhost:12190",
//	    LearnerID: "student-42",
//	})
//	defer service.Close()
//
//	result, integrity, err := service.SendMessage(ctx, "what is recursion?")
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("tokens=%d verified=%v\n", result.TotalTokens, integrity.IntegrityVerified)
//
// # Limitations
//
//   - Streaming requires the server's SSE endpoint
//   - Context cancellation yields partial results
//
// # Assumptions
//
//   - Server emits a done event carrying the session ID
//   - Events arrive in chain order, first event with empty prev_hash
type TeachStreamService interface {
	// SendMessage sends a student message and streams the tutor's reply.
	SendMessage(ctx context.Context, message string) (*ux.StreamResult, *ux.IntegrityInfo, error)

	// GetSessionID returns the current session ID, or empty before the
	// first completed exchange of a fresh session.
	GetSessionID() string

	// GetLearnerStats fetches aggregate profile stats for the header.
	GetLearnerStats(ctx context.Context) (*ux.LearnerStats, error)

	// Close releases resources held by the service.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// TeachStreamServiceConfig configures a teach streaming service.
//
// Only BaseURL and LearnerID are required; everything else has defaults.
type TeachStreamServiceConfig struct {
	BaseURL     string              // Tutor server URL (required)
	LearnerID   string              // Learner identity for memory lookup (required)
	SessionID   string              // Session ID to resume (optional)
	Writer      io.Writer           // Output destination (default: os.Stdout)
	Personality ux.PersonalityLevel // Output styling (default: current personality)
	Timeout     time.Duration       // HTTP timeout (default: 5 minutes)
	SkipVerify  bool                // Disable hash chain verification
}

// =============================================================================
// Implementation
// =============================================================================

// teachStreamService implements TeachStreamService over HTTP/SSE.
//
// Thread safety: public methods are safe for concurrent use; session state
// is guarded by mu.
type teachStreamService struct {
	client      HTTPClient
	reader      ux.StreamReader
	verifier    ux.ChainVerifier // nil when verification is disabled
	baseURL     string
	learnerID   string
	sessionID   string
	writer      io.Writer
	personality ux.PersonalityLevel
	mu          sync.Mutex
}

// defaultHTTPClient wraps *http.Client behind the HTTPClient interface.
type defaultHTTPClient struct {
	client *http.Client
}

func (c *defaultHTTPClient) Post(ctx context.Context, targetURL, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")
	return c.client.Do(req)
}

func (c *defaultHTTPClient) Get(ctx context.Context, targetURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

// NewTeachStreamService creates a streaming teach service with a production
// HTTP client.
func NewTeachStreamService(config TeachStreamServiceConfig) TeachStreamService {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return NewTeachStreamServiceWithClient(&defaultHTTPClient{
		client: &http.Client{Timeout: timeout},
	}, config)
}

// NewTeachStreamServiceWithClient creates a streaming teach service with an
// injected HTTP client. Use this constructor for testing with mock clients.
func NewTeachStreamServiceWithClient(client HTTPClient, config TeachStreamServiceConfig) TeachStreamService {
	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}

	personality := config.Personality
	if personality == "" {
		personality = ux.GetPersonality().Level
	}

	var verifier ux.ChainVerifier
	if !config.SkipVerify {
		verifier = ux.NewFullChainVerifier()
	}

	return &teachStreamService{
		client:      client,
		reader:      ux.NewSSEStreamReader(ux.NewSSEParser()),
		verifier:    verifier,
		baseURL:     config.BaseURL,
		learnerID:   config.LearnerID,
		sessionID:   config.SessionID,
		writer:      writer,
		personality: personality,
	}
}

// =============================================================================
// Methods
// =============================================================================

// SendMessage sends a student message and streams the tutor's reply.
//
// # Description
//
// Builds a TeachRequest, POSTs it to /v1/teach/stream, and routes the SSE
// events through a terminal renderer so tokens appear as they arrive. All
// events are retained for hash chain verification after the stream ends.
// The session ID carried by the done event becomes the current session.
//
// # Outputs
//
//   - *ux.StreamResult: accumulated answer, metadata, and metrics
//   - *ux.IntegrityInfo: chain verification outcome, nil if disabled
//   - error: non-nil on marshal, network, server, or stream read errors
func (s *teachStreamService) SendMessage(ctx context.Context, message string) (*ux.StreamResult, *ux.IntegrityInfo, error) {
	requestID := uuid.New().String()
	currentSessionID := s.GetSessionID()

	cliLogger.Debug("sending streaming teach request",
		"request_id", requestID,
		"session_id", currentSessionID,
		"message_length", len(message),
	)

	reqBody := datatypes.TeachRequest{
		RequestID: requestID,
		UserID:    s.learnerID,
		SessionID: currentSessionID,
		Message:   message,
	}

	postBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	targetURL := fmt.Sprintf("%s/v1/teach/stream", s.baseURL)
	resp, err := s.client.Post(ctx, targetURL, "application/json", bytes.NewBuffer(postBody))
	if err != nil {
		cliLogger.Error("streaming teach request failed",
			"request_id", requestID,
			"url", targetURL,
			"error", err,
		)
		return nil, nil, fmt.Errorf("http post: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			cliLogger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			return nil, nil, fmt.Errorf("server error (%d): failed to read response body", resp.StatusCode)
		}
		cliLogger.Error("streaming teach request rejected",
			"request_id", requestID,
			"status_code", resp.StatusCode,
			"response_body", string(bodyBytes),
		)
		return nil, nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(bodyBytes))
	}

	result, events, newSessionID, err := s.processStream(ctx, requestID, resp.Body)
	if err != nil {
		return nil, nil, err
	}

	s.updateSessionID(requestID, newSessionID)

	var integrity *ux.IntegrityInfo
	if s.verifier != nil {
		verification := s.verifier.Verify(events)
		integrity = ux.NewIntegrityInfoFromVerification(verification)
		if !verification.Valid {
			cliLogger.Warn("stream hash chain verification failed",
				"request_id", requestID,
				"invalid_event_index", verification.InvalidEventIndex,
				"error", verification.ErrorMessage,
			)
		}
	}

	return result, integrity, nil
}

// processStream renders the SSE stream and collects events for verification.
func (s *teachStreamService) processStream(ctx context.Context, requestID string, body io.Reader) (*ux.StreamResult, []ux.StreamEvent, string, error) {
	renderer := ux.NewTerminalStreamRenderer(s.writer, s.personality)
	defer renderer.Finalize()

	var (
		events       []ux.StreamEvent
		newSessionID string
	)

	err := s.reader.Read(ctx, body, func(event ux.StreamEvent) error {
		events = append(events, event)

		switch event.Type {
		case ux.StreamEventStatus:
			renderer.OnStatus(ctx, event.Message)
		case ux.StreamEventToken:
			renderer.OnToken(ctx, event.Content)
		case ux.StreamEventThinking:
			renderer.OnThinking(ctx, event.Content)
		case ux.StreamEventMetadata:
			renderer.OnMetadata(ctx, event.Metadata)
		case ux.StreamEventDone:
			newSessionID = event.SessionID
			renderer.OnDone(ctx, event.SessionID)
		case ux.StreamEventError:
			renderer.OnError(ctx, fmt.Errorf("%s", event.Error))
		}
		return nil
	})
	if err != nil {
		cliLogger.Error("stream reading failed",
			"request_id", requestID,
			"error", err,
		)
		return nil, nil, "", fmt.Errorf("read stream: %w", err)
	}

	result := renderer.Result()
	result.RequestID = requestID

	cliLogger.Debug("streaming teach completed",
		"request_id", requestID,
		"session_id", result.SessionID,
		"total_tokens", result.TotalTokens,
		"duration_ms", result.Duration().Milliseconds(),
	)

	return result, events, newSessionID, nil
}

// updateSessionID stores the session ID from the done event if it changed.
func (s *teachStreamService) updateSessionID(requestID, newSessionID string) {
	if newSessionID == "" {
		return
	}

	s.mu.Lock()
	oldSessionID := s.sessionID
	s.sessionID = newSessionID
	s.mu.Unlock()

	if oldSessionID != newSessionID {
		cliLogger.Info("session ID updated from stream",
			"request_id", requestID,
			"old_session_id", oldSessionID,
			"new_session_id", newSessionID,
		)
	}
}

// GetSessionID returns the current session ID.
func (s *teachStreamService) GetSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// GetLearnerStats fetches the learner's memory profile and reduces it to
// the aggregate stats shown in the chat header. Errors are expected for
// brand-new learners (404 before the first interaction).
func (s *teachStreamService) GetLearnerStats(ctx context.Context) (*ux.LearnerStats, error) {
	memoryURL := fmt.Sprintf("%s/v1/memory/%s", s.baseURL, url.PathEscape(s.learnerID))

	resp, err := s.client.Get(ctx, memoryURL)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			cliLogger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("memory request failed (status %d)", resp.StatusCode)
	}

	var memory datatypes.UserMemory
	if err := json.NewDecoder(resp.Body).Decode(&memory); err != nil {
		return nil, fmt.Errorf("parse memory: %w", err)
	}

	stats := &ux.LearnerStats{
		ConceptCount: len(memory.ConceptExposure),
	}
	for _, record := range memory.ConceptExposure {
		if record != nil && record.Confidence >= 0.8 {
			stats.MasteredCount++
		}
	}
	if !memory.UpdatedAt.IsZero() {
		stats.LastActiveAt = memory.UpdatedAt.UnixMilli()
	}

	return stats, nil
}

// Close releases resources held by the service. No-op for the HTTP
// implementation; provided for interface compliance.
func (s *teachStreamService) Close() error {
	return nil
}

// Compile-time interface check.
var _ TeachStreamService = (*teachStreamService)(nil)
