// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/praxislearn/praxis/pkg/ux"
)

// =============================================================================
// Test helpers
// =============================================================================

// mockStreamingHTTPClient implements HTTPClient with canned responses.
type mockStreamingHTTPClient struct {
	postResponse *http.Response
	postError    error
	getResponse  *http.Response
	getError     error

	lastPostURL  string
	lastPostBody []byte
	lastGetURL   string
}

func (m *mockStreamingHTTPClient) Post(_ context.Context, url, _ string, body io.Reader) (*http.Response, error) {
	m.lastPostURL = url
	if body != nil {
		m.lastPostBody, _ = io.ReadAll(body)
	}
	if m.postError != nil {
		return nil, m.postError
	}
	return m.postResponse, nil
}

func (m *mockStreamingHTTPClient) Get(_ context.Context, url string) (*http.Response, error) {
	m.lastGetURL = url
	if m.getError != nil {
		return nil, m.getError
	}
	return m.getResponse, nil
}

// createMockResponse creates an http.Response with given status and body.
func createMockResponse(statusCode int, body string) *http.Response {
	return &http.Response{
		StatusCode: statusCode,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// chainAndSerialize links the events into a valid hash chain and returns
// them as an SSE stream, the way the server's stream writer emits them.
func chainAndSerialize(t *testing.T, events []ux.StreamEvent) string {
	t.Helper()

	computer := ux.NewSHA256HashComputer()
	var sb strings.Builder
	prevHash := ""
	for i := range events {
		events[i].PrevHash = prevHash
		events[i].Hash = computer.ComputeEventHash(events[i])
		prevHash = events[i].Hash

		payload, err := json.Marshal(events[i])
		if err != nil {
			t.Fatalf("marshal event %d: %v", i, err)
		}
		sb.WriteString("data: ")
		sb.Write(payload)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// teachStream builds a typical status/metadata/token/done exchange.
func teachStream(t *testing.T, sessionID string) string {
	t.Helper()
	return chainAndSerialize(t, []ux.StreamEvent{
		ux.NewStatusEvent("Analyzing question..."),
		ux.NewMetadataEvent(&ux.TeachMetadata{
			DetectedConcepts:   []string{"recursion"},
			SuggestedFollowups: []string{"What is a base case?"},
		}),
		ux.NewTokenEvent("Recursion "),
		ux.NewTokenEvent("is self-reference."),
		ux.NewDoneEvent(sessionID),
	})
}

// =============================================================================
// SendMessage tests
// =============================================================================

func TestTeachStreamService_SendMessage(t *testing.T) {
	t.Run("accumulates answer and session ID", func(t *testing.T) {
		mock := &mockStreamingHTTPClient{
			postResponse: createMockResponse(http.StatusOK, teachStream(t, "sess-42")),
		}
		var buf bytes.Buffer
		service := NewTeachStreamServiceWithClient(mock, TeachStreamServiceConfig{
			BaseURL:     "http://localhost:12190",
			LearnerID:   "learner-1",
			Writer:      &buf,
			Personality: ux.PersonalityMachine,
		})

		result, integrity, err := service.SendMessage(context.Background(), "what is recursion?")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Answer != "Recursion is self-reference." {
			t.Errorf("unexpected answer: %q", result.Answer)
		}
		if result.TotalTokens != 2 {
			t.Errorf("expected 2 tokens, got %d", result.TotalTokens)
		}
		if service.GetSessionID() != "sess-42" {
			t.Errorf("expected session ID updated, got %q", service.GetSessionID())
		}
		if integrity == nil || !integrity.IntegrityVerified {
			t.Errorf("expected verified integrity, got %+v", integrity)
		}
		if integrity.ChainLength != 5 {
			t.Errorf("expected chain length 5, got %d", integrity.ChainLength)
		}
		if !strings.Contains(buf.String(), "ANSWER: Recursion is self-reference.") {
			t.Errorf("expected rendered answer, got: %s", buf.String())
		}
	})

	t.Run("sends learner and session in request body", func(t *testing.T) {
		mock := &mockStreamingHTTPClient{
			postResponse: createMockResponse(http.StatusOK, teachStream(t, "sess-42")),
		}
		var buf bytes.Buffer
		service := NewTeachStreamServiceWithClient(mock, TeachStreamServiceConfig{
			BaseURL:     "http://localhost:12190",
			LearnerID:   "learner-1",
			SessionID:   "sess-prev",
			Writer:      &buf,
			Personality: ux.PersonalityMachine,
		})

		if _, _, err := service.SendMessage(context.Background(), "hello"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !strings.HasSuffix(mock.lastPostURL, "/v1/teach/stream") {
			t.Errorf("unexpected URL: %s", mock.lastPostURL)
		}

		var sent map[string]any
		if err := json.Unmarshal(mock.lastPostBody, &sent); err != nil {
			t.Fatalf("unmarshal sent body: %v", err)
		}
		if sent["user_id"] != "learner-1" {
			t.Errorf("expected user_id learner-1, got %v", sent["user_id"])
		}
		if sent["session_id"] != "sess-prev" {
			t.Errorf("expected resumed session_id, got %v", sent["session_id"])
		}
		if sent["message"] != "hello" {
			t.Errorf("expected message, got %v", sent["message"])
		}
	})

	t.Run("detects tampered chain", func(t *testing.T) {
		stream := teachStream(t, "sess-42")
		// Corrupt a token's content after hashing.
		tampered := strings.Replace(stream, "self-reference", "self-deception", 1)

		mock := &mockStreamingHTTPClient{
			postResponse: createMockResponse(http.StatusOK, tampered),
		}
		var buf bytes.Buffer
		service := NewTeachStreamServiceWithClient(mock, TeachStreamServiceConfig{
			BaseURL:     "http://localhost:12190",
			LearnerID:   "learner-1",
			Writer:      &buf,
			Personality: ux.PersonalityMachine,
		})

		_, integrity, err := service.SendMessage(context.Background(), "q")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if integrity == nil {
			t.Fatal("expected integrity info")
		}
		if integrity.IntegrityVerified {
			t.Error("expected tampered chain to fail verification")
		}
		if integrity.VerificationError == "" {
			t.Error("expected a verification error message")
		}
	})

	t.Run("skip verify returns nil integrity", func(t *testing.T) {
		mock := &mockStreamingHTTPClient{
			postResponse: createMockResponse(http.StatusOK, teachStream(t, "sess-42")),
		}
		var buf bytes.Buffer
		service := NewTeachStreamServiceWithClient(mock, TeachStreamServiceConfig{
			BaseURL:     "http://localhost:12190",
			LearnerID:   "learner-1",
			Writer:      &buf,
			Personality: ux.PersonalityMachine,
			SkipVerify:  true,
		})

		_, integrity, err := service.SendMessage(context.Background(), "q")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if integrity != nil {
			t.Errorf("expected nil integrity with SkipVerify, got %+v", integrity)
		}
	})

	t.Run("server error status returns error", func(t *testing.T) {
		mock := &mockStreamingHTTPClient{
			postResponse: createMockResponse(http.StatusBadRequest, `{"error":"invalid request"}`),
		}
		var buf bytes.Buffer
		service := NewTeachStreamServiceWithClient(mock, TeachStreamServiceConfig{
			BaseURL:     "http://localhost:12190",
			LearnerID:   "learner-1",
			Writer:      &buf,
			Personality: ux.PersonalityMachine,
		})

		_, _, err := service.SendMessage(context.Background(), "q")
		if err == nil {
			t.Fatal("expected error for 400 response")
		}
		if !strings.Contains(err.Error(), "server error (400)") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("network error returns error", func(t *testing.T) {
		mock := &mockStreamingHTTPClient{
			postError: errors.New("connection refused"),
		}
		var buf bytes.Buffer
		service := NewTeachStreamServiceWithClient(mock, TeachStreamServiceConfig{
			BaseURL:     "http://localhost:12190",
			LearnerID:   "learner-1",
			Writer:      &buf,
			Personality: ux.PersonalityMachine,
		})

		_, _, err := service.SendMessage(context.Background(), "q")
		if err == nil {
			t.Fatal("expected error for network failure")
		}
	})

	t.Run("error event is captured in result not error", func(t *testing.T) {
		stream := chainAndSerialize(t, []ux.StreamEvent{
			ux.NewStatusEvent("Analyzing question..."),
			ux.NewErrorEvent("model unavailable"),
		})
		mock := &mockStreamingHTTPClient{
			postResponse: createMockResponse(http.StatusOK, stream),
		}
		var buf bytes.Buffer
		service := NewTeachStreamServiceWithClient(mock, TeachStreamServiceConfig{
			BaseURL:     "http://localhost:12190",
			LearnerID:   "learner-1",
			Writer:      &buf,
			Personality: ux.PersonalityMachine,
		})

		result, _, err := service.SendMessage(context.Background(), "q")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.HasError() {
			t.Error("expected error captured in result")
		}
		if !strings.Contains(buf.String(), "ERROR: model unavailable") {
			t.Errorf("expected rendered error, got: %s", buf.String())
		}
	})
}

// =============================================================================
// GetLearnerStats tests
// =============================================================================

func TestTeachStreamService_GetLearnerStats(t *testing.T) {
	t.Run("computes counts from memory", func(t *testing.T) {
		now := time.Now()
		memoryJSON, _ := json.Marshal(map[string]any{
			"user_id": "learner-1",
			"concept_exposure": map[string]any{
				"recursion":  map[string]any{"exposure_count": 5, "confidence": 0.9},
				"closures":   map[string]any{"exposure_count": 2, "confidence": 0.4},
				"interfaces": map[string]any{"exposure_count": 8, "confidence": 0.85},
			},
			"updated_at": now.Format(time.RFC3339Nano),
		})
		mock := &mockStreamingHTTPClient{
			getResponse: createMockResponse(http.StatusOK, string(memoryJSON)),
		}
		service := NewTeachStreamServiceWithClient(mock, TeachStreamServiceConfig{
			BaseURL:     "http://localhost:12190",
			LearnerID:   "learner-1",
			Personality: ux.PersonalityMachine,
		})

		stats, err := service.GetLearnerStats(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats.ConceptCount != 3 {
			t.Errorf("expected 3 concepts, got %d", stats.ConceptCount)
		}
		if stats.MasteredCount != 2 {
			t.Errorf("expected 2 mastered, got %d", stats.MasteredCount)
		}
		if stats.LastActiveAt == 0 {
			t.Error("expected last active timestamp")
		}
		if !strings.Contains(mock.lastGetURL, "/v1/memory/learner-1") {
			t.Errorf("unexpected URL: %s", mock.lastGetURL)
		}
	})

	t.Run("escapes learner ID in path", func(t *testing.T) {
		mock := &mockStreamingHTTPClient{
			getResponse: createMockResponse(http.StatusOK, `{"user_id":"a b"}`),
		}
		service := NewTeachStreamServiceWithClient(mock, TeachStreamServiceConfig{
			BaseURL:     "http://localhost:12190",
			LearnerID:   "a b",
			Personality: ux.PersonalityMachine,
		})

		if _, err := service.GetLearnerStats(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(mock.lastGetURL, "a%20b") {
			t.Errorf("expected escaped learner ID in URL, got %s", mock.lastGetURL)
		}
	})

	t.Run("not found returns error", func(t *testing.T) {
		mock := &mockStreamingHTTPClient{
			getResponse: createMockResponse(http.StatusNotFound, `{"error":"not found"}`),
		}
		service := NewTeachStreamServiceWithClient(mock, TeachStreamServiceConfig{
			BaseURL:     "http://localhost:12190",
			LearnerID:   "new-learner",
			Personality: ux.PersonalityMachine,
		})

		if _, err := service.GetLearnerStats(context.Background()); err == nil {
			t.Fatal("expected error for 404")
		}
	})
}

func TestNewTeachStreamService(t *testing.T) {
	service := NewTeachStreamService(TeachStreamServiceConfig{
		BaseURL:   "http://localhost:12190",
		LearnerID: "learner-1",
		SessionID: "sess-1",
	})
	if service == nil {
		t.Fatal("expected non-nil service")
	}
	if service.GetSessionID() != "sess-1" {
		t.Errorf("expected initial session ID, got %q", service.GetSessionID())
	}
	if err := service.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}
