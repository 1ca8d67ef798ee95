// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchTutorHealth(t *testing.T) {
	t.Run("healthy tutor", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"available","deepSeekConfigured":true,"consecutive_failures":0,"message":"ok"}`))
		}))
		defer server.Close()

		report, healthy, err := fetchTutorHealth(context.Background(), server.Client(), server.URL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !healthy {
			t.Error("expected healthy")
		}
		if report.Status != "available" {
			t.Errorf("unexpected status: %s", report.Status)
		}
		if !report.DeepSeekConfigured {
			t.Error("expected gateway configured")
		}
	})

	t.Run("unavailable tutor returns report but not healthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable","deepSeekConfigured":true,"consecutive_failures":4,"message":"gateway down"}`))
		}))
		defer server.Close()

		report, healthy, err := fetchTutorHealth(context.Background(), server.Client(), server.URL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if healthy {
			t.Error("expected unhealthy for 503")
		}
		if report.ConsecutiveFailures != 4 {
			t.Errorf("unexpected failure count: %d", report.ConsecutiveFailures)
		}
	})

	t.Run("unreachable server returns error", func(t *testing.T) {
		_, _, err := fetchTutorHealth(context.Background(), http.DefaultClient, "http://127.0.0.1:1")
		if err == nil {
			t.Fatal("expected error for unreachable server")
		}
	})

	t.Run("non-JSON body returns error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>not a tutor</html>"))
		}))
		defer server.Close()

		_, _, err := fetchTutorHealth(context.Background(), server.Client(), server.URL)
		if err == nil {
			t.Fatal("expected parse error")
		}
	})
}
