// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package progress

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Configuration
// =============================================================================

func TestDefaultConfig_DisabledWithoutURL(t *testing.T) {
	t.Setenv("INFLUXDB_URL", "")
	t.Setenv("INFLUXDB_ORG", "")
	t.Setenv("INFLUXDB_BUCKET", "")

	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled())
	assert.Equal(t, "praxis", cfg.Org)
	assert.Equal(t, "tutor-progress", cfg.Bucket)
}

func TestDefaultConfig_FromEnv(t *testing.T) {
	t.Setenv("INFLUXDB_URL", " http://influx:8086 ")
	t.Setenv("INFLUXDB_TOKEN", "secret")
	t.Setenv("INFLUXDB_ORG", "praxis-dev")
	t.Setenv("INFLUXDB_BUCKET", "mastery")

	cfg := DefaultConfig()

	assert.True(t, cfg.Enabled())
	assert.Equal(t, "http://influx:8086", cfg.URL)
	assert.Equal(t, "secret", cfg.Token)
	assert.Equal(t, "praxis-dev", cfg.Org)
	assert.Equal(t, "mastery", cfg.Bucket)
}

func TestNewInfluxRecorder_PanicsWhenDisabled(t *testing.T) {
	assert.Panics(t, func() {
		NewInfluxRecorder(Config{}, nil)
	})
}

// =============================================================================
// Recorder against a fake InfluxDB
// =============================================================================

// fakeInflux captures line-protocol writes and answers health checks.
type fakeInflux struct {
	mu     sync.Mutex
	bodies []string
}

func (f *fakeInflux) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/health"):
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"influxdb","status":"pass"}`))
		case strings.Contains(r.URL.Path, "/write"):
			reader := io.Reader(r.Body)
			if r.Header.Get("Content-Encoding") == "gzip" {
				gz, err := gzip.NewReader(r.Body)
				if err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				defer gz.Close()
				reader = gz
			}
			body, _ := io.ReadAll(reader)
			f.mu.Lock()
			f.bodies = append(f.bodies, string(body))
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeInflux) lines() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.bodies, "\n")
}

func TestInfluxRecorder_WritesMasteryPoints(t *testing.T) {
	fake := &fakeInflux{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	recorder := NewInfluxRecorder(Config{
		URL:    server.URL,
		Token:  "test-token",
		Org:    "praxis",
		Bucket: "tutor-progress",
	}, nil)

	recorder.RecordMastery(context.Background(), "learner-1", "recursion", 0.42, 3)
	recorder.Close()

	lines := fake.lines()
	assert.Contains(t, lines, "concept_mastery")
	assert.Contains(t, lines, "concept=recursion")
	assert.Contains(t, lines, "user=learner-1")
	assert.Contains(t, lines, "confidence=0.42")
	assert.Contains(t, lines, "exposures=3i")
}

func TestInfluxRecorder_Ping(t *testing.T) {
	fake := &fakeInflux{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	recorder := NewInfluxRecorder(Config{URL: server.URL, Org: "praxis", Bucket: "b"}, nil)
	defer recorder.Close()

	assert.NoError(t, recorder.Ping(context.Background()))
}

func TestInfluxRecorder_PingReportsBadHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"influxdb","status":"fail"}`))
	}))
	defer server.Close()

	recorder := NewInfluxRecorder(Config{URL: server.URL, Org: "praxis", Bucket: "b"}, nil)
	defer recorder.Close()

	err := recorder.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail")
}

// =============================================================================
// Integration
// =============================================================================

// TestInfluxRecorder_RoundTrip writes through a real InfluxDB and reads the
// points back. Requires a running instance.
func TestInfluxRecorder_RoundTrip(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") == "" {
		t.Skip("Skipping integration test - set RUN_INTEGRATION_TESTS=1 to run")
	}

	cfg := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = "http://localhost:8086"
	}

	recorder := NewInfluxRecorder(cfg, nil)
	ctx := context.Background()
	require.NoError(t, recorder.Ping(ctx))

	concept := fmt.Sprintf("it-concept-%d", time.Now().UnixNano())
	recorder.RecordMastery(ctx, "it-learner", concept, 0.42, 3)
	recorder.Close()

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	defer client.Close()

	query := fmt.Sprintf(`
        from(bucket: "%s")
          |> range(start: -1h)
          |> filter(fn: (r) => r._measurement == "concept_mastery")
          |> filter(fn: (r) => r.concept == "%s")
    `, cfg.Bucket, concept)

	result, err := client.QueryAPI(cfg.Org).Query(ctx, query)
	require.NoError(t, err)

	rows := 0
	for result.Next() {
		rows++
	}
	require.NoError(t, result.Err())
	assert.Greater(t, rows, 0, "expected the mastery point to be queryable")
}
