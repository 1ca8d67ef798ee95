// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package progress exports concept mastery changes to InfluxDB as a time
// series, one point per persisted confidence change. The series lets an
// instructor dashboard chart a learner's trajectory per concept without
// touching the tutor's own storage.
//
// The recorder is optional: deployments without INFLUXDB_URL simply do not
// construct one, and the memory manager runs without a sink.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/praxislearn/praxis/services/tutor/teaching"
)

// measurementMastery is the InfluxDB measurement name for mastery points.
const measurementMastery = "concept_mastery"

// =============================================================================
// Configuration
// =============================================================================

// Config locates the InfluxDB deployment that receives mastery points.
type Config struct {
	// URL is the InfluxDB base URL. Empty disables the recorder.
	URL string

	// Token authenticates writes.
	Token string

	// Org is the InfluxDB organization.
	Org string

	// Bucket receives the mastery measurement.
	Bucket string
}

// DefaultConfig reads the recorder target from the environment.
func DefaultConfig() Config {
	return Config{
		URL:    strings.TrimSpace(os.Getenv("INFLUXDB_URL")),
		Token:  os.Getenv("INFLUXDB_TOKEN"),
		Org:    getEnv("INFLUXDB_ORG", "praxis"),
		Bucket: getEnv("INFLUXDB_BUCKET", "tutor-progress"),
	}
}

// Enabled reports whether a recorder target is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// =============================================================================
// Recorder
// =============================================================================

// InfluxRecorder writes mastery points through the client's async write
// API, so RecordMastery never blocks the request path. Write failures are
// logged from the API's error channel and the points are dropped; mastery
// history is advisory data, not a system of record.
type InfluxRecorder struct {
	client influxdb2.Client
	write  api.WriteAPI
	logger *slog.Logger
}

var _ teaching.ProgressSink = (*InfluxRecorder)(nil)

// NewInfluxRecorder connects the recorder to cfg's InfluxDB deployment.
// Panics if cfg is not Enabled; callers gate construction on that.
// A nil logger falls back to slog.Default().
func NewInfluxRecorder(cfg Config, logger *slog.Logger) *InfluxRecorder {
	if !cfg.Enabled() {
		panic("progress: NewInfluxRecorder requires an InfluxDB URL")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	r := &InfluxRecorder{
		client: client,
		write:  client.WriteAPI(cfg.Org, cfg.Bucket),
		logger: logger,
	}
	go r.drainErrors()
	return r
}

// RecordMastery queues one mastery point. The ctx is unused: the async
// write API batches in the background and has no per-point deadline.
func (r *InfluxRecorder) RecordMastery(ctx context.Context, userID, concept string, confidence float64, exposures int) {
	point := influxdb2.NewPoint(
		measurementMastery,
		map[string]string{
			"user":    userID,
			"concept": concept,
		},
		map[string]interface{}{
			"confidence": confidence,
			"exposures":  exposures,
		},
		time.Now().UTC(),
	)
	r.write.WritePoint(point)
}

// Ping verifies the InfluxDB endpoint answers its health check. Callers
// treat failure as a warning: the recorder keeps accepting points and the
// async writer retries on its own schedule.
func (r *InfluxRecorder) Ping(ctx context.Context) error {
	health, err := r.client.Health(ctx)
	if err != nil {
		return err
	}
	if health.Status != "pass" {
		return fmt.Errorf("influxdb health status %s", health.Status)
	}
	return nil
}

// Close flushes buffered points and releases the client.
func (r *InfluxRecorder) Close() {
	r.write.Flush()
	r.client.Close()
}

// drainErrors logs async write failures until the client closes.
func (r *InfluxRecorder) drainErrors() {
	for err := range r.write.Errors() {
		r.logger.Warn("mastery point write failed", "error", err)
	}
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
