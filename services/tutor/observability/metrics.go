// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the tutor.
//
// # Description
//
// This package implements Prometheus metrics for monitoring teaching
// operations. Metrics include:
//   - Request counters (by endpoint, status, error type)
//   - Latency histograms (time to first token, total stream duration)
//   - Active stream gauges
//   - Strategy selection counters and persistence queue depth
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. OpenTelemetry instruments from
// other packages are bridged into the same registry by InitMeterProvider.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"go.opentelemetry.io/otel"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "praxis"

// Subsystem for teaching metrics
const teachingSubsystem = "teaching"

// TeachingMetrics holds all Prometheus metrics for teaching operations.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring teaching
// performance and resource usage. Initialize once at startup via
// InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type TeachingMetrics struct {
	// RequestsTotal counts teaching requests by endpoint and status.
	// Labels: endpoint (teach, teach_stream, teach_ws), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to first streamed token.
	// Labels: endpoint
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently active streaming connections.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by type and endpoint.
	// Labels: endpoint, error_code (validation, upstream_unavailable, etc.)
	ErrorsTotal *prometheus.CounterVec

	// KeepAlivesTotal counts SSE heartbeats sent.
	// Labels: endpoint
	KeepAlivesTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts client disconnections mid-stream.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec

	// StrategySelectionsTotal counts chosen teaching approaches.
	// Labels: approach (explanatory, socratic, example_driven, visualization)
	StrategySelectionsTotal *prometheus.CounterVec

	// InteractionsPersistedTotal counts background persistence outcomes.
	// Labels: status (persisted, dropped)
	InteractionsPersistedTotal *prometheus.CounterVec

	// TaskQueueDepth tracks pending background persistence tasks.
	TaskQueueDepth prometheus.Gauge
}

// DefaultMetrics is the singleton instance of TeachingMetrics.
// Initialized by InitMetrics(). Call sites nil-check it so unit tests that
// never initialize metrics stay quiet.
var DefaultMetrics *TeachingMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics with the default registry.
// Should be called once at application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *TeachingMetrics {
	DefaultMetrics = &TeachingMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: teachingSubsystem,
				Name:      "requests_total",
				Help:      "Total number of teaching requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		TimeToFirstTokenSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: teachingSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first token in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: teachingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: teachingSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: teachingSubsystem,
				Name:      "errors_total",
				Help:      "Total teaching errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),

		KeepAlivesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: teachingSubsystem,
				Name:      "keepalives_total",
				Help:      "Total SSE heartbeats sent",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: teachingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),

		StrategySelectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: teachingSubsystem,
				Name:      "strategy_selections_total",
				Help:      "Teaching approaches chosen by the strategist",
			},
			[]string{"approach"},
		),

		InteractionsPersistedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: teachingSubsystem,
				Name:      "interactions_persisted_total",
				Help:      "Background interaction persistence outcomes",
			},
			[]string{"status"},
		),

		TaskQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: teachingSubsystem,
				Name:      "task_queue_depth",
				Help:      "Pending background persistence tasks",
			},
		),
	}

	return DefaultMetrics
}

// InitMeterProvider bridges OpenTelemetry metric instruments into the
// Prometheus default registry, so counters recorded through otel.Meter (the
// health monitor's state transitions, for example) surface on /metrics
// alongside the promauto instruments.
//
// # Inputs
//
//   - debug: When true, instruments are additionally dumped to stdout every
//     minute. Meant for local runs without a scraper.
//
// # Outputs
//
//   - *sdkmetric.MeterProvider: Installed as the global provider. The caller
//     owns shutdown.
//   - error: Non-nil when an exporter cannot be constructed or registered.
func InitMeterProvider(debug bool) (*sdkmetric.MeterProvider, error) {
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(prometheus.DefaultRegisterer),
		otelprom.WithoutScopeInfo(),
	)
	if err != nil {
		return nil, err
	}

	providerOpts := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

	if debug {
		stdout, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		providerOpts = append(providerOpts,
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(stdout,
				sdkmetric.WithInterval(time.Minute))))
	}

	provider := sdkmetric.NewMeterProvider(providerOpts...)
	otel.SetMeterProvider(provider)
	return provider, nil
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodePolicyViolation indicates blocked due to policy scan.
	ErrorCodePolicyViolation ErrorCode = "policy_violation"

	// ErrorCodeUpstreamUnavailable indicates the model gateway failed.
	ErrorCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"

	// ErrorCodeStreamAborted indicates the client cancelled mid-stream.
	ErrorCodeStreamAborted ErrorCode = "stream_aborted"

	// ErrorCodeMemoryError indicates a user memory read or write failure.
	ErrorCodeMemoryError ErrorCode = "memory_error"

	// ErrorCodeTimeout indicates operation timeout.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents a teaching endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointTeach is the synchronous teaching endpoint.
	EndpointTeach Endpoint = "teach"

	// EndpointTeachStream is the SSE streaming endpoint.
	EndpointTeachStream Endpoint = "teach_stream"

	// EndpointTeachWS is the WebSocket streaming endpoint.
	EndpointTeachWS Endpoint = "teach_ws"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed teaching request.
func (m *TeachingMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordError records a teaching error.
func (m *TeachingMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *TeachingMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *TeachingMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstToken records the time to first token latency.
func (m *TeachingMetrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
func (m *TeachingMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status).Observe(seconds)
}

// RecordKeepAlive increments the heartbeat counter.
func (m *TeachingMetrics) RecordKeepAlive(endpoint Endpoint) {
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *TeachingMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordStrategySelection counts a chosen teaching approach.
func (m *TeachingMetrics) RecordStrategySelection(approach string) {
	m.StrategySelectionsTotal.WithLabelValues(approach).Inc()
}

// RecordInteractionPersisted counts a background persistence outcome.
func (m *TeachingMetrics) RecordInteractionPersisted(ok bool) {
	status := "persisted"
	if !ok {
		status = "dropped"
	}
	m.InteractionsPersistedTotal.WithLabelValues(status).Inc()
}

// SetTaskQueueDepth reports the pending persistence backlog.
func (m *TeachingMetrics) SetTaskQueueDepth(depth int) {
	m.TaskQueueDepth.Set(float64(depth))
}
