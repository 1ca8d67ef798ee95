// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package health watches the model gateway that fronts the tutor's LLM
// traffic and turns raw probe results into a small, stable state machine
// that the /health endpoint and the CLI can report.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/praxislearn/praxis/services/llm"
)

// =============================================================================
// States
// =============================================================================

// State is the monitor's coarse view of the upstream gateway.
type State string

const (
	// StateChecking is the initial state before the first probe completes.
	StateChecking State = "checking"

	// StateAvailable means the gateway answered healthy and model
	// credentials are fully configured end to end.
	StateAvailable State = "available"

	// StatePartial means the gateway is usable but degraded: reachable
	// without credentials, or unreachable with a recent enough success
	// that in-flight sessions are likely still fine.
	StatePartial State = "partial"

	// StateUnavailable means probes are failing and the last success is
	// outside the staleness window.
	StateUnavailable State = "unavailable"
)

// Status is a point-in-time snapshot of gateway health.
type Status struct {
	State               State     `json:"state"`
	LastChecked         time.Time `json:"last_checked"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	DeepSeekConfigured  bool      `json:"deepSeekConfigured"`
	Message             string    `json:"message,omitempty"`
}

// ErrMonitorStarted is returned by Start when the monitor is already running.
var ErrMonitorStarted = errors.New("health monitor already started")

// =============================================================================
// Interfaces
// =============================================================================

// Monitor tracks upstream gateway health.
//
// # Description
//
// A Monitor periodically probes the model gateway's health endpoint and
// maintains a Status snapshot for the service's own /health handler. It is
// injected and lifecycle-scoped: the owning service starts it on boot and
// stops it on shutdown. There is no package-level singleton.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Monitor interface {
	// Start begins periodic checks. The first probe runs immediately.
	// Returns ErrMonitorStarted if already running.
	Start(ctx context.Context) error

	// Stop halts periodic checks and waits for an in-flight probe loop to
	// exit. Safe to call when not started.
	Stop()

	// CheckNow runs one full probe cycle, including retries, and returns
	// the resulting snapshot.
	//
	// # Description
	//
	// A cycle issues the initial probe plus up to two retries with doubling
	// backoff. Every failure retries: transport errors, non-200 responses,
	// a non-"ok" status, and broken payloads alike. A gateway reporting
	// "starting" recovers within the cycle once it comes up. After
	// exhausting retries the cycle classifies unavailable, or partial when
	// a success landed within the staleness window.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation. Cancellation during backoff ends
	//     the cycle and counts as a probe failure.
	//
	// # Outputs
	//
	//   - Status: The snapshot after this cycle completed.
	CheckNow(ctx context.Context) Status

	// Snapshot returns the current status without probing.
	Snapshot() Status
}

// =============================================================================
// Configuration
// =============================================================================

// MonitorConfig controls probe target and cadence.
type MonitorConfig struct {
	// BaseURL is the gateway root; the monitor probes {BaseURL}/health.
	BaseURL string

	// ProbeTimeout bounds a single probe attempt.
	ProbeTimeout time.Duration

	// CheckInterval is the periodic probe cadence.
	CheckInterval time.Duration

	// RetryBackoff is the wait before the first retry; it doubles per retry.
	RetryBackoff time.Duration

	// MaxRetries is how many retries follow the initial attempt.
	MaxRetries int

	// StalenessWindow is how long a past success keeps failures at
	// partial instead of unavailable.
	StalenessWindow time.Duration
}

// DefaultMonitorConfig reads the probe target from MODEL_GATEWAY_HEALTH_URL,
// falling back to the same DEEPSEEK_BASE_URL the client uses, so a
// self-hosted gateway is monitored at the address it actually serves.
func DefaultMonitorConfig() MonitorConfig {
	base := strings.TrimSuffix(os.Getenv("MODEL_GATEWAY_HEALTH_URL"), "/")
	if base == "" {
		base = strings.TrimSuffix(os.Getenv("DEEPSEEK_BASE_URL"), "/")
	}
	if base == "" {
		base = "http://localhost:8000"
	}
	return MonitorConfig{
		BaseURL:         base,
		ProbeTimeout:    5 * time.Second,
		CheckInterval:   30 * time.Second,
		RetryBackoff:    1500 * time.Millisecond,
		MaxRetries:      2,
		StalenessWindow: 2 * time.Minute,
	}
}

// normalize fills zero values with defaults so a partially built config in
// tests behaves sanely.
func (c MonitorConfig) normalize() MonitorConfig {
	defaults := MonitorConfig{
		ProbeTimeout:    5 * time.Second,
		CheckInterval:   30 * time.Second,
		RetryBackoff:    1500 * time.Millisecond,
		StalenessWindow: 2 * time.Minute,
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaults.ProbeTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = defaults.CheckInterval
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.StalenessWindow <= 0 {
		c.StalenessWindow = defaults.StalenessWindow
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// =============================================================================
// HTTP Implementation
// =============================================================================

// gatewayHealth is the payload shape the gateway's /health endpoint serves.
type gatewayHealth struct {
	Status             string `json:"status"`
	DeepSeekConfigured bool   `json:"deepSeekConfigured"`
}

// HTTPMonitor probes the gateway over HTTP.
type HTTPMonitor struct {
	config   MonitorConfig
	client   *http.Client
	reporter llm.ConfigReporter
	logger   *slog.Logger

	transitions metric.Int64Counter

	mu     sync.RWMutex
	status Status

	inFlight atomic.Bool
	started  bool
	done     chan struct{}
	wg       sync.WaitGroup
}

var _ Monitor = (*HTTPMonitor)(nil)

// MonitorOption customizes optional monitor wiring.
type MonitorOption func(*HTTPMonitor)

// WithHTTPClient overrides the probe client. Tests inject short timeouts.
func WithHTTPClient(client *http.Client) MonitorOption {
	return func(m *HTTPMonitor) {
		m.client = client
	}
}

// WithConfigReporter folds the local client's credential state into the
// configured/partial decision. Without a reporter only the gateway's own
// report counts.
func WithConfigReporter(reporter llm.ConfigReporter) MonitorOption {
	return func(m *HTTPMonitor) {
		m.reporter = reporter
	}
}

// NewHTTPMonitor builds a monitor for the gateway at config.BaseURL.
// A nil logger falls back to slog.Default().
func NewHTTPMonitor(config MonitorConfig, logger *slog.Logger, opts ...MonitorOption) *HTTPMonitor {
	if strings.TrimSpace(config.BaseURL) == "" {
		panic("health: NewHTTPMonitor requires a gateway base URL")
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = config.normalize()
	m := &HTTPMonitor{
		config: config,
		client: &http.Client{
			Timeout:   config.ProbeTimeout,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
		logger: logger,
		status: Status{State: StateChecking, Message: "no probe completed yet"},
	}
	for _, opt := range opts {
		opt(m)
	}

	meter := otel.Meter("praxis.tutor.health")
	transitions, err := meter.Int64Counter("praxis.tutor.health.transitions",
		metric.WithDescription("Gateway health state transitions, labeled by from and to state."))
	if err != nil {
		logger.Warn("health transition counter unavailable", "error", err)
	} else {
		m.transitions = transitions
	}
	return m
}

// Start begins periodic checks.
func (m *HTTPMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrMonitorStarted
	}
	m.started = true
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)

	m.logger.Info("health monitor started",
		"base_url", m.config.BaseURL,
		"interval", m.config.CheckInterval,
	)
	return nil
}

// Stop halts periodic checks. Safe to call repeatedly.
func (m *HTTPMonitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("health monitor stopped")
}

// run drives the probe loop. Checks are synchronous, so a slow cycle simply
// delays the next tick instead of stacking probes; the inFlight guard also
// skips a tick when a manual CheckNow is running.
func (m *HTTPMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	m.CheckNow(ctx)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.inFlight.Load() {
				m.logger.Debug("skipping health check, previous still running")
				continue
			}
			m.CheckNow(ctx)
		}
	}
}

// CheckNow runs one probe cycle with retries and returns the new snapshot.
func (m *HTTPMonitor) CheckNow(ctx context.Context) Status {
	m.inFlight.Store(true)
	defer m.inFlight.Store(false)

	var lastErr error
	backoff := m.config.RetryBackoff

	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return m.recordProbeFailure(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		payload, err := m.probe(ctx)
		if err == nil {
			return m.recordSuccess(payload)
		}

		lastErr = err
		m.logger.Warn("gateway health probe failed",
			"attempt", attempt+1,
			"max_attempts", m.config.MaxRetries+1,
			"error", err,
		)
	}
	return m.recordProbeFailure(lastErr)
}

// Snapshot returns the current status without probing.
func (m *HTTPMonitor) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// probe issues one GET {base}/health. Any answer that is not a decodable
// payload with status "ok" is an error, so the cycle retries it the same
// as a transport failure. A gateway mid-boot reports "starting" and is
// expected to flip to "ok" between attempts.
func (m *HTTPMonitor) probe(ctx context.Context) (*gatewayHealth, error) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, m.config.BaseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health endpoint returned HTTP %d", resp.StatusCode)
	}

	var payload gatewayHealth
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("health payload malformed: %w", err)
	}
	if payload.Status != "ok" {
		return nil, fmt.Errorf("gateway reported status %q", payload.Status)
	}
	return &payload, nil
}

// locallyConfigured folds in the client's own credential state.
func (m *HTTPMonitor) locallyConfigured() bool {
	if m.reporter == nil {
		return true
	}
	return m.reporter.Configured() && !m.reporter.FallbackActive()
}

func (m *HTTPMonitor) recordSuccess(payload *gatewayHealth) Status {
	now := time.Now()

	m.mu.Lock()
	prev := m.status.State
	m.status.LastChecked = now
	m.status.LastSuccess = now
	m.status.ConsecutiveFailures = 0
	m.status.DeepSeekConfigured = payload.DeepSeekConfigured && m.locallyConfigured()
	if m.status.DeepSeekConfigured {
		m.status.State = StateAvailable
		m.status.Message = "gateway healthy"
	} else {
		m.status.State = StatePartial
		m.status.Message = "gateway reachable, model credentials missing or fallback active"
	}
	next := m.status
	m.mu.Unlock()

	m.noteTransition(prev, next.State)
	return next
}

func (m *HTTPMonitor) recordProbeFailure(err error) Status {
	now := time.Now()

	m.mu.Lock()
	prev := m.status.State
	m.status.LastChecked = now
	m.status.ConsecutiveFailures++
	if !m.status.LastSuccess.IsZero() && now.Sub(m.status.LastSuccess) <= m.config.StalenessWindow {
		m.status.State = StatePartial
		m.status.Message = "gateway unreachable, last success within staleness window"
	} else {
		m.status.State = StateUnavailable
		m.status.Message = "gateway unreachable"
	}
	next := m.status
	m.mu.Unlock()

	// Raw probe errors carry addresses and ports; they go to logs, never
	// into the snapshot message.
	m.logger.Warn("gateway health check failed",
		"state", next.State,
		"consecutive_failures", next.ConsecutiveFailures,
		"error", err,
	)
	m.noteTransition(prev, next.State)
	return next
}

// noteTransition records a state change in logs and metrics. Steady states
// are not recorded, so a flapping gateway is visible as counter volume.
func (m *HTTPMonitor) noteTransition(from, to State) {
	if from == to {
		return
	}
	m.logger.Info("gateway health state changed", "from", from, "to", to)
	if m.transitions != nil {
		m.transitions.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("from", string(from)),
			attribute.String("to", string(to)),
		))
	}
}

// =============================================================================
// Mock Implementation
// =============================================================================

// MockMonitor is a test double for handler and service tests.
type MockMonitor struct {
	StartFunc    func(ctx context.Context) error
	CheckNowFunc func(ctx context.Context) Status
	SnapshotFunc func() Status

	CheckNowCalls int
	mu            sync.Mutex
}

var _ Monitor = (*MockMonitor)(nil)

func (m *MockMonitor) Start(ctx context.Context) error {
	if m.StartFunc != nil {
		return m.StartFunc(ctx)
	}
	return nil
}

func (m *MockMonitor) Stop() {}

func (m *MockMonitor) CheckNow(ctx context.Context) Status {
	m.mu.Lock()
	m.CheckNowCalls++
	m.mu.Unlock()

	if m.CheckNowFunc != nil {
		return m.CheckNowFunc(ctx)
	}
	return Status{State: StateAvailable, DeepSeekConfigured: true, LastChecked: time.Now()}
}

func (m *MockMonitor) Snapshot() Status {
	if m.SnapshotFunc != nil {
		return m.SnapshotFunc()
	}
	return Status{State: StateAvailable, DeepSeekConfigured: true, LastChecked: time.Now()}
}
