// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tutor provides the core adaptive tutoring service for Praxis.
//
// This package contains the main service type that coordinates all
// components of the tutor: HTTP routing, the language model gateway,
// concept extraction, learner memory, the policy engine, and observability
// infrastructure.
//
// # Extension Integration
//
// The tutor supports dependency injection via extensions.ServiceOptions,
// enabling hosted deployments to provide custom implementations of:
//   - AuthProvider: Custom authentication (JWT, API keys)
//   - AuthzProvider: Role-based access control
//   - AuditLogger: Compliance audit logging
//   - MessageFilter: PII detection and redaction
//
// # Usage
//
// Open source (uses no-op defaults):
//
//	cfg := tutor.Config{Port: 12190}
//	svc, err := tutor.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
//
// Hosted (with custom implementations):
//
//	opts := &extensions.ServiceOptions{
//	    AuthProvider: hostedAuth,
//	    AuditLogger:  hostedAudit,
//	}
//	svc, err := tutor.New(cfg, opts)
package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/praxislearn/praxis/pkg/extensions"
	"github.com/praxislearn/praxis/services/llm"
	"github.com/praxislearn/praxis/services/policy_engine"
	"github.com/praxislearn/praxis/services/tutor/health"
	"github.com/praxislearn/praxis/services/tutor/memstore"
	"github.com/praxislearn/praxis/services/tutor/observability"
	"github.com/praxislearn/praxis/services/tutor/progress"
	"github.com/praxislearn/praxis/services/tutor/routes"
	"github.com/praxislearn/praxis/services/tutor/teaching"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the tutor service.
//
// # Description
//
// Service abstracts the tutor lifecycle, enabling testing and alternative
// implementations. The interface follows the minimal surface area
// principle - only essential lifecycle methods are exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
//
// # Assumptions
//
//   - Service is fully initialized before Run() is called
//   - Run() is called at most once per Service instance
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	//
	// # Outputs
	//
	//   - error: Non-nil if the server fails to start or encounters a
	//     fatal error
	//
	// # Limitations
	//
	//   - Blocks until the server stops
	//   - Cleanup is automatic on return
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Outputs
	//
	//   - *gin.Engine: The configured router with all routes registered
	//
	// # Assumptions
	//
	//   - Caller will not modify the router
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds tutor service configuration options.
//
// # Description
//
// Config centralizes all configuration for the tutor service. Values can
// be populated from environment variables, config files, or
// programmatically for testing. All fields are optional with defaults
// applied by New().
//
// # Examples
//
//	// Minimal config (uses all defaults)
//	cfg := Config{}
//
//	// Custom port and backend
//	cfg := Config{
//	    Port:       8080,
//	    LLMBackend: "openai",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12190
	Port int

	// LLMBackend specifies the gateway provider.
	// Valid values: "deepseek", "openai"
	// Default: "deepseek"
	LLMBackend string

	// WeaviateURL is the Weaviate vector database URL.
	// If empty, semantic interaction recall is disabled.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint, for example
	// "otel-collector:4317". If empty, spans go to stdout in debug mode
	// and nowhere otherwise.
	OTelEndpoint string

	// Debug routes traces and metric dumps to stdout when no collector
	// is configured. Default: false
	Debug bool

	// DisableMetrics turns off Prometheus metric registration. The zero
	// value keeps metrics on; tests that construct several services in
	// one process set this to avoid duplicate collector registration.
	DisableMetrics bool

	// BadgerPath is the directory for the embedded learner store.
	// Default: "./data/tutor-memory"
	BadgerPath string

	// InMemoryStore swaps the Badger store for a map-backed one.
	// Meant for tests; nothing survives a restart.
	InMemoryStore bool

	// DictionaryPath points at an external concepts.yaml that overrides
	// the embedded concept dictionary and is hot-reloaded on change.
	// If empty, only the embedded dictionary is used.
	DictionaryPath string

	// QueueCapacity bounds the background persistence queue.
	// Default: 256
	QueueCapacity int

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service is the main implementation that coordinates:
//   - HTTP routing via Gin
//   - The language model gateway client
//   - Concept extraction, strategy selection, and learner memory
//   - Policy engine for outbound message scanning
//   - Optional Weaviate semantic archive and InfluxDB progress recording
//   - OpenTelemetry tracing and Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
//
// # Limitations
//
//   - No hot-reload of configuration (the concept dictionary is the one
//     exception)
//   - Single gateway backend per instance
type service struct {
	config        Config
	opts          extensions.ServiceOptions
	router        *gin.Engine
	llmClient     llm.LLMClient
	policyEngine  *policy_engine.PolicyEngine
	store         memstore.Store
	archive       *memstore.SemanticArchive
	memory        teaching.UserMemoryManager
	queue         *teaching.TaskQueue
	teacher       *teaching.AITeacher
	dictionary    *teaching.Dictionary
	monitor       health.Monitor
	recorder      *progress.InfluxRecorder
	meterProvider *sdkmetric.MeterProvider
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new tutor Service with the given configuration.
//
// # Description
//
// New initializes all tutor components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing and Prometheus metrics
//  3. Opens the learner memory store (Badger by default)
//  4. Connects optional subsystems: Weaviate semantic archive, InfluxDB
//     progress recorder (failures are logged, never fatal)
//  5. Initializes the policy engine and the gateway client
//  6. Assembles the teaching pipeline: dictionary, extractor, strategist,
//     memory manager, task queue, teacher
//  7. Starts the gateway health monitor
//  8. Sets up HTTP routes with extension options
//
// If opts is nil, DefaultOptions() is used (no-op implementations).
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extension options for hosted deployments. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run tutor service
//   - error: Non-nil if initialization fails
//
// # Examples
//
//	cfg := Config{Port: 12190, LLMBackend: "deepseek"}
//	svc, err := New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// # Limitations
//
//   - Gateway client creation may fail if the provider is misconfigured
//   - Weaviate and InfluxDB connections are optional; the service runs in
//     lightweight mode without them
//
// # Assumptions
//
//   - Environment variables are set for the chosen gateway provider
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	// Apply extension options (use defaults if nil)
	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}

	// Initialize OpenTelemetry tracer
	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// Initialize Prometheus metrics. DefaultMetrics survives across
	// instances in one process, so re-registration is skipped.
	if !s.config.DisableMetrics && observability.DefaultMetrics == nil {
		observability.InitMetrics()
		provider, err := observability.InitMeterProvider(s.config.Debug)
		if err != nil {
			slog.Warn("OTel meter bridge unavailable, continuing with native metrics only",
				"error", err)
		} else {
			s.meterProvider = provider
		}
		slog.Info("Initialized Prometheus metrics for teaching")
	}

	// Open the learner memory store
	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open learner store: %w", err)
	}

	// Initialize semantic archive (optional)
	if err := s.initArchive(); err != nil {
		slog.Warn("Semantic archive initialization failed, running without semantic recall",
			"error", err)
		// Not fatal - continue without Weaviate
	}

	// Initialize mastery progress recorder (optional)
	if err := s.initProgress(); err != nil {
		slog.Warn("Progress recorder initialization failed, running without progress series",
			"error", err)
		// Not fatal - continue without InfluxDB
	}

	// Initialize policy engine
	s.policyEngine, err = policy_engine.NewPolicyEngine()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// Initialize gateway client
	if err := s.initLLMClient(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	// Assemble the teaching pipeline
	if err := s.initTeaching(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize teaching pipeline: %w", err)
	}

	// Start the gateway health monitor
	if err := s.initMonitor(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to start health monitor: %w", err)
	}

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
//
// # Description
//
// Starts the Gin HTTP server on the configured port. This method blocks
// until the server stops due to error or shutdown signal. Cleanup of all
// subsystems is automatic on return.
//
// # Outputs
//
//   - error: Non-nil if the server fails to start or encounters a fatal
//     error
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting tutor server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
//
// # Inputs
//
//   - cfg: User-provided configuration
//
// # Outputs
//
//   - Config: Configuration with defaults applied
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12190
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "deepseek"
	}
	if cfg.BadgerPath == "" {
		cfg.BadgerPath = "./data/tutor-memory"
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 256
	}

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Builds an OTLP trace exporter when a collector endpoint is configured.
// Without one, spans are pretty-printed to stdout in debug mode and
// dropped otherwise. The propagator is installed in every case so
// incoming trace context still flows through handlers.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses insecure gRPC connections (appropriate for internal networks)
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	var exporter sdktrace.SpanExporter

	switch {
	case s.config.OTelEndpoint != "":
		conn, err := grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}

		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}

	case s.config.Debug:
		var err error
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}

	default:
		// No collector, not debugging: keep the default no-op provider.
		return func(context.Context) {}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("tutor-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown trace exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initStore opens the learner memory store.
//
// # Description
//
// Opens the embedded Badger store at the configured path, or a map-backed
// store when InMemoryStore is set.
//
// # Outputs
//
//   - error: Non-nil if the store cannot be opened
func (s *service) initStore() error {
	if s.config.InMemoryStore {
		s.store = memstore.NewMemoryStore()
		slog.Info("Using in-memory learner store")
		return nil
	}

	store, err := memstore.NewBadgerStore(memstore.DefaultBadgerConfig(s.config.BadgerPath))
	if err != nil {
		return err
	}

	s.store = store
	slog.Info("Badger learner store opened", "path", s.config.BadgerPath)

	return nil
}

// initArchive initializes the Weaviate-backed semantic interaction archive.
//
// # Description
//
// Creates a Weaviate client if WeaviateURL is configured, validates the
// URL format, and ensures the interaction class exists.
//
// # Outputs
//
//   - error: Non-nil if archive initialization fails
//
// # Limitations
//
//   - Returns nil when WeaviateURL is empty (optional dependency)
func (s *service) initArchive() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("Weaviate URL not configured, semantic recall disabled")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	archive := memstore.NewSemanticArchive(client)
	if err := archive.EnsureSchema(context.Background()); err != nil {
		return fmt.Errorf("failed to ensure interaction schema: %w", err)
	}

	s.archive = archive
	slog.Info("Semantic interaction archive initialized", "url", weaviateURL)

	return nil
}

// initProgress initializes the InfluxDB mastery progress recorder.
//
// # Description
//
// Builds a recorder from INFLUXDB_* environment variables and verifies the
// instance is healthy before wiring it into the memory manager.
//
// # Outputs
//
//   - error: Non-nil if InfluxDB is configured but unreachable
//
// # Limitations
//
//   - Returns nil when INFLUXDB_URL is unset (optional dependency)
func (s *service) initProgress() error {
	cfg := progress.DefaultConfig()
	if !cfg.Enabled() {
		slog.Info("InfluxDB not configured, mastery progress recording disabled")
		return nil
	}

	recorder := progress.NewInfluxRecorder(cfg, slog.Default())
	if err := recorder.Ping(context.Background()); err != nil {
		recorder.Close()
		return fmt.Errorf("influxdb unreachable: %w", err)
	}

	s.recorder = recorder
	slog.Info("Mastery progress recorder initialized", "bucket", cfg.Bucket)

	return nil
}

// initLLMClient initializes the language model gateway client.
//
// # Description
//
// Creates the appropriate gateway client based on the configured backend
// type. A missing API key is not an error here: the DeepSeek client is
// born in fallback mode and the health endpoint reports the degraded
// configuration.
//
// # Outputs
//
//   - error: Non-nil if gateway client creation fails
//
// # Limitations
//
//   - Only supports: deepseek, openai
func (s *service) initLLMClient() error {
	var err error

	switch s.config.LLMBackend {
	case "deepseek":
		s.llmClient, err = llm.NewDeepSeekClient()
		slog.Info("Using DeepSeek-compatible LLM backend")
	case "openai":
		s.llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to deepseek", "backend", s.config.LLMBackend)
		s.llmClient, err = llm.NewDeepSeekClient()
	}

	return err
}

// initTeaching assembles the teaching pipeline.
//
// # Description
//
// Builds the concept dictionary, extractor, strategist, memory manager,
// and persistence queue, then wires them into the teacher. Optional
// subsystems initialized earlier (semantic archive, progress recorder)
// are attached when present.
//
// # Outputs
//
//   - error: Non-nil if the pipeline cannot be assembled
//
// # Assumptions
//
//   - initStore and initLLMClient ran successfully
func (s *service) initTeaching() error {
	dict, err := teaching.NewDictionary()
	if err != nil {
		return fmt.Errorf("failed to load concept dictionary: %w", err)
	}
	s.dictionary = dict

	if s.config.DictionaryPath != "" {
		if err := dict.Watch(s.config.DictionaryPath); err != nil {
			slog.Warn("Concept dictionary watch failed, using embedded concepts",
				"path", s.config.DictionaryPath,
				"error", err)
		} else {
			slog.Info("Watching concept dictionary", "path", s.config.DictionaryPath)
		}
	}

	tuning := teaching.DefaultTuning()
	generate := s.generateFunc()

	extractor := teaching.NewConceptExtractor(generate, dict, tuning,
		teaching.DefaultExtractorConfig(), slog.Default())
	strategist := teaching.NewTeachingStrategist(generate,
		teaching.DefaultStrategistConfig(), slog.Default())

	var managerOpts []teaching.ManagerOption
	if s.recorder != nil {
		managerOpts = append(managerOpts, teaching.WithProgressSink(s.recorder))
	}
	s.memory = teaching.NewUserMemoryManager(s.store, tuning, slog.Default(), managerOpts...)

	s.queue = teaching.NewTaskQueue(s.config.QueueCapacity, slog.Default())
	if err := s.queue.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start persistence queue: %w", err)
	}

	var teacherOpts []teaching.TeacherOption
	if s.archive != nil {
		teacherOpts = append(teacherOpts, teaching.WithSemanticArchive(s.archive))
	}
	s.teacher = teaching.NewAITeacher(s.llmClient, extractor, strategist, s.memory,
		s.queue, teaching.DefaultTeacherConfig(), slog.Default(), teacherOpts...)

	return nil
}

// generateFunc adapts the gateway client to the teaching package's
// prompt-shaped callback. Extraction and strategy prompts only ever vary
// the token budget, so the remaining generation parameters stay at the
// client's defaults.
func (s *service) generateFunc() teaching.GenerateFunc {
	client := s.llmClient
	return func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		params := llm.GenerationParams{MaxTokens: &maxTokens}
		return client.Generate(ctx, prompt, params)
	}
}

// initMonitor starts the gateway health monitor.
//
// # Description
//
// Builds an HTTP monitor against the gateway's health endpoint and starts
// its periodic probe loop. When the gateway client reports its own
// configuration, that report feeds the monitor's deepSeekConfigured field.
//
// # Outputs
//
//   - error: Non-nil if the monitor fails to start
func (s *service) initMonitor() error {
	var opts []health.MonitorOption
	if reporter, ok := s.llmClient.(llm.ConfigReporter); ok {
		opts = append(opts, health.WithConfigReporter(reporter))
	}

	s.monitor = health.NewHTTPMonitor(health.DefaultMonitorConfig(), slog.Default(), opts...)
	if err := s.monitor.Start(context.Background()); err != nil {
		return err
	}

	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
//
// # Description
//
// Creates the Gin engine, applies middleware, and registers all routes.
// ServiceOptions are passed through to enable hosted extensions.
//
// # Assumptions
//
//   - All dependencies (teacher, memory, monitor, policy engine) are
//     initialized
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("tutor-service"))

	routes.SetupRoutes(s.router, s.teacher, s.memory, s.monitor, s.policyEngine, s.opts)
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure, so every field is
// nil-checked. Work producers stop first (monitor probes, the persistence
// queue), then sinks and stores close, then telemetry flushes.
func (s *service) cleanup() {
	if s.monitor != nil {
		s.monitor.Stop()
	}

	if s.queue != nil {
		if err := s.queue.Stop(); err != nil {
			slog.Warn("Persistence queue stop error", "error", err)
		}
	}

	if s.dictionary != nil {
		if err := s.dictionary.Close(); err != nil {
			slog.Warn("Concept dictionary close error", "error", err)
		}
	}

	if s.recorder != nil {
		s.recorder.Close()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Learner store close error", "error", err)
		}
	}

	if s.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		if err := s.meterProvider.Shutdown(ctx); err != nil {
			slog.Warn("Meter provider shutdown error", "error", err)
		}
		cancel()
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
