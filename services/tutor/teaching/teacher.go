// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.

// Package teaching implements the tutoring pipeline: concept extraction,
// learner memory, strategy selection, and the teach orchestrator that ties
// them to the language model gateway.
package teaching

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxislearn/praxis/services/llm"
	"github.com/praxislearn/praxis/services/tutor/datatypes"
	"github.com/praxislearn/praxis/services/tutor/memstore"
)

var teachTracer = otel.Tracer("praxis.tutor.teaching")

// =============================================================================
// Request Stages
// =============================================================================

// TeachingStage is one state of the teach request lifecycle.
//
// The machine runs Idle through Done in order on the happy path; Error is
// reachable from any stage. Transitions are recorded as span events and
// reported to the injected StageObserver.
type TeachingStage string

const (
	// StageIdle is the start state before any work happens.
	StageIdle TeachingStage = "idle"

	// StageExtractingConcepts covers concept extraction from the message.
	StageExtractingConcepts TeachingStage = "extracting_concepts"

	// StageBuildingContext covers memory load and semantic recall.
	StageBuildingContext TeachingStage = "building_context"

	// StageSelectingStrategy covers strategy selection and adaptation.
	StageSelectingStrategy TeachingStage = "selecting_strategy"

	// StageGenerating covers the model call, streamed or not.
	StageGenerating TeachingStage = "generating"

	// StagePersistingInteraction covers handing the exchange to the
	// write-back queue.
	StagePersistingInteraction TeachingStage = "persisting_interaction"

	// StageDone is the terminal success state.
	StageDone TeachingStage = "done"

	// StageError is the terminal failure state.
	StageError TeachingStage = "error"
)

// StageObserver receives stage transitions for one request. Used by tests
// to assert the lifecycle; production wiring leaves it nil and relies on
// span events.
type StageObserver func(requestID string, stage TeachingStage)

// =============================================================================
// Stream Callbacks
// =============================================================================

// StreamCallbacks receives the streamed teach output.
//
// OnChunk relays gateway events unchanged, in order; returning an error
// aborts the stream. OnMetadata delivers the single trailing metadata
// payload on the success path. OnComplete fires exactly once on every exit
// path, after the last OnChunk, with nil on success, ErrStreamAborted on
// cancellation, or a sanitized taxonomy error otherwise. Any callback may
// be nil.
type StreamCallbacks struct {
	OnChunk    func(event llm.StreamEvent) error
	OnMetadata func(md *datatypes.TeachMetadata)
	OnComplete func(err error)
}

// =============================================================================
// Configuration
// =============================================================================

// TeacherConfig bounds generation and context assembly.
type TeacherConfig struct {
	// MaxTokens caps each generated reply.
	MaxTokens int

	// Temperature is fixed per teacher instance.
	Temperature float32

	// HistoryLimit caps how many prior messages enter the prompt.
	HistoryLimit int

	// RecallLimit caps semantic recall results per request.
	RecallLimit int

	// FollowupLimit caps suggested follow-up questions.
	FollowupLimit int
}

// DefaultTeacherConfig returns configuration from environment variables
// with sensible defaults.
func DefaultTeacherConfig() TeacherConfig {
	return TeacherConfig{
		MaxTokens:     getEnvInt("TEACH_MAX_TOKENS", 1024),
		Temperature:   float32(getEnvFloat("TEACH_TEMPERATURE", 0.7)),
		HistoryLimit:  getEnvInt("TEACH_HISTORY_LIMIT", 10),
		RecallLimit:   getEnvInt("TEACH_RECALL_LIMIT", 3),
		FollowupLimit: getEnvInt("TEACH_FOLLOWUP_LIMIT", 3),
	}
}

// =============================================================================
// Teacher
// =============================================================================

// Teacher is the orchestrator contract the transport handlers consume.
type Teacher interface {
	// Teach runs the single-shot flow and returns the complete response.
	Teach(ctx context.Context, req *datatypes.TeachRequest) (*datatypes.TeachResponse, error)

	// TeachStream runs the streaming flow, relaying gateway chunks to
	// callbacks while independently accumulating the full text for
	// persistence and metadata.
	TeachStream(ctx context.Context, req *datatypes.TeachRequest, callbacks StreamCallbacks) error
}

// AITeacher orchestrates one teach request through the pipeline stages.
//
// # Description
//
// Extraction and strategy trouble never fail a request: those components
// degrade internally. The only generation error that escapes is a
// sanitized ErrUpstreamUnavailable after the gateway's own fallback is
// exhausted. Persistence is fire-and-forget through the write-back queue,
// so a slow store never sits between the model and the student.
//
// # Thread Safety
//
// Safe for concurrent use; per-request state lives on the stack.
type AITeacher struct {
	client     llm.LLMClient
	extractor  ConceptExtractor
	strategist TeachingStrategist
	memory     UserMemoryManager
	queue      *TaskQueue
	config     TeacherConfig
	logger     *slog.Logger

	archive        *memstore.SemanticArchive
	observer       StageObserver
	newAccumulator func() (TokenAccumulator, error)
}

var _ Teacher = (*AITeacher)(nil)

// TeacherOption customizes optional teacher wiring.
type TeacherOption func(*AITeacher)

// WithSemanticArchive enables cold-tier recall and archival of finished
// interactions.
func WithSemanticArchive(archive *memstore.SemanticArchive) TeacherOption {
	return func(t *AITeacher) {
		t.archive = archive
	}
}

// WithStageObserver registers a test hook for stage transitions.
func WithStageObserver(observer StageObserver) TeacherOption {
	return func(t *AITeacher) {
		t.observer = observer
	}
}

// WithAccumulatorFactory overrides how stream accumulators are created.
// Tests use this to avoid depending on system mlock limits.
func WithAccumulatorFactory(factory func() (TokenAccumulator, error)) TeacherOption {
	return func(t *AITeacher) {
		t.newAccumulator = factory
	}
}

// NewAITeacher wires the pipeline. client, extractor, strategist, memory,
// and queue are required; a nil logger falls back to slog.Default().
func NewAITeacher(
	client llm.LLMClient,
	extractor ConceptExtractor,
	strategist TeachingStrategist,
	memory UserMemoryManager,
	queue *TaskQueue,
	config TeacherConfig,
	logger *slog.Logger,
	opts ...TeacherOption,
) *AITeacher {
	if client == nil {
		panic("teaching: NewAITeacher requires a non-nil llm client")
	}
	if extractor == nil {
		panic("teaching: NewAITeacher requires a non-nil extractor")
	}
	if strategist == nil {
		panic("teaching: NewAITeacher requires a non-nil strategist")
	}
	if memory == nil {
		panic("teaching: NewAITeacher requires a non-nil memory manager")
	}
	if queue == nil {
		panic("teaching: NewAITeacher requires a non-nil task queue")
	}
	if logger == nil {
		logger = slog.Default()
	}

	teacher := &AITeacher{
		client:         client,
		extractor:      extractor,
		strategist:     strategist,
		memory:         memory,
		queue:          queue,
		config:         config,
		logger:         logger,
		newAccumulator: NewTokenAccumulator,
	}
	for _, opt := range opts {
		opt(teacher)
	}
	return teacher
}

// =============================================================================
// Single-Shot Flow
// =============================================================================

func (t *AITeacher) Teach(ctx context.Context, req *datatypes.TeachRequest) (*datatypes.TeachResponse, error) {
	ctx, span := teachTracer.Start(ctx, "AITeacher.Teach")
	defer span.End()
	started := time.Now()

	p, err := t.prepare(ctx, span, req)
	if err != nil {
		t.fail(span, req, err)
		return nil, err
	}

	t.transition(span, req.RequestID, StageGenerating)
	answer, err := t.client.Chat(ctx, p.messages, t.generationParams())
	if err != nil {
		t.logger.Error("generation failed",
			"request_id", req.RequestID,
			"user_id", req.UserID,
			"error", err,
		)
		// Raw upstream errors stay in logs (SEC-005); clients see the
		// taxonomy sentinel only.
		sanitized := fmt.Errorf("%w: generation failed", datatypes.ErrUpstreamUnavailable)
		t.fail(span, req, sanitized)
		return nil, sanitized
	}

	resp := datatypes.NewTeachResponse(req.RequestID, req.SessionID, answer)
	resp.DetectedConcepts = p.concepts
	resp.SuggestedFollowups = t.suggestFollowups(p.concepts)
	resp.Strategy = &p.strategy
	resp.ProcessingTimeMs = time.Since(started).Milliseconds()

	t.transition(span, req.RequestID, StagePersistingInteraction)
	t.enqueuePersistence(req, answer, p, false)

	t.transition(span, req.RequestID, StageDone)
	return resp, nil
}

// =============================================================================
// Streaming Flow
// =============================================================================

func (t *AITeacher) TeachStream(ctx context.Context, req *datatypes.TeachRequest, callbacks StreamCallbacks) error {
	ctx, span := teachTracer.Start(ctx, "AITeacher.TeachStream")
	defer span.End()

	var completeOnce sync.Once
	complete := func(err error) {
		completeOnce.Do(func() {
			if callbacks.OnComplete != nil {
				callbacks.OnComplete(err)
			}
		})
	}

	p, err := t.prepare(ctx, span, req)
	if err != nil {
		t.fail(span, req, err)
		complete(err)
		return err
	}

	t.transition(span, req.RequestID, StageGenerating)

	acc, accErr := t.newAccumulator()
	if accErr != nil {
		// Teacher keeps talking even when the capture buffer is gone;
		// the exchange just will not be remembered.
		t.logger.Warn("failed to create token accumulator, exchange will not be persisted",
			"request_id", req.RequestID,
			"error", accErr,
		)
	}
	defer func() {
		if acc != nil {
			acc.Destroy()
		}
	}()

	var accumulationLost bool
	streamErr := t.client.ChatStream(ctx, p.messages, t.generationParams(), func(event llm.StreamEvent) error {
		// A cancelled request emits nothing further.
		if err := ctx.Err(); err != nil {
			return err
		}
		if event.Type == llm.StreamEventToken && acc != nil && !accumulationLost {
			if werr := acc.Write(event.Content); werr != nil {
				accumulationLost = true
				t.logger.Warn("token accumulation lost, exchange will not be persisted",
					"request_id", req.RequestID,
					"error", werr,
				)
			}
		}
		if callbacks.OnChunk != nil {
			return callbacks.OnChunk(event)
		}
		return nil
	})

	if ctx.Err() != nil {
		t.persistPartial(req, p, acc, accumulationLost)
		t.transition(span, req.RequestID, StageError)
		span.SetStatus(codes.Error, "stream aborted by client")
		complete(datatypes.ErrStreamAborted)
		return datatypes.ErrStreamAborted
	}

	if streamErr != nil {
		t.logger.Error("stream generation failed",
			"request_id", req.RequestID,
			"user_id", req.UserID,
			"error", streamErr,
		)
		sanitized := fmt.Errorf("%w: stream generation failed", datatypes.ErrUpstreamUnavailable)
		t.fail(span, req, sanitized)
		complete(sanitized)
		return sanitized
	}

	metadata := &datatypes.TeachMetadata{
		DetectedConcepts:   p.concepts,
		SuggestedFollowups: t.suggestFollowups(p.concepts),
		Strategy:           &p.strategy,
	}
	if callbacks.OnMetadata != nil {
		callbacks.OnMetadata(metadata)
	}

	t.transition(span, req.RequestID, StagePersistingInteraction)
	if acc != nil && !accumulationLost {
		if answer, _, ferr := acc.Finalize(); ferr == nil && answer != "" {
			t.enqueuePersistence(req, answer, p, false)
		}
	}

	t.transition(span, req.RequestID, StageDone)
	complete(nil)
	return nil
}

// persistPartial saves whatever streamed before cancellation, marked cut
// short so analytics can discount it.
func (t *AITeacher) persistPartial(req *datatypes.TeachRequest, p *pipeline, acc TokenAccumulator, lost bool) {
	if acc == nil || lost {
		return
	}
	partial, _, err := acc.Finalize()
	if err != nil || partial == "" {
		return
	}
	t.enqueuePersistence(req, partial, p, true)
}

// =============================================================================
// Pipeline
// =============================================================================

// pipeline is the per-request state the stages accumulate.
type pipeline struct {
	concepts []string
	teachCtx *datatypes.TeachingContext
	strategy datatypes.TeachingStrategy
	messages []datatypes.Message
}

// prepare runs validation, extraction, context assembly, and strategy
// selection. The only error it can return is ErrInvalidRequest: every
// downstream component degrades instead of failing.
func (t *AITeacher) prepare(ctx context.Context, span trace.Span, req *datatypes.TeachRequest) (*pipeline, error) {
	req.EnsureDefaults()
	t.transition(span, req.RequestID, StageIdle)

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", datatypes.ErrInvalidRequest, err)
	}
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.String("session.id", req.SessionID),
	)

	t.transition(span, req.RequestID, StageExtractingConcepts)
	concepts := t.extractor.ExtractConcepts(ctx, req.Message)
	span.SetAttributes(attribute.Int("concepts.count", len(concepts)))

	t.transition(span, req.RequestID, StageBuildingContext)
	memory, err := t.memory.GetUserMemory(ctx, req.UserID)
	if err != nil {
		// The lesson goes on without the profile; persistence will
		// complain again if the store is really down.
		t.logger.Warn("memory load failed, teaching without profile",
			"request_id", req.RequestID,
			"user_id", req.UserID,
			"error", err,
		)
		memory = datatypes.NewUserMemory(req.UserID)
	}

	history := req.PreviousMessages
	if len(history) > t.config.HistoryLimit {
		history = history[len(history)-t.config.HistoryLimit:]
	}

	var recalled []string
	if t.archive != nil && len(concepts) > 0 {
		recalled, err = t.archive.SearchRelevant(ctx, req.UserID, concepts, t.config.RecallLimit)
		if err != nil {
			t.logger.Warn("semantic recall failed", "request_id", req.RequestID, "error", err)
			recalled = nil
		}
	}

	teachCtx := &datatypes.TeachingContext{
		Memory:           memory,
		DetectedConcepts: concepts,
		SessionHistory:   history,
		RelevantMemories: recalled,
	}

	t.transition(span, req.RequestID, StageSelectingStrategy)
	strategy := t.strategist.SelectStrategy(ctx, teachCtx)
	strategy = t.adaptFromSignals(ctx, req, strategy)
	span.SetAttributes(
		attribute.String("strategy.approach", string(strategy.Approach)),
		attribute.Float64("strategy.confidence", strategy.Confidence),
	)

	return &pipeline{
		concepts: concepts,
		teachCtx: teachCtx,
		strategy: strategy,
		messages: t.buildMessages(req, teachCtx, strategy),
	}, nil
}

// adaptFromSignals revises the strategy when the caller supplied live
// comprehension and engagement scores in the request context map.
func (t *AITeacher) adaptFromSignals(ctx context.Context, req *datatypes.TeachRequest, strategy datatypes.TeachingStrategy) datatypes.TeachingStrategy {
	compStr, hasComp := req.Context["comprehension"]
	engStr, hasEng := req.Context["engagement"]
	if !hasComp || !hasEng {
		return strategy
	}
	comprehension, err1 := strconv.ParseFloat(compStr, 64)
	engagement, err2 := strconv.ParseFloat(engStr, 64)
	if err1 != nil || err2 != nil {
		return strategy
	}
	return t.strategist.AdaptStrategy(ctx, strategy, comprehension, engagement)
}

func (t *AITeacher) generationParams() llm.GenerationParams {
	maxTokens := t.config.MaxTokens
	temperature := t.config.Temperature
	return llm.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
}

// =============================================================================
// Prompt Assembly
// =============================================================================

// approachGuidance turns the selected approach into prompt instructions.
var approachGuidance = map[datatypes.TeachingApproach]string{
	datatypes.ApproachExplanatory:    "Explain the idea directly and clearly, building from what the student already knows.",
	datatypes.ApproachSocratic:       "Do not hand over the answer. Lead the student there with pointed questions, one at a time.",
	datatypes.ApproachExamplesBased:  "Teach through concrete worked examples before stating the general rule.",
	datatypes.ApproachAnalogy:        "Anchor the explanation in an analogy to something familiar, then map it back to the real concept.",
	datatypes.ApproachVisualization:  "Describe what the student should picture: shapes, flows, diagrams in words.",
	datatypes.ApproachProblemSolving: "Pose a small problem and coach the student through solving it step by step.",
}

// directiveGuidance turns strategist directives into prompt instructions.
var directiveGuidance = map[string]string{
	DirectiveSimplify:    "Keep sentences short. One idea per sentence. Check understanding before moving on.",
	DirectiveAvoidJargon: "Avoid technical jargon. When a technical term is unavoidable, define it immediately in plain words.",
}

func (t *AITeacher) buildMessages(req *datatypes.TeachRequest, tc *datatypes.TeachingContext, strategy datatypes.TeachingStrategy) []datatypes.Message {
	messages := make([]datatypes.Message, 0, len(tc.SessionHistory)+2)
	messages = append(messages, datatypes.Message{
		Role:    "system",
		Content: t.buildSystemPrompt(tc, strategy),
	})
	messages = append(messages, tc.SessionHistory...)
	messages = append(messages, datatypes.Message{
		Role:    "user",
		Content: req.Message,
	})
	return messages
}

func (t *AITeacher) buildSystemPrompt(tc *datatypes.TeachingContext, strategy datatypes.TeachingStrategy) string {
	var b strings.Builder
	b.WriteString("You are Praxis, a patient personal tutor. Your goal is understanding, not coverage: meet the student where they are and move one step forward.\n")

	if guidance, ok := approachGuidance[strategy.Approach]; ok {
		b.WriteString("\nTeaching approach: ")
		b.WriteString(guidance)
		b.WriteString("\n")
	}
	for _, directive := range strategy.Directives {
		if guidance, ok := directiveGuidance[directive]; ok {
			b.WriteString(guidance)
			b.WriteString("\n")
		}
	}

	if memory := tc.Memory; memory != nil {
		fmt.Fprintf(&b, "\nStudent profile: technical level %d of 5, comprehension %.1f of 1.0.\n",
			memory.Preferences.TechnicalLevel, memory.ComprehensionLevel)
		if memory.Preferences.LearningStyle != "" {
			fmt.Fprintf(&b, "Declared learning style: %s.\n", memory.Preferences.LearningStyle)
		}
		if misconceptions := relevantMisconceptions(memory, tc.DetectedConcepts); len(misconceptions) > 0 {
			b.WriteString("The student has previously shown these misconceptions; correct them gently if they resurface:\n")
			for _, m := range misconceptions {
				fmt.Fprintf(&b, "- %s: %s\n", m.Concept, m.Description)
			}
		}
	}

	if len(tc.RelevantMemories) > 0 {
		b.WriteString("\nFrom earlier sessions with this student:\n")
		for _, memory := range tc.RelevantMemories {
			fmt.Fprintf(&b, "- %s\n", memory)
		}
	}

	return b.String()
}

// relevantMisconceptions filters stored misconceptions to the concepts in
// play for this request.
func relevantMisconceptions(memory *datatypes.UserMemory, concepts []string) []datatypes.Misconception {
	if len(memory.Misconceptions) == 0 || len(concepts) == 0 {
		return nil
	}
	inPlay := make(map[string]bool, len(concepts))
	for _, concept := range concepts {
		inPlay[concept] = true
	}
	var matched []datatypes.Misconception
	for _, m := range memory.Misconceptions {
		if inPlay[m.Concept] {
			matched = append(matched, m)
		}
	}
	return matched
}

// =============================================================================
// Follow-Ups
// =============================================================================

var followupTemplates = []string{
	"Want to walk through a worked example of %s?",
	"How would you explain %s in your own words?",
	"Should we look at how %s connects to what you already know?",
}

// suggestFollowups derives follow-up questions from the detected concepts.
// Deterministic templates, no model call: follow-ups must survive total
// gateway failure.
func (t *AITeacher) suggestFollowups(concepts []string) []string {
	followups := []string{}
	for i, concept := range concepts {
		if len(followups) >= t.config.FollowupLimit {
			break
		}
		followups = append(followups, fmt.Sprintf(followupTemplates[i%len(followupTemplates)], concept))
	}
	if len(followups) == 0 {
		followups = append(followups, "What part should we dig into next?")
	}
	return followups
}

// =============================================================================
// Persistence
// =============================================================================

// enqueuePersistence hands the finished exchange to the write-back queue.
// Failures are logged, never surfaced: the student already has the answer.
func (t *AITeacher) enqueuePersistence(req *datatypes.TeachRequest, answer string, p *pipeline, cutShort bool) {
	interaction := datatypes.LearningInteraction{
		Timestamp: time.Now().UTC(),
		Message:   req.Message,
		Response:  answer,
		Concepts:  p.concepts,
		Strategy:  p.strategy.Approach,
		CutShort:  cutShort,
	}
	userID := req.UserID
	requestID := req.RequestID

	err := t.queue.Enqueue(Task{
		Name: "record_interaction",
		Run: func(ctx context.Context) error {
			if err := t.memory.RecordInteraction(ctx, userID, interaction); err != nil {
				return err
			}
			if t.archive != nil {
				if err := t.archive.ArchiveInteractions(ctx, userID, []datatypes.LearningInteraction{interaction}); err != nil {
					t.logger.Warn("semantic archive write failed",
						"request_id", requestID,
						"user_id", userID,
						"error", err,
					)
				}
			}
			return nil
		},
	})
	if err != nil {
		t.logger.Warn("persistence enqueue failed, exchange not recorded",
			"request_id", requestID,
			"user_id", userID,
			"error", err,
		)
	}
}

// =============================================================================
// Stage Bookkeeping
// =============================================================================

func (t *AITeacher) transition(span trace.Span, requestID string, stage TeachingStage) {
	span.AddEvent("stage_transition", trace.WithAttributes(
		attribute.String("stage", string(stage)),
	))
	if t.observer != nil {
		t.observer(requestID, stage)
	}
}

func (t *AITeacher) fail(span trace.Span, req *datatypes.TeachRequest, err error) {
	t.transition(span, req.RequestID, StageError)
	span.SetStatus(codes.Error, err.Error())
}
