// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.

package teaching

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/praxislearn/praxis/services/tutor/datatypes"
)

// =============================================================================
// Interfaces
// =============================================================================

// GenerateFunc is a function type for LLM text generation.
//
// # Description
//
// Using a function type instead of an interface allows callers to pass
// a simple closure, eliminating the need for adapter structs when the
// underlying LLM client has a different signature.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - prompt: The prompt to send to the LLM.
//   - maxTokens: Maximum tokens in the response.
//
// # Outputs
//
//   - string: The generated text.
//   - error: Non-nil if generation fails.
//
// # Example
//
//	generateFunc := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
//	    params := llm.GenerationParams{MaxTokens: &maxTokens}
//	    return client.Generate(ctx, prompt, params)
//	}
//	extractor := NewConceptExtractor(generateFunc, dict, tuning, config, logger)
type GenerateFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

// ConceptExtractor identifies learning concepts in student messages.
//
// # Description
//
// Every operation is two-tier: an LLM attempt first, then a deterministic
// fallback when the model is unavailable, times out, returns unusable JSON,
// or finds nothing. No operation ever returns an error; extraction trouble
// degrades quality, it never fails a teach request.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
//
// # Example
//
//	extractor := NewConceptExtractor(generateFunc, dict, DefaultTuning(), DefaultExtractorConfig(), logger)
//	concepts := extractor.ExtractConcepts(ctx, "how does backpropagation work?")
//	// concepts = ["backpropagation"] even with no model configured
type ConceptExtractor interface {
	// ExtractConcepts returns the learning concepts mentioned in text.
	//
	// # Description
	//
	// Asks the model for a JSON array of concept names. Long inputs are
	// split into chunks first and the per-chunk results are unioned with
	// first-mention order preserved. If the model yields nothing, the
	// embedded keyword dictionary is matched against the text instead,
	// case-insensitively, in dictionary order.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeout.
	//   - text: The student's message.
	//
	// # Outputs
	//
	//   - []string: Lowercased, deduplicated concepts in first-mention
	//     order. Empty (never nil) when nothing is found.
	//
	// # Example
	//
	//	extractor.ExtractConcepts(ctx, "explain backpropagation and gradient descent")
	//	// ["backpropagation", "gradient descent"]
	//
	// # Limitations
	//
	//   - The dictionary fallback only knows the concepts it ships with;
	//     novel topics require a working model.
	//
	// # Assumptions
	//
	//   - Text is valid UTF-8.
	ExtractConcepts(ctx context.Context, text string) []string

	// ExtractStructuredConcepts returns concepts with category and
	// importance metadata.
	//
	// # Description
	//
	// Asks the model for a JSON array of {concept, category, importance}
	// objects with importance in [0,1]. The fallback derives entries from
	// the dictionary match, using the dictionary's category where it has
	// one and defaults otherwise.
	//
	// # Outputs
	//
	//   - []datatypes.StructuredConcept: importance clamped to [0,1].
	//     Empty (never nil) when nothing is found.
	ExtractStructuredConcepts(ctx context.Context, text string) []datatypes.StructuredConcept

	// IdentifyMisconceptions returns misunderstanding statements detected
	// in the student's message about the given concepts.
	//
	// # Description
	//
	// Model-only: the fallback is an empty list because keyword heuristics
	// cannot distinguish a misconception from a question and false
	// positives would poison the learner profile.
	IdentifyMisconceptions(ctx context.Context, text string, concepts []string) []string

	// IdentifyStruggleAreas returns concepts the learner appears to be
	// struggling with.
	//
	// # Description
	//
	// The model reads the recent interaction history. The fallback reads
	// the stored mastery data instead: concepts with low confidence after
	// repeated exposure.
	IdentifyStruggleAreas(ctx context.Context, memory *datatypes.UserMemory) []string

	// AnalyzeConceptRelevance scores how relevant each concept is to the
	// text, in [0,1]. The fallback scores every concept uniformly at 0.5.
	// Every requested concept appears in the result.
	AnalyzeConceptRelevance(ctx context.Context, text string, concepts []string) map[string]float64

	// OrganizeConceptHierarchy arranges concepts into a parent-to-children
	// adjacency map. Every input concept appears as a key. The fallback is
	// a flat map: every concept a root with no children.
	OrganizeConceptHierarchy(ctx context.Context, concepts []string) map[string][]string

	// IdentifyPrerequisiteConcepts returns what a learner should know
	// before tackling concept. The fallback is the dictionary's
	// prerequisite table, else empty.
	IdentifyPrerequisiteConcepts(ctx context.Context, concept string) []string
}

// =============================================================================
// Configuration
// =============================================================================

// ExtractorConfig bounds the model-assisted tier and sets the fallback
// defaults.
type ExtractorConfig struct {
	// MaxTokens caps each extraction call.
	MaxTokens int

	// TimeoutMs bounds each extraction call in milliseconds.
	TimeoutMs int

	// ChunkSize and ChunkOverlap control splitting of long inputs before
	// per-chunk extraction.
	ChunkSize    int
	ChunkOverlap int

	// HistoryWindow is how many recent interactions the struggle-area
	// analysis reads.
	HistoryWindow int

	// DefaultCategory and DefaultImportance fill structured-concept
	// entries the fallback derives from a plain match.
	DefaultCategory   string
	DefaultImportance float64

	// UniformRelevance is the fallback relevance score.
	UniformRelevance float64
}

// DefaultExtractorConfig returns configuration from environment variables
// with sensible defaults.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		MaxTokens:         getEnvInt("EXTRACT_MAX_TOKENS", 300),
		TimeoutMs:         getEnvInt("EXTRACT_TIMEOUT_MS", 4000),
		ChunkSize:         getEnvInt("EXTRACT_CHUNK_SIZE", 2000),
		ChunkOverlap:      getEnvInt("EXTRACT_CHUNK_OVERLAP", 200),
		HistoryWindow:     getEnvInt("EXTRACT_HISTORY_WINDOW", 10),
		DefaultCategory:   getEnvString("EXTRACT_DEFAULT_CATEGORY", "general"),
		DefaultImportance: getEnvFloat("EXTRACT_DEFAULT_IMPORTANCE", 0.5),
		UniformRelevance:  getEnvFloat("EXTRACT_UNIFORM_RELEVANCE", 0.5),
	}
}

// getEnvString returns an environment variable as string, or defaultVal if not set.
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns an environment variable as int, or defaultVal if not set/invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvFloat returns an environment variable as float64, or defaultVal if not set/invalid.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

// =============================================================================
// Implementation
// =============================================================================

// LLMExtractor implements ConceptExtractor with a model-first strategy and
// the embedded keyword dictionary as the deterministic floor.
//
// # Thread Safety
//
// LLMExtractor is safe for concurrent use.
type LLMExtractor struct {
	generate GenerateFunc
	dict     *Dictionary
	tuning   Tuning
	config   ExtractorConfig
	splitter textsplitter.TextSplitter
	logger   *slog.Logger
}

var _ ConceptExtractor = (*LLMExtractor)(nil)

// NewConceptExtractor creates an extractor.
//
// generate may be nil, in which case every operation runs its fallback
// directly. dict must be non-nil: the dictionary is the floor that keeps
// extraction from ever going blind.
func NewConceptExtractor(generate GenerateFunc, dict *Dictionary, tuning Tuning, config ExtractorConfig, logger *slog.Logger) *LLMExtractor {
	if dict == nil {
		panic("teaching: NewConceptExtractor requires a non-nil dictionary")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{
		generate: generate,
		dict:     dict,
		tuning:   tuning,
		config:   config,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
		),
		logger: logger,
	}
}

// =============================================================================
// Operations
// =============================================================================

func (e *LLMExtractor) ExtractConcepts(ctx context.Context, text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{}
	}

	concepts := []string{}
	seen := make(map[string]bool)
	for _, chunk := range e.chunk(text) {
		var names []string
		if e.completeJSON(ctx, e.buildConceptPrompt(chunk), &names) {
			appendUnique(&concepts, seen, names)
		}
	}
	if len(concepts) > 0 {
		return concepts
	}

	return e.dict.MatchKeywords(text)
}

func (e *LLMExtractor) ExtractStructuredConcepts(ctx context.Context, text string) []datatypes.StructuredConcept {
	text = strings.TrimSpace(text)
	if text == "" {
		return []datatypes.StructuredConcept{}
	}

	structured := []datatypes.StructuredConcept{}
	seen := make(map[string]bool)
	for _, chunk := range e.chunk(text) {
		var entries []datatypes.StructuredConcept
		if !e.completeJSON(ctx, e.buildStructuredPrompt(chunk), &entries) {
			continue
		}
		for _, entry := range entries {
			concept := normalizeConcept(entry.Concept)
			if concept == "" || seen[concept] {
				continue
			}
			seen[concept] = true
			category := strings.TrimSpace(entry.Category)
			if category == "" {
				category = e.config.DefaultCategory
			}
			structured = append(structured, datatypes.StructuredConcept{
				Concept:    concept,
				Category:   category,
				Importance: clamp01(entry.Importance),
			})
		}
	}
	if len(structured) > 0 {
		return structured
	}

	for _, concept := range e.dict.MatchKeywords(text) {
		category, ok := e.dict.Category(concept)
		if !ok {
			category = e.config.DefaultCategory
		}
		structured = append(structured, datatypes.StructuredConcept{
			Concept:    concept,
			Category:   category,
			Importance: e.config.DefaultImportance,
		})
	}
	return structured
}

func (e *LLMExtractor) IdentifyMisconceptions(ctx context.Context, text string, concepts []string) []string {
	text = strings.TrimSpace(text)
	if text == "" || len(concepts) == 0 {
		return []string{}
	}

	var statements []string
	if !e.completeJSON(ctx, e.buildMisconceptionPrompt(text, concepts), &statements) {
		// No heuristic tier here. A wrong misconception on the learner
		// profile is worse than a missed one.
		return []string{}
	}

	cleaned := []string{}
	for _, statement := range statements {
		if statement = strings.TrimSpace(statement); statement != "" {
			cleaned = append(cleaned, statement)
		}
	}
	return cleaned
}

func (e *LLMExtractor) IdentifyStruggleAreas(ctx context.Context, memory *datatypes.UserMemory) []string {
	if memory == nil {
		return []string{}
	}

	if prompt, ok := e.buildStrugglePrompt(memory); ok {
		var names []string
		if e.completeJSON(ctx, prompt, &names) {
			struggles := []string{}
			appendUnique(&struggles, make(map[string]bool), names)
			if len(struggles) > 0 {
				return struggles
			}
		}
	}

	// Mastery fallback: repeated exposure without confidence is the
	// stored signature of a struggle.
	struggles := []string{}
	for _, concept := range sortedConcepts(memory.ConceptExposure) {
		record := memory.ConceptExposure[concept]
		if record.Confidence < e.tuning.StruggleThreshold && record.ExposureCount >= e.tuning.StruggleMinExposures {
			struggles = append(struggles, concept)
		}
	}
	return struggles
}

func (e *LLMExtractor) AnalyzeConceptRelevance(ctx context.Context, text string, concepts []string) map[string]float64 {
	scores := make(map[string]float64, len(concepts))
	for _, concept := range concepts {
		if concept = normalizeConcept(concept); concept != "" {
			scores[concept] = e.config.UniformRelevance
		}
	}
	if len(scores) == 0 || strings.TrimSpace(text) == "" {
		return scores
	}

	var reply map[string]float64
	if !e.completeJSON(ctx, e.buildRelevancePrompt(text, concepts), &reply) {
		return scores
	}
	for concept, score := range reply {
		concept = normalizeConcept(concept)
		// Scores for concepts nobody asked about are dropped.
		if _, wanted := scores[concept]; wanted {
			scores[concept] = clamp01(score)
		}
	}
	return scores
}

func (e *LLMExtractor) OrganizeConceptHierarchy(ctx context.Context, concepts []string) map[string][]string {
	inputs := []string{}
	inSet := make(map[string]bool)
	appendUnique(&inputs, inSet, concepts)

	hierarchy := make(map[string][]string, len(inputs))
	for _, concept := range inputs {
		hierarchy[concept] = []string{}
	}
	if len(inputs) < 2 {
		return hierarchy
	}

	var reply map[string][]string
	if !e.completeJSON(ctx, e.buildHierarchyPrompt(inputs), &reply) {
		return hierarchy
	}

	for parent, children := range reply {
		parent = normalizeConcept(parent)
		if !inSet[parent] {
			continue
		}
		for _, child := range children {
			child = normalizeConcept(child)
			if !inSet[child] || child == parent {
				continue
			}
			hierarchy[parent] = append(hierarchy[parent], child)
		}
	}
	return hierarchy
}

func (e *LLMExtractor) IdentifyPrerequisiteConcepts(ctx context.Context, concept string) []string {
	concept = normalizeConcept(concept)
	if concept == "" {
		return []string{}
	}

	var names []string
	if e.completeJSON(ctx, e.buildPrerequisitePrompt(concept), &names) {
		prereqs := []string{}
		seen := map[string]bool{concept: true}
		appendUnique(&prereqs, seen, names)
		if len(prereqs) > 0 {
			return prereqs
		}
	}

	return e.dict.Prerequisites(concept)
}

// =============================================================================
// Model Plumbing
// =============================================================================

// completeJSON runs one bounded generation and decodes the reply into
// target. It reports false when the model is absent, errors, or returns
// JSON that cannot be used; callers fall through to their fallback tier.
func (e *LLMExtractor) completeJSON(ctx context.Context, prompt string, target any) bool {
	if e.generate == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.TimeoutMs)*time.Millisecond)
	defer cancel()

	response, err := e.generate(ctx, prompt, e.config.MaxTokens)
	if err != nil {
		e.logger.Warn("extraction model call failed, using fallback", "error", err)
		return false
	}

	outcome := extractAny(response, target)
	if !outcome.OK() {
		e.logger.Warn("extraction model returned unusable JSON",
			"snippet", outcome.Snippet, "error", outcome.Err)
		return false
	}
	return true
}

// chunk splits long inputs so single model calls stay inside context.
// Short inputs pass through untouched.
func (e *LLMExtractor) chunk(text string) []string {
	if len(text) <= e.config.ChunkSize {
		return []string{text}
	}
	chunks, err := e.splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		e.logger.Warn("text splitting failed, extracting over full input", "error", err)
		return []string{text}
	}
	return chunks
}

// =============================================================================
// Prompts
// =============================================================================

func (e *LLMExtractor) buildConceptPrompt(text string) string {
	return fmt.Sprintf(`You are a teaching assistant. List the learning concepts this student message is about.

Student message: %q

Rules:
- Only name concepts actually present in the message.
- Use short lowercase names.
- Return an empty array if there are none.

Format your response as JSON:
["concept one", "concept two"]`, text)
}

func (e *LLMExtractor) buildStructuredPrompt(text string) string {
	return fmt.Sprintf(`You are a teaching assistant. List the learning concepts this student message is about, with a category and an importance score.

Student message: %q

Rules:
- Only name concepts actually present in the message.
- Use short lowercase names.
- importance is how central the concept is to the message, between 0.0 and 1.0.

Format your response as JSON:
[{"concept": "name", "category": "subject area", "importance": 0.0}]`, text)
}

func (e *LLMExtractor) buildMisconceptionPrompt(text string, concepts []string) string {
	return fmt.Sprintf(`You are a teaching assistant. Identify misconceptions in this student message: statements the student believes that are factually wrong.

Student message: %q
Concepts under discussion: %s

Rules:
- Only report beliefs the student actually states. Questions are not misconceptions.
- Phrase each misconception as the incorrect belief, in one sentence.
- Return an empty array if there are none. Do not guess.

Format your response as JSON:
["misconception one", "misconception two"]`, text, strings.Join(concepts, ", "))
}

// buildStrugglePrompt reports ok=false when there is no history to read.
func (e *LLMExtractor) buildStrugglePrompt(memory *datatypes.UserMemory) (string, bool) {
	interactions := memory.Interactions
	if len(interactions) == 0 {
		return "", false
	}
	if len(interactions) > e.config.HistoryWindow {
		interactions = interactions[len(interactions)-e.config.HistoryWindow:]
	}

	var history strings.Builder
	for _, interaction := range interactions {
		fmt.Fprintf(&history, "- Student: %q", interaction.Message)
		if len(interaction.Concepts) > 0 {
			fmt.Fprintf(&history, " (concepts: %s)", strings.Join(interaction.Concepts, ", "))
		}
		if interaction.ComprehensionScore > 0 {
			fmt.Fprintf(&history, " (comprehension: %.2f)", interaction.ComprehensionScore)
		}
		history.WriteString("\n")
	}

	return fmt.Sprintf(`You are a teaching assistant. From this learner's recent questions, identify the concepts they are struggling with.

Recent interactions:
%s
Rules:
- A struggle shows up as repeated questions, confusion, or low comprehension around the same concept.
- Use short lowercase concept names.
- Return an empty array if nothing stands out.

Format your response as JSON:
["concept one", "concept two"]`, history.String()), true
}

func (e *LLMExtractor) buildRelevancePrompt(text string, concepts []string) string {
	return fmt.Sprintf(`You are a teaching assistant. Score how relevant each concept is to this student message, between 0.0 (unrelated) and 1.0 (central).

Student message: %q
Concepts: %s

Format your response as JSON:
{"concept name": 0.0}`, text, strings.Join(concepts, ", "))
}

func (e *LLMExtractor) buildHierarchyPrompt(concepts []string) string {
	return fmt.Sprintf(`You are a teaching assistant. Arrange these concepts into a hierarchy from broader to narrower.

Concepts: %s

Rules:
- Only use the listed concepts. Do not invent new ones.
- Map each parent concept to the listed concepts that fall under it.
- A concept with no children maps to an empty array.

Format your response as JSON:
{"parent concept": ["child concept"]}`, strings.Join(concepts, ", "))
}

func (e *LLMExtractor) buildPrerequisitePrompt(concept string) string {
	return fmt.Sprintf(`You are a teaching assistant. List what a learner should already understand before studying %q.

Rules:
- Use short lowercase concept names.
- List at most five prerequisites, most fundamental first.
- Return an empty array if the concept needs no background.

Format your response as JSON:
["prerequisite one", "prerequisite two"]`, concept)
}

// =============================================================================
// Helpers
// =============================================================================

// appendUnique normalizes names and appends the ones not yet seen,
// preserving first-mention order.
func appendUnique(dst *[]string, seen map[string]bool, names []string) {
	for _, name := range names {
		name = normalizeConcept(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		*dst = append(*dst, name)
	}
}

func sortedConcepts(records map[string]*datatypes.ConceptRecord) []string {
	concepts := make([]string, 0, len(records))
	for concept := range records {
		concepts = append(concepts, concept)
	}
	sort.Strings(concepts)
	return concepts
}
