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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislearn/praxis/services/tutor/datatypes"
)

func newTestExtractor(t *testing.T, generate GenerateFunc) *LLMExtractor {
	t.Helper()
	dict, err := NewDictionary()
	require.NoError(t, err)
	return NewConceptExtractor(generate, dict, DefaultTuning(), DefaultExtractorConfig(), nil)
}

// =============================================================================
// ExtractConcepts
// =============================================================================

// TestExtractConcepts_DictionaryFallback pins the offline guarantee: with no
// model at all, the canonical two-concept question still extracts.
func TestExtractConcepts_DictionaryFallback(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	concepts := extractor.ExtractConcepts(context.Background(), "explain backpropagation and gradient descent")
	assert.Equal(t, []string{"backpropagation", "gradient descent"}, concepts)
}

func TestExtractConcepts_ModelResultsAreNormalizedAndDeduped(t *testing.T) {
	generate := staticGenerate(`["Backpropagation", "backpropagation", "Chain Rule"]`)
	extractor := newTestExtractor(t, generate)

	concepts := extractor.ExtractConcepts(context.Background(), "walk me through backprop")
	assert.Equal(t, []string{"backpropagation", "chain rule"}, concepts)
}

func TestExtractConcepts_MalformedModelReplyFallsBack(t *testing.T) {
	extractor := newTestExtractor(t, staticGenerate("Sure! The main topic here is recursion."))

	concepts := extractor.ExtractConcepts(context.Background(), "tell me about recursion")
	assert.Equal(t, []string{"recursion"}, concepts)
}

// TestExtractConcepts_EmptyModelReplyFallsBack: a model that parses fine but
// finds nothing still hands off to the dictionary. Extraction only trusts
// the model when it actually produced something.
func TestExtractConcepts_EmptyModelReplyFallsBack(t *testing.T) {
	extractor := newTestExtractor(t, staticGenerate("[]"))

	concepts := extractor.ExtractConcepts(context.Background(), "what is gradient descent?")
	assert.Equal(t, []string{"gradient descent"}, concepts)
}

func TestExtractConcepts_ModelErrorFallsBack(t *testing.T) {
	extractor := newTestExtractor(t, failingGenerate())

	concepts := extractor.ExtractConcepts(context.Background(), "how do goroutines work?")
	assert.Equal(t, []string{"goroutine"}, concepts)
}

func TestExtractConcepts_EmptyTextReturnsEmpty(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	concepts := extractor.ExtractConcepts(context.Background(), "   ")
	assert.NotNil(t, concepts)
	assert.Empty(t, concepts)
}

func TestExtractConcepts_NoMatchReturnsEmpty(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	concepts := extractor.ExtractConcepts(context.Background(), "what should I cook tonight?")
	assert.Empty(t, concepts)
}

// TestExtractConcepts_LongInputIsChunked splits a long message and unions
// the per-chunk results in first-mention order.
func TestExtractConcepts_LongInputIsChunked(t *testing.T) {
	dict, err := NewDictionary()
	require.NoError(t, err)

	config := DefaultExtractorConfig()
	config.ChunkSize = 60
	config.ChunkOverlap = 0

	var calls int
	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		calls++
		switch {
		case strings.Contains(prompt, "alpha"):
			return `["alpha"]`, nil
		case strings.Contains(prompt, "beta"):
			return `["beta"]`, nil
		default:
			return `[]`, nil
		}
	}
	extractor := NewConceptExtractor(generate, dict, DefaultTuning(), config, nil)

	text := "alpha " + strings.Repeat("filler words here ", 8) + "beta"
	concepts := extractor.ExtractConcepts(context.Background(), text)

	assert.Greater(t, calls, 1, "long input should produce more than one model call")
	assert.Contains(t, concepts, "alpha")
	assert.Contains(t, concepts, "beta")
}

// =============================================================================
// ExtractStructuredConcepts
// =============================================================================

func TestExtractStructuredConcepts_ModelEntriesAreNormalized(t *testing.T) {
	generate := staticGenerate(`[
		{"concept": " Recursion ", "category": "", "importance": 1.5},
		{"concept": "recursion", "category": "algorithms", "importance": 0.9}
	]`)
	extractor := newTestExtractor(t, generate)

	structured := extractor.ExtractStructuredConcepts(context.Background(), "explain recursion")
	require.Len(t, structured, 1)
	assert.Equal(t, "recursion", structured[0].Concept)
	assert.Equal(t, "general", structured[0].Category)
	assert.Equal(t, 1.0, structured[0].Importance)
}

// TestExtractStructuredConcepts_FallbackUsesDictionaryCategories: the
// offline tier fills categories from the dictionary and importance from the
// configured default.
func TestExtractStructuredConcepts_FallbackUsesDictionaryCategories(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	structured := extractor.ExtractStructuredConcepts(context.Background(), "explain recursion with a base case")
	require.Len(t, structured, 1)
	assert.Equal(t, "recursion", structured[0].Concept)
	assert.Equal(t, "algorithms", structured[0].Category)
	assert.Equal(t, 0.5, structured[0].Importance)
}

func TestExtractStructuredConcepts_EmptyTextReturnsEmpty(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	structured := extractor.ExtractStructuredConcepts(context.Background(), "")
	assert.NotNil(t, structured)
	assert.Empty(t, structured)
}

// =============================================================================
// IdentifyMisconceptions
// =============================================================================

// TestIdentifyMisconceptions_NoFallbackTier: with no model there is no
// heuristic guessing. An empty result is the correct degraded answer.
func TestIdentifyMisconceptions_NoFallbackTier(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	misconceptions := extractor.IdentifyMisconceptions(context.Background(),
		"recursion always overflows the stack", []string{"recursion"})
	assert.NotNil(t, misconceptions)
	assert.Empty(t, misconceptions)
}

func TestIdentifyMisconceptions_ModelStatementsAreTrimmed(t *testing.T) {
	generate := staticGenerate(`["  Recursion always overflows the stack.  ", "", "Slices are copied on assignment."]`)
	extractor := newTestExtractor(t, generate)

	misconceptions := extractor.IdentifyMisconceptions(context.Background(),
		"recursion always overflows the stack, right?", []string{"recursion"})
	assert.Equal(t, []string{
		"Recursion always overflows the stack.",
		"Slices are copied on assignment.",
	}, misconceptions)
}

func TestIdentifyMisconceptions_ModelErrorReturnsEmpty(t *testing.T) {
	extractor := newTestExtractor(t, failingGenerate())

	misconceptions := extractor.IdentifyMisconceptions(context.Background(),
		"pointers store copies of values", []string{"pointer"})
	assert.Empty(t, misconceptions)
}

func TestIdentifyMisconceptions_NoConceptsShortCircuits(t *testing.T) {
	called := false
	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		called = true
		return "[]", nil
	}
	extractor := newTestExtractor(t, generate)

	misconceptions := extractor.IdentifyMisconceptions(context.Background(), "hello there", nil)
	assert.Empty(t, misconceptions)
	assert.False(t, called)
}

// =============================================================================
// IdentifyStruggleAreas
// =============================================================================

func TestIdentifyStruggleAreas_NilMemory(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	assert.Empty(t, extractor.IdentifyStruggleAreas(context.Background(), nil))
}

// TestIdentifyStruggleAreas_MasteryFallback reads the stored signature of a
// struggle: low confidence after repeated exposure.
func TestIdentifyStruggleAreas_MasteryFallback(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	now := time.Now().UTC()
	memory := datatypes.NewUserMemory("u")
	memory.ConceptExposure = map[string]*datatypes.ConceptRecord{
		"recursion": {ExposureCount: 3, Confidence: 0.2, FirstSeen: now, LastSeen: now},
		"pointer":   {ExposureCount: 1, Confidence: 0.2, FirstSeen: now, LastSeen: now},
		"channel":   {ExposureCount: 5, Confidence: 0.9, FirstSeen: now, LastSeen: now},
	}

	struggles := extractor.IdentifyStruggleAreas(context.Background(), memory)
	assert.Equal(t, []string{"recursion"}, struggles)
}

func TestIdentifyStruggleAreas_ModelReadsHistory(t *testing.T) {
	generate := staticGenerate(`["Pointers", "recursion"]`)
	extractor := newTestExtractor(t, generate)

	memory := datatypes.NewUserMemory("u")
	memory.Interactions = []datatypes.LearningInteraction{
		{Message: "I still do not get pointers", Concepts: []string{"pointer"}},
	}

	struggles := extractor.IdentifyStruggleAreas(context.Background(), memory)
	assert.Equal(t, []string{"pointers", "recursion"}, struggles)
}

// =============================================================================
// AnalyzeConceptRelevance
// =============================================================================

// TestAnalyzeConceptRelevance_FallbackScoresUniformly: every requested
// concept appears with the uniform score when no model is reachable.
func TestAnalyzeConceptRelevance_FallbackScoresUniformly(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	scores := extractor.AnalyzeConceptRelevance(context.Background(),
		"how does recursion work?", []string{"Recursion", "loop"})
	assert.Equal(t, map[string]float64{"recursion": 0.5, "loop": 0.5}, scores)
}

func TestAnalyzeConceptRelevance_ModelScoresOverlayRequestedConceptsOnly(t *testing.T) {
	generate := staticGenerate(`{"recursion": 1.8, "loop": 0.2, "mutex": 0.9}`)
	extractor := newTestExtractor(t, generate)

	scores := extractor.AnalyzeConceptRelevance(context.Background(),
		"how does recursion work?", []string{"recursion", "loop"})
	assert.Equal(t, map[string]float64{"recursion": 1.0, "loop": 0.2}, scores)
}

func TestAnalyzeConceptRelevance_NoConceptsReturnsEmptyMap(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	scores := extractor.AnalyzeConceptRelevance(context.Background(), "anything", nil)
	assert.NotNil(t, scores)
	assert.Empty(t, scores)
}

// =============================================================================
// OrganizeConceptHierarchy
// =============================================================================

// TestOrganizeConceptHierarchy_FallbackIsFlat: every concept becomes a root
// with no children.
func TestOrganizeConceptHierarchy_FallbackIsFlat(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	hierarchy := extractor.OrganizeConceptHierarchy(context.Background(),
		[]string{"Sorting", "quicksort", "sorting"})
	assert.Equal(t, map[string][]string{"sorting": {}, "quicksort": {}}, hierarchy)
}

func TestOrganizeConceptHierarchy_ModelEdgesAreFilteredToInputs(t *testing.T) {
	generate := staticGenerate(`{
		"algorithm": ["sorting", "binary search", "calculus"],
		"sorting": ["sorting"]
	}`)
	extractor := newTestExtractor(t, generate)

	hierarchy := extractor.OrganizeConceptHierarchy(context.Background(),
		[]string{"algorithm", "sorting", "binary search"})

	assert.ElementsMatch(t, []string{"sorting", "binary search"}, hierarchy["algorithm"])
	assert.Empty(t, hierarchy["sorting"], "self loops are dropped")
	assert.Empty(t, hierarchy["binary search"])
}

func TestOrganizeConceptHierarchy_SingleConceptSkipsModel(t *testing.T) {
	called := false
	generate := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		called = true
		return "{}", nil
	}
	extractor := newTestExtractor(t, generate)

	hierarchy := extractor.OrganizeConceptHierarchy(context.Background(), []string{"recursion"})
	assert.Equal(t, map[string][]string{"recursion": {}}, hierarchy)
	assert.False(t, called)
}

// =============================================================================
// IdentifyPrerequisiteConcepts
// =============================================================================

func TestIdentifyPrerequisiteConcepts_DictionaryFallback(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	prereqs := extractor.IdentifyPrerequisiteConcepts(context.Background(), "Backpropagation")
	assert.Equal(t, []string{"neural network", "gradient descent"}, prereqs)
}

// TestIdentifyPrerequisiteConcepts_ModelListExcludesSelf: a concept is never
// its own prerequisite, whatever the model says.
func TestIdentifyPrerequisiteConcepts_ModelListExcludesSelf(t *testing.T) {
	generate := staticGenerate(`["recursion", "function", "conditional"]`)
	extractor := newTestExtractor(t, generate)

	prereqs := extractor.IdentifyPrerequisiteConcepts(context.Background(), "recursion")
	assert.Equal(t, []string{"function", "conditional"}, prereqs)
}

func TestIdentifyPrerequisiteConcepts_UnknownConceptReturnsEmpty(t *testing.T) {
	extractor := newTestExtractor(t, nil)

	assert.Empty(t, extractor.IdentifyPrerequisiteConcepts(context.Background(), "underwater basket weaving"))
}

// =============================================================================
// Construction
// =============================================================================

func TestNewConceptExtractor_RequiresDictionary(t *testing.T) {
	assert.Panics(t, func() {
		NewConceptExtractor(nil, nil, DefaultTuning(), DefaultExtractorConfig(), nil)
	})
}
