package teaching

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/praxislearn/praxis/services/tutor/datatypes"
)

// =============================================================================
// Interface
// =============================================================================

// Directives attached by the strategist's heuristic tier. The prompt
// builder turns them into instructions for the model.
const (
	DirectiveSimplify    = "simplify"
	DirectiveAvoidJargon = "avoid-jargon"
)

// TeachingStrategist chooses how to teach, not what to teach.
//
// # Description
//
// SelectStrategy decides the approach for a fresh request from the
// learner's history, declared preferences, or model judgment, in that
// priority order. AdaptStrategy revises an in-flight strategy when
// comprehension or engagement signals arrive.
//
// Neither operation can fail: every tier has a deterministic fallback, so
// a strategy decision is always produced. Strategy selection must never be
// the reason a teach request errors.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type TeachingStrategist interface {
	// SelectStrategy picks the approach for one request.
	//
	// Priority order:
	//  1. Proven history: the most frequent approach among prior
	//     interactions with effectiveness at or above the configured
	//     threshold, confidence 0.8.
	//  2. Learning-style heuristics, confidence 0.7: declared visual
	//     learners get visualization; low comprehension gets explanatory
	//     with a simplify directive; low technical level gets explanatory
	//     with a jargon-avoidance directive.
	//  3. Model choice: the gateway picks from the approach enum; unknown
	//     replies clamp to explanatory, confidence clamped to [0,1].
	//  4. Default: explanatory, confidence 0.5.
	SelectStrategy(ctx context.Context, tc *datatypes.TeachingContext) datatypes.TeachingStrategy

	// AdaptStrategy revises current given fresh comprehension and
	// engagement scores in [0,1]. When both scores clear the adaptation
	// threshold the approach is kept and its confidence reinforced.
	// Otherwise the model proposes a revision; if that fails, the
	// strategy rotates to the next approach in enum order with reduced
	// confidence.
	AdaptStrategy(ctx context.Context, current datatypes.TeachingStrategy, comprehension, engagement float64) datatypes.TeachingStrategy
}

// =============================================================================
// Configuration
// =============================================================================

// StrategistConfig holds the strategy-selection thresholds and the bounds
// for model-assisted tiers.
type StrategistConfig struct {
	// EffectiveThreshold is the minimum interaction effectiveness for the
	// history tier to count an approach as proven.
	EffectiveThreshold float64

	// HistoryConfidence is assigned to history-tier decisions.
	HistoryConfidence float64

	// HeuristicConfidence is assigned to learning-style decisions.
	HeuristicConfidence float64

	// LowComprehension triggers the simplified-explanatory heuristic.
	LowComprehension float64

	// LowTechnicalLevel triggers the jargon-avoidance heuristic.
	LowTechnicalLevel int

	// AdaptThreshold is the comprehension/engagement level above which a
	// working strategy is reinforced rather than revised.
	AdaptThreshold float64

	// AdaptBoost is the confidence gain for a working strategy.
	AdaptBoost float64

	// AdaptPenalty and AdaptFloor bound the confidence loss when the
	// strategy rotates after weak signals.
	AdaptPenalty float64
	AdaptFloor   float64

	// DefaultConfidence is assigned by the final fallback tier.
	DefaultConfidence float64

	// MaxTokens and Timeout bound model-assisted tiers.
	MaxTokens int
	Timeout   time.Duration
}

// DefaultStrategistConfig returns the standard selection thresholds.
func DefaultStrategistConfig() StrategistConfig {
	return StrategistConfig{
		EffectiveThreshold:  0.7,
		HistoryConfidence:   0.8,
		HeuristicConfidence: 0.7,
		LowComprehension:    0.4,
		LowTechnicalLevel:   2,
		AdaptThreshold:      0.7,
		AdaptBoost:          0.1,
		AdaptPenalty:        0.2,
		AdaptFloor:          0.3,
		DefaultConfidence:   0.5,
		MaxTokens:           200,
		Timeout:             5 * time.Second,
	}
}

// =============================================================================
// Implementation
// =============================================================================

type llmStrategist struct {
	generate GenerateFunc
	config   StrategistConfig
	logger   *slog.Logger
}

var _ TeachingStrategist = (*llmStrategist)(nil)

// NewTeachingStrategist creates a strategist.
//
// generate may be nil, in which case the model tier is skipped and the
// deterministic tiers carry every decision. A nil logger falls back to
// slog.Default().
func NewTeachingStrategist(generate GenerateFunc, config StrategistConfig, logger *slog.Logger) TeachingStrategist {
	if logger == nil {
		logger = slog.Default()
	}
	return &llmStrategist{
		generate: generate,
		config:   config,
		logger:   logger,
	}
}

func (s *llmStrategist) SelectStrategy(ctx context.Context, tc *datatypes.TeachingContext) datatypes.TeachingStrategy {
	if strategy, ok := s.fromHistory(tc); ok {
		return strategy
	}
	if strategy, ok := s.fromLearningStyle(tc); ok {
		return strategy
	}
	if strategy, ok := s.fromModel(ctx, tc); ok {
		return strategy
	}
	return datatypes.TeachingStrategy{
		Approach:   datatypes.ApproachExplanatory,
		Confidence: s.config.DefaultConfidence,
		Reasoning:  "no prior signal, starting with plain explanation",
	}
}

func (s *llmStrategist) AdaptStrategy(ctx context.Context, current datatypes.TeachingStrategy, comprehension, engagement float64) datatypes.TeachingStrategy {
	if comprehension >= s.config.AdaptThreshold && engagement >= s.config.AdaptThreshold {
		current.Confidence = clamp01(current.Confidence + s.config.AdaptBoost)
		current.Reasoning = "approach is landing, reinforcing"
		return current
	}

	if revised, ok := s.reviseWithModel(ctx, current, comprehension, engagement); ok {
		return revised
	}

	// Rotation fallback: try the next approach with reduced confidence.
	confidence := current.Confidence - s.config.AdaptPenalty
	if confidence < s.config.AdaptFloor {
		confidence = s.config.AdaptFloor
	}
	next := datatypes.NextApproach(current.Approach)
	return datatypes.TeachingStrategy{
		Approach:   next,
		Confidence: confidence,
		Reasoning:  fmt.Sprintf("rotating from %s after weak signals", current.Approach),
	}
}

// =============================================================================
// Selection Tiers
// =============================================================================

// fromHistory returns the most frequent approach among effective prior
// interactions. Enum order breaks ties deterministically.
func (s *llmStrategist) fromHistory(tc *datatypes.TeachingContext) (datatypes.TeachingStrategy, bool) {
	if tc == nil || tc.Memory == nil {
		return datatypes.TeachingStrategy{}, false
	}

	counts := make(map[datatypes.TeachingApproach]int)
	for _, interaction := range tc.Memory.Interactions {
		if interaction.Strategy != "" && interaction.Effectiveness >= s.config.EffectiveThreshold {
			counts[interaction.Strategy]++
		}
	}

	var best datatypes.TeachingApproach
	bestCount := 0
	for _, approach := range datatypes.AllApproaches() {
		if counts[approach] > bestCount {
			best = approach
			bestCount = counts[approach]
		}
	}
	if bestCount == 0 {
		return datatypes.TeachingStrategy{}, false
	}
	return datatypes.TeachingStrategy{
		Approach:   best,
		Confidence: s.config.HistoryConfidence,
		Reasoning:  fmt.Sprintf("%s worked in %d prior interactions", best, bestCount),
	}, true
}

func (s *llmStrategist) fromLearningStyle(tc *datatypes.TeachingContext) (datatypes.TeachingStrategy, bool) {
	if tc == nil || tc.Memory == nil {
		return datatypes.TeachingStrategy{}, false
	}
	memory := tc.Memory

	switch {
	case strings.EqualFold(memory.Preferences.LearningStyle, "visual"):
		return datatypes.TeachingStrategy{
			Approach:   datatypes.ApproachVisualization,
			Confidence: s.config.HeuristicConfidence,
			Reasoning:  "declared visual learner",
		}, true

	case memory.ComprehensionLevel < s.config.LowComprehension:
		return datatypes.TeachingStrategy{
			Approach:   datatypes.ApproachExplanatory,
			Confidence: s.config.HeuristicConfidence,
			Reasoning:  "comprehension is low, simplifying",
			Directives: []string{DirectiveSimplify},
		}, true

	case memory.Preferences.TechnicalLevel > 0 && memory.Preferences.TechnicalLevel <= s.config.LowTechnicalLevel:
		return datatypes.TeachingStrategy{
			Approach:   datatypes.ApproachExplanatory,
			Confidence: s.config.HeuristicConfidence,
			Reasoning:  "beginner technical level, avoiding jargon",
			Directives: []string{DirectiveAvoidJargon},
		}, true
	}
	return datatypes.TeachingStrategy{}, false
}

// strategyReply matches the JSON shape both model-assisted tiers request.
type strategyReply struct {
	Approach   string  `json:"approach"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (s *llmStrategist) fromModel(ctx context.Context, tc *datatypes.TeachingContext) (datatypes.TeachingStrategy, bool) {
	reply, ok := s.askModel(ctx, s.buildSelectionPrompt(tc))
	if !ok {
		return datatypes.TeachingStrategy{}, false
	}
	return s.toStrategy(reply), true
}

func (s *llmStrategist) reviseWithModel(ctx context.Context, current datatypes.TeachingStrategy, comprehension, engagement float64) (datatypes.TeachingStrategy, bool) {
	reply, ok := s.askModel(ctx, s.buildRevisionPrompt(current, comprehension, engagement))
	if !ok {
		return datatypes.TeachingStrategy{}, false
	}
	return s.toStrategy(reply), true
}

// askModel runs one bounded generation and parses the strategy reply.
// Any failure reports ok=false so the caller falls through to the next
// tier; model trouble is logged, never surfaced.
func (s *llmStrategist) askModel(ctx context.Context, prompt string) (strategyReply, bool) {
	if s.generate == nil {
		return strategyReply{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	response, err := s.generate(ctx, prompt, s.config.MaxTokens)
	if err != nil {
		s.logger.Warn("strategy model call failed, falling through", "error", err)
		return strategyReply{}, false
	}

	var reply strategyReply
	if outcome := ExtractJSON(response, &reply); !outcome.OK() {
		s.logger.Warn("strategy model returned unusable JSON",
			"snippet", outcome.Snippet, "error", outcome.Err)
		return strategyReply{}, false
	}
	return reply, true
}

// toStrategy validates a model reply against the approach enum. Unknown
// approaches clamp to explanatory; confidence clamps to [0,1].
func (s *llmStrategist) toStrategy(reply strategyReply) datatypes.TeachingStrategy {
	approach := strings.ToLower(strings.TrimSpace(reply.Approach))
	if !datatypes.IsValidApproach(approach) {
		s.logger.Warn("strategy model picked an unknown approach, clamping to explanatory",
			"approach", reply.Approach)
		approach = string(datatypes.ApproachExplanatory)
	}
	reasoning := strings.TrimSpace(reply.Reasoning)
	if reasoning == "" {
		reasoning = "model-selected approach"
	}
	return datatypes.TeachingStrategy{
		Approach:   datatypes.TeachingApproach(approach),
		Confidence: clamp01(reply.Confidence),
		Reasoning:  reasoning,
	}
}

// =============================================================================
// Prompts
// =============================================================================

func (s *llmStrategist) buildSelectionPrompt(tc *datatypes.TeachingContext) string {
	var profile strings.Builder
	if tc != nil && tc.Memory != nil {
		fmt.Fprintf(&profile, "Technical level: %d/5\n", tc.Memory.Preferences.TechnicalLevel)
		fmt.Fprintf(&profile, "Comprehension level: %.2f\n", tc.Memory.ComprehensionLevel)
		if tc.Memory.Preferences.LearningStyle != "" {
			fmt.Fprintf(&profile, "Learning style: %s\n", tc.Memory.Preferences.LearningStyle)
		}
	}
	concepts := "none detected"
	if tc != nil && len(tc.DetectedConcepts) > 0 {
		concepts = strings.Join(tc.DetectedConcepts, ", ")
	}

	return fmt.Sprintf(`You are a teaching coach. Pick the single best teaching approach for the next reply to this student.

Student profile:
%s
Concepts in the current question: %s

Choose exactly one approach from: %s

Format your response as JSON:
{"approach": "one of the listed approaches", "confidence": 0.0, "reasoning": "one sentence"}`,
		profile.String(), concepts, approachList())
}

func (s *llmStrategist) buildRevisionPrompt(current datatypes.TeachingStrategy, comprehension, engagement float64) string {
	return fmt.Sprintf(`You are a teaching coach. The current approach is not landing and needs revision.

Current approach: %s
Student comprehension this session: %.2f (0 = lost, 1 = fully following)
Student engagement this session: %.2f (0 = checked out, 1 = fully engaged)

Choose exactly one approach from: %s

Format your response as JSON:
{"approach": "one of the listed approaches", "confidence": 0.0, "reasoning": "one sentence"}`,
		current.Approach, comprehension, engagement, approachList())
}

func approachList() string {
	approaches := datatypes.AllApproaches()
	names := make([]string, len(approaches))
	for i, a := range approaches {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
