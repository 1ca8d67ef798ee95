// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// User memory and learning-analytics types.
//
// UserMemory is the unit of persistence: one record per student, holding
// preferences, per-concept exposure history, misconceptions, the concept
// graph, and the interaction log. The memory manager owns all mutation
// rules (clamping, monotonic exposure counts, idempotent graph edges);
// these types stay dumb.
package datatypes

import (
	"time"
)

// =============================================================================
// Teaching Approach Enum
// =============================================================================

// TeachingApproach identifies one of the supported teaching styles.
type TeachingApproach string

const (
	ApproachExplanatory    TeachingApproach = "explanatory"
	ApproachSocratic       TeachingApproach = "socratic"
	ApproachExamplesBased  TeachingApproach = "examples-based"
	ApproachAnalogy        TeachingApproach = "analogy"
	ApproachVisualization  TeachingApproach = "visualization"
	ApproachProblemSolving TeachingApproach = "problem-solving"
)

// allApproaches is the rotation order used when adapting a failing strategy.
var allApproaches = []TeachingApproach{
	ApproachExplanatory,
	ApproachSocratic,
	ApproachExamplesBased,
	ApproachAnalogy,
	ApproachVisualization,
	ApproachProblemSolving,
}

// AllApproaches returns the supported approaches in rotation order.
func AllApproaches() []TeachingApproach {
	out := make([]TeachingApproach, len(allApproaches))
	copy(out, allApproaches)
	return out
}

// IsValidApproach reports whether s names a supported teaching approach.
func IsValidApproach(s string) bool {
	for _, a := range allApproaches {
		if string(a) == s {
			return true
		}
	}
	return false
}

// NextApproach returns the approach that follows a in rotation order,
// wrapping at the end. Unknown approaches rotate to explanatory.
func NextApproach(a TeachingApproach) TeachingApproach {
	for i, cur := range allApproaches {
		if cur == a {
			return allApproaches[(i+1)%len(allApproaches)]
		}
	}
	return ApproachExplanatory
}

// =============================================================================
// Strategy and Context Types
// =============================================================================

// TeachingStrategy is the strategist's decision for one request.
//
// Confidence is in [0,1]. Directives carry optional prompt-shaping hints
// such as "simplify" or "avoid-jargon" attached by the heuristic tier.
type TeachingStrategy struct {
	Approach   TeachingApproach `json:"approach"`
	Confidence float64          `json:"confidence"`
	Reasoning  string           `json:"reasoning,omitempty"`
	Directives []string         `json:"directives,omitempty"`
}

// TeachingContext is everything the strategist and prompt builder see for
// one request: the student's memory, the concepts detected in the current
// message, recent session history, and any semantically recalled memories.
type TeachingContext struct {
	Memory           *UserMemory `json:"memory"`
	DetectedConcepts []string    `json:"detected_concepts"`
	SessionHistory   []Message   `json:"session_history,omitempty"`
	RelevantMemories []string    `json:"relevant_memories,omitempty"`
}

// StructuredConcept is a concept with extraction metadata.
type StructuredConcept struct {
	Concept    string  `json:"concept"`
	Category   string  `json:"category"`
	Importance float64 `json:"importance"`
}

// =============================================================================
// User Memory
// =============================================================================

// UserPreferences holds the student's declared or inferred preferences.
//
// TechnicalLevel is 1-5 (the memory manager clamps writes). LearningStyle
// is free-form ("visual", "auditory", ...); empty means unknown.
type UserPreferences struct {
	Format         string `json:"format"`
	TechnicalLevel int    `json:"technical_level"`
	LearningStyle  string `json:"learning_style,omitempty"`
}

// ConceptRecord tracks one concept's exposure history for one student.
//
// ExposureCount is monotonically non-decreasing. Confidence is kept in
// [0,1] by the memory manager; no code path may write outside that range.
type ConceptRecord struct {
	ExposureCount int       `json:"exposure_count"`
	Confidence    float64   `json:"confidence"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// Misconception records a detected misunderstanding.
type Misconception struct {
	Concept     string    `json:"concept"`
	Description string    `json:"description"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// RelationMisconception is the edge label linking a concept to a recorded
// misconception in the concept graph.
const RelationMisconception = "has_misconception"

// ConceptRelation is a directed, labeled edge in the student's concept graph.
type ConceptRelation struct {
	From     string `json:"from"`
	Relation string `json:"relation"`
	To       string `json:"to"`
}

// LearningInteraction is one completed teach exchange.
//
// Effectiveness is a post-hoc score in [0,1] (0 means unscored). CutShort
// marks responses persisted after client cancellation mid-stream.
type LearningInteraction struct {
	ID                 string           `json:"id"`
	Timestamp          time.Time        `json:"timestamp"`
	Message            string           `json:"message"`
	Response           string           `json:"response"`
	Concepts           []string         `json:"concepts"`
	Strategy           TeachingApproach `json:"strategy"`
	ComprehensionScore float64          `json:"comprehension_score,omitempty"`
	EngagementScore    float64          `json:"engagement_score,omitempty"`
	Effectiveness      float64          `json:"effectiveness,omitempty"`
	FeedbackRatings    []int            `json:"feedback_ratings,omitempty"`
	CutShort           bool             `json:"cut_short,omitempty"`
}

// UserMemory is the full persisted learning state for one student.
//
// # Description
//
// One UserMemory exists per UserID, created lazily on first read with
// neutral defaults: text format, technical level 3 (mid of 1-5), and
// comprehension 0.5. ComprehensionLevel is a running aggregate updated
// from interaction comprehension scores.
//
// # Thread Safety
//
// UserMemory itself is not synchronized; the memory manager serializes
// access and hands out deep copies via Clone.
type UserMemory struct {
	UserID             string                    `json:"user_id"`
	Preferences        UserPreferences           `json:"preferences"`
	ComprehensionLevel float64                   `json:"comprehension_level"`
	ConceptExposure    map[string]*ConceptRecord `json:"concept_exposure"`
	Misconceptions     []Misconception           `json:"misconceptions,omitempty"`
	Interactions       []LearningInteraction     `json:"interactions,omitempty"`
	ConceptGraph       []ConceptRelation         `json:"concept_graph,omitempty"`
	CreatedAt          time.Time                 `json:"created_at"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}

// NewUserMemory returns the lazy-created default memory for userID.
//
// Defaults per the memory model: format "text", technical level 3,
// comprehension 0.5, empty exposure map.
func NewUserMemory(userID string) *UserMemory {
	now := time.Now().UTC()
	return &UserMemory{
		UserID: userID,
		Preferences: UserPreferences{
			Format:         "text",
			TechnicalLevel: 3,
		},
		ComprehensionLevel: 0.5,
		ConceptExposure:    make(map[string]*ConceptRecord),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Clone returns a deep copy safe to hand outside the memory manager's lock.
func (m *UserMemory) Clone() *UserMemory {
	if m == nil {
		return nil
	}
	out := *m
	out.ConceptExposure = make(map[string]*ConceptRecord, len(m.ConceptExposure))
	for k, v := range m.ConceptExposure {
		rec := *v
		out.ConceptExposure[k] = &rec
	}
	out.Misconceptions = append([]Misconception(nil), m.Misconceptions...)
	out.ConceptGraph = append([]ConceptRelation(nil), m.ConceptGraph...)
	out.Interactions = make([]LearningInteraction, len(m.Interactions))
	for i, it := range m.Interactions {
		cp := it
		cp.Concepts = append([]string(nil), it.Concepts...)
		cp.FeedbackRatings = append([]int(nil), it.FeedbackRatings...)
		out.Interactions[i] = cp
	}
	return &out
}

// HasRelation reports whether the concept graph already contains the edge.
func (m *UserMemory) HasRelation(from, relation, to string) bool {
	for _, r := range m.ConceptGraph {
		if r.From == from && r.Relation == relation && r.To == to {
			return true
		}
	}
	return false
}

// =============================================================================
// Analytics
// =============================================================================

// LearningAnalytics is the derived progress report for one student.
//
//   - Mastered: confidence >= 0.8
//   - Struggling: confidence < 0.4 with at least 2 exposures
//   - LearningRate: mean confidence-over-time slope across concepts with
//     at least 2 exposures; 0.5 when no concept qualifies
//   - ReviewDue: confidence in (0.5, 0.9) and last seen more than 7 days ago
type LearningAnalytics struct {
	UserID            string    `json:"user_id"`
	TotalInteractions int       `json:"total_interactions"`
	ConceptsTracked   int       `json:"concepts_tracked"`
	Mastered          []string  `json:"mastered"`
	Struggling        []string  `json:"struggling"`
	LearningRate      float64   `json:"learning_rate"`
	ReviewDue         []string  `json:"review_due"`
	GeneratedAt       time.Time `json:"generated_at"`
}
