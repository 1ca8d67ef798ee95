// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package teaching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/praxislearn/praxis/services/tutor/datatypes"
	"github.com/praxislearn/praxis/services/tutor/memstore"
)

// =============================================================================
// Interface
// =============================================================================

// UserMemoryManager owns all reads and writes of learner state.
//
// # Description
//
// The manager is the only component allowed to mutate UserMemory. It
// enforces the learning-model invariants on every write path:
//
//   - concept confidence stays within the tuned clamp bounds
//   - exposure counts are monotonically non-decreasing
//   - concept-graph edges are idempotent on (from, relation, to)
//   - a learner profile is created lazily with neutral defaults on first
//     read, exactly once per user even under concurrent first reads
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Returned UserMemory
// values are private copies; callers may mutate them freely without
// affecting stored state.
type UserMemoryManager interface {
	// GetUserMemory loads the learner profile for userID, creating the
	// default profile on first read. Repeated and concurrent calls
	// initialize storage exactly once.
	GetUserMemory(ctx context.Context, userID string) (*datatypes.UserMemory, error)

	// UpdateConceptExposure records one exposure to a concept: the
	// exposure count increments, the confidence moves by confidenceDelta
	// and is clamped, and LastSeen is stamped. FirstSeen is set once.
	UpdateConceptExposure(ctx context.Context, userID, concept string, confidenceDelta float64) error

	// RecordInteraction appends a completed teach exchange. Every concept
	// in the interaction gets a first-exposure record or a small positive
	// confidence increment.
	RecordInteraction(ctx context.Context, userID string, interaction datatypes.LearningInteraction) error

	// AddMisconception records a detected misunderstanding and links it
	// into the concept graph with a has_misconception edge. Re-adding an
	// identical edge is a no-op.
	AddMisconception(ctx context.Context, userID, concept, description string) error

	// AddConceptRelation inserts a directed labeled edge into the concept
	// graph, idempotent on (from, relation, to).
	AddConceptRelation(ctx context.Context, userID, from, relation, to string) error

	// RecordFeedback appends a 1-5 rating to the interaction's rating
	// history (never overwriting earlier ratings) and adjusts the
	// confidence of the interaction's concepts by ((rating/5)-0.5)
	// scaled by the tuned feedback weight, clamped.
	RecordFeedback(ctx context.Context, userID, interactionID string, rating int) error

	// GetAnalytics derives the learner's progress report: mastered and
	// struggling concepts, the learning-rate estimate, and concepts due
	// for review.
	GetAnalytics(ctx context.Context, userID string) (*datatypes.LearningAnalytics, error)

	// UpdatePreferences applies a partial preference update. Technical
	// levels outside the tuned range are clamped, not rejected.
	UpdatePreferences(ctx context.Context, userID string, prefs datatypes.UserPreferences) error
}

// =============================================================================
// Implementation
// =============================================================================

const (
	// minSlopeExposures is how many exposures a concept needs before its
	// confidence trajectory counts toward the learning-rate estimate.
	minSlopeExposures = 2

	// minSlopeWindowDays keeps same-session exposure bursts from
	// producing unbounded slopes.
	minSlopeWindowDays = 1.0
)

// ProgressSink receives concept mastery updates after they are persisted,
// for export to an external time-series store. Implementations must not
// block: the sink sits on the request path's tail.
type ProgressSink interface {
	RecordMastery(ctx context.Context, userID, concept string, confidence float64, exposures int)
}

type memoryManager struct {
	store    memstore.Store
	tuning   Tuning
	logger   *slog.Logger
	progress ProgressSink

	// mu serializes read-modify-write cycles so concurrent mutations of
	// the same user cannot lose updates.
	mu sync.Mutex

	// initGroup deduplicates lazy profile creation across concurrent
	// first reads.
	initGroup singleflight.Group
}

var _ UserMemoryManager = (*memoryManager)(nil)

// ManagerOption customizes optional manager wiring.
type ManagerOption func(*memoryManager)

// WithProgressSink forwards every persisted confidence change to sink as a
// mastery data point.
func WithProgressSink(sink ProgressSink) ManagerOption {
	return func(m *memoryManager) {
		m.progress = sink
	}
}

// NewUserMemoryManager creates the manager backed by store.
//
// Panics if store is nil. A nil logger falls back to slog.Default().
func NewUserMemoryManager(store memstore.Store, tuning Tuning, logger *slog.Logger, opts ...ManagerOption) UserMemoryManager {
	if store == nil {
		panic("teaching: NewUserMemoryManager requires a non-nil store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &memoryManager{
		store:  store,
		tuning: tuning,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *memoryManager) GetUserMemory(ctx context.Context, userID string) (*datatypes.UserMemory, error) {
	memory, err := m.getOrInit(ctx, userID)
	if err != nil {
		return nil, err
	}
	return memory.Clone(), nil
}

// getOrInit loads the profile, creating the lazy default on first read.
//
// Creation runs inside a singleflight group keyed by user, so concurrent
// first reads share one initialization. The flight re-checks the store
// before writing in case a mutation path created the profile in between.
func (m *memoryManager) getOrInit(ctx context.Context, userID string) (*datatypes.UserMemory, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", datatypes.ErrInvalidRequest)
	}

	memory, err := m.store.Get(ctx, userID)
	if err == nil {
		return memory, nil
	}
	if !errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: load memory for %s: %v", datatypes.ErrStorage, userID, err)
	}

	v, err, _ := m.initGroup.Do(userID, func() (any, error) {
		existing, getErr := m.store.Get(ctx, userID)
		if getErr == nil {
			return existing, nil
		}
		if !errors.Is(getErr, memstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: load memory for %s: %v", datatypes.ErrStorage, userID, getErr)
		}

		fresh := datatypes.NewUserMemory(userID)
		if putErr := m.store.Put(ctx, fresh); putErr != nil {
			return nil, fmt.Errorf("%w: initialize memory for %s: %v", datatypes.ErrStorage, userID, putErr)
		}
		m.logger.Info("created default learner profile", "userId", userID)
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*datatypes.UserMemory), nil
}

// mutate runs fn against a private copy of the user's memory and persists
// the result. All write operations funnel through here so the
// read-modify-write cycle stays atomic relative to other mutations.
func (m *memoryManager) mutate(ctx context.Context, userID string, fn func(*datatypes.UserMemory) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	memory, err := m.getOrInit(ctx, userID)
	if err != nil {
		return err
	}

	// The flight-shared instance must never be mutated in place.
	memory = memory.Clone()
	if err := fn(memory); err != nil {
		return err
	}
	memory.UpdatedAt = time.Now().UTC()

	if err := m.store.Put(ctx, memory); err != nil {
		return fmt.Errorf("%w: persist memory for %s: %v", datatypes.ErrStorage, userID, err)
	}
	return nil
}

func (m *memoryManager) UpdateConceptExposure(ctx context.Context, userID, concept string, confidenceDelta float64) error {
	concept = normalizeConcept(concept)
	if concept == "" {
		return fmt.Errorf("%w: concept is required", datatypes.ErrInvalidRequest)
	}
	var updates []masteryUpdate
	err := m.mutate(ctx, userID, func(memory *datatypes.UserMemory) error {
		m.touchConcept(memory, concept, confidenceDelta)
		updates = appendMastery(updates, memory, concept)
		return nil
	})
	if err != nil {
		return err
	}
	m.emitMastery(ctx, userID, updates)
	return nil
}

// touchConcept applies one exposure. The count only ever increases; the
// confidence moves by delta and stays clamped.
func (m *memoryManager) touchConcept(memory *datatypes.UserMemory, concept string, delta float64) {
	now := time.Now().UTC()
	record, ok := memory.ConceptExposure[concept]
	if !ok {
		record = &datatypes.ConceptRecord{FirstSeen: now}
		memory.ConceptExposure[concept] = record
	}
	record.ExposureCount++
	record.Confidence = m.tuning.ClampConfidence(record.Confidence + delta)
	record.LastSeen = now
}

func (m *memoryManager) RecordInteraction(ctx context.Context, userID string, interaction datatypes.LearningInteraction) error {
	if interaction.ID == "" {
		interaction.ID = uuid.New().String()
	}
	if interaction.Timestamp.IsZero() {
		interaction.Timestamp = time.Now().UTC()
	}

	var updates []masteryUpdate
	err := m.mutate(ctx, userID, func(memory *datatypes.UserMemory) error {
		memory.Interactions = append(memory.Interactions, interaction)

		for _, raw := range interaction.Concepts {
			concept := normalizeConcept(raw)
			if concept == "" {
				continue
			}
			if _, seen := memory.ConceptExposure[concept]; seen {
				m.touchConcept(memory, concept, m.tuning.RepeatExposureIncrement)
			} else {
				m.touchConcept(memory, concept, m.tuning.FirstExposureConfidence)
			}
			updates = appendMastery(updates, memory, concept)
		}

		if interaction.ComprehensionScore > 0 {
			w := m.tuning.ComprehensionWeight
			memory.ComprehensionLevel = m.tuning.ClampConfidence(
				memory.ComprehensionLevel*(1-w) + interaction.ComprehensionScore*w)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.emitMastery(ctx, userID, updates)
	return nil
}

func (m *memoryManager) AddMisconception(ctx context.Context, userID, concept, description string) error {
	concept = normalizeConcept(concept)
	description = strings.TrimSpace(description)
	if concept == "" || description == "" {
		return fmt.Errorf("%w: concept and description are required", datatypes.ErrInvalidRequest)
	}
	return m.mutate(ctx, userID, func(memory *datatypes.UserMemory) error {
		memory.Misconceptions = append(memory.Misconceptions, datatypes.Misconception{
			Concept:     concept,
			Description: description,
			RecordedAt:  time.Now().UTC(),
		})
		addRelation(memory, concept, datatypes.RelationMisconception, description)
		return nil
	})
}

func (m *memoryManager) AddConceptRelation(ctx context.Context, userID, from, relation, to string) error {
	from = normalizeConcept(from)
	to = normalizeConcept(to)
	relation = strings.TrimSpace(relation)
	if from == "" || relation == "" || to == "" {
		return fmt.Errorf("%w: from, relation and to are required", datatypes.ErrInvalidRequest)
	}
	return m.mutate(ctx, userID, func(memory *datatypes.UserMemory) error {
		addRelation(memory, from, relation, to)
		return nil
	})
}

func (m *memoryManager) RecordFeedback(ctx context.Context, userID, interactionID string, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", datatypes.ErrInvalidRequest)
	}
	if interactionID == "" {
		return fmt.Errorf("%w: interaction id is required", datatypes.ErrInvalidRequest)
	}

	var updates []masteryUpdate
	err := m.mutate(ctx, userID, func(memory *datatypes.UserMemory) error {
		idx := -1
		for i := range memory.Interactions {
			if memory.Interactions[i].ID == interactionID {
				idx = i
				break
			}
		}
		if idx == -1 {
			return fmt.Errorf("%w: interaction %s not found", datatypes.ErrInvalidRequest, interactionID)
		}

		interaction := &memory.Interactions[idx]
		interaction.FeedbackRatings = append(interaction.FeedbackRatings, rating)

		// Effectiveness tracks the running mean rating so the
		// strategist's history tier sees the learner's own verdict.
		var sum int
		for _, r := range interaction.FeedbackRatings {
			sum += r
		}
		interaction.Effectiveness = float64(sum) / float64(len(interaction.FeedbackRatings)) / 5.0

		delta := (float64(rating)/5.0 - 0.5) * m.tuning.FeedbackWeight
		for _, raw := range interaction.Concepts {
			concept := normalizeConcept(raw)
			record, ok := memory.ConceptExposure[concept]
			if !ok {
				continue
			}
			record.Confidence = m.tuning.ClampConfidence(record.Confidence + delta)
			updates = appendMastery(updates, memory, concept)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.emitMastery(ctx, userID, updates)
	return nil
}

func (m *memoryManager) GetAnalytics(ctx context.Context, userID string) (*datatypes.LearningAnalytics, error) {
	memory, err := m.getOrInit(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.buildAnalytics(memory), nil
}

func (m *memoryManager) buildAnalytics(memory *datatypes.UserMemory) *datatypes.LearningAnalytics {
	now := time.Now().UTC()
	analytics := &datatypes.LearningAnalytics{
		UserID:            memory.UserID,
		TotalInteractions: len(memory.Interactions),
		ConceptsTracked:   len(memory.ConceptExposure),
		Mastered:          []string{},
		Struggling:        []string{},
		ReviewDue:         []string{},
		GeneratedAt:       now,
	}

	concepts := make([]string, 0, len(memory.ConceptExposure))
	for concept := range memory.ConceptExposure {
		concepts = append(concepts, concept)
	}
	sort.Strings(concepts)

	var slopeSum float64
	var slopeCount int
	for _, concept := range concepts {
		record := memory.ConceptExposure[concept]

		switch {
		case record.Confidence >= m.tuning.MasteryThreshold:
			analytics.Mastered = append(analytics.Mastered, concept)
		case record.Confidence < m.tuning.StruggleThreshold && record.ExposureCount >= m.tuning.StruggleMinExposures:
			analytics.Struggling = append(analytics.Struggling, concept)
		}

		if record.Confidence > m.tuning.ReviewConfidenceLow &&
			record.Confidence < m.tuning.ReviewConfidenceHigh &&
			now.Sub(record.LastSeen) > m.tuning.ReviewAge {
			analytics.ReviewDue = append(analytics.ReviewDue, concept)
		}

		if record.ExposureCount >= minSlopeExposures {
			days := record.LastSeen.Sub(record.FirstSeen).Hours() / 24
			if days < minSlopeWindowDays {
				days = minSlopeWindowDays
			}
			slopeSum += (record.Confidence - m.tuning.FirstExposureConfidence) / days
			slopeCount++
		}
	}

	// The mean slope (confidence units per day) maps into [0,1] around a
	// neutral 0.5, so regressions read below 0.5 and progress above it.
	if slopeCount == 0 {
		analytics.LearningRate = m.tuning.DefaultLearningRate
	} else {
		analytics.LearningRate = m.tuning.ClampConfidence(0.5 + slopeSum/float64(slopeCount))
	}
	return analytics
}

func (m *memoryManager) UpdatePreferences(ctx context.Context, userID string, prefs datatypes.UserPreferences) error {
	return m.mutate(ctx, userID, func(memory *datatypes.UserMemory) error {
		if prefs.Format != "" {
			memory.Preferences.Format = prefs.Format
		}
		if prefs.TechnicalLevel != 0 {
			memory.Preferences.TechnicalLevel = m.tuning.ClampTechnicalLevel(prefs.TechnicalLevel)
		}
		if prefs.LearningStyle != "" {
			memory.Preferences.LearningStyle = prefs.LearningStyle
		}
		return nil
	})
}

// =============================================================================
// Helpers
// =============================================================================

// masteryUpdate pairs a concept with its post-mutation record for the
// progress sink. Records point into the persisted snapshot, which later
// mutations replace rather than modify, so reading them after mutate
// returns is safe.
type masteryUpdate struct {
	concept string
	record  *datatypes.ConceptRecord
}

// appendMastery captures the concept's state after a confidence change.
func appendMastery(updates []masteryUpdate, memory *datatypes.UserMemory, concept string) []masteryUpdate {
	if record, ok := memory.ConceptExposure[concept]; ok {
		updates = append(updates, masteryUpdate{concept: concept, record: record})
	}
	return updates
}

// emitMastery forwards persisted confidence changes to the progress sink.
// Called outside the manager lock so a slow sink cannot stall mutations.
func (m *memoryManager) emitMastery(ctx context.Context, userID string, updates []masteryUpdate) {
	if m.progress == nil {
		return
	}
	for _, u := range updates {
		m.progress.RecordMastery(ctx, userID, u.concept, u.record.Confidence, u.record.ExposureCount)
	}
}

// addRelation inserts the edge when absent. Reports whether it was added.
func addRelation(memory *datatypes.UserMemory, from, relation, to string) bool {
	if memory.HasRelation(from, relation, to) {
		return false
	}
	memory.ConceptGraph = append(memory.ConceptGraph, datatypes.ConceptRelation{
		From:     from,
		Relation: relation,
		To:       to,
	})
	return true
}

// normalizeConcept canonicalizes concept names for map keys and graph
// nodes. Concepts are compared lowercase with surrounding space removed.
func normalizeConcept(concept string) string {
	return strings.ToLower(strings.TrimSpace(concept))
}
