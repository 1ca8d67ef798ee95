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
	"time"

	"github.com/go-playground/validator/v10"
)

// tuningValidate checks Tuning structs for internal consistency.
var tuningValidate = validator.New()

// Tuning collects the adjustment constants of the learning model.
//
// # Description
//
// Every confidence nudge, threshold, and clamp bound the memory manager
// applies lives here rather than inline at call sites, so a deployment can
// retune the model without touching the mutation code. DefaultTuning
// returns the standard values; overrides should go through Validate before
// use.
//
// # Example
//
//	tuning := DefaultTuning()
//	tuning.MasteryThreshold = 0.85
//	if err := tuning.Validate(); err != nil {
//	    return err
//	}
//	manager := NewUserMemoryManager(store, tuning, logger)
type Tuning struct {
	// ConfidenceFloor and ConfidenceCeiling bound every stored concept
	// confidence. No code path writes outside [floor, ceiling].
	ConfidenceFloor   float64 `validate:"gte=0,ltefield=ConfidenceCeiling"`
	ConfidenceCeiling float64 `validate:"lte=1"`

	// FirstExposureConfidence seeds a concept record the first time an
	// interaction touches the concept.
	FirstExposureConfidence float64 `validate:"gte=0,lte=1"`

	// RepeatExposureIncrement is the small positive nudge a concept gets
	// each time it reappears in an interaction.
	RepeatExposureIncrement float64 `validate:"gte=0,lte=1"`

	// FeedbackWeight scales explicit 1-5 ratings into confidence deltas:
	// delta = ((rating/5)-0.5) * FeedbackWeight.
	FeedbackWeight float64 `validate:"gte=0,lte=1"`

	// ComprehensionWeight is the moving-average weight for folding an
	// interaction's comprehension score into the running level.
	ComprehensionWeight float64 `validate:"gte=0,lte=1"`

	// MasteryThreshold marks a concept mastered at or above it.
	MasteryThreshold float64 `validate:"gte=0,lte=1"`

	// StruggleThreshold marks a concept struggling below it, once the
	// learner has at least StruggleMinExposures exposures.
	StruggleThreshold    float64 `validate:"gte=0,lte=1"`
	StruggleMinExposures int     `validate:"gte=1"`

	// Concepts with confidence strictly inside (ReviewConfidenceLow,
	// ReviewConfidenceHigh) that have not been seen for ReviewAge are due
	// for review. Mastered and struggling concepts are excluded on
	// purpose: the former do not need review, the latter need reteaching.
	ReviewConfidenceLow  float64       `validate:"gte=0,lte=1"`
	ReviewConfidenceHigh float64       `validate:"gte=0,lte=1"`
	ReviewAge            time.Duration `validate:"gt=0"`

	// DefaultLearningRate is reported when no concept has enough history
	// for a slope estimate.
	DefaultLearningRate float64 `validate:"gte=0,lte=1"`

	// Technical level clamp bounds for preference updates.
	MinTechnicalLevel int `validate:"gte=1"`
	MaxTechnicalLevel int `validate:"gtefield=MinTechnicalLevel"`
}

// DefaultTuning returns the standard learning-model constants.
func DefaultTuning() Tuning {
	return Tuning{
		ConfidenceFloor:         0.0,
		ConfidenceCeiling:       1.0,
		FirstExposureConfidence: 0.1,
		RepeatExposureIncrement: 0.05,
		FeedbackWeight:          0.2,
		ComprehensionWeight:     0.3,
		MasteryThreshold:        0.8,
		StruggleThreshold:       0.4,
		StruggleMinExposures:    2,
		ReviewConfidenceLow:     0.5,
		ReviewConfidenceHigh:    0.9,
		ReviewAge:               7 * 24 * time.Hour,
		DefaultLearningRate:     0.5,
		MinTechnicalLevel:       1,
		MaxTechnicalLevel:       5,
	}
}

// Validate reports whether the tuning values are internally consistent.
func (t Tuning) Validate() error {
	return tuningValidate.Struct(t)
}

// ClampConfidence bounds v to [ConfidenceFloor, ConfidenceCeiling].
func (t Tuning) ClampConfidence(v float64) float64 {
	if v < t.ConfidenceFloor {
		return t.ConfidenceFloor
	}
	if v > t.ConfidenceCeiling {
		return t.ConfidenceCeiling
	}
	return v
}

// ClampTechnicalLevel bounds level to [MinTechnicalLevel, MaxTechnicalLevel].
func (t Tuning) ClampTechnicalLevel(level int) int {
	if level < t.MinTechnicalLevel {
		return t.MinTechnicalLevel
	}
	if level > t.MaxTechnicalLevel {
		return t.MaxTechnicalLevel
	}
	return level
}
