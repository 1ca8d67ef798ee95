// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memstore

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/praxislearn/praxis/services/tutor/datatypes"
)

const interactionClass = "TutorInteraction"

// GetTutorInteractionSchema returns the schema for archived teach exchanges.
//
// # Properties
//
//   - user_id: The student this exchange belongs to.
//   - summary: One-paragraph rendering of the question and answer.
//   - concepts: Space-joined detected concepts, word-tokenized so equality
//     filters match individual concept terms.
//   - strategy: The teaching approach used for the reply.
//   - timestamp: Unix milliseconds of the exchange.
func GetTutorInteractionSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       interactionClass,
		Description: "An archived teach exchange: what the student asked and how the tutor answered.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "user_id",
				DataType:        []string{"text"},
				Description:     "The unique ID of the student.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "summary",
				DataType:     []string{"text"},
				Description:  "A compact rendering of the question and the tutor's answer.",
				Tokenization: "word",
			},
			{
				Name:            "concepts",
				DataType:        []string{"text"},
				Description:     "Space-joined concepts detected in the exchange.",
				IndexFilterable: indexFilterable,
				Tokenization:    "word",
			},
			{
				Name:            "strategy",
				DataType:        []string{"text"},
				Description:     "Teaching approach used for the reply.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "timestamp",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds of the exchange.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// SemanticArchive is the cold tier: interaction summaries stored in Weaviate
// for cross-session recall. The whole tier is optional; deployments without
// a Weaviate endpoint simply never construct one.
type SemanticArchive struct {
	client *weaviate.Client
}

// NewSemanticArchive wraps an existing Weaviate client.
func NewSemanticArchive(client *weaviate.Client) *SemanticArchive {
	if client == nil {
		panic("memstore: weaviate client must not be nil")
	}
	return &SemanticArchive{client: client}
}

// EnsureSchema creates the TutorInteraction class if it does not exist yet.
func (a *SemanticArchive) EnsureSchema(ctx context.Context) error {
	class := GetTutorInteractionSchema()
	slog.Info("Checking schema", "class", class.Class)

	// The class getter errors when the class is absent; that is our cue
	// to create it.
	_, err := a.client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
	if err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}

	slog.Info("Schema not found, creating it...", "class", class.Class)
	if err := a.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create schema for class %s: %w", class.Class, err)
	}
	slog.Info("Successfully created schema", "class", class.Class)
	return nil
}

// ArchiveInteractions batch-writes interaction summaries for one user.
//
// # Description
//
// Object IDs derive from a hash of userID and the interaction ID, so
// re-archiving the same exchange overwrites rather than duplicates. Partial
// batch failures are logged and not returned as errors: archiving is a
// best-effort background concern and must never fail a teach request.
func (a *SemanticArchive) ArchiveInteractions(ctx context.Context, userID string, interactions []datatypes.LearningInteraction) error {
	if len(interactions) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(interactions))
	for i, interaction := range interactions {
		hash := sha256.Sum256([]byte(userID + "|" + interaction.ID))
		objUUID, _ := uuid.FromBytes(hash[:16])

		objects[i] = &models.Object{
			Class: interactionClass,
			ID:    strfmt.UUID(objUUID.String()),
			Properties: map[string]interface{}{
				"user_id":   userID,
				"summary":   interactionSummary(interaction),
				"concepts":  strings.Join(interaction.Concepts, " "),
				"strategy":  string(interaction.Strategy),
				"timestamp": interaction.Timestamp.UnixMilli(),
			},
		}
	}

	resp, err := a.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("archive interactions for user %s: %w", userID, err)
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "user_id", userID, "error", errItem.Message)
			}
		}
	}
	return nil
}

// SearchRelevant returns summaries of the user's past exchanges touching
// any of the given concepts, newest first.
//
// # Description
//
// Builds a filter of user_id AND (concept OR concept OR ...) over the
// word-tokenized concepts field, sorted by timestamp descending. With no
// concepts the user's most recent exchanges are returned instead, so the
// prompt builder always has something to recall.
func (a *SemanticArchive) SearchRelevant(ctx context.Context, userID string, concepts []string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}

	userFilter := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueText(userID)

	where := userFilter
	if len(concepts) > 0 {
		conceptFilters := make([]*filters.WhereBuilder, 0, len(concepts))
		for _, concept := range concepts {
			conceptFilters = append(conceptFilters, filters.Where().
				WithPath([]string{"concepts"}).
				WithOperator(filters.Equal).
				WithValueText(concept))
		}
		anyConcept := filters.Where().
			WithOperator(filters.Or).
			WithOperands(conceptFilters)

		where = filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{userFilter, anyConcept})
	}

	sortBy := graphql.Sort{
		Path:  []string{"timestamp"},
		Order: graphql.Desc,
	}
	fields := []graphql.Field{
		{Name: "summary"},
		{Name: "timestamp"},
	}

	result, err := a.client.GraphQL().Get().
		WithClassName(interactionClass).
		WithFields(fields...).
		WithWhere(where).
		WithSort(sortBy).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query failed: %w", err)
	}

	parsed, err := parseGraphQLResponse[interactionQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	summaries := make([]string, 0, len(parsed.Get.TutorInteraction))
	for _, r := range parsed.Get.TutorInteraction {
		if r.Summary != "" {
			summaries = append(summaries, r.Summary)
		}
	}
	return summaries, nil
}

// DeleteUser removes every archived exchange for a user.
func (a *SemanticArchive) DeleteUser(ctx context.Context, userID string) error {
	where := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueText(userID)

	resp, err := a.client.Batch().ObjectsBatchDeleter().
		WithClassName(interactionClass).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		return fmt.Errorf("batch delete failed for %s: %w", interactionClass, err)
	}
	if resp != nil && resp.Results != nil && resp.Results.Failed > 0 {
		slog.Warn("Some archived interactions could not be deleted",
			"user_id", userID, "failed", resp.Results.Failed)
	}
	return nil
}

// interactionSummary renders one archived line from an exchange.
func interactionSummary(interaction datatypes.LearningInteraction) string {
	question := truncate(interaction.Message, 240)
	answer := truncate(interaction.Response, 480)
	return fmt.Sprintf("Student asked: %s\nTutor (%s): %s", question, interaction.Strategy, answer)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// interactionQueryResponse matches the GraphQL response shape for
// TutorInteraction queries.
type interactionQueryResponse struct {
	Get struct {
		TutorInteraction []interactionResult `json:"TutorInteraction"`
	} `json:"Get"`
}

type interactionResult struct {
	Summary   string `json:"summary"`
	Timestamp int64  `json:"timestamp"`
}

// parseGraphQLResponse converts Weaviate's dynamic response into the typed
// shape T via a marshal/unmarshal round trip. Type mismatches produce zero
// values, not errors.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}
