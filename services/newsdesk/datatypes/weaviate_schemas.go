// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// NewsArticleClass is the weaviate class holding article chunks for
// retrieval. Chunk properties carry just enough to rank and join back to
// the canonical article in BadgerDB.
const NewsArticleClass = "NewsArticle"

func GetNewsArticleSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       NewsArticleClass,
		Description: "A chunk of a news article, embedded for hybrid retrieval.",
		Vectorizer:  "text2vec-transformers",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "chunk",
				DataType:     []string{"text"},
				Description:  "The chunk text used for embedding and BM25.",
				Tokenization: "word",
			},
			{
				Name:            "title",
				DataType:        []string{"text"},
				Description:     "Article headline.",
				Tokenization:    "word",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "url",
				DataType:        []string{"text"},
				Description:     "Canonical article URL, the join key to the corpus store.",
				Tokenization:    "field",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Publisher domain.",
				Tokenization:    "field",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "published_at",
				DataType:        []string{"date"},
				Description:     "Publication timestamp used for time-window filtering.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureNewsSchema creates the NewsArticle class if it does not exist.
func EnsureNewsSchema(ctx context.Context, client *weaviate.Client) error {
	exists, err := client.Schema().ClassExistenceChecker().
		WithClassName(NewsArticleClass).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("check %s class: %w", NewsArticleClass, err)
	}
	if exists {
		return nil
	}
	if err := client.Schema().ClassCreator().WithClass(GetNewsArticleSchema()).Do(ctx); err != nil {
		return fmt.Errorf("create %s class: %w", NewsArticleClass, err)
	}
	slog.Info("Created weaviate class", "class", NewsArticleClass)
	return nil
}
