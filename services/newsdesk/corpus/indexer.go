// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corpus

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
)

const (
	chunkSize    = 1000
	chunkOverlap = 150
)

// Indexer writes article chunks into the vector index.
//
// # Description
//
// Articles are stored whole in the Badger corpus; the vector index holds
// derived chunks for hybrid search. Chunk object IDs are derived from the
// article URL and chunk position, so re-ingesting the same article
// overwrites its chunks instead of duplicating them.
//
// # Thread Safety
//
// Safe for concurrent use.
type Indexer struct {
	client   *weaviate.Client
	splitter textsplitter.TextSplitter
}

// NewIndexer creates an Indexer on the given weaviate client.
func NewIndexer(client *weaviate.Client) *Indexer {
	return &Indexer{
		client: client,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
	}
}

// IndexArticle splits the article and batch-imports its chunks.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - article: The stored article. Content must be non-empty.
//
// # Outputs
//
//   - int: Number of chunks successfully imported.
//   - error: Non-nil if splitting or the batch import failed outright.
//     Per-chunk failures are logged and reflected in the count instead.
func (ix *Indexer) IndexArticle(ctx context.Context, article *datatypes.Article) (int, error) {
	chunks, err := ix.splitter.SplitText(article.Content)
	if err != nil {
		return 0, fmt.Errorf("split article content: %w", err)
	}
	if len(chunks) == 0 {
		slog.Warn("no chunks produced for article", "url", article.URL)
		return 0, nil
	}

	publishedAt := article.ScrapedDate
	if article.PublishedDate != nil {
		publishedAt = *article.PublishedDate
	}

	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		// Deterministic chunk identity: same article position always maps to
		// the same object, making re-ingestion idempotent.
		hash := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", article.URL, i)))
		chunkUUID, _ := uuid.FromBytes(hash[:16])

		objects[i] = &models.Object{
			Class: datatypes.NewsArticleClass,
			ID:    strfmt.UUID(chunkUUID.String()),
			Properties: map[string]interface{}{
				"chunk":        chunk,
				"title":        article.Title,
				"url":          article.URL,
				"source":       article.Source,
				"published_at": publishedAt.Format(time.RFC3339),
			},
		}
	}

	resp, err := ix.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch import article chunks: %w", err)
	}

	imported := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			imported++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("weaviate batch item failed", "url", article.URL, "error", errItem.Message)
			}
		}
	}

	if imported < len(chunks) {
		slog.Warn("partial chunk import",
			"url", article.URL,
			"imported", imported,
			"chunks", len(chunks),
		)
	}
	return imported, nil
}
