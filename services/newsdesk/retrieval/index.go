// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval turns a user query into a ranked, time-windowed set of
// candidate articles for citation binding.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/AleutianAI/Newswire/services/newsdesk/citations"
	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
)

// SearchIndex is any ranked search over the article corpus.
type SearchIndex interface {
	// Search returns scored candidates for the query within the trailing
	// time window, best first.
	Search(ctx context.Context, query string, windowDays, limit int) ([]datatypes.ScoredDocument, error)
}

// WeaviateIndex is the primary index: hybrid BM25 + vector search over
// NewsArticle chunks.
type WeaviateIndex struct {
	client *weaviate.Client
	alpha  float32
}

// NewWeaviateIndex wraps a weaviate client as a SearchIndex.
func NewWeaviateIndex(client *weaviate.Client) *WeaviateIndex {
	return &WeaviateIndex{client: client, alpha: 0.5}
}

// newsArticleHit mirrors the GraphQL response shape for one chunk.
type newsArticleHit struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	PublishedAt string `json:"published_at"`
	Chunk       string `json:"chunk"`
	Additional  struct {
		Score string `json:"score"`
	} `json:"_additional"`
}

type newsArticleResponse struct {
	Get struct {
		NewsArticle []newsArticleHit `json:"NewsArticle"`
	} `json:"Get"`
}

// Search implements SearchIndex.
//
// Chunk hits are collapsed by canonical URL keeping the best-scoring chunk,
// so one long article cannot fill the whole candidate list.
func (w *WeaviateIndex) Search(ctx context.Context, query string, windowDays, limit int) ([]datatypes.ScoredDocument, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)
	where := filters.Where().
		WithPath([]string{"published_at"}).
		WithOperator(filters.GreaterThanEqual).
		WithValueDate(cutoff)

	hybrid := w.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query).
		WithAlpha(w.alpha)

	fields := []graphql.Field{
		{Name: "title"},
		{Name: "url"},
		{Name: "source"},
		{Name: "published_at"},
		{Name: "chunk"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "score"}}},
	}

	// Over-fetch chunks; URL collapse below shrinks the list.
	result, err := w.client.GraphQL().Get().
		WithClassName(datatypes.NewsArticleClass).
		WithHybrid(hybrid).
		WithWhere(where).
		WithLimit(limit * 3).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate hybrid query: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate hybrid query: %s", result.Errors[0].Message)
	}

	jsonBytes, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal weaviate response: %w", err)
	}
	var typed newsArticleResponse
	if err := json.Unmarshal(jsonBytes, &typed); err != nil {
		return nil, fmt.Errorf("parse weaviate response: %w", err)
	}

	docs := make([]datatypes.ScoredDocument, 0, limit)
	bestByURL := make(map[string]int)
	for _, hit := range typed.Get.NewsArticle {
		score, _ := strconv.ParseFloat(hit.Additional.Score, 64)
		doc := datatypes.ScoredDocument{
			Source: datatypes.Source{
				Title:  hit.Title,
				URL:    hit.URL,
				Source: hit.Source,
			},
			Content: hit.Chunk,
			Score:   score,
		}
		if ts, err := time.Parse(time.RFC3339, hit.PublishedAt); err == nil {
			doc.PublishedDate = &ts
		}

		key := citations.CanonicalURL(hit.URL)
		if idx, ok := bestByURL[key]; ok {
			if score > docs[idx].Score {
				docs[idx] = doc
			}
			continue
		}
		bestByURL[key] = len(docs)
		docs = append(docs, doc)
		if len(docs) == limit {
			break
		}
	}
	return docs, nil
}

var _ SearchIndex = (*WeaviateIndex)(nil)
