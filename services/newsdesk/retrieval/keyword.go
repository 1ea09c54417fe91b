// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/Newswire/services/newsdesk/corpus"
	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
)

// Keyword match weights. Title hits dominate because headlines compress the
// story better than body prose.
const (
	titleWordScore   = 3.0
	contentWordScore = 1.0
)

// keywordScanLimit bounds how many recent articles one fallback query scans.
const keywordScanLimit = 500

// KeywordIndex is the degraded-mode index: plain word matching over the
// BadgerDB corpus. It serves whenever the vector index is unreachable so a
// broken search backend degrades answers instead of failing turns.
type KeywordIndex struct {
	store *corpus.Store
}

// NewKeywordIndex wraps the corpus store as a SearchIndex.
func NewKeywordIndex(store *corpus.Store) *KeywordIndex {
	return &KeywordIndex{store: store}
}

// Search implements SearchIndex.
func (k *KeywordIndex) Search(ctx context.Context, query string, windowDays, limit int) ([]datatypes.ScoredDocument, error) {
	articles, err := k.store.Recent(ctx, windowDays, keywordScanLimit)
	if err != nil {
		return nil, fmt.Errorf("keyword scan: %w", err)
	}

	words := queryWords(query)
	if len(words) == 0 {
		return nil, nil
	}

	var docs []datatypes.ScoredDocument
	for i := range articles {
		a := &articles[i]
		score := scoreArticle(a, words)
		if score <= 0 {
			continue
		}
		docs = append(docs, datatypes.ScoredDocument{
			Source: datatypes.Source{
				Title:         a.Title,
				URL:           a.URL,
				Source:        a.Source,
				PublishedDate: a.PublishedDate,
			},
			Content: a.Content,
			Score:   score,
		})
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func queryWords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	words := fields[:0]
	for _, w := range fields {
		w = strings.Trim(w, `.,!?"'()[]`)
		if len(w) > 2 {
			words = append(words, w)
		}
	}
	return words
}

func scoreArticle(a *datatypes.Article, words []string) float64 {
	title := strings.ToLower(a.Title)
	content := strings.ToLower(a.Content)
	score := 0.0
	for _, w := range words {
		if strings.Contains(title, w) {
			score += titleWordScore
		}
		if strings.Contains(content, w) {
			score += contentWordScore
		}
	}
	return score
}

var _ SearchIndex = (*KeywordIndex)(nil)
