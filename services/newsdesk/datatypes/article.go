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
	"fmt"
	"time"
)

// Article is one scraped news item. Articles arrive from external scrapers
// via the ingest endpoint; this service never fetches pages itself.
type Article struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	URL           string     `json:"url"`
	Source        string     `json:"source"`
	SourceType    string     `json:"source_type"`
	Author        string     `json:"author,omitempty"`
	Tags          string     `json:"tags,omitempty"`
	PublishedDate *time.Time `json:"published_date"`
	ScrapedDate   time.Time  `json:"scraped_date"`
	HasSummary    bool       `json:"has_summary"`
}

// IngestArticleRequest is the body of POST /v1/articles.
type IngestArticleRequest struct {
	Title         string     `json:"title" binding:"required"`
	Content       string     `json:"content" binding:"required"`
	URL           string     `json:"url" binding:"required"`
	Source        string     `json:"source" binding:"required"`
	SourceType    string     `json:"source_type"`
	Author        string     `json:"author"`
	Tags          string     `json:"tags"`
	PublishedDate *time.Time `json:"published_date"`
}

// Validate rejects requests the store cannot key or window correctly.
func (r *IngestArticleRequest) Validate() error {
	if len(r.URL) > 2048 {
		return fmt.Errorf("url exceeds 2048 bytes")
	}
	if len(r.Content) == 0 {
		return fmt.Errorf("content must not be empty")
	}
	return nil
}

// CorpusStats is the payload of GET /v1/stats.
type CorpusStats struct {
	TotalArticles  int            `json:"total_articles"`
	RecentArticles int            `json:"recent_articles_24h"`
	WithSummary    int            `json:"articles_with_summary"`
	BySource       map[string]int `json:"by_source"`
	Conversations  int            `json:"conversations"`
}
