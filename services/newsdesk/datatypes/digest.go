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

import "time"

// DigestMeta mirrors TurnMeta for the digest surface.
type DigestMeta struct {
	TimeWindowDays int  `json:"time_window_days"`
	CoverageThin   bool `json:"coverage_thin"`
	WidenedToDays  *int `json:"widened_to_days,omitempty"`
	SourcesUsed    int  `json:"sources_used"`
}

// Digest is a cached daily briefing for one audience and window.
type Digest struct {
	Date            string     `json:"date"`
	Audience        string     `json:"audience"`
	WindowDays      int        `json:"window_days"`
	ContentMarkdown string     `json:"content_markdown"`
	Sources         []Source   `json:"sources"`
	Meta            DigestMeta `json:"meta"`
	GeneratedAt     time.Time  `json:"generated_at"`
}

// StorySummary is a structured single-article summary.
//
// KeyFacts holds whatever subset of the fact schema the model could extract;
// absent fields are simply missing from the map.
type StorySummary struct {
	ArticleID       int64          `json:"article_id"`
	SummaryMarkdown string         `json:"summary_markdown"`
	KeyFacts        map[string]any `json:"key_facts,omitempty"`
	SoWhat          string         `json:"so_what,omitempty"`
	Model           string         `json:"model"`
	CreatedAt       time.Time      `json:"created_at"`
}
