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

// Source is one citable news article reference.
type Source struct {
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	Source        string     `json:"source"`
	PublishedDate *time.Time `json:"published_date"`
}

// ScoredDocument is a retrieval candidate before citation binding.
type ScoredDocument struct {
	Source
	Content string  `json:"content,omitempty"`
	Score   float64 `json:"score"`
}
