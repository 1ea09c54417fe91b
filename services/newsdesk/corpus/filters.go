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
	"strings"

	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
)

// marketTerms maps short market keys to the phrases that identify coverage
// of that metro in article text.
var marketTerms = map[string][]string{
	"dfw":     {"dfw", "dallas", "fort worth", "dallas-fort worth", "north texas", "texas"},
	"nova":    {"northern virginia", "n. virginia", "no. virginia", "loudoun", "ashburn", "sterling", "virginia"},
	"phoenix": {"phoenix", "mesa", "tempe", "arizona", "az"},
	"atlanta": {"atlanta", "georgia", "ga"},
	"chicago": {"chicago", "illinois", "il"},
	"ohio":    {"ohio", "columbus", "new albany"},
	"ny":      {"new york", "nj", "new jersey", "northern new jersey"},
}

// topicTerms maps topic keys to their identifying phrases.
var topicTerms = map[string][]string{
	"power":      {"power", "grid", "substation", "interconnect", "utility"},
	"cooling":    {"cooling", "liquid", "immersion", "direct-to-chip", "chiller"},
	"permitting": {"permit", "zoning", "entitlement", "moratorium"},
	"land":       {"land", "acre", "site", "parcel"},
	"colocation": {"colocation", "colo", "multi-tenant"},
	"hyperscale": {"hyperscale", "hyperscaler", "campus"},
}

// termsFor resolves a filter key against a term map. Unknown keys match
// themselves literally, so callers can filter on arbitrary phrases.
func termsFor(mapping map[string][]string, key string) []string {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return nil
	}
	if terms, ok := mapping[key]; ok {
		return terms
	}
	return []string{key}
}

// matchesAny reports whether the article's title or content contains any of
// the given phrases, case-insensitively.
func matchesAny(a *datatypes.Article, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	title := strings.ToLower(a.Title)
	content := strings.ToLower(a.Content)
	for _, term := range terms {
		if strings.Contains(title, term) || strings.Contains(content, term) {
			return true
		}
	}
	return false
}
