// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package citations freezes retrieval candidates into the numbered source
// list that grounds a generated answer.
//
// The bound list is the single authority for citation numbering: position i
// in the list (1-indexed) is what a [i] marker in the answer refers to. The
// list is produced once per turn, before generation starts, and is never
// reordered afterwards.
package citations

import (
	"net/url"
	"strings"

	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
)

// DefaultMaxSources caps the bound list for chat turns.
const DefaultMaxSources = 8

// BoundSourceList is an ordered, deduplicated, capped source list.
// Index i refers to citation marker [i+1].
type BoundSourceList []datatypes.Source

// Binder produces bound source lists from ranked retrieval output.
//
// # Thread Safety
//
// Binder is stateless and safe for concurrent use.
type Binder struct {
	maxSources int
}

// NewBinder creates a Binder capping lists at maxSources.
// Non-positive values fall back to DefaultMaxSources.
func NewBinder(maxSources int) *Binder {
	if maxSources <= 0 {
		maxSources = DefaultMaxSources
	}
	return &Binder{maxSources: maxSources}
}

// Bind freezes ranked candidates into a bound source list.
//
// # Description
//
// Deduplicates by canonical URL keeping the highest-ranked occurrence,
// preserves the incoming rank order, and truncates at the configured cap.
// An empty input yields an empty (non-nil) list so callers can always
// serialize "sources": [].
//
// # Inputs
//
//   - docs: Retrieval candidates, already ranked best-first.
//
// # Outputs
//
//   - BoundSourceList: The frozen citation space for this turn.
func (b *Binder) Bind(docs []datatypes.ScoredDocument) BoundSourceList {
	kept := b.BindDocuments(docs)
	bound := make(BoundSourceList, 0, len(kept))
	for _, doc := range kept {
		bound = append(bound, doc.Source)
	}
	return bound
}

// BindDocuments applies the same dedup and cap policy but keeps the full
// documents, for callers that need article content alongside the frozen
// list. Position i here corresponds to position i in Bind's output for the
// same input.
func (b *Binder) BindDocuments(docs []datatypes.ScoredDocument) []datatypes.ScoredDocument {
	kept := make([]datatypes.ScoredDocument, 0, b.maxSources)
	seen := make(map[string]bool, len(docs))

	for _, doc := range docs {
		key := CanonicalURL(doc.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, doc)
		if len(kept) == b.maxSources {
			break
		}
	}
	return kept
}

// CanonicalURL normalizes a URL for deduplication: lowercased scheme and
// host, fragment dropped, trailing slash stripped from the path.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(strings.TrimSpace(raw), "/"))
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}
