// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package citations

import (
	"fmt"
	"testing"

	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(title, url string, score float64) datatypes.ScoredDocument {
	return datatypes.ScoredDocument{
		Source: datatypes.Source{Title: title, URL: url, Source: "example.com"},
		Score:  score,
	}
}

// TestBinder_Bind_PreservesRankOrder verifies that binding never reorders
// the ranked input.
func TestBinder_Bind_PreservesRankOrder(t *testing.T) {
	t.Parallel()

	b := NewBinder(8)
	docs := []datatypes.ScoredDocument{
		doc("first", "https://example.com/a", 0.9),
		doc("second", "https://example.com/b", 0.8),
		doc("third", "https://example.com/c", 0.7),
	}

	bound := b.Bind(docs)

	require.Len(t, bound, 3)
	assert.Equal(t, "first", bound[0].Title)
	assert.Equal(t, "second", bound[1].Title)
	assert.Equal(t, "third", bound[2].Title)
}

// TestBinder_Bind_DeduplicatesByCanonicalURL verifies that URL variants of
// the same article collapse to the highest-ranked occurrence.
func TestBinder_Bind_DeduplicatesByCanonicalURL(t *testing.T) {
	t.Parallel()

	b := NewBinder(8)
	docs := []datatypes.ScoredDocument{
		doc("best rank", "https://Example.com/story/", 0.9),
		doc("duplicate", "https://example.com/story#section", 0.8),
		doc("another", "https://example.com/other", 0.7),
	}

	bound := b.Bind(docs)

	require.Len(t, bound, 2)
	assert.Equal(t, "best rank", bound[0].Title)
	assert.Equal(t, "another", bound[1].Title)
}

// TestBinder_Bind_CapsListLength verifies truncation at the configured cap.
func TestBinder_Bind_CapsListLength(t *testing.T) {
	t.Parallel()

	b := NewBinder(8)
	var docs []datatypes.ScoredDocument
	for i := 0; i < 20; i++ {
		docs = append(docs, doc("t", fmt.Sprintf("https://example.com/%d", i), 1.0-float64(i)*0.01))
	}

	bound := b.Bind(docs)

	assert.Len(t, bound, 8)
	assert.Equal(t, "https://example.com/0", bound[0].URL)
}

func TestBinder_Bind_EmptyInput(t *testing.T) {
	t.Parallel()

	bound := NewBinder(8).Bind(nil)

	require.NotNil(t, bound)
	assert.Empty(t, bound)
}

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
	}{
		{"trailing slash", "https://example.com/x/", "https://example.com/x"},
		{"fragment", "https://example.com/x#top", "https://example.com/x"},
		{"host case", "https://EXAMPLE.com/x", "https://example.com/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, CanonicalURL(tt.b), CanonicalURL(tt.a))
		})
	}
}

// TestStripOutOfRange_MarkerValidity verifies the citation invariant: after
// stripping, every surviving [k] satisfies 1 <= k <= n, and valid markers
// keep their original positional meaning.
func TestStripOutOfRange_MarkerValidity(t *testing.T) {
	t.Parallel()

	text := "Dallas lease signed [1], capacity doubled [3] per filings [9]. See [0]."
	out := StripOutOfRange(text, 3)

	for _, k := range Markers(out) {
		assert.GreaterOrEqual(t, k, 1)
		assert.LessOrEqual(t, k, 3)
	}
	assert.Contains(t, out, "[1]")
	assert.Contains(t, out, "[3]")
	assert.NotContains(t, out, "[9]")
	assert.NotContains(t, out, "[0]")
}

func TestStripOutOfRange_NoSources(t *testing.T) {
	t.Parallel()

	out := StripOutOfRange("claim [1] and claim [2]", 0)
	assert.Empty(t, Markers(out))
}

func TestMaxMarker(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, MaxMarker("a [1] b [3] c [12]", 8))
	assert.Equal(t, 0, MaxMarker("no citations here", 8))
	assert.Equal(t, 2, MaxMarker("[2] only", 2))
}
