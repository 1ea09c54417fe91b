// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"strings"

	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
)

const maxFollowups = 3

// topicFollowups maps a topic keyword found in the turn to a canned
// follow-up question. Cheap and deterministic; the client treats these as
// tappable suggestions, not model output.
var topicFollowups = []struct {
	keyword  string
	question string
}{
	{"power", "What power constraints were mentioned?"},
	{"cooling", "Any details on the cooling approach?"},
	{"hyperscale", "Which hyperscalers are involved?"},
	{"acquisition", "What were the deal terms?"},
	{"construction", "What is the construction timeline?"},
	{"permit", "What is the permitting status?"},
	{"capacity", "How much capacity (MW) is planned?"},
}

// quickRepliesByAudience is the default reply set attached to turn metadata
// when no topic keyword matched.
var quickRepliesByAudience = map[string][]string{
	"Exec":     {"Summarize the key takeaway", "What changed this week?"},
	"Investor": {"Who are the major players here?", "Any capital commitments disclosed?"},
	"Engineer": {"What are the technical specs?", "Any interconnection details?"},
}

// SuggestFollowups derives follow-up suggestions from the turn's query,
// answer, and bound sources. Deterministic for identical inputs.
func SuggestFollowups(query, answer string, sources []datatypes.Source) []string {
	haystack := strings.ToLower(query + " " + answer)
	for _, src := range sources {
		haystack += " " + strings.ToLower(src.Title)
	}

	var out []string
	for _, tf := range topicFollowups {
		if len(out) == maxFollowups {
			break
		}
		if strings.Contains(haystack, tf.keyword) {
			out = append(out, tf.question)
		}
	}
	return out
}

// QuickReplies returns the audience's default reply chips. Unknown audiences
// get the Exec set.
func QuickReplies(audience string) []string {
	replies, ok := quickRepliesByAudience[audience]
	if !ok {
		replies = quickRepliesByAudience["Exec"]
	}
	out := make([]string, len(replies))
	copy(out, replies)
	return out
}
