// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package digest

import (
	"encoding/json"
	"strings"
)

const (
	summaryLabel  = "SUMMARY:"
	keyFactsLabel = "KEY_FACTS_JSON:"
	soWhatLabel   = "SO_WHAT:"
)

// parseStorySummary extracts the labeled sections from a raw summarization
// response.
//
// # Description
//
// The model is instructed to answer with three labeled sections: SUMMARY
// bullets, a KEY_FACTS_JSON object, and SO_WHAT bullets. Parsing is
// tolerant: missing or malformed sections yield empty results rather than
// errors, since a partially usable summary still beats none.
//
// # Outputs
//
//   - summaryMD: Markdown bullets from SUMMARY.
//   - keyFacts: Decoded KEY_FACTS_JSON map, or nil.
//   - soWhat: Markdown bullets from SO_WHAT.
func parseStorySummary(raw string) (summaryMD string, keyFacts map[string]any, soWhat string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", nil, ""
	}

	summaryMD = joinBullets(extractSection(text, summaryLabel, keyFactsLabel))
	soWhat = joinBullets(extractSection(text, soWhatLabel, ""))
	keyFacts = extractJSONBlock(text)
	return summaryMD, keyFacts, soWhat
}

// extractSection returns trimmed non-empty lines between startLabel and
// endLabel (or the end of the text when endLabel is empty or absent).
func extractSection(text, startLabel, endLabel string) []string {
	start := strings.Index(text, startLabel)
	if start < 0 {
		return nil
	}
	section := text[start+len(startLabel):]
	if endLabel != "" {
		if end := strings.Index(section, endLabel); end >= 0 {
			section = section[:end]
		}
	}

	var lines []string
	for _, ln := range strings.Split(strings.TrimSpace(section), "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			lines = append(lines, ln)
		}
	}
	return lines
}

// joinBullets keeps only dash bullets from the section. When a section has
// content but no bullets, its first line is promoted to one.
func joinBullets(lines []string) string {
	var bullets []string
	for _, ln := range lines {
		if strings.HasPrefix(ln, "- ") {
			bullets = append(bullets, ln)
		}
	}
	if len(bullets) == 0 && len(lines) > 0 {
		bullets = []string{"- " + strings.TrimLeft(lines[0], "- ")}
	}
	return strings.Join(bullets, "\n")
}

// extractJSONBlock finds the first balanced JSON object after the
// KEY_FACTS_JSON label. Brace matching instead of line splitting, because
// models freely reformat the object across lines.
func extractJSONBlock(text string) map[string]any {
	idx := strings.Index(text, keyFactsLabel)
	if idx < 0 {
		return nil
	}
	payload := text[idx+len(keyFactsLabel):]
	start := strings.IndexByte(payload, '{')
	if start < 0 {
		return nil
	}

	depth := 0
	end := -1
	for i := start; i < len(payload); i++ {
		switch payload[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i + 1
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return nil
	}

	var facts map[string]any
	if err := json.Unmarshal([]byte(payload[start:end]), &facts); err != nil {
		return nil
	}
	return facts
}
