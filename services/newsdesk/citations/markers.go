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
	"regexp"
	"strconv"
)

var markerPattern = regexp.MustCompile(`\[(\d{1,3})\]`)

// Markers returns every [k] citation marker index found in text, in order
// of appearance. Duplicates are kept.
func Markers(text string) []int {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]int, 0, len(matches))
	for _, m := range matches {
		k, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, k)
	}
	return out
}

// StripOutOfRange removes [k] markers where k is outside 1..n. Models
// occasionally invent citation numbers beyond the list they were given;
// those markers are dropped rather than surfaced as dead references.
func StripOutOfRange(text string, n int) string {
	return markerPattern.ReplaceAllStringFunc(text, func(m string) string {
		k, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || k < 1 || k > n {
			return ""
		}
		return m
	})
}

// MaxMarker returns the highest valid citation index used in text, bounded
// by n. Returns 0 when the text cites nothing.
func MaxMarker(text string, n int) int {
	maxSeen := 0
	for _, k := range Markers(text) {
		if k >= 1 && k <= n && k > maxSeen {
			maxSeen = k
		}
	}
	return maxSeen
}
