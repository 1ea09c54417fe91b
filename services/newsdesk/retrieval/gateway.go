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
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Newswire/services/newsdesk/citations"
	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
)

// GatewayConfig tunes the widening and degradation policy.
type GatewayConfig struct {
	// SufficiencyThreshold is the candidate count below which the window
	// widens.
	SufficiencyThreshold int

	// MaxWindowDays caps widening.
	MaxWindowDays int

	// MaxWidenAttempts bounds extra searches per turn.
	MaxWidenAttempts int

	// CandidateLimit is how many candidates each search requests.
	CandidateLimit int

	// SearchTimeout bounds one index call. On expiry the gateway degrades
	// to the fallback index rather than failing the turn.
	SearchTimeout time.Duration
}

// DefaultGatewayConfig returns the production policy.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		SufficiencyThreshold: 5,
		MaxWindowDays:        30,
		MaxWidenAttempts:     5,
		CandidateLimit:       24,
		SearchTimeout:        10 * time.Second,
	}
}

// Result is the outcome of one retrieval pass.
type Result struct {
	Documents      []datatypes.ScoredDocument
	WindowDaysUsed int
	CoverageThin   bool
	WidenedTo      *int
	Degraded       bool
}

// Gateway runs windowed retrieval with coverage widening and keyword
// fallback.
//
// # Description
//
// The gateway searches the primary index within the requested window. When
// the window yields fewer than SufficiencyThreshold unique articles, it
// doubles the window (capped at MaxWindowDays) and retries, reporting the
// widening in the result instead of silently answering from thin coverage.
// A primary index failure switches the turn to the fallback index and marks
// the result degraded; retrieval itself never fails a turn.
//
// # Thread Safety
//
// Safe for concurrent use; all state is read-only after construction.
type Gateway struct {
	primary  SearchIndex
	fallback SearchIndex
	cfg      GatewayConfig
	tracer   trace.Tracer
}

// NewGateway creates a Gateway. primary may be nil (lightweight mode), in
// which case every search runs on the fallback index in degraded mode.
// fallback must not be nil.
func NewGateway(primary, fallback SearchIndex, cfg GatewayConfig) *Gateway {
	if fallback == nil {
		panic("NewGateway: fallback index must not be nil")
	}
	if cfg.SufficiencyThreshold <= 0 {
		cfg = DefaultGatewayConfig()
	}
	return &Gateway{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		tracer:   otel.Tracer("aleutian.newsdesk.retrieval"),
	}
}

// Retrieve runs the full retrieval policy for one query.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - query: The user's query text.
//   - windowDays: Requested trailing window. Clamped to 1..MaxWindowDays.
//
// # Outputs
//
//   - *Result: Always non-nil. Documents may be empty; that is thin
//     coverage, not an error.
func (g *Gateway) Retrieve(ctx context.Context, query string, windowDays int) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "Gateway.Retrieve")
	defer span.End()

	window := clampWindow(windowDays, g.cfg.MaxWindowDays)
	requested := window
	span.SetAttributes(attribute.Int("retrieval.window_days", window))

	res := &Result{WindowDaysUsed: window}

	docs, degraded := g.search(ctx, query, window)
	res.Degraded = degraded

	attempts := 0
	for len(docs) < g.cfg.SufficiencyThreshold && window < g.cfg.MaxWindowDays && attempts < g.cfg.MaxWidenAttempts {
		window = clampWindow(window*2, g.cfg.MaxWindowDays)
		attempts++

		wider, d := g.search(ctx, query, window)
		res.Degraded = res.Degraded || d
		// A wider window is a superset; keep the larger result.
		if len(wider) >= len(docs) {
			docs = wider
		}
	}

	if window != requested {
		w := window
		res.WidenedTo = &w
		res.CoverageThin = true
	}
	if len(docs) < g.cfg.SufficiencyThreshold {
		res.CoverageThin = true
	}

	res.Documents = orderDeterministic(docs)
	res.WindowDaysUsed = window
	span.SetAttributes(
		attribute.Int("retrieval.window_days_used", window),
		attribute.Int("retrieval.candidates", len(res.Documents)),
		attribute.Bool("retrieval.coverage_thin", res.CoverageThin),
		attribute.Bool("retrieval.degraded", res.Degraded),
	)
	return res, nil
}

// search runs one window against the primary index, degrading to the
// fallback on error. The returned bool reports degraded mode.
func (g *Gateway) search(ctx context.Context, query string, windowDays int) ([]datatypes.ScoredDocument, bool) {
	if g.primary != nil {
		searchCtx, cancel := context.WithTimeout(ctx, g.cfg.SearchTimeout)
		docs, err := g.primary.Search(searchCtx, query, windowDays, g.cfg.CandidateLimit)
		cancel()
		if err == nil {
			return docs, false
		}
		if ctx.Err() != nil {
			return nil, false
		}
		slog.Warn("primary index failed, degrading to keyword search",
			"window_days", windowDays,
			"error", err,
		)
	}

	docs, err := g.fallback.Search(ctx, query, windowDays, g.cfg.CandidateLimit)
	if err != nil {
		slog.Error("fallback index failed, returning empty candidates",
			"window_days", windowDays,
			"error", err,
		)
		return nil, true
	}
	return docs, true
}

// orderDeterministic fixes the candidate order: score descending, then
// published date descending with undated items last, then original order.
// Identical corpus and query must yield an identical citation space.
func orderDeterministic(docs []datatypes.ScoredDocument) []datatypes.ScoredDocument {
	deduped := make([]datatypes.ScoredDocument, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		key := citations.CanonicalURL(d.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, d)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		if deduped[i].Score != deduped[j].Score {
			return deduped[i].Score > deduped[j].Score
		}
		di, dj := deduped[i].PublishedDate, deduped[j].PublishedDate
		switch {
		case di == nil && dj == nil:
			return false
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.After(*dj)
		}
	})
	return deduped
}

func clampWindow(days, maxDays int) int {
	if days < 1 {
		return 1
	}
	if days > maxDays {
		return maxDays
	}
	return days
}
