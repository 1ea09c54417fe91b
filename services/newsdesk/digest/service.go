// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package digest implements the daily briefing generator and the batch
// story summarizer.
//
// # Description
//
// A digest is a single batch run of the same pipeline the chat endpoints
// use: retrieval gateway, citation binder, answer generation. Digests are
// cached in Badger keyed by (date, audience, window); regeneration only
// happens on cache miss. Story summaries are per-article structured
// extractions, swept in a bounded worker pool.
package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/Newswire/services/llm"
	"github.com/AleutianAI/Newswire/services/newsdesk/citations"
	"github.com/AleutianAI/Newswire/services/newsdesk/corpus"
	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
	"github.com/AleutianAI/Newswire/services/newsdesk/observability"
	"github.com/AleutianAI/Newswire/services/newsdesk/retrieval"
	"github.com/AleutianAI/Newswire/services/newsdesk/storage/badger"
)

const (
	digestPrefix = "digest:"

	// digestMaxSources caps the digest source list. Wider than the chat cap
	// because a briefing spans multiple themes.
	digestMaxSources = 12

	// summaryWorkers bounds concurrent LLM calls during a batch sweep.
	summaryWorkers = 3

	// summaryContentCap limits article text sent for summarization.
	summaryContentCap = 14000

	// digestQuery seeds retrieval for a briefing; digests have no user
	// question to retrieve against.
	digestQuery = "data center real estate development leasing land power permitting colocation hyperscale"
)

var rawURLPattern = regexp.MustCompile(`https?://\S+`)

// Service generates digests and story summaries.
//
// # Thread Safety
//
// Safe for concurrent use.
type Service struct {
	db      *badger.DB
	corpus  *corpus.Store
	gateway *retrieval.Gateway
	binder  *citations.Binder
	client  llm.LLMClient
	model   string
}

// NewService creates a digest Service. model is recorded on generated
// summaries for provenance.
func NewService(db *badger.DB, store *corpus.Store, gateway *retrieval.Gateway, client llm.LLMClient, model string) *Service {
	return &Service{
		db:      db,
		corpus:  store,
		gateway: gateway,
		binder:  citations.NewBinder(digestMaxSources),
		client:  client,
		model:   model,
	}
}

func digestKey(date, audience string, windowDays int) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%d", digestPrefix, date, audience, windowDays))
}

// Digest returns the briefing for the given date, audience, and window,
// generating and caching it on first request.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - date: ISO date (YYYY-MM-DD). Empty means today (UTC).
//   - audience: Persona tag for framing.
//   - windowDays: Lookback window. Non-positive defaults to 1.
func (s *Service) Digest(ctx context.Context, date, audience string, windowDays int) (*datatypes.Digest, error) {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if audience == "" {
		audience = "Exec"
	}
	if windowDays <= 0 {
		windowDays = 1
	}

	if cached, err := s.cachedDigest(ctx, date, audience, windowDays); err == nil {
		return cached, nil
	} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, err
	}

	digest, err := s.generateDigest(ctx, date, audience, windowDays)
	if err != nil {
		return nil, err
	}

	if err := s.storeDigest(ctx, digest); err != nil {
		slog.Warn("failed to cache digest", "date", date, "audience", audience, "error", err)
	}
	return digest, nil
}

func (s *Service) cachedDigest(ctx context.Context, date, audience string, windowDays int) (*datatypes.Digest, error) {
	var digest datatypes.Digest
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(digestKey(date, audience, windowDays))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &digest)
		})
	})
	if err != nil {
		return nil, err
	}
	return &digest, nil
}

func (s *Service) storeDigest(ctx context.Context, digest *datatypes.Digest) error {
	data, err := json.Marshal(digest)
	if err != nil {
		return fmt.Errorf("marshal digest: %w", err)
	}
	return s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return txn.Set(digestKey(digest.Date, digest.Audience, digest.WindowDays), data)
	})
}

func (s *Service) generateDigest(ctx context.Context, date, audience string, windowDays int) (*datatypes.Digest, error) {
	res, err := s.gateway.Retrieve(ctx, digestQuery, windowDays)
	if err != nil {
		return nil, fmt.Errorf("digest retrieval: %w", err)
	}

	docs := s.binder.BindDocuments(res.Documents)
	sources := s.binder.Bind(res.Documents)

	digest := &datatypes.Digest{
		Date:        date,
		Audience:    audience,
		WindowDays:  res.WindowDaysUsed,
		Sources:     sources,
		GeneratedAt: time.Now().UTC(),
		Meta: datatypes.DigestMeta{
			TimeWindowDays: res.WindowDaysUsed,
			CoverageThin:   res.CoverageThin,
			WidenedToDays:  res.WidenedTo,
		},
	}

	if len(docs) == 0 {
		digest.ContentMarkdown = "No recent articles found for this window."
		digest.Meta.CoverageThin = true
		return digest, nil
	}

	raw, err := s.client.Generate(ctx, s.digestPrompt(date, audience, res, docs), s.digestParams())
	if err != nil {
		return nil, fmt.Errorf("digest generation: %w", err)
	}

	content := cleanDigestOutput(raw, len(sources))
	if content == "" {
		content = "No digest generated."
	}
	digest.ContentMarkdown = content
	digest.Meta.SourcesUsed = citations.MaxMarker(content, len(sources))
	return digest, nil
}

func (s *Service) digestPrompt(date, audience string, res *retrieval.Result, docs []datatypes.ScoredDocument) string {
	var sb strings.Builder
	sb.WriteString("You are a data center real estate analyst. Be direct and specific.\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Use ONLY the provided articles.\n")
	sb.WriteString("- Do NOT paste raw URLs in the body.\n")
	fmt.Fprintf(&sb, "- Every factual claim tied to an article must carry an inline citation like [1]; cite only 1 through %d.\n", len(docs))
	sb.WriteString("- If coverage is thin and the window was widened, say so under \"What changed\".\n")
	sb.WriteString("- Use only dash bullets. Do NOT include a Sources section.\n\n")
	fmt.Fprintf(&sb, "Output format exactly:\n## Data Center Real Estate Digest (%s)\n### What changed\n- bullet [n]\n\n### Themes\n- bullet [n]\n\n### Why it matters\n- bullet [n]\n\n### What to do next\n- bullet [n]\n\n", date)

	fmt.Fprintf(&sb, "Date: %s\nAudience: %s\nWindow days: %d\n", date, audience, res.WindowDaysUsed)
	if res.WidenedTo != nil {
		fmt.Fprintf(&sb, "Coverage note: coverage thin; window widened to %d days.\n", *res.WidenedTo)
	} else {
		sb.WriteString("Coverage note: coverage ok.\n")
	}

	sb.WriteString("\nAvailable articles (numbered for citations):\n\n")
	for i, doc := range docs {
		fmt.Fprintf(&sb, "[%d] %s (%s)\n", i+1, doc.Title, doc.Source.Source)
		content := doc.Content
		if len(content) > 1200 {
			content = content[:1200]
		}
		sb.WriteString(content)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func (s *Service) digestParams() llm.GenerationParams {
	temp := float32(0.3)
	maxTokens := 900
	return llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens}
}

// cleanDigestOutput strips raw URLs and out-of-range citation markers from
// the generated body.
func cleanDigestOutput(raw string, maxSources int) string {
	cleaned := rawURLPattern.ReplaceAllString(strings.TrimSpace(raw), "")
	cleaned = citations.StripOutOfRange(cleaned, maxSources)
	return strings.TrimSpace(cleaned)
}

// SummarizeStory produces a structured summary for one article.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - articleID: Corpus article id.
//   - force: Regenerate even when a summary exists.
//
// # Outputs
//
//   - *datatypes.StorySummary: The stored summary.
//   - bool: True when the cached summary was returned untouched.
//   - error: corpus.ErrNotFound when the article does not exist.
func (s *Service) SummarizeStory(ctx context.Context, articleID int64, force bool) (*datatypes.StorySummary, bool, error) {
	article, err := s.corpus.Get(ctx, articleID)
	if err != nil {
		return nil, false, err
	}

	if !force {
		if existing, err := s.corpus.GetSummary(ctx, articleID); err == nil {
			return existing, true, nil
		} else if !errors.Is(err, corpus.ErrNotFound) {
			return nil, false, err
		}
	}

	raw, err := s.client.Generate(ctx, summaryPrompt(article), summaryParams())
	if err != nil {
		return nil, false, fmt.Errorf("summarize article %d: %w", articleID, err)
	}

	summaryMD, keyFacts, soWhat := parseStorySummary(raw)
	if summaryMD == "" {
		return nil, false, fmt.Errorf("summarize article %d: empty summary", articleID)
	}

	summary := &datatypes.StorySummary{
		ArticleID:       articleID,
		SummaryMarkdown: summaryMD,
		KeyFacts:        keyFacts,
		SoWhat:          soWhat,
		Model:           s.model,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.corpus.PutSummary(ctx, summary); err != nil {
		return nil, false, fmt.Errorf("store summary for article %d: %w", articleID, err)
	}
	return summary, false, nil
}

func summaryPrompt(article *datatypes.Article) string {
	content := article.Content
	if len(content) > summaryContentCap {
		content = content[:summaryContentCap]
	}

	published := "unknown"
	if article.PublishedDate != nil {
		published = article.PublishedDate.Format("2006-01-02")
	}

	var sb strings.Builder
	sb.WriteString("You are an expert data center real estate analyst.\n")
	sb.WriteString("Write concise, grounded summaries for DC real estate decision makers.\n\n")
	sb.WriteString("Rules:\n- Use ONLY the provided article text.\n- Do NOT add facts that aren't in the text.\n- Output format exactly as specified.\n\n")
	fmt.Fprintf(&sb, "Title: %s\nSource: %s\nPublished: %s\n\nArticle text:\n%s\n\n", article.Title, article.Source, published, content)
	sb.WriteString("Output format exactly:\nSUMMARY:\n- bullet\n- bullet\n\nKEY_FACTS_JSON:\n")
	sb.WriteString(`{"market_metro":null,"address":null,"city":null,"state":null,"mw":null,"rack_kw":null,"capex":null,"sqft":null,"land_acres":null,"developer":null,"operator":null,"timeline":null,"permitting_status":null,"power_utility_iso":null,"stage":null}`)
	sb.WriteString("\n\nSO_WHAT:\n- bullet")
	return sb.String()
}

func summaryParams() llm.GenerationParams {
	temp := float32(0.2)
	maxTokens := 550
	return llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens}
}

// SummarizeAllPending sweeps articles without summaries through a bounded
// worker pool.
//
// # Description
//
// Every pending article is attempted; individual failures are logged and
// counted, never propagated, so one bad article cannot stall the sweep.
// At most summaryWorkers LLM calls run concurrently.
//
// # Inputs
//
//   - ctx: Context for cancellation. Cancelling stops scheduling new work.
//   - limit: Maximum number of articles to attempt. Non-positive means 50.
//
// # Outputs
//
//   - done: Articles summarized this sweep.
//   - failed: Articles that errored.
func (s *Service) SummarizeAllPending(ctx context.Context, limit int) (done, failed int, err error) {
	if limit <= 0 {
		limit = 50
	}

	pending, err := s.corpus.PendingSummaries(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("load pending summaries: %w", err)
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	var doneCount, failedCount atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryWorkers)
	for _, article := range pending {
		id := article.ID
		g.Go(func() error {
			_, _, serr := s.SummarizeStory(gctx, id, false)
			if serr != nil {
				failedCount.Add(1)
				slog.Warn("story summarization failed", "articleId", id, "error", serr)
				if m := observability.DefaultMetrics; m != nil {
					m.RecordSummary(false)
				}
				return nil
			}
			doneCount.Add(1)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordSummary(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("summary sweep complete",
		"attempted", len(pending),
		"done", doneCount.Load(),
		"failed", failedCount.Load(),
	)
	return int(doneCount.Load()), int(failedCount.Load()), nil
}
