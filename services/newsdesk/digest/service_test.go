// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Newswire/services/llm"
	"github.com/AleutianAI/Newswire/services/newsdesk/corpus"
	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
	"github.com/AleutianAI/Newswire/services/newsdesk/retrieval"
	"github.com/AleutianAI/Newswire/services/newsdesk/storage/badger"
)

const validSummaryResponse = `SUMMARY:
- 300MW campus announced in Abilene
- Phase one delivers in 2027

KEY_FACTS_JSON:
{"market_metro":"dfw","mw":300,"stage":"announced"}

SO_WHAT:
- Land near transmission is getting scarce`

// trackingClient counts concurrent Generate calls and fails on prompts
// containing the FAIL marker.
type trackingClient struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	calls       int
	response    string
}

func (c *trackingClient) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	c.mu.Lock()
	c.calls++
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	c.mu.Unlock()

	// Hold the slot long enough for the pool to saturate.
	time.Sleep(10 * time.Millisecond)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()

	if strings.Contains(prompt, "FAIL") {
		return "", errors.New("provider rejected request")
	}
	resp := c.response
	if resp == "" {
		resp = validSummaryResponse
	}
	return resp, nil
}

func (c *trackingClient) ChatStream(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams, callback llm.StreamCallback) error {
	return callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: "unused"})
}

var _ llm.LLMClient = (*trackingClient)(nil)

type fixedIndex struct {
	docs []datatypes.ScoredDocument
}

func (f *fixedIndex) Search(_ context.Context, _ string, _, _ int) ([]datatypes.ScoredDocument, error) {
	return f.docs, nil
}

func newTestService(t *testing.T, client llm.LLMClient, docs []datatypes.ScoredDocument) (*Service, *corpus.Store) {
	t.Helper()

	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := corpus.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gateway := retrieval.NewGateway(nil, &fixedIndex{docs: docs}, retrieval.DefaultGatewayConfig())
	return NewService(db, store, gateway, client, "test-model"), store
}

func ingestArticles(t *testing.T, store *corpus.Store, n, failing int) {
	t.Helper()
	for i := 0; i < n; i++ {
		content := fmt.Sprintf("Article body %d about data center capacity.", i)
		if i < failing {
			content += " FAIL"
		}
		_, created, err := store.Put(context.Background(), &datatypes.IngestArticleRequest{
			Title:   fmt.Sprintf("Story %d", i),
			Content: content,
			URL:     fmt.Sprintf("https://example.com/story-%d", i),
			Source:  "DCD",
		})
		require.NoError(t, err)
		require.True(t, created)
	}
}

func TestSummarizeAllPending_BoundedPoolSkipsFailures(t *testing.T) {
	client := &trackingClient{}
	svc, store := newTestService(t, client, nil)
	ingestArticles(t, store, 10, 3)

	done, failed, err := svc.SummarizeAllPending(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 7, done)
	assert.Equal(t, 3, failed)
	assert.LessOrEqual(t, client.maxInFlight, summaryWorkers)
	assert.Equal(t, 10, client.calls)

	// Failed articles stay pending for the next sweep.
	pending, err := store.PendingSummaries(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestSummarizeStory_CachedUnlessForced(t *testing.T) {
	client := &trackingClient{}
	svc, store := newTestService(t, client, nil)
	ingestArticles(t, store, 1, 0)

	articles, err := store.Recent(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	id := articles[0].ID

	first, cached, err := svc.SummarizeStory(context.Background(), id, false)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Contains(t, first.SummaryMarkdown, "300MW campus")
	assert.Equal(t, "dfw", first.KeyFacts["market_metro"])
	assert.Equal(t, "test-model", first.Model)

	_, cached, err = svc.SummarizeStory(context.Background(), id, false)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, 1, client.calls)

	_, cached, err = svc.SummarizeStory(context.Background(), id, true)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, client.calls)
}

func TestSummarizeStory_MissingArticle(t *testing.T) {
	svc, _ := newTestService(t, &trackingClient{}, nil)

	_, _, err := svc.SummarizeStory(context.Background(), 9999, false)
	assert.ErrorIs(t, err, corpus.ErrNotFound)
}

func digestDocs() []datatypes.ScoredDocument {
	now := time.Now()
	docs := make([]datatypes.ScoredDocument, 6)
	for i := range docs {
		published := now.Add(-time.Duration(i) * time.Hour)
		docs[i] = datatypes.ScoredDocument{
			Source: datatypes.Source{
				Title:         fmt.Sprintf("Digest story %d", i),
				URL:           fmt.Sprintf("https://example.com/digest-%d", i),
				Source:        "DCK",
				PublishedDate: &published,
			},
			Content: fmt.Sprintf("Body %d", i),
			Score:   1.0 - float64(i)*0.1,
		}
	}
	return docs
}

func TestDigest_GeneratedOnceThenCached(t *testing.T) {
	client := &trackingClient{response: "## Data Center Real Estate Digest (2026-08-29)\n### What changed\n- New campus [1]\n- Out of range claim [99]"}
	svc, _ := newTestService(t, client, digestDocs())

	first, err := svc.Digest(context.Background(), "2026-08-29", "Exec", 1)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-29", first.Date)
	assert.Contains(t, first.ContentMarkdown, "[1]")
	assert.NotContains(t, first.ContentMarkdown, "[99]")
	assert.Equal(t, 1, first.Meta.SourcesUsed)
	assert.NotEmpty(t, first.Sources)
	assert.Equal(t, 1, client.calls)

	second, err := svc.Digest(context.Background(), "2026-08-29", "Exec", 1)
	require.NoError(t, err)
	assert.Equal(t, first.ContentMarkdown, second.ContentMarkdown)
	assert.Equal(t, 1, client.calls)
}

func TestDigest_EmptyCorpus(t *testing.T) {
	client := &trackingClient{}
	svc, _ := newTestService(t, client, nil)

	digest, err := svc.Digest(context.Background(), "2026-08-29", "Exec", 1)
	require.NoError(t, err)
	assert.True(t, digest.Meta.CoverageThin)
	assert.Contains(t, digest.ContentMarkdown, "No recent articles")
	assert.Equal(t, 0, client.calls)
}

func TestDigest_InvalidDate(t *testing.T) {
	svc, _ := newTestService(t, &trackingClient{}, nil)

	_, err := svc.Digest(context.Background(), "yesterday", "Exec", 1)
	assert.Error(t, err)
}

func TestParseStorySummary(t *testing.T) {
	summaryMD, keyFacts, soWhat := parseStorySummary(validSummaryResponse)
	assert.Contains(t, summaryMD, "- 300MW campus announced in Abilene")
	assert.Contains(t, summaryMD, "- Phase one delivers in 2027")
	assert.Equal(t, "dfw", keyFacts["market_metro"])
	assert.Equal(t, float64(300), keyFacts["mw"])
	assert.Equal(t, "- Land near transmission is getting scarce", soWhat)
}

func TestParseStorySummary_NestedBraces(t *testing.T) {
	raw := "SUMMARY:\n- something happened\n\nKEY_FACTS_JSON:\n{\"developer\":{\"name\":\"QTS\"},\"mw\":100}\n\nSO_WHAT:\n- watch the market"
	_, keyFacts, _ := parseStorySummary(raw)
	require.NotNil(t, keyFacts)
	assert.Equal(t, float64(100), keyFacts["mw"])
	nested, ok := keyFacts["developer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "QTS", nested["name"])
}

func TestParseStorySummary_Malformed(t *testing.T) {
	summaryMD, keyFacts, soWhat := parseStorySummary("not the expected format at all")
	assert.Empty(t, summaryMD)
	assert.Nil(t, keyFacts)
	assert.Empty(t, soWhat)

	summaryMD, keyFacts, _ = parseStorySummary("SUMMARY:\n- ok\nKEY_FACTS_JSON:\n{broken json")
	assert.Equal(t, "- ok", summaryMD)
	assert.Nil(t, keyFacts)
}
