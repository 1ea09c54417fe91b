// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Newswire/services/newsdesk/corpus"
	"github.com/AleutianAI/Newswire/services/newsdesk/digest"
	"github.com/AleutianAI/Newswire/services/newsdesk/observability"
)

// digestTimeout bounds a full digest generation, which is a single large
// batch completion.
const digestTimeout = 180 * time.Second

// DigestHandler serves the digest and story summary endpoints.
type DigestHandler struct {
	service *digest.Service
	store   *corpus.Store
}

// NewDigestHandler creates a DigestHandler.
func NewDigestHandler(service *digest.Service, store *corpus.Store) *DigestHandler {
	return &DigestHandler{service: service, store: store}
}

// HandleGetDigest handles GET /v1/digest.
// Query params: date (YYYY-MM-DD, default today), audience, days.
func (d *DigestHandler) HandleGetDigest(c *gin.Context) {
	endpoint := observability.EndpointDigest

	ctx, cancel := context.WithTimeout(c.Request.Context(), digestTimeout)
	defer cancel()

	result, err := d.service.Digest(ctx, c.Query("date"), c.Query("audience"), intQuery(c, "days", 1))
	if err != nil {
		slog.Error("digest generation failed", "error", err)
		recordError(endpoint, observability.ErrorCodeLLMError)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, false)
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "digest generation failed"})
		return
	}

	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, true)
	}
	c.JSON(http.StatusOK, result)
}

// storyView is one entry in the stories list: article metadata plus its
// summary when one exists.
type storyView struct {
	ID            int64          `json:"id"`
	Title         string         `json:"title"`
	Source        string         `json:"source"`
	URL           string         `json:"url"`
	PublishedDate *time.Time     `json:"published_date"`
	SummaryMD     string         `json:"summary_md,omitempty"`
	KeyFacts      map[string]any `json:"key_facts,omitempty"`
	SoWhat        string         `json:"so_what,omitempty"`
}

// HandleListStories handles GET /v1/stories.
// Query params: days, market, topic, limit.
func (d *DigestHandler) HandleListStories(c *gin.Context) {
	ctx := c.Request.Context()

	articles, err := d.store.Filter(ctx, corpus.FilterOptions{
		WindowDays: intQuery(c, "days", 1),
		Market:     c.Query("market"),
		Topic:      c.Query("topic"),
		Limit:      minInt(intQuery(c, "limit", 30), 60),
	})
	if err != nil {
		slog.Error("failed to list stories", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list stories"})
		return
	}

	stories := make([]storyView, 0, len(articles))
	for _, a := range articles {
		view := storyView{
			ID:            a.ID,
			Title:         a.Title,
			Source:        a.Source,
			URL:           a.URL,
			PublishedDate: a.PublishedDate,
		}
		if a.HasSummary {
			if summary, err := d.store.GetSummary(ctx, a.ID); err == nil {
				view.SummaryMD = summary.SummaryMarkdown
				view.KeyFacts = summary.KeyFacts
				view.SoWhat = summary.SoWhat
			}
		}
		stories = append(stories, view)
	}

	c.JSON(http.StatusOK, gin.H{
		"stories": stories,
		"count":   len(stories),
	})
}

// HandleSummarizeStory handles POST /v1/stories/:id/summarize.
// Query param force=true regenerates an existing summary.
func (d *DigestHandler) HandleSummarizeStory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid story id"})
		return
	}
	force := c.Query("force") == "true"

	summary, cached, err := d.service.SummarizeStory(c.Request.Context(), id, force)
	switch {
	case errors.Is(err, corpus.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "story not found"})
		return
	case err != nil:
		slog.Error("story summarization failed", "articleId", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "summarization failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary": summary,
		"cached":  cached,
	})
}

// HandleSummarizeAll handles POST /v1/stories/summarize.
// Sweeps pending articles through the bounded summarization pool.
func (d *DigestHandler) HandleSummarizeAll(c *gin.Context) {
	done, failed, err := d.service.SummarizeAllPending(c.Request.Context(), intQuery(c, "limit", 50))
	if err != nil {
		slog.Error("summary sweep failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summary sweep failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"done":   done,
		"failed": failed,
	})
}

// HandleHealth handles GET /health.
func HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
