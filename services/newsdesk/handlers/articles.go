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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Newswire/services/newsdesk/conversation"
	"github.com/AleutianAI/Newswire/services/newsdesk/corpus"
	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
)

// ArticleHandler serves article ingestion, listing, and corpus stats.
//
// Ingestion is the boundary with the external scraper: articles arrive as
// plain JSON, are stored whole in the corpus, and have their chunks pushed
// to the vector index when one is configured.
type ArticleHandler struct {
	store         *corpus.Store
	indexer       *corpus.Indexer // nil in lightweight mode
	conversations *conversation.Store
}

// NewArticleHandler creates an ArticleHandler. indexer may be nil; articles
// are then searchable through the keyword fallback only.
func NewArticleHandler(store *corpus.Store, indexer *corpus.Indexer, conversations *conversation.Store) *ArticleHandler {
	return &ArticleHandler{
		store:         store,
		indexer:       indexer,
		conversations: conversations,
	}
}

// HandleIngestArticle handles POST /v1/articles.
//
// # Description
//
// Stores the article (idempotent by URL) and indexes its chunks. A duplicate
// URL returns the existing article with created=false and skips indexing.
func (a *ArticleHandler) HandleIngestArticle(c *gin.Context) {
	var req datatypes.IngestArticleRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	article, created, err := a.store.Put(c.Request.Context(), &req)
	if err != nil {
		slog.Error("failed to store article", "url", req.URL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store article"})
		return
	}

	chunks := 0
	if created && a.indexer != nil {
		chunks, err = a.indexer.IndexArticle(c.Request.Context(), article)
		if err != nil {
			// The article is durably stored; indexing can be retried by
			// re-posting. Degrade rather than fail the ingest.
			slog.Error("failed to index article chunks", "url", article.URL, "error", err)
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"article": article,
		"created": created,
		"chunks":  chunks,
	})
}

// HandleGetArticle handles GET /v1/articles/:id.
//
// Returns the full article record, with its story summary attached when one
// has been generated.
func (a *ArticleHandler) HandleGetArticle(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid article id"})
		return
	}

	article, err := a.store.Get(c.Request.Context(), id)
	if errors.Is(err, corpus.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}
	if err != nil {
		slog.Error("failed to load article", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load article"})
		return
	}

	resp := gin.H{"article": article}
	if article.HasSummary {
		summary, err := a.store.GetSummary(c.Request.Context(), id)
		if err != nil {
			slog.Warn("failed to load article summary", "id", id, "error", err)
		} else {
			resp["summary"] = summary
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleListArticles handles GET /v1/articles.
// Query params: days, market, topic, limit.
func (a *ArticleHandler) HandleListArticles(c *gin.Context) {
	opts := corpus.FilterOptions{
		WindowDays: intQuery(c, "days", 7),
		Market:     c.Query("market"),
		Topic:      c.Query("topic"),
		Limit:      intQuery(c, "limit", 50),
	}

	articles, err := a.store.Filter(c.Request.Context(), opts)
	if err != nil {
		slog.Error("failed to list articles", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list articles"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"articles": articles,
		"count":    len(articles),
	})
}

// HandleStats handles GET /v1/stats.
func (a *ArticleHandler) HandleStats(c *gin.Context) {
	stats, err := a.store.Stats(c.Request.Context())
	if err != nil {
		slog.Error("failed to compute corpus stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	if a.conversations != nil {
		count, err := a.conversations.Count(c.Request.Context())
		if err != nil {
			slog.Warn("failed to count conversations for stats", "error", err)
		} else {
			stats.Conversations = count
		}
	}
	c.JSON(http.StatusOK, stats)
}

// intQuery reads an integer query parameter with a default.
func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
