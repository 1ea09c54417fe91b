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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Newswire/services/newsdesk/conversation"
	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
)

// HandleListConversations handles GET /v1/conversations.
// Returns summaries ordered by most recent activity.
func (h *ChatHandler) HandleListConversations(c *gin.Context) {
	summaries, err := h.conversations.List(c.Request.Context())
	if err != nil {
		slog.Error("failed to list conversations", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// HandleGetConversation handles GET /v1/conversations/:id.
// Returns the conversation metadata and its messages in append order.
func (h *ChatHandler) HandleGetConversation(c *gin.Context) {
	id := c.Param("id")

	conv, messages, err := h.conversations.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	case err != nil:
		slog.Error("failed to load conversation", "conversationId", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"messages":     messages,
	})
}

// HandleFeedback handles POST /v1/feedback.
// Records a thumbs rating on an assistant message.
func (h *ChatHandler) HandleFeedback(c *gin.Context) {
	var req datatypes.FeedbackRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.conversations.SetFeedback(c.Request.Context(), req.ConversationID, req.MessageID, req.Rating)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation or message not found"})
		return
	case errors.Is(err, conversation.ErrNotAssistantMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "feedback applies to assistant messages only"})
		return
	case err != nil:
		slog.Error("failed to record feedback",
			"conversationId", req.ConversationID,
			"messageId", req.MessageID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record feedback"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}
