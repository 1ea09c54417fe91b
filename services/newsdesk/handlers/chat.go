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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
	"github.com/AleutianAI/Newswire/services/newsdesk/observability"
)

// HandleChat handles POST /v1/chat.
//
// # Description
//
// Synchronous variant of the streaming endpoint: same turn pipeline, same
// done payload, returned as a plain JSON body. Used by clients that cannot
// consume SSE and by the evaluation harness.
func (h *ChatHandler) HandleChat(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChat

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChat")
	defer span.End()

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	var req datatypes.ChatRequest
	if err := c.BindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request body")
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	turn, status, err := h.prepareTurn(ctx, &req)
	if err != nil {
		span.RecordError(err)
		recordError(endpoint, errorCodeForStatus(status))
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	defer turn.finish()

	genCtx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	answer, err := h.answers.Answer(genCtx, turn.query, turn.audience, turn.docs, turn.history)
	if err != nil {
		slog.Error("chat generation failed",
			"conversationId", turn.convID,
			"error", err,
		)
		span.RecordError(err)
		recordError(endpoint, observability.ErrorCodeLLMError)
		c.JSON(http.StatusBadGateway, gin.H{"error": sanitizeErrorForClient(err)})
		return
	}

	result := h.finalizeTurn(turn, answer)
	if perr := h.persistTurn(turn, &result); perr != nil {
		slog.Error("failed to persist chat turn",
			"conversationId", result.ConversationID,
			"error", perr,
		)
		recordError(endpoint, observability.ErrorCodePersistence)
		result.Error = true
		result.ErrorMessage = "answer could not be saved to the conversation"
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRetrieval(turn.retrieval.WidenedTo != nil, turn.retrieval.Degraded)
	}

	success = !result.Error
	c.JSON(http.StatusOK, result)
}
