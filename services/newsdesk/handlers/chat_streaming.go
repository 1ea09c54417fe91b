// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP and SSE surface of the newsdesk
// service.
//
// # Description
//
// The streaming chat handler drives one turn through the session states
// Idle, Retrieving, Generating, Finalizing, Done, with a Cancelled edge out
// of every state:
//
//   - Retrieving: retrieval gateway + citation binder. No client-visible
//     events are written in this state; the bound source list is frozen
//     before the first token so markers always index into it.
//   - Generating: one SSE token event per generated delta, with a keepalive
//     heartbeat goroutine running alongside.
//   - Finalizing: strip out-of-range markers, compute metadata, persist the
//     turn, emit exactly one done event.
//
// Client cancellation stops generation, persists nothing, and emits no done
// event. A generation failure emits a terminal done event with error=true
// and persists nothing.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Newswire/services/llm"
	"github.com/AleutianAI/Newswire/services/newsdesk/citations"
	"github.com/AleutianAI/Newswire/services/newsdesk/conversation"
	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
	"github.com/AleutianAI/Newswire/services/newsdesk/observability"
	"github.com/AleutianAI/Newswire/services/newsdesk/retrieval"
	"github.com/AleutianAI/Newswire/services/newsdesk/services"
)

const (
	// heartbeatInterval is the interval for sending keepalive pings.
	// Set to 15s to stay well under typical LB timeouts (60s for ALB/Nginx).
	heartbeatInterval = 15 * time.Second

	// generationTimeout bounds one LLM generation end to end.
	generationTimeout = 120 * time.Second

	// persistAttempts bounds turn persistence retries before the client is
	// told the turn may not be saved.
	persistAttempts = 3

	// persistTimeout bounds the detached persistence context. Persistence
	// must not inherit the request context: the turn is already complete and
	// should survive the client going away between the last token and the
	// done event.
	persistTimeout = 10 * time.Second
)

// ChatHandler serves the chat endpoints: SSE streaming, synchronous batch,
// conversation listing, and feedback.
type ChatHandler struct {
	gateway       *retrieval.Gateway
	binder        *citations.Binder
	answers       *services.AnswerService
	conversations *conversation.Store
	windowDays    int
	tracer        trace.Tracer
}

// NewChatHandler creates a ChatHandler.
//
// # Inputs
//
//   - gateway: Retrieval gateway. Required.
//   - answers: Answer generation service. Required.
//   - conversations: Conversation store. Required.
//   - windowDays: Default retrieval window for a turn, in days.
func NewChatHandler(
	gateway *retrieval.Gateway,
	answers *services.AnswerService,
	conversations *conversation.Store,
	windowDays int,
) *ChatHandler {
	if windowDays <= 0 {
		windowDays = 7
	}
	return &ChatHandler{
		gateway:       gateway,
		binder:        citations.NewBinder(citations.DefaultMaxSources),
		answers:       answers,
		conversations: conversations,
		windowDays:    windowDays,
		tracer:        otel.Tracer("aleutian.newsdesk.handlers.chat"),
	}
}

// turnContext carries the per-request state assembled before generation.
type turnContext struct {
	query      string
	audience   string
	convID     string // empty until a conversation exists
	regenerate bool
	history    []datatypes.Message
	retrieval  *retrieval.Result
	docs       []datatypes.ScoredDocument // bound order, index i == marker [i+1]
	sources    citations.BoundSourceList

	// release frees the conversation's turn lock. Regenerate turns hold it
	// from truncation through the final append so a concurrent turn cannot
	// land in between; plain turns acquire it at persist time.
	release func()
}

// finish releases the turn lock if held. Safe to call more than once.
func (t *turnContext) finish() {
	if t.release != nil {
		t.release()
		t.release = nil
	}
}

// HandleChatStream handles POST /v1/chat/stream.
//
// # Description
//
// Runs the full streaming turn: validate, resolve regenerate, retrieve,
// bind, stream tokens over SSE, finalize and persist, emit the done event.
// Validation failures return plain JSON errors before any SSE output.
func (h *ChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	// Step 1: Parse and validate. No side effects before this passes.
	var req datatypes.ChatRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(
		attribute.String("chat.audience", req.Audience),
		attribute.Bool("chat.regenerate", req.Regenerate),
	)

	// Steps 2-3: Regenerate resolution, history load, retrieval, binding.
	turn, status, err := h.prepareTurn(ctx, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn preparation failed")
		recordError(endpoint, errorCodeForStatus(status))
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	defer turn.finish()

	// Step 4: Switch to SSE. From here errors go over the stream.
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		recordError(endpoint, observability.ErrorCodeInternal)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, writer, endpoint, heartbeatDone)
	defer close(heartbeatDone)

	// Step 5: Generate, one token event per delta.
	genCtx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	var tokenCount int32
	var firstTokenAt time.Time
	var answer string
	answer, err = h.streamAnswer(genCtx, turn, writer, &tokenCount, &firstTokenAt)

	if !firstTokenAt.IsZero() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, firstTokenAt.Sub(startTime).Seconds())
		}
	}

	if err != nil {
		// Client cancellation: no done event, nothing persisted.
		if c.Request.Context().Err() != nil {
			slog.Info("chat stream cancelled by client",
				"conversationId", turn.convID,
				"tokens", atomic.LoadInt32(&tokenCount),
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordClientDisconnect(endpoint)
			}
			recordError(endpoint, observability.ErrorCodeClientDisconnect)
			return
		}

		slog.Error("chat generation failed",
			"conversationId", turn.convID,
			"error", err,
			"tokens", atomic.LoadInt32(&tokenCount),
		)
		span.RecordError(err)
		code := observability.ErrorCodeLLMError
		if errors.Is(err, context.DeadlineExceeded) {
			code = observability.ErrorCodeTimeout
		}
		recordError(endpoint, code)
		_ = writer.WriteDone(datatypes.ChatResult{
			Sources:      turn.sources,
			Error:        true,
			ErrorMessage: sanitizeErrorForClient(err),
			Meta:         h.turnMeta(turn, 0),
		})
		return
	}

	// Step 6: Finalize and persist, then exactly one done event.
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

	if err := writer.WriteDone(result); err != nil {
		slog.Debug("failed to write done event", "error", err)
		return
	}
	span.SetAttributes(
		attribute.Int("chat.sources_bound", len(turn.sources)),
		attribute.Int("chat.sources_used", result.Meta.SourcesUsed),
		attribute.Int("chat.tokens", int(atomic.LoadInt32(&tokenCount))),
	)
	success = !result.Error
}

// prepareTurn resolves regenerate semantics, loads history, retrieves, and
// freezes the bound source list. Returns an HTTP status code with any error.
func (h *ChatHandler) prepareTurn(ctx context.Context, req *datatypes.ChatRequest) (*turnContext, int, error) {
	ctx, span := h.tracer.Start(ctx, "ChatHandler.prepareTurn")
	defer span.End()

	turn := &turnContext{
		query:      req.Query,
		audience:   req.Audience,
		regenerate: req.Regenerate,
	}
	if req.ConversationID != nil {
		turn.convID = *req.ConversationID
	}
	fail := func(status int, err error) (*turnContext, int, error) {
		turn.finish()
		return nil, status, err
	}

	// Regenerate: the whole turn (truncate, generate, append) is one
	// critical section on the conversation, so a concurrent user message
	// cannot slot itself between the dropped answer and its replacement.
	// The lock is taken here and released by the caller after persistence.
	if req.Regenerate {
		if turn.convID == "" {
			return fail(http.StatusBadRequest, errors.New("regenerate requires conversation_id"))
		}
		turn.release = h.conversations.LockTurn(turn.convID)
		prior, err := h.conversations.TruncateLastAssistantTurn(ctx, turn.convID)
		switch {
		case errors.Is(err, conversation.ErrNotFound):
			return fail(http.StatusNotFound, errors.New("conversation not found"))
		case errors.Is(err, conversation.ErrNoAssistantMessage):
			return fail(http.StatusBadRequest, errors.New("conversation has no assistant message to regenerate"))
		case err != nil:
			return fail(http.StatusInternalServerError, err)
		}
		if turn.query == "" && prior != nil {
			turn.query = prior.Content
		}
		if turn.query == "" {
			return fail(http.StatusBadRequest, errors.New("no query to regenerate"))
		}
	}

	if turn.convID != "" {
		_, history, err := h.conversations.Get(ctx, turn.convID)
		switch {
		case errors.Is(err, conversation.ErrNotFound):
			return fail(http.StatusNotFound, errors.New("conversation not found"))
		case err != nil:
			return fail(http.StatusInternalServerError, err)
		}
		// On regenerate the trailing user message is the one being answered
		// again; keep it out of the replayed history so the prompt does not
		// carry the question twice.
		if turn.regenerate && len(history) > 0 {
			last := history[len(history)-1]
			if last.Role == datatypes.RoleUser && last.Content == turn.query {
				history = history[:len(history)-1]
			}
		}
		turn.history = history
	}

	res, err := h.gateway.Retrieve(ctx, turn.query, h.windowDays)
	if err != nil {
		return fail(http.StatusBadGateway, errors.New("retrieval unavailable"))
	}
	turn.retrieval = res
	turn.docs = h.binder.BindDocuments(res.Documents)
	turn.sources = h.binder.Bind(res.Documents)
	span.SetAttributes(
		attribute.Int("retrieval.candidates", len(res.Documents)),
		attribute.Int("retrieval.bound", len(turn.sources)),
	)
	return turn, http.StatusOK, nil
}

// streamAnswer runs generation, forwarding each token to the SSE writer and
// accumulating the full text for finalization.
func (h *ChatHandler) streamAnswer(
	ctx context.Context,
	turn *turnContext,
	writer SSEWriter,
	tokenCount *int32,
	firstTokenAt *time.Time,
) (string, error) {
	var answer []byte

	callback := func(event llm.StreamEvent) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch event.Type {
		case llm.StreamEventToken:
			if firstTokenAt.IsZero() {
				*firstTokenAt = time.Now()
			}
			atomic.AddInt32(tokenCount, 1)
			answer = append(answer, event.Content...)
			return writer.WriteToken(event.Content)
		case llm.StreamEventError:
			return event.Error
		}
		return nil
	}

	err := h.answers.Stream(ctx, turn.query, turn.audience, turn.docs, turn.history, callback)
	if err != nil {
		return "", err
	}
	return string(answer), nil
}

// finalizeTurn turns the raw generated text into the done payload: markers
// outside the bound list are stripped, sources_used is the highest citation
// index that survived, and follow-up suggestions are derived.
func (h *ChatHandler) finalizeTurn(turn *turnContext, answer string) datatypes.ChatResult {
	n := len(turn.sources)
	finalText := citations.StripOutOfRange(answer, n)
	sourcesUsed := citations.MaxMarker(finalText, n)

	return datatypes.ChatResult{
		FinalText:          finalText,
		Sources:            turn.sources,
		ConversationID:     turn.convID,
		Meta:               h.turnMeta(turn, sourcesUsed),
		SuggestedFollowups: services.SuggestFollowups(turn.query, finalText, turn.sources),
	}
}

func (h *ChatHandler) turnMeta(turn *turnContext, sourcesUsed int) datatypes.TurnMeta {
	meta := datatypes.TurnMeta{
		TimeWindowDays: h.windowDays,
		SourcesUsed:    sourcesUsed,
		QuickReplies:   services.QuickReplies(turn.audience),
	}
	if turn.retrieval != nil {
		meta.TimeWindowDays = turn.retrieval.WindowDaysUsed
		meta.CoverageThin = turn.retrieval.CoverageThin
		meta.WidenedToDays = turn.retrieval.WidenedTo
		meta.DegradedSearch = turn.retrieval.Degraded
	}
	return meta
}

// persistTurn writes the turn exactly once, creating the conversation when
// the request carried no id. Runs on a detached context so a client that
// disconnected after the last token does not lose the turn, retrying up to
// persistAttempts times. On success it fills ConversationID and MessageID
// on the result.
func (h *ChatHandler) persistTurn(turn *turnContext, result *datatypes.ChatResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if turn.convID == "" {
		conv, err := h.conversations.Create(ctx)
		if err != nil {
			return err
		}
		turn.convID = conv.ID
	} else if turn.release == nil {
		// A plain turn on an existing conversation queues behind any
		// in-flight regenerate rather than interleaving with it. A fresh
		// conversation cannot contend; its id is not known to anyone else.
		turn.release = h.conversations.LockTurn(turn.convID)
	}
	result.ConversationID = turn.convID

	meta := result.Meta
	messages := make([]datatypes.Message, 0, 2)
	if !turn.regenerate {
		messages = append(messages, datatypes.Message{
			Role:    datatypes.RoleUser,
			Content: turn.query,
		})
	}
	messages = append(messages, datatypes.Message{
		Role:    datatypes.RoleAssistant,
		Content: result.FinalText,
		Sources: result.Sources,
		Meta:    &meta,
	})

	var lastErr error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		appended, err := h.conversations.AppendTurn(ctx, turn.convID, messages...)
		if err == nil {
			result.MessageID = appended[len(appended)-1].ID
			return nil
		}
		lastErr = err
		slog.Warn("persist attempt failed",
			"conversationId", turn.convID,
			"attempt", attempt,
			"error", err,
		)
	}
	return lastErr
}

// runHeartbeat writes keepalive comments until the stream finishes or the
// client goes away.
func (h *ChatHandler) runHeartbeat(
	ctx context.Context,
	writer SSEWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

// sanitizeErrorForClient maps internal failures to a generic client message.
// Full detail stays in the server logs.
func sanitizeErrorForClient(err error) string {
	slog.Debug("sanitizing error for client", "error", err)
	if errors.Is(err, context.DeadlineExceeded) {
		return "the answer took too long to generate"
	}
	return "an error occurred while generating the answer"
}

func recordError(endpoint observability.Endpoint, code observability.ErrorCode) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, code)
	}
}

func errorCodeForStatus(status int) observability.ErrorCode {
	switch {
	case status == http.StatusBadGateway:
		return observability.ErrorCodeRetrieval
	case status >= 500:
		return observability.ErrorCodeInternal
	default:
		return observability.ErrorCodeValidation
	}
}
