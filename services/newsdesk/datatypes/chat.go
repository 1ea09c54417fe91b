// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// maxQueryBytes limits user queries to prevent abuse and context overflow.
const maxQueryBytes = 8192

var validAudiences = map[string]bool{
	"Exec":     true,
	"Investor": true,
	"Engineer": true,
}

var chatValidator *validator.Validate

func init() {
	chatValidator = validator.New()

	// maxbytes validates byte length rather than rune count, so multi-byte
	// payloads cannot slip past a character-based limit.
	_ = chatValidator.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= maxQueryBytes
	})
}

// ChatRequest is the request body for both chat endpoints.
//
// # Description
//
// A ChatRequest carries one user turn. When ConversationID is nil a new
// conversation is created and its ID is returned in the done payload.
// When Regenerate is true the most recent assistant message of the
// conversation is replaced; Query may be empty in that case, in which case
// the prior user message is answered again.
//
// # Fields
//
//   - Query: The user's question. Required unless Regenerate is set.
//   - Audience: Answer framing persona. Defaults to "Exec".
//   - ConversationID: Optional existing conversation to continue.
//   - Regenerate: Replace the last assistant message instead of appending.
//
// # Limitations
//
//   - Query is capped at 8 KiB.
//
// # Assumptions
//
//   - ConversationID, when set, was issued by this service.
type ChatRequest struct {
	Query          string  `json:"query" binding:"omitempty" validate:"maxbytes"`
	Audience       string  `json:"audience"`
	ConversationID *string `json:"conversation_id"`
	Regenerate     bool    `json:"regenerate"`
}

// EnsureDefaults normalizes optional fields in place.
func (r *ChatRequest) EnsureDefaults() {
	if r.Audience == "" || !validAudiences[r.Audience] {
		r.Audience = "Exec"
	}
}

// Validate checks structural validity before any retrieval or generation work.
func (r *ChatRequest) Validate() error {
	if r.Query == "" && !r.Regenerate {
		return fmt.Errorf("query must not be empty")
	}
	if err := chatValidator.Struct(r); err != nil {
		return fmt.Errorf("chat request validation: %w", err)
	}
	return nil
}

// TurnMeta describes how the answer for one turn was grounded.
//
// Serialized inside the done payload as "meta" and persisted alongside the
// assistant message.
type TurnMeta struct {
	TimeWindowDays int      `json:"time_window_days"`
	CoverageThin   bool     `json:"coverage_thin"`
	WidenedToDays  *int     `json:"widened_to_days,omitempty"`
	SourcesUsed    int      `json:"sources_used"`
	DegradedSearch bool     `json:"degraded_search,omitempty"`
	QuickReplies   []string `json:"quick_replies,omitempty"`
}

// ChatResult is the terminal payload of a chat turn.
//
// For the streaming endpoint it is the data of the single done event; the
// batch endpoint returns it directly as the response body.
type ChatResult struct {
	FinalText          string   `json:"final_text"`
	Sources            []Source `json:"sources"`
	ConversationID     string   `json:"conversation_id"`
	MessageID          int64    `json:"message_id"`
	Meta               TurnMeta `json:"meta"`
	SuggestedFollowups []string `json:"suggested_followups,omitempty"`
	Error              bool     `json:"error,omitempty"`
	ErrorMessage       string   `json:"error_message,omitempty"`
}

// TokenEvent is the data of one SSE token event. Text holds only the newly
// generated delta, never the accumulated answer.
type TokenEvent struct {
	Text string `json:"text"`
}

// FeedbackRequest records a thumbs rating on an assistant message.
type FeedbackRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	MessageID      int64  `json:"message_id" binding:"required"`
	Rating         string `json:"rating" binding:"required"`
}

// Validate checks the rating is one of the accepted values.
func (r *FeedbackRequest) Validate() error {
	switch r.Rating {
	case "up", "down", "none":
		return nil
	}
	return fmt.Errorf("rating must be one of up, down, none")
}
