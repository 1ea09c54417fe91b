// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services holds the answer generation layer: prompt assembly over a
// frozen source list, with streaming and batch entry points.
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/Newswire/services/llm"
	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
)

const (
	// maxHistoryTurns limits how many prior messages are replayed into the
	// model context on a follow-up turn.
	maxHistoryTurns = 20

	// maxSourceContentChars caps how much of each article body goes into the
	// prompt. Articles are stored whole; the prompt only needs enough for
	// grounding.
	maxSourceContentChars = 2000

	defaultTemperature = 0.7
	defaultMaxTokens   = 1024
)

// audiencePersonas maps an audience tag to the persona line injected into the
// system prompt. Keys must stay aligned with datatypes.ChatRequest validation.
var audiencePersonas = map[string]string{
	"Exec":     "Write for a busy executive: lead with the bottom line, keep it short, and flag business impact.",
	"Investor": "Write for an investor: emphasize deal terms, capacity figures, capital flows, and market positioning.",
	"Engineer": "Write for an infrastructure engineer: include technical specifics such as MW capacity, cooling approach, and interconnection details.",
}

// AnswerService turns a query plus a bound source list into a grounded
// answer. The source list must already be deduplicated, capped, and frozen;
// the service instructs the model to cite only indices that exist in it.
type AnswerService struct {
	client llm.LLMClient
}

// NewAnswerService creates an AnswerService backed by the given client.
func NewAnswerService(client llm.LLMClient) *AnswerService {
	return &AnswerService{client: client}
}

// Stream generates the answer as a token stream, invoking callback for each
// event. The callback's error, if any, is returned unchanged so callers can
// distinguish their own abort conditions from transport failures.
//
// # Inputs
//
//   - ctx: request-scoped context. Cancellation stops the stream.
//   - query: the user question for this turn.
//   - audience: persona tag. Unknown tags fall back to the Exec persona.
//   - sources: the frozen, 1-indexed source list for this turn.
//   - history: prior conversation messages, oldest first. Capped internally.
//   - callback: receives token and error events in order.
//
// # Outputs
//
//   - error: nil on a complete stream.
func (s *AnswerService) Stream(
	ctx context.Context,
	query string,
	audience string,
	sources []datatypes.ScoredDocument,
	history []datatypes.Message,
	callback llm.StreamCallback,
) error {
	messages := s.buildMessages(query, audience, sources, history)
	return s.client.ChatStream(ctx, messages, s.params(), callback)
}

// Answer generates the answer as a single string. Same prompt as Stream.
func (s *AnswerService) Answer(
	ctx context.Context,
	query string,
	audience string,
	sources []datatypes.ScoredDocument,
	history []datatypes.Message,
) (string, error) {
	var sb strings.Builder
	err := s.Stream(ctx, query, audience, sources, history, func(ev llm.StreamEvent) error {
		switch ev.Type {
		case llm.StreamEventToken:
			sb.WriteString(ev.Content)
		case llm.StreamEventError:
			return ev.Error
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (s *AnswerService) params() llm.GenerationParams {
	temp := float32(defaultTemperature)
	maxTokens := defaultMaxTokens
	return llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}
}

func (s *AnswerService) buildMessages(
	query string,
	audience string,
	sources []datatypes.ScoredDocument,
	history []datatypes.Message,
) []datatypes.Message {
	messages := make([]datatypes.Message, 0, len(history)+2)
	messages = append(messages, datatypes.Message{
		Role:    "system",
		Content: systemPrompt(audience, len(sources)),
	})

	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	for _, m := range history {
		if m.Role != datatypes.RoleUser && m.Role != datatypes.RoleAssistant {
			continue
		}
		messages = append(messages, datatypes.Message{Role: m.Role, Content: m.Content})
	}

	messages = append(messages, datatypes.Message{
		Role:    datatypes.RoleUser,
		Content: userPrompt(query, sources),
	})
	return messages
}

func systemPrompt(audience string, sourceCount int) string {
	persona, ok := audiencePersonas[audience]
	if !ok {
		persona = audiencePersonas["Exec"]
	}

	var sb strings.Builder
	sb.WriteString("You are an expert data center industry analyst and news assistant.\n\n")
	sb.WriteString(persona)
	sb.WriteString("\n\nRules:\n")
	sb.WriteString("1. Answer only from the numbered sources provided. Be specific with facts, figures, and dates.\n")
	if sourceCount > 0 {
		fmt.Fprintf(&sb, "2. Cite sources inline with bracketed numbers, e.g. [1] or [2]. Only cite indices 1 through %d; never invent a citation.\n", sourceCount)
	} else {
		sb.WriteString("2. No sources matched this question. Say so plainly and do not fabricate citations.\n")
	}
	sb.WriteString("3. If the sources do not fully answer the question, say what is missing and share what is available.\n")
	sb.WriteString("4. Use industry terminology appropriately (PUE, colocation, hyperscale, interconnection).\n")
	sb.WriteString("\nKeep responses informative but concise. Prefer the most recent information.")
	return sb.String()
}

func userPrompt(query string, sources []datatypes.ScoredDocument) string {
	var sb strings.Builder
	if len(sources) > 0 {
		sb.WriteString("Available sources:\n\n")
		for i, doc := range sources {
			fmt.Fprintf(&sb, "[Source %d] %s (%s", i+1, doc.Title, doc.Source.Source)
			if doc.PublishedDate != nil {
				fmt.Fprintf(&sb, ", %s", doc.PublishedDate.Format("2006-01-02"))
			}
			sb.WriteString(")\n")
			sb.WriteString(truncateContent(doc.Content, maxSourceContentChars))
			sb.WriteString("\n\n")
		}
	}
	fmt.Fprintf(&sb, "Question: %s", query)
	return sb.String()
}

// truncateContent cuts at a rune boundary so a multi-byte character is never
// split mid-sequence.
func truncateContent(content string, limit int) string {
	if len(content) <= limit {
		return content
	}
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "…"
}
