// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Newswire/services/llm"
	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
)

// captureClient records the message list it was called with and replays a
// scripted token sequence.
type captureClient struct {
	tokens   []string
	err      error
	messages []datatypes.Message
}

func (c *captureClient) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	c.messages = []datatypes.Message{{Role: datatypes.RoleUser, Content: prompt}}
	if c.err != nil {
		return "", c.err
	}
	return strings.Join(c.tokens, ""), nil
}

func (c *captureClient) ChatStream(_ context.Context, messages []datatypes.Message, _ llm.GenerationParams, callback llm.StreamCallback) error {
	c.messages = messages
	for _, tok := range c.tokens {
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: tok}); err != nil {
			return err
		}
	}
	if c.err != nil {
		if cbErr := callback(llm.StreamEvent{Type: llm.StreamEventError, Error: c.err}); cbErr != nil {
			return cbErr
		}
		return c.err
	}
	return nil
}

var _ llm.LLMClient = (*captureClient)(nil)

func testSources() []datatypes.ScoredDocument {
	return []datatypes.ScoredDocument{
		{
			Source:  datatypes.Source{Title: "Hyperscale campus breaks ground", URL: "https://example.com/a", Source: "DCD"},
			Content: "A 300MW hyperscale campus broke ground in Abilene.",
			Score:   0.9,
		},
		{
			Source:  datatypes.Source{Title: "Cooling retrofit announced", URL: "https://example.com/b", Source: "DCK"},
			Content: "Operator announces liquid cooling retrofit.",
			Score:   0.7,
		},
	}
}

func TestAnswerService_PromptNumbersSourcesAndBoundsCitations(t *testing.T) {
	client := &captureClient{tokens: []string{"ok"}}
	svc := NewAnswerService(client)

	_, err := svc.Answer(context.Background(), "what broke ground?", "Exec", testSources(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, client.messages)

	system := client.messages[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "1 through 2")

	user := client.messages[len(client.messages)-1]
	assert.Equal(t, datatypes.RoleUser, user.Role)
	assert.Contains(t, user.Content, "[Source 1] Hyperscale campus breaks ground")
	assert.Contains(t, user.Content, "[Source 2] Cooling retrofit announced")
	assert.Contains(t, user.Content, "Question: what broke ground?")
}

func TestAnswerService_NoSourcesPromptForbidsCitations(t *testing.T) {
	client := &captureClient{tokens: []string{"nothing found"}}
	svc := NewAnswerService(client)

	_, err := svc.Answer(context.Background(), "anything new?", "Exec", nil, nil)
	require.NoError(t, err)

	system := client.messages[0]
	assert.Contains(t, system.Content, "do not fabricate citations")
	assert.NotContains(t, client.messages[len(client.messages)-1].Content, "[Source 1]")
}

func TestAnswerService_HistoryCappedAtTwentyMessages(t *testing.T) {
	client := &captureClient{tokens: []string{"ok"}}
	svc := NewAnswerService(client)

	history := make([]datatypes.Message, 0, 30)
	for i := 0; i < 30; i++ {
		role := datatypes.RoleUser
		if i%2 == 1 {
			role = datatypes.RoleAssistant
		}
		history = append(history, datatypes.Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}

	_, err := svc.Answer(context.Background(), "next", "Exec", nil, history)
	require.NoError(t, err)

	// system + 20 history + current user
	require.Len(t, client.messages, 22)
	assert.Equal(t, "turn 10", client.messages[1].Content)
	assert.Equal(t, "turn 29", client.messages[20].Content)
}

func TestAnswerService_UnknownAudienceFallsBackToExec(t *testing.T) {
	client := &captureClient{tokens: []string{"ok"}}
	svc := NewAnswerService(client)

	_, err := svc.Answer(context.Background(), "q", "Wizard", nil, nil)
	require.NoError(t, err)
	assert.Contains(t, client.messages[0].Content, "busy executive")
}

func TestAnswerService_StreamPropagatesCallbackError(t *testing.T) {
	client := &captureClient{tokens: []string{"a", "b", "c"}}
	svc := NewAnswerService(client)

	abort := errors.New("client went away")
	var seen int
	err := svc.Stream(context.Background(), "q", "Exec", nil, nil, func(ev llm.StreamEvent) error {
		seen++
		if seen == 2 {
			return abort
		}
		return nil
	})
	assert.ErrorIs(t, err, abort)
	assert.Equal(t, 2, seen)
}

func TestAnswerService_StreamSurfacesProviderError(t *testing.T) {
	boom := errors.New("provider down")
	client := &captureClient{tokens: []string{"partial"}, err: boom}
	svc := NewAnswerService(client)

	var gotErrEvent bool
	err := svc.Stream(context.Background(), "q", "Exec", nil, nil, func(ev llm.StreamEvent) error {
		if ev.Type == llm.StreamEventError {
			gotErrEvent = true
			assert.ErrorIs(t, ev.Error, boom)
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, gotErrEvent)
}

func TestSuggestFollowups_Deterministic(t *testing.T) {
	sources := []datatypes.Source{{Title: "Hyperscale power deal"}}
	a := SuggestFollowups("construction update", "permits filed for the campus", sources)
	b := SuggestFollowups("construction update", "permits filed for the campus", sources)
	assert.Equal(t, a, b)
	assert.LessOrEqual(t, len(a), maxFollowups)
	assert.Contains(t, a, "What is the construction timeline?")
}

func TestQuickReplies_AudienceSets(t *testing.T) {
	assert.NotEmpty(t, QuickReplies("Investor"))
	assert.Equal(t, QuickReplies("Exec"), QuickReplies("Unknown"))
}
