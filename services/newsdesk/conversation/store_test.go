// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Newswire/services/newsdesk/datatypes"
	"github.com/AleutianAI/Newswire/services/newsdesk/storage/badger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func userMsg(content string) datatypes.Message {
	return datatypes.Message{Role: datatypes.RoleUser, Content: content}
}

func assistantMsg(content string) datatypes.Message {
	return datatypes.Message{Role: datatypes.RoleAssistant, Content: content}
}

func TestStore_AppendTurn_AssignsSequentialIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx)
	require.NoError(t, err)

	stored, err := store.AppendTurn(ctx, conv.ID, userMsg("what changed in DFW?"), assistantMsg("A lease [1]"))
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, int64(1), stored[0].ID)
	assert.Equal(t, int64(2), stored[1].ID)

	stored, err = store.AppendTurn(ctx, conv.ID, userMsg("and phoenix?"), assistantMsg("Nothing new"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored[0].ID)
	assert.Equal(t, int64(4), stored[1].ID)
}

func TestStore_AppendTurn_DerivesTitleOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx)
	require.NoError(t, err)

	_, err = store.AppendTurn(ctx, conv.ID, userMsg("  what   changed in   DFW this week?  "), assistantMsg("..."))
	require.NoError(t, err)

	got, _, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "what changed in DFW this week?", got.Title)

	_, err = store.AppendTurn(ctx, conv.ID, userMsg("different question"), assistantMsg("..."))
	require.NoError(t, err)
	got, _, err = store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "what changed in DFW this week?", got.Title, "title must not be overwritten")
}

func TestStore_AppendTurn_LongTitleTruncated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx)
	require.NoError(t, err)

	long := strings.Repeat("megawatt ", 30)
	_, err = store.AppendTurn(ctx, conv.ID, userMsg(long), assistantMsg("..."))
	require.NoError(t, err)

	got, _, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(got.Title)), maxTitleRunes+1)
}

func TestStore_AppendTurn_MissingConversation(t *testing.T) {
	store := newTestStore(t)

	_, err := store.AppendTurn(context.Background(), "no-such-id", userMsg("hi"))
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestStore_TruncateLastAssistantTurn verifies the regenerate contract:
// exactly one assistant message is removed, user messages are untouched,
// and the prior user message is resolved for re-answering.
func TestStore_TruncateLastAssistantTurn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx)
	require.NoError(t, err)
	_, err = store.AppendTurn(ctx, conv.ID, userMsg("q1"), assistantMsg("a1"))
	require.NoError(t, err)
	_, err = store.AppendTurn(ctx, conv.ID, userMsg("q2"), assistantMsg("a2"))
	require.NoError(t, err)

	prior, err := store.TruncateLastAssistantTurn(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, "q2", prior.Content)

	_, messages, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "q1", messages[0].Content)
	assert.Equal(t, "a1", messages[1].Content)
	assert.Equal(t, "q2", messages[2].Content)

	// Replacement lands with a fresh ID after the truncated one.
	stored, err := store.AppendTurn(ctx, conv.ID, assistantMsg("a2 regenerated"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), stored[0].ID)

	_, messages, err = store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 4)
}

func TestStore_TruncateLastAssistantTurn_NoAssistant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx)
	require.NoError(t, err)

	_, err = store.TruncateLastAssistantTurn(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNoAssistantMessage)
}

func TestStore_SetFeedback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx)
	require.NoError(t, err)
	stored, err := store.AppendTurn(ctx, conv.ID, userMsg("q"), assistantMsg("a"))
	require.NoError(t, err)

	require.NoError(t, store.SetFeedback(ctx, conv.ID, stored[1].ID, "up"))
	_, messages, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "up", messages[1].Rating)

	require.NoError(t, store.SetFeedback(ctx, conv.ID, stored[1].ID, "none"))
	_, messages, err = store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, messages[1].Rating)

	err = store.SetFeedback(ctx, conv.ID, stored[0].ID, "up")
	assert.Error(t, err, "user messages cannot be rated")
}

func TestStore_List_OrderedByUpdatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx)
	require.NoError(t, err)
	second, err := store.Create(ctx)
	require.NoError(t, err)

	// Touch the first conversation last so it sorts to the top.
	_, err = store.AppendTurn(ctx, second.ID, userMsg("q"), assistantMsg("a"))
	require.NoError(t, err)
	_, err = store.AppendTurn(ctx, first.ID, userMsg("q"), assistantMsg("a"))
	require.NoError(t, err)

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, first.ID, summaries[0].ID)
	assert.Equal(t, 2, summaries[0].MessageCount)
}

// TestStore_ConcurrentAppends verifies appends are serialized per
// conversation: no lost updates, no duplicate IDs.
func TestStore_ConcurrentAppends(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.AppendTurn(ctx, conv.ID,
				userMsg(fmt.Sprintf("q%d", n)),
				assistantMsg(fmt.Sprintf("a%d", n)),
			)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	_, messages, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, workers*2)

	seen := make(map[int64]bool)
	for _, m := range messages {
		assert.False(t, seen[m.ID], "duplicate message id %d", m.ID)
		seen[m.ID] = true
	}
}
